package repositories

import (
	"context"
	"time"

	"sautihub-sacco/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// MemberRepository handles member data access
type MemberRepository struct {
	db *gorm.DB
}

// NewMemberRepository creates a new member repository
func NewMemberRepository(db *gorm.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// Create creates a new member
func (r *MemberRepository) Create(ctx context.Context, member *models.Member) error {
	return r.db.WithContext(ctx).Create(member).Error
}

// GetByID gets a member by ID
func (r *MemberRepository) GetByID(ctx context.Context, id uint) (*models.Member, error) {
	var member models.Member
	err := r.db.WithContext(ctx).First(&member, id).Error
	return &member, err
}

// GetByMemberNo gets a member by member number
func (r *MemberRepository) GetByMemberNo(ctx context.Context, memberNo string) (*models.Member, error) {
	var member models.Member
	err := r.db.WithContext(ctx).Where("member_no = ?", memberNo).First(&member).Error
	return &member, err
}

// GetByUserRef gets a member by external identity reference
func (r *MemberRepository) GetByUserRef(ctx context.Context, userRef string) (*models.Member, error) {
	var member models.Member
	err := r.db.WithContext(ctx).Where("user_ref = ?", userRef).First(&member).Error
	return &member, err
}

// ExistsByUserRef reports whether a member exists for the identity reference
func (r *MemberRepository) ExistsByUserRef(ctx context.Context, userRef string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Member{}).Where("user_ref = ?", userRef).Count(&count).Error
	return count > 0, err
}

// Update updates a member
func (r *MemberRepository) Update(ctx context.Context, member *models.Member) error {
	return r.db.WithContext(ctx).Save(member).Error
}

// List lists members with pagination, optionally filtered by status
func (r *MemberRepository) List(ctx context.Context, status string, offset, limit int) ([]*models.Member, int64, error) {
	var members []*models.Member
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Member{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	query.Count(&total)

	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&members).Error

	return members, total, err
}

// ListActiveJoinedBefore lists active members whose membership started on or
// before the cutoff, used for dividend eligibility.
func (r *MemberRepository) ListActiveJoinedBefore(ctx context.Context, cutoff time.Time) ([]*models.Member, error) {
	var members []*models.Member
	err := r.db.WithContext(ctx).
		Where("status = ? AND joined_at IS NOT NULL AND joined_at <= ?", models.MemberStatusActive, cutoff).
		Order("id ASC").
		Find(&members).Error
	return members, err
}
