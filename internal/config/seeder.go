package config

import (
	"errors"
	"log"

	"sautihub-sacco/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// SeedMasterData seeds the loan product catalog and system pool accounts
func SeedMasterData(db *gorm.DB) error {
	if err := seedLoanProducts(db); err != nil {
		return err
	}
	if err := seedSystemAccounts(db); err != nil {
		return err
	}
	log.Println("Master data seeded")
	return nil
}

func seedLoanProducts(db *gorm.DB) error {
	products := []models.LoanProduct{
		{
			Code:              "NORMAL",
			Name:              "Normal Loan",
			Description:       "General purpose loan for active members",
			AnnualRateBps:     1200,
			MinAmount:         50_000_00,
			MaxAmount:         5_000_000_00,
			MinTermMonths:     3,
			MaxTermMonths:     48,
			ProcessingFeeBps:  100,
			InsuranceFeeBps:   50,
			RequiresGuarantor: true,
			MinGuarantors:     2,
			IsActive:          true,
		},
		{
			Code:              "EMERGENCY",
			Name:              "Emergency Loan",
			Description:       "Short-term emergency loan, capped at 100,000",
			AnnualRateBps:     1000,
			MinAmount:         5_000_00,
			MaxAmount:         100_000_00,
			MinTermMonths:     1,
			MaxTermMonths:     12,
			ProcessingFeeBps:  100,
			InsuranceFeeBps:   0,
			RequiresGuarantor: false,
			MinGuarantors:     0,
			IsActive:          true,
		},
		{
			Code:              "DEVELOPMENT",
			Name:              "Development Loan",
			Description:       "Long-term loan for members with extended savings history",
			AnnualRateBps:     1400,
			MinAmount:         500_000_00,
			MaxAmount:         10_000_000_00,
			MinTermMonths:     12,
			MaxTermMonths:     72,
			ProcessingFeeBps:  150,
			InsuranceFeeBps:   100,
			RequiresGuarantor: true,
			MinGuarantors:     3,
			IsActive:          true,
		},
	}

	for _, product := range products {
		var existing models.LoanProduct
		err := db.Where("code = ?", product.Code).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := db.Create(&product).Error; err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func seedSystemAccounts(db *gorm.DB) error {
	codes := []string{
		models.SystemAccountLoanPool,
		models.SystemAccountDividendPool,
	}

	for _, code := range codes {
		var existing models.Account
		err := db.Where("type = ? AND system_code = ?", models.AccountTypeSystem, code).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			account := models.Account{
				Type:       models.AccountTypeSystem,
				SystemCode: code,
				Currency:   "KES",
			}
			if err := db.Create(&account).Error; err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}
