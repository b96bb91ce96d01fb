package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"sautihub-sacco/internal/adapters/persistence/models"
	"sautihub-sacco/internal/pkg/money"
)

// NotificationService pushes member-facing events to the platform's
// notification webhook. Delivery is best-effort: failures are logged and
// never block the operation that triggered them.
type NotificationService struct {
	webhookURL string
	client     *http.Client
}

// NewNotificationService creates a new notification service
func NewNotificationService(webhookURL string) *NotificationService {
	return &NotificationService{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type notificationPayload struct {
	Event    string                 `json:"event"`
	MemberID uint                   `json:"member_id,omitempty"`
	Message  string                 `json:"message"`
	Data     map[string]interface{} `json:"data,omitempty"`
	SentAt   time.Time              `json:"sent_at"`
}

// MemberApproved notifies a member their application was approved
func (s *NotificationService) MemberApproved(member *models.Member) {
	s.send(notificationPayload{
		Event:    "member.approved",
		MemberID: member.ID,
		Message:  fmt.Sprintf("Welcome to SautiHub SACCO. Your member number is %s.", member.MemberNo),
	})
}

// LoanApproved notifies a member their loan was approved
func (s *NotificationService) LoanApproved(loan *models.Loan) {
	s.send(notificationPayload{
		Event:    "loan.approved",
		MemberID: loan.MemberID,
		Message:  "Your loan application has been approved.",
		Data:     map[string]interface{}{"loan_id": loan.ID, "principal": loan.Principal},
	})
}

// LoanRejected notifies a member their loan was rejected
func (s *NotificationService) LoanRejected(loan *models.Loan, reason string) {
	s.send(notificationPayload{
		Event:    "loan.rejected",
		MemberID: loan.MemberID,
		Message:  "Your loan application was not approved.",
		Data:     map[string]interface{}{"loan_id": loan.ID, "reason": reason},
	})
}

// LoanDisbursed notifies a member their loan funds were released
func (s *NotificationService) LoanDisbursed(loan *models.Loan, net int64) {
	s.send(notificationPayload{
		Event:    "loan.disbursed",
		MemberID: loan.MemberID,
		Message:  fmt.Sprintf("Your loan of %s has been disbursed to your savings account.", money.Format(net)),
		Data:     map[string]interface{}{"loan_id": loan.ID, "net_amount": net},
	})
}

// LoanClosed notifies a member their loan is fully repaid
func (s *NotificationService) LoanClosed(loan *models.Loan) {
	s.send(notificationPayload{
		Event:    "loan.closed",
		MemberID: loan.MemberID,
		Message:  "Congratulations, your loan is fully repaid.",
		Data:     map[string]interface{}{"loan_id": loan.ID},
	})
}

// LoanOverdue warns a member an installment is past due
func (s *NotificationService) LoanOverdue(loan *models.Loan, inst *models.Installment) {
	s.send(notificationPayload{
		Event:    "loan.overdue",
		MemberID: loan.MemberID,
		Message:  fmt.Sprintf("Installment of %s is past due. Please make a payment to avoid penalties.", money.Format(inst.TotalDue-inst.PaidAmount)),
		Data: map[string]interface{}{
			"loan_id":  loan.ID,
			"number":   inst.Number,
			"due_date": inst.DueDate,
			"amount":   inst.TotalDue - inst.PaidAmount,
		},
	})
}

// LoanDefaulted notifies a member their loan has been marked defaulted
func (s *NotificationService) LoanDefaulted(loan *models.Loan) {
	s.send(notificationPayload{
		Event:    "loan.defaulted",
		MemberID: loan.MemberID,
		Message:  "Your loan has been marked as defaulted. Contact the SACCO office.",
		Data:     map[string]interface{}{"loan_id": loan.ID, "outstanding": loan.Outstanding},
	})
}

// DividendPaid notifies a member their dividend hit their savings
func (s *NotificationService) DividendPaid(memberID uint, year int, net int64) {
	s.send(notificationPayload{
		Event:    "dividend.paid",
		MemberID: memberID,
		Message:  fmt.Sprintf("Your %d dividend of %s has been credited to your savings.", year, money.Format(net)),
		Data:     map[string]interface{}{"year": year, "net": net},
	})
}

func (s *NotificationService) send(payload notificationPayload) {
	if s == nil || s.webhookURL == "" {
		return
	}
	payload.SentAt = time.Now()

	go func() {
		body, err := json.Marshal(payload)
		if err != nil {
			log.Printf("notification: marshal %s: %v", payload.Event, err)
			return
		}
		resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Printf("notification: send %s: %v", payload.Event, err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Printf("notification: webhook returned %d for %s", resp.StatusCode, payload.Event)
		}
	}()
}
