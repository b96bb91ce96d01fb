package services

import (
	"math"
	"time"

	"sautihub-sacco/internal/adapters/persistence/models"
)

// InstallmentPlan is one computed row of an amortization schedule, amounts
// in minor units.
type InstallmentPlan struct {
	Number    int       `json:"number"`
	DueDate   time.Time `json:"due_date"`
	Principal int64     `json:"principal"`
	Interest  int64     `json:"interest"`
	Total     int64     `json:"total"`
}

// LevelPayment computes the standard annuity payment P*r/(1-(1+r)^-n) for a
// monthly rate derived from the annual rate in basis points, rounded
// half-up to the nearest minor unit.
func LevelPayment(principal int64, annualRateBps, termMonths int) int64 {
	if termMonths <= 0 {
		return 0
	}
	if annualRateBps == 0 {
		return int64(math.Round(float64(principal) / float64(termMonths)))
	}
	r := monthlyRate(annualRateBps)
	pay := float64(principal) * r / (1 - math.Pow(1+r, -float64(termMonths)))
	return int64(math.Round(pay))
}

// CalculateSchedule computes a reducing-balance schedule: each period's
// interest is charged on the principal still outstanding, and the principal
// component is the level payment less that interest. The final installment
// absorbs rounding so the principal components sum exactly to the
// principal. Deterministic for (principal, rate, term, firstDue).
func CalculateSchedule(principal int64, annualRateBps, termMonths int, firstDue time.Time) []InstallmentPlan {
	if principal <= 0 || termMonths <= 0 {
		return nil
	}

	payment := LevelPayment(principal, annualRateBps, termMonths)
	r := monthlyRate(annualRateBps)

	plans := make([]InstallmentPlan, 0, termMonths)
	outstanding := principal
	for i := 1; i <= termMonths; i++ {
		interest := int64(math.Round(float64(outstanding) * r))
		principalDue := payment - interest
		if i == termMonths || principalDue > outstanding {
			principalDue = outstanding
		}
		plans = append(plans, InstallmentPlan{
			Number:    i,
			DueDate:   firstDue.AddDate(0, i-1, 0),
			Principal: principalDue,
			Interest:  interest,
			Total:     principalDue + interest,
		})
		outstanding -= principalDue
		if outstanding == 0 {
			break
		}
	}
	return plans
}

// TotalObligation sums the installment totals: the full amount the borrower
// will pay over the life of the schedule.
func TotalObligation(plans []InstallmentPlan) int64 {
	var sum int64
	for _, p := range plans {
		sum += p.Total
	}
	return sum
}

// buildInstallments converts a computed schedule into persistable rows.
func buildInstallments(loanID uint, plans []InstallmentPlan) []models.Installment {
	rows := make([]models.Installment, 0, len(plans))
	for _, p := range plans {
		rows = append(rows, models.Installment{
			LoanID:       loanID,
			Number:       p.Number,
			DueDate:      p.DueDate,
			PrincipalDue: p.Principal,
			InterestDue:  p.Interest,
			TotalDue:     p.Total,
			Status:       models.InstallmentStatusPending,
		})
	}
	return rows
}

func monthlyRate(annualRateBps int) float64 {
	return float64(annualRateBps) / 10000 / 12
}
