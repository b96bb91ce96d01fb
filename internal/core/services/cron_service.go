package services

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// CronService runs the engine's recurring jobs: overdue and default
// sweeps, due dividend payouts and pending payment reconciliation. Every
// sweep is idempotent so an overlapping or repeated run is harmless.
type CronService struct {
	cron        *cron.Cron
	loanSvc     *LoanService
	dividendSvc *DividendService
	paymentSvc  *PaymentService
}

// NewCronService creates a new cron service
func NewCronService(loanSvc *LoanService, dividendSvc *DividendService, paymentSvc *PaymentService) *CronService {
	return &CronService{
		cron:        cron.New(),
		loanSvc:     loanSvc,
		dividendSvc: dividendSvc,
		paymentSvc:  paymentSvc,
	}
}

// Start registers and starts all scheduled jobs
func (s *CronService) Start() error {
	// Daily at 01:00: flag loans with installments past the grace period.
	if _, err := s.cron.AddFunc("0 1 * * *", s.runOverdueSweep); err != nil {
		return err
	}
	// Daily at 01:30: move long-overdue loans to defaulted.
	if _, err := s.cron.AddFunc("30 1 * * *", s.runDefaultSweep); err != nil {
		return err
	}
	// Daily at 02:00: pay out declared dividends whose date has arrived.
	if _, err := s.cron.AddFunc("0 2 * * *", s.runDividendPayouts); err != nil {
		return err
	}
	// Every 10 minutes: settle provider payments that lost their callback.
	if _, err := s.cron.AddFunc("*/10 * * * *", s.runReconciliation); err != nil {
		return err
	}

	s.cron.Start()
	log.Println("Cron scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *CronService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("Cron scheduler stopped")
}

func (s *CronService) runOverdueSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	flagged, err := s.loanSvc.CheckOverdue(ctx)
	if err != nil {
		log.Printf("Cron: overdue sweep failed: %v", err)
		return
	}
	if flagged > 0 {
		log.Printf("Cron: flagged %d loans overdue", flagged)
	}
}

func (s *CronService) runDefaultSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	flagged, err := s.loanSvc.CheckDefault(ctx)
	if err != nil {
		log.Printf("Cron: default sweep failed: %v", err)
		return
	}
	if flagged > 0 {
		log.Printf("Cron: marked %d loans defaulted", flagged)
	}
}

func (s *CronService) runDividendPayouts() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := s.dividendSvc.RunDuePayouts(ctx); err != nil {
		log.Printf("Cron: dividend payout run failed: %v", err)
	}
}

func (s *CronService) runReconciliation() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	settled, err := s.paymentSvc.ReconcilePending(ctx)
	if err != nil {
		log.Printf("Cron: payment reconciliation failed: %v", err)
		return
	}
	if settled > 0 {
		log.Printf("Cron: reconciled %d stale payments", settled)
	}
}
