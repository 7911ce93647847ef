package engine

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"finops-api/internal/repository"
)

// MaintenanceScheduler runs the background sweeps: transactions stuck in
// processing past the processor timeout are failed with a timeout reason
// so nothing stays pending forever.
type MaintenanceScheduler struct {
	transactionRepo  repository.TransactionRepository
	processingExpiry time.Duration
	cron             *cron.Cron
	logger           *logrus.Logger
}

func NewMaintenanceScheduler(
	transactionRepo repository.TransactionRepository,
	processingExpiry time.Duration,
	logger *logrus.Logger,
) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		transactionRepo:  transactionRepo,
		processingExpiry: processingExpiry,
		cron:             cron.New(),
		logger:           logger,
	}
}

// Start registers the sweeps and starts the scheduler.
func (s *MaintenanceScheduler) Start() error {
	if _, err := s.cron.AddFunc("* * * * *", s.expireStaleProcessing); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("maintenance scheduler started")
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *MaintenanceScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("maintenance scheduler stopped")
}

func (s *MaintenanceScheduler) expireStaleProcessing() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.processingExpiry)
	expired, err := s.transactionRepo.ExpireStaleProcessing(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("stale transaction sweep failed")
		return
	}

	if expired > 0 {
		s.logger.WithField("expired", expired).Warn("expired stale processing transactions")
	}
}
