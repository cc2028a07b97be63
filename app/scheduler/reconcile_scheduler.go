// Package scheduler
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/amirphl/Kusanagi/app/middleware"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Reconciler is the minimal interface extracted from the reconcile flow
// This keeps the scheduler independent and easy to test
type Reconciler interface {
	SweepExpired(ctx context.Context) (int64, error)
	RetryPendingEffects(ctx context.Context, limit int) (int, error)
}

// ReconcileScheduler periodically expires lapsed invoices and finishes
// settlement effects that a crash or a failed provider call left behind
type ReconcileScheduler struct {
	reconciler    Reconciler
	logger        *log.Logger
	sweepInterval time.Duration
	retryInterval time.Duration
	retryBatch    int
}

func NewReconcileScheduler(
	reconciler Reconciler,
	sweepInterval time.Duration,
	retryInterval time.Duration,
	retryBatch int,
) *ReconcileScheduler {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	if retryInterval <= 0 {
		retryInterval = 30 * time.Second
	}
	if retryBatch <= 0 {
		retryBatch = 50
	}

	s := &ReconcileScheduler{
		reconciler:    reconciler,
		sweepInterval: sweepInterval,
		retryInterval: retryInterval,
		retryBatch:    retryBatch,
	}

	// Initialize scheduler-specific logger (to stdout and a rotated file)
	if err := s.initSchedulerLogger(); err != nil {
		// Fallback to default stdout logger if file logger init fails
		s.logger = log.Default()
		s.logger.Printf("reconciler: failed to initialize file logger: %v", err)
	}

	return s
}

// initSchedulerLogger configures a logger that writes to both stdout and a size-rotated file under data/ (or /data)
func (s *ReconcileScheduler) initSchedulerLogger() error {
	// Prefer relative data/ then fallback to /data for containerized environments
	candidates := []string{
		filepath.Join("data"),
		"/data",
	}
	for _, dir := range candidates {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			continue
		}
		rotated := &lumberjack.Logger{
			Filename:   filepath.Join(dir, "reconciler.log"),
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		mw := io.MultiWriter(os.Stdout, rotated)
		// log.Logger is goroutine-safe; include timestamps with microseconds and UTC
		s.logger = log.New(mw, "reconciler ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
		return nil
	}
	return fmt.Errorf("could not create reconciler log directory in any candidate location")
}

// Start launches the sweep loops in background goroutines and returns a stop function
func (s *ReconcileScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	// Expiry sweep: pending invoices whose payment window lapsed
	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		s.sweepOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepOnce(ctx)
			}
		}
	}()

	// Effects retry: paid invoices whose ledger, order or notification markers are still unset
	go func() {
		ticker := time.NewTicker(s.retryInterval)
		defer ticker.Stop()

		s.retryOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.retryOnce(ctx)
			}
		}
	}()

	return cancel
}

func (s *ReconcileScheduler) sweepOnce(ctx context.Context) {
	count, err := s.reconciler.SweepExpired(ctx)
	if err != nil {
		s.logger.Printf("reconciler: expiry sweep failed: %v", err)
		return
	}
	if count > 0 {
		s.logger.Printf("reconciler: expired %d lapsed invoices", count)
		middleware.RecordExpiredInvoices(count)
	}
}

func (s *ReconcileScheduler) retryOnce(ctx context.Context) {
	completed, err := s.reconciler.RetryPendingEffects(ctx, s.retryBatch)
	if err != nil {
		s.logger.Printf("reconciler: effects retry failed: %v", err)
		return
	}
	if completed > 0 {
		s.logger.Printf("reconciler: completed effects for %d settled invoices", completed)
		middleware.RecordEffectsRetried(completed)
	}
}
