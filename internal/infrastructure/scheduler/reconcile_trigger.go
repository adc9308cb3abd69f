package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	app "github.com/vipm/backend/internal/application/fulfillment"
	"github.com/vipm/backend/internal/infrastructure/telemetry"
)

// MigrationReconciler advances the transfers of one product
type MigrationReconciler interface {
	StartPending(ctx context.Context, productID string) (*app.ReconcileReport, error)
	CheckRunning(ctx context.Context, productID string) (*app.ReconcileReport, error)
}

// ReconcileTriggerConfig holds configuration for the reconcile trigger
type ReconcileTriggerConfig struct {
	// Interval is how often every product is reconciled
	Interval time.Duration
	// ProductIDs are the products whose transfers are reconciled
	ProductIDs []string
	// RunOnStart runs one pass as soon as the trigger starts
	RunOnStart bool
	// PassTimeout bounds one pass over all products
	PassTimeout time.Duration
}

// ReconcileTrigger periodically starts pending transfers and checks
// running ones for each configured product
type ReconcileTrigger struct {
	config     ReconcileTriggerConfig
	reconciler MigrationReconciler
	logger     *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	passMu    sync.Mutex
	lastRunAt time.Time
}

// NewReconcileTrigger creates a new reconcile trigger
func NewReconcileTrigger(config ReconcileTriggerConfig, reconciler MigrationReconciler, logger *zap.Logger) (*ReconcileTrigger, error) {
	if config.Interval <= 0 {
		return nil, ErrInvalidConfig
	}
	if config.PassTimeout <= 0 {
		config.PassTimeout = config.Interval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileTrigger{
		config:     config,
		reconciler: reconciler,
		logger:     logger,
	}, nil
}

// Start starts the trigger
func (c *ReconcileTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Reconcile trigger started",
		zap.Duration("interval", c.config.Interval),
		zap.Strings("product_ids", c.config.ProductIDs),
	)
	return nil
}

// Stop stops the trigger and waits for a running pass
func (c *ReconcileTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Reconcile trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ReconcileTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	if c.config.RunOnStart {
		c.RunOnce(ctx)
	}

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce runs one pass: pending transfers are started before running
// ones are checked, product by product. Overlapping passes are skipped.
func (c *ReconcileTrigger) RunOnce(ctx context.Context) map[string]app.ReconcileReport {
	if !c.passMu.TryLock() {
		c.logger.Warn("Reconcile pass still running, skipping")
		return nil
	}
	defer c.passMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.config.PassTimeout)
	defer cancel()

	reports := make(map[string]app.ReconcileReport, len(c.config.ProductIDs))
	for _, productID := range c.config.ProductIDs {
		if ctx.Err() != nil {
			break
		}
		reports[productID] = c.reconcileProduct(ctx, productID)
	}
	c.lastRunAt = time.Now()
	return reports
}

func (c *ReconcileTrigger) reconcileProduct(ctx context.Context, productID string) (total app.ReconcileReport) {
	ctx, span := telemetry.StartSpan(ctx, "fulfillment.reconcile",
		telemetry.WithAttribute(telemetry.SpanAttrProductID, productID),
	)
	defer span.End()

	telemetry.WithProfilingLabels(ctx, map[string]string{
		telemetry.ProfilingLabelOperation: "reconcile",
		telemetry.ProfilingLabelProductID: productID,
	}, func(ctx context.Context) {
		total = c.runReconcile(ctx, productID)
	})
	telemetry.SetAttributes(span,
		"started", total.Started,
		"synchronized", total.Synchronized,
		"failed", total.Failed,
	)
	if total.Errors > 0 {
		telemetry.AddEvent(span, "reconcile_errors", "errors", total.Errors)
	}
	return total
}

func (c *ReconcileTrigger) runReconcile(ctx context.Context, productID string) app.ReconcileReport {
	var total app.ReconcileReport
	log := c.logger.With(zap.String("product_id", productID))

	started, err := c.reconciler.StartPending(ctx, productID)
	if err != nil {
		log.Error("Failed to start pending transfers", zap.Error(err))
		total.Errors++
	} else {
		total.Merge(*started)
	}

	checked, err := c.reconciler.CheckRunning(ctx, productID)
	if err != nil {
		log.Error("Failed to check running transfers", zap.Error(err))
		total.Errors++
	} else {
		total.Merge(*checked)
	}

	log.Info("Transfers reconciled",
		zap.Int("checked", total.Checked),
		zap.Int("started", total.Started),
		zap.Int("rescheduled", total.Rescheduled),
		zap.Int("still_running", total.StillRunning),
		zap.Int("synchronized", total.Synchronized),
		zap.Int("failed", total.Failed),
		zap.Int("errors", total.Errors),
	)
	return total
}

// LastRunAt returns when the last pass finished
func (c *ReconcileTrigger) LastRunAt() time.Time {
	c.passMu.Lock()
	defer c.passMu.Unlock()
	return c.lastRunAt
}
