package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	app "github.com/vipm/backend/internal/application/fulfillment"
	"github.com/vipm/backend/internal/domain/fulfillment"
	"github.com/vipm/backend/internal/infrastructure/logger"
	"github.com/vipm/backend/internal/infrastructure/telemetry"
)

// ---------------------------------------------------------------------------
// Fulfillment Job Types
// ---------------------------------------------------------------------------

// FulfillmentJobStatus represents the status of a fulfillment job
type FulfillmentJobStatus string

const (
	FulfillmentJobStatusQueued  FulfillmentJobStatus = "QUEUED"
	FulfillmentJobStatusRunning FulfillmentJobStatus = "RUNNING"
	// FulfillmentJobStatusWaiting means the order is pending at the vendor
	// and the job is parked until its next poll
	FulfillmentJobStatusWaiting FulfillmentJobStatus = "WAITING"
	FulfillmentJobStatusDone    FulfillmentJobStatus = "DONE"
	FulfillmentJobStatusFailed  FulfillmentJobStatus = "FAILED"
)

// FulfillmentJob drives one platform order until its outcome is final
type FulfillmentJob struct {
	ID          uuid.UUID
	OrderID     string
	Status      FulfillmentJobStatus
	Outcome     app.Outcome
	Reason      string
	Error       string
	Runs        int
	Polls       int
	RetryCount  int
	MaxRetries  int
	SubmittedAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	NextRunAt   *time.Time
}

// NewFulfillmentJob creates a queued job for an order
func NewFulfillmentJob(orderID string, maxRetries int) *FulfillmentJob {
	return &FulfillmentJob{
		ID:          uuid.New(),
		OrderID:     orderID,
		Status:      FulfillmentJobStatusQueued,
		MaxRetries:  maxRetries,
		SubmittedAt: time.Now(),
	}
}

// Start marks the job as running
func (j *FulfillmentJob) Start() {
	now := time.Now()
	j.Runs++
	j.Status = FulfillmentJobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Finish records a final outcome
func (j *FulfillmentJob) Finish(result app.Result) {
	now := time.Now()
	j.Status = FulfillmentJobStatusDone
	j.Outcome = result.Outcome
	j.Reason = result.Reason
	j.CompletedAt = &now
	j.NextRunAt = nil
}

// Fail marks the job as failed
func (j *FulfillmentJob) Fail(err string) {
	now := time.Now()
	j.Status = FulfillmentJobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// ShouldRetry returns true if a failed run may be retried
func (j *FulfillmentJob) ShouldRetry() bool {
	return j.Status == FulfillmentJobStatusFailed && j.RetryCount < j.MaxRetries
}

// Wait parks a job whose order is pending until the next poll
func (j *FulfillmentJob) Wait(result app.Result, delay time.Duration) {
	j.Polls++
	j.Status = FulfillmentJobStatusWaiting
	j.Outcome = result.Outcome
	j.Reason = result.Reason
	next := time.Now().Add(delay)
	j.NextRunAt = &next
}

// ScheduleRetry parks a failed job until its next attempt
func (j *FulfillmentJob) ScheduleRetry(delay time.Duration) {
	j.RetryCount++
	j.Status = FulfillmentJobStatusWaiting
	next := time.Now().Add(delay)
	j.NextRunAt = &next
	j.CompletedAt = nil
}

// IsActive returns true while the job may still run
func (j *FulfillmentJob) IsActive() bool {
	return j.Status != FulfillmentJobStatusDone && j.Status != FulfillmentJobStatusFailed
}

// Backoff returns base * 2^(n-1) capped at limit, for n >= 1
func Backoff(base, limit time.Duration, n int) time.Duration {
	delay := base
	for i := 1; i < n && delay < limit; i++ {
		delay *= 2
	}
	return min(delay, limit)
}

// ---------------------------------------------------------------------------
// OrderFulfiller Interface
// ---------------------------------------------------------------------------

// OrderFulfiller runs one fulfillment invocation for an order
type OrderFulfiller interface {
	FulfillByID(ctx context.Context, orderID string) (app.Result, error)
}

// ---------------------------------------------------------------------------
// FulfillmentSchedulerConfig
// ---------------------------------------------------------------------------

// FulfillmentSchedulerConfig holds configuration for the fulfillment scheduler
type FulfillmentSchedulerConfig struct {
	// Workers is the number of orders fulfilled concurrently
	Workers int
	// QueueSize bounds the number of queued jobs
	QueueSize int
	// JobTimeout is the maximum time one invocation can run
	JobTimeout time.Duration
	// PollInterval is the first delay before polling a pending order again
	PollInterval time.Duration
	// PollBackoffMax caps the delay between polls
	PollBackoffMax time.Duration
	// RetryAttempts is the number of retries after an invocation error
	RetryAttempts int
	// HistorySize is how many finished jobs are kept for monitoring
	HistorySize int
}

// DefaultFulfillmentSchedulerConfig returns default configuration
func DefaultFulfillmentSchedulerConfig() FulfillmentSchedulerConfig {
	return FulfillmentSchedulerConfig{
		Workers:        4,
		QueueSize:      256,
		JobTimeout:     2 * time.Minute,
		PollInterval:   time.Minute,
		PollBackoffMax: 30 * time.Minute,
		RetryAttempts:  3,
		HistorySize:    100,
	}
}

// Validate validates the configuration
func (c *FulfillmentSchedulerConfig) Validate() error {
	if c.Workers <= 0 || c.QueueSize <= 0 {
		return ErrInvalidConfig
	}
	if c.JobTimeout <= 0 || c.PollInterval <= 0 {
		return ErrInvalidConfig
	}
	if c.PollBackoffMax < c.PollInterval {
		return ErrInvalidConfig
	}
	if c.RetryAttempts < 0 || c.HistorySize < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// FulfillmentScheduler
// ---------------------------------------------------------------------------

// FulfillmentScheduler fulfills platform orders on a worker pool. Orders
// left pending are polled again with exponential backoff until their
// outcome is final. At most one job per order is active at a time.
type FulfillmentScheduler struct {
	config    FulfillmentSchedulerConfig
	fulfiller OrderFulfiller
	logger    *zap.Logger

	jobs      chan *FulfillmentJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	active    map[string]*FulfillmentJob
	timers    map[uuid.UUID]*time.Timer

	historyMu sync.RWMutex
	history   []*FulfillmentJob
}

// NewFulfillmentScheduler creates a new fulfillment scheduler
func NewFulfillmentScheduler(config FulfillmentSchedulerConfig, fulfiller OrderFulfiller, logger *zap.Logger) (*FulfillmentScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FulfillmentScheduler{
		config:    config,
		fulfiller: fulfiller,
		logger:    logger,
		jobs:      make(chan *FulfillmentJob, config.QueueSize),
		active:    make(map[string]*FulfillmentJob),
		timers:    make(map[uuid.UUID]*time.Timer),
		history:   make([]*FulfillmentJob, 0, config.HistorySize),
	}, nil
}

// Start starts the scheduler
func (s *FulfillmentScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("Fulfillment scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Duration("job_timeout", s.config.JobTimeout),
		zap.Duration("poll_interval", s.config.PollInterval),
	)
	return nil
}

// Stop gracefully stops the scheduler. Parked jobs are dropped; their
// orders are picked up again by the next webhook or CLI run.
func (s *FulfillmentScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.active = make(map[string]*FulfillmentJob)
	close(s.jobs)
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Fulfillment scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Fulfillment scheduler stop timed out")
		return ctx.Err()
	}
}

// SubmitOrder queues an order for fulfillment. When a job for the order is
// already active it is returned instead and no new job is queued.
func (s *FulfillmentScheduler) SubmitOrder(orderID string) (*FulfillmentJob, bool, error) {
	if orderID == "" {
		return nil, false, ErrEmptyOrderID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil, false, ErrSchedulerNotRunning
	}
	if existing, ok := s.active[orderID]; ok {
		return existing, false, nil
	}

	job := NewFulfillmentJob(orderID, s.config.RetryAttempts)
	select {
	case s.jobs <- job:
		s.active[orderID] = job
		s.logger.Debug("Fulfillment job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("order_id", orderID),
		)
		return job, true, nil
	default:
		return nil, false, ErrJobQueueFull
	}
}

// ActiveJob returns the active job of an order, if any
func (s *FulfillmentScheduler) ActiveJob(orderID string) (*FulfillmentJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.active[orderID]
	return job, ok
}

// IsActive reports whether a job for the order is queued, running or
// parked
func (s *FulfillmentScheduler) IsActive(orderID string) bool {
	_, ok := s.ActiveJob(orderID)
	return ok
}

func (s *FulfillmentScheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	s.logger.Debug("Fulfillment worker started", zap.Int("worker_id", workerID))

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Fulfillment worker stopping", zap.Int("worker_id", workerID))
			return
		case job, ok := <-s.jobs:
			if !ok {
				return
			}
			s.processJob(ctx, job, workerID)
		}
	}
}

func (s *FulfillmentScheduler) processJob(ctx context.Context, job *FulfillmentJob, workerID int) {
	job.Start()
	log := s.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("order_id", job.OrderID),
	)
	log.Debug("Processing fulfillment job", zap.Int("run", job.Runs))

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()
	jobCtx, _ = logger.WithOrderID(jobCtx, s.logger, job.OrderID)
	jobCtx, span := telemetry.StartSpan(jobCtx, "fulfillment.job",
		telemetry.WithAttribute(telemetry.SpanAttrJobID, job.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrOrderID, job.OrderID),
		telemetry.WithAttribute(telemetry.SpanAttrAttempt, job.Runs),
		telemetry.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	var (
		result app.Result
		err    error
	)
	telemetry.WithProfilingLabels(jobCtx, map[string]string{
		telemetry.ProfilingLabelOperation: "fulfill",
	}, func(ctx context.Context) {
		result, err = s.fulfiller.FulfillByID(ctx, job.OrderID)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		job.Fail(err.Error())
		log.Error("Fulfillment job failed", zap.Error(err))

		if job.ShouldRetry() && isRetryable(err) {
			delay := Backoff(s.config.PollInterval, s.config.PollBackoffMax, job.RetryCount+1)
			job.ScheduleRetry(delay)
			log.Info("Fulfillment job scheduled for retry",
				zap.Int("retry_count", job.RetryCount),
				zap.Int("max_retries", job.MaxRetries),
				zap.Duration("delay", delay),
			)
			s.park(job, delay)
			return
		}
		s.release(job)
		return
	}

	if result.Outcome == app.OutcomePending {
		delay := Backoff(s.config.PollInterval, s.config.PollBackoffMax, job.Polls+1)
		job.Wait(result, delay)
		log.Debug("Order pending at vendor, polling later",
			zap.Int("polls", job.Polls),
			zap.Duration("delay", delay),
		)
		s.park(job, delay)
		return
	}

	telemetry.SetAttributes(span,
		telemetry.SpanAttrOrderType, string(result.OrderType),
		telemetry.SpanAttrOutcome, string(result.Outcome),
	)
	job.Finish(result)
	log.Info("Fulfillment job completed",
		zap.String("outcome", string(result.Outcome)),
		zap.String("reason", result.Reason),
	)
	s.release(job)
}

// isRetryable reports whether a failed invocation may succeed later
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || fulfillment.IsTransient(err)
}

// park re-queues a job after delay
func (s *FulfillmentScheduler) park(job *FulfillmentJob, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		delete(s.active, job.OrderID)
		return
	}
	s.timers[job.ID] = time.AfterFunc(delay, func() {
		s.requeue(job)
	})
}

func (s *FulfillmentScheduler) requeue(job *FulfillmentJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, job.ID)
	if !s.isRunning {
		return
	}
	job.Status = FulfillmentJobStatusQueued
	select {
	case s.jobs <- job:
	default:
		job.Fail(ErrJobQueueFull.Error())
		delete(s.active, job.OrderID)
		s.logger.Warn("Failed to re-queue fulfillment job",
			zap.String("job_id", job.ID.String()),
			zap.String("order_id", job.OrderID),
		)
		s.addToHistory(job)
	}
}

// release ends the job's activity and records it
func (s *FulfillmentScheduler) release(job *FulfillmentJob) {
	s.mu.Lock()
	if s.active[job.OrderID] == job {
		delete(s.active, job.OrderID)
	}
	s.mu.Unlock()
	s.addToHistory(job)
}

func (s *FulfillmentScheduler) addToHistory(job *FulfillmentJob) {
	if s.config.HistorySize == 0 {
		return
	}
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history = append([]*FulfillmentJob{job}, s.history...)
	if len(s.history) > s.config.HistorySize {
		s.history = s.history[:s.config.HistorySize]
	}
}

// GetJobHistory returns recent finished jobs, newest first
func (s *FulfillmentScheduler) GetJobHistory(limit int) []*FulfillmentJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]*FulfillmentJob, limit)
	copy(result, s.history[:limit])
	return result
}
