package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	app "github.com/vipm/backend/internal/application/fulfillment"
)

type fakeReconciler struct {
	mu       sync.Mutex
	calls    []string
	startErr error
	hold     chan struct{}
}

func (r *fakeReconciler) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *fakeReconciler) callLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *fakeReconciler) StartPending(ctx context.Context, productID string) (*app.ReconcileReport, error) {
	r.record("start:" + productID)
	if r.hold != nil {
		<-r.hold
	}
	if r.startErr != nil {
		return nil, r.startErr
	}
	return &app.ReconcileReport{Checked: 2, Started: 1, Failed: 1}, nil
}

func (r *fakeReconciler) CheckRunning(ctx context.Context, productID string) (*app.ReconcileReport, error) {
	r.record("check:" + productID)
	return &app.ReconcileReport{Checked: 3, StillRunning: 1, Synchronized: 2}, nil
}

func TestNewReconcileTrigger_InvalidInterval(t *testing.T) {
	trigger, err := NewReconcileTrigger(ReconcileTriggerConfig{}, &fakeReconciler{}, nil)

	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Nil(t, trigger)
}

func TestReconcileTrigger_RunOnce(t *testing.T) {
	t.Run("starts then checks every product", func(t *testing.T) {
		rec := &fakeReconciler{}
		trigger, err := NewReconcileTrigger(ReconcileTriggerConfig{
			Interval:   time.Hour,
			ProductIDs: []string{"PRD-1", "PRD-2"},
		}, rec, zaptest.NewLogger(t))
		require.NoError(t, err)

		reports := trigger.RunOnce(context.Background())

		assert.Equal(t, []string{"start:PRD-1", "check:PRD-1", "start:PRD-2", "check:PRD-2"}, rec.callLog())
		require.Len(t, reports, 2)
		assert.Equal(t, app.ReconcileReport{
			Checked:      5,
			Started:      1,
			StillRunning: 1,
			Synchronized: 2,
			Failed:       1,
		}, reports["PRD-1"])
		assert.False(t, trigger.LastRunAt().IsZero())
	})

	t.Run("a failing start still checks running transfers", func(t *testing.T) {
		rec := &fakeReconciler{startErr: errors.New("db down")}
		trigger, err := NewReconcileTrigger(ReconcileTriggerConfig{
			Interval:   time.Hour,
			ProductIDs: []string{"PRD-1"},
		}, rec, zaptest.NewLogger(t))
		require.NoError(t, err)

		reports := trigger.RunOnce(context.Background())

		assert.Equal(t, []string{"start:PRD-1", "check:PRD-1"}, rec.callLog())
		assert.Equal(t, 1, reports["PRD-1"].Errors)
		assert.Equal(t, 2, reports["PRD-1"].Synchronized)
	})

	t.Run("overlapping passes are skipped", func(t *testing.T) {
		rec := &fakeReconciler{hold: make(chan struct{})}
		trigger, err := NewReconcileTrigger(ReconcileTriggerConfig{
			Interval:   time.Hour,
			ProductIDs: []string{"PRD-1"},
		}, rec, zaptest.NewLogger(t))
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			defer close(done)
			trigger.RunOnce(context.Background())
		}()
		require.Eventually(t, func() bool { return len(rec.callLog()) == 1 }, time.Second, time.Millisecond)

		assert.Nil(t, trigger.RunOnce(context.Background()))

		close(rec.hold)
		<-done
	})
}

func TestReconcileTrigger_StartRunsOnInterval(t *testing.T) {
	rec := &fakeReconciler{}
	trigger, err := NewReconcileTrigger(ReconcileTriggerConfig{
		Interval:   10 * time.Millisecond,
		ProductIDs: []string{"PRD-1"},
		RunOnStart: true,
	}, rec, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, trigger.Start(ctx))
	require.NoError(t, trigger.Start(ctx))

	require.Eventually(t, func() bool { return len(rec.callLog()) >= 4 }, 2*time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, trigger.Stop(stopCtx))
	require.NoError(t, trigger.Stop(stopCtx))
}
