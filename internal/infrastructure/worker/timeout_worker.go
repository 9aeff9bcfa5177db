package worker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wmstack/workflow-engine/internal/application/port"
	"github.com/wmstack/workflow-engine/internal/application/service"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
	"go.uber.org/zap"
)

// timeoutActor identifies step-timeout mutations in the transition log
const timeoutActor = "system:timeout"

// TimeoutWorker enforces step-level timeout policies. The engine core exposes
// no timer: this worker is an external caller that polls open step instances
// whose timeout elapsed and applies the step's timeout_action through the
// same lifecycle operations any caller would use.
type TimeoutWorker struct {
	instances     *service.InstanceService
	stepInstances port.StepInstanceRepository
	interval      time.Duration
	batchSize     int
	logger        *zap.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// NewTimeoutWorker creates a timeout worker polling at the given interval
func NewTimeoutWorker(
	instances *service.InstanceService,
	stepInstances port.StepInstanceRepository,
	interval time.Duration,
	batchSize int,
	logger *zap.Logger,
) *TimeoutWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &TimeoutWorker{
		instances:     instances,
		stepInstances: stepInstances,
		interval:      interval,
		batchSize:     batchSize,
		logger:        logger,
		done:          make(chan struct{}),
	}
}

// Name implements Worker
func (w *TimeoutWorker) Name() string {
	return "workflow-timeout"
}

// Start implements Worker
func (w *TimeoutWorker) Start(ctx context.Context) error {
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop implements Worker
func (w *TimeoutWorker) Stop() error {
	close(w.done)
	w.wg.Wait()
	return nil
}

func (w *TimeoutWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep processes one batch of timed-out step instances. Failures on
// individual instances are logged and skipped; the next sweep retries them.
func (w *TimeoutWorker) Sweep(ctx context.Context) {
	timedOut, err := w.stepInstances.ListTimedOut(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("Failed to list timed out step instances", zap.Error(err))
		return
	}

	for _, item := range timedOut {
		if err := w.apply(ctx, item); err != nil {
			w.logger.Warn("Failed to apply timeout action",
				zap.Int64("instance_id", item.StepInstance.InstanceID),
				zap.String("step_code", item.StepInstance.StepCode),
				zap.String("timeout_action", item.TimeoutAction),
				zap.Error(err))
		}
	}
}

func (w *TimeoutWorker) apply(ctx context.Context, item *entity.TimedOutStepInstance) error {
	instanceID := item.StepInstance.InstanceID
	reason := "step " + item.StepInstance.StepCode + " timed out"

	switch {
	case item.TimeoutAction == entity.TimeoutActionCancel:
		_, err := w.instances.Cancel(ctx, instanceID, reason, timeoutActor)
		return err

	case strings.HasPrefix(item.TimeoutAction, entity.TimeoutActionSkipPrefix):
		target := strings.TrimPrefix(item.TimeoutAction, entity.TimeoutActionSkipPrefix)
		_, _, err := w.instances.Transition(ctx, service.TransitionInput{
			InstanceID:     instanceID,
			ToStepCode:     target,
			TransitionType: entity.TransitionTypeSkip,
			Reason:         reason,
		}, timeoutActor)
		return err

	default:
		// Unknown actions are rejected at definition creation; log and move on.
		w.logger.Warn("Skipping step instance with unknown timeout action",
			zap.Int64("step_instance_id", item.StepInstance.ID),
			zap.String("timeout_action", item.TimeoutAction))
		return nil
	}
}
