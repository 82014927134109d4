package reward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloudbot/pkg/task"
	"cloudbot/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type DistributePayload struct {
	Cycle       string `json:"cycle"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// NewDistributeTask builds the weekly distribution task. The task id is
// derived from the cycle so a cycle is enqueued at most once.
func NewDistributeTask(cycle, requestedBy string) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(DistributePayload{Cycle: cycle, RequestedBy: requestedBy})
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("%s:%s", taskname.RewardDistributeWeekly, cycle)),
		asynq.Queue(taskname.QueueCritical),
		asynq.MaxRetry(5),
		asynq.Retention(Cycle + 24*time.Hour),
	}
	return asynq.NewTask(taskname.RewardDistributeWeekly, b), opts, nil
}

// EnqueueDistribution schedules the distribution for the cycle containing now.
// It reports false when that cycle was already enqueued.
func EnqueueDistribution(ctx context.Context, enq task.Enqueuer, now time.Time, requestedBy string) (bool, error) {
	t, opts, err := NewDistributeTask(CycleLabel(now), requestedBy)
	if err != nil {
		return false, err
	}
	if _, err := enq.Enqueue(ctx, t, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Service) HandleDistributeWeeklyTask(ctx context.Context, t *asynq.Task) error {
	var payload DistributePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	log := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("cycle", payload.Cycle),
		zap.String("requested_by", payload.RequestedBy),
	)
	log.Info("start weekly reward distribution")

	result, err := s.DistributeWeekly(ctx)
	if result != nil && t.ResultWriter() != nil {
		if b, mErr := json.Marshal(result); mErr == nil {
			if _, wErr := t.ResultWriter().Write(b); wErr != nil {
				log.Warn("failed to write task result", zap.Error(wErr))
			}
		}
	}
	if err != nil {
		log.Error("weekly reward distribution incomplete", zap.Error(err))
		return err
	}

	log.Info("weekly reward distribution finished", zap.Int("assigned", len(result.Assigned)))
	return nil
}
