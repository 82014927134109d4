package reward

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloudbot/pkg/config"
	"cloudbot/pkg/featureflags"
	"cloudbot/pkg/taskname"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	enqueue func(t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	tasks   []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, t)
	if f.enqueue != nil {
		return f.enqueue(t, opts...)
	}
	return &asynq.TaskInfo{ID: "x", Queue: taskname.QueueCritical}, nil
}

func TestNewDistributeTask(t *testing.T) {
	task, opts, err := NewDistributeTask("2024-W20", "admin")
	require.NoError(t, err)
	require.Equal(t, taskname.RewardDistributeWeekly, task.Type())

	var payload DistributePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, DistributePayload{Cycle: "2024-W20", RequestedBy: "admin"}, payload)

	var taskID string
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			taskID = o.Value().(string)
		}
	}
	require.Equal(t, "reward:distribute_weekly:2024-W20", taskID)
}

func TestEnqueueDistribution_OncePerCycle(t *testing.T) {
	seen := map[string]bool{}
	enq := &fakeEnqueuer{enqueue: func(_ *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
		for _, o := range opts {
			if o.Type() == asynq.TaskIDOpt {
				id := o.Value().(string)
				if seen[id] {
					return nil, asynq.ErrTaskIDConflict
				}
				seen[id] = true
			}
		}
		return &asynq.TaskInfo{}, nil
	}}

	now := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)
	ok, err := EnqueueDistribution(context.Background(), enq, now, "scheduler")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = EnqueueDistribution(context.Background(), enq, now.Add(time.Hour), "admin")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = EnqueueDistribution(context.Background(), enq, now.AddDate(0, 0, 7), "scheduler")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSchedulerRespectsFlag(t *testing.T) {
	enq := &fakeEnqueuer{}
	cfg := &config.Config{}

	s := NewScheduler(SchedulerParams{Enqueuer: enq, Config: cfg, Flags: featureflags.Static{featureflags.WeeklyRewards: false}})
	s.enqueue(context.Background())
	require.Empty(t, enq.tasks)

	s = NewScheduler(SchedulerParams{Enqueuer: enq, Config: cfg})
	s.enqueue(context.Background())
	require.Len(t, enq.tasks, 1)
}

func TestHandleDistributeWeeklyTask_BadPayloadSkipsRetry(t *testing.T) {
	s := &Service{}
	err := s.HandleDistributeWeeklyTask(context.Background(), asynq.NewTask(taskname.RewardDistributeWeekly, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
