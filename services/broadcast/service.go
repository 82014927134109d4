package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloudbot/pkg/config"
	"cloudbot/pkg/errutil"
	"cloudbot/pkg/featureflags"
	"cloudbot/pkg/task"
	"cloudbot/pkg/taskname"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// DefaultTimeout bounds one broadcast run. Without it asynq stops the
// handler after 30 minutes.
const DefaultTimeout = 48 * time.Hour

var (
	ErrEmptyMessage = errors.New("broadcast message is empty")
	ErrPaused       = errors.New("broadcasts are paused")
)

type DispatchPayload struct {
	BroadcastID string `json:"broadcast_id"`
	Message     string `json:"message"`
	RequestedBy string `json:"requested_by,omitempty"`
}

type Enqueued struct {
	ID    string    `json:"id"`
	Queue string    `json:"queue"`
	State string    `json:"state"`
	At    time.Time `json:"enqueued_at"`
}

type Service struct {
	enqueuer   task.Enqueuer
	canceler   task.Canceler
	dispatcher *Dispatcher
	sender     Sender
	flags      featureflags.FeatureFlag
	node       *snowflake.Node
	queue      string
	timeout    time.Duration
	now        func() time.Time
}

type ServiceParams struct {
	fx.In
	Config     *config.Config
	Enqueuer   task.Enqueuer `optional:"true"`
	Canceler   task.Canceler `optional:"true"`
	Recipients Recipients
	Sender     Sender
	Flags      featureflags.FeatureFlag `optional:"true"`
	Node       *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	queue := p.Config.Broadcast.Queue
	if queue == "" {
		queue = taskname.QueueLow
	}
	timeout := p.Config.Broadcast.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	flags := p.Flags
	if flags == nil {
		flags = featureflags.Static{}
	}
	dispatcher := NewDispatcher(p.Recipients, p.Sender, Options{
		PageSize:      p.Config.Broadcast.PageSize,
		Interval:      p.Config.Broadcast.Interval,
		ProgressEvery: p.Config.Broadcast.ProgressEvery,
		FetchBackoff:  time.Second,
	})
	return &Service{
		enqueuer:   p.Enqueuer,
		canceler:   p.Canceler,
		dispatcher: dispatcher,
		sender:     p.Sender,
		flags:      flags,
		node:       p.Node,
		queue:      queue,
		timeout:    timeout,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue queues a broadcast for the worker. The returned id doubles as the
// asynq task id and is what Cancel expects.
func (s *Service) Enqueue(ctx context.Context, message, requestedBy string) (*Enqueued, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errutil.BadRequest("message is required", ErrEmptyMessage)
	}
	if !s.flags.Enabled(ctx, featureflags.Broadcast, true) {
		return nil, errutil.Forbidden(ErrPaused.Error(), ErrPaused)
	}
	if s.enqueuer == nil {
		return nil, errutil.New(errutil.StatusNotImplemented, "task queue is not configured")
	}

	id := s.node.Generate().String()
	b, err := json.Marshal(DispatchPayload{BroadcastID: id, Message: message, RequestedBy: requestedBy})
	if err != nil {
		return nil, errutil.Internal("failed to encode broadcast", err)
	}

	info, err := s.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.BroadcastDispatch, b),
		asynq.TaskID(id),
		asynq.Queue(s.queue),
		asynq.MaxRetry(0),
		asynq.Timeout(s.timeout),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		zap.L().Error("failed to enqueue broadcast", zap.String("broadcast_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to enqueue broadcast", err)
	}

	zap.L().Info("broadcast enqueued",
		zap.String("broadcast_id", id),
		zap.String("requested_by", requestedBy),
		zap.Int("length", len(message)),
	)
	return &Enqueued{ID: info.ID, Queue: info.Queue, State: info.State.String(), At: s.now()}, nil
}

// Cancel removes a broadcast that has not been picked up yet.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if s.canceler == nil {
		return errutil.New(errutil.StatusNotImplemented, "task queue is not configured")
	}
	err := s.canceler.CancelPending(s.queue, id)
	switch {
	case err == nil:
		zap.L().Info("broadcast cancelled", zap.String("broadcast_id", id))
		return nil
	case errors.Is(err, asynq.ErrTaskNotFound):
		return errutil.NotFound("broadcast not found", err)
	case errors.Is(err, task.ErrNotCancellable):
		return errutil.Conflict("broadcast already started", err)
	default:
		return errutil.Internal("failed to cancel broadcast", err)
	}
}

// Run dispatches a broadcast in the current goroutine.
func (s *Service) Run(ctx context.Context, job *Job, onProgress func(Progress)) (Counters, error) {
	return s.dispatcher.Dispatch(ctx, job, onProgress)
}

func (s *Service) HandleDispatchTask(ctx context.Context, t *asynq.Task) error {
	var payload DispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	log := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("broadcast_id", payload.BroadcastID),
	)
	log.Info("start broadcast")

	job := NewJob(payload.BroadcastID, payload.Message)
	counters, err := s.Run(ctx, job, func(p Progress) {
		log.Info("broadcast progress",
			zap.Int("pages", p.Pages),
			zap.Int("sent", p.Counters.Sent),
			zap.Int("failed", p.Counters.Failed),
			zap.Int("blocked", p.Counters.Blocked),
			zap.Bool("done", p.Done),
		)
		if w := t.ResultWriter(); w != nil {
			if b, mErr := json.Marshal(p); mErr == nil {
				if _, wErr := w.Write(b); wErr != nil {
					log.Warn("failed to write task result", zap.Error(wErr))
				}
			}
		}
	})

	if payload.RequestedBy != "" {
		if rErr := s.sender.Send(ctx, payload.RequestedBy, Summary(counters, err)); rErr != nil {
			log.Warn("failed to send broadcast summary", zap.String("requested_by", payload.RequestedBy), zap.Error(rErr))
		}
	}
	return err
}

// Summary is the report sent back to the admin who started a broadcast.
func Summary(c Counters, err error) string {
	var b strings.Builder
	if err != nil {
		b.WriteString("Broadcast stopped early\n\n")
	} else {
		b.WriteString("Broadcast complete\n\n")
	}
	fmt.Fprintf(&b, "Sent: %d\nFailed: %d\nBlocked: %d\nTotal: %d", c.Sent, c.Failed, c.Blocked, c.Total())
	if err != nil {
		fmt.Fprintf(&b, "\n\nError: %v", err)
	}
	return b.String()
}
