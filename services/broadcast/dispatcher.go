// Package broadcast fans a message out to every reachable account.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"cloudbot/services/account"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrRecipientBlocked marks a delivery refused because the recipient blocked the bot.
	ErrRecipientBlocked = errors.New("recipient blocked the bot")
	ErrCancelled        = errors.New("broadcast cancelled")
	ErrAlreadyStarted   = errors.New("broadcast already started")
)

// Sender delivers one message to one recipient.
type Sender interface {
	Send(ctx context.Context, recipientID, message string) error
}

// Recipients pages through the account directory.
type Recipients interface {
	ListRecipients(ctx context.Context, afterID string, limit int) ([]account.Account, error)
	MarkBlocked(ctx context.Context, id string) error
}

type State int32

const (
	StatePending State = iota
	StateRunning
	StateDone
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type Job struct {
	ID      string
	Message string
	state   atomic.Int32
}

func NewJob(id, message string) *Job {
	return &Job{ID: id, Message: message}
}

func (j *Job) State() State {
	return State(j.state.Load())
}

// Cancel stops a job that has not started. It reports false once the job is running.
func (j *Job) Cancel() bool {
	return j.state.CompareAndSwap(int32(StatePending), int32(StateCancelled))
}

type Counters struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Blocked int `json:"blocked"`
}

func (c Counters) Total() int { return c.Sent + c.Failed + c.Blocked }

type Progress struct {
	JobID    string   `json:"job_id"`
	Pages    int      `json:"pages"`
	Counters Counters `json:"counters"`
	Done     bool     `json:"done"`
	Error    string   `json:"error,omitempty"`
}

type Options struct {
	PageSize int
	// Interval is the minimum gap between two deliveries; zero disables pacing.
	Interval      time.Duration
	ProgressEvery int
	FetchAttempts int
	FetchBackoff  time.Duration
}

func DefaultOptions() Options {
	return Options{
		PageSize:      100,
		Interval:      50 * time.Millisecond,
		ProgressEvery: 5,
		FetchAttempts: 3,
		FetchBackoff:  time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = d.ProgressEvery
	}
	if o.FetchAttempts <= 0 {
		o.FetchAttempts = d.FetchAttempts
	}
	if o.Interval < 0 {
		o.Interval = 0
	}
	return o
}

type Dispatcher struct {
	recipients Recipients
	sender     Sender
	opts       Options
}

func NewDispatcher(recipients Recipients, sender Sender, opts Options) *Dispatcher {
	return &Dispatcher{recipients: recipients, sender: sender, opts: opts.withDefaults()}
}

// Dispatch sends job.Message to every non-blocked account, one attempt each.
// onProgress runs after every ProgressEvery-th page and once more when the
// run ends, whatever the outcome. A page that cannot be fetched after the
// configured attempts stops the run; the counters gathered so far are
// returned with the error.
func (d *Dispatcher) Dispatch(ctx context.Context, job *Job, onProgress func(Progress)) (Counters, error) {
	if !job.state.CompareAndSwap(int32(StatePending), int32(StateRunning)) {
		if job.State() == StateCancelled {
			return Counters{}, ErrCancelled
		}
		return Counters{}, ErrAlreadyStarted
	}
	defer job.state.Store(int32(StateDone))

	if onProgress == nil {
		onProgress = func(Progress) {}
	}

	log := zap.L().With(zap.String("broadcast_id", job.ID))
	limiter := rate.NewLimiter(rate.Inf, 1)
	if d.opts.Interval > 0 {
		limiter = rate.NewLimiter(rate.Every(d.opts.Interval), 1)
	}

	var (
		counters Counters
		pages    int
		cursor   string
		runErr   error
	)

loop:
	for {
		batch, err := d.fetch(ctx, cursor)
		if err != nil {
			runErr = fmt.Errorf("fetch page %d: %w", pages+1, err)
			break
		}
		if len(batch) == 0 {
			break
		}

		for _, r := range batch {
			if err := limiter.Wait(ctx); err != nil {
				runErr = err
				break loop
			}
			d.deliver(ctx, log, r.ID, job.Message, &counters)
		}

		pages++
		cursor = batch[len(batch)-1].ID

		if pages%d.opts.ProgressEvery == 0 {
			onProgress(Progress{JobID: job.ID, Pages: pages, Counters: counters})
		}
		if len(batch) < d.opts.PageSize {
			break
		}
	}

	final := Progress{JobID: job.ID, Pages: pages, Counters: counters, Done: true}
	if runErr != nil {
		final.Error = runErr.Error()
	}
	onProgress(final)

	log.Info("broadcast finished",
		zap.Int("pages", pages),
		zap.Int("sent", counters.Sent),
		zap.Int("failed", counters.Failed),
		zap.Int("blocked", counters.Blocked),
		zap.Error(runErr),
	)
	return counters, runErr
}

func (d *Dispatcher) fetch(ctx context.Context, cursor string) ([]account.Account, error) {
	var err error
	for attempt := 1; attempt <= d.opts.FetchAttempts; attempt++ {
		var batch []account.Account
		batch, err = d.recipients.ListRecipients(ctx, cursor, d.opts.PageSize)
		if err == nil {
			return batch, nil
		}
		zap.L().Warn("broadcast page fetch failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == d.opts.FetchAttempts {
			break
		}

		select {
		case <-time.After(time.Duration(attempt) * d.opts.FetchBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, err
}

func (d *Dispatcher) deliver(ctx context.Context, log *zap.Logger, recipientID, message string, counters *Counters) {
	err := d.sender.Send(ctx, recipientID, message)
	switch {
	case err == nil:
		counters.Sent++
		deliveries.WithLabelValues("sent").Inc()
	case IsBlocked(err):
		counters.Blocked++
		deliveries.WithLabelValues("blocked").Inc()
		if mErr := d.recipients.MarkBlocked(ctx, recipientID); mErr != nil {
			log.Warn("failed to mark recipient blocked", zap.String("account_id", recipientID), zap.Error(mErr))
		}
	default:
		counters.Failed++
		deliveries.WithLabelValues("failed").Inc()
		log.Debug("delivery failed", zap.String("account_id", recipientID), zap.Error(err))
	}
}

// IsBlocked reports whether err is a permission-denied delivery failure.
func IsBlocked(err error) bool {
	if errors.Is(err, ErrRecipientBlocked) {
		return true
	}
	var sc interface{ StatusCode() int }
	return errors.As(err, &sc) && sc.StatusCode() == http.StatusForbidden
}
