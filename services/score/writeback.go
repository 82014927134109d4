package score

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const saveTimeout = 5 * time.Second

// Saver persists score snapshots.
type Saver interface {
	SaveScores(ctx context.Context, update ScoreUpdate) error
}

// WriteBack persists computed scores off the read path. Updates that do not
// fit in the buffer are dropped; the stored scores are only a snapshot and
// the next read recomputes them.
type WriteBack struct {
	saver   Saver
	updates chan ScoreUpdate

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWriteBack(saver Saver, buffer int) *WriteBack {
	if buffer <= 0 {
		buffer = 1024
	}
	return &WriteBack{
		saver:   saver,
		updates: make(chan ScoreUpdate, buffer),
	}
}

// Enqueue never blocks.
func (w *WriteBack) Enqueue(update ScoreUpdate) {
	select {
	case w.updates <- update:
	default:
		zap.L().Warn("score write-back buffer full, dropping update", zap.String("account_id", update.AccountID))
	}
}

// Start consumes updates in the background until Stop.
func (w *WriteBack) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case update := <-w.updates:
				w.save(ctx, update)
			}
		}
	}()
}

// Stop halts the background consumer and then drains what is left.
func (w *WriteBack) Stop(ctx context.Context) {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	w.Flush(ctx)
}

// Flush saves every buffered update on the calling goroutine.
func (w *WriteBack) Flush(ctx context.Context) {
	for {
		select {
		case update := <-w.updates:
			w.save(ctx, update)
		default:
			return
		}
	}
}

func (w *WriteBack) save(ctx context.Context, update ScoreUpdate) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := w.saver.SaveScores(ctx, update); err != nil {
		zap.L().Warn("failed to persist scores", zap.String("account_id", update.AccountID), zap.Error(err))
	}
}
