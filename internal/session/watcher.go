package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TokenSource is the read side of a credential store.
type TokenSource interface {
	Token() string
}

// Watcher polls a token source and reports credential changes made outside
// this process (login tool rotating the token file, operator revoking it).
// The daemon wires Rotated to the manager's CredentialRotated and Revoked to
// CredentialRevoked.
type Watcher struct {
	source   TokenSource
	interval time.Duration
	logger   *slog.Logger

	onRotated func()
	onRevoked func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher polling the source at the given interval.
func NewWatcher(source TokenSource, interval time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// OnRotated registers the callback for the credential appearing or changing.
func (w *Watcher) OnRotated(fn func()) { w.onRotated = fn }

// OnRevoked registers the callback for the credential disappearing.
func (w *Watcher) OnRevoked(fn func()) { w.onRevoked = fn }

// Start begins polling. Callbacks must be registered before Start.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	// Capture the baseline before the goroutine starts so a change made
	// right after Start returns is still observed.
	last := w.source.Token()

	w.wg.Add(1)
	go w.watch(ctx, last)
}

// Stop halts polling and waits for the poll goroutine to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Watcher) watch(ctx context.Context, last string) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := w.source.Token()
			if current == last {
				continue
			}

			switch {
			case current == "":
				w.logger.Info("credential revoked")
				if w.onRevoked != nil {
					w.onRevoked()
				}
			default:
				w.logger.Info("credential rotated")
				if w.onRotated != nil {
					w.onRotated()
				}
			}
			last = current
		}
	}
}
