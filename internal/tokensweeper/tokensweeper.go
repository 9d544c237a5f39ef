// Package tokensweeper periodically removes revoked-token records whose
// tokens have expired anyway.
package tokensweeper

import (
	"context"
	"time"

	"github.com/patric-chuzhbe/geoplaces/internal/logger"
)

type tokensPurger interface {
	PurgeExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

// TokenSweeper runs the purge on a ticker until its context is done.
type TokenSweeper struct {
	db           tokensPurger
	interval     time.Duration
	errorChannel chan error
	now          func() time.Time
	done         chan struct{}
}

// ListenErrors hands every failed sweep to callback. Errors that nobody
// listens to are dropped once the channel is full.
func (s *TokenSweeper) ListenErrors(callback func(error)) {
	go func() {
		for err := range s.errorChannel {
			callback(err)
		}
	}()
}

// Sweep performs one purge pass.
func (s *TokenSweeper) Sweep(ctx context.Context) (int64, error) {
	return s.db.PurgeExpiredTokens(ctx, s.now())
}

func (s *TokenSweeper) reportError(err error) {
	select {
	case s.errorChannel <- err:
	default:
		logger.Log.Debugw("Token sweeper error dropped", "error", err)
	}
}

// Run starts the sweep loop in the background. Done is closed when the loop
// exits after ctx is cancelled.
func (s *TokenSweeper) Run(ctx context.Context) {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged, err := s.Sweep(ctx)
				if err != nil {
					s.reportError(err)
					continue
				}
				if purged > 0 {
					logger.Log.Infof("purged %d expired revoked tokens", purged)
				}
			}
		}
	}()
}

// Done reports when the loop started by Run has exited.
func (s *TokenSweeper) Done() <-chan struct{} {
	return s.done
}

// New creates a sweeper that purges every interval.
func New(
	db tokensPurger,
	interval time.Duration,
	errorChannelCapacity int,
) *TokenSweeper {
	return &TokenSweeper{
		db:           db,
		interval:     interval,
		errorChannel: make(chan error, errorChannelCapacity),
		now:          time.Now,
		done:         make(chan struct{}),
	}
}
