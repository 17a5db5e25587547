package fetch

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"rcsync/internal/types"
)

// MinInterval bounds the request rate even against a misbehaving server.
const MinInterval = time.Second

// Poller drives the fetcher on a timer and hands every change to deliver, in
// order, on its own goroutine. One cycle's changes are fully dispatched
// before the next fetch begins.
type Poller struct {
	fetcher *Fetcher
	deliver func(Change)
	floor   time.Duration
	log     *log.Entry
}

func NewPoller(f *Fetcher, deliver func(Change)) *Poller {
	return &Poller{
		fetcher: f,
		deliver: deliver,
		floor:   MinInterval,
		log:     log.WithField("component", "poller"),
	}
}

// Run blocks until ctx is cancelled or a storage invariant violation occurs.
// Recoverable fetch failures are recorded on the fetcher and the loop keeps
// going; ctx is re-checked before every dispatch so cancellation stops
// delivery mid-batch.
func (p *Poller) Run(ctx context.Context) error {
	for {
		changes, err := p.fetcher.FetchChanges(ctx)
		switch {
		case err == nil:
			for _, c := range changes {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.dispatch(c)
			}
		case errors.Is(err, types.ErrPathConflict):
			p.log.WithError(err).Error("storage invariant violated, poll loop aborting")
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			p.fetcher.SetLastError(err.Error())
			p.log.WithError(err).Warn("fetch cycle failed")
		}

		wait := p.fetcher.Interval()
		if wait < p.floor {
			wait = p.floor
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// dispatch isolates one callback invocation: a panicking consumer loses that
// notification but not the loop.
func (p *Poller) dispatch(c Change) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(log.Fields{
				"path": c.Path.String(),
				"kind": c.Kind.String(),
			}).Errorf("change callback panicked: %v", r)
		}
	}()
	p.deliver(c)
}
