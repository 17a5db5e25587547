// Package client is the public facade: it owns target, invariants, storage
// and the poll loop lifecycle, and bridges changes to the consumer callback.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"rcsync/internal/fetch"
	"rcsync/internal/ports"
	"rcsync/internal/storage"
	"rcsync/internal/transport"
	"rcsync/internal/types"
)

// stopTimeout bounds how long Stop waits for the loop to drain. A consumer
// callback stuck past this only delays its own client's shutdown.
const stopTimeout = 5 * time.Second

// ChangeHandler receives one change per detected delta, on the poll loop's
// goroutine, outside all storage locks. It may block; that stalls only this
// client's loop. Keeping change.File beyond the call requires Retain.
type ChangeHandler func(change fetch.Change)

// Client is safe for concurrent Start/Stop/IsRunning. At most one poll loop
// runs at any time.
type Client struct {
	target     types.Target
	invariants types.Invariants
	runtimeID  string

	store    *storage.Storage
	fetcher  *fetch.Fetcher
	onChange ChangeHandler
	log      *log.Entry

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New is pure construction: no I/O, no background work. A nil tr defaults to
// the HTTP transport built from the invariants' endpoint.
func New(target types.Target, invariants types.Invariants, runtimeID string, tr ports.Transport, onChange ChangeHandler) (*Client, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if err := invariants.Validate(); err != nil {
		return nil, err
	}
	if runtimeID == "" {
		return nil, types.Err(types.ErrInvalidInput, nil, "runtime_id is required")
	}
	if onChange == nil {
		return nil, types.Err(types.ErrInvalidInput, nil, "on_change callback is required")
	}
	if tr == nil {
		tr = transport.NewHTTP(invariants.Endpoint, nil)
	}
	store := storage.New()
	c := &Client{
		target:     target,
		invariants: invariants,
		runtimeID:  runtimeID,
		store:      store,
		onChange:   onChange,
		log: log.WithFields(log.Fields{
			"component": "rcclient",
			"service":   target.Service,
			"env":       target.Env,
		}),
	}
	// The fetcher outlives individual loops so a restart sees the same
	// tracked state and never re-Adds surviving files or resurrects
	// released ones.
	c.fetcher = fetch.New(tr, store, target, invariants, runtimeID)
	return c, nil
}

// Start schedules the poll loop. Idempotent: a second call while running is a
// no-op. It returns once the loop is scheduled, not once a cycle has run.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runningLocked() {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	poller := fetch.NewPoller(c.fetcher, func(change fetch.Change) {
		c.onChange(change)
	})
	go func() {
		defer close(done)
		err := poller.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.WithError(err).Error("poll loop terminated")
		}
	}()
	c.log.Debug("poll loop started")
	return nil
}

// Stop cancels the loop and waits for it to drain, bounded by stopTimeout.
// Idempotent: stopping a stopped client is a no-op. After Stop returns no
// further callback invocations occur from the cancelled loop.
func (c *Client) Stop() error {
	c.mu.Lock()
	if !c.runningLocked() {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		c.log.Warn("poll loop did not drain within stop deadline")
	}
	return nil
}

// IsRunning is true while a scheduled loop has not finished or been torn
// down. It stays true through recoverable fetch failures.
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runningLocked()
}

// Lookup returns the live handle for a path, for re-entrant consumer queries
// from inside the callback. The caller must Retain the handle to hold it
// beyond the current call.
func (c *Client) Lookup(path types.Path) (*storage.Handle, bool) {
	return c.store.Get(path)
}

// LastError reports the most recent recoverable cycle failure, empty after a
// successful cycle.
func (c *Client) LastError() string {
	return c.fetcher.LastError()
}

func (c *Client) runningLocked() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}
