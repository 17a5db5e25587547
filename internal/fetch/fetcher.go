// Package fetch drives the polling cycle: one fetch against the control
// plane, a diff against storage, and an ordered list of changes out.
package fetch

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"rcsync/internal/ports"
	"rcsync/internal/products"
	"rcsync/internal/storage"
	"rcsync/internal/types"
)

// DefaultInterval is used until the server recommends one. It matches the
// floor so a client with no server guidance polls at the bounded maximum
// rate rather than something slower.
const DefaultInterval = time.Second

// Fetcher performs one polling cycle per FetchChanges call. It owns one
// storage reference per tracked file and is the sole storage writer.
// FetchChanges is not reentrant; the poll loop is its only caller. The small
// accessors (Interval, LastError, SetLastError) are safe from any goroutine.
type Fetcher struct {
	transport  ports.Transport
	store      *storage.Storage
	target     types.Target
	invariants types.Invariants
	runtimeID  string

	tracked map[types.Path]*storage.Handle

	mu           sync.Mutex
	interval     time.Duration
	lastError    string
	backendState string

	log *log.Entry
}

func New(transport ports.Transport, store *storage.Storage, target types.Target, invariants types.Invariants, runtimeID string) *Fetcher {
	return &Fetcher{
		transport:  transport,
		store:      store,
		target:     target,
		invariants: invariants,
		runtimeID:  runtimeID,
		tracked:    make(map[types.Path]*storage.Handle),
		interval:   DefaultInterval,
		log: log.WithFields(log.Fields{
			"component": "fetcher",
			"service":   target.Service,
			"env":       target.Env,
		}),
	}
}

type incomingFile struct {
	path    types.Path
	version uint64
	raw     []byte
}

// FetchChanges runs one cycle. On a transport or response decode failure it
// returns a recoverable error and storage is untouched. A returned
// ErrPathConflict is fatal: the table disagrees with the tracker about what
// is live.
func (f *Fetcher) FetchChanges(ctx context.Context) ([]Change, error) {
	req := f.buildRequest()
	resp, err := f.transport.Fetch(ctx, req)
	if err != nil {
		return nil, types.Err(types.ErrTransport, err, "")
	}
	incoming, err := f.decodeResponse(resp)
	if err != nil {
		return nil, err
	}

	var changes []Change
	seen := make(map[types.Path]struct{}, len(incoming))
	for _, in := range incoming {
		seen[in.path] = struct{}{}
		h, ok := f.tracked[in.path]
		if !ok {
			h, err = f.store.Store(in.path, in.version, f.newContents(in.path, in.raw))
			if err != nil {
				return nil, err
			}
			f.tracked[in.path] = h
			changes = append(changes, Change{Kind: Add, Path: in.path, File: h, Version: in.version})
			continue
		}
		prev := h.Version()
		if in.version < prev {
			// Versions are monotonic per path; a regression is server noise.
			f.log.WithField("path", in.path.String()).
				Warnf("ignoring version regression %d -> %d", prev, in.version)
			continue
		}
		if in.version == prev {
			continue
		}
		f.store.Update(h, in.version, f.newContents(in.path, in.raw))
		changes = append(changes, Change{Kind: Update, Path: in.path, File: h, Version: in.version, PrevVersion: prev})
	}

	removed := make([]types.Path, 0)
	for path := range f.tracked {
		if _, ok := seen[path]; !ok {
			removed = append(removed, path)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].String() < removed[j].String() })
	for _, path := range removed {
		h := f.tracked[path]
		changes = append(changes, Change{Kind: Remove, Path: path, Version: h.Version()})
		f.store.Discard(h)
		delete(f.tracked, path)
	}

	f.commitResponseMeta(resp)
	return changes, nil
}

func (f *Fetcher) newContents(path types.Path, raw []byte) storage.Contents {
	data, err := products.Parse(path.Product, raw)
	if err != nil {
		f.log.WithError(err).WithField("path", path.String()).Warn("config body failed to parse")
	}
	return storage.Contents{Raw: raw, Data: data, Err: err}
}

// decodeResponse validates the whole response before any storage mutation so
// a malformed response cannot commit partial state.
func (f *Fetcher) decodeResponse(resp *types.FetchResponse) ([]incomingFile, error) {
	if resp == nil {
		return nil, types.Err(types.ErrBadResponse, nil, "nil response")
	}
	incoming := make([]incomingFile, 0, len(resp.TargetFiles))
	seen := make(map[types.Path]struct{}, len(resp.TargetFiles))
	for _, tf := range resp.TargetFiles {
		path, err := types.ParsePath(tf.Path)
		if err != nil {
			return nil, types.Err(types.ErrBadResponse, err, "")
		}
		if !f.invariants.HasProduct(path.Product) {
			f.log.WithField("path", tf.Path).Warn("skipping file for unsubscribed product")
			continue
		}
		if _, dup := seen[path]; dup {
			return nil, types.Err(types.ErrBadResponse, nil, "duplicate path %s in response", tf.Path)
		}
		seen[path] = struct{}{}
		incoming = append(incoming, incomingFile{path: path, version: tf.Version, raw: tf.Raw})
	}
	sort.Slice(incoming, func(i, j int) bool {
		return incoming[i].path.String() < incoming[j].path.String()
	})
	return incoming, nil
}

func (f *Fetcher) buildRequest() *types.FetchRequest {
	states := make([]types.ConfigState, 0, len(f.tracked))
	for path, h := range f.tracked {
		states = append(states, types.ConfigState{
			Path:    path.String(),
			Version: h.Version(),
			Product: path.Product,
		})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Path < states[j].Path })

	f.mu.Lock()
	lastError := f.lastError
	backendState := f.backendState
	f.mu.Unlock()

	return &types.FetchRequest{
		Client: types.ClientPayload{
			RuntimeID:     f.runtimeID,
			Language:      f.invariants.Language,
			TracerVersion: f.invariants.TracerVersion,
			Service:       f.target.Service,
			Env:           f.target.Env,
			AppVersion:    f.target.AppVersion,
			Products:      f.invariants.Products,
			Capabilities:  f.invariants.Capabilities,
			State: types.ClientState{
				ConfigStates:       states,
				HasError:           lastError != "",
				Error:              lastError,
				BackendClientState: backendState,
			},
		},
	}
}

func (f *Fetcher) commitResponseMeta(resp *types.FetchResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastError = ""
	if resp.OpaqueBackendState != "" {
		f.backendState = resp.OpaqueBackendState
	}
	if resp.RefreshIntervalNanos > 0 {
		f.interval = time.Duration(resp.RefreshIntervalNanos)
	}
}

// SetLastError records a cycle failure for diagnostics; it is reported to the
// server on the next request and cleared by the next success.
func (f *Fetcher) SetLastError(msg string) {
	f.mu.Lock()
	f.lastError = msg
	f.mu.Unlock()
}

func (f *Fetcher) LastError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastError
}

// Interval is the server-recommended wait before the next cycle. The poll
// loop applies the floor.
func (f *Fetcher) Interval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval
}

// TrackedCount reports how many files the fetcher currently owns.
func (f *Fetcher) TrackedCount() int {
	return len(f.tracked)
}
