package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"rcsync/internal/storage"
	"rcsync/internal/types"
)

// fakeTransport serves a fixed response (or error) and records every request
// it sees.
type fakeTransport struct {
	mu       sync.Mutex
	resp     *types.FetchResponse
	err      error
	requests []*types.FetchRequest
}

func (f *fakeTransport) Fetch(ctx context.Context, req *types.FetchRequest) (*types.FetchResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeTransport) serve(files ...types.TargetFile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resp = &types.FetchResponse{TargetFiles: files}
	f.err = nil
}

func (f *fakeTransport) serveError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeTransport) lastRequest() *types.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func file(path string, version uint64, body string) types.TargetFile {
	return types.TargetFile{Path: path, Version: version, Raw: []byte(body)}
}

const (
	pathA = "datadog/2/APM_TRACING/aaa/config"
	pathB = "datadog/2/APM_TRACING/bbb/config"
	pathC = "employee/LIVE_DEBUGGING/probe_1/config"

	tracingBody = `{"lib_config": {"tracing_sampling_rate": 0.5}}`
	probeBody   = `{"id": "probe_1", "type": "LOG_PROBE"}`
)

type FetcherTestSuite struct {
	suite.Suite

	store     *storage.Storage
	transport *fakeTransport
	fetcher   *Fetcher
}

func TestFetcherTestSuite(t *testing.T) {
	suite.Run(t, new(FetcherTestSuite))
}

func (s *FetcherTestSuite) SetupTest() {
	s.store = storage.New()
	s.transport = &fakeTransport{}
	s.fetcher = New(
		s.transport,
		s.store,
		types.Target{Service: "svc", Env: "prod", AppVersion: "1.0"},
		types.Invariants{
			Language:      "python",
			TracerVersion: "2.10.0",
			Endpoint:      types.Endpoint{URL: "http://localhost:8126"},
			Products:      []types.Product{"APM_TRACING", "LIVE_DEBUGGING"},
			Capabilities:  []types.Capability{1, 4},
		},
		"runtime-1",
	)
}

func (s *FetcherTestSuite) mustParse(p string) types.Path {
	parsed, err := types.ParsePath(p)
	s.Require().NoError(err)
	return parsed
}

func (s *FetcherTestSuite) TestAddUpdateRemoveAcrossCycles() {
	// Cycle 1: one new file.
	s.transport.serve(file(pathA, 1, tracingBody))
	changes, err := s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)
	s.Require().Len(changes, 1)
	s.Equal(Add, changes[0].Kind)
	s.Equal(s.mustParse(pathA), changes[0].Path)
	s.Equal(uint64(1), changes[0].Version)
	s.Require().NotNil(changes[0].File)
	s.Equal([]byte(tracingBody), changes[0].File.Contents().Raw)
	s.NoError(changes[0].File.Contents().Err)
	s.Equal(1, s.store.Len())

	// Cycle 2: version bump updates in place.
	s.transport.serve(file(pathA, 2, `{"lib_config": {"tracing_sampling_rate": 0.9}}`))
	changes, err = s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)
	s.Require().Len(changes, 1)
	s.Equal(Update, changes[0].Kind)
	s.Equal(uint64(2), changes[0].Version)
	s.Equal(uint64(1), changes[0].PrevVersion)
	s.Equal(uint64(2), changes[0].File.Version())

	// Cycle 3: file gone upstream.
	s.transport.serve()
	changes, err = s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)
	s.Require().Len(changes, 1)
	s.Equal(Remove, changes[0].Kind)
	s.Equal(s.mustParse(pathA), changes[0].Path)
	s.Equal(uint64(2), changes[0].Version)
	s.Nil(changes[0].File)
	s.Equal(0, s.store.Len())
}

func (s *FetcherTestSuite) TestUnchangedResponseYieldsNoChanges() {
	s.transport.serve(file(pathA, 1, tracingBody), file(pathC, 3, probeBody))
	changes, err := s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)
	s.Len(changes, 2)

	changes, err = s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)
	s.Empty(changes)
	s.Equal(2, s.store.Len())
}

func (s *FetcherTestSuite) TestTransportErrorLeavesStorageUntouched() {
	s.transport.serve(file(pathA, 1, tracingBody))
	_, err := s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)

	s.transport.serveError(errors.New("connection refused"))
	changes, err := s.fetcher.FetchChanges(context.Background())
	s.ErrorIs(err, types.ErrTransport)
	s.Empty(changes)
	s.Equal(1, s.store.Len())
	s.Equal(1, s.fetcher.TrackedCount())

	h, ok := s.store.Get(s.mustParse(pathA))
	s.Require().True(ok)
	s.Equal(uint64(1), h.Version())
}

func (s *FetcherTestSuite) TestLastErrorReportedThenCleared() {
	s.transport.serveError(errors.New("boom"))
	_, err := s.fetcher.FetchChanges(context.Background())
	s.Require().Error(err)
	s.fetcher.SetLastError(err.Error())

	s.transport.serve()
	_, err = s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)

	req := s.transport.lastRequest()
	s.Require().NotNil(req)
	s.True(req.Client.State.HasError)
	s.Contains(req.Client.State.Error, "boom")
	s.Empty(s.fetcher.LastError())

	// Next request after the success reports a clean state.
	_, err = s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)
	s.False(s.transport.lastRequest().Client.State.HasError)
}

func (s *FetcherTestSuite) TestRequestCarriesIdentityAndConfigStates() {
	s.transport.serve(file(pathA, 1, tracingBody), file(pathB, 4, tracingBody))
	_, err := s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)

	_, err = s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)
	req := s.transport.lastRequest()
	s.Equal("runtime-1", req.Client.RuntimeID)
	s.Equal("svc", req.Client.Service)
	s.Equal("prod", req.Client.Env)
	s.Equal("1.0", req.Client.AppVersion)
	s.Equal("python", req.Client.Language)
	s.Require().Len(req.Client.State.ConfigStates, 2)
	s.Equal(pathA, req.Client.State.ConfigStates[0].Path)
	s.Equal(pathB, req.Client.State.ConfigStates[1].Path)
	s.Equal(uint64(4), req.Client.State.ConfigStates[1].Version)
}

func (s *FetcherTestSuite) TestMalformedPathFailsCycleWithoutMutation() {
	s.transport.serve(file("not/a/real/path/shape", 1, tracingBody), file(pathA, 1, tracingBody))
	changes, err := s.fetcher.FetchChanges(context.Background())
	s.ErrorIs(err, types.ErrBadResponse)
	s.Empty(changes)
	s.Equal(0, s.store.Len())
}

func (s *FetcherTestSuite) TestDuplicatePathFailsCycleWithoutMutation() {
	s.transport.serve(file(pathA, 1, tracingBody), file(pathA, 2, tracingBody))
	_, err := s.fetcher.FetchChanges(context.Background())
	s.ErrorIs(err, types.ErrBadResponse)
	s.Equal(0, s.store.Len())
}

func (s *FetcherTestSuite) TestUnsubscribedProductSkipped() {
	s.transport.serve(file("datadog/2/FLAGS/zzz/config", 1, `{"on": true}`), file(pathA, 1, tracingBody))
	changes, err := s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)
	s.Require().Len(changes, 1)
	s.Equal(s.mustParse(pathA), changes[0].Path)
}

func (s *FetcherTestSuite) TestVersionRegressionIgnored() {
	s.transport.serve(file(pathA, 5, tracingBody))
	_, err := s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)

	s.transport.serve(file(pathA, 3, tracingBody))
	changes, err := s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)
	s.Empty(changes)

	h, ok := s.store.Get(s.mustParse(pathA))
	s.Require().True(ok)
	s.Equal(uint64(5), h.Version())
}

func (s *FetcherTestSuite) TestUnparsableFileStillSurfacedAndTracked() {
	s.transport.serve(file(pathA, 1, `{"lib_config": {"tracing_sampling_rate": 99}}`))
	changes, err := s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)
	s.Require().Len(changes, 1)
	s.Equal(Add, changes[0].Kind)
	contents := changes[0].File.Contents()
	s.Error(contents.Err)
	s.Nil(contents.Data)
	s.Equal([]byte(`{"lib_config": {"tracing_sampling_rate": 99}}`), contents.Raw)

	// The slot is occupied, so its later absence is still a Remove.
	s.transport.serve()
	changes, err = s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)
	s.Require().Len(changes, 1)
	s.Equal(Remove, changes[0].Kind)
}

func (s *FetcherTestSuite) TestChangeOrderIsStable() {
	s.transport.serve(file(pathB, 1, tracingBody), file(pathA, 1, tracingBody), file(pathC, 1, probeBody))
	changes, err := s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)
	s.Require().Len(changes, 3)
	// Ascending path order.
	s.Equal(s.mustParse(pathA), changes[0].Path)
	s.Equal(s.mustParse(pathB), changes[1].Path)
	s.Equal(s.mustParse(pathC), changes[2].Path)

	// Updates come before removes, each group in path order.
	s.transport.serve(file(pathC, 2, probeBody))
	changes, err = s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)
	s.Require().Len(changes, 3)
	s.Equal(Update, changes[0].Kind)
	s.Equal(s.mustParse(pathC), changes[0].Path)
	s.Equal(Remove, changes[1].Kind)
	s.Equal(s.mustParse(pathA), changes[1].Path)
	s.Equal(Remove, changes[2].Kind)
	s.Equal(s.mustParse(pathB), changes[2].Path)
}

func (s *FetcherTestSuite) TestResponseMetaCommitted() {
	s.transport.mu.Lock()
	s.transport.resp = &types.FetchResponse{
		OpaqueBackendState:   "state-token",
		RefreshIntervalNanos: 2_500_000_000,
	}
	s.transport.mu.Unlock()

	_, err := s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)
	s.Equal(int64(2_500_000_000), s.fetcher.Interval().Nanoseconds())

	_, err = s.fetcher.FetchChanges(context.Background())
	s.Require().NoError(err)
	s.Equal("state-token", s.transport.lastRequest().Client.State.BackendClientState)
}

func (s *FetcherTestSuite) TestStoreConflictIsFatal() {
	// Something else occupies the path in the shared table.
	_, err := s.store.Store(s.mustParse(pathA), 9, storage.Contents{})
	s.Require().NoError(err)

	s.transport.serve(file(pathA, 1, tracingBody))
	_, err = s.fetcher.FetchChanges(context.Background())
	s.ErrorIs(err, types.ErrPathConflict)
}
