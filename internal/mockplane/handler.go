// Package mockplane is a development stand-in for the control plane. It
// serves the fetch endpoint from a YAML state file, re-read on every request,
// so a client under test sees adds, updates and removes by editing one file.
package mockplane

import (
	"io"
	"net/http"
	"os"

	json "github.com/goccy/go-json"
	"github.com/goccy/go-yaml"
	log "github.com/sirupsen/logrus"

	"rcsync/internal/types"
)

const apiKeyHeader = "DD-API-KEY"

// State is the on-disk shape of the served configuration set.
type State struct {
	RefreshIntervalMS  uint64  `yaml:"refresh_interval_ms"`
	OpaqueBackendState string  `yaml:"opaque_backend_state"`
	Files              []Entry `yaml:"files"`
}

// Entry is one served file. Contents is an arbitrary document; it is
// serialized to JSON bytes on the wire.
type Entry struct {
	Path     string         `yaml:"path"`
	Version  uint64         `yaml:"version"`
	Contents map[string]any `yaml:"contents"`
}

type Handler struct {
	statePath string
	apiKey    string
}

// NewHandler serves the state at statePath. An empty apiKey disables auth;
// otherwise requests must present it.
func NewHandler(statePath, apiKey string) *Handler {
	return &Handler{statePath: statePath, apiKey: apiKey}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v0.7/config", h.handleConfig)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.apiKey != "" && r.Header.Get(apiKeyHeader) != h.apiKey {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()
	var req types.FetchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Client.RuntimeID == "" {
		http.Error(w, "missing runtime_id", http.StatusBadRequest)
		return
	}
	if req.Client.State.HasError {
		log.WithFields(log.Fields{
			"runtime_id": req.Client.RuntimeID,
			"error":      req.Client.State.Error,
		}).Warn("client reported a failed cycle")
	}

	state, err := h.loadState()
	if err != nil {
		log.WithError(err).Error("failed to load state file")
		http.Error(w, "state unavailable", http.StatusInternalServerError)
		return
	}
	resp, err := buildResponse(state, req.Client.Products)
	if err != nil {
		log.WithError(err).Error("failed to build response")
		http.Error(w, "bad state file", http.StatusInternalServerError)
		return
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
	}
}

func (h *Handler) loadState() (State, error) {
	var state State
	raw, err := os.ReadFile(h.statePath)
	if err != nil {
		return state, err
	}
	if err := yaml.Unmarshal(raw, &state); err != nil {
		return state, err
	}
	return state, nil
}

// buildResponse serves only files for products the client subscribed to,
// the same narrowing a real control plane applies.
func buildResponse(state State, subscribed []types.Product) (*types.FetchResponse, error) {
	wanted := make(map[types.Product]struct{}, len(subscribed))
	for _, p := range subscribed {
		wanted[p] = struct{}{}
	}

	files := make([]types.TargetFile, 0, len(state.Files))
	for _, entry := range state.Files {
		path, err := types.ParsePath(entry.Path)
		if err != nil {
			return nil, err
		}
		if _, ok := wanted[path.Product]; !ok {
			continue
		}
		raw, err := json.Marshal(entry.Contents)
		if err != nil {
			return nil, err
		}
		files = append(files, types.TargetFile{
			Path:    entry.Path,
			Version: entry.Version,
			Raw:     raw,
		})
	}
	return &types.FetchResponse{
		TargetFiles:          files,
		OpaqueBackendState:   state.OpaqueBackendState,
		RefreshIntervalNanos: state.RefreshIntervalMS * 1_000_000,
	}, nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
