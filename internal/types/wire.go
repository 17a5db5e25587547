package types

// Wire payloads exchanged with the control plane. The transport owns how they
// move; these types only fix the shape: a request keyed by Target+Invariants
// and a response carrying a versioned raw file per path.

// FetchRequest is sent once per polling cycle.
type FetchRequest struct {
	Client ClientPayload `json:"client"`
}

// ClientPayload carries the full Target+Invariants identity plus the state
// the server needs to compute a delta-friendly response.
type ClientPayload struct {
	RuntimeID     string       `json:"runtime_id"`
	Language      string       `json:"language"`
	TracerVersion string       `json:"tracer_version"`
	Service       string       `json:"service"`
	Env           string       `json:"env"`
	AppVersion    string       `json:"app_version"`
	Products      []Product    `json:"products"`
	Capabilities  []Capability `json:"capabilities"`
	State         ClientState  `json:"state"`
}

// ClientState reports what the client currently holds and whether its last
// cycle failed. BackendClientState is opaque server data round-tripped from
// the previous response.
type ClientState struct {
	ConfigStates       []ConfigState `json:"config_states"`
	HasError           bool          `json:"has_error"`
	Error              string        `json:"error,omitempty"`
	BackendClientState string        `json:"backend_client_state,omitempty"`
}

// ConfigState is one currently-applied file as seen by the client.
type ConfigState struct {
	Path    string  `json:"path"`
	Version uint64  `json:"version"`
	Product Product `json:"product"`
}

// TargetFile is one file in a response. Raw is base64 on the wire.
type TargetFile struct {
	Path    string `json:"path"`
	Version uint64 `json:"version"`
	Raw     []byte `json:"raw"`
}

// FetchResponse is the full current state for the requesting target. Absence
// of a previously returned path means the file was removed upstream.
type FetchResponse struct {
	TargetFiles          []TargetFile `json:"target_files"`
	OpaqueBackendState   string       `json:"opaque_backend_state,omitempty"`
	RefreshIntervalNanos uint64       `json:"refresh_interval_ns,omitempty"`
}
