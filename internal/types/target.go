package types

import "fmt"

// Target is the identity tuple configuration is polled for. It is fixed at
// client construction and sent with every fetch.
type Target struct {
	Service    string
	Env        string
	AppVersion string
}

func (t Target) Validate() error {
	if t.Service == "" {
		return Err(ErrInvalidInput, nil, "service is required")
	}
	if t.Env == "" {
		return Err(ErrInvalidInput, nil, "env is required")
	}
	if t.AppVersion == "" {
		return Err(ErrInvalidInput, nil, "app_version is required")
	}
	return nil
}

// Endpoint is where configuration is fetched from. APIKey is optional; when
// set it is sent with every request.
type Endpoint struct {
	URL    string
	APIKey string
}

// Product is a category of configuration content (e.g. tracing config,
// debugger config). Well-known values live in internal/products; any
// non-empty value is accepted on a Path.
type Product string

// Capability is a feature flag advertised to the control plane.
type Capability uint32

// Invariants are the static per-client fetch parameters. They never change
// for the lifetime of a client.
type Invariants struct {
	Language      string
	TracerVersion string
	Endpoint      Endpoint
	Products      []Product
	Capabilities  []Capability
}

func (i Invariants) Validate() error {
	if i.Language == "" {
		return Err(ErrInvalidInput, nil, "language is required")
	}
	if i.TracerVersion == "" {
		return Err(ErrInvalidInput, nil, "tracer_version is required")
	}
	if i.Endpoint.URL == "" {
		return Err(ErrInvalidInput, nil, "endpoint url is required")
	}
	if len(i.Products) == 0 {
		return Err(ErrInvalidInput, nil, "at least one product is required")
	}
	return nil
}

func (i Invariants) HasProduct(p Product) bool {
	for _, known := range i.Products {
		if known == p {
			return true
		}
	}
	return false
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s@%s", t.Service, t.Env, t.AppVersion)
}
