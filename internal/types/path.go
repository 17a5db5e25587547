package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Source is the origin of a remote config file.
type Source uint8

const (
	// SourceDatadog files are produced by the backend for one org.
	SourceDatadog Source = iota + 1
	// SourceEmployee files are hand-deployed, with no org id.
	SourceEmployee
)

const (
	sourceDatadogName  = "datadog"
	sourceEmployeeName = "employee"
)

func (s Source) String() string {
	switch s {
	case SourceDatadog:
		return sourceDatadogName
	case SourceEmployee:
		return sourceEmployeeName
	}
	return fmt.Sprintf("source(%d)", uint8(s))
}

// Path uniquely identifies one remote configuration file. It is comparable
// over all fields and used directly as a map key.
type Path struct {
	Source   Source
	OrgID    uint64 // only meaningful for SourceDatadog
	Product  Product
	ConfigID string
	Name     string
}

// ParsePath parses the wire form of a config path:
//
//	datadog/<org_id>/<product>/<config_id>/<name>
//	employee/<product>/<config_id>/<name>
//
// The trailing name segment may itself contain slashes.
func ParsePath(s string) (Path, error) {
	switch {
	case strings.HasPrefix(s, sourceDatadogName+"/"):
		parts := strings.SplitN(s, "/", 5)
		if len(parts) != 5 {
			return Path{}, Err(ErrInvalidPath, nil, "want datadog/<org>/<product>/<config_id>/<name>, got %q", s)
		}
		orgID, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return Path{}, Err(ErrInvalidPath, err, "bad org id in %q", s)
		}
		p := Path{
			Source:   SourceDatadog,
			OrgID:    orgID,
			Product:  Product(parts[2]),
			ConfigID: parts[3],
			Name:     parts[4],
		}
		return p, p.check(s)
	case strings.HasPrefix(s, sourceEmployeeName+"/"):
		parts := strings.SplitN(s, "/", 4)
		if len(parts) != 4 {
			return Path{}, Err(ErrInvalidPath, nil, "want employee/<product>/<config_id>/<name>, got %q", s)
		}
		p := Path{
			Source:   SourceEmployee,
			Product:  Product(parts[1]),
			ConfigID: parts[2],
			Name:     parts[3],
		}
		return p, p.check(s)
	}
	return Path{}, Err(ErrInvalidPath, nil, "unknown source in %q", s)
}

func (p Path) check(raw string) error {
	if p.Product == "" || p.ConfigID == "" || p.Name == "" {
		return Err(ErrInvalidPath, nil, "empty segment in %q", raw)
	}
	return nil
}

func (p Path) String() string {
	if p.Source == SourceDatadog {
		return fmt.Sprintf("%s/%d/%s/%s/%s", sourceDatadogName, p.OrgID, p.Product, p.ConfigID, p.Name)
	}
	return fmt.Sprintf("%s/%s/%s/%s", sourceEmployeeName, p.Product, p.ConfigID, p.Name)
}
