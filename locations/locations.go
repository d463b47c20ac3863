// Package locations is the registry of monitored locations: the water
// utility accounts expected to bill each month, the casa de oração each
// serves, and who is told about its alerts.
package locations

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

// Location is a monitored water utility account.
type Location struct {
	ClientCode string `yaml:"client_code"`
	Name       string `yaml:"casa"`
	// Recipient of alerts of the Location, such as a Telegram chat ID.
	// Optional.
	Recipient string `yaml:"recipient,omitempty"`
}

// Registry indexes Locations on their client code. A nil *Registry is an
// empty Registry.
type Registry struct {
	locations []Location
	byCode    map[string]int
}

type registryFile struct {
	Locations []Location `yaml:"locations"`
}

// Parse a YAML Registry document of the form:
//
//	locations:
//	  - client_code: "123456"
//	    casa: CASA JARDIM
//	    recipient: "-100200300"
//
// Unknown fields, empty client codes, and repeated client codes are errors.
func Parse(b []byte) (*Registry, error) {
	var doc registryFile
	if err := yaml.UnmarshalStrict(b, &doc); err != nil {
		return nil, err
	}

	var r = &Registry{byCode: make(map[string]int, len(doc.Locations))}
	for i, loc := range doc.Locations {
		loc.ClientCode = strings.TrimSpace(loc.ClientCode)
		loc.Name = strings.TrimSpace(loc.Name)

		if loc.ClientCode == "" {
			return nil, fmt.Errorf("location %d: client_code is empty", i)
		} else if _, ok := r.byCode[loc.ClientCode]; ok {
			return nil, fmt.Errorf("location %d: client_code %q is repeated", i, loc.ClientCode)
		}
		r.byCode[loc.ClientCode] = len(r.locations)
		r.locations = append(r.locations, loc)
	}
	return r, nil
}

// Load and Parse the Registry file at |path|.
func Load(fs afero.Fs, path string) (*Registry, error) {
	var b, err = afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	r, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return r, nil
}

// Lookup the Location of |clientCode|.
func (r *Registry) Lookup(clientCode string) (Location, bool) {
	if r == nil {
		return Location{}, false
	}
	var ind, ok = r.byCode[strings.TrimSpace(clientCode)]
	if !ok {
		return Location{}, false
	}
	return r.locations[ind], true
}

// ClientCodes returns the client codes of the Registry, in file order.
func (r *Registry) ClientCodes() []string {
	if r == nil {
		return nil
	}
	var out = make([]string, len(r.locations))
	for i, loc := range r.locations {
		out[i] = loc.ClientCode
	}
	return out
}

// Len is the number of Locations.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.locations)
}
