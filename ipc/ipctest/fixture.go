// Package ipctest is the scripted test harness shared by this
// module's own packages and any downstream service binding: a thin
// wrapper over svc.SimTransport for scenario scripting, plus
// yaml-authored byte-level fixtures for the frame shapes pinned by the
// end-to-end scenarios.
package ipctest

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fixture is one named, byte-exact frame expectation: a hex dump plus
// a human-readable breakdown of what each field is supposed to carry.
// Keeping these as YAML documents rather than Go byte-slice literals
// is what keeps a long frame diffable in a code review.
type Fixture struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Hex         string            `yaml:"hex"`
	Fields      map[string]string `yaml:"fields"`
}

// Bytes decodes the fixture's hex dump, ignoring whitespace so the
// YAML source can wrap long frames across lines.
func (f Fixture) Bytes() ([]byte, error) {
	return decodeHex(f.Hex)
}

func decodeHex(s string) ([]byte, error) {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return hex.DecodeString(b.String())
}

// Set is a named collection of fixtures loaded from one YAML document.
type Set struct {
	Fixtures []Fixture `yaml:"fixtures"`
}

// LoadFile reads and parses a fixture document from path.
func LoadFile(path string) (*Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ipctest: reading %s: %w", path, err)
	}
	var set Set
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("ipctest: parsing %s: %w", path, err)
	}
	return &set, nil
}

// Find returns the named fixture, or false if no fixture in the set
// has that name.
func (s *Set) Find(name string) (Fixture, bool) {
	for _, f := range s.Fixtures {
		if f.Name == name {
			return f, true
		}
	}
	return Fixture{}, false
}
