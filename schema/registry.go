// Package schema provides a versioned registry of JSON Schema validators
// keyed by event type. Schemas are the source of truth for data
// contracts; on breaking changes producers register a new version with a
// migration function, and consumers migrate inbound payloads to the
// latest shape.
package schema

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/eventflow/eventflow"
)

// InitialVersion must be the first version registered for every type.
const InitialVersion = "1.0"

// MigrationFunc transforms a payload from the previous version's shape
// into this version's shape.
type MigrationFunc func(data []byte) ([]byte, error)

// VersionEntry is one registered schema version for an event type.
type VersionEntry struct {
	Version   string
	Schema    *eventflow.CompiledSchema
	Raw       string
	Migration MigrationFunc // from the previous version, nil for "1.0"
}

// Registry maps event types to ordered schema version chains. It is
// thread-safe and implements eventflow.SchemaResolver, so FromWire can
// auto-detect payload schemas by type.
type Registry struct {
	mu       sync.RWMutex
	versions map[string][]VersionEntry // eventType -> ascending by version
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		versions: make(map[string][]VersionEntry),
	}
}

// Register adds a schema version for an event type.
//
// The first registration for a type must be version "1.0". Later versions
// may carry a migration function transforming data from the previous
// registered version; migrations chain, so a "1.0" payload reaches "3.0"
// through the 2.0 and 3.0 migrations in order.
func (r *Registry) Register(eventType, version, schemaJSON string, migration MigrationFunc) error {
	if eventType == "" {
		return fmt.Errorf("schema: event type is required")
	}
	if _, _, err := parseVersion(version); err != nil {
		return err
	}

	compiled, err := r.compile(eventType, version, schemaJSON)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chain := r.versions[eventType]
	if len(chain) == 0 && version != InitialVersion {
		return fmt.Errorf("schema: first version for %s must be %q, got %q", eventType, InitialVersion, version)
	}
	for _, entry := range chain {
		if entry.Version == version {
			return fmt.Errorf("schema: %s version %s already registered", eventType, version)
		}
	}

	chain = append(chain, VersionEntry{
		Version:   version,
		Schema:    compiled,
		Raw:       schemaJSON,
		Migration: migration,
	})
	sort.Slice(chain, func(i, j int) bool {
		return compareVersions(chain[i].Version, chain[j].Version) < 0
	})
	r.versions[eventType] = chain
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(eventType, version, schemaJSON string, migration MigrationFunc) {
	if err := r.Register(eventType, version, schemaJSON, migration); err != nil {
		panic(err)
	}
}

func (r *Registry) compile(eventType, version, schemaJSON string) (*eventflow.CompiledSchema, error) {
	s, err := eventflow.CompileSchema(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("schema: %s@%s: %w", eventType, version, err)
	}
	return s, nil
}

// Latest returns the highest-versioned entry for an event type.
func (r *Registry) Latest(eventType string) (VersionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := r.versions[eventType]
	if len(chain) == 0 {
		return VersionEntry{}, false
	}
	return chain[len(chain)-1], true
}

// Version returns a specific schema version for an event type.
func (r *Registry) Version(eventType, version string) (VersionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.versions[eventType] {
		if entry.Version == version {
			return entry, true
		}
	}
	return VersionEntry{}, false
}

// Versions returns the ascending version chain for an event type.
func (r *Registry) Versions(eventType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := r.versions[eventType]
	out := make([]string, len(chain))
	for i, entry := range chain {
		out[i] = entry.Version
	}
	return out
}

// Has implements eventflow.SchemaResolver.
func (r *Registry) Has(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.versions[eventType]) > 0
}

// KnownTypes implements eventflow.SchemaResolver.
func (r *Registry) KnownTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.versions))
	for t := range r.versions {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ValidateData implements eventflow.SchemaResolver: data is validated
// against the latest schema version for the type. An unknown type is an
// UnsupportedTypeError listing every known type.
func (r *Registry) ValidateData(eventType string, data []byte) error {
	latest, ok := r.Latest(eventType)
	if !ok {
		return &eventflow.UnsupportedTypeError{Type: eventType, Known: r.KnownTypes()}
	}
	return latest.Schema.ValidateData(data)
}

// MigrateToLatest applies the registered migration chain to bring data
// from fromVersion to the latest version's shape.
//
// A fromVersion already at latest is a no-op. Versions without a
// migration function pass data through unchanged: this permissiveness is
// intentional, so consumers of forward-compatible optional fields are not
// blocked by a missing migration.
func (r *Registry) MigrateToLatest(eventType string, data []byte, fromVersion string) ([]byte, error) {
	r.mu.RLock()
	chain := append([]VersionEntry(nil), r.versions[eventType]...)
	r.mu.RUnlock()

	if len(chain) == 0 {
		return nil, &eventflow.UnsupportedTypeError{Type: eventType, Known: r.KnownTypes()}
	}
	if _, _, err := parseVersion(fromVersion); err != nil {
		return nil, err
	}

	out := data
	for _, entry := range chain {
		if compareVersions(entry.Version, fromVersion) <= 0 {
			continue
		}
		if entry.Migration == nil {
			continue
		}
		migrated, err := entry.Migration(out)
		if err != nil {
			return nil, fmt.Errorf("schema: migrating %s to %s: %w", eventType, entry.Version, err)
		}
		out = migrated
	}
	return out, nil
}

// Catalog returns a composed JSON Schema document with every latest
// schema under $defs, keyed by event type. Serve it as an API contract
// catalog with content type "application/schema+json".
func (r *Registry) Catalog() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var buf bytes.Buffer
	buf.WriteString(`{"$schema":"https://json-schema.org/draft/2020-12/schema","$defs":{`)
	types := make([]string, 0, len(r.versions))
	for t := range r.versions {
		types = append(types, t)
	}
	sort.Strings(types)
	for i, t := range types {
		if i > 0 {
			buf.WriteByte(',')
		}
		chain := r.versions[t]
		fmt.Fprintf(&buf, "%q:%s", t, chain[len(chain)-1].Raw)
	}
	buf.WriteString("}}")
	return buf.Bytes()
}

// parseVersion parses "MAJOR.MINOR" version strings.
func parseVersion(v string) (major, minor int, err error) {
	parts := strings.SplitN(v, ".", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("schema: invalid version %q, want MAJOR.MINOR", v)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("schema: invalid version %q: %w", v, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("schema: invalid version %q: %w", v, err)
	}
	return major, minor, nil
}

func compareVersions(a, b string) int {
	amaj, amin, _ := parseVersion(a)
	bmaj, bmin, _ := parseVersion(b)
	if amaj != bmaj {
		return amaj - bmaj
	}
	return amin - bmin
}
