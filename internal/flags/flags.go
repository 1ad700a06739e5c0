// Package flags gates optional serve-time behavior behind named switches read
// from the `flags:` config section. A Registry is read-only once built.
package flags

import (
	"fmt"
	"maps"
	"slices"

	"github.com/zjrosen/sddrun/internal/log"
)

// Flag name constants for type-safe flag access.
const (
	// FlagStreamLogs lets GET /events?logs=true stream debug log lines.
	FlagStreamLogs = "stream-logs"

	// FlagHTTPTracing wraps every API request in a server span.
	FlagHTTPTracing = "http-tracing"
)

// defaults apply to known flags the config does not mention.
var defaults = map[string]bool{
	FlagStreamLogs:  true,
	FlagHTTPTracing: true,
}

// Known returns the names of every flag sddrun understands, sorted.
func Known() []string {
	return slices.Sorted(maps.Keys(defaults))
}

// Registry holds feature flag state loaded from configuration.
type Registry struct {
	flags map[string]bool
}

// New creates a Registry from a config map. Known flags missing from the map
// take their default value.
func New(flags map[string]bool) *Registry {
	merged := maps.Clone(defaults)
	maps.Copy(merged, flags)
	r := &Registry{flags: merged}
	log.Debug(log.CatConfig, "Feature flags initialized", "count", len(merged), "flags", r.All())
	return r
}

// Enabled returns true if the named flag is enabled.
// Unknown flags and a nil registry report false.
func (r *Registry) Enabled(name string) bool {
	if r == nil {
		return false
	}
	value, exists := r.flags[name]
	if !exists {
		log.Debug(log.CatConfig, "Unknown flag accessed", "flag", name, "result", false)
		return false
	}
	return value
}

// All returns a copy of all flags.
func (r *Registry) All() map[string]bool {
	if r == nil {
		return make(map[string]bool)
	}
	return maps.Clone(r.flags)
}

// Validate rejects flag names sddrun does not know, which are usually typos.
func Validate(flags map[string]bool) error {
	for _, name := range slices.Sorted(maps.Keys(flags)) {
		if _, ok := defaults[name]; !ok {
			return fmt.Errorf("unknown flag %q (known: %v)", name, Known())
		}
	}
	return nil
}
