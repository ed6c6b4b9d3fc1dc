// Package flags is the feature-flag store used by gradual rollouts to gate
// compatibility layers and rollout stages.
package flags

import (
	"sort"
	"strings"
	"sync"
)

// Key builds the flag key for a migration stage.
func Key(version, stage string) string {
	return "migration." + version + "." + stage
}

// Scope returns the key prefix covering every flag of a migration.
func Scope(version string) string {
	return "migration." + version + "."
}

// Store tracks boolean feature flags by key.
type Store interface {
	Enable(key string)
	Disable(key string)
	IsEnabled(key string) bool

	// DisableScope disables every flag whose key starts with prefix,
	// except the listed keys. Returns the disabled keys.
	DisableScope(prefix string, except ...string) []string

	// Enabled returns the enabled keys, sorted.
	Enabled() []string
}

// Memory is an in-process Store.
type Memory struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewMemory creates an empty flag store.
func NewMemory() *Memory {
	return &Memory{flags: make(map[string]bool)}
}

func (m *Memory) Enable(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[key] = true
}

func (m *Memory) Disable(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flags, key)
}

func (m *Memory) IsEnabled(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags[key]
}

func (m *Memory) DisableScope(prefix string, except ...string) []string {
	keep := make(map[string]bool, len(except))
	for _, k := range except {
		keep[k] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var disabled []string
	for key := range m.flags {
		if strings.HasPrefix(key, prefix) && !keep[key] {
			delete(m.flags, key)
			disabled = append(disabled, key)
		}
	}
	sort.Strings(disabled)
	return disabled
}

func (m *Memory) Enabled() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.flags))
	for key := range m.flags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
