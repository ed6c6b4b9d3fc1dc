package flags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_BuildsScopedKey(t *testing.T) {
	assert.Equal(t, "migration.1.0.0.compat", Key("1.0.0", "compat"))
	assert.Equal(t, "migration.1.0.0.", Scope("1.0.0"))
}

func TestMemory_EnableDisable(t *testing.T) {
	m := NewMemory()

	assert.False(t, m.IsEnabled("migration.1.0.0.compat"))

	m.Enable("migration.1.0.0.compat")
	assert.True(t, m.IsEnabled("migration.1.0.0.compat"))

	m.Disable("migration.1.0.0.compat")
	assert.False(t, m.IsEnabled("migration.1.0.0.compat"))
}

func TestMemory_DisableScope_KeepsExceptions(t *testing.T) {
	m := NewMemory()
	m.Enable(Key("1.0.0", "compat"))
	m.Enable(Key("1.0.0", "stage_canary"))
	m.Enable(Key("1.0.0", "stage_full"))
	m.Enable(Key("2.0.0", "compat"))

	disabled := m.DisableScope(Scope("1.0.0"), Key("1.0.0", "compat"))

	assert.Equal(t, []string{
		Key("1.0.0", "stage_canary"),
		Key("1.0.0", "stage_full"),
	}, disabled)
	assert.True(t, m.IsEnabled(Key("1.0.0", "compat")))
	assert.True(t, m.IsEnabled(Key("2.0.0", "compat")))
}

func TestMemory_Enabled_ReturnsSortedKeys(t *testing.T) {
	m := NewMemory()
	m.Enable("b")
	m.Enable("a")

	assert.Equal(t, []string{"a", "b"}, m.Enabled())
}
