package env

import (
	"testing"

	"github.com/loykin/webvisor/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_OrderAndExpansion(t *testing.T) {
	e := &Env{env: Var{"HOME": "/root", "MODE": "os"}}
	e.Set("MODE", "global")
	e.Set("DATA", "${HOME}/data")

	out := e.Merge([]string{"MODE=app", "=broken", "noequals"})
	v, ok := Lookup(out, "MODE")
	require.True(t, ok)
	assert.Equal(t, "app", v)
	v, _ = Lookup(out, "DATA")
	assert.Equal(t, "/root/data", v)
	assert.IsNonDecreasing(t, out)
	for _, kv := range out {
		assert.NotEqual(t, "noequals", kv)
	}
}

func TestWithSet_DoesNotMutate(t *testing.T) {
	e := FromList([]string{"A=1"})
	e2 := e.WithSet("B", "2")
	_, ok := e.Var["B"]
	assert.False(t, ok)
	assert.Equal(t, "2", e2.Var["B"])
	assert.Equal(t, "1", e2.Var["A"])
}

func TestWorker(t *testing.T) {
	e := &Env{env: Var{"PATH": "/bin"}, Var: Var{"NODE_ENV": "production"}}
	spec := process.Spec{Name: "edge", Env: []string{"PORT_HINT=8080", "WEBVISOR_APP=spoofed"}}

	out := e.Worker(spec, 2, "prod")
	for key, want := range map[string]string{
		VarApp:      "edge",
		VarSlot:     "2",
		VarEnv:      "prod",
		"NODE_ENV":  "production",
		"PORT_HINT": "8080",
		"PATH":      "/bin",
	} {
		got, ok := Lookup(out, key)
		require.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
}

func TestFromOS(t *testing.T) {
	t.Setenv("WEBVISOR_TEST_VAR", "present")
	e := New()
	out := e.Merge(nil)
	v, ok := Lookup(out, "WEBVISOR_TEST_VAR")
	assert.True(t, ok)
	assert.Equal(t, "present", v)
}
