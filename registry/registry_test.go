package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowllm-ai/flowllm/flowerr"
	"github.com/flowllm-ai/flowllm/registry"
)

func TestRegister_DuplicateFails(t *testing.T) {
	r := registry.New()
	ctor := func() (any, error) { return 1, nil }
	require.NoError(t, r.Register(registry.CategoryOp, "echo", ctor))
	err := r.Register(registry.CategoryOp, "echo", ctor)
	require.Error(t, err)
}

func TestResolve_Unregistered(t *testing.T) {
	r := registry.New()
	_, err := r.Resolve(registry.CategoryOp, "missing")
	require.Error(t, err)
	kind, ok := flowerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, flowerr.KindUnknownOp, kind)

	_, err = r.Resolve(registry.CategoryLLM, "missing")
	kind, ok = flowerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, flowerr.KindUnknownResource, kind)
}

func TestResolveDefault(t *testing.T) {
	r := registry.New()
	_, err := r.ResolveDefault(registry.CategoryLLM)
	require.Error(t, err)

	require.NoError(t, r.Register(registry.CategoryLLM, registry.DefaultName, func() (any, error) {
		return "llm-instance", nil
	}))
	got, err := r.ResolveDefault(registry.CategoryLLM)
	require.NoError(t, err)
	assert.Equal(t, "llm-instance", got)
}

func TestCaseSensitiveNames(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register(registry.CategoryOp, "Echo", func() (any, error) { return nil, nil }))
	assert.True(t, r.Has(registry.CategoryOp, "Echo"))
	assert.False(t, r.Has(registry.CategoryOp, "echo"))
}
