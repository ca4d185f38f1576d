package provider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semlink/internal/provider"
	"semlink/internal/provider/mock"
)

func TestNew_SelectsRegisteredProvider(t *testing.T) {
	a, err := provider.New(provider.Config{Provider: "mock", Model: "test-model", Dims: 4})
	require.NoError(t, err)
	assert.Equal(t, "mock", a.Name())
	assert.Equal(t, "test-model", a.ModelKey())
	assert.Equal(t, 4, a.Dims())
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := provider.New(provider.Config{Provider: "no-such-provider"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-provider")
}

func TestNames_IncludesBuiltins(t *testing.T) {
	assert.Contains(t, provider.Names(), "mock")
}

func TestRegister_FactoryErrorPropagates(t *testing.T) {
	boom := errors.New("bad config")
	provider.Register("failing-test-provider", func(provider.Config) (provider.Adapter, error) {
		return nil, boom
	})
	_, err := provider.New(provider.Config{Provider: "failing-test-provider"})
	assert.ErrorIs(t, err, boom)
}

func TestMock_DeterministicVectors(t *testing.T) {
	a := mock.New(8, "")
	ctx := context.Background()

	r1, err := a.EmbedBatch(ctx, []provider.Input{{Text: "alpha"}, {Text: "beta"}})
	require.NoError(t, err)
	r2, err := a.EmbedBatch(ctx, []provider.Input{{Text: "alpha"}})
	require.NoError(t, err)

	require.Len(t, r1, 2)
	assert.Equal(t, r1[0].Vector, r2[0].Vector, "same text, same vector")
	assert.NotEqual(t, r1[0].Vector, r1[1].Vector)
	assert.Len(t, r1[0].Vector, 8)
	assert.Equal(t, 2, a.Calls())
}

func TestMock_FailFirst(t *testing.T) {
	a := mock.New(4, "")
	a.FailFirst = 2
	a.FailErr = errors.New("transient")
	ctx := context.Background()
	in := []provider.Input{{Text: "x"}}

	_, err := a.EmbedBatch(ctx, in)
	require.Error(t, err)
	_, err = a.EmbedBatch(ctx, in)
	require.Error(t, err)
	res, err := a.EmbedBatch(ctx, in)
	require.NoError(t, err)
	require.Len(t, res, 1)
}
