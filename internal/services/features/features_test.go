package features

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *memoryService {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return newMemoryService(logger)
}

func TestMemoryService_DefaultsOff(t *testing.T) {
	svc := newTestService()

	enabled, err := svc.IsEnabled(context.Background(), 1, AutoResponses)
	require.NoError(t, err)
	assert.False(t, enabled, "auto responses must be opt-in")
}

func TestMemoryService_SetAndToggle(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, 1, AutoResponses, true))
	enabled, err := svc.IsEnabled(ctx, 1, AutoResponses)
	require.NoError(t, err)
	assert.True(t, enabled)

	// Toggle flips and reports the new state.
	enabled, err = svc.Toggle(ctx, 1, AutoResponses)
	require.NoError(t, err)
	assert.False(t, enabled)

	enabled, err = svc.Toggle(ctx, 1, AutoResponses)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestMemoryService_PerChatIsolation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, 1, AutoResponses, true))

	enabled, err := svc.IsEnabled(ctx, 2, AutoResponses)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestMemoryService_UnknownFeature(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := svc.IsEnabled(ctx, 1, "levitation")
	assert.ErrorIs(t, err, ErrUnknownFeature)

	assert.ErrorIs(t, svc.Set(ctx, 1, "levitation", true), ErrUnknownFeature)

	_, err = svc.Toggle(ctx, 1, "levitation")
	assert.ErrorIs(t, err, ErrUnknownFeature)
}
