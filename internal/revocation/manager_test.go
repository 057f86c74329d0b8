package revocation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestManager_LocalOnly(t *testing.T) {
	// Без Redis менеджер работает как локальный список
	m := NewManager(nil, zap.NewNop())
	require.NoError(t, m.Init(context.Background()))

	assert.False(t, m.IsRevoked("poi_abc"))

	require.NoError(t, m.Revoke(context.Background(), "poi_abc"))
	assert.True(t, m.IsRevoked("poi_abc"))
	assert.False(t, m.IsRevoked("poi_other"))
}

func TestManager_MarkRevokedIdempotent(t *testing.T) {
	m := NewManager(nil, zap.NewNop())

	m.MarkRevoked("poi_abc")
	m.MarkRevoked("poi_abc")
	assert.True(t, m.IsRevoked("poi_abc"))
}
