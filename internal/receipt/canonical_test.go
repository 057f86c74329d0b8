package receipt

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalBytes_Deterministic(t *testing.T) {
	p := baseParams()
	p.AdditionalContext = map[string]interface{}{
		"session_id": "sess_12345",
		"nested":     map[string]interface{}{"b": 2, "a": 1},
		"list":       []interface{}{"x", "y"},
	}
	r, err := New(p)
	require.NoError(t, err)

	first, err := CanonicalBytes(r)
	require.NoError(t, err)
	second, err := CanonicalBytes(r)
	require.NoError(t, err)

	assert.Equal(t, first, second, "одинаковое состояние обязано давать одинаковые байты")
}

func TestCanonicalBytes_SortedKeys(t *testing.T) {
	r, err := New(baseParams())
	require.NoError(t, err)

	raw, err := CanonicalBytes(r)
	require.NoError(t, err)
	s := string(raw)

	// RFC 8785: ключи в лексикографическом порядке
	idxAction := strings.Index(s, `"action"`)
	idxAgent := strings.Index(s, `"agent_id"`)
	idxVersion := strings.Index(s, `"version"`)
	require.NotEqual(t, -1, idxAction)
	assert.Less(t, idxAction, idxAgent)
	assert.Less(t, idxAgent, idxVersion)
}

func TestCanonicalBytes_IgnoresSignature(t *testing.T) {
	r, err := New(baseParams())
	require.NoError(t, err)

	before, err := CanonicalBytes(r)
	require.NoError(t, err)

	r.SetSignature("sig", "rsa")
	r.SetCertificateChain([]string{"cert"})

	after, err := CanonicalBytes(r)
	require.NoError(t, err)
	assert.Equal(t, before, after, "подпись и сертификаты не входят в подписываемые данные")
}

func TestCanonicalBytes_ChangesWithState(t *testing.T) {
	r, err := New(baseParams())
	require.NoError(t, err)

	before, err := CanonicalBytes(r)
	require.NoError(t, err)

	r.AddComplianceTag("GDPR")
	after, err := CanonicalBytes(r)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	r.AddAuditEntry("accessed", nil)
	final, err := CanonicalBytes(r)
	require.NoError(t, err)
	assert.NotEqual(t, after, final)
}

func TestCanonicalBytes_RejectsNonSerializable(t *testing.T) {
	p := baseParams()
	p.AdditionalContext = map[string]interface{}{"ch": make(chan int)}
	r, err := New(p)
	require.NoError(t, err)

	_, err = CanonicalBytes(r)
	assert.ErrorIs(t, err, ErrCanonicalization)
}

func TestCanonicalBytes_RejectsNaN(t *testing.T) {
	p := baseParams()
	p.AdditionalContext = map[string]interface{}{"score": math.NaN()}
	r, err := New(p)
	require.NoError(t, err)

	_, err = CanonicalBytes(r)
	assert.ErrorIs(t, err, ErrCanonicalization)
}
