package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// writePEM сохраняет PEM-блок во временный файл и возвращает путь.
func writePEM(t *testing.T, dir, name, blockType string, der []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func genRSA(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func genEC(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func selfSignedCert(t *testing.T, key *rsa.PrivateKey) []byte {
	t.Helper()
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-rsa-certificate"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	require.NoError(t, err)
	return der
}

func TestFileProvider_RSA(t *testing.T) {
	dir := t.TempDir()
	key := genRSA(t)

	privPath := writePEM(t, dir, "private_key.pem", "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key))
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPath := writePEM(t, dir, "public_key.pem", "PUBLIC KEY", pubDER)

	p, err := NewFileProvider(PathsConfig{
		RSAPrivateKeyPath: privPath,
		RSAPublicKeyPath:  pubPath,
	}, zap.NewNop())
	require.NoError(t, err)

	signer, alg, err := p.Signer("")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmRSA, alg)
	assert.IsType(t, &rsa.PrivateKey{}, signer)

	pub, err := p.Verifier(AlgorithmRSA)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(pub.(*rsa.PublicKey)))
}

func TestFileProvider_ECDSA(t *testing.T) {
	dir := t.TempDir()
	key := genEC(t)

	privDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	privPath := writePEM(t, dir, "ec_private_key.pem", "EC PRIVATE KEY", privDER)

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPath := writePEM(t, dir, "ec_public_key.pem", "PUBLIC KEY", pubDER)

	p, err := NewFileProvider(PathsConfig{
		ECPrivateKeyPath: privPath,
		ECPublicKeyPath:  pubPath,
	}, zap.NewNop())
	require.NoError(t, err)

	signer, alg, err := p.Signer(AlgorithmECDSA)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmECDSA, alg)
	assert.IsType(t, &ecdsa.PrivateKey{}, signer)

	_, err = p.Verifier(AlgorithmECDSA)
	require.NoError(t, err)
}

func TestFileProvider_CertificateFallback(t *testing.T) {
	// Публичный ключ берется из сертификата, если отдельного файла нет
	dir := t.TempDir()
	key := genRSA(t)

	certPath := writePEM(t, dir, "certificate.pem", "CERTIFICATE", selfSignedCert(t, key))

	p, err := NewFileProvider(PathsConfig{RSACertificatePath: certPath}, zap.NewNop())
	require.NoError(t, err)

	cert, err := p.Certificate(AlgorithmRSA)
	require.NoError(t, err)
	require.NotNil(t, cert)

	pub, err := p.Verifier(AlgorithmRSA)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(pub.(*rsa.PublicKey)))
}

func TestFileProvider_Missing(t *testing.T) {
	p, err := NewFileProvider(PathsConfig{}, zap.NewNop())
	require.NoError(t, err)

	_, _, err = p.Signer("")
	assert.ErrorIs(t, err, ErrKeyUnavailable)

	_, err = p.Verifier(AlgorithmRSA)
	assert.ErrorIs(t, err, ErrKeyUnavailable)

	_, err = p.Verifier("dsa")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestStatic(t *testing.T) {
	rsaKey := genRSA(t)
	ecKey := genEC(t)

	s := &Static{
		RSAPrivate: rsaKey,
		RSAPublic:  &rsaKey.PublicKey,
		ECPrivate:  ecKey,
		ECPublic:   &ecKey.PublicKey,
	}

	_, alg, err := s.Signer("")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmRSA, alg)

	_, alg, err = s.Signer(AlgorithmECDSA)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmECDSA, alg)

	empty := &Static{}
	_, _, err = empty.Signer("")
	assert.ErrorIs(t, err, ErrKeyUnavailable)
}

func TestSigner_AlgorithmMatchesKeyType(t *testing.T) {
	s := &Static{RSAPrivate: genRSA(t), ECPrivate: genEC(t)}

	// Семейство в ответе Signer всегда выводится из типа самого ключа
	for _, preferred := range []Algorithm{"", AlgorithmRSA, AlgorithmECDSA} {
		signer, alg, err := s.Signer(preferred)
		require.NoError(t, err)

		derived, err := AlgorithmOf(signer)
		require.NoError(t, err)
		assert.Equal(t, derived, alg)
	}
}

func TestAlgorithmOf(t *testing.T) {
	alg, err := AlgorithmOf(genRSA(t))
	require.NoError(t, err)
	assert.Equal(t, AlgorithmRSA, alg)

	alg, err = AlgorithmOf(genEC(t))
	require.NoError(t, err)
	assert.Equal(t, AlgorithmECDSA, alg)
}
