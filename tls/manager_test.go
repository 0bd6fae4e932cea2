package tls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
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

	"github.com/saiset-co/sai-resources/logger"
	"github.com/saiset-co/sai-resources/types"
)

func writeKeyPair(t *testing.T, notBefore, notAfter time.Time) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "resources.local"},
		DNSNames:     []string{"resources.local"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")

	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))

	return certFile, keyFile
}

func TestCertManager_StaticKeyPair(t *testing.T) {
	certFile, keyFile := writeKeyPair(t, time.Now().Add(-time.Hour), time.Now().Add(90*24*time.Hour))

	cm, err := NewCertManager(context.Background(), logger.NewNop(), &types.TLSConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
	})
	require.NoError(t, err)

	_, err = cm.Serve("127.0.0.1:0")
	assert.ErrorIs(t, err, types.ErrServerNotRunning)

	require.NoError(t, cm.Start())
	defer func() { _ = cm.Stop() }()
	assert.ErrorIs(t, cm.Start(), types.ErrServerAlreadyRunning)

	config := cm.GetTLSConfig()
	require.Len(t, config.Certificates, 1)

	status := cm.CertificateStatus()
	assert.Equal(t, "valid", status.Status)
	assert.Equal(t, "resources.local", status.Domain)
	assert.InDelta(t, 89, status.DaysUntilExpiry, 1)

	check := cm.HealthChecker()(context.Background())
	assert.Equal(t, types.StatusHealthy, check.Status)

	ln, err := cm.Serve("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())
}

func TestCertManager_ExpiredCertificate(t *testing.T) {
	certFile, keyFile := writeKeyPair(t, time.Now().Add(-48*time.Hour), time.Now().Add(-24*time.Hour))

	cm, err := NewCertManager(context.Background(), logger.NewNop(), &types.TLSConfig{CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)

	assert.ErrorIs(t, cm.Start(), types.ErrTLSConfigInvalid)
	assert.False(t, cm.IsRunning())

	check := cm.HealthChecker()(context.Background())
	assert.Equal(t, types.StatusUnhealthy, check.Status)
}

func TestCertManager_InvalidConfig(t *testing.T) {
	_, err := NewCertManager(context.Background(), logger.NewNop(), nil)
	assert.ErrorIs(t, err, types.ErrTLSConfigInvalid)

	_, err = NewCertManager(context.Background(), logger.NewNop(), &types.TLSConfig{CertFile: "cert.pem"})
	assert.ErrorIs(t, err, types.ErrTLSConfigInvalid)

	_, err = NewCertManager(context.Background(), logger.NewNop(), &types.TLSConfig{AutoCert: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTLSConfigInvalid)
}

func TestCertManager_AutoCert(t *testing.T) {
	cm, err := NewCertManager(context.Background(), logger.NewNop(), &types.TLSConfig{
		AutoCert: true,
		Domains:  []string{"resources.example.com"},
		CacheDir: filepath.Join(t.TempDir(), "certs"),
	})
	require.NoError(t, err)

	require.NoError(t, cm.Start())
	defer func() { _ = cm.Stop() }()

	config := cm.GetTLSConfig()
	assert.NotNil(t, config.GetCertificate)
	assert.Empty(t, config.Certificates)

	check := cm.HealthChecker()(context.Background())
	assert.Equal(t, types.StatusHealthy, check.Status)
}

func TestCertManager_ExpiringSoonIsDegraded(t *testing.T) {
	certFile, keyFile := writeKeyPair(t, time.Now().Add(-time.Hour), time.Now().Add(10*24*time.Hour))

	cm, err := NewCertManager(context.Background(), logger.NewNop(), &types.TLSConfig{CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)
	require.NoError(t, cm.Start())
	defer func() { _ = cm.Stop() }()

	assert.Equal(t, "expiring_soon", cm.CertificateStatus().Status)

	check := cm.HealthChecker()(context.Background())
	assert.Equal(t, types.StatusDegraded, check.Status)
	assert.Equal(t, "certificate expiring_soon", check.Message)
}
