package acme

import (
	"context"
	"crypto/ecdsa"
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfSigned(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cert, err := SelfSigned([]string{"example.com", "www.example.com"}, now, 90*24*time.Hour)
	require.NoError(t, err)

	pair, err := tls.X509KeyPair(cert.CertPEM, cert.KeyPEM)
	require.NoError(t, err)
	require.Len(t, pair.Certificate, 1)

	notAfter, err := NotAfter(cert.CertPEM)
	require.NoError(t, err)
	assert.True(t, notAfter.Equal(now.Add(90*24*time.Hour)))
	assert.Equal(t, cert.NotAfter, notAfter)

	_, err = SelfSigned(nil, now, time.Hour)
	assert.Error(t, err)
}

func TestSelfSignedCA(t *testing.T) {
	var ca CA = SelfSignedCA{}
	cert, err := ca.Obtain(context.Background(), []string{"example.com"}, "")
	require.NoError(t, err)
	assert.True(t, cert.NotAfter.After(time.Now().Add(300*24*time.Hour)))
}

func TestStoreAndNeedsRenewal(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "example.com", "fullchain.pem")
	keyPath := filepath.Join(dir, "example.com", "privkey.pem")

	renew, _, err := NeedsRenewal(certPath, 30*24*time.Hour, time.Now())
	require.NoError(t, err)
	assert.True(t, renew, "missing certificate needs issuing")

	now := time.Now()
	cert, err := SelfSigned([]string{"example.com"}, now, 60*24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, Store(certPath, keyPath, cert))

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	renew, notAfter, err := NeedsRenewal(certPath, 30*24*time.Hour, now)
	require.NoError(t, err)
	assert.False(t, renew)
	assert.False(t, notAfter.IsZero())

	renew, _, err = NeedsRenewal(certPath, 30*24*time.Hour, now.Add(45*24*time.Hour))
	require.NoError(t, err)
	assert.True(t, renew)
}

func TestNotAfterRejectsGarbage(t *testing.T) {
	_, err := NotAfter([]byte("not a certificate"))
	assert.Error(t, err)
}

func TestAccountKeyIsReused(t *testing.T) {
	ca := &LegoCA{AccountDir: filepath.Join(t.TempDir(), "accounts")}
	first, err := ca.loadAccount("ops@example.com")
	require.NoError(t, err)
	assert.Nil(t, first.Registration)

	second, err := ca.loadAccount("ops@example.com")
	require.NoError(t, err)
	assert.True(t, first.key.(*ecdsa.PrivateKey).Equal(second.key))
}
