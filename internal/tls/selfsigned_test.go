package tls

import (
	stdtls "crypto/tls"
	"crypto/x509"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCertificate(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")

	generated, err := EnsureCertificate(certPath, keyPath, []string{"localhost", "127.0.0.1"})
	require.NoError(t, err)
	assert.True(t, generated)

	pair, err := stdtls.LoadX509KeyPair(certPath, keyPath)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost"}, cert.DNSNames)
	require.Len(t, cert.IPAddresses, 1)
	assert.True(t, cert.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")))

	generated, err = EnsureCertificate(certPath, keyPath, []string{"localhost"})
	require.NoError(t, err)
	assert.False(t, generated)
}

func TestEnsureCertificate_NoHosts(t *testing.T) {
	dir := t.TempDir()
	_, err := EnsureCertificate(filepath.Join(dir, "c.pem"), filepath.Join(dir, "k.pem"), nil)
	assert.Error(t, err)

	_, err = EnsureCertificate("", "", []string{"localhost"})
	assert.Error(t, err)
}
