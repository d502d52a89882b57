package certs

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(t *testing.T, cert tls.Certificate) *x509.Certificate {
	t.Helper()
	require.Len(t, cert.Certificate, 1)
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return parsed
}

func TestGetOrCreateCertificate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	m := NewFileManager(dir, "suggest.internal", "10.0.0.5")

	cert, err := m.GetOrCreateCertificate()
	require.NoError(t, err)
	parsed := leaf(t, cert)

	assert.Equal(t, []string{"Spice Suggest"}, parsed.Subject.Organization)
	assert.ElementsMatch(t, []string{"localhost", "suggest.internal"}, parsed.DNSNames)
	assert.NoError(t, parsed.VerifyHostname("127.0.0.1"))
	assert.NoError(t, parsed.VerifyHostname("::1"))
	assert.NoError(t, parsed.VerifyHostname("10.0.0.5"))
	assert.True(t, parsed.NotAfter.After(time.Now().Add(Validity-time.Hour)))
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}, parsed.ExtKeyUsage)

	info, err := os.Stat(filepath.Join(dir, "suggest.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := m.GetOrCreateCertificate()
	require.NoError(t, err)
	assert.Equal(t, parsed.SerialNumber, leaf(t, again).SerialNumber, "a valid pair is reused")
}

func TestGetOrCreateCertificate_Regenerates(t *testing.T) {
	t.Run("garbage on disk", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "suggest.crt"), []byte("nope"), 0o600))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "suggest.key"), []byte("nope"), 0o600))

		cert, err := NewFileManager(dir).GetOrCreateCertificate()
		require.NoError(t, err)
		assert.NoError(t, leaf(t, cert).VerifyHostname("localhost"))
	})

	t.Run("new host", func(t *testing.T) {
		dir := t.TempDir()
		first, err := NewFileManager(dir).GetOrCreateCertificate()
		require.NoError(t, err)

		second, err := NewFileManager(dir, "api.example.test").GetOrCreateCertificate()
		require.NoError(t, err)

		assert.NotEqual(t, leaf(t, first).SerialNumber, leaf(t, second).SerialNumber)
		assert.NoError(t, leaf(t, second).VerifyHostname("api.example.test"))
	})
}

func TestTLSConfig_Handshake(t *testing.T) {
	cfg, err := NewFileManager(t.TempDir()).TLSConfig()
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", cfg)
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = conn.(*tls.Conn).Handshake()
		_ = conn.Close()
	}()

	pool := x509.NewCertPool()
	pool.AddCert(leaf(t, cfg.Certificates[0]))
	conn, err := tls.Dial("tcp", ln.Addr().String(), &tls.Config{RootCAs: pool, ServerName: "localhost", MinVersion: tls.VersionTLS12})
	require.NoError(t, err)
	assert.Equal(t, "localhost", conn.ConnectionState().ServerName)
	_ = conn.Close()
}
