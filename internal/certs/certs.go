// Package certs provides a self-signed serving certificate for the suggestion
// API when it is exposed over HTTPS without an external terminator.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Validity of generated certificates.
const Validity = 365 * 24 * time.Hour

// renewBefore regenerates certificates this close to expiry.
const renewBefore = 7 * 24 * time.Hour

// FileManager keeps a certificate and key pair in a directory.
type FileManager struct {
	certFile string
	keyFile  string
	dir      string
	hosts    []string
}

// NewFileManager creates a manager for dir. hosts are the DNS names and IPs the
// certificate must cover; localhost and the loopback addresses are always
// included.
func NewFileManager(dir string, hosts ...string) *FileManager {
	all := []string{"localhost", "127.0.0.1", "::1"}
	for _, h := range hosts {
		if h != "" && !contains(all, h) {
			all = append(all, h)
		}
	}
	return &FileManager{
		certFile: filepath.Join(dir, "suggest.crt"),
		keyFile:  filepath.Join(dir, "suggest.key"),
		dir:      dir,
		hosts:    all,
	}
}

// TLSConfig returns a server TLS config around the managed certificate.
func (m *FileManager) TLSConfig() (*tls.Config, error) {
	cert, err := m.GetOrCreateCertificate()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// GetOrCreateCertificate loads the stored pair, replacing it when it is
// missing, unreadable, close to expiry or does not cover every host.
func (m *FileManager) GetOrCreateCertificate() (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(m.certFile, m.keyFile)
	switch {
	case err == nil:
		verifyErr := m.verify(cert)
		if verifyErr == nil {
			return cert, nil
		}
		slog.Info("Regenerating serving certificate", "reason", verifyErr)
	case errors.Is(err, os.ErrNotExist):
	default:
		slog.Warn("Stored serving certificate is unreadable, regenerating", "error", err)
	}
	return m.generate()
}

func (m *FileManager) generate() (tls.Certificate, error) {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate directory: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"Spice Suggest"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(Validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range m.hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to encode private key: %w", err)
	}

	if err := writePEM(m.certFile, "CERTIFICATE", der); err != nil {
		return tls.Certificate{}, err
	}
	if err := writePEM(m.keyFile, "EC PRIVATE KEY", keyDER); err != nil {
		return tls.Certificate{}, err
	}

	slog.Info("Generated serving certificate", "path", m.certFile, "hosts", m.hosts, "expires", template.NotAfter)
	return tls.LoadX509KeyPair(m.certFile, m.keyFile)
}

func (m *FileManager) verify(cert tls.Certificate) error {
	if len(cert.Certificate) == 0 {
		return errors.New("no certificate in pair")
	}
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	now := time.Now()
	if now.Before(parsed.NotBefore) {
		return errors.New("certificate not yet valid")
	}
	if now.Add(renewBefore).After(parsed.NotAfter) {
		return errors.New("certificate expires soon")
	}
	for _, h := range m.hosts {
		if err := parsed.VerifyHostname(h); err != nil {
			return fmt.Errorf("certificate does not cover %s", h)
		}
	}
	return nil
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // path is built from the configured cert dir
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
