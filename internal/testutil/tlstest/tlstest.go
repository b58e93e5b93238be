// Package tlstest issues throwaway client certificates the way a panel
// does for its nodes.
package tlstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Panel is a self-signed issuing authority.
type Panel struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

func NewPanel(t testing.TB, name string) *Panel {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate panel key: %v", err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: name, Organization: []string{"marzneshin"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create panel cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse panel cert: %v", err)
	}
	return &Panel{cert: cert, key: key}
}

// ClientPEM issues a client certificate for node and returns it PEM encoded.
func (p *Panel) ClientPEM(t testing.TB, node string) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano()),
		Subject:      pkix.Name{CommonName: node},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, p.cert, &key.PublicKey, p.key)
	if err != nil {
		t.Fatalf("create client cert: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// WriteClientPEM issues a client certificate into dir and returns its path.
func (p *Panel) WriteClientPEM(t testing.TB, dir string, node string) string {
	t.Helper()
	path := filepath.Join(dir, sanitize(node)+".pem")
	if err := os.WriteFile(path, p.ClientPEM(t, node), 0o600); err != nil {
		t.Fatalf("write client cert: %v", err)
	}
	return path
}

// ClientPEM issues a single client certificate from a fresh panel.
func ClientPEM(t testing.TB) string {
	t.Helper()
	return string(NewPanel(t, "marzneshin-panel").ClientPEM(t, "marznode"))
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "client"
	}
	return strings.NewReplacer("/", "_", ":", "_").Replace(s)
}
