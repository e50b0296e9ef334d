// Package certs provides the TLS material for encrypted transports.
// Certificate and key provisioning is the deployment layer's concern;
// when none is supplied, a self-signed ECDSA P-256 certificate is
// generated so a TLS context always exists for the stages that need one.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"math/big"
	"net"
	"time"
)

// defaultValidity bounds self-signed certificates; browser-facing QUIC
// transports reject self-signed certificates valid longer than 14 days.
const defaultValidity = 14 * 24 * time.Hour

// CertInfo holds a TLS certificate and its SHA-256 fingerprint.
type CertInfo struct {
	TLSCert     tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
	SelfSigned  bool
}

// FingerprintBase64 returns the SHA-256 fingerprint as base64.
func (c *CertInfo) FingerprintBase64() string {
	return base64.StdEncoding.EncodeToString(c.Fingerprint[:])
}

// TLSConfig returns a server-side TLS config carrying this certificate.
func (c *CertInfo) TLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.TLSCert},
		MinVersion:   tls.VersionTLS12,
	}
}

// LoadOrGenerate loads the certificate and key from the given files, or
// generates a self-signed certificate when both paths are empty.
func LoadOrGenerate(certFile, keyFile string) (*CertInfo, error) {
	if certFile == "" && keyFile == "" {
		return Generate(defaultValidity)
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	info := &CertInfo{TLSCert: cert}
	if len(cert.Certificate) > 0 {
		info.Fingerprint = sha256.Sum256(cert.Certificate[0])
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			info.NotAfter = leaf.NotAfter
		}
	}
	return info, nil
}

// Generate creates a new self-signed ECDSA P-256 certificate valid for
// the given duration (capped at 14 days).
func Generate(validity time.Duration) (*CertInfo, error) {
	if validity > defaultValidity || validity <= 0 {
		validity = defaultValidity
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	notBefore := time.Now().Add(-1 * time.Minute) // slight backdate for clock skew
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "flux"},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	return &CertInfo{
		TLSCert: tls.Certificate{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		},
		Fingerprint: sha256.Sum256(certDER),
		NotAfter:    template.NotAfter,
		SelfSigned:  true,
	}, nil
}
