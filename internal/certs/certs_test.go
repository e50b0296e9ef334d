package certs

import (
	"crypto/sha256"
	"crypto/x509"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	t.Parallel()

	cert, err := Generate(7 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(cert.TLSCert.Certificate) == 0 {
		t.Fatal("no certificate data")
	}
	if !cert.SelfSigned {
		t.Error("generated cert not marked self-signed")
	}

	x509Cert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}
	if validity := x509Cert.NotAfter.Sub(x509Cert.NotBefore); validity > 7*24*time.Hour+2*time.Minute {
		t.Errorf("validity too long: %v", validity)
	}
	if x509Cert.NotAfter.Before(time.Now()) {
		t.Error("cert is already expired")
	}

	want := sha256.Sum256(cert.TLSCert.Certificate[0])
	if cert.Fingerprint != want {
		t.Error("fingerprint does not match certificate DER")
	}
	if cert.FingerprintBase64() == "" {
		t.Error("empty base64 fingerprint")
	}
}

func TestGenerateCapsValidity(t *testing.T) {
	t.Parallel()

	cert, err := Generate(365 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if time.Until(cert.NotAfter) > defaultValidity {
		t.Errorf("validity beyond the 14-day cap: %v", cert.NotAfter)
	}
}

func TestLoadOrGenerateFallsBack(t *testing.T) {
	t.Parallel()

	cert, err := LoadOrGenerate("", "")
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	if !cert.SelfSigned {
		t.Error("expected self-signed fallback when no files configured")
	}
	if cfg := cert.TLSConfig(); len(cfg.Certificates) != 1 {
		t.Errorf("TLSConfig certificates: got %d, want 1", len(cfg.Certificates))
	}
}

func TestLoadOrGenerateMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadOrGenerate("/nonexistent.crt", "/nonexistent.key"); err == nil {
		t.Error("LoadOrGenerate with missing files succeeded")
	}
}
