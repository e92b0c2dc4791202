package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCredentials_Sign(t *testing.T) {
	// Generate a test key
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	creds := &Credentials{
		KeyID:      "test-key-id",
		PrivateKey: privateKey,
	}

	now := time.UnixMilli(1705320000123)
	header, err := creds.Sign("GET", "/feed/v1", now)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if got := header.Get(HeaderKey); got != "test-key-id" {
		t.Errorf("%s = %q, want %q", HeaderKey, got, "test-key-id")
	}

	if got := header.Get(HeaderTimestamp); got != "1705320000123" {
		t.Errorf("%s = %q, want %q", HeaderTimestamp, got, "1705320000123")
	}

	// Signature should be base64 encoded
	if !isValidBase64(header.Get(HeaderSignature)) {
		t.Errorf("%s is not valid base64: %q", HeaderSignature, header.Get(HeaderSignature))
	}

	if err := Verify(&privateKey.PublicKey, header, "GET", "/feed/v1"); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}

func TestVerify_Rejects(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	creds := &Credentials{KeyID: "k", PrivateKey: privateKey}
	header, err := creds.Sign("GET", "/feed/v1", time.Now())
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if err := Verify(&privateKey.PublicKey, header, "GET", "/other"); !errors.Is(err, ErrBadSignature) {
		t.Errorf("wrong path: got %v, want ErrBadSignature", err)
	}
	if err := Verify(&other.PublicKey, header, "GET", "/feed/v1"); !errors.Is(err, ErrBadSignature) {
		t.Errorf("wrong key: got %v, want ErrBadSignature", err)
	}
	if err := Verify(&privateKey.PublicKey, http.Header{}, "GET", "/feed/v1"); !errors.Is(err, ErrBadSignature) {
		t.Errorf("missing headers: got %v, want ErrBadSignature", err)
	}
}

func TestCredentials_NilSignsNothing(t *testing.T) {
	var creds *Credentials
	header, err := creds.Sign("GET", "/feed/v1", time.Now())
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if len(header) != 0 {
		t.Errorf("expected no headers, got %v", header)
	}
}

func TestLoadPrivateKey_PKCS8(t *testing.T) {
	// Generate a test key
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	// Encode as PKCS#8
	pkcs8Bytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("failed to marshal PKCS#8: %v", err)
	}

	pemBlock := &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: pkcs8Bytes,
	}

	// Write to temp file
	tmpFile := filepath.Join(t.TempDir(), "test-key.pem")
	if err := os.WriteFile(tmpFile, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	// Load and verify
	loadedKey, err := LoadPrivateKey(tmpFile)
	if err != nil {
		t.Fatalf("LoadPrivateKey failed: %v", err)
	}

	if loadedKey.N.Cmp(privateKey.N) != 0 {
		t.Error("loaded key does not match original")
	}
}

func TestLoadPrivateKey_PKCS1(t *testing.T) {
	// Generate a test key
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	// Encode as PKCS#1
	pkcs1Bytes := x509.MarshalPKCS1PrivateKey(privateKey)

	pemBlock := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: pkcs1Bytes,
	}

	// Write to temp file
	tmpFile := filepath.Join(t.TempDir(), "test-key.pem")
	if err := os.WriteFile(tmpFile, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	// Load and verify
	loadedKey, err := LoadPrivateKey(tmpFile)
	if err != nil {
		t.Fatalf("LoadPrivateKey failed: %v", err)
	}

	if loadedKey.N.Cmp(privateKey.N) != 0 {
		t.Error("loaded key does not match original")
	}
}

func TestLoadPrivateKey_FileNotFound(t *testing.T) {
	_, err := LoadPrivateKey("/nonexistent/path/to/key.pem")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadPrivateKey_InvalidPEM(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "invalid.pem")
	if err := os.WriteFile(tmpFile, []byte("not a pem file"), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	_, err := LoadPrivateKey(tmpFile)
	if err == nil {
		t.Error("expected error for invalid PEM")
	}
}

func TestLoadCredentials(t *testing.T) {
	// Generate a test key
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	// Write key to temp file
	pkcs8Bytes, _ := x509.MarshalPKCS8PrivateKey(privateKey)
	pemBlock := &pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8Bytes}
	tmpFile := filepath.Join(t.TempDir(), "test-key.pem")
	if err := os.WriteFile(tmpFile, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	creds, err := LoadCredentials("my-key-id", tmpFile)
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}

	if creds.KeyID != "my-key-id" {
		t.Errorf("KeyID = %q, want %q", creds.KeyID, "my-key-id")
	}

	if creds.PrivateKey == nil {
		t.Error("PrivateKey is nil")
	}
}

func TestLoadCredentials_MissingKeyID(t *testing.T) {
	_, err := LoadCredentials("", "/some/path")
	if err == nil {
		t.Error("expected error for missing key ID")
	}
}

func TestLoadCredentials_MissingPath(t *testing.T) {
	_, err := LoadCredentials("key-id", "")
	if err == nil {
		t.Error("expected error for missing path")
	}
}

func isValidBase64(s string) bool {
	// Base64 encoded string should only contain valid characters
	for _, c := range s {
		if !strings.ContainsRune("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/=", c) {
			return false
		}
	}
	return len(s) > 0
}
