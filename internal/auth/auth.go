// Package auth signs feed gateway handshakes using RSA-PSS signatures.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Handshake header names.
const (
	HeaderKey       = "X-Feed-Key"
	HeaderTimestamp = "X-Feed-Timestamp"
	HeaderSignature = "X-Feed-Signature"
)

// ErrBadSignature is returned by Verify when headers do not authenticate.
var ErrBadSignature = errors.New("bad handshake signature")

// Credentials holds the key id and private key for signing handshakes.
type Credentials struct {
	KeyID      string          // Key id registered with the feed gateway
	PrivateKey *rsa.PrivateKey // RSA private key for signing
}

// LoadCredentials loads credentials from key ID and private key file path.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, fmt.Errorf("key ID is required")
	}
	if privateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Credentials{
		KeyID:      keyID,
		PrivateKey: privateKey,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	// Try PKCS#8 first (newer format)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	// Fall back to PKCS#1 (older format)
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return rsaKey, nil
}

// Sign returns the handshake headers for a request to path at time now.
// A nil receiver returns empty headers, so unauthenticated feeds need no
// special casing.
func (c *Credentials) Sign(method, path string, now time.Time) (http.Header, error) {
	header := http.Header{}
	if c == nil {
		return header, nil
	}

	timestampMs := now.UnixMilli()
	digest := signingDigest(timestampMs, method, path)

	signature, err := rsa.SignPSS(
		rand.Reader,
		c.PrivateKey,
		crypto.SHA256,
		digest[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return nil, fmt.Errorf("sign handshake: %w", err)
	}

	header.Set(HeaderKey, c.KeyID)
	header.Set(HeaderTimestamp, strconv.FormatInt(timestampMs, 10))
	header.Set(HeaderSignature, base64.StdEncoding.EncodeToString(signature))
	return header, nil
}

// Verify checks handshake headers against pub. Gateways and test doubles use it.
func Verify(pub *rsa.PublicKey, header http.Header, method, path string) error {
	timestampMs, err := strconv.ParseInt(header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp: %v", ErrBadSignature, err)
	}
	signature, err := base64.StdEncoding.DecodeString(header.Get(HeaderSignature))
	if err != nil {
		return fmt.Errorf("%w: encoding: %v", ErrBadSignature, err)
	}

	digest := signingDigest(timestampMs, method, path)
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], signature, opts); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// Message format: timestamp_ms + method + path
func signingDigest(timestampMs int64, method, path string) [32]byte {
	return sha256.Sum256([]byte(strconv.FormatInt(timestampMs, 10) + method + path))
}
