// Package exchange implements the exchange adapters the core trades
// through: the Kalshi REST adapter and the reference price feed.
package exchange

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

// RequestSigner signs API requests with RSA-PSS over
// timestamp + method + path, as the exchange requires. Query parameters
// are excluded from the signed path.
type RequestSigner struct {
	keyID      string
	privateKey *rsa.PrivateKey
	now        func() time.Time
}

// NewRequestSigner loads a PEM private key from disk.
func NewRequestSigner(keyID, privateKeyPath string) (*RequestSigner, error) {
	raw, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM private key")
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		parsed, perr := x509.ParsePKCS8PrivateKey(block.Bytes)
		if perr != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", perr)
		}
		var ok bool
		key, ok = parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &RequestSigner{keyID: keyID, privateKey: key, now: time.Now}, nil
}

// SignRequest attaches the access key, timestamp and signature headers.
func (s *RequestSigner) SignRequest(req *http.Request) error {
	timestamp := s.now().UnixMilli()
	msg := strconv.FormatInt(timestamp, 10) + req.Method + req.URL.Path

	digest := sha256.Sum256([]byte(msg))
	sig, err := rsa.SignPSS(rand.Reader, s.privateKey, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", s.keyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(sig))
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	return nil
}
