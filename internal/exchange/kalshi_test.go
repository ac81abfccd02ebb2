package exchange

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pred_trader/internal/core"
)

func writeTestKey(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.pem")
	pemData := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	require.NoError(t, os.WriteFile(path, pemData, 0o600))
	return path, key
}

func TestRequestSigner_SignsTimestampMethodPath(t *testing.T) {
	path, key := writeTestKey(t)
	signer, err := NewRequestSigner("key-id", path)
	require.NoError(t, err)
	signer.now = func() time.Time { return time.UnixMilli(1700000000000) }

	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/trade-api/v2/portfolio/balance?x=1", nil)
	require.NoError(t, err)
	require.NoError(t, signer.SignRequest(req))

	assert.Equal(t, "key-id", req.Header.Get("KALSHI-ACCESS-KEY"))
	assert.Equal(t, "1700000000000", req.Header.Get("KALSHI-ACCESS-TIMESTAMP"))

	// Query parameters are excluded from the signed message.
	msg := "1700000000000GET/trade-api/v2/portfolio/balance"
	digest := sha256.Sum256([]byte(msg))
	sig, err := base64.StdEncoding.DecodeString(req.Header.Get("KALSHI-ACCESS-SIGNATURE"))
	require.NoError(t, err)
	assert.NoError(t, rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	}))
}

func TestBookParsing_AsksAreComplementOfOppositeBids(t *testing.T) {
	// Resting YES bids at 44c x3 and NO bids at 52c x7.
	yesRows := [][]int64{{44, 3}}
	noRows := [][]int64{{52, 7}}

	yesBids := bidLevels(yesRows)
	require.Len(t, yesBids, 1)
	assert.True(t, yesBids[0].Price.Equal(decimal.NewFromFloat(0.44)))
	assert.True(t, yesBids[0].Qty.Equal(decimal.NewFromInt(3)))

	// A NO bid at 0.52 fills a YES taker at 0.48.
	yesAsks := complementLevels(noRows)
	require.Len(t, yesAsks, 1)
	assert.True(t, yesAsks[0].Price.Equal(decimal.NewFromFloat(0.48)))
	assert.True(t, yesAsks[0].Qty.Equal(decimal.NewFromInt(7)))

	noAsks := complementLevels(yesRows)
	require.Len(t, noAsks, 1)
	assert.True(t, noAsks[0].Price.Equal(decimal.NewFromFloat(0.56)))
}

func TestMapOrderStatus(t *testing.T) {
	assert.Equal(t, core.OrderSubmitted, mapOrderStatus("resting", 10, 10))
	assert.Equal(t, core.OrderPartiallyFilled, mapOrderStatus("resting", 10, 4))
	assert.Equal(t, core.OrderFilled, mapOrderStatus("executed", 10, 0))
	assert.Equal(t, core.OrderCancelled, mapOrderStatus("canceled", 10, 10))
	assert.Equal(t, core.OrderRejected, mapOrderStatus("rejected", 10, 10))
}
