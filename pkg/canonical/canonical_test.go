package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsKeys(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2, "c": map[string]interface{}{"z": true, "y": false}}

	out, err := Canonicalize(a)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":{"y":false,"z":true}}`, string(out))
}

func TestFingerprintStableUnderKeyReordering(t *testing.T) {
	first := map[string]interface{}{"symbol": "AAPL", "price": 182.50, "volume": 1000}
	second := map[string]interface{}{"volume": 1000, "price": 182.5, "symbol": "AAPL"}

	f1, err := Fingerprint(first)
	require.NoError(t, err)
	f2, err := Fingerprint(second)
	require.NoError(t, err)

	assert.Equal(t, f1, f2)
}

func TestFingerprintNormalizesNumericRepresentations(t *testing.T) {
	f1, err := Fingerprint(map[string]interface{}{"v": 1.0})
	require.NoError(t, err)
	f2, err := Fingerprint(map[string]interface{}{"v": 1})
	require.NoError(t, err)

	assert.Equal(t, f1, f2)
}

func TestFingerprintRoundsBeyondEightDecimals(t *testing.T) {
	f1, err := Fingerprint(map[string]interface{}{"v": 0.123456789012})
	require.NoError(t, err)
	f2, err := Fingerprint(map[string]interface{}{"v": 0.123456789999})
	require.NoError(t, err)

	// Both round to 0.12345679 at 8 decimal places.
	assert.Equal(t, f1, f2)
}

func TestFingerprintDistinguishesPayloads(t *testing.T) {
	f1, err := Fingerprint(map[string]interface{}{"symbol": "AAPL"})
	require.NoError(t, err)
	f2, err := Fingerprint(map[string]interface{}{"symbol": "MSFT"})
	require.NoError(t, err)

	assert.NotEqual(t, f1, f2)
}

func TestCanonicalizeStructInput(t *testing.T) {
	type inputs struct {
		Symbol string   `json:"symbol"`
		Rounds int      `json:"rounds"`
		Kinds  []string `json:"kinds"`
	}

	out, err := Canonicalize(inputs{Symbol: "TSLA", Rounds: 2, Kinds: []string{"market", "news"}})
	require.NoError(t, err)
	assert.Equal(t, `{"kinds":["market","news"],"rounds":2,"symbol":"TSLA"}`, string(out))
}
