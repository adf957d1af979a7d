package types

import (
	"strings"
	"testing"

	"github.com/keep-network/tbtc-relayer/testing/assert"
	"github.com/keep-network/tbtc-relayer/testing/require"
)

func TestCalculateDepositID_Deterministic(t *testing.T) {
	var hash [32]byte
	for i := range hash {
		hash[i] = byte(i)
	}
	id1 := CalculateDepositID(hash, 0)
	id2 := CalculateDepositID(hash, 0)
	assert.Equal(t, id1, id2)

	// A different output index must produce a different key.
	id3 := CalculateDepositID(hash, 1)
	assert.NotEqual(t, id1, id3)

	// Canonical form is a decimal string.
	for _, r := range id1 {
		if r < '0' || r > '9' {
			t.Fatalf("non-decimal rune %q in deposit id %s", r, id1)
		}
	}
}

func TestParseDepositID_AcceptsBothForms(t *testing.T) {
	var hash [32]byte
	hash[31] = 0x2a
	decimal := CalculateDepositID(hash, 7)

	parsed, err := ParseDepositID(decimal)
	require.NoError(t, err)
	assert.Equal(t, decimal, parsed)

	// Zero-padded bytes32 hex is accepted too.
	key, err := DepositIDToBytes32(decimal)
	require.NoError(t, err)
	parsed, err = ParseDepositID("0x" + hexEncode(key[:]))
	require.NoError(t, err)
	assert.Equal(t, decimal, parsed)
}

func TestParseDepositID_Rejects(t *testing.T) {
	_, err := ParseDepositID("")
	require.ErrorContains(t, "empty deposit id", err)
	_, err = ParseDepositID("not-a-number")
	require.ErrorContains(t, "invalid decimal deposit id", err)
	_, err = ParseDepositID("0xzz")
	require.ErrorContains(t, "invalid hex deposit id", err)
}

func TestFundingTxHash(t *testing.T) {
	// A minimal coinbase-style transaction; the digest must be the
	// double SHA-256 of the concatenated components.
	tx := BitcoinTxInfo{
		Version:      "0x01000000",
		InputVector:  "0x0100000000000000000000000000000000000000000000000000000000000000000000000000ffffffff",
		OutputVector: "0x010000000000000000015a",
		Locktime:     "0x00000000",
	}
	digest, err := FundingTxHash(tx)
	require.NoError(t, err)

	again, err := FundingTxHash(tx)
	require.NoError(t, err)
	assert.DeepEqual(t, digest, again)

	tx.Locktime = "0x01000000"
	changed, err := FundingTxHash(tx)
	require.NoError(t, err)
	assert.DeepNotEqual(t, digest, changed)
}

func TestFundingTxHash_MalformedComponent(t *testing.T) {
	tx := BitcoinTxInfo{Version: "0xzz", InputVector: "0x", OutputVector: "0x", Locktime: "0x"}
	_, err := FundingTxHash(tx)
	require.ErrorContains(t, "malformed funding transaction component", err)
}

func TestCalculateRedemptionID(t *testing.T) {
	txHash := "0x" + strings.Repeat("ab", 32)
	id1, err := CalculateRedemptionID(txHash, 0)
	require.NoError(t, err)
	id2, err := CalculateRedemptionID(txHash, 1)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	_, err = CalculateRedemptionID("zz", 0)
	require.ErrorContains(t, "invalid L2 transaction hash", err)
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 0, len(b)*2)
	for _, v := range b {
		out = append(out, digits[v>>4], digits[v&0x0f])
	}
	return string(out)
}
