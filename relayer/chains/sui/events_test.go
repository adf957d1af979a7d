package sui

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/keep-network/tbtc-relayer/encoding/bytesutil"
	"github.com/keep-network/tbtc-relayer/testing/assert"
	"github.com/keep-network/tbtc-relayer/testing/require"
)

func sampleFundingTx(t *testing.T) ([]byte, *wire.MsgTx) {
	t.Helper()
	tx := wire.NewMsgTx(2)
	var prev chainhash.Hash
	prev[0] = 0xaa
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: prev, Index: 3},
		SignatureScript:  []byte{0x51},
		Sequence:         0xfffffffd,
	})
	tx.AddTxOut(&wire.TxOut{Value: 930000, PkScript: []byte{0x00, 0x14, 0x01, 0x02}})
	tx.AddTxOut(&wire.TxOut{Value: 70000, PkScript: []byte{0x6a, 0x01, 0xff}})
	tx.LockTime = 700123

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	return buf.Bytes(), tx
}

func TestSplitFundingTx(t *testing.T) {
	raw, tx := sampleFundingTx(t)

	info, err := splitFundingTx(raw)
	require.NoError(t, err)

	assert.Equal(t, "0x02000000", info.Version)
	locktime := make([]byte, 4)
	binary.LittleEndian.PutUint32(locktime, tx.LockTime)
	assert.Equal(t, bytesutil.EncodeHex(locktime), info.Locktime)

	// The components concatenated reproduce the original serialization.
	var rebuilt []byte
	for _, part := range []string{info.Version, info.InputVector, info.OutputVector, info.Locktime} {
		b, err := bytesutil.DecodeHex(part)
		require.NoError(t, err)
		rebuilt = append(rebuilt, b...)
	}
	assert.DeepEqual(t, raw, rebuilt)

	// Vectors keep their compact-size counts.
	inputVector, err := bytesutil.DecodeHex(info.InputVector)
	require.NoError(t, err)
	assert.Equal(t, byte(1), inputVector[0])
	outputVector, err := bytesutil.DecodeHex(info.OutputVector)
	require.NoError(t, err)
	assert.Equal(t, byte(2), outputVector[0])
}

func TestSplitFundingTx_Garbage(t *testing.T) {
	_, err := splitFundingTx([]byte{0x01, 0x02})
	require.ErrorContains(t, "could not deserialize funding transaction", err)
}

func sampleReveal() []byte {
	raw := make([]byte, revealByteLen)
	binary.BigEndian.PutUint32(raw[0:4], 5)
	for i := 4; i < 12; i++ {
		raw[i] = 0xbf
	}
	for i := 12; i < 32; i++ {
		raw[i] = 0x11
	}
	for i := 32; i < 52; i++ {
		raw[i] = 0x22
	}
	binary.BigEndian.PutUint32(raw[52:56], 0x60bcea61)
	for i := 56; i < 76; i++ {
		raw[i] = 0x33
	}
	return raw
}

func TestSplitReveal(t *testing.T) {
	reveal, err := splitReveal(sampleReveal())
	require.NoError(t, err)

	assert.Equal(t, uint32(5), reveal.FundingOutputIndex)
	assert.Equal(t, "0xbfbfbfbfbfbfbfbf", reveal.BlindingFactor)
	assert.Equal(t, "0x"+repeatHex("11", 20), reveal.WalletPublicKeyHash)
	assert.Equal(t, "0x"+repeatHex("22", 20), reveal.RefundPublicKeyHash)
	assert.Equal(t, "0x60bcea61", reveal.RefundLocktime)
	assert.Equal(t, "0x"+repeatHex("33", 20), reveal.Vault)
}

func TestSplitReveal_WrongLength(t *testing.T) {
	_, err := splitReveal(make([]byte, 40))
	require.ErrorContains(t, "unexpected reveal length", err)
}

func repeatHex(pair string, count int) string {
	out := ""
	for i := 0; i < count; i++ {
		out += pair
	}
	return out
}

func TestJsonBytes(t *testing.T) {
	got, err := jsonBytes([]interface{}{float64(1), float64(255), float64(0)})
	require.NoError(t, err)
	assert.DeepEqual(t, []byte{1, 255, 0}, got)

	got, err = jsonBytes("0xdeadbeef")
	require.NoError(t, err)
	assert.DeepEqual(t, []byte{0xde, 0xad, 0xbe, 0xef}, got)

	_, err = jsonBytes([]interface{}{float64(300)})
	require.ErrorContains(t, "is not a byte", err)

	_, err = jsonBytes(42)
	require.ErrorContains(t, "unsupported byte vector encoding", err)
}
