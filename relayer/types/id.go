package types

import (
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/keep-network/tbtc-relayer/encoding/bytesutil"
)

// CalculateDepositID derives the canonical deposit identifier from the
// funding UTXO: keccak256(fundingTxHash ∥ outputIndex) interpreted as a
// 256-bit unsigned integer in decimal string form. This mirrors the
// depositKey computed by the L1 depositor contract, so duplicate
// observations of the same UTXO always collapse onto one record.
func CalculateDepositID(fundingTxHash [32]byte, outputIndex uint32) string {
	packed := make([]byte, 0, 36)
	packed = append(packed, fundingTxHash[:]...)
	packed = append(packed,
		byte(outputIndex>>24), byte(outputIndex>>16), byte(outputIndex>>8), byte(outputIndex),
	)
	digest := crypto.Keccak256(packed)
	id := new(uint256.Int).SetBytes(digest)
	return id.Dec()
}

// CalculateRedemptionID derives a redemption identifier from the L2
// transaction that requested it and the log index inside that
// transaction.
func CalculateRedemptionID(l2TxHash string, logIndex uint32) (string, error) {
	txBytes, err := bytesutil.DecodeHex(l2TxHash)
	if err != nil {
		return "", errors.Wrap(err, "invalid L2 transaction hash")
	}
	packed := make([]byte, 0, len(txBytes)+4)
	packed = append(packed, txBytes...)
	packed = append(packed,
		byte(logIndex>>24), byte(logIndex>>16), byte(logIndex>>8), byte(logIndex),
	)
	digest := crypto.Keccak256(packed)
	return new(uint256.Int).SetBytes(digest).Dec(), nil
}

// ParseDepositID normalizes an externally supplied deposit id to the
// canonical decimal string form. Both decimal strings and 0x-padded
// bytes32 hex are accepted on ingress.
func ParseDepositID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty deposit id")
	}
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		// Zero-padded bytes32 forms are legal on ingress; FromHex is
		// strict about leading zeros, so strip them first.
		digits := strings.TrimLeft(strings.ToLower(raw[2:]), "0")
		if digits == "" {
			digits = "0"
		}
		id, err := uint256.FromHex("0x" + digits)
		if err != nil {
			return "", errors.Wrapf(err, "invalid hex deposit id %s", raw)
		}
		return id.Dec(), nil
	}
	id, err := uint256.FromDecimal(raw)
	if err != nil {
		return "", errors.Wrapf(err, "invalid decimal deposit id %s", raw)
	}
	return id.Dec(), nil
}

// DepositIDToBytes32 renders a canonical decimal deposit id as the
// 0x-padded bytes32 form the L1 contracts take.
func DepositIDToBytes32(id string) ([32]byte, error) {
	n, err := uint256.FromDecimal(id)
	if err != nil {
		return [32]byte{}, errors.Wrapf(err, "invalid deposit id %s", id)
	}
	return n.Bytes32(), nil
}

// FundingTxHash computes the double-SHA256 of the serialized Bitcoin
// funding transaction, the bytes32 the depositor contract hashes into
// the deposit key.
func FundingTxHash(tx BitcoinTxInfo) ([32]byte, error) {
	var serialized []byte
	for _, part := range []string{tx.Version, tx.InputVector, tx.OutputVector, tx.Locktime} {
		b, err := bytesutil.DecodeHex(part)
		if err != nil {
			return [32]byte{}, errors.Wrap(err, "malformed funding transaction component")
		}
		serialized = append(serialized, b...)
	}
	digest := chainhash.DoubleHashH(serialized)
	return [32]byte(digest), nil
}
