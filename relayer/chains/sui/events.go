package sui

import (
	"bytes"
	"encoding/binary"

	"github.com/block-vision/sui-go-sdk/models"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/keep-network/tbtc-relayer/encoding/bytesutil"
	"github.com/keep-network/tbtc-relayer/relayer/types"
)

// revealByteLen is the serialized reveal layout emitted by the Move
// contract: output index (4) + blinding factor (8) + wallet hash (20) +
// refund hash (20) + refund locktime (4) + vault address (20).
const revealByteLen = 76

// parseDepositInitialized decodes the Move event payload. The contract
// emits the funding transaction and reveal as raw byte vectors; the
// transaction is split back into its consensus components and the
// reveal read at fixed offsets.
func parseDepositInitialized(event *models.SuiEventResponse) (*types.L1OutputEvent, error) {
	fundingRaw, err := jsonBytes(event.ParsedJson["funding_tx"])
	if err != nil {
		return nil, errors.Wrap(err, "funding_tx")
	}
	revealRaw, err := jsonBytes(event.ParsedJson["deposit_reveal"])
	if err != nil {
		return nil, errors.Wrap(err, "deposit_reveal")
	}
	ownerRaw, err := jsonBytes(event.ParsedJson["deposit_owner"])
	if err != nil {
		return nil, errors.Wrap(err, "deposit_owner")
	}
	senderRaw, err := jsonBytes(event.ParsedJson["sender"])
	if err != nil {
		return nil, errors.Wrap(err, "sender")
	}

	fundingTx, err := splitFundingTx(fundingRaw)
	if err != nil {
		return nil, err
	}
	reveal, err := splitReveal(revealRaw)
	if err != nil {
		return nil, err
	}
	return &types.L1OutputEvent{
		FundingTx:      fundingTx,
		Reveal:         reveal,
		L2DepositOwner: bytesutil.EncodeHex(ownerRaw),
		L2Sender:       bytesutil.EncodeHex(senderRaw),
	}, nil
}

// splitFundingTx deserializes a raw Bitcoin transaction and re-emits its
// four consensus components, input and output vectors keeping their
// compact-size counts.
func splitFundingTx(raw []byte) (types.BitcoinTxInfo, error) {
	var info types.BitcoinTxInfo
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return info, errors.Wrap(err, "could not deserialize funding transaction")
	}

	version := make([]byte, 4)
	binary.LittleEndian.PutUint32(version, uint32(tx.Version))
	locktime := make([]byte, 4)
	binary.LittleEndian.PutUint32(locktime, tx.LockTime)

	var inputs bytes.Buffer
	if err := wire.WriteVarInt(&inputs, 0, uint64(len(tx.TxIn))); err != nil {
		return info, err
	}
	for _, in := range tx.TxIn {
		if err := writeTxIn(&inputs, in); err != nil {
			return info, err
		}
	}

	var outputs bytes.Buffer
	if err := wire.WriteVarInt(&outputs, 0, uint64(len(tx.TxOut))); err != nil {
		return info, err
	}
	for _, out := range tx.TxOut {
		if err := writeTxOut(&outputs, out); err != nil {
			return info, err
		}
	}

	info.Version = bytesutil.EncodeHex(version)
	info.InputVector = bytesutil.EncodeHex(inputs.Bytes())
	info.OutputVector = bytesutil.EncodeHex(outputs.Bytes())
	info.Locktime = bytesutil.EncodeHex(locktime)
	return info, nil
}

func writeTxIn(buf *bytes.Buffer, in *wire.TxIn) error {
	if _, err := buf.Write(in.PreviousOutPoint.Hash[:]); err != nil {
		return err
	}
	index := make([]byte, 4)
	binary.LittleEndian.PutUint32(index, in.PreviousOutPoint.Index)
	if _, err := buf.Write(index); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(buf, 0, in.SignatureScript); err != nil {
		return err
	}
	sequence := make([]byte, 4)
	binary.LittleEndian.PutUint32(sequence, in.Sequence)
	_, err := buf.Write(sequence)
	return err
}

func writeTxOut(buf *bytes.Buffer, out *wire.TxOut) error {
	value := make([]byte, 8)
	binary.LittleEndian.PutUint64(value, uint64(out.Value))
	if _, err := buf.Write(value); err != nil {
		return err
	}
	return wire.WriteVarBytes(buf, 0, out.PkScript)
}

func splitReveal(raw []byte) (types.Reveal, error) {
	var reveal types.Reveal
	if len(raw) != revealByteLen {
		return reveal, errors.Errorf("unexpected reveal length %d", len(raw))
	}
	reveal.FundingOutputIndex = binary.BigEndian.Uint32(raw[0:4])
	reveal.BlindingFactor = bytesutil.EncodeHex(raw[4:12])
	reveal.WalletPublicKeyHash = bytesutil.EncodeHex(raw[12:32])
	reveal.RefundPublicKeyHash = bytesutil.EncodeHex(raw[32:52])
	reveal.RefundLocktime = bytesutil.EncodeHex(raw[52:56])
	reveal.Vault = bytesutil.EncodeHex(raw[56:76])
	return reveal, nil
}

// jsonBytes coerces a Move byte vector from its JSON forms: an array of
// numbers or a hex string.
func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []interface{}:
		out := make([]byte, len(v))
		for i, elem := range v {
			num, ok := elem.(float64)
			if !ok || num < 0 || num > 255 {
				return nil, errors.Errorf("element %d is not a byte", i)
			}
			out[i] = byte(num)
		}
		return out, nil
	case string:
		return bytesutil.DecodeHex(v)
	default:
		return nil, errors.Errorf("unsupported byte vector encoding %T", value)
	}
}
