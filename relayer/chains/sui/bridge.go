package sui

import (
	"context"
	"strconv"

	"github.com/block-vision/sui-go-sdk/models"
	"github.com/block-vision/sui-go-sdk/signer"
	"github.com/pkg/errors"

	"github.com/keep-network/tbtc-relayer/encoding/bytesutil"
	"github.com/keep-network/tbtc-relayer/relayer/types"
	"github.com/keep-network/tbtc-relayer/relayer/wormhole"
)

// moveCall targets on the BitcoinDepositor package.
const (
	depositorModule  = "bitcoin_depositor"
	redeemFunction   = "receive_wormhole_messages"
	clockObjectID    = "0x6"
	defaultGasBudget = "100000000"
)

// moveSigner wraps the ed25519 keypair submitting Sui transactions.
type moveSigner struct {
	*signer.Signer
}

func newMoveSigner(privateKeyHex string) (*moveSigner, error) {
	seed, err := bytesutil.DecodeHexWithLength(privateKeyHex, 32)
	if err != nil {
		return nil, errors.Wrap(err, "invalid Sui private key")
	}
	return &moveSigner{Signer: signer.NewSigner(seed)}, nil
}

// ProcessWormholeBridging implements chains.WormholeBridger: for every
// deposit awaiting its VAA, fetch the guardian signature set and redeem
// it against the Sui gateway. A not-yet-signed sequence only bumps
// activity; the sweep returns to it later.
func (h *Handler) ProcessWormholeBridging(ctx context.Context) error {
	deposits, err := h.store.DepositsByStatus(ctx, types.StatusAwaitingWormholeVAA, h.cfg.ChainName)
	if err != nil {
		return errors.Wrap(err, "could not list deposits awaiting VAA")
	}
	for _, stale := range h.core.FilterDepositsActivityTime(deposits) {
		deposit, err := h.store.Deposit(ctx, stale.ID)
		if err != nil {
			continue
		}
		if deposit.Status != types.StatusAwaitingWormholeVAA {
			continue
		}
		if err := h.bridgeDeposit(ctx, deposit); err != nil {
			h.log.WithError(err).WithField("depositId", deposit.ID).Warn("Bridging attempt failed")
		}
	}
	return nil
}

func (h *Handler) bridgeDeposit(ctx context.Context, deposit *types.Deposit) error {
	sequence, err := h.transferSequence(ctx, deposit)
	if err != nil {
		h.core.RecordDepositError(ctx, deposit, err)
		return err
	}

	vaaBytes, err := h.vaas.FetchSignedVAA(ctx, sequence)
	if err != nil {
		if errors.Is(err, wormhole.ErrVAANotFound) {
			// Guardians have not signed yet; defer without marking an
			// error.
			return h.store.UpdateDeposit(ctx, deposit)
		}
		h.core.RecordDepositError(ctx, deposit, err)
		return err
	}

	deposit.Wormhole.BridgingAttempted = true
	if err := h.store.UpdateDeposit(ctx, deposit); err != nil {
		return err
	}

	digest, err := h.submitRedeem(ctx, vaaBytes)
	if err != nil {
		h.core.RecordDepositError(ctx, deposit, err)
		return err
	}
	return h.core.MarkBridged(ctx, deposit, func(hashes *types.TxHashes) {
		hashes.Sui.L2BridgeTxHash = digest
	})
}

// transferSequence resolves the Wormhole sequence for a deposit,
// recovering it from the finalize receipt when the record predates the
// field.
func (h *Handler) transferSequence(ctx context.Context, deposit *types.Deposit) (uint64, error) {
	if deposit.Wormhole.TransferSequence != "" {
		return strconv.ParseUint(deposit.Wormhole.TransferSequence, 10, 64)
	}
	txHash := deposit.Wormhole.TxHash
	if txHash == "" {
		txHash = deposit.Hashes.Eth.FinalizeTxHash
	}
	if txHash == "" {
		return 0, errors.New("deposit carries no finalize transaction hash")
	}
	sequence, found, err := h.vaas.TransferSequence(ctx, txHash)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errors.New("finalize receipt carries no token bridge message")
	}
	deposit.Wormhole.TransferSequence = strconv.FormatUint(sequence, 10)
	if err := h.store.UpdateDeposit(ctx, deposit); err != nil {
		return 0, err
	}
	return sequence, nil
}

// submitRedeem executes receive_wormhole_messages on the BitcoinDepositor
// package, consuming the VAA and releasing the tBTC to its owner.
func (h *Handler) submitRedeem(ctx context.Context, vaaBytes []byte) (string, error) {
	if h.client == nil || h.signer == nil {
		return "", errors.New("Sui client or signer not configured")
	}
	gasBudget := defaultGasBudget
	req := models.MoveCallRequest{
		Signer:          h.signer.Address,
		PackageObjectId: h.cfg.L2ContractAddress,
		Module:          depositorModule,
		Function:        redeemFunction,
		TypeArguments:   []interface{}{},
		Arguments: []interface{}{
			h.cfg.L2WormholeGateway,
			h.cfg.WormholeCoreID,
			h.cfg.TokenBridgeID,
			bytesutil.EncodeHex(vaaBytes),
			clockObjectID,
		},
		GasBudget: gasBudget,
	}
	if h.cfg.SuiGasObjectID != "" {
		req.Gas = &h.cfg.SuiGasObjectID
	}
	tx, err := h.client.MoveCall(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "could not build redeem transaction")
	}
	resp, err := h.client.SignAndExecuteTransactionBlock(ctx, models.SignAndExecuteTransactionBlockRequest{
		TxnMetaData: tx,
		PriKey:      h.signer.PriKey,
		Options: models.SuiTransactionBlockOptions{
			ShowEffects: true,
		},
		RequestType: "WaitForLocalExecution",
	})
	if err != nil {
		return "", errors.Wrap(err, "could not execute redeem transaction")
	}
	if resp.Effects.Status.Status != "success" {
		return "", errors.Errorf("redeem transaction failed: %s", resp.Effects.Status.Error)
	}
	h.log.WithField("digest", resp.Digest).Info("Redeemed VAA on Sui")
	return resp.Digest, nil
}
