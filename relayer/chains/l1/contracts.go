package l1

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/keep-network/tbtc-relayer/encoding/bytesutil"
	"github.com/keep-network/tbtc-relayer/relayer/chains"
	"github.com/keep-network/tbtc-relayer/relayer/types"
)

// confirmationPollInterval paces the confirmation depth checks after a
// transaction is mined.
var confirmationPollInterval = 5 * time.Second

// Depositor wraps the L1BitcoinDepositor contract.
type Depositor struct {
	address common.Address
	bound   *bind.BoundContract
	chain   *Context
}

// NewDepositor binds the depositor contract at the given address.
func NewDepositor(address common.Address, chain *Context) *Depositor {
	return &Depositor{
		address: address,
		bound:   bind.NewBoundContract(address, depositorABI, chain.Client, chain.Client, chain.Client),
		chain:   chain,
	}
}

// Address of the bound contract.
func (d *Depositor) Address() common.Address { return d.address }

// callStatic executes the packed call without submitting, surfacing
// deterministic reverts cheaply before a nonce is burned.
func (d *Depositor) callStatic(ctx context.Context, value *big.Int, method string, args ...interface{}) error {
	data, err := depositorABI.Pack(method, args...)
	if err != nil {
		return errors.Wrapf(err, "could not pack %s", method)
	}
	readCtx, cancel := d.chain.ReadCtx(ctx)
	defer cancel()
	_, err = d.chain.Client.CallContract(readCtx, ethereum.CallMsg{
		From:  d.chain.Account,
		To:    &d.address,
		Value: value,
		Data:  data,
	}, nil)
	return err
}

// InitializeDeposit statically checks and then submits the L1
// initializeDeposit transaction under the nonce lock.
func (d *Depositor) InitializeDeposit(ctx context.Context, deposit *types.Deposit) (*gethtypes.Transaction, error) {
	fundingTx, reveal, owner, err := initializeArgs(deposit)
	if err != nil {
		return nil, err
	}
	if err := d.callStatic(ctx, nil, "initializeDeposit", fundingTx, reveal, owner); err != nil {
		return nil, err
	}
	writeCtx, cancel := d.chain.WriteCtx(ctx)
	defer cancel()
	return d.chain.Nonces.Submit(writeCtx, func(nonce uint64) (*gethtypes.Transaction, error) {
		opts := d.chain.TransactOpts(writeCtx, nonce, nil)
		return d.bound.Transact(opts, "initializeDeposit", fundingTx, reveal, owner)
	})
}

// QuoteFinalizeDeposit asks the depositor for the finalization fee.
func (d *Depositor) QuoteFinalizeDeposit(ctx context.Context) (*big.Int, error) {
	readCtx, cancel := d.chain.ReadCtx(ctx)
	defer cancel()
	var out []interface{}
	if err := d.bound.Call(&bind.CallOpts{Context: readCtx}, &out, "quoteFinalizeDeposit"); err != nil {
		return nil, err
	}
	quote, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("unexpected quoteFinalizeDeposit return type")
	}
	return quote, nil
}

// FinalizeDeposit statically checks and then submits finalizeDeposit
// with the given fee attached.
func (d *Depositor) FinalizeDeposit(ctx context.Context, depositID string, fee *big.Int) (*gethtypes.Transaction, error) {
	key, err := depositKeyArg(depositID)
	if err != nil {
		return nil, err
	}
	if err := d.callStatic(ctx, fee, "finalizeDeposit", key); err != nil {
		return nil, err
	}
	writeCtx, cancel := d.chain.WriteCtx(ctx)
	defer cancel()
	return d.chain.Nonces.Submit(writeCtx, func(nonce uint64) (*gethtypes.Transaction, error) {
		opts := d.chain.TransactOpts(writeCtx, nonce, fee)
		return d.bound.Transact(opts, "finalizeDeposit", key)
	})
}

// DepositState queries the raw deposits(id) value.
func (d *Depositor) DepositState(ctx context.Context, depositID string) (uint8, error) {
	key, err := depositKeyArg(depositID)
	if err != nil {
		return 0, err
	}
	readCtx, cancel := d.chain.ReadCtx(ctx)
	defer cancel()
	var out []interface{}
	if err := d.bound.Call(&bind.CallOpts{Context: readCtx}, &out, "deposits", key); err != nil {
		return 0, err
	}
	state, ok := out[0].(uint8)
	if !ok {
		return 0, errors.New("unexpected deposits return type")
	}
	return state, nil
}

// tokensTransferredEvent is the TokensTransferredWithPayload payload.
type tokensTransferredEvent struct {
	DepositKey               *big.Int
	DestinationChainReceiver [32]byte
	TransferSequence         uint64
}

// ParseTransferSequence extracts the Wormhole transfer sequence emitted
// for the given deposit from a finalize receipt, if present.
func (d *Depositor) ParseTransferSequence(receipt *gethtypes.Receipt, depositID string) (uint64, bool, error) {
	key, err := depositKeyArg(depositID)
	if err != nil {
		return 0, false, err
	}
	for _, logEntry := range receipt.Logs {
		if logEntry.Address != d.address || len(logEntry.Topics) == 0 {
			continue
		}
		if logEntry.Topics[0] != tokensTransferredWithPayloadTopic {
			continue
		}
		event := &tokensTransferredEvent{}
		if err := d.bound.UnpackLog(event, "TokensTransferredWithPayload", *logEntry); err != nil {
			return 0, false, errors.Wrap(err, "could not unpack TokensTransferredWithPayload")
		}
		if event.DepositKey.Cmp(key) == 0 {
			return event.TransferSequence, true, nil
		}
	}
	return 0, false, nil
}

// WaitMined waits for the transaction receipt and the chain-configured
// confirmation depth, bounded by the overall confirmation timeout. On
// timeout the caller keeps the recorded hash and lets reconciliation
// observe the outcome.
func (c *Context) WaitMined(ctx context.Context, tx *gethtypes.Transaction) (*gethtypes.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, DefaultConfirmationTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.Client, tx)
	if err != nil {
		if waitCtx.Err() != nil {
			return nil, chains.ErrL1TxTimeout
		}
		return nil, err
	}
	target := new(big.Int).Add(receipt.BlockNumber, new(big.Int).SetUint64(c.Confirmations()-1))
	for {
		head, err := c.Client.BlockNumber(waitCtx)
		if err != nil {
			if waitCtx.Err() != nil {
				return nil, chains.ErrL1TxTimeout
			}
			return nil, err
		}
		if new(big.Int).SetUint64(head).Cmp(target) >= 0 {
			return receipt, nil
		}
		select {
		case <-waitCtx.Done():
			return nil, chains.ErrL1TxTimeout
		case <-time.After(confirmationPollInterval):
		}
	}
}

// Vault wraps the TBTCVault contract.
type Vault struct {
	address common.Address
	bound   *bind.BoundContract
	chain   *Context
}

// NewVault binds the vault contract at the given address.
func NewVault(address common.Address, chain *Context) *Vault {
	return &Vault{
		address: address,
		bound:   bind.NewBoundContract(address, vaultABI, chain.Client, chain.Client, chain.Client),
		chain:   chain,
	}
}

// WatchOptimisticMintingFinalized streams the depositKey of every
// OptimisticMintingFinalized event into sink.
func (v *Vault) WatchOptimisticMintingFinalized(ctx context.Context, sink chan<- *big.Int) (ethereum.Subscription, error) {
	logsCh := make(chan gethtypes.Log)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{v.address},
		Topics:    [][]common.Hash{{optimisticMintingFinalizedTopic}},
	}
	sub, err := v.chain.Client.SubscribeFilterLogs(ctx, query, logsCh)
	if err != nil {
		return nil, errors.Wrap(err, "could not subscribe to OptimisticMintingFinalized")
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case logEntry := <-logsCh:
				// depositKey is the second indexed argument.
				if len(logEntry.Topics) < 3 {
					continue
				}
				sink <- new(big.Int).SetBytes(logEntry.Topics[2].Bytes())
			}
		}
	}()
	return sub, nil
}

// Redeemer wraps the optional L1BitcoinRedeemer contract.
type Redeemer struct {
	address common.Address
	bound   *bind.BoundContract
	chain   *Context
}

// NewRedeemer binds the redeemer contract at the given address.
func NewRedeemer(address common.Address, chain *Context) *Redeemer {
	return &Redeemer{
		address: address,
		bound:   bind.NewBoundContract(address, redeemerABI, chain.Client, chain.Client, chain.Client),
		chain:   chain,
	}
}

// FinalizeL2Redemption estimates gas for the redemption settlement,
// scales it by gasFactor and submits under the nonce lock.
func (r *Redeemer) FinalizeL2Redemption(
	ctx context.Context,
	walletPubKeyHash [32]byte,
	mainUtxo MainUtxoArg,
	amount *big.Int,
	encodedVm []byte,
	gasFactor float64,
) (*gethtypes.Transaction, error) {
	data, err := redeemerABI.Pack("finalizeL2Redemption", walletPubKeyHash, mainUtxo, amount, encodedVm)
	if err != nil {
		return nil, errors.Wrap(err, "could not pack finalizeL2Redemption")
	}
	readCtx, cancel := r.chain.ReadCtx(ctx)
	gasEstimate, err := r.chain.Client.EstimateGas(readCtx, ethereum.CallMsg{
		From: r.chain.Account,
		To:   &r.address,
		Data: data,
	})
	cancel()
	if err != nil {
		return nil, errors.Wrap(err, "gas estimation failed")
	}
	gasLimit := uint64(float64(gasEstimate) * gasFactor)

	writeCtx, cancelWrite := r.chain.WriteCtx(ctx)
	defer cancelWrite()
	return r.chain.Nonces.Submit(writeCtx, func(nonce uint64) (*gethtypes.Transaction, error) {
		opts := r.chain.TransactOpts(writeCtx, nonce, nil)
		opts.GasLimit = gasLimit
		return r.bound.Transact(opts, "finalizeL2Redemption", walletPubKeyHash, mainUtxo, amount, encodedVm)
	})
}

func depositKeyArg(depositID string) (*big.Int, error) {
	key32, err := types.DepositIDToBytes32(depositID)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(key32[:]), nil
}

func initializeArgs(deposit *types.Deposit) (BitcoinTxInfoArg, DepositRevealInfoArg, [32]byte, error) {
	var fundingTx BitcoinTxInfoArg
	var reveal DepositRevealInfoArg
	var owner [32]byte

	event := deposit.L1OutputEvent
	version, err := bytesutil.DecodeHexWithLength(event.FundingTx.Version, 4)
	if err != nil {
		return fundingTx, reveal, owner, errors.Wrap(err, "funding tx version")
	}
	copy(fundingTx.Version[:], version)
	locktime, err := bytesutil.DecodeHexWithLength(event.FundingTx.Locktime, 4)
	if err != nil {
		return fundingTx, reveal, owner, errors.Wrap(err, "funding tx locktime")
	}
	copy(fundingTx.Locktime[:], locktime)
	if fundingTx.InputVector, err = bytesutil.DecodeHex(event.FundingTx.InputVector); err != nil {
		return fundingTx, reveal, owner, errors.Wrap(err, "funding tx input vector")
	}
	if fundingTx.OutputVector, err = bytesutil.DecodeHex(event.FundingTx.OutputVector); err != nil {
		return fundingTx, reveal, owner, errors.Wrap(err, "funding tx output vector")
	}

	reveal.FundingOutputIndex = event.Reveal.FundingOutputIndex
	blinding, err := bytesutil.DecodeHexWithLength(event.Reveal.BlindingFactor, 8)
	if err != nil {
		return fundingTx, reveal, owner, errors.Wrap(err, "blinding factor")
	}
	copy(reveal.BlindingFactor[:], blinding)
	walletHash, err := bytesutil.DecodeHexWithLength(event.Reveal.WalletPublicKeyHash, 20)
	if err != nil {
		return fundingTx, reveal, owner, errors.Wrap(err, "wallet pubkey hash")
	}
	copy(reveal.WalletPubKeyHash[:], walletHash)
	refundHash, err := bytesutil.DecodeHexWithLength(event.Reveal.RefundPublicKeyHash, 20)
	if err != nil {
		return fundingTx, reveal, owner, errors.Wrap(err, "refund pubkey hash")
	}
	copy(reveal.RefundPubKeyHash[:], refundHash)
	refundLocktime, err := bytesutil.DecodeHexWithLength(event.Reveal.RefundLocktime, 4)
	if err != nil {
		return fundingTx, reveal, owner, errors.Wrap(err, "refund locktime")
	}
	copy(reveal.RefundLocktime[:], refundLocktime)
	reveal.Vault = common.HexToAddress(event.Reveal.Vault)

	ownerBytes, err := bytesutil.DecodeHex(deposit.Owner)
	if err != nil {
		return fundingTx, reveal, owner, errors.Wrap(err, "deposit owner")
	}
	copy(owner[:], bytesutil.LeftPadTo(ownerBytes, 32))
	return fundingTx, reveal, owner, nil
}
