// Package l1 holds the settlement-chain side every handler shares: the
// chain context with its RPC clients and serialized signer, the bound
// contract handles, and the deposit state machine core.
package l1

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/keep-network/tbtc-relayer/config/params"
)

var log = logrus.WithField("prefix", "l1")

const (
	// DefaultReadTimeout bounds every read RPC.
	DefaultReadTimeout = 5 * time.Second
	// DefaultWriteTimeout bounds every transaction submission RPC.
	DefaultWriteTimeout = 60 * time.Second
	// DefaultConfirmationTimeout bounds a full confirmation wait.
	DefaultConfirmationTimeout = 5 * time.Minute
)

// Context holds the per-chain L1 resources. It is passive: it owns
// clients and contract handles and applies no policy.
type Context struct {
	Config    *params.ChainConfig
	Client    *ethclient.Client
	ChainID   *big.Int
	Account   common.Address
	Nonces    *NonceManager
	Depositor *Depositor
	Vault     *Vault
	Redeemer  *Redeemer

	transactor *bind.TransactOpts
}

// NewContext dials the L1 RPC, derives the signer from the configured
// private key and binds the contract handles.
func NewContext(ctx context.Context, cfg *params.ChainConfig) (*Context, error) {
	client, err := ethclient.DialContext(ctx, cfg.L1Rpc)
	if err != nil {
		return nil, errors.Wrapf(err, "could not dial L1 RPC %s", cfg.L1Rpc)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not fetch L1 chain id")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, errors.New("invalid L1 private key")
	}
	transactor, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "could not build transactor")
	}
	account := crypto.PubkeyToAddress(key.PublicKey)

	c := &Context{
		Config:     cfg,
		Client:     client,
		ChainID:    chainID,
		Account:    account,
		Nonces:     NewNonceManager(client, account),
		transactor: transactor,
	}
	c.Depositor = NewDepositor(common.HexToAddress(cfg.L1ContractAddress), c)
	c.Vault = NewVault(common.HexToAddress(cfg.VaultAddress), c)
	if cfg.L1BitcoinRedeemer != "" {
		c.Redeemer = NewRedeemer(common.HexToAddress(cfg.L1BitcoinRedeemer), c)
	}
	log.WithFields(logrus.Fields{
		"chain":   cfg.ChainName,
		"chainId": chainID,
		"account": account.Hex(),
	}).Info("L1 context ready")
	return c, nil
}

// TransactOpts builds submission options for one transaction with the
// assigned nonce. Value may be nil.
func (c *Context) TransactOpts(ctx context.Context, nonce uint64, value *big.Int) *bind.TransactOpts {
	opts := *c.transactor
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(nonce)
	opts.Value = value
	return &opts
}

// ReadCtx derives a context bounded by the read timeout.
func (c *Context) ReadCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, DefaultReadTimeout)
}

// WriteCtx derives a context bounded by the write timeout.
func (c *Context) WriteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, DefaultWriteTimeout)
}

// Confirmations is the chain-configured confirmation count, at least 1.
func (c *Context) Confirmations() uint64 {
	if c.Config.L1Confirmations == 0 {
		return 1
	}
	return c.Config.L1Confirmations
}

// Close releases the underlying RPC client.
func (c *Context) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
}
