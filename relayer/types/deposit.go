// Package types defines the value objects the relayer persists and
// shepherds across chains: deposits, redemptions and audit entries.
package types

import (
	"time"
)

// DepositStatus is the position of a deposit in its bridging lifecycle.
// The numeric values are fixed by the persisted-state layout and by the
// L1 depositor contract's deposits(id) state space.
type DepositStatus int32

const (
	// StatusQueued marks a deposit observed but not yet initialized on L1.
	StatusQueued DepositStatus = 0
	// StatusInitialized marks a deposit whose L1 initializeDeposit call
	// was mined.
	StatusInitialized DepositStatus = 1
	// StatusFinalized marks a deposit whose L1 finalizeDeposit call was
	// mined.
	StatusFinalized DepositStatus = 2
	// StatusAwaitingWormholeVAA marks a finalized deposit waiting for its
	// Wormhole attestation before the L2 leg can complete.
	StatusAwaitingWormholeVAA DepositStatus = 3
	// StatusBridged marks a deposit whose funds arrived on the
	// destination chain.
	StatusBridged DepositStatus = 4
)

// String implements fmt.Stringer.
func (s DepositStatus) String() string {
	switch s {
	case StatusQueued:
		return "QUEUED"
	case StatusInitialized:
		return "INITIALIZED"
	case StatusFinalized:
		return "FINALIZED"
	case StatusAwaitingWormholeVAA:
		return "AWAITING_WORMHOLE_VAA"
	case StatusBridged:
		return "BRIDGED"
	default:
		return "UNKNOWN"
	}
}

// KnownDepositStatus reports whether the raw on-chain value maps to a
// status this relayer understands. Contract variants with a smaller
// state space report values we must treat as unavailable rather than
// inventing a mapping.
func KnownDepositStatus(raw uint8) bool {
	return raw <= uint8(StatusBridged)
}

// BitcoinTxInfo carries the serialized components of the Bitcoin funding
// transaction, each as 0x-prefixed hex.
type BitcoinTxInfo struct {
	Version      string `json:"version"`
	InputVector  string `json:"inputVector"`
	OutputVector string `json:"outputVector"`
	Locktime     string `json:"locktime"`
}

// Reveal is the set of Bitcoin-side parameters committing a funding UTXO
// to a specific mint intent.
type Reveal struct {
	FundingOutputIndex  uint32 `json:"fundingOutputIndex"`
	BlindingFactor      string `json:"blindingFactor"`
	WalletPublicKeyHash string `json:"walletPubKeyHash"`
	RefundPublicKeyHash string `json:"refundPubKeyHash"`
	RefundLocktime      string `json:"refundLocktime"`
	Vault               string `json:"vault"`
}

// DepositReceipt mirrors the receipt the depositor contract derives from
// the reveal.
type DepositReceipt struct {
	Depositor           string `json:"depositor"`
	BlindingFactor      string `json:"blindingFactor"`
	WalletPublicKeyHash string `json:"walletPublicKeyHash"`
	RefundPublicKeyHash string `json:"refundPublicKeyHash"`
	RefundLocktime      string `json:"refundLocktime"`
	ExtraData           string `json:"extraData,omitempty"`
}

// L1OutputEvent packages everything the L1 initializeDeposit call needs.
type L1OutputEvent struct {
	FundingTx      BitcoinTxInfo `json:"fundingTx"`
	Reveal         Reveal        `json:"reveal"`
	L2DepositOwner string        `json:"l2DepositOwner"`
	L2Sender       string        `json:"l2Sender"`
}

// EthTxHashes holds the L1 transaction hashes shared by every chain.
type EthTxHashes struct {
	InitializeTxHash string `json:"initializeTxHash,omitempty"`
	FinalizeTxHash   string `json:"finalizeTxHash,omitempty"`
}

// TxHashes indexes the transactions a deposit produced, keyed by chain.
type TxHashes struct {
	Btc      string      `json:"btc,omitempty"`
	Eth      EthTxHashes `json:"eth"`
	Starknet struct {
		L1BridgeTxHash string `json:"l1BridgeTxHash,omitempty"`
	} `json:"starknet,omitempty"`
	Solana struct {
		BridgeTxHash string `json:"bridgeTxHash,omitempty"`
	} `json:"solana,omitempty"`
	Sui struct {
		L2BridgeTxHash string `json:"l2BridgeTxHash,omitempty"`
	} `json:"sui,omitempty"`
	Sei struct {
		L2BridgeTxHash string `json:"l2BridgeTxHash,omitempty"`
	} `json:"sei,omitempty"`
}

// WormholeInfo records the deposit's Wormhole bridging progress.
type WormholeInfo struct {
	TxHash            string `json:"txHash,omitempty"`
	TransferSequence  string `json:"transferSequence,omitempty"`
	BridgingAttempted bool   `json:"bridgingAttempted"`
}

// DepositDates are millisecond epoch timestamps; zero means unset.
type DepositDates struct {
	CreatedAt                 int64 `json:"createdAt"`
	InitializationAt          int64 `json:"initializationAt,omitempty"`
	FinalizationAt            int64 `json:"finalizationAt,omitempty"`
	AwaitingWormholeVAASince  int64 `json:"awaitingWormholeVAAMessageSince,omitempty"`
	BridgedAt                 int64 `json:"bridgedAt,omitempty"`
	LastActivityAt            int64 `json:"lastActivityAt"`
}

// Deposit tracks one Bitcoin funding UTXO through the bridging lifecycle.
type Deposit struct {
	ID            string         `json:"id"`
	ChainName     string         `json:"chainName"`
	FundingTxHash string         `json:"fundingTxHash"`
	OutputIndex   uint32         `json:"outputIndex"`
	Receipt       DepositReceipt `json:"receipt"`
	L1OutputEvent L1OutputEvent  `json:"l1OutputEvent"`
	Owner         string         `json:"owner"`
	Status        DepositStatus  `json:"status"`
	Hashes        TxHashes       `json:"hashes"`
	Wormhole      WormholeInfo   `json:"wormholeInfo"`
	Dates         DepositDates   `json:"dates"`
	Error         string         `json:"error,omitempty"`
	StatusMessage string         `json:"statusMessage,omitempty"`
}

// NowMs is the millisecond epoch clock used for all record dates.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// MarkActivity bumps the record's last activity timestamp.
func (d *Deposit) MarkActivity() {
	d.Dates.LastActivityAt = NowMs()
}

// ActivityOlderThan reports whether the deposit's last recorded activity
// is unset or older than the given interval. Fresh records with no
// activity yet are always eligible.
func (d *Deposit) ActivityOlderThan(interval time.Duration) bool {
	if d.Dates.LastActivityAt == 0 {
		return true
	}
	last := time.UnixMilli(d.Dates.LastActivityAt)
	return time.Since(last) >= interval
}
