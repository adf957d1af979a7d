package l1

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Semantic ABI fragments for the L1 contracts the relayer drives. Only
// the functions and events the relayer touches are declared; the full
// contract surface stays with the deployments.

const depositorABIJSON = `[
  {"type":"function","name":"initializeDeposit","stateMutability":"nonpayable","inputs":[
    {"name":"fundingTx","type":"tuple","components":[
      {"name":"version","type":"bytes4"},
      {"name":"inputVector","type":"bytes"},
      {"name":"outputVector","type":"bytes"},
      {"name":"locktime","type":"bytes4"}]},
    {"name":"reveal","type":"tuple","components":[
      {"name":"fundingOutputIndex","type":"uint32"},
      {"name":"blindingFactor","type":"bytes8"},
      {"name":"walletPubKeyHash","type":"bytes20"},
      {"name":"refundPubKeyHash","type":"bytes20"},
      {"name":"refundLocktime","type":"bytes4"},
      {"name":"vault","type":"address"}]},
    {"name":"destinationChainDepositOwner","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"finalizeDeposit","stateMutability":"payable","inputs":[
    {"name":"depositKey","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"quoteFinalizeDeposit","stateMutability":"view","inputs":[],"outputs":[
    {"name":"","type":"uint256"}]},
  {"type":"function","name":"deposits","stateMutability":"view","inputs":[
    {"name":"","type":"uint256"}],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"event","name":"TokensTransferredWithPayload","inputs":[
    {"name":"depositKey","type":"uint256","indexed":false},
    {"name":"destinationChainReceiver","type":"bytes32","indexed":false},
    {"name":"transferSequence","type":"uint64","indexed":false}]},
  {"type":"event","name":"TBTCBridgedToStarkNet","inputs":[
    {"name":"depositKey","type":"uint256","indexed":true},
    {"name":"starkNetRecipient","type":"uint256","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]}
]`

const vaultABIJSON = `[
  {"type":"event","name":"OptimisticMintingFinalized","inputs":[
    {"name":"minter","type":"address","indexed":true},
    {"name":"depositKey","type":"uint256","indexed":true},
    {"name":"depositor","type":"address","indexed":true},
    {"name":"optimisticMintingDebt","type":"uint256","indexed":false}]}
]`

const redeemerABIJSON = `[
  {"type":"function","name":"finalizeL2Redemption","stateMutability":"nonpayable","inputs":[
    {"name":"walletPubKeyHash","type":"bytes32"},
    {"name":"mainUtxo","type":"tuple","components":[
      {"name":"txHash","type":"bytes32"},
      {"name":"txOutputIndex","type":"uint32"},
      {"name":"txOutputValue","type":"uint64"}]},
    {"name":"amount","type":"uint256"},
    {"name":"encodedVm","type":"bytes"}],"outputs":[]}
]`

const l2DepositorABIJSON = `[
  {"type":"event","name":"DepositInitialized","inputs":[
    {"name":"fundingTx","type":"tuple","indexed":false,"components":[
      {"name":"version","type":"bytes4"},
      {"name":"inputVector","type":"bytes"},
      {"name":"outputVector","type":"bytes"},
      {"name":"locktime","type":"bytes4"}]},
    {"name":"reveal","type":"tuple","indexed":false,"components":[
      {"name":"fundingOutputIndex","type":"uint32"},
      {"name":"blindingFactor","type":"bytes8"},
      {"name":"walletPubKeyHash","type":"bytes20"},
      {"name":"refundPubKeyHash","type":"bytes20"},
      {"name":"refundLocktime","type":"bytes4"},
      {"name":"vault","type":"address"}]},
    {"name":"l2DepositOwner","type":"address","indexed":true},
    {"name":"l2Sender","type":"address","indexed":true}]},
  {"type":"event","name":"RedemptionRequested","inputs":[
    {"name":"walletPubKeyHash","type":"bytes20","indexed":false},
    {"name":"mainUtxo","type":"tuple","indexed":false,"components":[
      {"name":"txHash","type":"bytes32"},
      {"name":"txOutputIndex","type":"uint32"},
      {"name":"txOutputValue","type":"uint64"}]},
    {"name":"redeemerOutputScript","type":"bytes","indexed":false},
    {"name":"amount","type":"uint256","indexed":false}]}
]`

// BitcoinTxInfoArg mirrors the fundingTx tuple.
type BitcoinTxInfoArg struct {
	Version      [4]byte
	InputVector  []byte
	OutputVector []byte
	Locktime     [4]byte
}

// DepositRevealInfoArg mirrors the reveal tuple.
type DepositRevealInfoArg struct {
	FundingOutputIndex uint32
	BlindingFactor     [8]byte
	WalletPubKeyHash   [20]byte
	RefundPubKeyHash   [20]byte
	RefundLocktime     [4]byte
	Vault              common.Address
}

// MainUtxoArg mirrors the mainUtxo tuple of the L1 redeemer.
type MainUtxoArg struct {
	TxHash        [32]byte
	TxOutputIndex uint32
	TxOutputValue uint64
}

// Event signature topics the listeners and backfill filter on.
var (
	depositInitializedTopic = crypto.Keccak256Hash([]byte(
		"DepositInitialized((bytes4,bytes,bytes,bytes4),(uint32,bytes8,bytes20,bytes20,bytes4,address),address,address)",
	))
	redemptionRequestedTopic = crypto.Keccak256Hash([]byte(
		"RedemptionRequested(bytes20,(bytes32,uint32,uint64),bytes,uint256)",
	))
	optimisticMintingFinalizedTopic = crypto.Keccak256Hash([]byte(
		"OptimisticMintingFinalized(address,uint256,address,uint256)",
	))
	tokensTransferredWithPayloadTopic = crypto.Keccak256Hash([]byte(
		"TokensTransferredWithPayload(uint256,bytes32,uint64)",
	))
	tbtcBridgedToStarkNetTopic = crypto.Keccak256Hash([]byte(
		"TBTCBridgedToStarkNet(uint256,uint256,uint256)",
	))
)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}

var (
	depositorABI   = mustParseABI(depositorABIJSON)
	vaultABI       = mustParseABI(vaultABIJSON)
	redeemerABI    = mustParseABI(redeemerABIJSON)
	l2DepositorABI = mustParseABI(l2DepositorABIJSON)
)

// DepositInitializedTopic exposes the L2 DepositInitialized signature
// topic to adapters running their own filter queries.
func DepositInitializedTopic() common.Hash { return depositInitializedTopic }

// RedemptionRequestedTopic exposes the L2 RedemptionRequested signature
// topic.
func RedemptionRequestedTopic() common.Hash { return redemptionRequestedTopic }

// OptimisticMintingFinalizedTopic exposes the vault event topic.
func OptimisticMintingFinalizedTopic() common.Hash { return optimisticMintingFinalizedTopic }

// TBTCBridgedToStarkNetTopic exposes the StarkGate bridging event topic.
func TBTCBridgedToStarkNetTopic() common.Hash { return tbtcBridgedToStarkNetTopic }

// L2DepositorABI exposes the parsed L2 depositor ABI to adapters.
func L2DepositorABI() abi.ABI { return l2DepositorABI }
