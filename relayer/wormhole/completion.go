package wormhole

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const tokenBridgeABIJSON = `[
  {"type":"function","name":"isTransferCompleted","stateMutability":"view","inputs":[
    {"name":"hash","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"completeTransferWithPayload","stateMutability":"nonpayable","inputs":[
    {"name":"encodedVm","type":"bytes"}],"outputs":[{"name":"","type":"bytes"}]},
  {"type":"function","name":"completeTransfer","stateMutability":"nonpayable","inputs":[
    {"name":"encodedVm","type":"bytes"}],"outputs":[]}
]`

var tokenBridgeABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(tokenBridgeABIJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// TokenBridgeABI exposes the parsed destination token bridge ABI to EVM
// adapters submitting completeTransferWithPayload.
func TokenBridgeABI() abi.ABI { return tokenBridgeABI }

// contractCaller is the slice of an EVM client completion checks use.
type contractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// IsTransferCompleted asks a destination EVM token bridge whether the
// VAA digest was already redeemed. Used as an idempotency gate before
// submitting the completion transaction.
func IsTransferCompleted(
	ctx context.Context,
	caller contractCaller,
	bridge common.Address,
	vaaBytes []byte,
) (bool, error) {
	digest, err := SigningDigest(vaaBytes)
	if err != nil {
		return false, err
	}
	input, err := tokenBridgeABI.Pack("isTransferCompleted", [32]byte(digest))
	if err != nil {
		return false, errors.Wrap(err, "could not pack isTransferCompleted call")
	}
	output, err := caller.CallContract(ctx, ethereum.CallMsg{To: &bridge, Data: input}, nil)
	if err != nil {
		return false, errors.Wrap(err, "isTransferCompleted call failed")
	}
	results, err := tokenBridgeABI.Unpack("isTransferCompleted", output)
	if err != nil {
		return false, errors.Wrap(err, "could not unpack isTransferCompleted result")
	}
	completed, ok := results[0].(bool)
	if !ok {
		return false, errors.New("unexpected isTransferCompleted result type")
	}
	return completed, nil
}
