package evm

import (
	"testing"

	"github.com/keep-network/tbtc-relayer/relayer/types"
	"github.com/keep-network/tbtc-relayer/testing/require"
)

func validRevealRequest() *types.L1OutputEvent {
	return &types.L1OutputEvent{
		FundingTx: types.BitcoinTxInfo{
			Version:      "0x01000000",
			InputVector:  "0x01deadbeef",
			OutputVector: "0x02cafe",
			Locktime:     "0x00000000",
		},
		Reveal: types.Reveal{
			FundingOutputIndex:  0,
			BlindingFactor:      "0xf9f0c90d00039523",
			WalletPublicKeyHash: "0x8db50eb52063ea9d98b3eac91489a90f738986f6",
			RefundPublicKeyHash: "0x28e081f285138ccbe389c1eb8985716230129f89",
			RefundLocktime:      "0x60bcea61",
			Vault:               "0x594cfd89700040163727828AE20B52099C58F02C",
		},
		L2DepositOwner: "0x000000000000000000000000f919ab7bdc0b6b1296d88a16e1ff16f7c9f92c88",
		L2Sender:       "0xf919ab7bdc0b6b1296d88a16e1ff16f7c9f92c88",
	}
}

func TestValidateReveal(t *testing.T) {
	require.NoError(t, validateReveal(validRevealRequest()))
}

func TestValidateReveal_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(req *types.L1OutputEvent)
		wantErr string
	}{
		{
			"short version",
			func(req *types.L1OutputEvent) { req.FundingTx.Version = "0x01" },
			"invalid fundingTx.version",
		},
		{
			"locktime wrong length",
			func(req *types.L1OutputEvent) { req.FundingTx.Locktime = "0x0000000000" },
			"invalid fundingTx.locktime",
		},
		{
			"blinding factor wrong length",
			func(req *types.L1OutputEvent) { req.Reveal.BlindingFactor = "0xf9f0c90d" },
			"invalid reveal.blindingFactor",
		},
		{
			"wallet hash not hex",
			func(req *types.L1OutputEvent) { req.Reveal.WalletPublicKeyHash = "0xzz50eb52063ea9d98b3eac91489a90f738986f6" },
			"invalid reveal.walletPubKeyHash",
		},
		{
			"input vector not hex",
			func(req *types.L1OutputEvent) { req.FundingTx.InputVector = "not-hex" },
			"invalid fundingTx.inputVector",
		},
		{
			"owner not hex",
			func(req *types.L1OutputEvent) { req.L2DepositOwner = "bob" },
			"invalid l2DepositOwner",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRevealRequest()
			tt.mutate(req)
			require.ErrorContains(t, tt.wantErr, validateReveal(req))
		})
	}
}
