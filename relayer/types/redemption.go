package types

import (
	"fmt"
	"time"
)

// RedemptionStatus is the position of a redemption in its pipeline.
type RedemptionStatus int32

const (
	// RedemptionPending marks a redemption observed on L2 and waiting for
	// its Wormhole attestation.
	RedemptionPending RedemptionStatus = 0
	// RedemptionVaaFetched marks a redemption whose signed VAA was
	// fetched and verified.
	RedemptionVaaFetched RedemptionStatus = 1
	// RedemptionCompleted marks a redemption whose L1 submission was
	// confirmed.
	RedemptionCompleted RedemptionStatus = 2
	// RedemptionVaaFailed marks a redemption whose VAA fetch failed; the
	// next sweep retries it.
	RedemptionVaaFailed RedemptionStatus = 3
	// RedemptionFailed marks a redemption whose L1 submission failed.
	RedemptionFailed RedemptionStatus = 4
)

// String implements fmt.Stringer.
func (s RedemptionStatus) String() string {
	switch s {
	case RedemptionPending:
		return "PENDING"
	case RedemptionVaaFetched:
		return "VAA_FETCHED"
	case RedemptionCompleted:
		return "COMPLETED"
	case RedemptionVaaFailed:
		return "VAA_FAILED"
	case RedemptionFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// MainUtxo identifies the wallet's main UTXO the redemption spends from.
type MainUtxo struct {
	TxHash        string `json:"txHash"`
	TxOutputIndex uint32 `json:"txOutputIndex"`
	TxOutputValue uint64 `json:"txOutputValue"`
}

// RedemptionEvent is the L2 RedemptionRequested payload.
type RedemptionEvent struct {
	WalletPublicKeyHash  string   `json:"walletPubKeyHash"`
	MainUtxo             MainUtxo `json:"mainUtxo"`
	RedeemerOutputScript string   `json:"redeemerOutputScript"`
	Amount               string   `json:"amount"`
	L2TransactionHash    string   `json:"l2TransactionHash"`
}

// RedemptionDates are millisecond epoch timestamps; zero means unset.
type RedemptionDates struct {
	CreatedAt      int64 `json:"createdAt"`
	VaaFetchedAt   int64 `json:"vaaFetchedAt,omitempty"`
	L1SubmittedAt  int64 `json:"l1SubmittedAt,omitempty"`
	CompletedAt    int64 `json:"completedAt,omitempty"`
	LastActivityAt int64 `json:"lastActivityAt"`
}

// Redemption tracks one L2 redemption request until its L1 settlement.
type Redemption struct {
	ID                 string           `json:"id"`
	ChainName          string           `json:"chainName"`
	Event              RedemptionEvent  `json:"event"`
	Status             RedemptionStatus `json:"status"`
	VaaBytes           []byte           `json:"vaaBytes,omitempty"`
	L1SubmissionTxHash string           `json:"l1SubmissionTxHash,omitempty"`
	Dates              RedemptionDates  `json:"dates"`
	Logs               []string         `json:"logs"`
	Error              string           `json:"error,omitempty"`
}

// AppendLog adds a human-readable stage marker of the form
// "<stage> at <RFC3339 timestamp>".
func (r *Redemption) AppendLog(stage string) {
	r.Logs = append(r.Logs, fmt.Sprintf("%s at %s", stage, time.Now().UTC().Format(time.RFC3339)))
}

// MarkActivity bumps the record's last activity timestamp.
func (r *Redemption) MarkActivity() {
	r.Dates.LastActivityAt = NowMs()
}
