package l1

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// pendingNonceReader is the slice of the client the nonce manager needs.
type pendingNonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager serializes outgoing L1 transactions from one signer and
// assigns sequential nonces. The critical section spans fetch-nonce,
// build and submit, so concurrent initialize/finalize calls can never
// share a nonce. A gap caused by a dropped transaction stalls
// subsequent sends until the stuck nonce is replaced or confirmed; the
// reconciler re-attempts after the retry interval.
type NonceManager struct {
	mu      sync.Mutex
	client  pendingNonceReader
	account common.Address
	next    uint64
	primed  bool
}

// NewNonceManager tracks nonces for the given account.
func NewNonceManager(client pendingNonceReader, account common.Address) *NonceManager {
	return &NonceManager{client: client, account: account}
}

// Submit runs build under the nonce lock with the next sequential nonce.
// The builder must both sign and send; on success the nonce advances.
// Any nonce-related failure re-primes from the pending pool on the next
// call.
func (nm *NonceManager) Submit(
	ctx context.Context,
	build func(nonce uint64) (*gethtypes.Transaction, error),
) (*gethtypes.Transaction, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if !nm.primed {
		pending, err := nm.client.PendingNonceAt(ctx, nm.account)
		if err != nil {
			return nil, errors.Wrap(err, "could not fetch pending nonce")
		}
		nm.next = pending
		nm.primed = true
	}

	tx, err := build(nm.next)
	if err != nil {
		if isNonceError(err) {
			nm.primed = false
		}
		return nil, err
	}
	nm.next++
	return tx, nil
}

func isNonceError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "replacement transaction underpriced") ||
		strings.Contains(msg, "already known")
}
