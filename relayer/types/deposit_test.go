package types

import (
	"testing"
	"time"

	"github.com/keep-network/tbtc-relayer/testing/assert"
)

func TestDepositStatusString(t *testing.T) {
	assert.Equal(t, "QUEUED", StatusQueued.String())
	assert.Equal(t, "INITIALIZED", StatusInitialized.String())
	assert.Equal(t, "FINALIZED", StatusFinalized.String())
	assert.Equal(t, "AWAITING_WORMHOLE_VAA", StatusAwaitingWormholeVAA.String())
	assert.Equal(t, "BRIDGED", StatusBridged.String())
}

func TestKnownDepositStatus(t *testing.T) {
	for raw := uint8(0); raw <= uint8(StatusBridged); raw++ {
		assert.Equal(t, true, KnownDepositStatus(raw))
	}
	assert.Equal(t, false, KnownDepositStatus(uint8(StatusBridged)+1))
	assert.Equal(t, false, KnownDepositStatus(200))
}

func TestActivityOlderThan(t *testing.T) {
	d := &Deposit{}
	// No recorded activity means always eligible.
	assert.Equal(t, true, d.ActivityOlderThan(time.Hour))

	d.MarkActivity()
	assert.Equal(t, false, d.ActivityOlderThan(time.Hour))
	assert.Equal(t, true, d.ActivityOlderThan(0))

	d.Dates.LastActivityAt = time.Now().Add(-2 * time.Hour).UnixMilli()
	assert.Equal(t, true, d.ActivityOlderThan(time.Hour))
}
