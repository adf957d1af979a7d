package kv

// The schema defines how records are stored and retrieved from the db.
// Each record family keeps a primary bucket keyed by record id plus
// index buckets whose keys are prefix-scannable: status indexes use
// status byte + big-endian createdAt + id so a cursor walk in reverse
// yields createdAt-descending order, and chain indexes use
// chainName + 0x00 + id.
var (
	depositsBucket              = []byte("deposits")
	depositStatusIndexBucket    = []byte("deposit-status-index")
	depositChainIndexBucket     = []byte("deposit-chain-index")
	redemptionsBucket           = []byte("redemptions")
	redemptionStatusIndexBucket = []byte("redemption-status-index")
	redemptionChainIndexBucket  = []byte("redemption-chain-index")
	auditLogBucket              = []byte("audit-log")
)
