package types

// AuditEventType names the lifecycle moments recorded in the audit log.
type AuditEventType string

const (
	// AuditDepositCreated records a new deposit entering the store.
	AuditDepositCreated AuditEventType = "DEPOSIT_CREATED"
	// AuditStatusChanged records a deposit status transition.
	AuditStatusChanged AuditEventType = "STATUS_CHANGED"
	// AuditReconciliationJump records a local status advanced to match
	// on-chain truth.
	AuditReconciliationJump AuditEventType = "RECONCILIATION_JUMP"
	// AuditErrorRecorded records an error classified onto a record.
	AuditErrorRecorded AuditEventType = "ERROR_RECORDED"
	// AuditRedemptionCreated records a new redemption entering the store.
	AuditRedemptionCreated AuditEventType = "REDEMPTION_CREATED"
	// AuditRedemptionUpdated records a redemption status transition.
	AuditRedemptionUpdated AuditEventType = "REDEMPTION_UPDATED"
	// AuditRecordDeleted records a cleanup sweep removing a record.
	AuditRecordDeleted AuditEventType = "RECORD_DELETED"
)

// AuditEntry is one append-only audit log record. Entries are never
// updated; cleanup is the only deletion path.
type AuditEntry struct {
	ID           string            `json:"id"`
	Timestamp    int64             `json:"timestamp"`
	EventType    AuditEventType    `json:"eventType"`
	DepositID    string            `json:"depositId,omitempty"`
	RedemptionID string            `json:"redemptionId,omitempty"`
	ChainName    string            `json:"chainName,omitempty"`
	ErrorCode    int32             `json:"errorCode,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}
