package kv

import (
	"context"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/keep-network/tbtc-relayer/relayer/types"
)

// AppendAuditEntry appends one entry to the audit log. Keys embed the
// big-endian timestamp so reverse cursor walks yield newest-first;
// concurrent appends within the same millisecond are disambiguated by
// the entry uuid and their relative order is unspecified.
func (s *Store) AppendAuditEntry(_ context.Context, entry *types.AuditEntry) error {
	if entry == nil {
		return errors.New("nil audit entry")
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = types.NowMs()
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		enc, err := encode(entry)
		if err != nil {
			return err
		}
		return tx.Bucket(auditLogBucket).Put(auditKey(entry.Timestamp, entry.ID), enc)
	})
}

// AuditEntries returns the full audit log, timestamp descending.
func (s *Store) AuditEntries(_ context.Context) ([]*types.AuditEntry, error) {
	return s.auditEntries(func(*types.AuditEntry) bool { return true })
}

// AuditEntriesByDeposit returns the audit entries recorded for one
// deposit, timestamp descending.
func (s *Store) AuditEntriesByDeposit(_ context.Context, depositID string) ([]*types.AuditEntry, error) {
	return s.auditEntries(func(e *types.AuditEntry) bool { return e.DepositID == depositID })
}

func (s *Store) auditEntries(match func(*types.AuditEntry) bool) ([]*types.AuditEntry, error) {
	var entries []*types.AuditEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(auditLogBucket).Cursor()
		for k, enc := c.Last(); k != nil; k, enc = c.Prev() {
			entry := &types.AuditEntry{}
			if err := decode(enc, entry); err != nil {
				return err
			}
			if match(entry) {
				entries = append(entries, entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func auditKey(ts int64, id string) []byte {
	key := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(ts))
	return append(key, id...)
}
