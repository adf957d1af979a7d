package kv

import (
	"bytes"
	"context"
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/keep-network/tbtc-relayer/relayer/db"
	"github.com/keep-network/tbtc-relayer/relayer/types"
)

// SaveDeposit creates a new deposit record. Creation is atomic: the
// record and its index entries are written in one transaction, and a
// duplicate id fails with db.ErrAlreadyExists.
func (s *Store) SaveDeposit(_ context.Context, d *types.Deposit) error {
	if d == nil || d.ID == "" {
		return errors.New("nil or unidentified deposit")
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(depositsBucket)
		if bkt.Get([]byte(d.ID)) != nil {
			return db.ErrAlreadyExists
		}
		enc, err := encode(d)
		if err != nil {
			return err
		}
		if err := bkt.Put([]byte(d.ID), enc); err != nil {
			return err
		}
		if err := tx.Bucket(depositStatusIndexBucket).Put(
			statusIndexKey(int32(d.Status), d.Dates.CreatedAt, d.ID), []byte(d.ID),
		); err != nil {
			return err
		}
		return tx.Bucket(depositChainIndexBucket).Put(chainIndexKey(d.ChainName, d.ID), []byte(d.ID))
	})
	if err == nil {
		depositsSavedCounter.Inc()
	}
	return err
}

// Deposit retrieves a deposit record by canonical id, or db.ErrNotFound.
func (s *Store) Deposit(_ context.Context, id string) (*types.Deposit, error) {
	d := &types.Deposit{}
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(depositsBucket).Get([]byte(id))
		if enc == nil {
			return db.ErrNotFound
		}
		return decode(enc, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// DepositsByStatus returns deposits in the given status ordered by
// createdAt descending. An empty chainName matches every chain.
func (s *Store) DepositsByStatus(_ context.Context, status types.DepositStatus, chainName string) ([]*types.Deposit, error) {
	var deposits []*types.Deposit
	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket(depositsBucket)
		c := tx.Bucket(depositStatusIndexBucket).Cursor()
		prefix := []byte{byte(status)}
		// Walk the status prefix backwards: keys embed big-endian
		// createdAt, so reverse order is createdAt descending.
		for k, id := seekLast(c, prefix); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Prev() {
			enc := records.Get(id)
			if enc == nil {
				continue
			}
			d := &types.Deposit{}
			if err := decode(enc, d); err != nil {
				return err
			}
			if chainName != "" && d.ChainName != chainName {
				continue
			}
			deposits = append(deposits, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deposits, nil
}

// DepositsByChain returns every deposit created for the given chain.
func (s *Store) DepositsByChain(_ context.Context, chainName string) ([]*types.Deposit, error) {
	var deposits []*types.Deposit
	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket(depositsBucket)
		c := tx.Bucket(depositChainIndexBucket).Cursor()
		prefix := append([]byte(chainName), 0x00)
		for k, id := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Next() {
			enc := records.Get(id)
			if enc == nil {
				continue
			}
			d := &types.Deposit{}
			if err := decode(enc, d); err != nil {
				return err
			}
			deposits = append(deposits, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortDepositsByCreatedAtDesc(deposits)
	return deposits, nil
}

// UpdateDeposit replaces a deposit record atomically, bumping
// lastActivityAt and repairing the status index if the status moved.
func (s *Store) UpdateDeposit(_ context.Context, d *types.Deposit) error {
	if d == nil || d.ID == "" {
		return errors.New("nil or unidentified deposit")
	}
	d.MarkActivity()
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(depositsBucket)
		prevEnc := bkt.Get([]byte(d.ID))
		if prevEnc == nil {
			return db.ErrNotFound
		}
		prev := &types.Deposit{}
		if err := decode(prevEnc, prev); err != nil {
			return err
		}
		enc, err := encode(d)
		if err != nil {
			return err
		}
		if err := bkt.Put([]byte(d.ID), enc); err != nil {
			return err
		}
		if prev.Status != d.Status || prev.Dates.CreatedAt != d.Dates.CreatedAt {
			statusIdx := tx.Bucket(depositStatusIndexBucket)
			if err := statusIdx.Delete(statusIndexKey(int32(prev.Status), prev.Dates.CreatedAt, prev.ID)); err != nil {
				return err
			}
			if err := statusIdx.Put(statusIndexKey(int32(d.Status), d.Dates.CreatedAt, d.ID), []byte(d.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteDeposit removes a deposit record and its index entries.
func (s *Store) DeleteDeposit(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(depositsBucket)
		enc := bkt.Get([]byte(id))
		if enc == nil {
			return db.ErrNotFound
		}
		d := &types.Deposit{}
		if err := decode(enc, d); err != nil {
			return err
		}
		if err := tx.Bucket(depositStatusIndexBucket).Delete(
			statusIndexKey(int32(d.Status), d.Dates.CreatedAt, d.ID),
		); err != nil {
			return err
		}
		if err := tx.Bucket(depositChainIndexBucket).Delete(chainIndexKey(d.ChainName, d.ID)); err != nil {
			return err
		}
		return bkt.Delete([]byte(id))
	})
}

func statusIndexKey(status int32, createdAt int64, id string) []byte {
	key := make([]byte, 0, 1+8+len(id))
	key = append(key, byte(status))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(createdAt))
	key = append(key, ts[:]...)
	return append(key, id...)
}

func chainIndexKey(chainName, id string) []byte {
	key := make([]byte, 0, len(chainName)+1+len(id))
	key = append(key, chainName...)
	key = append(key, 0x00)
	return append(key, id...)
}

// seekLast positions the cursor on the last key sharing the prefix.
func seekLast(c *bolt.Cursor, prefix []byte) ([]byte, []byte) {
	// Seek to the first key past the prefix range, then step back once.
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			upper = upper[:i+1]
			if k, _ := c.Seek(upper); k == nil {
				return c.Last()
			}
			return c.Prev()
		}
		// 0xff bytes roll over into the previous position.
	}
	return c.Last()
}

func sortDepositsByCreatedAtDesc(deposits []*types.Deposit) {
	sort.SliceStable(deposits, func(i, j int) bool {
		return deposits[i].Dates.CreatedAt > deposits[j].Dates.CreatedAt
	})
}
