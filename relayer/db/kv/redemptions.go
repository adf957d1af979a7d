package kv

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/keep-network/tbtc-relayer/relayer/db"
	"github.com/keep-network/tbtc-relayer/relayer/types"
)

// SaveRedemption creates a new redemption record atomically, failing
// with db.ErrAlreadyExists on a duplicate id.
func (s *Store) SaveRedemption(_ context.Context, r *types.Redemption) error {
	if r == nil || r.ID == "" {
		return errors.New("nil or unidentified redemption")
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(redemptionsBucket)
		if bkt.Get([]byte(r.ID)) != nil {
			return db.ErrAlreadyExists
		}
		enc, err := encode(r)
		if err != nil {
			return err
		}
		if err := bkt.Put([]byte(r.ID), enc); err != nil {
			return err
		}
		if err := tx.Bucket(redemptionStatusIndexBucket).Put(
			statusIndexKey(int32(r.Status), r.Dates.CreatedAt, r.ID), []byte(r.ID),
		); err != nil {
			return err
		}
		return tx.Bucket(redemptionChainIndexBucket).Put(chainIndexKey(r.ChainName, r.ID), []byte(r.ID))
	})
	if err == nil {
		redemptionsSavedCounter.Inc()
	}
	return err
}

// Redemption retrieves a redemption record by id, or db.ErrNotFound.
func (s *Store) Redemption(_ context.Context, id string) (*types.Redemption, error) {
	r := &types.Redemption{}
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(redemptionsBucket).Get([]byte(id))
		if enc == nil {
			return db.ErrNotFound
		}
		return decode(enc, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RedemptionsByStatus returns redemptions in the given status ordered by
// createdAt descending. An empty chainName matches every chain.
func (s *Store) RedemptionsByStatus(_ context.Context, status types.RedemptionStatus, chainName string) ([]*types.Redemption, error) {
	var redemptions []*types.Redemption
	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket(redemptionsBucket)
		c := tx.Bucket(redemptionStatusIndexBucket).Cursor()
		prefix := []byte{byte(status)}
		for k, id := seekLast(c, prefix); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Prev() {
			enc := records.Get(id)
			if enc == nil {
				continue
			}
			r := &types.Redemption{}
			if err := decode(enc, r); err != nil {
				return err
			}
			if chainName != "" && r.ChainName != chainName {
				continue
			}
			redemptions = append(redemptions, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return redemptions, nil
}

// UpdateRedemption replaces a redemption record atomically, bumping
// lastActivityAt and repairing the status index if the status moved.
func (s *Store) UpdateRedemption(_ context.Context, r *types.Redemption) error {
	if r == nil || r.ID == "" {
		return errors.New("nil or unidentified redemption")
	}
	r.MarkActivity()
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(redemptionsBucket)
		prevEnc := bkt.Get([]byte(r.ID))
		if prevEnc == nil {
			return db.ErrNotFound
		}
		prev := &types.Redemption{}
		if err := decode(prevEnc, prev); err != nil {
			return err
		}
		enc, err := encode(r)
		if err != nil {
			return err
		}
		if err := bkt.Put([]byte(r.ID), enc); err != nil {
			return err
		}
		if prev.Status != r.Status {
			statusIdx := tx.Bucket(redemptionStatusIndexBucket)
			if err := statusIdx.Delete(statusIndexKey(int32(prev.Status), prev.Dates.CreatedAt, prev.ID)); err != nil {
				return err
			}
			if err := statusIdx.Put(statusIndexKey(int32(r.Status), r.Dates.CreatedAt, r.ID), []byte(r.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteRedemption removes a redemption record and its index entries.
func (s *Store) DeleteRedemption(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(redemptionsBucket)
		enc := bkt.Get([]byte(id))
		if enc == nil {
			return db.ErrNotFound
		}
		r := &types.Redemption{}
		if err := decode(enc, r); err != nil {
			return err
		}
		if err := tx.Bucket(redemptionStatusIndexBucket).Delete(
			statusIndexKey(int32(r.Status), r.Dates.CreatedAt, r.ID),
		); err != nil {
			return err
		}
		if err := tx.Bucket(redemptionChainIndexBucket).Delete(chainIndexKey(r.ChainName, r.ID)); err != nil {
			return err
		}
		return bkt.Delete([]byte(id))
	})
}
