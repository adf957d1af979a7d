// Package kv implements the operation store on BoltDB, with index
// buckets backing the status and chain queries.
package kv

import (
	"os"
	"path"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var log = logrus.WithField("prefix", "db")

const databaseFileName = "relayer.db"

var (
	depositsSavedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_db_deposits_saved_total",
		Help: "Total number of deposit records created in the store.",
	})
	redemptionsSavedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_db_redemptions_saved_total",
		Help: "Total number of redemption records created in the store.",
	})
	recordsCleanedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_db_records_cleaned_total",
		Help: "Total number of aged records removed by cleanup sweeps.",
	})
)

// Store defines an implementation of the relayer Database interface
// using BoltDB as the underlying persistent kv-store.
type Store struct {
	db           *bolt.DB
	databasePath string
}

// NewKVStore initializes a new boltDB key-value store at the directory
// path specified, creates the kv-buckets based on the schema, and stores
// an open connection db object as a property of the Store struct.
func NewKVStore(dirPath string) (*Store, error) {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return nil, err
	}
	datafile := path.Join(dirPath, databaseFileName)
	boltDB, err := bolt.Open(datafile, 0600, &bolt.Options{Timeout: 1 * time.Second, InitialMmapSize: 10e6})
	if err != nil {
		if err == bolt.ErrTimeout {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, err
	}

	kv := &Store{
		db:           boltDB,
		databasePath: dirPath,
	}

	if err := kv.db.Update(func(tx *bolt.Tx) error {
		return createBuckets(
			tx,
			depositsBucket,
			redemptionsBucket,
			auditLogBucket,
			// Indices buckets.
			depositStatusIndexBucket,
			depositChainIndexBucket,
			redemptionStatusIndexBucket,
			redemptionChainIndexBucket,
		)
	}); err != nil {
		return nil, err
	}
	return kv, nil
}

// ClearDB removes the previously stored database in the data directory.
func (s *Store) ClearDB() error {
	if _, err := os.Stat(s.databasePath); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(path.Join(s.databasePath, databaseFileName))
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DatabasePath at which this database writes files.
func (s *Store) DatabasePath() string {
	return s.databasePath
}

func createBuckets(tx *bolt.Tx, buckets ...[]byte) error {
	for _, bucket := range buckets {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return err
		}
	}
	return nil
}
