package recorder

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketSteps = []byte("steps")

// StepRecord is one recorded communication step: the communication
// point reached and the output values observed there.
type StepRecord struct {
	Time       time.Time          `json:"time"`
	CommPoint  float64            `json:"comm_point"`
	Status     string             `json:"status"`
	Reals      map[string]float64 `json:"reals,omitempty"`
	Integers   map[string]int64   `json:"integers,omitempty"`
	Booleans   map[string]bool    `json:"booleans,omitempty"`
	Strings    map[string]string  `json:"strings,omitempty"`
}

// Recorder persists per-step simulation results to a BoltDB file, one
// nested bucket per adapter instance keyed by communication point.
type Recorder struct {
	db *bolt.DB
}

// Open creates or opens a recorder database in the given directory.
func Open(dataDir string) (*Recorder, error) {
	dbPath := filepath.Join(dataDir, "fmigate.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("recorder: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSteps)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Recorder{db: db}, nil
}

// Close closes the database.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// commPointKey encodes a non-negative communication point so that
// byte-wise key order matches numeric order.
func commPointKey(t float64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, math.Float64bits(t))
	return key
}

// RecordStep stores one step record under the given instance.
func (r *Recorder) RecordStep(instance string, rec StepRecord) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketSteps)
		b, err := parent.CreateBucketIfNotExists([]byte(instance))
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(commPointKey(rec.CommPoint), data)
	})
}

// ListSteps returns all recorded steps for an instance in communication
// point order.
func (r *Recorder) ListSteps(instance string) ([]StepRecord, error) {
	var records []StepRecord
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSteps).Bucket([]byte(instance))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec StepRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

// Instances lists all instances with recorded steps.
func (r *Recorder) Instances() ([]string, error) {
	var names []string
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSteps).ForEachBucket(func(k []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}
