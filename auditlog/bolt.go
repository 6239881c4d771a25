package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"ironclad.dev/dpm/model"
)

const syncLogBucket = "sync_log"

// BoltRecorder is a durable single-node Recorder on bbolt. Keys are the
// entry's RFC 3339 nano timestamp suffixed with its ID; queries walk the
// whole bucket in key order and filter by integration, time range, or
// mapping.
type BoltRecorder struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the log database at path.
func OpenBolt(path string) (*BoltRecorder, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(syncLogBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit log bucket: %w", err)
	}
	return &BoltRecorder{db: db}, nil
}

func (r *BoltRecorder) Close() error { return r.db.Close() }

func logKey(e *model.JiraSyncLog) []byte {
	return []byte(e.Timestamp.UTC().Format(time.RFC3339Nano) + "|" + e.ID.String())
}

func (r *BoltRecorder) Record(_ context.Context, entry *model.JiraSyncLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(syncLogBucket)).Put(logKey(entry), data)
	})
}

func (r *BoltRecorder) ListByIntegration(_ context.Context, integrationID uuid.UUID, from, to time.Time) ([]*model.JiraSyncLog, error) {
	var out []*model.JiraSyncLog
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(syncLogBucket)).ForEach(func(k, v []byte) error {
			var e model.JiraSyncLog
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %w", k, err)
			}
			if e.IntegrationID != integrationID {
				return nil
			}
			if !from.IsZero() && e.Timestamp.Before(from) {
				return nil
			}
			if !to.IsZero() && e.Timestamp.After(to) {
				return nil
			}
			out = append(out, &e)
			return nil
		})
	})
	return out, err
}

func (r *BoltRecorder) ListByMapping(_ context.Context, mappingID uuid.UUID) ([]*model.JiraSyncLog, error) {
	var out []*model.JiraSyncLog
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(syncLogBucket)).ForEach(func(k, v []byte) error {
			var e model.JiraSyncLog
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %w", k, err)
			}
			if e.MappingID != nil && *e.MappingID == mappingID {
				out = append(out, &e)
			}
			return nil
		})
	})
	return out, err
}
