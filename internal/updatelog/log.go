package updatelog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketPending = []byte("pending")
	bucketByID    = []byte("by_id")
)

// PendingUpdate is one locally captured CRDT update awaiting a server ack.
// Entries survive process restarts; that is the point of the log.
type PendingUpdate struct {
	ClientUpdateID string `json:"clientUpdateId"`
	DocID          string `json:"docId"`
	BaseSeq        int64  `json:"baseSeq"`
	Payload        []byte `json:"payload"`
	EnqueuedAt     int64  `json:"enqueuedAt"`
}

type Options struct {
	Path  string
	Clock func() time.Time
	// UpdateID mints client update ids. Defaults to uuid.NewString.
	UpdateID func() string
}

// Log is a durable FIFO of outbound updates keyed by client update id. An
// entry leaves the log only when its ack arrives with applied=true, so a
// crash between send and ack replays the update (the server deduplicates by
// id).
type Log struct {
	db       *bolt.DB
	clock    func() time.Time
	updateID func() string
}

func Open(opts Options) (*Log, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("update log path is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	updateID := opts.UpdateID
	if updateID == nil {
		updateID = uuid.NewString
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketPending); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketByID)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Log{db: db, clock: clock, updateID: updateID}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

// Append records a new update and returns it with its minted id.
func (l *Log) Append(docID string, baseSeq int64, payload []byte) (PendingUpdate, error) {
	update := PendingUpdate{
		ClientUpdateID: l.updateID(),
		DocID:          docID,
		BaseSeq:        baseSeq,
		Payload:        payload,
		EnqueuedAt:     l.clock().UnixMilli(),
	}
	err := l.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket(bucketPending)
		byID := tx.Bucket(bucketByID)
		seq, err := pending.NextSequence()
		if err != nil {
			return err
		}
		key := seqKey(seq)
		value, err := json.Marshal(update)
		if err != nil {
			return err
		}
		if err := pending.Put(key, value); err != nil {
			return err
		}
		return byID.Put([]byte(update.ClientUpdateID), key)
	})
	if err != nil {
		return PendingUpdate{}, err
	}
	return update, nil
}

// Pending returns how many updates are still awaiting an ack.
func (l *Log) Pending() (int, error) {
	count := 0
	err := l.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketPending).Stats().KeyN
		return nil
	})
	return count, err
}

// NextBatch returns up to limit pending updates in enqueue order.
func (l *Log) NextBatch(limit int) ([]PendingUpdate, error) {
	if limit <= 0 {
		limit = 64
	}
	var batch []PendingUpdate
	err := l.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketPending).Cursor()
		for key, value := cursor.First(); key != nil && len(batch) < limit; key, value = cursor.Next() {
			var update PendingUpdate
			if err := json.Unmarshal(value, &update); err != nil {
				return fmt.Errorf("corrupt update log entry: %w", err)
			}
			batch = append(batch, update)
		}
		return nil
	})
	return batch, err
}

// MarkApplied removes an update once the server acked it. Unknown ids are a
// no-op: a replayed ack after a crash must not fail.
func (l *Log) MarkApplied(clientUpdateID string, serverSeq int64) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		byID := tx.Bucket(bucketByID)
		key := byID.Get([]byte(clientUpdateID))
		if key == nil {
			return nil
		}
		if err := tx.Bucket(bucketPending).Delete(key); err != nil {
			return err
		}
		return byID.Delete([]byte(clientUpdateID))
	})
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
