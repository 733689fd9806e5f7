// Package ledger persists pending edits across application restarts. Every
// mutation is committed to disk before observers hear about it, so a crash
// can lose at most work the user never saw acknowledged.
package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/osmedit/osmedit/pkg/geo"
	"github.com/osmedit/osmedit/pkg/osm"
)

var (
	bucketEdits    = []byte("edits")
	bucketDeletes  = []byte("deletes")
	bucketCounters = []byte("counters")
	bucketKV       = []byte("kv")

	keyNextID   = []byte("next_id")
	keyLastBBox = []byte("last_bbox")
)

// EventKind describes what changed in the ledger.
type EventKind string

const (
	EventUpsert  EventKind = "upsert"
	EventDelete  EventKind = "delete"
	EventRemove  EventKind = "remove"
	EventCleared EventKind = "cleared"
)

// Event is delivered to observers after the mutation it describes has been
// committed.
type Event struct {
	Kind EventKind
	Ref  osm.Ref
}

// Observer receives ledger change notifications.
type Observer func(Event)

// Ledger is the durable pending-edit set. All methods are safe for
// concurrent use.
type Ledger struct {
	db     *bolt.DB
	logger *slog.Logger

	mu        sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// Open opens or creates the ledger database at path.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening ledger %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEdits, bucketDeletes, bucketCounters, bucketKV} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing ledger buckets: %w", err)
	}
	return &Ledger{
		db:        db,
		logger:    logger,
		observers: make(map[int]Observer),
	}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Subscribe registers an observer and returns a handle for Unsubscribe.
func (l *Ledger) Subscribe(obs Observer) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextObs
	l.nextObs++
	l.observers[id] = obs
	return id
}

// Unsubscribe removes a previously registered observer.
func (l *Ledger) Unsubscribe(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.observers, id)
}

func (l *Ledger) notify(ev Event) {
	l.mu.Lock()
	obs := make([]Observer, 0, len(l.observers))
	for _, o := range l.observers {
		obs = append(obs, o)
	}
	l.mu.Unlock()
	for _, o := range obs {
		o(ev)
	}
}

func refKey(ref osm.Ref) []byte {
	return []byte(ref.String())
}

// Upsert stores or replaces a pending edit. The object leaves the delete
// set if it was there, since an edit supersedes a prior deletion.
func (l *Ledger) Upsert(o *osm.EditObject) error {
	val, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshaling edit %s: %w", o.Ref(), err)
	}
	key := refKey(o.Ref())
	err = l.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketEdits).Put(key, val); err != nil {
			return err
		}
		return tx.Bucket(bucketDeletes).Delete(key)
	})
	if err != nil {
		return fmt.Errorf("persisting edit %s: %w", o.Ref(), err)
	}
	l.notify(Event{Kind: EventUpsert, Ref: o.Ref()})
	return nil
}

// Delete records a deletion. Objects the server has never seen are simply
// discarded from the edit set; server-known objects move to the delete set
// so the next upload carries them.
func (l *Ledger) Delete(o *osm.EditObject) error {
	key := refKey(o.Ref())
	err := l.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketEdits).Delete(key); err != nil {
			return err
		}
		if o.Synthetic() {
			return nil
		}
		val, err := json.Marshal(o)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDeletes).Put(key, val)
	})
	if err != nil {
		return fmt.Errorf("persisting deletion %s: %w", o.Ref(), err)
	}
	l.notify(Event{Kind: EventDelete, Ref: o.Ref()})
	return nil
}

// Remove drops an object from both the edit and delete sets, typically
// after the server has acknowledged it.
func (l *Ledger) Remove(ref osm.Ref) error {
	key := refKey(ref)
	err := l.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketEdits).Delete(key); err != nil {
			return err
		}
		return tx.Bucket(bucketDeletes).Delete(key)
	})
	if err != nil {
		return fmt.Errorf("removing %s: %w", ref, err)
	}
	l.notify(Event{Kind: EventRemove, Ref: ref})
	return nil
}

// Get returns the pending edit for ref, if one exists.
func (l *Ledger) Get(ref osm.Ref) (*osm.EditObject, bool) {
	var o *osm.EditObject
	l.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(bucketEdits).Get(refKey(ref))
		if val == nil {
			return nil
		}
		var decoded osm.EditObject
		if err := json.Unmarshal(val, &decoded); err != nil {
			l.logger.Warn("skipping undecodable ledger entry",
				"ref", ref.String(), "error", err)
			return nil
		}
		o = &decoded
		return nil
	})
	return o, o != nil
}

// Deleted reports whether ref is in the delete set.
func (l *Ledger) Deleted(ref osm.Ref) bool {
	var found bool
	l.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketDeletes).Get(refKey(ref)) != nil
		return nil
	})
	return found
}

func (l *Ledger) scan(bucket []byte) []*osm.EditObject {
	var out []*osm.EditObject
	l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			var o osm.EditObject
			if err := json.Unmarshal(v, &o); err != nil {
				// A corrupt entry must not block the rest of
				// the ledger from loading.
				l.logger.Warn("skipping undecodable ledger entry",
					"ref", string(k), "error", err)
				return nil
			}
			out = append(out, &o)
			return nil
		})
	})
	return out
}

// Edits returns every pending edit.
func (l *Ledger) Edits() []*osm.EditObject {
	return l.scan(bucketEdits)
}

// Deletes returns every pending deletion.
func (l *Ledger) Deletes() []*osm.EditObject {
	return l.scan(bucketDeletes)
}

// Len reports the total number of pending objects.
func (l *Ledger) Len() int {
	var n int
	l.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketEdits).Stats().KeyN +
			tx.Bucket(bucketDeletes).Stats().KeyN
		return nil
	})
	return n
}

// Clear empties both pending sets after a successful upload.
func (l *Ledger) Clear() error {
	err := l.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEdits, bucketDeletes} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clearing ledger: %w", err)
	}
	l.notify(Event{Kind: EventCleared})
	return nil
}

// NextSyntheticID mints the next locally unique id for a created object.
// IDs are negative and strictly decreasing, and the counter survives
// restarts so ids are never reissued.
func (l *Ledger) NextSyntheticID() (int64, error) {
	var id int64
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		if val := b.Get(keyNextID); val != nil {
			id = int64(binary.BigEndian.Uint64(val))
		}
		id--
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(id))
		return b.Put(keyNextID, buf)
	})
	if err != nil {
		return 0, fmt.Errorf("minting synthetic id: %w", err)
	}
	return id, nil
}

// SetLastBBox records the most recently loaded envelope so the next launch
// can resume where the user left off.
func (l *Ledger) SetLastBBox(b geo.BoundingBox) error {
	val, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Put(keyLastBBox, val)
	})
}

// LastBBox returns the persisted envelope, if any.
func (l *Ledger) LastBBox() (geo.BoundingBox, bool) {
	var b geo.BoundingBox
	var ok bool
	l.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(bucketKV).Get(keyLastBBox)
		if val == nil {
			return nil
		}
		if err := json.Unmarshal(val, &b); err != nil {
			l.logger.Warn("skipping undecodable saved bbox", "error", err)
			return nil
		}
		ok = true
		return nil
	})
	return b, ok
}
