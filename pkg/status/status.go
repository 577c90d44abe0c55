// Package status tracks per-document ingestion progress in an embedded
// Badger store, so callers can poll long-running ingestions and state
// survives process restarts.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when no status exists for a document.
var ErrNotFound = errors.New("status not found")

// State is the ingestion lifecycle of one document.
type State string

const (
	StatePending    State = "pending"
	StateExtracting State = "extracting"
	StateEmbedding  State = "embedding"
	StateBuilding   State = "building_graph"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateRemoved    State = "removed"
)

// DocumentStatus is the stored progress record for one document.
type DocumentStatus struct {
	DocumentID string    `json:"document_id"`
	State      State     `json:"state"`
	// Progress is a 0-100 coarse indicator.
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Units     int       `json:"units,omitempty"`
	Entities  int       `json:"entities,omitempty"`
	Relations int       `json:"relations,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists document statuses.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a status store at path. An empty path opens an
// in-memory store, used in tests.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open status store: %w", err)
	}
	return &Store{db: db}, nil
}

func key(documentID string) []byte {
	return []byte("doc/" + documentID)
}

// Set writes the status for a document, stamping UpdatedAt.
func (s *Store) Set(status DocumentStatus) error {
	if status.DocumentID == "" {
		return fmt.Errorf("document id required")
	}
	status.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(status.DocumentID), data)
	})
	if err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

// Update applies fn to the current status (zero-valued if absent) and
// writes the result back in one transaction.
func (s *Store) Update(documentID string, fn func(*DocumentStatus)) error {
	return s.db.Update(func(txn *badger.Txn) error {
		status := DocumentStatus{DocumentID: documentID, State: StatePending}

		item, err := txn.Get(key(documentID))
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &status)
			}); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		fn(&status)
		status.DocumentID = documentID
		status.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(status)
		if err != nil {
			return fmt.Errorf("marshal status: %w", err)
		}
		return txn.Set(key(documentID), data)
	})
}

// Get returns the status for a document.
func (s *Store) Get(documentID string) (*DocumentStatus, error) {
	var status DocumentStatus
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(documentID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &status)
		})
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// List returns every stored status.
func (s *Store) List() ([]*DocumentStatus, error) {
	var out []*DocumentStatus
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("doc/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var status DocumentStatus
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &status)
			}); err != nil {
				return err
			}
			out = append(out, &status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a document's status.
func (s *Store) Delete(documentID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(documentID))
	})
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
