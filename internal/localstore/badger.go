package localstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/ohboy/herosync/internal/document"
	"github.com/ohboy/herosync/pkg/logger"
)

const (
	docPrefix     = "doc/"
	pendingPrefix = "pending/"
	deadPrefix    = "dead/"
	checkpointKey = "checkpoint"
)

// Badger is a disk-backed Store. Documents, the checkpoint and the
// pending/dead id sets all live in one BadgerDB, so a restarted client
// resumes replication from exactly where it stopped.
type Badger struct {
	db       *badger.DB
	listener listenerSet
}

// OpenBadger opens (or creates) the database at path.
func OpenBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open local store at %s: %w", path, err)
	}
	return &Badger{db: db}, nil
}

// OpenBadgerInMemory opens an ephemeral database; used by tests.
func OpenBadgerInMemory() (*Badger, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory local store: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Apply(doc document.Document) error {
	if err := b.writeDoc(doc, false); err != nil {
		return err
	}
	b.listener.fire(doc)
	return nil
}

func (b *Badger) Put(doc document.Document) error {
	if err := b.writeDoc(doc, true); err != nil {
		return err
	}
	b.listener.fire(doc)
	return nil
}

func (b *Badger) writeDoc(doc document.Document, markPending bool) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(docPrefix+doc.ID), raw); err != nil {
			return err
		}
		if markPending {
			return txn.Set([]byte(pendingPrefix+doc.ID), nil)
		}
		return nil
	})
}

func (b *Badger) Get(id string) (document.Document, bool, error) {
	var doc document.Document
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(docPrefix + id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	return doc, found, err
}

func (b *Badger) All() ([]document.Document, error) {
	out := []document.Document{}
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(docPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var doc document.Document
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			})
			if err != nil {
				return err
			}
			out = append(out, doc)
		}
		return nil
	})
	return out, err
}

func (b *Badger) Checkpoint() (document.Checkpoint, error) {
	var cp document.Checkpoint
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(checkpointKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	return cp, err
}

func (b *Badger) SetCheckpoint(cp document.Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(checkpointKey), raw)
	})
}

func (b *Badger) Pending() ([]document.Document, error) {
	ids, err := b.listIDs(pendingPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]document.Document, 0, len(ids))
	for _, id := range ids {
		doc, found, err := b.Get(id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (b *Badger) Ack(id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(pendingPrefix + id))
	})
}

func (b *Badger) Reject(id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(pendingPrefix + id)); err != nil {
			return err
		}
		return txn.Set([]byte(deadPrefix+id), nil)
	})
}

func (b *Badger) Dead() ([]string, error) {
	return b.listIDs(deadPrefix)
}

func (b *Badger) listIDs(prefix string) ([]string, error) {
	out := []string{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			out = append(out, strings.TrimPrefix(string(it.Item().Key()), prefix))
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

func (b *Badger) AddListener(fn func(document.Document)) {
	b.listener.add(fn)
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes BadgerDB's chatter through the shared logger at
// debug/warn levels.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{})   { logger.Errorf("badger: "+format, args...) }
func (badgerLogger) Warningf(format string, args ...interface{}) { logger.Warnf("badger: "+format, args...) }
func (badgerLogger) Infof(format string, args ...interface{})    { logger.Debugf("badger: "+format, args...) }
func (badgerLogger) Debugf(format string, args ...interface{})   { logger.Debugf("badger: "+format, args...) }
