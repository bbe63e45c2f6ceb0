package document

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrInvalid marks a document rejected by validation. Callers must fix
	// and resubmit; the write is never retried as-is.
	ErrInvalid = errors.New("invalid document")

	// ErrBadCheckpoint marks an unparseable replication cursor.
	ErrBadCheckpoint = errors.New("invalid checkpoint")
)

// Document is the replicated record for the hero collection. The fixed keys
// are owned by the sync protocol; schema-defined domain fields beyond Name
// and Color go into Extra and are opaque to the core.
//
// UpdatedAt is assigned by the authoritative store on every accepted write
// and is never trusted from the client. Deleted documents stay in the store
// as tombstones so every replica can observe the removal.
type Document struct {
	ID        string                 `json:"id" bson:"id"`
	Name      string                 `json:"name" bson:"name"`
	Color     string                 `json:"color,omitempty" bson:"color,omitempty"`
	CreatedAt int64                  `json:"createdAt,omitempty" bson:"createdAt,omitempty"`
	UpdatedAt int64                  `json:"updatedAt" bson:"updatedAt"`
	Deleted   bool                   `json:"deleted" bson:"deleted"`
	Extra     map[string]interface{} `json:"extra,omitempty" bson:"extra,omitempty"`
}

// Validate checks the fields required at the store boundary.
func (d Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	return nil
}

// Key returns the document's position in the (updatedAt, id) total order.
func (d Document) Key() Checkpoint {
	return Checkpoint{UpdatedAt: d.UpdatedAt, ID: d.ID}
}

// Less reports whether a sorts before b in feed order: ascending updatedAt,
// ties broken by lexicographic id.
func Less(a, b Document) bool {
	if a.UpdatedAt != b.UpdatedAt {
		return a.UpdatedAt < b.UpdatedAt
	}
	return a.ID < b.ID
}

// Checkpoint is an opaque cursor (updatedAt, id): the last position fully
// consumed by one client for one collection. The zero value means "from the
// beginning".
type Checkpoint struct {
	UpdatedAt int64  `json:"updatedAt"`
	ID        string `json:"id"`
}

// IsZero reports whether the checkpoint is the origin.
func (c Checkpoint) IsZero() bool {
	return c.UpdatedAt == 0 && c.ID == ""
}

// Admits reports whether d sorts strictly past the checkpoint: any document
// with a greater updatedAt, or an equal updatedAt and a lexicographically
// greater id.
func (c Checkpoint) Admits(d Document) bool {
	if d.UpdatedAt != c.UpdatedAt {
		return d.UpdatedAt > c.UpdatedAt
	}
	return d.ID > c.ID
}

// Before reports whether c precedes o in the cursor order.
func (c Checkpoint) Before(o Checkpoint) bool {
	if c.UpdatedAt != o.UpdatedAt {
		return c.UpdatedAt < o.UpdatedAt
	}
	return c.ID < o.ID
}

// ParseCheckpoint builds a checkpoint from its wire form (both fields
// optional; empty strings mean the origin).
func ParseCheckpoint(updatedAt, id string) (Checkpoint, error) {
	cp := Checkpoint{ID: id}
	if updatedAt == "" {
		return cp, nil
	}
	u, err := strconv.ParseInt(updatedAt, 10, 64)
	if err != nil || u < 0 {
		return Checkpoint{}, fmt.Errorf("%w: updatedAt=%q", ErrBadCheckpoint, updatedAt)
	}
	cp.UpdatedAt = u
	return cp, nil
}
