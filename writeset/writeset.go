// Package writeset implements the ordered collection of pending writes
// a transaction accumulates before it commits: inserts, replaces, and
// deletes keyed by document id, with later writes to the same id
// overriding earlier ones within the same transaction. The encoding
// mirrors a kind-tag-plus-payload encoding, but tags a value instead
// of a start timestamp, since a write set entry has no commit
// timestamp until the owning transaction actually commits.
package writeset

import (
	"fmt"

	"github.com/latticedb/core/dberrors"
	"github.com/latticedb/core/document"
)

// Kind tags which operation an Update performs.
type Kind int

const (
	KindInsert Kind = iota + 1
	KindReplace
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindReplace:
		return "replace"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Update is one write a transaction intends to make. Value is nil for a
// delete.
type Update struct {
	Kind  Kind
	Table string
	ID    document.ID
	Value *document.Value
}

// Set is the ordered-by-first-touch, overridden-by-last-write collection
// of updates a transaction has staged. Order matters only for
// deterministic iteration (tests, logging); conflict validation treats
// it as a set keyed by id.
type Set struct {
	order []document.ID
	byID  map[document.ID]*Update
}

// New returns an empty write set.
func New() *Set {
	return &Set{byID: make(map[document.ID]*Update)}
}

// Insert stages the creation of a new document. It is an error to
// insert an id this transaction already inserted and has not since
// overridden with a replace or delete — matching spec semantics "inserting a key that
// already has a pending insert in this transaction is rejected", the
// check a storage engine's memtable would do on a duplicate put-if-
// absent within one batch.
func (s *Set) Insert(table string, id document.ID, value *document.Value) error {
	if existing, ok := s.byID[id]; ok && existing.Kind == KindInsert {
		return &dberrors.InvalidWrite{DocID: string(id), Reason: "duplicate insert in the same transaction"}
	}
	s.put(&Update{Kind: KindInsert, Table: table, ID: id, Value: value})
	return nil
}

// Replace stages overwriting an existing document's value.
func (s *Set) Replace(table string, id document.ID, value *document.Value) {
	s.put(&Update{Kind: KindReplace, Table: table, ID: id, Value: value})
}

// Delete stages removing a document.
func (s *Set) Delete(table string, id document.ID) {
	s.put(&Update{Kind: KindDelete, Table: table, ID: id})
}

func (s *Set) put(u *Update) {
	if _, exists := s.byID[u.ID]; !exists {
		s.order = append(s.order, u.ID)
	}
	s.byID[u.ID] = u
}

// Get returns the staged update for id, if any, following "second write
// to the same key within a transaction replaces the first" — callers
// that read their own writes consult this before falling through to the
// snapshot.
func (s *Set) Get(id document.ID) (*Update, bool) {
	u, ok := s.byID[id]
	return u, ok
}

// Len reports how many distinct document ids have pending updates.
func (s *Set) Len() int {
	return len(s.order)
}

// Updates returns the staged updates in first-touch order.
func (s *Set) Updates() []*Update {
	out := make([]*Update, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// ToBytes serializes u the way persistence stores a pending write:
// kind tag followed by the length-prefixed table name, id and value,
// where a delete carries a zero length and no value bytes. This mirrors a fixed-layout
// kind+table+id encoding, extended to carry a payload since writeset
// entries need the value persistence will later publish.
func (u *Update) ToBytes(encodeValue func(*document.Value) ([]byte, error)) ([]byte, error) {
	buf := []byte{byte(u.Kind)}
	buf = appendLenPrefixed(buf, []byte(u.Table))
	buf = appendLenPrefixed(buf, []byte(u.ID))
	if u.Value == nil {
		return append(buf, 0, 0, 0, 0), nil
	}
	payload, err := encodeValue(u.Value)
	if err != nil {
		return nil, fmt.Errorf("writeset: encode value for %s: %w", u.ID, err)
	}
	return appendLenPrefixed(buf, payload), nil
}

func appendLenPrefixed(buf, data []byte) []byte {
	n := len(data)
	buf = append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	return append(buf, data...)
}

// DecodeRevision reverses Update.ToBytes, recovering the table a
// persisted revision belongs to and its value (nil for a tombstone).
// Bootstrap replay needs this because a tombstone's key alone (a bare
// document id) carries no table tag — unlike a live revision, whose
// value.Table survives the JSON round trip — so the table has to be
// recovered from the same envelope the committer persisted it in.
func DecodeRevision(b []byte, decodeValue func([]byte) (*document.Value, error)) (table string, value *document.Value, err error) {
	if len(b) < 1 {
		return "", nil, fmt.Errorf("writeset: truncated revision envelope")
	}
	b = b[1:] // kind tag, unused by bootstrap replay
	tableBytes, rest, err := readLenPrefixed(b)
	if err != nil {
		return "", nil, err
	}
	_, rest, err = readLenPrefixed(rest) // id, recovered separately from the storage key
	if err != nil {
		return "", nil, err
	}
	payload, _, err := readLenPrefixed(rest)
	if err != nil {
		return "", nil, err
	}
	if len(payload) == 0 {
		return string(tableBytes), nil, nil
	}
	v, err := decodeValue(payload)
	if err != nil {
		return "", nil, fmt.Errorf("writeset: decode value: %w", err)
	}
	return string(tableBytes), v, nil
}

func readLenPrefixed(b []byte) (data, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("writeset: truncated length prefix")
	}
	n := int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
	b = b[4:]
	if len(b) < n {
		return nil, nil, fmt.Errorf("writeset: truncated field of length %d", n)
	}
	return b[:n], b[n:], nil
}
