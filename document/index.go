package document

import (
	"github.com/latticedb/core/codec"
)

// PrimaryIndexName is the well-known name of the identity index: its
// key is simply the document id.
const PrimaryIndexName = "$primary"

// IndexDef derives an index key deterministically from a document. A
// table participates in the primary index implicitly; the IndexDefs
// whose Table matches it are the secondary indexes it also participates in.
type IndexDef struct {
	Name   string
	Table  string
	Fields []string // ordered; composite indexes list more than one field
}

// IsPrimary reports whether this definition is the identity index.
func (d IndexDef) IsPrimary() bool {
	return d.Name == PrimaryIndexName
}

// Key computes this index's key for id/value. For the primary index the
// key is just the encoded id. For a secondary index the key is the
// encoded field values in Fields order, followed by the encoded id so
// that distinct documents with equal field values still sort
// deterministically and uniquely (the same trick codec.AppendTs uses, appending a timestamp after the
// user key).
//
// Key returns (key, ok). For the primary index ok is always true. For a
// secondary index ok is false if value is nil (tombstone, no old
// key to compute) or a field referenced by Fields is absent — absent
// fields do not participate in the index, matching how a SQL NULL
// column is excluded from a non-partial index.
func (d IndexDef) Key(id ID, value *Value) (key []byte, ok bool) {
	if d.IsPrimary() {
		return []byte(id), true
	}
	if value == nil {
		return nil, false
	}
	var buf []byte
	for _, field := range d.Fields {
		fv, present := value.Fields[field]
		if !present {
			return nil, false
		}
		buf = append(buf, codec.EncodeBytes(encodeFieldValue(fv))...)
	}
	buf = append(buf, codec.EncodeBytes([]byte(id))...)
	return buf, true
}

// encodeFieldValue produces the memcomparable byte fragment for one
// field value, tagged with a kind byte so that encodings of different
// kinds never collide.
func encodeFieldValue(fv FieldValue) []byte {
	switch fv.Kind {
	case KindInt:
		return append([]byte{byte(KindInt)}, codec.EncodeInt64(fv.Int)...)
	case KindFloat:
		return append([]byte{byte(KindFloat)}, codec.EncodeFloat64(fv.Float)...)
	case KindString:
		return append([]byte{byte(KindString)}, []byte(fv.Str)...)
	case KindBool:
		b := byte(0)
		if fv.Bool {
			b = 1
		}
		return []byte{byte(KindBool), b}
	default:
		return []byte{byte(KindNull)}
	}
}

// AffectedIndexes returns the primary index plus every secondary index
// definition whose Table matches table, for use by overlap detection
// when a write touches a table.
func AffectedIndexes(table string, all []IndexDef) []IndexDef {
	out := make([]IndexDef, 0, len(all)+1)
	out = append(out, IndexDef{Name: PrimaryIndexName, Table: table})
	for _, def := range all {
		if def.Table == table && !def.IsPrimary() {
			out = append(out, def)
		}
	}
	return out
}
