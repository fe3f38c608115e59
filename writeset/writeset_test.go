package writeset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticedb/core/dberrors"
	"github.com/latticedb/core/document"
)

func TestInsertThenGet(t *testing.T) {
	s := New()
	v := &document.Value{Table: "items"}
	require.NoError(t, s.Insert("items", "a", v))

	u, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, KindInsert, u.Kind)
	require.Same(t, v, u.Value)
}

func TestDuplicateInsertRejected(t *testing.T) {
	s := New()
	require.NoError(t, s.Insert("items", "a", &document.Value{Table: "items"}))
	err := s.Insert("items", "a", &document.Value{Table: "items"})
	require.Error(t, err)
	var invalid *dberrors.InvalidWrite
	require.ErrorAs(t, err, &invalid)
}

func TestSecondWriteReplacesFirst(t *testing.T) {
	s := New()
	require.NoError(t, s.Insert("items", "a", &document.Value{Table: "items"}))
	s.Replace("items", "a", &document.Value{Table: "items", Fields: map[string]document.FieldValue{"x": document.IntField(1)}})

	u, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, KindReplace, u.Kind)
	require.Equal(t, 1, s.Len())
}

func TestDeleteAfterInsertOverrides(t *testing.T) {
	s := New()
	require.NoError(t, s.Insert("items", "a", &document.Value{Table: "items"}))
	s.Delete("items", "a")

	u, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, KindDelete, u.Kind)
	require.Nil(t, u.Value)
}

func TestUpdatesPreservesFirstTouchOrder(t *testing.T) {
	s := New()
	require.NoError(t, s.Insert("items", "c", &document.Value{Table: "items"}))
	require.NoError(t, s.Insert("items", "a", &document.Value{Table: "items"}))
	s.Replace("items", "c", &document.Value{Table: "items"})

	ids := make([]document.ID, 0)
	for _, u := range s.Updates() {
		ids = append(ids, u.ID)
	}
	require.Equal(t, []document.ID{"c", "a"}, ids)
}

func TestToBytesDeleteHasNoPayload(t *testing.T) {
	s := New()
	s.Delete("items", "a")
	u, _ := s.Get("a")
	b, err := u.ToBytes(func(v *document.Value) ([]byte, error) { return []byte("unused"), nil })
	require.NoError(t, err)
	require.Equal(t, byte(KindDelete), b[0])
	// kind(1) + table(4+5) + id(4+1) + a zero value length(4), nothing after.
	require.Len(t, b, 19)
	require.Equal(t, []byte{0, 0, 0, 0}, b[len(b)-4:])
}

func TestDecodeRevisionRoundTripsLiveValue(t *testing.T) {
	v := &document.Value{Table: "items", Fields: map[string]document.FieldValue{"price": document.IntField(9)}}
	u := &Update{Kind: KindInsert, Table: "items", ID: "a", Value: v}
	b, err := u.ToBytes(document.Marshal)
	require.NoError(t, err)

	table, got, err := DecodeRevision(b, document.Unmarshal)
	require.NoError(t, err)
	require.Equal(t, "items", table)
	require.Equal(t, v, got)
}

func TestDecodeRevisionRecoversTableForTombstone(t *testing.T) {
	u := &Update{Kind: KindDelete, Table: "items", ID: "a"}
	b, err := u.ToBytes(document.Marshal)
	require.NoError(t, err)

	table, got, err := DecodeRevision(b, document.Unmarshal)
	require.NoError(t, err)
	require.Equal(t, "items", table)
	require.Nil(t, got)
}
