package document

import "encoding/json"

// Marshal serializes a document value for storage in the MVCC index and
// in persistence. Documents are an open-ended field map rather than a
// fixed schema, so there is no natural protobuf message to generate for
// them; JSON is used instead of inventing one.
func Marshal(v *Value) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Unmarshal reverses Marshal. A nil/empty input yields a nil Value,
// matching how Index represents a tombstone.
func Unmarshal(b []byte) (*Value, error) {
	if len(b) == 0 {
		return nil, nil
	}
	v := new(Value)
	if err := json.Unmarshal(b, v); err != nil {
		return nil, err
	}
	return v, nil
}
