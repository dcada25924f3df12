package crdt

import "encoding/json"

// MarshalJSON serializes a Value at the wire/storage boundary as its
// native-equivalent JSON shape (so a stored document looks like plain
// JSON on disk and over the wire, not like a tagged-union envelope).
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Native())
}

// UnmarshalJSON decodes plain JSON into the tagged Value union via
// FromNative, the single generic-entry conversion point.
func (v *Value) UnmarshalJSON(data []byte) error {
	var native any
	if err := json.Unmarshal(data, &native); err != nil {
		return err
	}
	*v = FromNative(native)
	return nil
}

// marshalValue is the internal helper ORSet's valueKey uses to get a
// stable comparison key for a Value.
func marshalValue(v Value) ([]byte, error) {
	return json.Marshal(v)
}
