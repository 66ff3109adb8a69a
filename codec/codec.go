// Package codec is the encode/decode boundary between caller values and
// the stored value column. Values are stored as JSON text; a malformed
// stored payload is a decode failure, which is distinct from a missing
// key.
package codec

import (
	"bytes"
	"encoding/json"

	"github.com/kvlite/kvlite/kit/errors"
)

// Encode serializes value for storage. A nil value is rejected: nil is
// the delete sentinel and callers must route it to Delete instead of
// writing it.
func Encode(value interface{}) ([]byte, error) {
	if value == nil {
		return nil, &errors.Error{
			Code: errors.EInvalid,
			Msg:  "nil is the delete sentinel and cannot be encoded",
		}
	}

	b, err := json.Marshal(value)
	if err != nil {
		return nil, &errors.Error{
			Code: errors.EInvalid,
			Msg:  "value is not encodable",
			Err:  err,
		}
	}

	return b, nil
}

// Decode deserializes a stored payload into out. A payload that is not
// valid for the encoding is reported as a kv error carrying the cause,
// never silently swallowed.
func Decode(raw []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return &errors.Error{
			Code: errors.EKV,
			Msg:  "stored value is not valid JSON",
			Err:  err,
		}
	}

	return nil
}

// Valid reports whether raw would decode successfully.
func Valid(raw []byte) bool {
	return json.Valid(raw)
}
