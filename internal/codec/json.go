// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

// Package codec provides the two serialization strategies of the data
// layer: a structured-text (JSON) codec for administrative objects and a
// binary transcoder for high-frequency game network objects. The strategy
// is fixed at the call site; there is no runtime dispatch by object type.
package codec

import (
	"encoding/json"

	"github.com/samber/oops"
)

// MarshalObject serializes an administrative object to its structured-text
// form.
func MarshalObject(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, oops.Code("CODEC_ENCODE_FAILED").
			With("strategy", "json").
			Wrap(err)
	}
	return data, nil
}

// UnmarshalObject deserializes an administrative object from its
// structured-text form into out.
func UnmarshalObject(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return oops.Code("CODEC_DECODE_FAILED").
			With("strategy", "json").
			Wrap(err)
	}
	return nil
}
