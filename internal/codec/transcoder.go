// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

package codec

import (
	"encoding/binary"

	"github.com/samber/oops"
)

// NetworkObject is any game-domain entity addressed by a 64-bit network id.
type NetworkObject interface {
	NetworkID() int64
}

// NetworkSerializer is the opaque binary codec for game object graphs.
// Implementations are provided by the game engine; this layer never
// inspects the payload.
type NetworkSerializer interface {
	Serialize(obj NetworkObject) ([]byte, error)
	Deserialize(data []byte) (NetworkObject, error)
}

// MaxItemSize is the store's maximum document size. Encoding an object
// whose payload exceeds it is a hard failure, never a partial write.
const MaxItemSize = 20 * 1024 * 1024

// payloadHeaderSize is the length of the flags word prefixed to every
// binary payload. The flags are a forward-compatibility slot, written as
// zero and ignored on decode.
const payloadHeaderSize = 4

// Transcoder converts network objects to and from store payloads using an
// opaque NetworkSerializer.
type Transcoder struct {
	serializer NetworkSerializer
	maxSize    int
}

// NewTranscoder creates a Transcoder bounded by MaxItemSize.
func NewTranscoder(serializer NetworkSerializer) *Transcoder {
	return NewTranscoderWithMaxSize(serializer, MaxItemSize)
}

// NewTranscoderWithMaxSize creates a Transcoder with a custom payload bound.
func NewTranscoderWithMaxSize(serializer NetworkSerializer, maxSize int) *Transcoder {
	return &Transcoder{serializer: serializer, maxSize: maxSize}
}

// Encode serializes a network object into a store payload: a reserved
// flags word followed by the opaque body.
func (t *Transcoder) Encode(obj NetworkObject) ([]byte, error) {
	body, err := t.serializer.Serialize(obj)
	if err != nil {
		return nil, oops.Code("CODEC_ENCODE_FAILED").
			With("strategy", "binary").
			With("network_id", obj.NetworkID()).
			Wrap(err)
	}

	if payloadHeaderSize+len(body) > t.maxSize {
		return nil, oops.Code("CODEC_PAYLOAD_TOO_LARGE").
			With("network_id", obj.NetworkID()).
			With("size", payloadHeaderSize+len(body)).
			With("max", t.maxSize).
			Errorf("serialized object exceeds maximum item size")
	}

	payload := make([]byte, payloadHeaderSize+len(body))
	binary.BigEndian.PutUint32(payload[:payloadHeaderSize], 0)
	copy(payload[payloadHeaderSize:], body)
	return payload, nil
}

// Decode deserializes a store payload back into a network object.
func (t *Transcoder) Decode(payload []byte) (NetworkObject, error) {
	if len(payload) < payloadHeaderSize {
		return nil, oops.Code("CODEC_DECODE_FAILED").
			With("strategy", "binary").
			With("size", len(payload)).
			Errorf("payload shorter than flags header")
	}

	obj, err := t.serializer.Deserialize(payload[payloadHeaderSize:])
	if err != nil {
		return nil, oops.Code("CODEC_DECODE_FAILED").
			With("strategy", "binary").
			Wrap(err)
	}
	return obj, nil
}
