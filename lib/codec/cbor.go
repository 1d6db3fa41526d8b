// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	// Core Deterministic Encoding (RFC 8949 §4.2): equal values encode
	// to equal bytes. Times are RFC 3339 strings with nanoseconds so
	// job timestamps round-trip exactly.
	encMode = mustEncMode(func() cbor.EncOptions {
		options := cbor.CoreDetEncOptions()
		options.Time = cbor.TimeRFC3339Nano
		return options
	}())

	// Untyped maps decode as map[string]any; unknown fields are
	// ignored so older clients keep working against newer services.
	decMode = mustDecMode(cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	})
)

func mustEncMode(options cbor.EncOptions) cbor.EncMode {
	mode, err := options.EncMode()
	if err != nil {
		panic("codec: invalid CBOR encoding options: " + err.Error())
	}
	return mode
}

func mustDecMode(options cbor.DecOptions) cbor.DecMode {
	mode, err := options.DecMode()
	if err != nil {
		panic("codec: invalid CBOR decoding options: " + err.Error())
	}
	return mode
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

type (
	Encoder    = cbor.Encoder
	Decoder    = cbor.Decoder
	RawMessage = cbor.RawMessage
)

// NewEncoder writes deterministic CBOR values to w.
func NewEncoder(w io.Writer) *Encoder { return encMode.NewEncoder(w) }

// NewDecoder reads CBOR values from r.
func NewDecoder(r io.Reader) *Decoder { return decMode.NewDecoder(r) }
