// Copyright 2024 Loom Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cbor_test

import (
	"encoding/hex"
	"reflect"
	"testing"

	"github.com/loomlabs-io/gocachewire/cbor"
)

func TestEncode(t *testing.T) {
	testDefs := []struct {
		object      any
		expectedHex string
	}{
		{
			object:      uint64(42),
			expectedHex: "182a",
		},
		{
			object:      []byte{0x01, 0x02, 0x03},
			expectedHex: "43010203",
		},
		{
			object:      []any{uint64(1), []byte{0xff}},
			expectedHex: "820141ff",
		},
	}
	for _, testDef := range testDefs {
		data, err := cbor.Encode(testDef.object)
		if err != nil {
			t.Fatalf("failed to encode object to CBOR: %s", err)
		}
		dataHex := hex.EncodeToString(data)
		if dataHex != testDef.expectedHex {
			t.Fatalf(
				"object did not encode to expected CBOR\n  got: %s\n  wanted: %s",
				dataHex,
				testDef.expectedHex,
			)
		}
	}
}

func TestDecodeTrailingData(t *testing.T) {
	// 0x182a (uint 42) followed by trailing zero padding
	data := []byte{0x18, 0x2a, 0x00, 0x00, 0x00}
	var dest uint64
	n, err := cbor.Decode(data, &dest)
	if err != nil {
		t.Fatalf("failed to decode CBOR: %s", err)
	}
	if n != 2 {
		t.Fatalf("unexpected number of bytes read: got %d, wanted 2", n)
	}
	if dest != 42 {
		t.Fatalf("did not decode to expected value: got %d, wanted 42", dest)
	}
}

type decodeGenericTestObject struct {
	cbor.DecodeStoreCbor
	Name  string
	Value uint64
}

func TestDecodeGeneric(t *testing.T) {
	data, err := cbor.Encode(
		map[string]any{
			"Name":  "test",
			"Value": uint64(7),
		},
	)
	if err != nil {
		t.Fatalf("failed to encode object to CBOR: %s", err)
	}
	var dest decodeGenericTestObject
	if err := cbor.DecodeGeneric(data, &dest); err != nil {
		t.Fatalf("failed to decode CBOR: %s", err)
	}
	if dest.Name != "test" || dest.Value != 7 {
		t.Fatalf("did not decode to expected object: %#v", dest)
	}
	// The raw CBOR is stored on the destination
	if !reflect.DeepEqual(dest.Cbor(), data) {
		t.Fatalf("stored CBOR does not match input")
	}
}
