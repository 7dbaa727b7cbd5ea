// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	t.Parallel()

	value := map[string]any{"b": 2, "a": 1, "c": []byte{0xff}}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same value produced different encodings")
	}
}

func TestStreamRoundTrip(t *testing.T) {
	t.Parallel()

	type record struct {
		Path string `cbor:"path"`
		Data []byte `cbor:"data"`
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	want := []record{
		{Path: "a.txt", Data: []byte("alpha")},
		{Path: "b.txt", Data: []byte("beta")},
	}
	for _, r := range want {
		if err := encoder.Encode(r); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	// CBOR is self-delimiting: two values decode back-to-back with
	// no framing.
	decoder := NewDecoder(&buffer)
	for i := range want {
		var got record
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode[%d]: %v", i, err)
		}
		if got.Path != want[i].Path || !bytes.Equal(got.Data, want[i].Data) {
			t.Errorf("Decode[%d] = %+v, want %+v", i, got, want[i])
		}
	}
}

func TestDefaultMapType(t *testing.T) {
	t.Parallel()

	encoded, err := Marshal(map[string]any{"nested": map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	top, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := top["nested"].(map[string]any); !ok {
		t.Errorf("nested type = %T, want map[string]any", top["nested"])
	}
}
