package bencode

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTripInt(t *testing.T) {
	for _, n := range []int64{0, 1, -1, 42, -42, 1 << 40} {
		enc := Encode(Int(n))
		v, consumed, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode(%d): %v", n, err)
		}
		if consumed != len(enc) {
			t.Fatalf("Decode(%d) consumed %d of %d bytes", n, consumed, len(enc))
		}
		if v.Kind != KindInt || v.Int != n {
			t.Fatalf("round trip mismatch for %d: got %+v", n, v)
		}
	}
}

func TestEncodeMinimalIntForm(t *testing.T) {
	cases := map[int64]string{0: "i0e", -1: "i-1e", 42: "i42e"}
	for n, want := range cases {
		if got := string(Encode(Int(n))); got != want {
			t.Fatalf("Encode(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestDecodeRejectsLeadingZero(t *testing.T) {
	if _, _, err := Decode([]byte("i042e")); err == nil {
		t.Fatalf("expected error decoding integer with leading zero")
	}
}

func TestDecodeRejectsNegativeZero(t *testing.T) {
	if _, _, err := Decode([]byte("i-0e")); err == nil {
		t.Fatalf("expected error decoding -0")
	}
}

func TestEncodeDecodeRoundTripBytes(t *testing.T) {
	b := []byte("hello world")
	enc := Encode(Bytes(b))
	if string(enc) != "11:hello world" {
		t.Fatalf("Encode(bytes) = %q", enc)
	}
	v, _, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(v.Bytes, b) {
		t.Fatalf("round trip mismatch: got %q, want %q", v.Bytes, b)
	}
}

func TestEncodeDecodeRoundTripList(t *testing.T) {
	l := List(Int(1), String("two"), List(Int(3)))
	enc := Encode(l)
	v, _, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(v.List) != 3 || v.List[0].Int != 1 || string(v.List[1].Bytes) != "two" {
		t.Fatalf("round trip mismatch: %+v", v)
	}
}

func TestEncodeDictSortsKeys(t *testing.T) {
	d := Dict(
		DictEntry{Key: "z", Value: Int(1)},
		DictEntry{Key: "a", Value: Int(2)},
	)
	enc := Encode(d)
	if string(enc) != "d1:ai2e1:zi1ee" {
		t.Fatalf("Encode(dict) = %q, want sorted-key canonical form", enc)
	}
}

func TestDecodeDictPreservesFirstOccurrenceKeyOrderAndValue(t *testing.T) {
	// "bb" appears twice; bencode dict semantics keep the first occurrence.
	raw := []byte("d2:bbi1e1:ai2e2:bbi3ee")
	v, _, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(v.Dict) != 2 {
		t.Fatalf("expected 2 entries (dup key folded), got %d: %+v", len(v.Dict), v.Dict)
	}
	if v.Dict[0].Key != "bb" || v.Dict[0].Value.Int != 1 {
		t.Fatalf("expected first occurrence of bb=1 kept, got %+v", v.Dict[0])
	}
	if v.Dict[1].Key != "a" {
		t.Fatalf("expected decode order preserved (a second), got %+v", v.Dict)
	}
}

func TestDecodeTruncatedStringErrors(t *testing.T) {
	if _, _, err := Decode([]byte("5:ab")); err == nil {
		t.Fatalf("expected error for truncated byte string")
	}
}

func TestDecodeUnterminatedListErrors(t *testing.T) {
	if _, _, err := Decode([]byte("li1e")); err == nil {
		t.Fatalf("expected error for unterminated list")
	}
}

func TestMarshalUnmarshalStruct(t *testing.T) {
	type ping struct {
		T string                 `bencode:"t"`
		Y string                 `bencode:"y"`
		A map[string]interface{} `bencode:"a"`
	}
	in := ping{T: "aa", Y: "q", A: map[string]interface{}{"id": "0123456789abcdefghij"}}
	enc, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out ping
	if err := Unmarshal(enc, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.T != in.T || out.Y != in.Y || out.A["id"] != in.A["id"] {
		t.Fatalf("round trip mismatch: got %+v", out)
	}
}
