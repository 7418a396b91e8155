// Package bencode implements the bencode serialization format used by the
// BitTorrent wire protocols: byte strings, integers, lists and dictionaries.
//
// Value is a small tree representation used where canonical encoding and
// decode-order preservation matter (metadata info dictionaries, test
// fixtures). Marshal/Unmarshal, in marshal.go, work directly against typed
// Go values and are what krpc uses on the wire.
package bencode

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// Kind identifies which bencode type a Value holds.
type Kind int

const (
	KindInt Kind = iota
	KindBytes
	KindList
	KindDict
)

// Value is a bencode value. Exactly one of the typed fields is meaningful,
// selected by Kind.
type Value struct {
	Kind  Kind
	Int   int64
	Bytes []byte
	List  []Value
	// Dict preserves first-occurrence insertion order from Decode; Encode
	// always sorts keys regardless of this order, per the format's
	// canonical form.
	Dict []DictEntry
}

// DictEntry is one key/value pair of a Dict value.
type DictEntry struct {
	Key   string
	Value Value
}

func Int(i int64) Value        { return Value{Kind: KindInt, Int: i} }
func Bytes(b []byte) Value     { return Value{Kind: KindBytes, Bytes: b} }
func String(s string) Value    { return Value{Kind: KindBytes, Bytes: []byte(s)} }
func List(vs ...Value) Value   { return Value{Kind: KindList, List: vs} }
func Dict(e ...DictEntry) Value { return Value{Kind: KindDict, Dict: e} }

// Get returns the value for key in a dict, and whether it was present.
func (v Value) Get(key string) (Value, bool) {
	for _, e := range v.Dict {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Encode writes the canonical bencoding of v: dict keys sorted
// lexicographically by raw byte value, integers in minimal decimal form, no
// superfluous leading zeros or a bare "-0".
func Encode(v Value) []byte {
	var b bytes.Buffer
	encodeInto(&b, v)
	return b.Bytes()
}

func encodeInto(b *bytes.Buffer, v Value) {
	switch v.Kind {
	case KindInt:
		b.WriteByte('i')
		b.WriteString(strconv.FormatInt(v.Int, 10))
		b.WriteByte('e')
	case KindBytes:
		b.WriteString(strconv.Itoa(len(v.Bytes)))
		b.WriteByte(':')
		b.Write(v.Bytes)
	case KindList:
		b.WriteByte('l')
		for _, e := range v.List {
			encodeInto(b, e)
		}
		b.WriteByte('e')
	case KindDict:
		entries := append([]DictEntry(nil), v.Dict...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
		b.WriteByte('d')
		for _, e := range entries {
			encodeInto(b, String(e.Key))
			encodeInto(b, e.Value)
		}
		b.WriteByte('e')
	}
}

// Decode parses exactly one bencoded value from data, returning the number
// of bytes consumed. Dict values preserve the first-occurrence order of
// their keys as they appeared on the wire.
func Decode(data []byte) (Value, int, error) {
	return decodeAt(data, 0)
}

func decodeAt(data []byte, pos int) (Value, int, error) {
	if pos >= len(data) {
		return Value{}, pos, fmt.Errorf("bencode: unexpected end of input")
	}
	switch c := data[pos]; {
	case c == 'i':
		return decodeInt(data, pos)
	case c == 'l':
		return decodeList(data, pos)
	case c == 'd':
		return decodeDict(data, pos)
	case c >= '0' && c <= '9':
		return decodeBytes(data, pos)
	default:
		return Value{}, pos, fmt.Errorf("bencode: invalid type marker %q at offset %d", c, pos)
	}
}

func decodeInt(data []byte, pos int) (Value, int, error) {
	end := bytes.IndexByte(data[pos:], 'e')
	if end < 0 {
		return Value{}, pos, fmt.Errorf("bencode: unterminated integer at offset %d", pos)
	}
	end += pos
	digits := string(data[pos+1 : end])
	if digits == "" || digits == "-" || (len(digits) > 1 && digits[0] == '0') ||
		(len(digits) > 1 && digits[0] == '-' && digits[1] == '0') {
		return Value{}, pos, fmt.Errorf("bencode: malformed integer %q at offset %d", digits, pos)
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return Value{}, pos, fmt.Errorf("bencode: malformed integer %q: %w", digits, err)
	}
	return Int(n), end + 1, nil
}

func decodeBytes(data []byte, pos int) (Value, int, error) {
	colon := bytes.IndexByte(data[pos:], ':')
	if colon < 0 {
		return Value{}, pos, fmt.Errorf("bencode: malformed string length at offset %d", pos)
	}
	colon += pos
	n, err := strconv.Atoi(string(data[pos:colon]))
	if err != nil || n < 0 {
		return Value{}, pos, fmt.Errorf("bencode: malformed string length at offset %d: %w", pos, err)
	}
	start := colon + 1
	if start+n > len(data) {
		return Value{}, pos, fmt.Errorf("bencode: string length %d exceeds remaining input at offset %d", n, pos)
	}
	out := make([]byte, n)
	copy(out, data[start:start+n])
	return Bytes(out), start + n, nil
}

func decodeList(data []byte, pos int) (Value, int, error) {
	pos++ // 'l'
	var items []Value
	for {
		if pos >= len(data) {
			return Value{}, pos, fmt.Errorf("bencode: unterminated list")
		}
		if data[pos] == 'e' {
			return Value{Kind: KindList, List: items}, pos + 1, nil
		}
		v, next, err := decodeAt(data, pos)
		if err != nil {
			return Value{}, pos, err
		}
		items = append(items, v)
		pos = next
	}
}

func decodeDict(data []byte, pos int) (Value, int, error) {
	pos++ // 'd'
	var entries []DictEntry
	seen := make(map[string]bool)
	for {
		if pos >= len(data) {
			return Value{}, pos, fmt.Errorf("bencode: unterminated dict")
		}
		if data[pos] == 'e' {
			return Value{Kind: KindDict, Dict: entries}, pos + 1, nil
		}
		keyVal, next, err := decodeBytes(data, pos)
		if err != nil {
			return Value{}, pos, fmt.Errorf("bencode: dict key: %w", err)
		}
		key := string(keyVal.Bytes)
		pos = next
		val, next2, err := decodeAt(data, pos)
		if err != nil {
			return Value{}, pos, err
		}
		pos = next2
		// First-occurrence semantics: a repeated key does not overwrite or
		// append a duplicate entry.
		if !seen[key] {
			seen[key] = true
			entries = append(entries, DictEntry{Key: key, Value: val})
		}
	}
}
