package bencode

import (
	"bytes"

	jackpal "github.com/jackpal/bencode-go"
)

// Marshal encodes v, which must be a struct (or map) tagged the way krpc's
// message types are, using the same wire-level codec the rest of the
// corpus's DHT implementations rely on.
func Marshal(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	if err := jackpal.Marshal(&b, v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal decodes into v, which must be a pointer to a struct (or map)
// with the matching bencode struct tags.
func Unmarshal(data []byte, v interface{}) error {
	return jackpal.Unmarshal(bytes.NewReader(data), v)
}
