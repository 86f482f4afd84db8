package extmerge

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"strconv"
	"sync"
)

// FromBytesGeneric is a function type for deserializing bytes back to a key.
// It's used during the merge passes to reconstruct keys from run storage.
// The function should be the inverse of the corresponding ToBytesGeneric function.
// Errors are wrapped in a DeserializationError by the sorter.
type FromBytesGeneric[K any] func([]byte) (K, error)

// ToBytesGeneric is a function type for serializing a key to bytes.
// The function should produce deterministic output that can be read back
// by the corresponding FromBytesGeneric function. Errors are wrapped in a
// SerializationError by the sorter.
type ToBytesGeneric[K any] func(K) ([]byte, error)

// Codec converts keys to and from the bytes stored in runs.
// Values travel as they are; only the key needs a codec.
type Codec[K any] struct {
	ToBytes   ToBytesGeneric[K]
	FromBytes FromBytesGeneric[K]
}

// GobCodec returns a Codec for any ordered key type using gob encoding
// with a sync.Pool for buffer reuse.
func GobCodec[K cmp.Ordered]() Codec[K] {
	pool := &sync.Pool{
		New: func() any {
			return &bytes.Buffer{}
		},
	}
	return Codec[K]{
		ToBytes: func(k K) ([]byte, error) {
			buf := pool.Get().(*bytes.Buffer)
			buf.Reset()
			defer pool.Put(buf)

			if err := gob.NewEncoder(buf).Encode(k); err != nil {
				return nil, err
			}
			// Need to copy the bytes since we're returning the buffer to the pool
			return bytes.Clone(buf.Bytes()), nil
		},
		FromBytes: func(d []byte) (K, error) {
			var k K
			err := gob.NewDecoder(bytes.NewReader(d)).Decode(&k)
			return k, err
		},
	}
}

// StringCodec stores string keys as their raw bytes.
func StringCodec() Codec[string] {
	return Codec[string]{
		ToBytes: func(s string) ([]byte, error) {
			return []byte(s), nil
		},
		FromBytes: func(d []byte) (string, error) {
			return string(d), nil
		},
	}
}

// Int64Codec stores int64 keys as varints.
func Int64Codec() Codec[int64] {
	return Codec[int64]{
		ToBytes: func(i int64) ([]byte, error) {
			return binary.AppendVarint(nil, i), nil
		},
		FromBytes: func(d []byte) (int64, error) {
			i, n := binary.Varint(d)
			if n <= 0 || n != len(d) {
				return 0, fmt.Errorf("invalid varint key %s", strconv.Quote(string(d)))
			}
			return i, nil
		},
	}
}

// encode frames a record as uvarint(len(key)) key value.
// The result is a fresh slice the store may keep.
func (c Codec[K]) encode(r Record[K]) ([]byte, error) {
	kb, err := c.ToBytes(r.Key)
	if err != nil {
		return nil, NewSerializationError(err, "key encoding")
	}
	out := make([]byte, 0, binary.MaxVarintLen64+len(kb)+len(r.Value))
	out = binary.AppendUvarint(out, uint64(len(kb)))
	out = append(out, kb...)
	out = append(out, r.Value...)
	return out, nil
}

func (c Codec[K]) decode(d []byte) (Record[K], error) {
	n, w := binary.Uvarint(d)
	if w <= 0 || uint64(len(d)-w) < n {
		return Record[K]{}, NewDeserializationError(fmt.Errorf("invalid key length"), len(d), "record framing")
	}
	kb := d[w : w+int(n)]
	k, err := c.FromBytes(kb)
	if err != nil {
		return Record[K]{}, NewDeserializationError(err, len(kb), "key decoding")
	}
	var v []byte
	if rest := d[w+int(n):]; len(rest) > 0 {
		v = rest
	}
	return Record[K]{Key: k, Value: v}, nil
}
