package resource

import (
	"bytes"
	"encoding/base64"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/saiset-co/sai-resources/types"
)

const (
	CodecDefault = "default"
	CodecLegacy  = "legacy"
)

// Codec maps a resource name, its construction data and version to the
// request path the resource is served under, and back. The request path is
// the part after the handler prefix, without the mapping suffix, followed by
// the raw query string if there is one.
//
// DecodeResourceData returns nil when the path carries no data, []byte for
// a byte payload and ObjectData for an object payload.
type Codec interface {
	EncodeResource(name string, data interface{}, version string) (string, error)
	DecodeResourceName(requestPath string) string
	DecodeResourceData(requestPath string) (interface{}, error)
	DecodeResourceVersion(requestPath string) string
	DecodeLibraryName(requestPath string) string
	// GetResourceKey is the cache key of the request. Requests for the same
	// resource state map to the same key.
	GetResourceKey(requestPath string) string
}

func NewCodec(kind string) (Codec, error) {
	switch kind {
	case "", CodecDefault:
		return NewDefaultCodec(), nil
	case CodecLegacy:
		return NewLegacyCodec(), nil
	default:
		return nil, types.Errorf(types.ErrCodecUnknown, "codec: %s", kind)
	}
}

var dataEncoding = base64.RawURLEncoding

// ObjectData is an object payload as it travelled: a msgpack document.
// The codec does not unpack it; the receiver decodes it into its own type.
type ObjectData []byte

// Decode unpacks the payload into v, which must be a pointer.
func (d ObjectData) Decode(v interface{}) error {
	if err := msgpack.Unmarshal(d, v); err != nil {
		return types.Errorf(types.ErrResourceDataCorrupted, "object data into %T: %v", v, err)
	}
	return nil
}

// encodeData returns the textual form of data and whether it is a raw byte
// payload. Objects are msgpack documents compressed with brotli. ObjectData
// is already packed and is only compressed.
func encodeData(data interface{}) (string, bool, error) {
	var packed []byte

	switch v := data.(type) {
	case []byte:
		return dataEncoding.EncodeToString(v), true, nil
	case ObjectData:
		packed = v
	default:
		var err error
		packed, err = msgpack.Marshal(data)
		if err != nil {
			return "", false, types.Errorf(types.ErrCodecEncodeFailed, "%T: %v", data, err)
		}
	}

	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
	if _, err := w.Write(packed); err != nil {
		return "", false, types.Errorf(types.ErrCodecEncodeFailed, "compress: %v", err)
	}
	if err := w.Close(); err != nil {
		return "", false, types.Errorf(types.ErrCodecEncodeFailed, "compress: %v", err)
	}

	return dataEncoding.EncodeToString(buf.Bytes()), false, nil
}

func decodeBytesData(encoded string) ([]byte, error) {
	raw, err := dataEncoding.DecodeString(encoded)
	if err != nil {
		return nil, types.Errorf(types.ErrCodecDecodeFailed, "bytes data: %v", err)
	}
	if raw == nil {
		raw = []byte{}
	}
	return raw, nil
}

func decodeObjectData(encoded string) (ObjectData, error) {
	compressed, err := dataEncoding.DecodeString(encoded)
	if err != nil {
		return nil, types.Errorf(types.ErrCodecDecodeFailed, "object data: %v", err)
	}

	packed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(compressed)))
	if err != nil {
		return nil, types.Errorf(types.ErrCodecDecodeFailed, "decompress: %v", err)
	}

	// Anything that is not a msgpack document was not produced by encodeData.
	if err := msgpack.Unmarshal(packed, new(msgpack.RawMessage)); err != nil {
		return nil, types.Errorf(types.ErrCodecDecodeFailed, "object data: %v", err)
	}
	return ObjectData(packed), nil
}
