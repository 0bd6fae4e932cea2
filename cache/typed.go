package cache

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/saiset-co/sai-resources/types"
)

// Encoded is a msgpack document returned by caches that keep values outside
// the process. GetAs decodes it into the caller's type.
type Encoded []byte

func encodeValue(value interface{}) ([]byte, error) {
	if encoded, ok := value.(Encoded); ok {
		return encoded, nil
	}

	data, err := msgpack.Marshal(value)
	if err != nil {
		return nil, types.Errorf(types.ErrCacheValueType, "%T: %v", value, err)
	}
	return data, nil
}

// As converts a value read from any cache into T.
func As[T any](value interface{}) (T, error) {
	var zero T

	switch v := value.(type) {
	case T:
		return v, nil
	case Encoded:
		var target T
		if err := msgpack.Unmarshal(v, &target); err != nil {
			return zero, types.Errorf(types.ErrCacheValueType, "decode %T: %v", target, err)
		}
		return target, nil
	default:
		return zero, types.Errorf(types.ErrCacheValueType, "got %T, want %T", value, zero)
	}
}

func GetAs[T any](c types.Cache, key string) (T, bool, error) {
	var zero T

	value, found, err := c.Get(key)
	if err != nil || !found {
		return zero, found, err
	}

	typed, err := As[T](value)
	if err != nil {
		return zero, false, err
	}

	return typed, true, nil
}
