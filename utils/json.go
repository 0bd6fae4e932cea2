package utils

import (
	"github.com/bytedance/sonic"

	"github.com/saiset-co/sai-resources/types"
)

// jsonAPI keeps encoding/json compatible output: sorted map keys and escaped
// HTML, so health and version payloads are stable between runs.
var jsonAPI = sonic.ConfigStd

func Marshal(data interface{}) ([]byte, error) {
	return jsonAPI.Marshal(data)
}

// UnmarshalConfig converts a loosely typed config section (usually a YAML
// map) into target. A section that already has the target type is copied.
func UnmarshalConfig[T any](config interface{}, target *T) error {
	switch typed := config.(type) {
	case nil:
		return types.ErrConfigIsNil
	case *T:
		*target = *typed
		return nil
	case T:
		*target = typed
		return nil
	}

	raw, err := jsonAPI.Marshal(config)
	if err != nil {
		return types.WrapError(err, "failed to encode config section")
	}

	if err := jsonAPI.Unmarshal(raw, target); err != nil {
		return types.WrapError(err, "failed to decode config section")
	}
	return nil
}
