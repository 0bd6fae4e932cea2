package config

import (
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-resources/types"
)

// Parser answers dotted path queries such as "cache.env" or
// "resources.allowed.0" against a decoded YAML document.
type Parser struct {
	data map[string]interface{}
}

func NewParser(data map[string]interface{}) *Parser {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Parser{data: data}
}

// NewParserFromConfig renders a typed config back into a document so that a
// statically built configuration can still be queried by path.
func NewParserFromConfig(config *types.ServiceConfig) *Parser {
	var data map[string]interface{}

	if raw, err := yaml.Marshal(config); err == nil {
		if err := yaml.Unmarshal(raw, &data); err != nil {
			data = nil
		}
	}

	return NewParser(data)
}

func (p *Parser) GetValue(path string, defaultValue interface{}) interface{} {
	if value, ok := p.lookup(path); ok {
		return value
	}
	return defaultValue
}

// GetAs decodes the value at path into target using the YAML field tags.
func (p *Parser) GetAs(path string, target interface{}) error {
	value, ok := p.lookup(path)
	if !ok {
		return types.Errorf(types.ErrConfigNotFound, "path: %s", path)
	}

	raw, err := yaml.Marshal(value)
	if err != nil {
		return types.WrapError(err, "failed to encode config value")
	}
	if err := yaml.Unmarshal(raw, target); err != nil {
		return types.Errorf(types.ErrConfigParseFailed, "path %s: %v", path, err)
	}
	return nil
}

// GetAllPaths lists the paths of every leaf value, sorted.
func (p *Parser) GetAllPaths() []string {
	var paths []string
	walk("", p.data, func(path string) {
		paths = append(paths, path)
	})
	sort.Strings(paths)
	return paths
}

func walk(prefix string, value interface{}, visit func(string)) {
	switch node := value.(type) {
	case map[string]interface{}:
		for key, child := range node {
			walk(join(prefix, key), child, visit)
		}
	case map[interface{}]interface{}:
		for key, child := range node {
			if name, ok := key.(string); ok {
				walk(join(prefix, name), child, visit)
			}
		}
	default:
		if prefix != "" {
			visit(prefix)
		}
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func (p *Parser) lookup(path string) (interface{}, bool) {
	if path == "" {
		return p.data, true
	}

	var node interface{} = p.data
	for _, segment := range strings.Split(path, ".") {
		next, ok := child(node, segment)
		if !ok || next == nil {
			return nil, false
		}
		node = next
	}
	return node, true
}

func child(node interface{}, segment string) (interface{}, bool) {
	switch typed := node.(type) {
	case map[string]interface{}:
		value, ok := typed[segment]
		return value, ok
	case map[interface{}]interface{}:
		value, ok := typed[segment]
		return value, ok
	case []interface{}:
		index, err := strconv.Atoi(segment)
		if err != nil || index < 0 || index >= len(typed) {
			return nil, false
		}
		return typed[index], true
	}
	return nil, false
}
