package resource

import (
	"sort"

	"github.com/cespare/xxhash/v2"
)

const (
	SkinHeaderGradientColor = "headerGradientColor"
	SkinHeaderBackground    = "headerBackgroundColor"
	SkinGeneralText         = "generalTextColor"
)

// Skin resolves named theme parameters.
type Skin interface {
	Parameter(name string) (string, bool)
	// HashCode changes whenever any parameter changes.
	HashCode() uint32
}

type MapSkin struct {
	params map[string]string
	hash   uint32
}

func NewMapSkin(params map[string]string) *MapSkin {
	copied := make(map[string]string, len(params))
	for k, v := range params {
		copied[k] = v
	}

	return &MapSkin{
		params: copied,
		hash:   hashParams(copied),
	}
}

func (s *MapSkin) Parameter(name string) (string, bool) {
	value, ok := s.params[name]
	return value, ok
}

func (s *MapSkin) HashCode() uint32 {
	return s.hash
}

func hashParams(params map[string]string) uint32 {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := xxhash.New()
	for _, k := range keys {
		_, _ = d.WriteString(k)
		_, _ = d.WriteString("=")
		_, _ = d.WriteString(params[k])
		_, _ = d.WriteString("\n")
	}
	return uint32(d.Sum64())
}
