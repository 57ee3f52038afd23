package jsonmap

import "gorm.io/datatypes"

// Merge layers override on top of base, key by key. Neither input is
// modified; the result never aliases either map.
func Merge(base, override map[string]any) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(base)+len(override))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range override {
		out[key] = value
	}
	return out
}
