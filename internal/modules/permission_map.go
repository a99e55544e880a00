package modules

import (
	"encoding/json"
	"sort"
)

// PermissionMap is the fully resolved module access of exactly one role.
// Keys that are absent are denied.
type PermissionMap map[Key]bool

// Allowed reports whether k is explicitly allowed.
func (m PermissionMap) Allowed(k Key) bool {
	if m == nil {
		return false
	}
	return m[k]
}

// Clone returns an independent copy. A nil map clones to an empty one.
func (m PermissionMap) Clone() PermissionMap {
	out := make(PermissionMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AllowedKeys lists the allowed keys sorted by name.
func (m PermissionMap) AllowedKeys() []Key {
	keys := make([]Key, 0, len(m))
	for k, v := range m {
		if v {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// MarshalJSON always emits an object, never null.
func (m PermissionMap) MarshalJSON() ([]byte, error) {
	raw := make(map[string]bool, len(m))
	for k, v := range m {
		raw[string(k)] = v
	}
	return json.Marshal(raw)
}
