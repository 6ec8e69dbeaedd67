package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Key identifies one cached query result.
type Key []string

// NewKey builds a Key from string and numeric segments. Numbers are rendered in
// their decimal form, so NewKey("page", 2) equals NewKey("page", "2").
func NewKey(parts ...any) Key {
	k := make(Key, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			k = append(k, v)
		case int:
			k = append(k, strconv.Itoa(v))
		case int64:
			k = append(k, strconv.FormatInt(v, 10))
		case float64:
			k = append(k, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			k = append(k, fmt.Sprint(v))
		}
	}
	return k
}

// ParseKey decodes the canonical form produced by String.
func ParseKey(s string) (Key, error) {
	var k Key
	if err := json.Unmarshal([]byte(s), &k); err != nil {
		return nil, fmt.Errorf("cache: parse key %q: %w", s, err)
	}
	return k, nil
}

// String returns the canonical JSON array form, e.g. ["count","jets"].
func (k Key) String() string {
	b, _ := json.Marshal([]string(k))
	return string(b)
}

// Equal reports whether k and o have the same segments in the same order.
func (k Key) Equal(o Key) bool {
	if len(k) != len(o) {
		return false
	}
	for i := range k {
		if k[i] != o[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether p is a leading run of k's segments.
// An empty prefix matches every key.
func (k Key) HasPrefix(p Key) bool {
	if len(p) > len(k) {
		return false
	}
	return k[:len(p)].Equal(p)
}
