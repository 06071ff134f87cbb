package codec

import "time"

// Typed accessors over a decoded field map. Absent fields and wrong-typed
// fields both report ok=false; callers must not conflate that with a zero.

func GetString(m map[string]any, key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

func GetInt(m map[string]any, key string) (int64, bool) {
	v, ok := m[key].(int64)
	return v, ok
}

func GetFloat(m map[string]any, key string) (float64, bool) {
	v, ok := m[key].(float64)
	return v, ok
}

func GetBool(m map[string]any, key string) (bool, bool) {
	v, ok := m[key].(bool)
	return v, ok
}

func GetTime(m map[string]any, key string) (time.Time, bool) {
	v, ok := m[key].(time.Time)
	return v, ok
}
