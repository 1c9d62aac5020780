package channel

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

var (
	errNoScheduler = errors.New("scheduler not configured")
	errNoJob       = errors.New("sync job not configured")
	errNoLog       = errors.New("event log not configured")
)

// Int reads an integer argument. JSON numbers arrive as float64; transports
// pass strings. A missing or nil argument yields def.
func (a Args) Int(key string, def int) (int, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, invalidArg("%s must be an integer, got %v", key, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, invalidArg("%s must be an integer, got %q", key, n)
		}
		return i, nil
	default:
		return 0, invalidArg("%s must be an integer, got %T", key, v)
	}
}

func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", invalidArg("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidArg("%s must be a string, got %T", key, v)
	}
	return s, nil
}

func (a Args) Bool(key string) (bool, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return false, invalidArg("%s is required", key)
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		p, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, invalidArg("%s must be a boolean, got %q", key, b)
		}
		return p, nil
	default:
		return false, invalidArg("%s must be a boolean, got %T", key, v)
	}
}
