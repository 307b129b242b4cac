package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidParameter is wrapped by every strategy configuration error.
var ErrInvalidParameter = errors.New("invalid strategy parameter")

// ParameterError describes a single rejected parameter.
type ParameterError struct {
	Strategy string
	Param    string
	Value    any
	Reason   string
}

func (e *ParameterError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("%s: %v: %s", e.Strategy, ErrInvalidParameter, e.Reason)
	}
	return fmt.Sprintf("%s: %v %s=%v: %s", e.Strategy, ErrInvalidParameter, e.Param, e.Value, e.Reason)
}

func (e *ParameterError) Unwrap() error { return ErrInvalidParameter }

// Params carries strategy settings decoded from config, HTTP query strings,
// gRPC structs or CLI flags. Numbers may arrive as any Go numeric type, a
// json.Number or a decimal string.
type Params map[string]any

// CheckKeys rejects keys outside allowed.
func (p Params) CheckKeys(strategyName string, allowed ...string) error {
	var unknown []string
	for k := range p {
		found := false
		for _, a := range allowed {
			if k == a {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return &ParameterError{
		Strategy: strategyName,
		Param:    unknown[0],
		Value:    p[unknown[0]],
		Reason:   "unrecognised setting, allowed: " + strings.Join(allowed, ", "),
	}
}

// Float returns the named value as float64, or def when absent.
func (p Params) Float(strategyName, key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	f, err := toFloat(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &ParameterError{Strategy: strategyName, Param: key, Value: v, Reason: "not a number"}
	}
	return f, nil
}

// Int returns the named value as int, or def when absent. Fractional
// values are rejected rather than truncated.
func (p Params) Int(strategyName, key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	f, err := toFloat(v)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, &ParameterError{Strategy: strategyName, Param: key, Value: v, Reason: "not an integer"}
	}
	return int(f), nil
}

// Text returns the named value as a string, or def when absent.
func (p Params) Text(strategyName, key, def string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	s, isString := v.(string)
	if !isString {
		return "", &ParameterError{Strategy: strategyName, Param: key, Value: v, Reason: "not a string"}
	}
	return s, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
