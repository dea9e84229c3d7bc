package stream

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"cryptopulse/internal/model"

	"github.com/tidwall/gjson"
)

// DecodeError reports a message that could not be turned into a Bar. It is
// never fatal to the stream.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return "stream: decode: " + e.Reason
	}
	return fmt.Sprintf("stream: decode: %s: %s", e.Field, e.Reason)
}

// Decode parses a Binance kline event into a Bar:
//
//	{"e":"kline","s":"BTCUSDT","k":{"t":1700000000000,"o":"1.0","h":"1.2","l":"0.9","c":"1.1","v":"10"}}
//
// Combined-stream wrappers ({"stream":..,"data":{..}}) are accepted too.
// Prices and volume may be strings or numbers; t is milliseconds.
func Decode(raw []byte) (model.Bar, error) {
	if !gjson.ValidBytes(raw) {
		return model.Bar{}, &DecodeError{Reason: "invalid json"}
	}
	root := gjson.ParseBytes(raw)
	if data := root.Get("data"); data.IsObject() {
		root = data
	}
	k := root.Get("k")
	if !k.IsObject() {
		return model.Bar{}, &DecodeError{Field: "k", Reason: "missing kline object"}
	}

	ms, err := number(k, "t")
	if err != nil {
		return model.Bar{}, err
	}
	// Bar times are whole seconds after the epoch; anything under 1s or past
	// the int64 range cannot be placed on the chart.
	if !(ms >= 1000 && ms < math.MaxInt64) {
		return model.Bar{}, &DecodeError{Field: "t", Reason: fmt.Sprintf("out of range: %v", ms)}
	}
	var bar model.Bar
	bar.Time = int64(ms) / 1000

	fields := []struct {
		name string
		dst  *float64
	}{
		{"o", &bar.Open}, {"h", &bar.High}, {"l", &bar.Low}, {"c", &bar.Close}, {"v", &bar.Volume},
	}
	for _, f := range fields {
		v, err := number(k, f.name)
		if err != nil {
			return model.Bar{}, err
		}
		*f.dst = v
	}

	if err := bar.Validate(); err != nil {
		return model.Bar{}, &DecodeError{Reason: err.Error()}
	}
	return bar, nil
}

// number reads a numeric field that may be encoded as a JSON number or a
// numeric string.
func number(obj gjson.Result, field string) (float64, error) {
	r := obj.Get(field)
	switch r.Type {
	case gjson.Number:
		return r.Num, nil
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, &DecodeError{Field: field, Reason: fmt.Sprintf("not numeric: %q", r.Str)}
		}
		return v, nil
	case gjson.Null:
		if !r.Exists() {
			return 0, &DecodeError{Field: field, Reason: "missing"}
		}
		return 0, &DecodeError{Field: field, Reason: "null"}
	default:
		return 0, &DecodeError{Field: field, Reason: "unexpected type " + r.Type.String()}
	}
}
