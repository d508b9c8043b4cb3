package options

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

const DefaultSeparator = ","

// Config is the normalized codec configuration. It is read-only after
// construction and safe to share between goroutines.
type Config struct {
	Separator string
	Keys      KeyMapping
	Defaults  Options
}

// DefaultConfig uses the standard key table, a comma separator and no
// default options.
func DefaultConfig() Config {
	return Config{
		Separator: DefaultSeparator,
		Keys:      DefaultKeys(),
	}
}

// Serialize merges opts over cfg.Defaults and encodes the result as a single
// path segment of shortcode_value tokens. Unset values and names without a
// short code are skipped. The result is empty when nothing survives.
func Serialize(opts Options, cfg Config) string {
	effective := Merge(cfg.Defaults, opts)

	parts := make([]string, 0, effective.Len())
	for _, name := range effective.keys {
		value := effective.values[name]
		if isNullish(value) {
			continue
		}
		short, ok := cfg.Keys.Short(name)
		if !ok {
			continue
		}
		encoded, ok := encodeValue(value)
		if !ok {
			continue
		}
		parts = append(parts, short+"_"+encoded)
	}
	return strings.Join(parts, cfg.Separator)
}

// Parse decodes a segment produced by Serialize back into long option names.
// Values come back as unescaped strings; unknown short codes are skipped.
func Parse(segment string, cfg Config) (Options, error) {
	var out Options
	if segment == "" {
		return out, nil
	}
	if cfg.Separator == "" {
		return out, errors.New("parse options segment: separator is empty")
	}

	for _, token := range strings.Split(segment, cfg.Separator) {
		short, raw, ok := strings.Cut(token, "_")
		if !ok {
			return Options{}, fmt.Errorf("parse options segment: token %q has no value", token)
		}
		long, known := cfg.Keys.Long(short)
		if !known {
			continue
		}
		value, err := url.PathUnescape(raw)
		if err != nil {
			return Options{}, fmt.Errorf("parse options segment: token %q: %w", token, err)
		}
		out.Set(long, value)
	}
	return out, nil
}

func isNullish(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

func encodeValue(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return EscapeComponent(v), true
	case bool:
		return strconv.FormatBool(v), true
	case json.Number:
		return v.String(), true
	case int:
		return strconv.FormatInt(int64(v), 10), true
	case int8:
		return strconv.FormatInt(int64(v), 10), true
	case int16:
		return strconv.FormatInt(int64(v), 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint:
		return strconv.FormatUint(uint64(v), 10), true
	case uint8:
		return strconv.FormatUint(uint64(v), 10), true
	case uint16:
		return strconv.FormatUint(uint64(v), 10), true
	case uint32:
		return strconv.FormatUint(uint64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case float32:
		return formatNumber(float64(v), 32), true
	case float64:
		return formatNumber(v, 64), true
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return "", false
	}
	return EscapeComponent(string(raw)), true
}

// formatNumber renders a float the way a JavaScript engine prints a number:
// plain decimals for exponents in [-7, 21), exponent notation outside that.
func formatNumber(v float64, bitSize int) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		return "0"
	}

	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}

	// Shortest round-trip digits as d.ddde±x.
	mantissa, exp, _ := strings.Cut(strconv.FormatFloat(v, 'e', -1, bitSize), "e")
	digits := strings.Replace(mantissa, ".", "", 1)
	e, _ := strconv.Atoi(exp)
	k, n := len(digits), e+1

	switch {
	case k <= n && n <= 21:
		return sign + digits + strings.Repeat("0", n-k)
	case 0 < n && n <= 21:
		return sign + digits[:n] + "." + digits[n:]
	case -6 < n && n <= 0:
		return sign + "0." + strings.Repeat("0", -n) + digits
	}

	expSign := "+"
	if e < 0 {
		expSign = "-"
		e = -e
	}
	out := digits[:1]
	if k > 1 {
		out += "." + digits[1:]
	}
	return sign + out + "e" + expSign + strconv.Itoa(e)
}
