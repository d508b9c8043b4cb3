package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dunamismax/flyimg/internal/options"
)

// parseOptionFlags turns repeated name=value flags into ordered options.
// Integers, finite floats and the literals true and false keep that type;
// everything else stays a string.
func parseOptionFlags(flags []string) (options.Options, error) {
	var opts options.Options
	for _, raw := range flags {
		name, value, ok := strings.Cut(raw, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return options.Options{}, fmt.Errorf("invalid option %q: expected name=value", raw)
		}
		opts.Set(name, optionValue(value))
	}
	return opts, nil
}

func optionValue(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	return raw
}
