// Package transform applies a closed set of named transformations to raw
// probe output (file contents, command stdout, environment variable
// values). The original collector evaluated an arbitrary Python lambda
// against each sample; this is replaced by a fixed set of named operations
// validated at config-load time, never a runtime expression evaluator.
package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Name identifies one of the declared transforms.
type Name string

const (
	Identity     Name = "identity"
	ParseInt     Name = "parse-int"
	ParseFloat   Name = "parse-float"
	ScaleByConst Name = "scale"
	Trim         Name = "trim"
	RegexExtract Name = "regex-extract"
)

var known = map[Name]bool{
	Identity:     true,
	ParseInt:     true,
	ParseFloat:   true,
	ScaleByConst: true,
	Trim:         true,
	RegexExtract: true,
}

// Valid reports whether name is one of the declared transforms. Called at
// config-load time so an unsupported transform fails startup, not a tick.
func Valid(name string) bool {
	if name == "" {
		return true // no transform declared
	}
	return known[Name(name)]
}

// Apply runs the named transform against raw, using scale and pattern where
// the transform needs them (ScaleByConst and RegexExtract respectively).
// The result is always one of string, int64 or float64 — the shapes a
// telemetry payload's custom.<name>.value field can hold.
func Apply(name string, raw string, scale float64, pattern string) (any, error) {
	trimmed := strings.TrimSpace(raw)

	switch Name(name) {
	case "", Identity:
		return trimmed, nil

	case Trim:
		return trimmed, nil

	case ParseInt:
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse-int: %w", err)
		}
		return n, nil

	case ParseFloat:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("parse-float: %w", err)
		}
		return f, nil

	case ScaleByConst:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("scale: %w", err)
		}
		return f * scale, nil

	case RegexExtract:
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("regex-extract: invalid pattern: %w", err)
		}
		match := re.FindStringSubmatch(trimmed)
		if match == nil {
			return nil, fmt.Errorf("regex-extract: pattern %q did not match", pattern)
		}
		if len(match) > 1 {
			return match[1], nil
		}
		return match[0], nil

	default:
		return nil, fmt.Errorf("unknown transform %q", name)
	}
}
