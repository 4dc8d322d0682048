// Package parse scrapes the match count and elapsed time that a
// string-matching executable prints to standard output.
package parse

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/signalnine/matchbench/internal/result"
)

const (
	DefaultMatchesPattern = `Matches:\s*(\d+)`
	DefaultTimePattern    = `Time\(s\):\s*([\d.]+)`
)

// Field names used in errors.
const (
	FieldMatches = "matches"
	FieldTime    = "time"
)

var (
	ErrMissingField   = errors.New("missing field")
	ErrMalformedField = errors.New("malformed field")
)

// FieldError reports which field could not be extracted and why.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Err, e.Field)
	}
	return fmt.Sprintf("%s: %s=%q", e.Err, e.Field, e.Value)
}

func (e *FieldError) Unwrap() error { return e.Err }

type Parser struct {
	matches *regexp.Regexp
	time    *regexp.Regexp
}

// Default is the parser for the `Matches: N` / `Time(s): S` output format.
var Default = &Parser{
	matches: regexp.MustCompile(DefaultMatchesPattern),
	time:    regexp.MustCompile(DefaultTimePattern),
}

// New compiles a parser. Empty patterns fall back to the defaults; each
// pattern must contain exactly one capture group holding the numeral.
func New(matchesPattern, timePattern string) (*Parser, error) {
	if matchesPattern == "" {
		matchesPattern = DefaultMatchesPattern
	}
	if timePattern == "" {
		timePattern = DefaultTimePattern
	}
	m, err := compile(FieldMatches, matchesPattern)
	if err != nil {
		return nil, err
	}
	t, err := compile(FieldTime, timePattern)
	if err != nil {
		return nil, err
	}
	return &Parser{matches: m, time: t}, nil
}

func compile(field, pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling %s pattern: %w", field, err)
	}
	if re.NumSubexp() != 1 {
		return nil, fmt.Errorf("%s pattern %q: want exactly one capture group, got %d", field, pattern, re.NumSubexp())
	}
	return re, nil
}

// Parse extracts a trial outcome from stdout. The two fields may appear in
// any order among unrelated lines; the first occurrence of each wins.
func (p *Parser) Parse(stdout string) (result.Trial, error) {
	rawMatches, err := find(p.matches, FieldMatches, stdout)
	if err != nil {
		return result.Trial{}, err
	}
	rawTime, err := find(p.time, FieldTime, stdout)
	if err != nil {
		return result.Trial{}, err
	}

	matches, err := strconv.Atoi(rawMatches)
	if err != nil || matches < 0 {
		return result.Trial{}, &FieldError{Field: FieldMatches, Value: rawMatches, Err: ErrMalformedField}
	}
	seconds, err := strconv.ParseFloat(rawTime, 64)
	if err != nil || seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return result.Trial{}, &FieldError{Field: FieldTime, Value: rawTime, Err: ErrMalformedField}
	}
	return result.Trial{Matches: matches, Seconds: seconds}, nil
}

func find(re *regexp.Regexp, field, text string) (string, error) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", &FieldError{Field: field, Err: ErrMissingField}
	}
	return m[1], nil
}
