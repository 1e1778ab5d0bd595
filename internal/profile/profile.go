// Package profile loads saved organization setups (filters, template,
// destination and policies) from TOML, YAML or JSON files.
package profile

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/rules"
)

// DateLayout is the accepted date format for date filters.
const DateLayout = "2006-01-02"

// Format is a profile file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Profile is one saved organization setup. Empty fields fall back to the
// application config.
type Profile struct {
	Name            string  `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Source          string  `json:"source,omitempty" yaml:"source,omitempty" toml:"source,omitempty"`
	Destination     string  `json:"destination,omitempty" yaml:"destination,omitempty" toml:"destination,omitempty"`
	Template        string  `json:"template" yaml:"template" toml:"template"`
	DateSource      string  `json:"date_source,omitempty" yaml:"date_source,omitempty" toml:"date_source,omitempty"`
	ConflictPolicy  string  `json:"conflict_policy,omitempty" yaml:"conflict_policy,omitempty" toml:"conflict_policy,omitempty"`
	Mode            string  `json:"mode,omitempty" yaml:"mode,omitempty" toml:"mode,omitempty"`
	ErrorPolicy     string  `json:"error_policy,omitempty" yaml:"error_policy,omitempty" toml:"error_policy,omitempty"`
	Recursive       bool    `json:"recursive,omitempty" yaml:"recursive,omitempty" toml:"recursive,omitempty"`
	IncludeHidden   bool    `json:"include_hidden,omitempty" yaml:"include_hidden,omitempty" toml:"include_hidden,omitempty"`
	CaseInsensitive bool    `json:"case_insensitive,omitempty" yaml:"case_insensitive,omitempty" toml:"case_insensitive,omitempty"`
	Filters         Filters `json:"filters" yaml:"filters" toml:"filters"`
}

// Filters are the rule inputs of a profile. Sizes accept units ("10 KB",
// "2MiB"); dates are YYYY-MM-DD in local time and both ends are inclusive.
type Filters struct {
	Contains       string   `json:"contains,omitempty" yaml:"contains,omitempty" toml:"contains,omitempty"`
	StartsWith     string   `json:"starts_with,omitempty" yaml:"starts_with,omitempty" toml:"starts_with,omitempty"`
	EndsWith       string   `json:"ends_with,omitempty" yaml:"ends_with,omitempty" toml:"ends_with,omitempty"`
	Exact          string   `json:"exact,omitempty" yaml:"exact,omitempty" toml:"exact,omitempty"`
	Regex          string   `json:"regex,omitempty" yaml:"regex,omitempty" toml:"regex,omitempty"`
	Glob           string   `json:"glob,omitempty" yaml:"glob,omitempty" toml:"glob,omitempty"`
	Extensions     []string `json:"extensions,omitempty" yaml:"extensions,omitempty" toml:"extensions,omitempty"`
	ModifiedAfter  string   `json:"modified_after,omitempty" yaml:"modified_after,omitempty" toml:"modified_after,omitempty"`
	ModifiedBefore string   `json:"modified_before,omitempty" yaml:"modified_before,omitempty" toml:"modified_before,omitempty"`
	CreatedAfter   string   `json:"created_after,omitempty" yaml:"created_after,omitempty" toml:"created_after,omitempty"`
	CreatedBefore  string   `json:"created_before,omitempty" yaml:"created_before,omitempty" toml:"created_before,omitempty"`
	MinSize        string   `json:"min_size,omitempty" yaml:"min_size,omitempty" toml:"min_size,omitempty"`
	MaxSize        string   `json:"max_size,omitempty" yaml:"max_size,omitempty" toml:"max_size,omitempty"`
}

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", cerrors.NewInvalidConfig("profile", "unsupported profile extension "+filepath.Ext(path)+" (want .toml, .yaml, .yml or .json)")
}

// Load reads a profile file, choosing the decoder by extension.
func Load(path string) (*Profile, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, cerrors.NewFileNotFound(path)
		}
		return nil, cerrors.NewInternal(errors.Errorf("reading profile: %w", err))
	}
	p, err := Parse(data, format)
	if err != nil {
		return nil, err
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// Parse decodes data in the given format. Unknown fields are rejected.
func Parse(data []byte, format Format) (*Profile, error) {
	var p Profile
	var err error
	switch format {
	case FormatTOML:
		err = toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(&p)
		if err != nil {
			err = errors.Errorf("parsing TOML: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&p)
		if err != nil {
			err = errors.Errorf("parsing YAML: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&p)
		if err != nil {
			err = errors.Errorf("parsing JSON: %w", err)
		}
	default:
		return nil, cerrors.NewInvalidConfig("profile", "unknown format "+string(format))
	}
	if err != nil {
		cErr := cerrors.NewInvalidConfig("profile", err.Error())
		cErr.Cause = err
		return nil, cErr
	}
	if strings.TrimSpace(p.Template) == "" {
		return nil, cerrors.NewInvalidConfig("template", "profile has no template")
	}
	return &p, nil
}

// Rules converts the filters into rules, in a fixed order.
func (f Filters) Rules() ([]rules.Rule, error) {
	var out []rules.Rule
	if f.Contains != "" {
		out = append(out, rules.NameContains(f.Contains))
	}
	if f.StartsWith != "" {
		out = append(out, rules.NameStartsWith(f.StartsWith))
	}
	if f.EndsWith != "" {
		out = append(out, rules.NameEndsWith(f.EndsWith))
	}
	if f.Exact != "" {
		out = append(out, rules.NameExact(f.Exact))
	}
	if f.Regex != "" {
		out = append(out, rules.NameRegex(f.Regex))
	}
	if f.Glob != "" {
		out = append(out, rules.NameGlob(f.Glob))
	}
	if len(f.Extensions) > 0 {
		out = append(out, rules.Extension(f.Extensions...))
	}

	for _, d := range []struct {
		kind          rules.DateKind
		after, before string
	}{
		{rules.DateModified, f.ModifiedAfter, f.ModifiedBefore},
		{rules.DateCreated, f.CreatedAfter, f.CreatedBefore},
	} {
		if d.after == "" && d.before == "" {
			continue
		}
		from, err := ParseDate(d.after, false)
		if err != nil {
			return nil, err
		}
		to, err := ParseDate(d.before, true)
		if err != nil {
			return nil, err
		}
		out = append(out, rules.DateRange(d.kind, from, to))
	}

	if f.MinSize != "" || f.MaxSize != "" {
		lo, err := ParseSize(f.MinSize)
		if err != nil {
			return nil, err
		}
		hi, err := ParseSize(f.MaxSize)
		if err != nil {
			return nil, err
		}
		out = append(out, rules.SizeRange(lo, hi))
	}
	return out, nil
}

// ParseDate parses a YYYY-MM-DD date in local time. With endOfDay the last
// instant of that day is returned. Empty input yields nil.
func ParseDate(s string, endOfDay bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(DateLayout, s, time.Local)
	if err != nil {
		return nil, cerrors.NewInvalidRule(string(rules.KindDateRange), "date "+s+" is not YYYY-MM-DD")
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &t, nil
}

// ParseSize parses a byte count such as "1500", "10 KB" or "2MiB". Empty
// input yields nil.
func ParseSize(s string) (*int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "-") {
		return nil, cerrors.NewInvalidRule(string(rules.KindSizeRange), "size "+s+" is negative")
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return nil, cerrors.NewInvalidRule(string(rules.KindSizeRange), "size "+s+" is not a byte count")
	}
	v := int64(n)
	if v < 0 {
		return nil, cerrors.NewInvalidRule(string(rules.KindSizeRange), "size "+s+" is too large")
	}
	return &v, nil
}
