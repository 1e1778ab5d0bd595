// Package rules evaluates filter rules against file metadata.
package rules

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/cases"

	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/fileinfo"
)

// Kind identifies a rule variant.
type Kind string

const (
	KindNameContains   Kind = "name_contains"
	KindNameStartsWith Kind = "name_starts_with"
	KindNameEndsWith   Kind = "name_ends_with"
	KindNameExact      Kind = "name_exact"
	KindNameRegex      Kind = "name_regex"
	KindNameGlob       Kind = "name_glob"
	KindDateRange      Kind = "date_range"
	KindSizeRange      Kind = "size_range"
	KindExtension      Kind = "extension"
)

// DateKind selects which timestamp a date range reads.
type DateKind string

const (
	DateModified DateKind = "modified"
	DateCreated  DateKind = "created"
)

// Rule is one filter. Only the fields of its Kind are read.
type Rule struct {
	Kind Kind `json:"kind"`

	// Name rules, regex and glob.
	Value string `json:"value,omitempty"`

	// Date range. Nil From is unbounded; nil To means now.
	DateKind DateKind   `json:"date_kind,omitempty"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`

	// Size range in bytes, inclusive.
	Min *int64 `json:"min,omitempty"`
	Max *int64 `json:"max,omitempty"`

	// Extensions with or without the dot. Entries containing "/" match the MIME type prefix.
	Extensions []string `json:"extensions,omitempty"`
}

func NameContains(v string) Rule   { return Rule{Kind: KindNameContains, Value: v} }
func NameStartsWith(v string) Rule { return Rule{Kind: KindNameStartsWith, Value: v} }
func NameEndsWith(v string) Rule   { return Rule{Kind: KindNameEndsWith, Value: v} }
func NameExact(v string) Rule      { return Rule{Kind: KindNameExact, Value: v} }
func NameRegex(pattern string) Rule {
	return Rule{Kind: KindNameRegex, Value: pattern}
}
func NameGlob(pattern string) Rule {
	return Rule{Kind: KindNameGlob, Value: pattern}
}
func Extension(exts ...string) Rule {
	return Rule{Kind: KindExtension, Extensions: exts}
}
func DateRange(kind DateKind, from, to *time.Time) Rule {
	return Rule{Kind: KindDateRange, DateKind: kind, From: from, To: to}
}
func SizeRange(lo, hi *int64) Rule {
	return Rule{Kind: KindSizeRange, Min: lo, Max: hi}
}

// Options applies to every rule in a set.
type Options struct {
	CaseInsensitive bool
	// Now resolves an open date range end. Defaults to time.Now.
	Now func() time.Time
}

// Capture is one regex group value.
type Capture struct {
	Index int    `json:"index"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value"`
}

// MatchResult is the outcome of evaluating a rule set.
type MatchResult struct {
	Matched  bool      `json:"matched"`
	Captures []Capture `json:"captures,omitempty"`
}

// Lookup finds a capture by group number ("1") or name.
func (r MatchResult) Lookup(key string) (string, bool) {
	if n, err := strconv.Atoi(key); err == nil {
		for _, c := range r.Captures {
			if c.Index == n {
				return c.Value, true
			}
		}
		return "", false
	}
	for _, c := range r.Captures {
		if c.Name != "" && c.Name == key {
			return c.Value, true
		}
	}
	return "", false
}

type matcher func(m fileinfo.FileMeta, res *MatchResult) bool

// RuleSet is an immutable, compiled conjunction of rules.
type RuleSet struct {
	rules    []Rule
	matchers []matcher
	opts     Options
}

// NewRuleSet validates and compiles rules. An empty set matches every file.
func NewRuleSet(rules []Rule, opts Options) (*RuleSet, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	rs := &RuleSet{
		rules: append([]Rule(nil), rules...),
		opts:  opts,
	}
	for _, r := range rules {
		m, err := rs.compile(r)
		if err != nil {
			return nil, err
		}
		rs.matchers = append(rs.matchers, m)
	}
	return rs, nil
}

// Rules returns a copy of the rules the set was built from.
func (rs *RuleSet) Rules() []Rule {
	return append([]Rule(nil), rs.rules...)
}

// Evaluate runs every rule in order and stops at the first miss.
// Captures are only returned on a match.
func (rs *RuleSet) Evaluate(m fileinfo.FileMeta) MatchResult {
	var res MatchResult
	for _, match := range rs.matchers {
		if !match(m, &res) {
			return MatchResult{}
		}
	}
	res.Matched = true
	return res
}

func (rs *RuleSet) fold(s string) string {
	if !rs.opts.CaseInsensitive {
		return s
	}
	// A Caser keeps state, so each call gets its own.
	return cases.Fold().String(s)
}

func (rs *RuleSet) compile(r Rule) (matcher, error) {
	switch r.Kind {
	case KindNameContains, KindNameStartsWith, KindNameEndsWith, KindNameExact:
		if r.Value == "" {
			return nil, cerrors.NewInvalidRule(string(r.Kind), "value must not be empty")
		}
		want := rs.fold(r.Value)
		var cmp func(name, v string) bool
		switch r.Kind {
		case KindNameContains:
			cmp = strings.Contains
		case KindNameStartsWith:
			cmp = strings.HasPrefix
		case KindNameEndsWith:
			cmp = strings.HasSuffix
		default:
			cmp = func(name, v string) bool { return name == v }
		}
		return func(m fileinfo.FileMeta, _ *MatchResult) bool {
			return cmp(rs.fold(m.Name), want)
		}, nil

	case KindNameRegex:
		return rs.compileRegex(r)

	case KindNameGlob:
		if r.Value == "" {
			return nil, cerrors.NewInvalidRule(string(r.Kind), "pattern must not be empty")
		}
		if !doublestar.ValidatePattern(r.Value) {
			return nil, cerrors.NewInvalidPattern(r.Value, doublestar.ErrBadPattern)
		}
		pattern := rs.fold(r.Value)
		byPath := strings.Contains(r.Value, "/")
		return func(m fileinfo.FileMeta, _ *MatchResult) bool {
			target := m.Name
			if byPath {
				target = strings.ReplaceAll(m.RelPath, "\\", "/")
			}
			ok, err := doublestar.Match(pattern, rs.fold(target))
			return err == nil && ok
		}, nil

	case KindExtension:
		return compileExtension(r)

	case KindDateRange:
		return rs.compileDateRange(r)

	case KindSizeRange:
		return compileSizeRange(r)

	default:
		return nil, cerrors.NewInvalidRule(string(r.Kind), "unknown rule kind")
	}
}

func (rs *RuleSet) compileRegex(r Rule) (matcher, error) {
	if r.Value == "" {
		return nil, cerrors.NewInvalidRule(string(r.Kind), "pattern must not be empty")
	}
	expr := r.Value
	if rs.opts.CaseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, cerrors.NewInvalidPattern(r.Value, err)
	}
	names := re.SubexpNames()

	return func(m fileinfo.FileMeta, res *MatchResult) bool {
		loc := re.FindStringSubmatchIndex(m.Name)
		if loc == nil {
			return false
		}
		for i := 1; i < len(names); i++ {
			start, end := loc[2*i], loc[2*i+1]
			if start < 0 {
				continue
			}
			if _, taken := res.Lookup(strconv.Itoa(i)); taken {
				continue
			}
			res.Captures = append(res.Captures, Capture{
				Index: i,
				Name:  names[i],
				Value: m.Name[start:end],
			})
		}
		return true
	}, nil
}

func compileExtension(r Rule) (matcher, error) {
	var exts, mimes []string
	for _, e := range r.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		switch {
		case strings.Contains(e, "/"):
			mimes = append(mimes, e)
		case strings.TrimPrefix(e, ".") != "":
			exts = append(exts, "."+strings.TrimPrefix(e, "."))
		}
	}
	if len(exts) == 0 && len(mimes) == 0 {
		return nil, cerrors.NewInvalidRule(string(r.Kind), "extension set must not be empty")
	}

	return func(m fileinfo.FileMeta, _ *MatchResult) bool {
		ext := strings.ToLower(m.Ext)
		for _, e := range exts {
			if ext == e {
				return true
			}
		}
		if len(mimes) == 0 {
			return false
		}
		typ := m.MIMEType()
		if typ == "" {
			return false
		}
		for _, p := range mimes {
			if strings.HasPrefix(typ, p) {
				return true
			}
		}
		return false
	}, nil
}

func (rs *RuleSet) compileDateRange(r Rule) (matcher, error) {
	kind := r.DateKind
	if kind == "" {
		kind = DateModified
	}
	if kind != DateModified && kind != DateCreated {
		return nil, cerrors.NewInvalidRule(string(r.Kind), "date kind must be created or modified")
	}
	if r.From != nil && r.To != nil && r.From.After(*r.To) {
		return nil, cerrors.NewInvalidRule(string(r.Kind), "from is after to")
	}
	from, to := r.From, r.To

	return func(m fileinfo.FileMeta, _ *MatchResult) bool {
		t := m.Modified
		if kind == DateCreated {
			t = m.Created
		}
		if from != nil && t.Before(*from) {
			return false
		}
		end := rs.opts.Now()
		if to != nil {
			end = *to
		}
		return !t.After(end)
	}, nil
}

func compileSizeRange(r Rule) (matcher, error) {
	if r.Min == nil && r.Max == nil {
		return nil, cerrors.NewInvalidRule(string(r.Kind), "min or max is required")
	}
	if (r.Min != nil && *r.Min < 0) || (r.Max != nil && *r.Max < 0) {
		return nil, cerrors.NewInvalidRule(string(r.Kind), "sizes must not be negative")
	}
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return nil, cerrors.NewInvalidRule(string(r.Kind), "min is greater than max")
	}
	lo, hi := r.Min, r.Max

	return func(m fileinfo.FileMeta, _ *MatchResult) bool {
		if lo != nil && m.Size < *lo {
			return false
		}
		if hi != nil && m.Size > *hi {
			return false
		}
		return true
	}, nil
}
