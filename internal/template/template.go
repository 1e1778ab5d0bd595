// Package template turns a destination template such as "[group1]/[YYYY]/" into
// a path relative to the destination root.
package template

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/fileinfo"
	"github.com/hpungsan/chrono/internal/rules"
)

// DateSource selects the timestamp date references read.
type DateSource string

const (
	DateModified DateSource = "modified"
	DateCreated  DateSource = "created"
)

// Options configures parsing.
type Options struct {
	DateSource DateSource
}

type refKind int

const (
	refGroup refKind = iota
	refYear
	refMonth
	refDay
	refFilename
	refStem
	refExt
	refType
)

type ref struct {
	kind refKind
	key  string // capture key for refGroup
	raw  string // token text as written, without brackets
}

// segment is a literal (ref == nil) or a reference.
type segment struct {
	literal string
	ref     *ref
}

type component []segment

// Template is a parsed destination template. It is immutable and safe for concurrent use.
type Template struct {
	raw        string
	components []component
	appendName bool
	dates      DateSource
}

// Parse validates raw and splits it into path components.
func Parse(raw string, opts Options) (*Template, error) {
	dates := opts.DateSource
	switch dates {
	case "":
		dates = DateModified
	case DateModified, DateCreated:
	default:
		return nil, cerrors.NewInvalidTemplate(raw, fmt.Sprintf("unknown date source %q", opts.DateSource))
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, cerrors.NewInvalidTemplate(raw, "template is empty")
	}
	norm := strings.ReplaceAll(trimmed, "\\", "/")
	if strings.HasPrefix(norm, "/") || filepath.VolumeName(trimmed) != "" {
		return nil, cerrors.NewInvalidTemplate(raw, "template must be relative")
	}

	segs, err := tokenize(raw, norm)
	if err != nil {
		return nil, err
	}

	t := &Template{raw: raw, dates: dates}
	cur := component{}
	flush := func() error {
		if isLiteral(cur, "..") {
			return cerrors.NewInvalidTemplate(raw, "template must not contain ..")
		}
		if len(cur) > 0 && !isLiteral(cur, ".") {
			t.components = append(t.components, cur)
		}
		cur = component{}
		return nil
	}

	for _, s := range segs {
		if s.ref != nil {
			cur = append(cur, s)
			continue
		}
		parts := strings.Split(s.literal, "/")
		for i, p := range parts {
			if i > 0 {
				if err := flush(); err != nil {
					return nil, err
				}
			}
			if p != "" {
				cur = appendLiteral(cur, p)
			}
		}
	}
	trailingSlash := strings.HasSuffix(norm, "/")
	if err := flush(); err != nil {
		return nil, err
	}
	if len(t.components) == 0 {
		return nil, cerrors.NewInvalidTemplate(raw, "template has no path components")
	}

	t.appendName = trailingSlash || !t.components[len(t.components)-1].namesFile()
	return t, nil
}

// MustParse is Parse for templates known to be valid.
func MustParse(raw string) *Template {
	t, err := Parse(raw, Options{})
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the template as written.
func (t *Template) String() string { return t.raw }

// AppendsName reports whether Resolve adds the original file name.
func (t *Template) AppendsName() bool { return t.appendName }

// CaptureRefs lists the capture references the template uses, in order.
func (t *Template) CaptureRefs() []string {
	var refs []string
	for _, c := range t.components {
		for _, s := range c {
			if s.ref != nil && s.ref.kind == refGroup {
				refs = append(refs, s.ref.raw)
			}
		}
	}
	return refs
}

// Resolve fills the template for one file. The result is relative to the
// destination root and never contains "..".
func (t *Template) Resolve(match rules.MatchResult, meta fileinfo.FileMeta) (string, error) {
	parts := make([]string, 0, len(t.components)+1)
	for _, c := range t.components {
		value, err := t.resolveComponent(c, match, meta)
		if err != nil {
			return "", err
		}
		for _, p := range strings.FieldsFunc(value, isSeparator) {
			if p == ".." {
				return "", cerrors.NewUnsafeTraversal(value, meta.Name)
			}
			if p != "." {
				parts = append(parts, p)
			}
		}
	}
	if t.appendName {
		parts = append(parts, meta.Name)
	}

	rel := filepath.Join(parts...)
	if rel == "" || !filepath.IsLocal(rel) {
		return "", cerrors.NewUnsafeTraversal(rel, meta.Name)
	}
	return rel, nil
}

func (t *Template) resolveComponent(c component, match rules.MatchResult, meta fileinfo.FileMeta) (string, error) {
	var b strings.Builder
	emptyExt := false
	var firstRef *ref
	for _, s := range c {
		if s.ref == nil {
			b.WriteString(s.literal)
			continue
		}
		if firstRef == nil {
			firstRef = s.ref
		}
		v, err := t.value(s.ref, match, meta)
		if err != nil {
			return "", err
		}
		if s.ref.kind == refExt && v == "" {
			emptyExt = true
		}
		b.WriteString(v)
	}
	out := b.String()
	if emptyExt {
		out = strings.TrimSuffix(out, ".")
	}
	if strings.TrimSpace(out) == "" && firstRef != nil {
		return "", cerrors.NewUnresolvedReference(firstRef.raw, meta.Name)
	}
	return out, nil
}

func (t *Template) value(r *ref, match rules.MatchResult, meta fileinfo.FileMeta) (string, error) {
	ts := meta.Modified
	if t.dates == DateCreated {
		ts = meta.Created
	}
	switch r.kind {
	case refGroup:
		v, ok := match.Lookup(r.key)
		if !ok {
			return "", cerrors.NewUnresolvedReference(r.raw, meta.Name)
		}
		return v, nil
	case refYear:
		return fmt.Sprintf("%04d", ts.Year()), nil
	case refMonth:
		return fmt.Sprintf("%02d", int(ts.Month())), nil
	case refDay:
		return fmt.Sprintf("%02d", ts.Day()), nil
	case refFilename:
		return meta.Name, nil
	case refStem:
		return meta.Stem(), nil
	case refExt:
		return strings.TrimPrefix(meta.Ext, "."), nil
	case refType:
		return meta.Category(), nil
	}
	return "", cerrors.NewUnresolvedReference(r.raw, meta.Name)
}

// JoinRoot joins a resolved relative path to root and checks it stays inside.
func JoinRoot(root, rel string) (string, error) {
	if !filepath.IsLocal(rel) {
		return "", cerrors.NewUnsafeTraversal(rel, filepath.Base(rel))
	}
	cleanRoot := filepath.Clean(root)
	joined := filepath.Join(cleanRoot, rel)
	back, err := filepath.Rel(cleanRoot, joined)
	if err != nil || !filepath.IsLocal(back) {
		return "", cerrors.NewUnsafeTraversal(joined, filepath.Base(rel))
	}
	return joined, nil
}

// tokenize splits norm into literal and reference segments.
func tokenize(raw, norm string) ([]segment, error) {
	var segs []segment
	var lit strings.Builder
	for i := 0; i < len(norm); i++ {
		switch norm[i] {
		case '[':
			end := strings.IndexAny(norm[i+1:], "[]")
			if end < 0 || norm[i+1+end] == '[' {
				return nil, cerrors.NewInvalidTemplate(raw, fmt.Sprintf("unclosed [ at offset %d", i))
			}
			token := norm[i+1 : i+1+end]
			r, err := parseRef(raw, token)
			if err != nil {
				return nil, err
			}
			if lit.Len() > 0 {
				segs = append(segs, segment{literal: lit.String()})
				lit.Reset()
			}
			segs = append(segs, segment{ref: r})
			i += end + 1
		case ']':
			return nil, cerrors.NewInvalidTemplate(raw, fmt.Sprintf("unexpected ] at offset %d", i))
		default:
			lit.WriteByte(norm[i])
		}
	}
	if lit.Len() > 0 {
		segs = append(segs, segment{literal: lit.String()})
	}
	return segs, nil
}

func parseRef(raw, token string) (*ref, error) {
	lower := strings.ToLower(strings.TrimSpace(token))
	r := &ref{raw: token}
	switch lower {
	case "yyyy", "year":
		r.kind = refYear
	case "mm", "month":
		r.kind = refMonth
	case "dd", "day":
		r.kind = refDay
	case "filename":
		r.kind = refFilename
	case "stem":
		r.kind = refStem
	case "ext":
		r.kind = refExt
	case "type", "detectedfiletype":
		r.kind = refType
	default:
		key, ok := groupKey(token, lower)
		if !ok {
			return nil, cerrors.NewInvalidTemplate(raw, fmt.Sprintf("unknown reference [%s]", token))
		}
		r.kind = refGroup
		r.key = key
	}
	return r, nil
}

// groupKey accepts group1, RegexGroup1 and group:name.
func groupKey(token, lower string) (string, bool) {
	if rest, ok := strings.CutPrefix(lower, "group:"); ok {
		if rest == "" {
			return "", false
		}
		// Keep the capture name's case as written.
		return strings.TrimSpace(token)[len("group:"):], true
	}
	var digits string
	switch {
	case strings.HasPrefix(lower, "regexgroup"):
		digits = lower[len("regexgroup"):]
	case strings.HasPrefix(lower, "group"):
		digits = lower[len("group"):]
	default:
		return "", false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 || strconv.Itoa(n) != digits {
		return "", false
	}
	return digits, true
}

func appendLiteral(c component, s string) component {
	if n := len(c); n > 0 && c[n-1].ref == nil {
		c[n-1].literal += s
		return c
	}
	return append(c, segment{literal: s})
}

func isLiteral(c component, s string) bool {
	return len(c) == 1 && c[0].ref == nil && c[0].literal == s
}

// namesFile reports whether the component is a file name rather than a directory:
// it references the name or ends in a literal with an extension.
func (c component) namesFile() bool {
	for _, s := range c {
		if s.ref != nil {
			switch s.ref.kind {
			case refFilename, refStem, refExt:
				return true
			}
		}
	}
	last := c[len(c)-1]
	if last.ref != nil {
		return false
	}
	ext := filepath.Ext(last.literal)
	return ext != "" && ext != "." && ext != last.literal
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}
