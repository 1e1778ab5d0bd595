package template

import (
	"path/filepath"
	"testing"
	"time"

	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/fileinfo"
	"github.com/hpungsan/chrono/internal/rules"
)

var (
	modTime     = time.Date(2024, 3, 7, 9, 30, 0, 0, time.UTC)
	createdTime = time.Date(2021, 11, 2, 8, 0, 0, 0, time.UTC)
)

func file(name string) fileinfo.FileMeta {
	return fileinfo.New("/src/"+name, name, 10, createdTime, modTime)
}

func captures(kv ...string) rules.MatchResult {
	res := rules.MatchResult{Matched: true}
	for i := 0; i+1 < len(kv); i += 2 {
		c := rules.Capture{Value: kv[i+1]}
		if n, ok := digit(kv[i]); ok {
			c.Index = n
		} else {
			c.Name = kv[i]
			c.Index = 100 + i
		}
		res.Captures = append(res.Captures, c)
	}
	return res
}

func digit(s string) (int, bool) {
	if len(s) == 1 && s[0] >= '1' && s[0] <= '9' {
		return int(s[0] - '0'), true
	}
	return 0, false
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		template string
		opts     Options
		match    rules.MatchResult
		file     string
		want     string
	}{
		{"invoice scenario", "[group1]/[filename]", Options{}, captures("1", "2023"), "invoice_2023.txt", "2023/invoice_2023.txt"},
		{"directory appends name", "[group1]", Options{}, captures("1", "2024"), "invoice_2024.txt", "2024/invoice_2024.txt"},
		{"trailing slash", "archive/[YYYY]/", Options{}, rules.MatchResult{}, "a.txt", "archive/2024/a.txt"},
		{"date parts", "[YYYY]/[MM]/[DD]", Options{}, rules.MatchResult{}, "a.txt", "2024/03/07/a.txt"},
		{"date aliases", "[year]-[month]-[day]", Options{}, rules.MatchResult{}, "a.txt", "2024-03-07/a.txt"},
		{"created date", "[YYYY]", Options{DateSource: DateCreated}, rules.MatchResult{}, "a.txt", "2021/a.txt"},
		{"stem and ext", "docs/[stem]-final.[ext]", Options{}, rules.MatchResult{}, "report.pdf", "docs/report-final.pdf"},
		{"literal file name", "out/notes.txt", Options{}, rules.MatchResult{}, "a.txt", "out/notes.txt"},
		{"case-insensitive tokens", "[GROUP1]/[Filename]", Options{}, captures("1", "x"), "a.txt", "x/a.txt"},
		{"regex group alias", "[RegexGroup1]", Options{}, captures("1", "q"), "a.txt", "q/a.txt"},
		{"named group", "[group:year]", Options{}, captures("year", "1999"), "a.txt", "1999/a.txt"},
		{"detected type", "[DetectedFileType]/[YYYY]", Options{}, rules.MatchResult{}, "pic.png", "Images/2024/pic.png"},
		{"backslash separators", `a\[type]`, Options{}, rules.MatchResult{}, "x.txt", "a/TextFiles/x.txt"},
		{"missing ext trimmed", "[stem].[ext]", Options{}, rules.MatchResult{}, "Makefile", "Makefile"},
		{"dot components dropped", "./a/./b", Options{}, rules.MatchResult{}, "f", "a/b/f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := Parse(tt.template, tt.opts)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.template, err)
			}
			got, err := tmpl.Resolve(tt.match, file(tt.file))
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != filepath.FromSlash(tt.want) {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolve_UnresolvedReference(t *testing.T) {
	tests := []struct {
		name     string
		template string
		match    rules.MatchResult
	}{
		{"missing index", "[group2]/", captures("1", "2023")},
		{"no captures", "[group1]", rules.MatchResult{Matched: true}},
		{"missing name", "[group:client]", captures("1", "x")},
		{"empty capture", "[group1]/", captures("1", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := MustParse(tt.template)
			_, err := tmpl.Resolve(tt.match, file("a.txt"))
			if !cerrors.Is(err, cerrors.ErrUnresolvedReference) {
				t.Fatalf("Resolve() error = %v, want UNRESOLVED_REFERENCE", err)
			}
		})
	}
}

func TestResolve_UnresolvedNamesReference(t *testing.T) {
	_, err := MustParse("[group2]").Resolve(captures("1", "a"), file("a.txt"))
	cErr, ok := cerrors.As(err)
	if !ok {
		t.Fatalf("error = %v, want ChronoError", err)
	}
	if cErr.Details["reference"] != "group2" {
		t.Errorf("reference = %v, want group2", cErr.Details["reference"])
	}
}

func TestResolve_UnsafeTraversal(t *testing.T) {
	tmpl := MustParse("[group1]/")
	for _, v := range []string{"../../etc", "..", `..\..\windows`, "a/../../b"} {
		_, err := tmpl.Resolve(captures("1", v), file("passwd"))
		if !cerrors.Is(err, cerrors.ErrUnsafeTraversal) {
			t.Errorf("capture %q: error = %v, want UNSAFE_TRAVERSAL", v, err)
		}
	}
}

func TestResolve_CaptureWithSlashBecomesDirs(t *testing.T) {
	got, err := MustParse("[group1]").Resolve(captures("1", "a/b"), file("f.txt"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != filepath.FromSlash("a/b/f.txt") {
		t.Errorf("Resolve() = %q", got)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		template string
		opts     Options
	}{
		{"empty", "   ", Options{}},
		{"unknown token", "[colour]", Options{}},
		{"unclosed", "[group1", Options{}},
		{"nested", "[gro[up1]", Options{}},
		{"stray close", "a]b", Options{}},
		{"group zero", "[group0]", Options{}},
		{"group padded", "[group01]", Options{}},
		{"empty name", "[group:]", Options{}},
		{"absolute", "/etc/[group1]", Options{}},
		{"dotdot", "a/../b", Options{}},
		{"only separators", "./", Options{}},
		{"bad date source", "[YYYY]", Options{DateSource: "accessed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.template, tt.opts)
			if !cerrors.Is(err, cerrors.ErrInvalidTemplate) {
				t.Errorf("Parse(%q) error = %v, want INVALID_TEMPLATE", tt.template, err)
			}
		})
	}
}

func TestAppendsName(t *testing.T) {
	tests := map[string]bool{
		"[group1]":            true,
		"[group1]/":           true,
		"[group1]/[filename]": false,
		"[stem]_copy":         false,
		"out/notes.txt":       false,
		"out/.config":         true,
		"[YYYY]-report.pdf":   false,
	}
	for raw, want := range tests {
		if got := MustParse(raw).AppendsName(); got != want {
			t.Errorf("AppendsName(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestCaptureRefs(t *testing.T) {
	refs := MustParse("[group1]/[YYYY]/[group:kind]").CaptureRefs()
	if len(refs) != 2 || refs[0] != "group1" || refs[1] != "group:kind" {
		t.Errorf("CaptureRefs() = %v", refs)
	}
}

func TestJoinRoot(t *testing.T) {
	root := filepath.FromSlash("/dest")
	got, err := JoinRoot(root, filepath.FromSlash("2023/a.txt"))
	if err != nil {
		t.Fatalf("JoinRoot() error = %v", err)
	}
	if got != filepath.FromSlash("/dest/2023/a.txt") {
		t.Errorf("JoinRoot() = %q", got)
	}

	if _, err := JoinRoot(root, filepath.FromSlash("../etc/passwd")); !cerrors.Is(err, cerrors.ErrUnsafeTraversal) {
		t.Errorf("JoinRoot(..) error = %v, want UNSAFE_TRAVERSAL", err)
	}
	if _, err := JoinRoot(root, filepath.FromSlash("/etc/passwd")); !cerrors.Is(err, cerrors.ErrUnsafeTraversal) {
		t.Errorf("JoinRoot(abs) error = %v, want UNSAFE_TRAVERSAL", err)
	}
}
