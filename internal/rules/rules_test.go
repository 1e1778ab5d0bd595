package rules

import (
	"testing"
	"time"

	cerrors "github.com/hpungsan/chrono/internal/errors"
	"github.com/hpungsan/chrono/internal/fileinfo"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func meta(name string, size int64, mod time.Time) fileinfo.FileMeta {
	return fileinfo.New("/src/"+name, name, size, time.Time{}, mod)
}

func ptrTime(t time.Time) *time.Time { return &t }
func ptrInt(n int64) *int64          { return &n }

func mustSet(t *testing.T, opts Options, rules ...Rule) *RuleSet {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	rs, err := NewRuleSet(rules, opts)
	if err != nil {
		t.Fatalf("NewRuleSet() error = %v", err)
	}
	return rs
}

func TestEvaluate_NameRules(t *testing.T) {
	m := meta("Invoice_2023.PDF", 10, fixedNow)

	tests := []struct {
		name string
		rule Rule
		ci   bool
		want bool
	}{
		{"contains", NameContains("_2023"), false, true},
		{"contains case mismatch", NameContains("invoice"), false, false},
		{"contains case folded", NameContains("invoice"), true, true},
		{"starts with", NameStartsWith("Invoice"), false, true},
		{"ends with", NameEndsWith(".pdf"), true, true},
		{"ends with sensitive", NameEndsWith(".pdf"), false, false},
		{"exact", NameExact("Invoice_2023.PDF"), false, true},
		{"exact miss", NameExact("Invoice_2023"), false, false},
		{"glob", NameGlob("Invoice_*.PDF"), false, true},
		{"glob folded", NameGlob("invoice_*.pdf"), true, true},
		{"glob miss", NameGlob("*.txt"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := mustSet(t, Options{CaseInsensitive: tt.ci}, tt.rule)
			if got := rs.Evaluate(m).Matched; got != tt.want {
				t.Errorf("Matched = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_GlobOnRelPath(t *testing.T) {
	rs := mustSet(t, Options{}, NameGlob("**/2023/*.txt"))
	m := fileinfo.New("/src/docs/2023/a.txt", "docs/2023/a.txt", 1, time.Time{}, fixedNow)
	if !rs.Evaluate(m).Matched {
		t.Error("expected path glob to match")
	}
}

func TestEvaluate_RegexCaptures(t *testing.T) {
	rs := mustSet(t, Options{}, NameRegex(`invoice_(\d{4})\.txt`))

	res := rs.Evaluate(meta("invoice_2023.txt", 1, fixedNow))
	if !res.Matched {
		t.Fatal("expected match")
	}
	if v, ok := res.Lookup("1"); !ok || v != "2023" {
		t.Errorf("Lookup(1) = %q, %v; want 2023, true", v, ok)
	}
	if _, ok := res.Lookup("2"); ok {
		t.Error("Lookup(2) should be absent")
	}

	if rs.Evaluate(meta("receipt_2023.txt", 1, fixedNow)).Matched {
		t.Error("receipt should not match")
	}
}

func TestEvaluate_NamedAndOptionalGroups(t *testing.T) {
	rs := mustSet(t, Options{}, NameRegex(`^(?P<kind>[a-z]+)(-(?P<tag>\w+))?\.txt$`))

	res := rs.Evaluate(meta("notes.txt", 1, fixedNow))
	if !res.Matched {
		t.Fatal("expected match")
	}
	if v, _ := res.Lookup("kind"); v != "notes" {
		t.Errorf("Lookup(kind) = %q, want notes", v)
	}
	if _, ok := res.Lookup("tag"); ok {
		t.Error("non-participating group must be absent")
	}
	if _, ok := res.Lookup("2"); ok {
		t.Error("non-participating group 2 must be absent")
	}
}

func TestEvaluate_FirstCaptureWins(t *testing.T) {
	rs := mustSet(t, Options{},
		NameRegex(`^(\w+)_`),
		NameRegex(`_(\d+)\.`),
	)
	res := rs.Evaluate(meta("scan_42.png", 1, fixedNow))
	if v, _ := res.Lookup("1"); v != "scan" {
		t.Errorf("Lookup(1) = %q, want scan", v)
	}
}

func TestEvaluate_RegexCaseInsensitive(t *testing.T) {
	rs := mustSet(t, Options{CaseInsensitive: true}, NameRegex(`^img_(\d+)`))
	res := rs.Evaluate(meta("IMG_0042.jpg", 1, fixedNow))
	if v, _ := res.Lookup("1"); !res.Matched || v != "0042" {
		t.Errorf("res = %+v", res)
	}
}

func TestEvaluate_Extension(t *testing.T) {
	tests := []struct {
		name string
		exts []string
		file string
		want bool
	}{
		{"with dot", []string{".jpg"}, "a.JPG", true},
		{"without dot", []string{"png", "gif"}, "a.gif", true},
		{"miss", []string{"png"}, "a.jpg", false},
		{"mime prefix", []string{"image/"}, "a.jpeg", true},
		{"mime miss", []string{"video/"}, "a.jpeg", false},
		{"no extension", []string{"txt"}, "Makefile", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := mustSet(t, Options{}, Extension(tt.exts...))
			if got := rs.Evaluate(meta(tt.file, 1, fixedNow)).Matched; got != tt.want {
				t.Errorf("Matched = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_DateRange(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rule Rule
		mod  time.Time
		want bool
	}{
		{"inside", DateRange(DateModified, &jan, &mar), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), true},
		{"from inclusive", DateRange(DateModified, &jan, &mar), jan, true},
		{"to inclusive", DateRange(DateModified, &jan, &mar), mar, true},
		{"before", DateRange(DateModified, &jan, &mar), jan.Add(-time.Second), false},
		{"open end uses now", DateRange(DateModified, &jan, nil), fixedNow, true},
		{"after now", DateRange(DateModified, &jan, nil), fixedNow.Add(time.Hour), false},
		{"open start", DateRange(DateModified, nil, &mar), time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := mustSet(t, Options{}, tt.rule)
			if got := rs.Evaluate(meta("a.txt", 1, tt.mod)).Matched; got != tt.want {
				t.Errorf("Matched = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_DateRangeCreated(t *testing.T) {
	created := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	m := fileinfo.New("/src/a.txt", "a.txt", 1, created, fixedNow)

	from := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	if !mustSet(t, Options{}, DateRange(DateCreated, &from, &to)).Evaluate(m).Matched {
		t.Error("created date should match")
	}
	if mustSet(t, Options{}, DateRange(DateModified, &from, &to)).Evaluate(m).Matched {
		t.Error("modified date should not match")
	}
}

func TestEvaluate_SizeRange(t *testing.T) {
	rs := mustSet(t, Options{}, SizeRange(ptrInt(10), ptrInt(20)))
	for size, want := range map[int64]bool{9: false, 10: true, 15: true, 20: true, 21: false} {
		if got := rs.Evaluate(meta("a.bin", size, fixedNow)).Matched; got != want {
			t.Errorf("size %d: Matched = %v, want %v", size, got, want)
		}
	}
}

func TestEvaluate_Conjunction(t *testing.T) {
	rs := mustSet(t, Options{},
		NameRegex(`^(\d{4})-`),
		Extension("pdf"),
		SizeRange(nil, ptrInt(100)),
	)
	if !rs.Evaluate(meta("2023-tax.pdf", 50, fixedNow)).Matched {
		t.Error("all rules hold, expected match")
	}
	res := rs.Evaluate(meta("2023-tax.pdf", 500, fixedNow))
	if res.Matched || len(res.Captures) != 0 {
		t.Errorf("size rule fails, got %+v", res)
	}
}

func TestEvaluate_EmptySetMatchesAll(t *testing.T) {
	rs := mustSet(t, Options{})
	if !rs.Evaluate(meta("anything", 0, fixedNow)).Matched {
		t.Error("empty rule set should match")
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	rs := mustSet(t, Options{CaseInsensitive: true}, NameRegex(`(?P<y>\d{4})`), NameContains("INV"))
	m := meta("inv-2022-a.txt", 3, fixedNow)
	first := rs.Evaluate(m)
	for i := 0; i < 10; i++ {
		got := rs.Evaluate(m)
		if got.Matched != first.Matched || len(got.Captures) != len(first.Captures) || got.Captures[0] != first.Captures[0] {
			t.Fatalf("evaluation %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestNewRuleSet_Invalid(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dec := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rule Rule
		code cerrors.ErrorCode
	}{
		{"bad regex", NameRegex(`(unclosed`), cerrors.ErrInvalidPattern},
		{"bad glob", NameGlob(`[abc`), cerrors.ErrInvalidPattern},
		{"empty contains", NameContains(""), cerrors.ErrInvalidRule},
		{"empty regex", NameRegex(""), cerrors.ErrInvalidRule},
		{"negative size", SizeRange(ptrInt(-1), nil), cerrors.ErrInvalidRule},
		{"min over max", SizeRange(ptrInt(10), ptrInt(5)), cerrors.ErrInvalidRule},
		{"open size", SizeRange(nil, nil), cerrors.ErrInvalidRule},
		{"from after to", DateRange(DateModified, &jan, &dec), cerrors.ErrInvalidRule},
		{"bad date kind", DateRange("accessed", nil, ptrTime(jan)), cerrors.ErrInvalidRule},
		{"empty extensions", Extension(), cerrors.ErrInvalidRule},
		{"blank extensions", Extension(" ", "."), cerrors.ErrInvalidRule},
		{"unknown kind", Rule{Kind: "owner"}, cerrors.ErrInvalidRule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRuleSet([]Rule{tt.rule}, Options{})
			if !cerrors.Is(err, tt.code) {
				t.Errorf("NewRuleSet() error = %v, want %s", err, tt.code)
			}
		})
	}
}
