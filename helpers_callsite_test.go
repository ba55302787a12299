// jspsupport/helpers_callsite_test.go
package jspsupport

import (
	"strings"
	"testing"
)

func TestCountCallArguments(t *testing.T) {
	tests := []struct {
		name string
		call string
		want int
	}{
		{"Empty argument list", "f()", 0},
		{"Whitespace only", "f(  \n )", 0},
		{"Single argument", "f(a)", 1},
		{"Two arguments", "f(a, b)", 2},
		{"Nested call hides its commas", "f(a, g(b, c), d)", 3},
		{"Comma inside string literal", `f(a, "x,y")`, 2},
		{"Comma inside char literal", "f(a, ',')", 2},
		{"Escaped quote inside string", `f("a\",b", c)`, 2},
		{"Brackets hide commas", "f(new int[]{1, 2}, b)", 2},
		{"Unterminated call returns accumulated count", "f(a, b", 2},
		{"Mixed nesting", `f(a, g(b, "x,(y"), h[i, j])`, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			open := strings.IndexByte(tt.call, '(')
			got := countCallArguments(tt.call, open)
			if got != tt.want {
				t.Errorf("countCallArguments(%q) = %d, want %d", tt.call, got, tt.want)
			}
		})
	}
}

func TestCountCallArgumentsInvalidOffset(t *testing.T) {
	if got := countCallArguments("f(a)", -1); got != 0 {
		t.Errorf("negative offset: got %d, want 0", got)
	}
	if got := countCallArguments("f(a)", 0); got != 0 {
		t.Errorf("offset not at paren: got %d, want 0", got)
	}
}

func TestFindNearestCallSite(t *testing.T) {
	text := "<% list.add(1); %>\n" +
		"<p>filler text to separate the calls</p>\n" +
		"<% list.add(1, 2); doSomething(); %>\n"

	firstParen := strings.Index(text, "add(1)") + len("add")
	secondParen := strings.Index(text, "add(1, 2)") + len("add")

	tests := []struct {
		name   string
		cursor int
		want   int
	}{
		{"Cursor at first call", firstParen, firstParen},
		{"Cursor at second call", secondParen, secondParen},
		{"Cursor before everything picks first", 0, firstParen},
		{"Cursor at end picks second", len(text), secondParen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := findNearestCallSite(text, "list", "add", tt.cursor)
			if got != tt.want {
				t.Errorf("findNearestCallSite(cursor=%d) = %d, want %d", tt.cursor, got, tt.want)
			}
		})
	}

	if got := findNearestCallSite(text, "list", "remove", 0); got != -1 {
		t.Errorf("expected -1 for absent call site, got %d", got)
	}
	if got := findNearestCallSite(text, "", "add", 0); got != -1 {
		t.Errorf("expected -1 for empty receiver, got %d", got)
	}
}

func TestFindNearestCallSiteTieIsFirstFound(t *testing.T) {
	// Call sites start at offsets 0 and 8; a cursor at offset 4 is
	// equidistant from both, so the first occurrence wins.
	text := "a.b(1)xxa.b(2)"
	if got := findNearestCallSite(text, "a", "b", 4); got != 3 {
		t.Errorf("nearest = %d, want opening paren of first call at 3", got)
	}
}

func TestPickByParamCount(t *testing.T) {
	tests := []struct {
		name   string
		counts []int
		want   int
		pick   int
	}{
		{"Exact match", []int{0, 1, 2}, 1, 1},
		{"Exact match prefers earliest exact", []int{2, 1, 1}, 1, 1},
		{"Nearest below", []int{0, 3}, 2, 1},
		{"Nearest above", []int{5, 1}, 2, 1},
		{"Tie resolves to first scanned", []int{1, 3}, 2, 0},
		{"Empty candidates", nil, 1, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickByParamCount(tt.counts, tt.want); got != tt.pick {
				t.Errorf("pickByParamCount(%v, %d) = %d, want %d", tt.counts, tt.want, got, tt.pick)
			}
		})
	}
}

func TestLineAt(t *testing.T) {
	text := "first\nsecond\nthird"
	start, end := lineAt(text, strings.Index(text, "cond"))
	if text[start:end] != "second" {
		t.Errorf("lineAt returned %q, want %q", text[start:end], "second")
	}
	start, end = lineAt(text, 0)
	if text[start:end] != "first" {
		t.Errorf("lineAt at start returned %q, want %q", text[start:end], "first")
	}
	start, end = lineAt(text, len(text))
	if text[start:end] != "third" {
		t.Errorf("lineAt at end returned %q, want %q", text[start:end], "third")
	}
}
