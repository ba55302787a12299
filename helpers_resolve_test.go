// jspsupport/helpers_resolve_test.go
package jspsupport

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const resolveFixture = `
-- src/main/java/com/acme/Greeter.java --
package com.acme;

public class Greeter {
    public String hello() { return "hi"; }
    public String hello(String name) { return "hi " + name; }
}
-- src/main/java/com/acme/Texts.java --
package com.acme;

public final class Texts {
    public static String shorten(String s) { return s; }
}
`

const resolveDoc = `<%@ page import="com.acme.Greeter, com.acme.Texts" %>
<html>
<%!
String banner(int width) { return ""; }
%>
<%
Greeter g = new Greeter();
g.hello("world");
Texts.shorten(banner(3));
%>
</html>`

// newTestNavigator builds a Navigator with caches rooted in temp dirs and a
// workspace discovered from the fixture tree.
func newTestNavigator(t *testing.T) (*Navigator, string) {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	root := extractTxtar(t, t.TempDir(), resolveFixture)

	cfg := getDefaultConfig()
	cfg.DependencyCacheRoot = filepath.Join(root, "repo")
	cfg.PlatformHome = ""

	n, err := NewNavigatorWithConfig(cfg, slog.Default())
	if err != nil {
		t.Fatalf("NewNavigatorWithConfig failed: %v", err)
	}
	t.Cleanup(func() { n.Close() })

	n.SetWorkspace(&WorkspaceIndex{
		Root: root,
		SourceRoots: []SourceRoot{
			{ModulePath: root, SourcePath: filepath.Join(root, "src", "main", "java")},
		},
	})
	return n, root
}

// testDocURI writes the document into the workspace and returns its URI.
func testDocURI(t *testing.T, root, text string) DocumentURI {
	t.Helper()
	path := filepath.Join(root, "page.jsp")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("writing document: %v", err)
	}
	uri, err := PathToURI(path)
	if err != nil {
		t.Fatalf("PathToURI: %v", err)
	}
	return uri
}

func resolveAt(t *testing.T, n *Navigator, uri DocumentURI, text, marker string) *Location {
	t.Helper()
	offset := strings.Index(text, marker)
	if offset < 0 {
		t.Fatalf("marker %q not found", marker)
	}
	return n.ResolveDefinition(context.Background(), uri, text, 1, offset)
}

func TestResolveImportDirectiveEntry(t *testing.T) {
	n, root := newTestNavigator(t)
	uri := testDocURI(t, root, resolveDoc)

	// Cursor inside the second import entry resolves exactly that entry.
	loc := resolveAt(t, n, uri, resolveDoc, "acme.Texts\" %>")
	if loc == nil {
		t.Fatal("import entry did not resolve")
	}
	if !strings.HasSuffix(string(loc.URI), "com/acme/Texts.java") {
		t.Errorf("resolved URI = %q, want Texts.java", loc.URI)
	}
}

func TestResolveImportedClassReference(t *testing.T) {
	n, root := newTestNavigator(t)
	uri := testDocURI(t, root, resolveDoc)

	loc := resolveAt(t, n, uri, resolveDoc, "Greeter g =")
	if loc == nil {
		t.Fatal("class reference did not resolve")
	}
	if !strings.HasSuffix(string(loc.URI), "com/acme/Greeter.java") {
		t.Errorf("resolved URI = %q, want Greeter.java", loc.URI)
	}
	if loc.Range.Start.Line != 2 {
		t.Errorf("line = %d, want class declaration at 2", loc.Range.Start.Line)
	}
}

func TestResolveVariableMethodCall(t *testing.T) {
	n, root := newTestNavigator(t)
	uri := testDocURI(t, root, resolveDoc)

	// g.hello("world") has one argument, so the one-parameter overload wins.
	loc := resolveAt(t, n, uri, resolveDoc, `hello("world")`)
	if loc == nil {
		t.Fatal("variable method call did not resolve")
	}
	if !strings.HasSuffix(string(loc.URI), "com/acme/Greeter.java") {
		t.Errorf("resolved URI = %q, want Greeter.java", loc.URI)
	}
	if loc.Range.Start.Line != 4 {
		t.Errorf("line = %d, want one-arg overload at 4", loc.Range.Start.Line)
	}
}

func TestResolveStaticMethodCall(t *testing.T) {
	n, root := newTestNavigator(t)
	uri := testDocURI(t, root, resolveDoc)

	loc := resolveAt(t, n, uri, resolveDoc, "shorten(banner")
	if loc == nil {
		t.Fatal("static method call did not resolve")
	}
	if !strings.HasSuffix(string(loc.URI), "com/acme/Texts.java") {
		t.Errorf("resolved URI = %q, want Texts.java", loc.URI)
	}
	if loc.Range.Start.Line != 3 {
		t.Errorf("line = %d, want shorten declaration at 3", loc.Range.Start.Line)
	}
}

func TestResolveScriptFunction(t *testing.T) {
	n, root := newTestNavigator(t)
	uri := testDocURI(t, root, resolveDoc)

	loc := resolveAt(t, n, uri, resolveDoc, "banner(3)")
	if loc == nil {
		t.Fatal("script function did not resolve")
	}
	if string(loc.URI) != string(uri) {
		t.Errorf("resolved URI = %q, want same document %q", loc.URI, uri)
	}
	declLine := uint32(3) // "String banner(int width) ..." line in resolveDoc
	if loc.Range.Start.Line != declLine {
		t.Errorf("line = %d, want script declaration at %d", loc.Range.Start.Line, declLine)
	}
}

func TestResolveNothingUnderCursor(t *testing.T) {
	n, root := newTestNavigator(t)
	uri := testDocURI(t, root, resolveDoc)

	offset := strings.Index(resolveDoc, "<html>") + len("<html>")
	if loc := n.ResolveDefinition(context.Background(), uri, resolveDoc, 1, offset); loc != nil {
		t.Errorf("expected nil at markup position, got %v", loc)
	}
}

func TestResolveUnknownVariable(t *testing.T) {
	n, root := newTestNavigator(t)
	text := `<% unknown.call(); %>`
	uri := testDocURI(t, root, text)

	if loc := resolveAt(t, n, uri, text, "call"); loc != nil {
		t.Errorf("expected nil for undeclared variable receiver, got %v", loc)
	}
}

func TestImportEntryAt(t *testing.T) {
	text := `<body><%@ page import="a.B, c.D" %></body>`
	tests := []struct {
		name   string
		marker string
		want   string
		ok     bool
	}{
		{"First entry", "a.B", "a.B", true},
		{"Second entry", "c.D", "c.D", true},
		{"Outside directive", "<body>", "", false},
		{"Inside directive but outside value", "page", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset := strings.Index(text, tt.marker)
			got, ok := importEntryAt(text, offset)
			if ok != tt.ok || got != tt.want {
				t.Errorf("importEntryAt(marker %q) = (%q, %v), want (%q, %v)", tt.marker, got, ok, tt.want, tt.ok)
			}
		})
	}
}
