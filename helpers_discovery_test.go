// jspsupport/helpers_discovery_test.go
package jspsupport

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func testDiscoveryConfig() Config {
	cfg := getDefaultConfig()
	cfg.MaxDiscoveryDepth = 6
	return cfg
}

const rootPom = `<?xml version="1.0"?>
<project>
  <groupId>com.acme</groupId>
  <artifactId>shop</artifactId>
  <version>2.1.0</version>
  <properties>
    <commons.version>3.12.0</commons.version>
  </properties>
  <modules>
    <module>web</module>
  </modules>
  <dependencies>
    <dependency>
      <groupId>org.apache.commons</groupId>
      <artifactId>commons-lang3</artifactId>
      <version>${commons.version}</version>
    </dependency>
    <dependency>
      <groupId>${project.groupId}</groupId>
      <artifactId>shop-core</artifactId>
      <version>${project.version}</version>
    </dependency>
  </dependencies>
</project>
`

const webPom = `<?xml version="1.0"?>
<project>
  <parent>
    <groupId>com.acme</groupId>
    <version>2.1.0</version>
  </parent>
  <artifactId>shop-web</artifactId>
  <dependencies>
    <dependency>
      <groupId>org.apache.commons</groupId>
      <artifactId>commons-lang3</artifactId>
      <version>3.12.0</version>
    </dependency>
    <dependency>
      <groupId>jakarta.servlet</groupId>
      <artifactId>jakarta.servlet-api</artifactId>
      <version>6.0.0</version>
    </dependency>
  </dependencies>
</project>
`

func TestDiscoverWorkspace(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pom.xml"), rootPom)
	writeFile(t, filepath.Join(root, "src", "main", "java", "com", "acme", "App.java"),
		"package com.acme;\npublic class App {}\n")
	writeFile(t, filepath.Join(root, "web", "pom.xml"), webPom)
	writeFile(t, filepath.Join(root, "web", "src", "main", "java", "com", "acme", "web", "Page.java"),
		"package com.acme.web;\npublic class Page {}\n")

	idx := DiscoverWorkspace(root, testDiscoveryConfig(), slog.Default())

	if len(idx.SourceRoots) != 2 {
		t.Fatalf("source roots = %d, want 2 (%v)", len(idx.SourceRoots), idx.SourceRoots)
	}

	coords := make(map[DependencyCoordinate]bool)
	for _, c := range idx.Dependencies {
		coords[c] = true
	}
	want := []DependencyCoordinate{
		{GroupID: "org.apache.commons", ArtifactID: "commons-lang3", Version: "3.12.0"},
		{GroupID: "com.acme", ArtifactID: "shop-core", Version: "2.1.0"},
		{GroupID: "jakarta.servlet", ArtifactID: "jakarta.servlet-api", Version: "6.0.0"},
	}
	for _, w := range want {
		if !coords[w] {
			t.Errorf("missing coordinate %+v in %v", w, idx.Dependencies)
		}
	}
	// commons-lang3 appears in both descriptors; dedupe keeps one.
	if len(idx.Dependencies) != len(want) {
		t.Errorf("dependency count = %d, want %d (dedupe)", len(idx.Dependencies), len(want))
	}
}

func TestDiscoverWorkspaceHonorsGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".gitignore"), "vendor/\n")
	writeFile(t, filepath.Join(root, "pom.xml"), rootPom)
	writeFile(t, filepath.Join(root, "src", "main", "java", "placeholder.txt"), "")
	writeFile(t, filepath.Join(root, "vendor", "pom.xml"), webPom)
	writeFile(t, filepath.Join(root, "vendor", "src", "main", "java", "placeholder.txt"), "")

	idx := DiscoverWorkspace(root, testDiscoveryConfig(), slog.Default())
	for _, sr := range idx.SourceRoots {
		if filepath.Base(sr.ModulePath) == "vendor" {
			t.Errorf("gitignored module discovered: %+v", sr)
		}
	}
	for _, c := range idx.Dependencies {
		if c.ArtifactID == "jakarta.servlet-api" {
			t.Error("dependency from gitignored descriptor leaked into index")
		}
	}
}

func TestDiscoverWorkspaceDepthCeiling(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b", "c", "d")
	writeFile(t, filepath.Join(deep, "pom.xml"), rootPom)
	writeFile(t, filepath.Join(deep, "src", "main", "java", "placeholder.txt"), "")

	cfg := testDiscoveryConfig()
	cfg.MaxDiscoveryDepth = 2
	idx := DiscoverWorkspace(root, cfg, slog.Default())
	if len(idx.Dependencies) != 0 {
		t.Errorf("descriptor beyond depth ceiling was parsed: %v", idx.Dependencies)
	}
}

func TestDiscoverWorkspaceMalformedDescriptor(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pom.xml"), "<project><unclosed>")
	writeFile(t, filepath.Join(root, "src", "main", "java", "placeholder.txt"), "")

	idx := DiscoverWorkspace(root, testDiscoveryConfig(), slog.Default())
	// Malformed metadata falls back to conventional source directories.
	if len(idx.SourceRoots) != 1 {
		t.Fatalf("source roots = %d, want 1 fallback root", len(idx.SourceRoots))
	}
	if got := idx.SourceRoots[0].SourcePath; got != filepath.Join(root, "src", "main", "java") {
		t.Errorf("fallback source root = %q", got)
	}
	if len(idx.Dependencies) != 0 {
		t.Errorf("dependencies from malformed descriptor: %v", idx.Dependencies)
	}
}

func TestDiscoverWorkspaceNoDescriptors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "placeholder.txt"), "")

	idx := DiscoverWorkspace(root, testDiscoveryConfig(), slog.Default())
	if len(idx.SourceRoots) != 1 {
		t.Fatalf("source roots = %d, want conventional fallback", len(idx.SourceRoots))
	}
	if got := idx.SourceRoots[0].SourcePath; got != filepath.Join(root, "src") {
		t.Errorf("fallback source root = %q, want %q", got, filepath.Join(root, "src"))
	}
}

func TestResolvePlaceholders(t *testing.T) {
	props := map[string]string{
		"project.version": "1.2.3",
		"indirect":        "${project.version}",
	}
	tests := []struct{ in, want string }{
		{"plain", "plain"},
		{"${project.version}", "1.2.3"},
		{"lib-${project.version}", "lib-1.2.3"},
		{"${indirect}", "1.2.3"},
		{"${unknown}", ""},
		{"${unterminated", ""},
	}
	for _, tt := range tests {
		if got := resolvePlaceholders(tt.in, props); got != tt.want {
			t.Errorf("resolvePlaceholders(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSourceArchivePath(t *testing.T) {
	coord := DependencyCoordinate{GroupID: "org.apache.commons", ArtifactID: "commons-lang3", Version: "3.12.0"}
	got := coord.sourceArchivePath("/repo")
	want := filepath.Join("/repo", "org", "apache", "commons", "commons-lang3", "3.12.0", "commons-lang3-3.12.0-sources.jar")
	if got != want {
		t.Errorf("sourceArchivePath = %q, want %q", got, want)
	}
}
