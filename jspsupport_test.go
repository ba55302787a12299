// jspsupport/jspsupport_test.go
package jspsupport

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setTestConfigEnv points every user-dir lookup at throwaway directories so
// config tests never touch the real ones.
func setTestConfigEnv(t *testing.T) (configDir, homeDir string) {
	t.Helper()
	configDir = t.TempDir()
	homeDir = t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("HOME", homeDir)
	t.Setenv("JAVA_HOME", "")
	return configDir, homeDir
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		check   func(t *testing.T, c Config)
	}{
		{
			name:   "Empty cache root repaired silently",
			mutate: func(c *Config) { c.DependencyCacheRoot = "" },
			check: func(t *testing.T, c Config) {
				if c.DependencyCacheRoot == "" {
					t.Error("DependencyCacheRoot not repaired")
				}
			},
		},
		{
			name:    "Prefix without trailing dot repaired with error",
			mutate:  func(c *Config) { c.PlatformPrefixes = []string{"java"} },
			wantErr: true,
			check: func(t *testing.T, c Config) {
				if c.PlatformPrefixes[0] != "java." {
					t.Errorf("prefix = %q, want %q", c.PlatformPrefixes[0], "java.")
				}
			},
		},
		{
			name:   "Non-positive depth repaired",
			mutate: func(c *Config) { c.MaxDiscoveryDepth = 0 },
			check: func(t *testing.T, c Config) {
				if c.MaxDiscoveryDepth != defaultDiscoveryDepth {
					t.Errorf("MaxDiscoveryDepth = %d, want %d", c.MaxDiscoveryDepth, defaultDiscoveryDepth)
				}
			},
		},
		{
			name:    "Invalid log level repaired with error",
			mutate:  func(c *Config) { c.LogLevel = "chatty" },
			wantErr: true,
			check: func(t *testing.T, c Config) {
				if c.LogLevel != defaultLogLevel {
					t.Errorf("LogLevel = %q, want %q", c.LogLevel, defaultLogLevel)
				}
			},
		},
		{
			name:   "TTL derived from seconds",
			mutate: func(c *Config) { c.MemoryCacheTTLSeconds = 42 },
			check: func(t *testing.T, c Config) {
				if c.MemoryCacheTTL != 42*time.Second {
					t.Errorf("MemoryCacheTTL = %v, want 42s", c.MemoryCacheTTL)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getDefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate(nil)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
				}
			} else if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoadAndMergeConfig(t *testing.T) {
	t.Run("Missing file", func(t *testing.T) {
		cfg := getDefaultConfig()
		loaded, err := LoadAndMergeConfig(filepath.Join(t.TempDir(), "absent.json"), &cfg, nil)
		if loaded || err != nil {
			t.Errorf("loaded=%v err=%v, want false/nil", loaded, err)
		}
	})

	t.Run("Malformed JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		if err := os.WriteFile(path, []byte("{not json"), 0o640); err != nil {
			t.Fatal(err)
		}
		cfg := getDefaultConfig()
		loaded, err := LoadAndMergeConfig(path, &cfg, nil)
		if !loaded {
			t.Error("loaded = false, want true for an existing file")
		}
		if err == nil || !strings.Contains(err.Error(), "parsing config file JSON") {
			t.Errorf("err = %v, want JSON parse error", err)
		}
	})

	t.Run("Partial merge keeps unset fields", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		content := `{"log_level": "debug", "max_discovery_depth": 5}`
		if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
			t.Fatal(err)
		}
		cfg := getDefaultConfig()
		originalRoot := cfg.DependencyCacheRoot
		loaded, err := LoadAndMergeConfig(path, &cfg, nil)
		if !loaded || err != nil {
			t.Fatalf("loaded=%v err=%v", loaded, err)
		}
		if cfg.LogLevel != "debug" || cfg.MaxDiscoveryDepth != 5 {
			t.Errorf("merged fields wrong: level=%q depth=%d", cfg.LogLevel, cfg.MaxDiscoveryDepth)
		}
		if cfg.DependencyCacheRoot != originalRoot {
			t.Errorf("DependencyCacheRoot changed to %q despite being unset in file", cfg.DependencyCacheRoot)
		}
	})
}

func TestLoadConfigWritesDefaultWhenAbsent(t *testing.T) {
	configDir, _ := setTestConfigEnv(t)

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want default", cfg.LogLevel)
	}
	written := filepath.Join(configDir, configDirName, defaultConfigFileName)
	if _, statErr := os.Stat(written); statErr != nil {
		t.Errorf("default config not written to %s: %v", written, statErr)
	}
}

func TestLoadConfigMergesExistingFile(t *testing.T) {
	configDir, _ := setTestConfigEnv(t)
	path := filepath.Join(configDir, configDirName, defaultConfigFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"log_level": "warn"}`), 0o640); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "warn")
	}
}

func TestLoadConfigRecoversFromCorruptFile(t *testing.T) {
	configDir, _ := setTestConfigEnv(t)
	path := filepath.Join(configDir, configDirName, defaultConfigFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{broken"), 0o640); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(nil)
	if !errors.Is(err, ErrConfig) {
		t.Errorf("err = %v, want ErrConfig", err)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want default after corrupt file", cfg.LogLevel)
	}
	data, readErr := os.ReadFile(path)
	if readErr != nil || !strings.Contains(string(data), "log_level") {
		t.Errorf("corrupt file not replaced with defaults (read err %v)", readErr)
	}
}

func TestUpdateConfig(t *testing.T) {
	n, _ := newTestNavigator(t)

	t.Run("Valid update applied", func(t *testing.T) {
		cfg := n.GetCurrentConfig()
		cfg.MemoryCacheTTLSeconds = 10
		if err := n.UpdateConfig(cfg); err != nil {
			t.Fatalf("UpdateConfig() error: %v", err)
		}
		got := n.GetCurrentConfig()
		if got.MemoryCacheTTL != 10*time.Second {
			t.Errorf("MemoryCacheTTL = %v, want 10s", got.MemoryCacheTTL)
		}
	})

	t.Run("Invalid update rejected", func(t *testing.T) {
		before := n.GetCurrentConfig()
		cfg := before
		cfg.LogLevel = "chatty"
		if err := n.UpdateConfig(cfg); err == nil {
			t.Fatal("UpdateConfig() accepted an invalid log level")
		}
		after := n.GetCurrentConfig()
		if after.LogLevel != before.LogLevel {
			t.Errorf("LogLevel changed to %q after rejected update", after.LogLevel)
		}
	})
}

func TestGetCurrentConfigIsACopy(t *testing.T) {
	n, _ := newTestNavigator(t)

	cfg := n.GetCurrentConfig()
	if len(cfg.PlatformPrefixes) == 0 {
		t.Fatal("expected default platform prefixes")
	}
	cfg.PlatformPrefixes[0] = "mutated."

	again := n.GetCurrentConfig()
	if again.PlatformPrefixes[0] == "mutated." {
		t.Error("mutation of the returned slice leaked into the service config")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"debug", "DEBUG", false},
		{" WARN ", "WARN", false},
		{"warning", "WARN", false},
		{"error", "ERROR", false},
		{"verbose", "INFO", true},
	}
	for _, tt := range tests {
		level, err := ParseLogLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if level.String() != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, level, tt.want)
		}
	}
}

func TestValidateAndGetFilePath(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		want    string
		wantErr bool
	}{
		{"Plain file URI", "file:///work/src/Page.jsp", "/work/src/Page.jsp", false},
		{"Percent-encoded path", "file:///work/my%20dir/Page.jsp", "/work/my dir/Page.jsp", false},
		{"Wrong scheme", "http://host/file.jsp", "", true},
		{"Empty path", "file://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateAndGetFilePath(tt.uri, nil)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidURI) {
					t.Errorf("err = %v, want ErrInvalidURI", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != filepath.FromSlash(tt.want) {
				t.Errorf("path = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPathToURIRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages", "index.jsp")
	uri, err := PathToURI(path)
	if err != nil {
		t.Fatalf("PathToURI() error: %v", err)
	}
	if !strings.HasPrefix(string(uri), "file://") {
		t.Errorf("uri = %q, want file scheme", uri)
	}
	back, err := ValidateAndGetFilePath(string(uri), nil)
	if err != nil {
		t.Fatalf("ValidateAndGetFilePath() error: %v", err)
	}
	if back != path {
		t.Errorf("round trip = %q, want %q", back, path)
	}
}

func TestLspPositionToByteOffset(t *testing.T) {
	content := []byte("héllo\nwörld")

	tests := []struct {
		name    string
		pos     Position
		want    int
		wantErr error
	}{
		{"Start of file", Position{Line: 0, Character: 0}, 0, nil},
		{"Multibyte on first line", Position{Line: 0, Character: 2}, 3, nil},
		{"Start of second line", Position{Line: 1, Character: 0}, 7, nil},
		{"Multibyte on second line", Position{Line: 1, Character: 2}, 10, nil},
		{"Character past line end clamps", Position{Line: 0, Character: 99}, 6, nil},
		{"Line past end of file", Position{Line: 5, Character: 0}, -1, ErrPositionOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LspPositionToByteOffset(content, tt.pos)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("offset = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSpanToLocation(t *testing.T) {
	content := []byte("package a;\npublic class B {}\n")
	start := strings.Index(string(content), "B")
	path := filepath.Join(t.TempDir(), "B.java")

	loc, err := spanToLocation(path, content, start, start+1, nil)
	if err != nil {
		t.Fatalf("spanToLocation() error: %v", err)
	}
	if loc.Range.Start.Line != 1 || loc.Range.Start.Character != 13 {
		t.Errorf("start = %d:%d, want 1:13", loc.Range.Start.Line, loc.Range.Start.Character)
	}
	if loc.Range.End.Line != 1 || loc.Range.End.Character != 14 {
		t.Errorf("end = %d:%d, want 1:14", loc.Range.End.Line, loc.Range.End.Character)
	}
	if !strings.HasSuffix(string(loc.URI), "/B.java") {
		t.Errorf("uri = %q, want B.java suffix", loc.URI)
	}
}
