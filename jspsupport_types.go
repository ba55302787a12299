// jspsupport/jspsupport_types.go
// Contains core type definitions used throughout the jspsupport package.
package jspsupport

import (
	"errors"
	"fmt"
	stdslog "log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// =============================================================================
// Configuration Types & Constants
// =============================================================================

const (
	defaultLogLevel           = "info"
	defaultMemoryCacheTTLSecs = 300          // TTL for memory cache items (5 minutes).
	defaultConfigFileName     = "config.json"
	configDirName             = "jspsupport" // Subdirectory name for config/data.
	cacheSchemaVersion        = 1            // Used to invalidate the archive index if internal formats change.

	defaultDiscoveryDepth = 12 // Hard recursion ceiling for pom.xml discovery.

	// sourceFileExt is the extension appended when mapping a fully-qualified
	// name onto a source tree or archive entry.
	sourceFileExt = ".java"

	// importWindowSize is how far back wordAt looks for an unterminated
	// import preceding the expanded word.
	importWindowSize = 50

	// directiveSearchWindow bounds the scan for the enclosing <%@ ... %>
	// block around the cursor.
	directiveSearchWindow = 300
)

// defaultPlatformPrefixes are the reserved namespace prefixes served by the
// platform source archive ($JAVA_HOME/lib/src.zip).
var defaultPlatformPrefixes = []string{"java.", "javax.", "jakarta.", "jdk.", "sun.", "com.sun."}

// defaultSourceDirs are the conventional source directories tried, in order,
// under a module directory when build metadata is absent or malformed.
var defaultSourceDirs = []string{"src/main/java", "src/java", "src"}

// Config holds the active configuration for the navigation service.
type Config struct {
	DependencyCacheRoot   string        `json:"dependency_cache_root"`    // Local dependency source-archive cache (Maven repository layout).
	PlatformHome          string        `json:"platform_home"`            // Platform install root; lib/src.zip is looked up beneath it. Empty disables tier 3.
	PlatformPrefixes      []string      `json:"platform_prefixes"`        // Namespace prefixes eligible for the platform archive.
	SourceDirFallbacks    []string      `json:"source_dir_fallbacks"`     // Conventional source dirs when metadata is malformed.
	MaxDiscoveryDepth     int           `json:"max_discovery_depth"`      // Recursion ceiling for workspace metadata discovery.
	LogLevel              string        `json:"log_level"`                // Log level (debug, info, warn, error).
	MemoryCacheTTLSeconds int           `json:"memory_cache_ttl_seconds"` // TTL for memory cache items.
	MemoryCacheTTL        time.Duration `json:"-"`                        // Derived duration, not from file.
}

// FileConfig represents the structure of the JSON config file for unmarshalling.
// Uses pointers to distinguish between unset fields and zero-value fields.
type FileConfig struct {
	DependencyCacheRoot   *string   `json:"dependency_cache_root"`
	PlatformHome          *string   `json:"platform_home"`
	PlatformPrefixes      *[]string `json:"platform_prefixes"`
	SourceDirFallbacks    *[]string `json:"source_dir_fallbacks"`
	MaxDiscoveryDepth     *int      `json:"max_discovery_depth"`
	LogLevel              *string   `json:"log_level"`
	MemoryCacheTTLSeconds *int      `json:"memory_cache_ttl_seconds"`
}

// getDefaultConfig returns a new instance of the default configuration.
// The dependency cache root follows the Maven convention (~/.m2/repository);
// the platform home comes from JAVA_HOME when set.
func getDefaultConfig() Config {
	ttl := time.Duration(defaultMemoryCacheTTLSecs) * time.Second
	cacheRoot := ""
	if home, err := os.UserHomeDir(); err == nil {
		cacheRoot = filepath.Join(home, ".m2", "repository")
	}
	return Config{
		DependencyCacheRoot:   cacheRoot,
		PlatformHome:          os.Getenv("JAVA_HOME"),
		PlatformPrefixes:      append([]string(nil), defaultPlatformPrefixes...),
		SourceDirFallbacks:    append([]string(nil), defaultSourceDirs...),
		MaxDiscoveryDepth:     defaultDiscoveryDepth,
		LogLevel:              defaultLogLevel,
		MemoryCacheTTLSeconds: defaultMemoryCacheTTLSecs,
		MemoryCacheTTL:        ttl,
	}
}

// Validate checks if configuration values are valid, applying defaults for
// repairable fields.
func (c *Config) Validate(logger *stdslog.Logger) error {
	var validationErrors []error
	if logger == nil {
		logger = stdslog.Default()
	}
	tempDefault := getDefaultConfig()

	if strings.TrimSpace(c.DependencyCacheRoot) == "" {
		logger.Warn("Config validation: dependency_cache_root is empty, applying default.", "default", tempDefault.DependencyCacheRoot)
		c.DependencyCacheRoot = tempDefault.DependencyCacheRoot
	}
	if len(c.PlatformPrefixes) == 0 {
		logger.Warn("Config validation: platform_prefixes is empty, applying default.", "default", tempDefault.PlatformPrefixes)
		c.PlatformPrefixes = append([]string(nil), tempDefault.PlatformPrefixes...)
	}
	for i, p := range c.PlatformPrefixes {
		if !strings.HasSuffix(p, ".") {
			validationErrors = append(validationErrors, fmt.Errorf("platform prefix %q must end with a dot", p))
			c.PlatformPrefixes[i] = p + "."
		}
	}
	if len(c.SourceDirFallbacks) == 0 {
		logger.Warn("Config validation: source_dir_fallbacks is empty, applying default.", "default", tempDefault.SourceDirFallbacks)
		c.SourceDirFallbacks = append([]string(nil), tempDefault.SourceDirFallbacks...)
	}
	if c.MaxDiscoveryDepth <= 0 {
		logger.Warn("Config validation: max_discovery_depth is not positive, applying default.", "configured_value", c.MaxDiscoveryDepth, "default", tempDefault.MaxDiscoveryDepth)
		c.MaxDiscoveryDepth = tempDefault.MaxDiscoveryDepth
	}
	if c.MemoryCacheTTLSeconds <= 0 {
		logger.Warn("Config validation: memory_cache_ttl_seconds is not positive, applying default.", "configured_value", c.MemoryCacheTTLSeconds, "default", tempDefault.MemoryCacheTTLSeconds)
		c.MemoryCacheTTLSeconds = tempDefault.MemoryCacheTTLSeconds
	}
	c.MemoryCacheTTL = time.Duration(c.MemoryCacheTTLSeconds) * time.Second

	if c.LogLevel == "" {
		logger.Warn("Config validation: log_level is empty, applying default.", "default", defaultLogLevel)
		c.LogLevel = defaultLogLevel
	} else if _, err := ParseLogLevel(c.LogLevel); err != nil {
		logger.Warn("Config validation: Invalid log_level found, applying default.", "configured_value", c.LogLevel, "default", defaultLogLevel, "error", err)
		validationErrors = append(validationErrors, fmt.Errorf("invalid log_level '%s': %w", c.LogLevel, err))
		c.LogLevel = defaultLogLevel
	}

	if len(validationErrors) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(validationErrors...))
	}
	return nil
}

// =============================================================================
// Workspace Types
// =============================================================================

// SourceRoot is one directory tree whose layout mirrors package structure.
// ModulePath is the module directory the root belongs to (used for ordering
// roots relative to the requesting document); SourcePath is the tree itself.
type SourceRoot struct {
	ModulePath string
	SourcePath string
}

// DependencyCoordinate identifies one external library whose source archive
// may be present in the local dependency cache.
type DependencyCoordinate struct {
	GroupID    string
	ArtifactID string
	Version    string
}

// sourceArchivePath maps a coordinate onto the deterministic location of its
// sources archive inside the dependency cache.
func (d DependencyCoordinate) sourceArchivePath(cacheRoot string) string {
	segs := append([]string{cacheRoot}, strings.Split(d.GroupID, ".")...)
	segs = append(segs, d.ArtifactID, d.Version,
		fmt.Sprintf("%s-%s-sources.jar", d.ArtifactID, d.Version))
	return filepath.Join(segs...)
}

// WorkspaceIndex is the per-session output of source-root discovery: the
// ranked source roots and the deduplicated dependency coordinates. It is
// immutable once constructed.
type WorkspaceIndex struct {
	Root         string
	SourceRoots  []SourceRoot
	Dependencies []DependencyCoordinate
}

// VariableDeclaration is one scripting-variable declaration found in a
// document's embedded-code regions.
type VariableDeclaration struct {
	Name string
	Type string
}

// documentFacts holds the lightweight parse results cached per open document.
// An instance is valid only while its Version equals the document's current
// version; any mismatch forces re-derivation.
type documentFacts struct {
	Version   int
	Variables []VariableDeclaration
	Imports   map[string]string // simple name -> fully-qualified name
}
