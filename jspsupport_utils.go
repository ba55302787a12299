// jspsupport/jspsupport_utils.go
package jspsupport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ============================================================================
// Logging Helpers
// ============================================================================

// ParseLogLevel converts a config string into a slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level '%s'", level)
	}
}

// ============================================================================
// Config File Helpers
// ============================================================================

// GetConfigPaths returns the primary (user config dir) and secondary (home
// dotfile) locations for the config file.
func GetConfigPaths(logger *slog.Logger) (primary string, secondary string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	var pathErrors []error

	userConfigDir, cfgErr := os.UserConfigDir()
	if cfgErr == nil {
		primary = filepath.Join(userConfigDir, configDirName, defaultConfigFileName)
	} else {
		pathErrors = append(pathErrors, fmt.Errorf("user config dir unavailable: %w", cfgErr))
		logger.Warn("Could not determine user config directory", "error", cfgErr)
	}

	homeDir, homeErr := os.UserHomeDir()
	if homeErr == nil {
		secondary = filepath.Join(homeDir, "."+configDirName, defaultConfigFileName)
	} else {
		pathErrors = append(pathErrors, fmt.Errorf("user home dir unavailable: %w", homeErr))
		logger.Warn("Could not determine user home directory", "error", homeErr)
	}

	if primary == "" && secondary == "" {
		return "", "", fmt.Errorf("%w: %w", ErrConfig, errors.Join(pathErrors...))
	}
	return primary, secondary, nil
}

// LoadAndMergeConfig reads a JSON config file and merges its set fields into
// cfg. Returns whether a file was found and loaded.
func LoadAndMergeConfig(path string, cfg *Config, logger *slog.Logger) (loaded bool, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading config file failed: %w", readErr)
	}

	var fileCfg FileConfig
	if unmarshalErr := json.Unmarshal(data, &fileCfg); unmarshalErr != nil {
		return true, fmt.Errorf("parsing config file JSON failed: %w", unmarshalErr)
	}

	merged := 0
	if fileCfg.DependencyCacheRoot != nil {
		cfg.DependencyCacheRoot = *fileCfg.DependencyCacheRoot
		merged++
	}
	if fileCfg.PlatformHome != nil {
		cfg.PlatformHome = *fileCfg.PlatformHome
		merged++
	}
	if fileCfg.PlatformPrefixes != nil {
		cfg.PlatformPrefixes = append([]string(nil), (*fileCfg.PlatformPrefixes)...)
		merged++
	}
	if fileCfg.SourceDirFallbacks != nil {
		cfg.SourceDirFallbacks = append([]string(nil), (*fileCfg.SourceDirFallbacks)...)
		merged++
	}
	if fileCfg.MaxDiscoveryDepth != nil {
		cfg.MaxDiscoveryDepth = *fileCfg.MaxDiscoveryDepth
		merged++
	}
	if fileCfg.LogLevel != nil {
		cfg.LogLevel = *fileCfg.LogLevel
		merged++
	}
	if fileCfg.MemoryCacheTTLSeconds != nil {
		cfg.MemoryCacheTTLSeconds = *fileCfg.MemoryCacheTTLSeconds
		merged++
	}
	logger.Debug("Merged config fields from file", "path", path, "fields", merged)
	return true, nil
}

// WriteDefaultConfig writes the default config as indented JSON, creating
// parent directories as needed.
func WriteDefaultConfig(path string, cfg Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory failed: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling default config failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("writing default config failed: %w", err)
	}
	logger.Info("Wrote default config file", "path", path)
	return nil
}

// ============================================================================
// URI Helpers
// ============================================================================

// ValidateAndGetFilePath converts a file:// URI into a cleaned absolute
// filesystem path, rejecting other schemes.
func ValidateAndGetFilePath(uri string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: cannot parse URI '%s': %w", ErrInvalidURI, uri, err)
	}
	if parsed.Scheme != "file" {
		return "", fmt.Errorf("%w: unsupported scheme '%s' in URI '%s'", ErrInvalidURI, parsed.Scheme, uri)
	}
	p := parsed.Path
	if p == "" {
		p = parsed.Opaque
	}
	decoded, decErr := url.PathUnescape(p)
	if decErr == nil {
		p = decoded
	}
	// Windows URIs carry a leading slash before the drive letter.
	if runtime.GOOS == "windows" && len(p) > 2 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	if p == "" {
		return "", fmt.Errorf("%w: empty path in URI '%s'", ErrInvalidURI, uri)
	}
	abs, absErr := filepath.Abs(filepath.FromSlash(p))
	if absErr != nil {
		return "", fmt.Errorf("%w: cannot resolve path '%s': %w", ErrInvalidURI, p, absErr)
	}
	return abs, nil
}

// PathToURI converts an absolute filesystem path to a file:// URI.
func PathToURI(path string) (DocumentURI, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: cannot make path absolute '%s': %w", ErrInvalidURI, path, err)
	}
	abs = filepath.ToSlash(abs)
	if !strings.HasPrefix(abs, "/") {
		abs = "/" + abs // Windows drive paths
	}
	u := url.URL{Scheme: "file", Path: abs}
	return DocumentURI(u.String()), nil
}
