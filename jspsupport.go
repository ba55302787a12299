// jspsupport is an editor-integration service for JSP-like template files:
// go-to-definition from embedded code into workspace sources, dependency
// source archives, and the platform source archive, plus light directive
// completion.
package jspsupport

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto"
)

// =============================================================================
// Configuration Loading
// =============================================================================

// LoadConfig loads configuration from standard locations, merges with
// defaults, validates, and attempts to write a default config if needed.
func LoadConfig(logger *slog.Logger) (Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := getDefaultConfig()
	var loadedFromFile bool
	var loadErrors []error
	var configParseError error

	primaryPath, secondaryPath, pathErr := GetConfigPaths(logger)
	if pathErr != nil {
		loadErrors = append(loadErrors, pathErr)
		logger.Warn("Could not determine config paths, using defaults", "error", pathErr)
	}

	if primaryPath != "" {
		logger.Debug("Attempting to load config", "path", primaryPath)
		loaded, loadErr := LoadAndMergeConfig(primaryPath, &cfg, logger)
		if loadErr != nil {
			if strings.Contains(loadErr.Error(), "parsing config file JSON") {
				configParseError = loadErr
			}
			loadErrors = append(loadErrors, fmt.Errorf("loading %s failed: %w", primaryPath, loadErr))
			logger.Warn("Failed to load or merge config", "path", primaryPath, "error", loadErr)
		} else if loaded {
			loadedFromFile = true
			logger.Info("Loaded config", "path", primaryPath)
		}
	}

	primaryNotFoundOrFailed := !loadedFromFile || configParseError != nil
	if primaryNotFoundOrFailed && secondaryPath != "" && secondaryPath != primaryPath {
		logger.Debug("Attempting to load config from secondary path", "path", secondaryPath)
		loaded, loadErr := LoadAndMergeConfig(secondaryPath, &cfg, logger)
		if loadErr != nil {
			if configParseError == nil && strings.Contains(loadErr.Error(), "parsing config file JSON") {
				configParseError = loadErr
			}
			loadErrors = append(loadErrors, fmt.Errorf("loading %s failed: %w", secondaryPath, loadErr))
			logger.Warn("Failed to load or merge config", "path", secondaryPath, "error", loadErr)
		} else if loaded && !loadedFromFile {
			loadedFromFile = true
			logger.Info("Loaded config", "path", secondaryPath)
		}
	}

	loadSucceeded := loadedFromFile && configParseError == nil
	if !loadSucceeded {
		writePath := primaryPath
		if writePath == "" {
			writePath = secondaryPath
		}

		if writePath != "" {
			if configParseError != nil {
				logger.Warn("Existing config file failed to parse. Attempting to write default.", "path", writePath, "error", configParseError)
			} else {
				logger.Info("No valid config file found. Attempting to write default.", "path", writePath)
			}
			if err := WriteDefaultConfig(writePath, getDefaultConfig(), logger); err != nil {
				logger.Warn("Failed to write default config", "path", writePath, "error", err)
				loadErrors = append(loadErrors, fmt.Errorf("writing default config failed: %w", err))
			}
		} else {
			logger.Warn("Cannot determine path to write default config.")
			loadErrors = append(loadErrors, errors.New("cannot determine default config path"))
		}
		cfg = getDefaultConfig()
		logger.Info("Using default configuration values.")
	}

	finalCfg := cfg
	if err := finalCfg.Validate(logger); err != nil {
		logger.Error("Final configuration is invalid, falling back to pure defaults.", "error", err)
		loadErrors = append(loadErrors, fmt.Errorf("post-load config validation failed: %w", err))
		pureDefault := getDefaultConfig()
		if valErr := pureDefault.Validate(logger); valErr != nil {
			logger.Error("FATAL: Default config definition is invalid", "error", valErr)
			return pureDefault, fmt.Errorf("default config definition is invalid: %w", valErr)
		}
		finalCfg = pureDefault
	}

	if len(loadErrors) > 0 {
		return finalCfg, fmt.Errorf("%w: %w", ErrConfig, errors.Join(loadErrors...))
	}
	return finalCfg, nil
}

// =============================================================================
// Navigator Service
// =============================================================================

// Navigator is the session object owning every resolver component: the
// per-document facts cache, the archive set with its persistent entry
// index, the declaration locator, and the current workspace index. One
// Navigator serves one editor session.
type Navigator struct {
	config   Config
	configMu sync.RWMutex

	workspace   *WorkspaceIndex
	workspaceMu sync.RWMutex

	docs     *documentCache
	archives *archiveSet
	locator  *declarationLocator

	completer   MarkupCompleter
	completerMu sync.RWMutex

	logger *slog.Logger
}

// NewNavigator loads configuration from standard paths and builds the
// service. Non-fatal config load issues are logged and the service starts
// with repaired or default values.
func NewNavigator(logger *slog.Logger) (*Navigator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	serviceLogger := logger.With("service", "Navigator")

	cfg, configErr := LoadConfig(serviceLogger)
	if configErr != nil && !errors.Is(configErr, ErrConfig) {
		return nil, fmt.Errorf("fatal error loading initial config: %w", configErr)
	}
	if configErr != nil {
		serviceLogger.Warn("Initial config load reported issues, continuing with effective config", "error", configErr)
	}

	return NewNavigatorWithConfig(cfg, serviceLogger)
}

// NewNavigatorWithConfig builds the service from an explicit configuration.
func NewNavigatorWithConfig(config Config, logger *slog.Logger) (*Navigator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	serviceLogger := logger.With("service", "Navigator")

	if err := config.Validate(serviceLogger); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	docs, err := newDocumentCache(config.MemoryCacheTTL, serviceLogger)
	if err != nil {
		return nil, fmt.Errorf("initializing document cache: %w", err)
	}

	archives, err := newArchiveSet(archiveIndexPath(serviceLogger), serviceLogger)
	if err != nil {
		docs.close()
		return nil, fmt.Errorf("initializing archive set: %w", err)
	}

	n := &Navigator{
		config:    config,
		docs:      docs,
		archives:  archives,
		completer: noopMarkupCompleter{},
		logger:    serviceLogger,
	}
	n.locator = newDeclarationLocator(archives, serviceLogger)
	serviceLogger.Info("Navigator service created",
		slog.Group("config",
			slog.String("dependency_cache_root", config.DependencyCacheRoot),
			slog.String("platform_home", config.PlatformHome),
			slog.String("log_level", config.LogLevel),
			slog.Int("max_discovery_depth", config.MaxDiscoveryDepth),
			slog.Int("memory_cache_ttl_seconds", config.MemoryCacheTTLSeconds),
		),
	)
	return n, nil
}

// archiveIndexPath picks the on-disk location for the persistent archive
// entry index. An empty return disables the index.
func archiveIndexPath(logger *slog.Logger) string {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		logger.Warn("Cannot determine user cache directory, archive index disabled", "error", err)
		return ""
	}
	dir := filepath.Join(cacheDir, configDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("Cannot create cache directory, archive index disabled", "path", dir, "error", err)
		return ""
	}
	return filepath.Join(dir, fmt.Sprintf("archive-index-v%d.db", cacheSchemaVersion))
}

// SetWorkspace installs the index produced by workspace discovery.
func (n *Navigator) SetWorkspace(idx *WorkspaceIndex) {
	n.workspaceMu.Lock()
	n.workspace = idx
	n.workspaceMu.Unlock()
	if idx != nil {
		n.logger.Info("Workspace installed", "root", idx.Root,
			"sourceRoots", len(idx.SourceRoots), "dependencies", len(idx.Dependencies))
	}
}

func (n *Navigator) currentWorkspace() *WorkspaceIndex {
	n.workspaceMu.RLock()
	defer n.workspaceMu.RUnlock()
	return n.workspace
}

// SetMarkupCompleter replaces the base completion collaborator.
func (n *Navigator) SetMarkupCompleter(c MarkupCompleter) {
	if c == nil {
		c = noopMarkupCompleter{}
	}
	n.completerMu.Lock()
	n.completer = c
	n.completerMu.Unlock()
}

func (n *Navigator) markupCompleter() MarkupCompleter {
	n.completerMu.RLock()
	defer n.completerMu.RUnlock()
	return n.completer
}

// GetCurrentConfig returns a thread-safe copy of the current configuration.
func (n *Navigator) GetCurrentConfig() Config {
	n.configMu.RLock()
	defer n.configMu.RUnlock()
	cfgCopy := n.config
	if cfgCopy.PlatformPrefixes != nil {
		prefixes := make([]string, len(cfgCopy.PlatformPrefixes))
		copy(prefixes, cfgCopy.PlatformPrefixes)
		cfgCopy.PlatformPrefixes = prefixes
	}
	if cfgCopy.SourceDirFallbacks != nil {
		dirs := make([]string, len(cfgCopy.SourceDirFallbacks))
		copy(dirs, cfgCopy.SourceDirFallbacks)
		cfgCopy.SourceDirFallbacks = dirs
	}
	return cfgCopy
}

// UpdateConfig atomically updates the service configuration.
func (n *Navigator) UpdateConfig(newConfig Config) error {
	if err := newConfig.Validate(n.logger); err != nil {
		n.logger.Error("Invalid configuration provided for update", "error", err)
		return fmt.Errorf("invalid configuration update: %w", err)
	}

	n.configMu.Lock()
	n.config = newConfig
	n.configMu.Unlock()

	n.docs.setTTL(newConfig.MemoryCacheTTL)

	n.logger.Info("Navigator configuration updated",
		slog.Group("new_config",
			slog.String("dependency_cache_root", newConfig.DependencyCacheRoot),
			slog.String("platform_home", newConfig.PlatformHome),
			slog.String("log_level", newConfig.LogLevel),
			slog.Int("max_discovery_depth", newConfig.MaxDiscoveryDepth),
			slog.Int("memory_cache_ttl_seconds", newConfig.MemoryCacheTTLSeconds),
		),
	)
	return nil
}

// InvalidateDocument drops cached facts for a closed document.
func (n *Navigator) InvalidateDocument(uri DocumentURI) {
	n.docs.invalidate(string(uri))
}

// DocumentCacheMetrics exposes the facts cache metrics for diagnostics.
func (n *Navigator) DocumentCacheMetrics() *ristretto.Metrics {
	return n.docs.metrics()
}

// Close releases every resource the service owns.
func (n *Navigator) Close() error {
	n.logger.Info("Closing Navigator service")
	n.docs.close()
	n.archives.close()
	return nil
}
