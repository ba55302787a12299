// jspsupport/helpers_archive.go
// Archive access layer: opens source archives (dependency -sources.jar
// files and the platform src.zip), extracts entries to a session temp
// directory, and caches entry lookups in a persistent bbolt index keyed by
// archive identity (path + size + mtime).
package jspsupport

import (
	"archive/zip"
	"bytes"
	"encoding/gob"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/singleflight"
)

var archiveIndexBucketName = []byte("ArchiveEntryIndex")

// archiveEntryRecord is the gob-encoded value stored in the bbolt index.
// Found=false records a confirmed miss so repeated lookups for absent
// entries skip the directory scan.
type archiveEntryRecord struct {
	SchemaVersion  int
	ArchiveSize    int64
	ArchiveModTime int64
	EntryName      string
	Found          bool
}

// archiveHandle is an open archive with its entry table. Handles stay open
// for the life of the session; extraction reads go through the shared
// zip.Reader, which is safe for concurrent use.
type archiveHandle struct {
	path    string
	reader  *zip.ReadCloser
	size    int64
	modTime int64
	entries map[string]*zip.File
	names   []string
}

// archiveSet owns every open archive in the session. A failed open is
// remembered for the rest of the session and never retried; archives do
// not appear mid-session.
type archiveSet struct {
	logger *slog.Logger

	mu      sync.Mutex
	handles map[string]*archiveHandle
	failed  map[string]struct{}

	openGroup singleflight.Group
	extracted *ristretto.Cache

	db       *bolt.DB // nil disables the persistent entry index
	tempRoot string
}

func newArchiveSet(indexPath string, logger *slog.Logger) (*archiveSet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "archiveSet")

	tempRoot, err := os.MkdirTemp("", "jspsupport-src-")
	if err != nil {
		return nil, fmt.Errorf("%w: creating extraction directory: %w", ErrCache, err)
	}

	extracted, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		os.RemoveAll(tempRoot)
		return nil, fmt.Errorf("%w: creating extraction cache: %w", ErrCache, err)
	}

	s := &archiveSet{
		logger:    logger,
		handles:   make(map[string]*archiveHandle),
		failed:    make(map[string]struct{}),
		extracted: extracted,
		tempRoot:  tempRoot,
	}

	if indexPath != "" {
		db, dbErr := bolt.Open(indexPath, 0o600, &bolt.Options{Timeout: time.Second})
		if dbErr != nil {
			logger.Warn("Failed to open archive entry index, lookups will not persist", "path", indexPath, "error", dbErr)
		} else if initErr := db.Update(func(tx *bolt.Tx) error {
			_, e := tx.CreateBucketIfNotExists(archiveIndexBucketName)
			return e
		}); initErr != nil {
			logger.Warn("Failed to initialize archive entry index bucket", "error", initErr)
			db.Close()
		} else {
			s.db = db
		}
	}
	return s, nil
}

func (s *archiveSet) close() {
	s.mu.Lock()
	for _, h := range s.handles {
		h.reader.Close()
	}
	s.handles = nil
	s.mu.Unlock()

	s.extracted.Close()
	if s.db != nil {
		s.db.Close()
	}
	os.RemoveAll(s.tempRoot)
}

// openArchive returns the session handle for path, opening it on first
// use. Concurrent first-use requests for the same path are collapsed into
// a single open.
func (s *archiveSet) openArchive(path string) (*archiveHandle, error) {
	s.mu.Lock()
	if h, ok := s.handles[path]; ok {
		s.mu.Unlock()
		return h, nil
	}
	if _, bad := s.failed[path]; bad {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s previously failed to open", ErrArchiveOpen, path)
	}
	s.mu.Unlock()

	v, err, _ := s.openGroup.Do(path, func() (any, error) {
		info, statErr := os.Stat(path)
		if statErr != nil {
			return nil, fmt.Errorf("%w: stat %s: %w", ErrArchiveOpen, path, statErr)
		}
		reader, openErr := zip.OpenReader(path)
		if openErr != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrArchiveOpen, path, openErr)
		}

		h := &archiveHandle{
			path:    path,
			reader:  reader,
			size:    info.Size(),
			modTime: info.ModTime().UnixNano(),
			entries: make(map[string]*zip.File, len(reader.File)),
			names:   make([]string, 0, len(reader.File)),
		}
		for _, f := range reader.File {
			if f.FileInfo().IsDir() {
				continue
			}
			h.entries[f.Name] = f
			h.names = append(h.names, f.Name)
		}

		s.mu.Lock()
		s.handles[path] = h
		s.mu.Unlock()
		s.logger.Debug("Opened source archive", "path", path, "entries", len(h.names))
		return h, nil
	})
	if err != nil {
		s.mu.Lock()
		s.failed[path] = struct{}{}
		s.mu.Unlock()
		s.logger.Warn("Source archive open failed", "path", path, "error", err)
		return nil, err
	}
	return v.(*archiveHandle), nil
}

// findEntry looks up an exact entry path in the archive, consulting the
// persistent index first. An empty name with nil error means the entry is
// confirmed absent.
func (s *archiveSet) findEntry(h *archiveHandle, entryPath string) (string, error) {
	key := h.path + "\x00" + entryPath
	if name, found, ok := s.lookupIndex(key, h); ok {
		if !found {
			return "", nil
		}
		if _, present := h.entries[name]; present {
			return name, nil
		}
	}

	name := ""
	if _, present := h.entries[entryPath]; present {
		name = entryPath
	}
	s.storeIndex(key, h, name)
	return name, nil
}

// findEntryBySuffix returns the first entry whose path ends with suffix at
// a path-segment boundary. Platform archives prefix entries with a module
// directory, so exact paths never match there.
func (s *archiveSet) findEntryBySuffix(h *archiveHandle, suffix string) (string, error) {
	key := h.path + "\x00~" + suffix
	if name, found, ok := s.lookupIndex(key, h); ok {
		if !found {
			return "", nil
		}
		if _, present := h.entries[name]; present {
			return name, nil
		}
	}

	name := ""
	for _, candidate := range h.names {
		if candidate == suffix || strings.HasSuffix(candidate, "/"+suffix) {
			name = candidate
			break
		}
	}
	s.storeIndex(key, h, name)
	return name, nil
}

// lookupIndex reads a cached lookup result. ok reports whether a valid
// record exists for the archive's current identity; stale records are
// scheduled for deletion.
func (s *archiveSet) lookupIndex(key string, h *archiveHandle) (name string, found, ok bool) {
	if s.db == nil {
		return "", false, false
	}
	var record archiveEntryRecord
	var have bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(archiveIndexBucketName)
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if decErr := gob.NewDecoder(bytes.NewReader(raw)).Decode(&record); decErr != nil {
			return fmt.Errorf("%w: %w", ErrCacheDecode, decErr)
		}
		have = true
		return nil
	})
	if err != nil {
		s.logger.Warn("Archive index read failed", "error", err)
		s.deleteIndexEntryInBackground(key)
		return "", false, false
	}
	if !have {
		return "", false, false
	}
	if record.SchemaVersion != cacheSchemaVersion || record.ArchiveSize != h.size || record.ArchiveModTime != h.modTime {
		s.logger.Debug("Archive index entry stale", "key", key)
		s.deleteIndexEntryInBackground(key)
		return "", false, false
	}
	return record.EntryName, record.Found, true
}

func (s *archiveSet) storeIndex(key string, h *archiveHandle, name string) {
	if s.db == nil {
		return
	}
	record := archiveEntryRecord{
		SchemaVersion:  cacheSchemaVersion,
		ArchiveSize:    h.size,
		ArchiveModTime: h.modTime,
		EntryName:      name,
		Found:          name != "",
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&record); err != nil {
		s.logger.Warn("Archive index encode failed", "error", fmt.Errorf("%w: %w", ErrCacheEncode, err))
		return
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(archiveIndexBucketName)
		if b == nil {
			return fmt.Errorf("%w: index bucket missing", ErrCacheWrite)
		}
		return b.Put([]byte(key), buf.Bytes())
	})
	if err != nil {
		s.logger.Warn("Archive index write failed", "error", err)
	}
}

// deleteIndexEntryInBackground removes an invalid index entry without
// blocking the lookup path.
func (s *archiveSet) deleteIndexEntryInBackground(key string) {
	if s.db == nil {
		return
	}
	go func() {
		err := s.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(archiveIndexBucketName)
			if b == nil {
				return nil
			}
			return b.Delete([]byte(key))
		})
		if err != nil {
			s.logger.Warn("Background archive index delete failed", "key", key, "error", err)
		}
	}()
}

// extract writes the named entry to the session temp directory and returns
// its on-disk path. Extraction is idempotent: a path already written this
// session is reused unless the file was removed from disk.
func (s *archiveSet) extract(h *archiveHandle, entryName string) (string, error) {
	f, ok := h.entries[entryName]
	if !ok {
		return "", fmt.Errorf("%w: entry %s not in %s", ErrArchiveExtract, entryName, h.path)
	}

	dest := s.extractionPath(h.path, entryName)
	cacheKey := h.path + "\x00" + entryName
	if cached, found := s.extracted.Get(cacheKey); found {
		if path, isStr := cached.(string); isStr {
			if _, statErr := os.Stat(path); statErr == nil {
				return path, nil
			}
			s.logger.Debug("Extracted file removed from disk, re-extracting", "path", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrArchiveExtract, err)
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("%w: opening entry %s: %w", ErrArchiveExtract, entryName, err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrArchiveExtract, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(dest)
		return "", fmt.Errorf("%w: writing %s: %w", ErrArchiveExtract, dest, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrArchiveExtract, err)
	}

	s.extracted.Set(cacheKey, dest, 1)
	s.extracted.Wait()
	return dest, nil
}

// extractionPath builds a deterministic destination under the temp root:
// one directory per archive, entry path sanitized against traversal.
func (s *archiveSet) extractionPath(archivePath, entryName string) string {
	hash := fnv.New32a()
	hash.Write([]byte(archivePath))
	dir := fmt.Sprintf("%s-%08x", strings.TrimSuffix(filepath.Base(archivePath), filepath.Ext(archivePath)), hash.Sum32())

	clean := filepath.Clean(filepath.FromSlash(entryName))
	for strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		clean = strings.TrimPrefix(clean, "..")
		clean = strings.TrimPrefix(clean, string(filepath.Separator))
		clean = filepath.Clean(clean)
		if clean == "." || clean == "" {
			clean = "_"
			break
		}
	}
	return filepath.Join(s.tempRoot, dir, clean)
}
