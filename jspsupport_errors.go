// jspsupport/jspsupport_errors.go
// Contains exported error definitions for the jspsupport package.
package jspsupport

import "errors"

// =============================================================================
// Exported Errors
// =============================================================================

// A missing definition is never an error: lookup operations return a nil
// Location instead. The errors below cover the faults that occur on the way
// there; the locator and orchestrator convert them to nil results at their
// boundaries after logging.

var (
	// ErrConfig indicates non-fatal errors during config loading or processing.
	ErrConfig = errors.New("configuration error")

	// ErrInvalidConfig indicates a configuration value is invalid after validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCache indicates a general cache operation failure.
	ErrCache = errors.New("cache operation failed")

	// ErrCacheRead indicates failure reading from the cache.
	ErrCacheRead = errors.New("cache read failed")

	// ErrCacheWrite indicates failure writing to the cache.
	ErrCacheWrite = errors.New("cache write failed")

	// ErrCacheDecode indicates failure decoding data read from the cache.
	ErrCacheDecode = errors.New("cache decode failed")

	// ErrCacheEncode indicates failure encoding data for writing to the cache.
	ErrCacheEncode = errors.New("cache encode failed")

	// ErrArchiveOpen indicates a source archive could not be opened
	// (missing file, corrupt zip). Opens that fail are remembered for the
	// session so the same archive is not re-probed on every request.
	ErrArchiveOpen = errors.New("archive open failed")

	// ErrArchiveExtract indicates an archive entry could not be written to
	// the extraction directory.
	ErrArchiveExtract = errors.New("archive extract failed")

	// ErrMetadataMalformed indicates build metadata (pom.xml) is missing
	// expected structure. Discovery falls back to conventional source
	// directories when it sees this.
	ErrMetadataMalformed = errors.New("malformed build metadata")

	// ErrPositionConversion indicates failure converting between position
	// formats (LSP <-> byte offset).
	ErrPositionConversion = errors.New("position conversion failed")

	// ErrInvalidPositionInput indicates input position values are invalid.
	ErrInvalidPositionInput = errors.New("invalid input position")

	// ErrPositionOutOfRange indicates a position is outside the valid bounds
	// of the file or line.
	ErrPositionOutOfRange = errors.New("position out of range")

	// ErrInvalidUTF8 indicates an invalid UTF-8 sequence was encountered.
	ErrInvalidUTF8 = errors.New("invalid utf-8 sequence")

	// ErrInvalidURI indicates a document URI is invalid or uses an
	// unsupported scheme.
	ErrInvalidURI = errors.New("invalid document URI")
)
