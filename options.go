package dbx

import "github.com/kartikbazzad/dbx/internal/obslog"

// Options configures an Engine, generalizing bundoc's database.go Options
// (Path/BufferPoolSize/WALPath/MetadataPath/EncryptionKey) from a single
// B+Tree page store to a multi-tier engine with its own WAL, WOS, and
// catalog paths.
type Options struct {
	// Path is the root data directory. Open creates WALPath, WOSPath, and
	// CatalogPath beneath it when those fields are left empty. Ignored by
	// OpenInMemory.
	Path string

	// WALPath overrides the WAL directory (default: Path/wal).
	WALPath string

	// WOSPath overrides the WOS bbolt database file (default: Path/wos.db).
	WOSPath string

	// CatalogPath overrides the catalog file (default: Path/catalog.json).
	CatalogPath string

	// ROSDir overrides the directory ROS segment files are written under
	// (default: Path/ros).
	ROSDir string

	// CompactionWorkers sizes the compaction worker pool; <= 0 selects
	// runtime.GOMAXPROCS(0) (spec.md §4.7).
	CompactionWorkers int

	// ROSChunkCacheSize bounds the number of decoded ROS segment readers
	// kept resident (spec.md §7 "buffer-pool-style SLRU caching... ROS
	// chunk cache"). <= 0 selects DefaultROSChunkCacheSize.
	ROSChunkCacheSize int

	// Logging configures the process-wide structured logger. The zero
	// value logs at info level to stdout in console form.
	Logging obslog.Config
}

// DefaultROSChunkCacheSize mirrors docdb's default LRU cache sizing order
// of magnitude, scaled down since ROS readers hold a whole decoded
// segment rather than a single page.
const DefaultROSChunkCacheSize = 64

func (o *Options) withDefaults() *Options {
	out := *o
	if out.Path != "" {
		if out.WALPath == "" {
			out.WALPath = out.Path + "/wal"
		}
		if out.WOSPath == "" {
			out.WOSPath = out.Path + "/wos.db"
		}
		if out.CatalogPath == "" {
			out.CatalogPath = out.Path + "/catalog.json"
		}
		if out.ROSDir == "" {
			out.ROSDir = out.Path + "/ros"
		}
	}
	if out.ROSChunkCacheSize <= 0 {
		out.ROSChunkCacheSize = DefaultROSChunkCacheSize
	}
	return &out
}

// DefaultOptions returns Options for a durable, on-disk engine rooted at
// path, mirroring bundoc's DefaultOptions(path) constructor.
func DefaultOptions(path string) *Options {
	return (&Options{Path: path}).withDefaults()
}
