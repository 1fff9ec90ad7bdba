// Package catalog implements the Table Catalog & Schema component
// (spec.md §4.8): a persistent registry mapping table name to schema
// version, column descriptors, and per-table policies.
//
// Directly generalizes bundoc's metadata.go MetadataManager, which
// persisted "collection name -> B+Tree root page IDs" as JSON. DBX tables
// are not defined by a single B+Tree root (WOS lives in bbolt, ROS is a
// set of segment files), so the catalog instead persists policy and
// schema — the durable pointers into WOS/ROS are owned by those tiers
// directly, reached through the table name/ID the catalog assigns, per
// DESIGN.md's catalog entry (spec.md §9).
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kartikbazzad/dbx/errs"
)

// DurabilityLevel names a WAL fsync policy for a table (spec.md §4.1).
// The engine does not read a table's value: every table shares the WAL
// durability the engine is opened with (Full for Open, None for
// OpenInMemory).
type DurabilityLevel string

const (
	Full DurabilityLevel = "full"
	Lazy DurabilityLevel = "lazy"
	None DurabilityLevel = "none"
)

// CompressionKind selects the ROS per-chunk codec (spec.md §6.4).
type CompressionKind string

const (
	CompressionNone   CompressionKind = "none"
	CompressionZstd   CompressionKind = "zstd"
	CompressionBrotli CompressionKind = "brotli" // declared, not implemented — see DESIGN.md
)

// CompressionPolicy is a table's ROS compression configuration.
type CompressionPolicy struct {
	Kind  CompressionKind `json:"kind"`
	Level int             `json:"level,omitempty"`
}

// EncryptionKind selects the ROS per-chunk AEAD (spec.md §6.4).
type EncryptionKind string

const (
	EncryptionNone        EncryptionKind = "none"
	EncryptionAESGCMSIV   EncryptionKind = "aes-gcm-siv" // approximated as AES-GCM, see DESIGN.md
	EncryptionChaCha20    EncryptionKind = "chacha20-poly1305"
)

// EncryptionPolicy is a table's ROS encryption configuration. The key
// material itself is never persisted in the catalog; KeyID is an opaque
// reference the host application resolves via its own key management
// (out of scope per spec.md §1 "encryption primitives... external").
type EncryptionPolicy struct {
	Kind  EncryptionKind `json:"kind"`
	KeyID string         `json:"key_id,omitempty"`
}

// ColumnDescriptor describes one column of a table registered for
// columnar access. Schemas are append-only in column set (spec.md §4.8).
type ColumnDescriptor struct {
	Name          string `json:"name"`
	Type          string `json:"type"` // "int64", "float64", "string", "bytes", "bool"
	AddedInSchema int    `json:"added_in_schema"`
}

// Table is the catalog's record for one registered table.
type Table struct {
	Name                string             `json:"name"`
	ID                  uint16             `json:"id"`
	SchemaVersion       int                `json:"schema_version"`
	Columns             []ColumnDescriptor `json:"columns"`
	Durability          DurabilityLevel    `json:"durability"`
	Compression         CompressionPolicy  `json:"compression"`
	Encryption          EncryptionPolicy   `json:"encryption"`
	DeltaRowThreshold   int                `json:"delta_row_threshold"`
	DeltaByteThreshold  int                `json:"delta_byte_threshold"`
	ROSTargetSegmentBytes int64            `json:"ros_target_segment_bytes"`
}

// TableOptions configures a table at creation time (spec.md §6.4).
type TableOptions struct {
	Columns               []ColumnDescriptor
	Durability            DurabilityLevel
	Compression           CompressionPolicy
	Encryption            EncryptionPolicy
	DeltaRowThreshold     int
	DeltaByteThreshold    int
	ROSTargetSegmentBytes int64
}

func (o *TableOptions) withDefaults() *TableOptions {
	out := *o
	if out.Durability == "" {
		out.Durability = Full
	}
	if out.DeltaRowThreshold <= 0 {
		out.DeltaRowThreshold = 10_000
	}
	if out.DeltaByteThreshold <= 0 {
		out.DeltaByteThreshold = 8 << 20 // 8MiB
	}
	if out.ROSTargetSegmentBytes <= 0 {
		out.ROSTargetSegmentBytes = 64 << 20 // 64MiB
	}
	if out.Compression.Kind == "" {
		out.Compression.Kind = CompressionNone
	}
	if out.Encryption.Kind == "" {
		out.Encryption.Kind = EncryptionNone
	}
	return &out
}

type persisted struct {
	NextTableID uint16            `json:"next_table_id"`
	Tables      map[string]*Table `json:"tables"`
}

// Catalog is the persistent table registry. Safe for concurrent use.
type Catalog struct {
	mu   sync.RWMutex
	path string // empty for in-memory catalogs
	data persisted
}

// Open loads (or initializes) the catalog at path. An empty path creates
// an in-memory-only catalog, used by OpenInMemory (spec.md §6.1).
func Open(path string) (*Catalog, error) {
	c := &Catalog{
		path: path,
		data: persisted{Tables: make(map[string]*Table)},
	}
	if path == "" {
		return c, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create catalog dir: %v", errs.ErrIO, err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("%w: read catalog: %v", errs.ErrIO, err)
	}
	if len(raw) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c.data); err != nil {
		return nil, fmt.Errorf("%w: decode catalog: %v", errs.ErrCorruption, err)
	}
	if c.data.Tables == nil {
		c.data.Tables = make(map[string]*Table)
	}
	return c, nil
}

func (c *Catalog) saveLocked() error {
	if c.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode catalog: %v", errs.ErrIO, err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("%w: write catalog: %v", errs.ErrIO, err)
	}
	return os.Rename(tmp, c.path)
}

// CreateTable registers a new table. Returns errs.ErrAlreadyExists if name
// is already registered (spec.md §6.1).
func (c *Catalog) CreateTable(name string, opts TableOptions) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data.Tables[name]; exists {
		return nil, fmt.Errorf("%w: table %q", errs.ErrAlreadyExists, name)
	}

	c.data.NextTableID++
	o := opts.withDefaults()
	t := &Table{
		Name:                  name,
		ID:                    c.data.NextTableID,
		SchemaVersion:         1,
		Columns:               o.Columns,
		Durability:            o.Durability,
		Compression:           o.Compression,
		Encryption:            o.Encryption,
		DeltaRowThreshold:     o.DeltaRowThreshold,
		DeltaByteThreshold:    o.DeltaByteThreshold,
		ROSTargetSegmentBytes: o.ROSTargetSegmentBytes,
	}
	c.data.Tables[name] = t
	if err := c.saveLocked(); err != nil {
		delete(c.data.Tables, name)
		c.data.NextTableID--
		return nil, err
	}
	return t, nil
}

// DropTable removes a table from the catalog. Returns errs.ErrNotFound if
// it does not exist.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.data.Tables[name]; !exists {
		return fmt.Errorf("%w: table %q", errs.ErrNotFound, name)
	}
	delete(c.data.Tables, name)
	return c.saveLocked()
}

// Get returns the table record for name.
func (c *Catalog) Get(name string) (*Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, exists := c.data.Tables[name]
	if !exists {
		return nil, fmt.Errorf("%w: table %q", errs.ErrNotFound, name)
	}
	cp := *t
	return &cp, nil
}

// TableID resolves a table name to its stable numeric ID, used by the WAL
// wire format (spec.md §6.3).
func (c *Catalog) TableID(name string) (uint16, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, exists := c.data.Tables[name]
	if !exists {
		return 0, false
	}
	return t.ID, true
}

// TableName resolves a numeric table ID back to its name, used during WAL
// replay.
func (c *Catalog) TableName(id uint16) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.data.Tables {
		if t.ID == id {
			return t.Name, true
		}
	}
	return "", false
}

// List returns the names of all registered tables.
func (c *Catalog) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.data.Tables))
	for name := range c.data.Tables {
		names = append(names, name)
	}
	return names
}

// AddColumn appends a column to a table's schema, bumping SchemaVersion.
// Schemas are append-only in column set (spec.md §4.8); there is no
// RemoveColumn.
func (c *Catalog) AddColumn(table string, col ColumnDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, exists := c.data.Tables[table]
	if !exists {
		return fmt.Errorf("%w: table %q", errs.ErrNotFound, table)
	}
	t.SchemaVersion++
	col.AddedInSchema = t.SchemaVersion
	t.Columns = append(t.Columns, col)
	return c.saveLocked()
}
