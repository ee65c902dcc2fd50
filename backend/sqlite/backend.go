package sqlite

import (
	"context"
	"database/sql"
	"sync"

	"github.com/mwantia/unionfs/backend"
	"github.com/mwantia/unionfs/data"
	"github.com/tidwall/btree"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteBackend provides a persistent branch backed by SQLite:
//
// Layer 1: In-memory B-tree caching keys for fast existence checks
// Layer 2: SQLite table (union_objects) holding metadata and content
//
// Named pipes are persistent as metadata rows, but their buffers are
// runtime state: each FIFO key maps to an in-process Pipe in a registry
// that is rebuilt lazily after reopening the database.
type SQLiteBackend struct {
	mu sync.RWMutex
	db *sql.DB

	// In-memory B-tree for fast key lookups
	keys *btree.Map[string, data.FileMode]

	// Runtime pipe registry for FIFO objects
	pipes     map[string]*backend.Pipe
	fifoTable *backend.OperationTable
}

// NewSQLiteBackend creates a new SQLite-backed branch backend.
// The dbPath can be ":memory:" for an in-memory database or a file path.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}

	sb := &SQLiteBackend{
		db:        db,
		keys:      btree.NewMap[string, data.FileMode](0),
		pipes:     make(map[string]*backend.Pipe),
		fifoTable: backend.NewPipeTable(),
	}

	if err := sb.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return sb, nil
}

// initSchema creates the database schema.
func (sb *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS union_objects (
		key TEXT PRIMARY KEY,
		mode INTEGER NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		modify_time INTEGER NOT NULL,
		access_time INTEGER NOT NULL,
		create_time INTEGER NOT NULL,
		content BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_union_objects_key ON union_objects(key);
	`

	_, err := sb.db.Exec(schema)
	return err
}

// Name returns the identifier name defined for this backend
func (*SQLiteBackend) Name() string {
	return "sqlite"
}

// Open loads the key cache from the database.
func (sb *SQLiteBackend) Open(ctx context.Context) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	rows, err := sb.db.QueryContext(ctx, "SELECT key, mode FROM union_objects")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var mode uint32
		if err := rows.Scan(&key, &mode); err != nil {
			return err
		}
		sb.keys.Set(key, data.FileMode(mode))
	}

	return rows.Err()
}

// Close is part of the lifecycle behaviour and gets called when a branch
// using this backend is detached.
func (sb *SQLiteBackend) Close(ctx context.Context) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.keys.Clear()
	return sb.db.Close()
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (sb *SQLiteBackend) GetCapabilities() *backend.BackendCapabilities {
	return &backend.BackendCapabilities{
		Capabilities: []backend.BackendCapability{
			backend.CapabilityObjectStorage,
			backend.CapabilitySpecialObjects,
		},
		MaxObjectSize: 104857600, // 100 MB
	}
}

// pipeFor returns the runtime pipe for a FIFO key, creating it on first
// use after the database was (re)opened. Caller holds sb.mu.
func (sb *SQLiteBackend) pipeFor(key string) *backend.Pipe {
	p, exists := sb.pipes[key]
	if !exists {
		p = backend.NewPipe()
		sb.pipes[key] = p
	}
	return p
}

// OpenSpecial locates a FIFO row and returns a handle carrying the
// backend's native pipe table.
func (sb *SQLiteBackend) OpenSpecial(ctx context.Context, key string, access data.AccessMode) (*backend.ObjectHandle, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	key = cleanKey(key)
	mode, exists := sb.keys.Get(key)
	if !exists {
		return nil, data.ErrNotExist
	}
	if !mode.IsNamedPipe() {
		return nil, data.ErrNotSupported
	}

	h := backend.NewObjectHandle(key, mode, access, sb)
	h.Table = sb.fifoTable
	h.Object = &backend.PipeEnds{Pipe: sb.pipeFor(key)}
	return h, nil
}
