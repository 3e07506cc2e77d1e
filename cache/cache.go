// Package cache persists compiled bytecode images in SQLite, keyed by a
// hash of the source text, so unchanged scripts skip compilation.
package cache

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	"github.com/zeebo/xxh3"
	_ "modernc.org/sqlite"

	"github.com/QaisAlsaid/oklang-sub000/vm"
)

var log = commonlog.GetLogger("oklang.cache")

// ErrNotFound indicates no usable image is cached for the source.
var ErrNotFound = errors.New("image not found in cache")

// Cache is a SQLite table of compiled images.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex

	hits   int
	misses int
}

// Key returns the cache key for source: the hex xxh3-128 of its text.
func Key(source string) string {
	sum := xxh3.HashString128(source).Bytes()
	return hex.EncodeToString(sum[:])
}

// Open opens or creates the cache database at path. ":memory:" gives a
// private in-memory cache.
func Open(path string) (*Cache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	// One connection, so an in-memory database is shared by every query.
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS images (
		key TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		image BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Cache{db: db, path: path}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Path returns the database path.
func (c *Cache) Path() string {
	return c.path
}

// Get returns the image cached for source. Images written by another
// image format version are treated as missing.
func (c *Cache) Get(source string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		version int
		image   []byte
	)
	err := c.db.QueryRow("SELECT version, image FROM images WHERE key = ?", Key(source)).Scan(&version, &image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.misses++
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying image: %w", err)
	}
	if version != int(vm.ImageVersion) {
		c.misses++
		return nil, ErrNotFound
	}
	c.hits++
	return image, nil
}

// Put stores image as the compiled form of source.
func (c *Cache) Put(source string, image []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO images (key, version, image, created_at) VALUES (?, ?, ?, ?)",
		Key(source), int(vm.ImageVersion), image, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving image: %w", err)
	}
	return nil
}

// Len returns the number of cached images.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM images").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting images: %w", err)
	}
	return n, nil
}

// Stats returns the hit and miss counts since Open.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// ---------------------------------------------------------------------------
// Backend: a vm.CompilerBackend that consults the cache first
// ---------------------------------------------------------------------------

// Backend wraps a compiler backend. Hits load the cached image; misses
// compile with the wrapped backend and store the result. Failed compiles
// are never cached.
type Backend struct {
	cache *Cache
	next  vm.CompilerBackend
}

// NewBackend returns a caching backend around next.
func NewBackend(c *Cache, next vm.CompilerBackend) *Backend {
	return &Backend{cache: c, next: next}
}

// Install wraps v's current compiler backend with c.
func Install(v *vm.VM, c *Cache) error {
	next := v.CompilerBackend()
	if next == nil {
		return vm.ErrNoCompiler
	}
	v.SetCompilerBackend(NewBackend(c, next))
	return nil
}

// Name returns the wrapped backend's name.
func (b *Backend) Name() string {
	return b.next.Name() + "+cache"
}

// Compile implements vm.CompilerBackend.
func (b *Backend) Compile(v *vm.VM, src *vm.Source) (*vm.FunctionObject, []vm.Diagnostic) {
	data, err := b.cache.Get(src.Text)
	switch {
	case err == nil:
		fn, loadErr := v.LoadImage(data)
		if loadErr == nil {
			log.Debugf("cache hit for %s", src.Name)
			return fn, nil
		}
		log.Warningf("discarding cached image for %s: %s", src.Name, loadErr)
	case !errors.Is(err, ErrNotFound):
		log.Warningf("cache lookup for %s: %s", src.Name, err)
	}

	fn, diags := b.next.Compile(v, src)
	if len(diags) > 0 {
		return nil, diags
	}

	image, err := v.EncodeImage(fn)
	if err != nil {
		log.Warningf("encoding %s for the cache: %s", src.Name, err)
		return fn, nil
	}
	if err := b.cache.Put(src.Text, image); err != nil {
		log.Warningf("caching %s: %s", src.Name, err)
	}
	return fn, nil
}
