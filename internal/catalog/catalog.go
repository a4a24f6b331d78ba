// Package catalog maintains the in-memory index of locally shared files.
//
// Every enumeration rescans the shared directory and publishes a fresh,
// immutable snapshot. Readers never observe a partially built snapshot.
package catalog

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/timskillet/p2pshare/internal/integrity"
	"github.com/timskillet/p2pshare/internal/logging"
	"github.com/timskillet/p2pshare/internal/metrics"
	"github.com/timskillet/p2pshare/internal/types"
)

// digestKey identifies one observed version of a file. A change in size or
// modification time forces the file to be rehashed.
type digestKey struct {
	path    string
	size    int64
	modTime int64
}

type Catalog struct {
	snapshot atomic.Pointer[[]types.FileRecord]
	writeMu  sync.Mutex
	digests  *lru.Cache[digestKey, string]
	log      *zap.Logger
}

// New creates an empty catalog. cacheSize bounds the number of cached content
// digests; zero disables the cache so every enumeration rehashes every file.
func New(cacheSize int, logger *zap.Logger) *Catalog {
	c := &Catalog{log: logging.OrGlobal(logger).Named("catalog")}
	if cacheSize > 0 {
		cache, err := lru.New[digestKey, string](cacheSize)
		if err == nil {
			c.digests = cache
		}
	}
	empty := []types.FileRecord{}
	c.snapshot.Store(&empty)
	return c
}

// Enumerate replaces the snapshot with one record per regular, visible file
// directly inside dir. Failures are logged and never returned: an unreadable
// directory yields an empty snapshot and unreadable files are skipped.
func (c *Catalog) Enumerate(dir string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	start := time.Now()
	records := c.scan(dir)
	c.snapshot.Store(&records)

	metrics.SetCatalogFiles(len(records))
	metrics.RecordCatalogEnumerate(time.Since(start))
	c.log.Debug("catalog enumerated",
		zap.String("dir", dir),
		zap.Int("files", len(records)),
		zap.Duration("duration", time.Since(start)))
}

// All returns the current snapshot. The returned slice must not be modified.
func (c *Catalog) All() []types.FileRecord {
	return *c.snapshot.Load()
}

// List enumerates dir and returns the resulting snapshot.
func (c *Catalog) List(dir string) []types.FileRecord {
	c.Enumerate(dir)
	return c.All()
}

func (c *Catalog) scan(dir string) []types.FileRecord {
	records := []types.FileRecord{}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		c.log.Warn("cannot resolve shared directory", zap.String("dir", dir), zap.Error(err))
		return records
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		c.log.Warn("cannot read shared directory", zap.String("dir", absDir), zap.Error(err))
		return records
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(absDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			c.log.Warn("cannot stat shared file", zap.String("path", path), zap.Error(err))
			continue
		}
		if isHiddenOrSystem(info) {
			continue
		}

		digest, err := c.digest(path, info)
		if err != nil {
			c.log.Warn("cannot hash shared file", zap.String("path", path), zap.Error(err))
			continue
		}

		records = append(records, types.FileRecord{
			DisplayName:   entry.Name(),
			AbsolutePath:  path,
			SizeBytes:     uint64(info.Size()),
			ContentDigest: digest,
			CreatedAt:     creationTime(path, info).Local(),
			ModifiedAt:    info.ModTime().Local(),
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].DisplayName < records[j].DisplayName
	})
	return records
}

func (c *Catalog) digest(path string, info os.FileInfo) (string, error) {
	if c.digests == nil {
		return integrity.FileDigest(path)
	}

	key := digestKey{path: path, size: info.Size(), modTime: info.ModTime().UnixNano()}
	if d, ok := c.digests.Get(key); ok {
		metrics.RecordDigestCacheLookup(true)
		return d, nil
	}
	metrics.RecordDigestCacheLookup(false)

	d, err := integrity.FileDigest(path)
	if err != nil {
		return "", err
	}
	c.digests.Add(key, d)
	return d, nil
}
