// Package httpcache caches REST historical-trade responses on disk so a
// re-run of a backfill for the same URL does not re-hit the exchange,
// grounded on the teacher's atomicio write-then-rename pattern and the
// original CachedTradeData's MD5(url)-keyed file layout.
package httpcache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/sawpanic/cryptorun-bars/internal/domain"
)

// Cache is a directory of one JSON file per cached URL, keyed by
// MD5(url). Each file holds the trades returned for that URL plus the
// cursor (last trade timestamp, matching the original's last_trade_id)
// a backfill should resume from next.
type Cache struct {
	dir string
}

// Entry is what one cache file holds.
type Entry struct {
	Trades       []domain.Trade `json:"trades"`
	LastTradeMs  int64          `json:"last_trade_ms"`
}

// New returns a Cache rooted at dir, creating it if necessary.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) pathFor(url string) string {
	sum := md5.Sum([]byte(url))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}

// Has reports whether a cache entry exists for url.
func (c *Cache) Has(url string) bool {
	_, err := os.Stat(c.pathFor(url))
	return err == nil
}

// Read loads the cached entry for url. ok is false if nothing is cached.
func (c *Cache) Read(url string) (Entry, bool, error) {
	data, err := os.ReadFile(c.pathFor(url))
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Write persists trades and the resume cursor for url, atomically: it
// writes to a temp file in the same directory, then renames over the
// destination, so a crash mid-write never leaves a corrupt cache file.
func (c *Cache) Write(url string, entry Entry) error {
	if len(entry.Trades) == 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	dest := c.pathFor(url)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}
