package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// fileEnvelope is the on-disk record format
type fileEnvelope struct {
	Key      string          `json:"key"`
	StoredAt time.Time       `json:"stored_at"`
	Payload  json.RawMessage `json:"payload"`
}

// FileCache is the on-disk JSON layer. Blobs live under
// <dir>/<symbol>/<sha256(key)>.json so operators can inspect and prune by
// symbol.
type FileCache struct {
	dir string
}

// NewFileCache creates the file cache rooted at dir
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &FileCache{dir: dir}, nil
}

func (c *FileCache) path(key, symbol string) string {
	sum := sha256.Sum256([]byte(key))
	sub := sanitizeSymbol(symbol)
	return filepath.Join(c.dir, sub, hex.EncodeToString(sum[:])+".json")
}

func sanitizeSymbol(symbol string) string {
	if symbol == "" {
		return "_misc"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, symbol)
}

// Get returns the payload and its write time. ok is false on miss or on an
// unreadable blob.
func (c *FileCache) Get(key, symbol string) (payload []byte, storedAt time.Time, ok bool) {
	data, err := os.ReadFile(c.path(key, symbol))
	if err != nil {
		return nil, time.Time{}, false
	}
	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, time.Time{}, false
	}
	return env.Payload, env.StoredAt, true
}

// Set writes the payload. Write errors are returned but callers treat the
// file layer as best-effort.
func (c *FileCache) Set(key, symbol string, payload []byte) error {
	p := c.path(key, symbol)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create symbol dir: %w", err)
	}

	env := fileEnvelope{Key: key, StoredAt: time.Now(), Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal cache envelope: %w", err)
	}

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	return os.Rename(tmp, p)
}
