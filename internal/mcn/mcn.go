// Package mcn implements the process-wide memory-cluster store used by the
// regime detector and the signal assembler's lineage lookups. Vectors are
// fixed at Dim dimensions; every operation is total — bad shapes and
// corrupted snapshots degrade to empty results instead of crashing callers.
package mcn

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"tradebrain/internal/logging"
)

// Dim is the fixed embedding dimension
const Dim = 32

// entry is one stored vector with its metadata
type entry struct {
	Vector   []float64         `msgpack:"vector"`
	Metadata map[string]string `msgpack:"metadata"`
	AddedAt  time.Time         `msgpack:"added_at"`
}

// Store is a thread-safe in-memory vector store with a size-bounded snapshot
type Store struct {
	mu       sync.Mutex
	entries  []entry
	path     string
	maxBytes int64
	logger   *logging.Logger
}

// snapshot is the serialized on-disk form
type snapshot struct {
	Entries []entry `msgpack:"entries"`
}

// New creates a store persisting to path, bounded at maxBytes on disk
func New(path string, maxBytes int64, logger *logging.Logger) *Store {
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	return &Store{
		path:     path,
		maxBytes: maxBytes,
		logger:   logger.WithComponent("mcn"),
	}
}

// FixDim coerces a vector to exactly Dim entries by truncation or
// zero-padding. Non-finite values are zeroed.
func FixDim(v []float64) []float64 {
	out := make([]float64, Dim)
	n := len(v)
	if n > Dim {
		n = Dim
	}
	for i := 0; i < n; i++ {
		if math.IsNaN(v[i]) || math.IsInf(v[i], 0) {
			continue
		}
		out[i] = v[i]
	}
	return out
}

// Add inserts vectors with their metadata. Vectors are coerced to Dim;
// mismatched slice lengths insert the overlapping prefix.
func (s *Store) Add(vectors [][]float64, metadata []map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(vectors)
	if len(metadata) < n {
		n = len(metadata)
	}
	now := time.Now()
	for i := 0; i < n; i++ {
		md := metadata[i]
		if md == nil {
			md = map[string]string{}
		}
		s.entries = append(s.entries, entry{
			Vector:   FixDim(vectors[i]),
			Metadata: md,
			AddedAt:  now,
		})
	}
}

// Len returns the number of stored samples
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Search returns up to k nearest entries by cosine similarity. Any input
// shape is accepted (the query is coerced to Dim); an empty store, k <= 0 or
// a zero-magnitude query return empty slices.
func (s *Store) Search(query []float64, k int) (metas []map[string]string, scores []float64) {
	metas, scores = []map[string]string{}, []float64{}
	if k <= 0 || len(query) == 0 {
		return metas, scores
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return metas, scores
	}

	q := FixDim(query)
	qNorm := norm(q)
	if qNorm == 0 {
		return metas, scores
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, 0, len(s.entries))
	for i, e := range s.entries {
		eNorm := norm(e.Vector)
		if eNorm == 0 {
			continue
		}
		ranked = append(ranked, scored{idx: i, score: dot(q, e.Vector) / (qNorm * eNorm)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if k > len(ranked) {
		k = len(ranked)
	}
	for _, r := range ranked[:k] {
		metas = append(metas, s.entries[r.idx].Metadata)
		scores = append(scores, r.score)
	}
	return metas, scores
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func norm(v []float64) float64 {
	return math.Sqrt(dot(v, v))
}

// SaveState writes the snapshot, evicting oldest entries until the encoded
// size fits the byte budget.
func (s *Store) SaveState() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.entries
	var data []byte
	for {
		var err error
		data, err = msgpack.Marshal(snapshot{Entries: entries})
		if err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		if int64(len(data)) <= s.maxBytes || len(entries) == 0 {
			break
		}
		// Drop the oldest tenth and retry
		cut := len(entries) / 10
		if cut == 0 {
			cut = 1
		}
		entries = entries[cut:]
	}
	s.entries = entries

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// LoadState restores the snapshot. A missing or corrupted file leaves the
// store empty and logs rather than failing startup.
func (s *Store) LoadState() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read memory snapshot", "path", s.path, "error", err.Error())
		}
		return
	}

	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("Corrupted memory snapshot ignored", "path", s.path, "error", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-coerce on load in case the dimension changed between versions
	for i := range snap.Entries {
		snap.Entries[i].Vector = FixDim(snap.Entries[i].Vector)
	}
	s.entries = snap.Entries
	s.logger.Info("Memory snapshot loaded", "samples", len(s.entries))
}
