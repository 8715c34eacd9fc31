package gamemath

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store persists imported payout models by model_id in game_math.json.
type Store struct {
	mu      sync.RWMutex
	math    map[string]*GameMath
	dataDir string
	log     *slog.Logger
}

func NewStore(dataDir string, log *slog.Logger) *Store {
	if dataDir == "" {
		dataDir = "data"
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		math:    make(map[string]*GameMath),
		dataDir: dataDir,
		log:     log,
	}
	s.load()
	return s
}

func (s *Store) path() string {
	return filepath.Join(s.dataDir, "game_math.json")
}

type storedEntry struct {
	ModelID string    `json:"model_id"`
	Math    *GameMath `json:"math"`
}

func (s *Store) load() {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path())
	if err != nil {
		return
	}
	var list []storedEntry
	if err := json.Unmarshal(data, &list); err != nil {
		s.log.Warn("game math file unreadable", "path", s.path(), "err", err)
		return
	}
	for _, e := range list {
		if e.ModelID == "" || e.Math == nil {
			continue
		}
		if err := e.Math.Validate(); err != nil {
			s.log.Warn("skipping invalid game math", "model", e.ModelID, "err", err)
			continue
		}
		s.math[e.ModelID] = e.Math
	}
}

// saveLocked writes the store to disk. Caller must hold s.mu.
func (s *Store) saveLocked() error {
	list := make([]storedEntry, 0, len(s.math))
	for id, m := range s.math {
		list = append(list, storedEntry{ModelID: id, Math: m})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ModelID < list[j].ModelID })
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(s.path(), data, 0644)
}

// Register validates m, fills its stats and stores it, replacing any model with the same id.
func (s *Store) Register(m *GameMath) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("gamemath.Register: %w", err)
	}
	stats := m.ComputeStats()
	m.Stats = &stats
	s.mu.Lock()
	defer s.mu.Unlock()
	s.math[m.ModelID] = m
	if err := s.saveLocked(); err != nil {
		return fmt.Errorf("gamemath.Register: save: %w", err)
	}
	return nil
}

// Get returns game math for the given model_id, or nil.
func (s *Store) Get(modelID string) *GameMath {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.math[modelID]
}

func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.math))
	for id := range s.math {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
