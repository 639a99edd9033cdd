package pb

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/ghost"
)

// DefaultPB5kMinutes seeds the threshold speed when no 5 km best is known
const DefaultPB5kMinutes = 25.0

type storeData struct {
	PBTimesMinutes map[string]float64 `json:"pb_times_minutes"`
}

// Store is the persisted map of target distance (km) to best time (minutes).
// Unknown keys in the file are not preserved.
type Store struct {
	filePath string
	logger   *log.Logger

	mu   sync.Mutex
	data storeData
}

// Load reads filePath. A missing or unreadable file gives an empty store.
func Load(filePath string, logger *log.Logger) *Store {
	if logger == nil {
		panic("PBStore: logger cannot be nil")
	}
	s := &Store{filePath: filePath, logger: logger}
	s.load()
	return s
}

func distanceKey(km float64) string {
	return strconv.FormatFloat(km, 'f', -1, 64)
}

func (s *Store) load() {
	s.data = storeData{PBTimesMinutes: make(map[string]float64)}
	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		s.logger.Printf("PBStore: load %s (no existing file)", s.filePath)
		return
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		s.logger.Printf("PBStore: load %s failed to parse: %v", s.filePath, err)
		s.data = storeData{PBTimesMinutes: make(map[string]float64)}
		return
	}
	if s.data.PBTimesMinutes == nil {
		s.data.PBTimesMinutes = make(map[string]float64)
	}
	s.logger.Printf("PBStore: load %s -> %v", s.filePath, s.data.PBTimesMinutes)
}

// Get returns the best time for distanceKm in minutes
func (s *Store) Get(distanceKm float64) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data.PBTimesMinutes[distanceKey(distanceKm)]
	return m, ok && m > 0
}

// Distances returns every distance with a recorded best, ascending
func (s *Store) Distances() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, 0, len(s.data.PBTimesMinutes))
	for k, m := range s.data.PBTimesMinutes {
		km, err := strconv.ParseFloat(k, 64)
		if err != nil || km <= 0 || m <= 0 {
			continue
		}
		out = append(out, km)
	}
	slices.Sort(out)
	return out
}

// Targets turns every recorded best into a flat ghost target named "PB <km>k"
func (s *Store) Targets() []ghost.Target {
	var targets []ghost.Target
	for _, km := range s.Distances() {
		m, _ := s.Get(km)
		targets = append(targets, ghost.Target{
			Name:       fmt.Sprintf("PB %sk", distanceKey(km)),
			DistanceKm: km,
			Minutes:    m,
		})
	}
	return targets
}

// Update records every effort faster than the stored best and returns the
// improved distances. The file is not written; call Save.
func (s *Store) Update(efforts []Effort) []Effort {
	s.mu.Lock()
	defer s.mu.Unlock()

	var improved []Effort
	for _, e := range efforts {
		key := distanceKey(e.DistanceKm)
		minutes := e.Minutes()
		if prev, ok := s.data.PBTimesMinutes[key]; ok && prev > 0 && prev <= minutes {
			continue
		}
		s.data.PBTimesMinutes[key] = minutes
		improved = append(improved, e)
		s.logger.Printf("PBStore: New best for %s km: %.2f min", key, minutes)
	}
	return improved
}

func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create pb dir: %w", err)
		}
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pb store: %w", err)
	}
	if err := os.WriteFile(s.filePath, raw, 0644); err != nil {
		return fmt.Errorf("write pb store: %w", err)
	}
	s.logger.Printf("PBStore: save %s -> %v", s.filePath, s.data.PBTimesMinutes)
	return nil
}

// ThresholdSpeed is the 5 km personal-best pace as a speed in km/h
func ThresholdSpeed(s *Store) float64 {
	minutes := DefaultPB5kMinutes
	if s != nil {
		if m, ok := s.Get(5); ok {
			minutes = m
		}
	}
	return 5 * 60 / minutes
}
