package state

import (
	"sync"
	"time"

	"github.com/fisaks/weatherstation/internal/weather"
)

// ReadingStateStore remembers the last reading sent per kind and when it was sent.
type ReadingStateStore interface {
	GetLast(kind weather.Kind) (weather.SensorReading, time.Time, bool)
	Update(reading weather.SensorReading)
	HasChanged(reading weather.SensorReading) bool
	// NeedsSend is true when the reading changed or the heartbeat interval elapsed.
	NeedsSend(reading weather.SensorReading, heartbeat time.Duration) bool
	All() []weather.SensorReading
	Clear()
}

type readingStateStore struct {
	store     map[weather.Kind]weather.SensorReading
	heartbeat map[weather.Kind]time.Time
	now       func() time.Time
	mu        sync.RWMutex
}

func NewReadingStateStore() ReadingStateStore {
	return &readingStateStore{
		store:     make(map[weather.Kind]weather.SensorReading),
		heartbeat: make(map[weather.Kind]time.Time),
		now:       time.Now,
	}
}

func (s *readingStateStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = make(map[weather.Kind]weather.SensorReading)
	s.heartbeat = make(map[weather.Kind]time.Time)
}

func (s *readingStateStore) GetLast(kind weather.Kind) (weather.SensorReading, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.store[kind]
	sent, ok2 := s.heartbeat[kind]
	return r, sent, ok && ok2
}

func (s *readingStateStore) Update(reading weather.SensorReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[reading.Kind] = reading
	s.heartbeat[reading.Kind] = s.now()
}

// HasChanged compares the raw value and source; the timestamp is ignored.
func (s *readingStateStore) HasChanged(reading weather.SensorReading) bool {
	last, _, ok := s.GetLast(reading.Kind)
	if !ok {
		return true
	}
	return last.Raw != reading.Raw || last.Source != reading.Source
}

func (s *readingStateStore) NeedsSend(reading weather.SensorReading, heartbeat time.Duration) bool {
	if s.HasChanged(reading) {
		return true
	}
	if heartbeat <= 0 {
		return false
	}
	_, lastSent, ok := s.GetLast(reading.Kind)
	return !ok || s.now().Sub(lastSent) > heartbeat
}

// All returns the stored readings in display row order.
func (s *readingStateStore) All() []weather.SensorReading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]weather.SensorReading, 0, len(s.store))
	for _, k := range weather.Kinds {
		if r, ok := s.store[k]; ok {
			out = append(out, r)
		}
	}
	return out
}
