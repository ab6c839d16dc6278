package telemetry

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Kind identifies which snapshot field a reading updates. Values match the
// "type" field sent by the sensor firmware.
type Kind string

// Reading kinds.
const (
	KindTemperature  Kind = "Temperature"
	KindHumidity     Kind = "Humidity"
	KindLight        Kind = "Light"
	KindSoilMoisture Kind = "Soil_Moisture"
)

// ErrUnknownKind is returned for a reading type the snapshot has no field for.
var ErrUnknownKind = errors.New("telemetry: unknown reading kind")

// ParseKind validates a firmware reading type.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindTemperature, KindHumidity, KindLight, KindSoilMoisture:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Snapshot is a point-in-time copy of the latest readings.
type Snapshot struct {
	Temperature  float64   `json:"temperature"`
	Humidity     float64   `json:"humidity"`
	Light        float64   `json:"light"`
	SoilMoisture float64   `json:"soil_moisture"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store owns the live snapshot. The zero value is not usable; use NewStore.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewStore returns an empty store. All readings start at zero until the
// first sensor message arrives.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Update records one reading. at is the firmware timestamp; a zero at is
// replaced by the current time.
func (s *Store) Update(kind Kind, value float64, at time.Time) error {
	if at.IsZero() {
		at = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case KindTemperature:
		s.snap.Temperature = value
	case KindHumidity:
		s.snap.Humidity = value
	case KindLight:
		s.snap.Light = value
	case KindSoilMoisture:
		s.snap.SoilMoisture = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	s.snap.UpdatedAt = at.UTC()
	return nil
}

// Snapshot returns a copy of the current readings.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
