package monitor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/savegress/vitalguard/pkg/models"
)

// Source produces vitals snapshots for a user
type Source interface {
	Next(ctx context.Context, userID string) (models.VitalsSnapshot, error)
}

// SimulatedSource generates plausible readings. Most snapshots are normal;
// roughly 20% drift mildly, 8% are moderately abnormal and 2% severe.
type SimulatedSource struct {
	rng *rand.Rand
	now func() time.Time
	mu  sync.Mutex
}

// NewSimulatedSource creates a simulated source. A zero seed uses the clock.
func NewSimulatedSource(seed int64) *SimulatedSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimulatedSource{
		rng: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
}

// Next returns the next simulated snapshot
func (s *SimulatedSource) Next(ctx context.Context, _ string) (models.VitalsSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.VitalsSnapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hr, sys, dia, temp, o2 := 75.0, 120.0, 80.0, 36.6, 98.0

	switch roll := s.rng.Float64(); {
	case roll > 0.98:
		hr = 40 + float64(s.rng.Intn(20))
		sys = 70 + float64(s.rng.Intn(20))
		dia = 40 + float64(s.rng.Intn(10))
		temp = 39 + s.rng.Float64()
		o2 = 85 + float64(s.rng.Intn(5))
	case roll > 0.9:
		hr = 55 + float64(s.rng.Intn(40))
		sys = 90 + float64(s.rng.Intn(40))
		dia = 50 + float64(s.rng.Intn(20))
		temp = 38 + s.rng.Float64()*0.5
		o2 = 90 + float64(s.rng.Intn(5))
	case roll > 0.7:
		hr = 60 + float64(s.rng.Intn(30))
		temp = 37.5 + s.rng.Float64()*0.3
	default:
		hr = 65 + float64(s.rng.Intn(15))
		sys = 110 + float64(s.rng.Intn(15))
		dia = 70 + float64(s.rng.Intn(10))
		temp = 36.3 + s.rng.Float64()*0.4
		o2 = 96 + float64(s.rng.Intn(3))
	}

	return models.VitalsSnapshot{
		HeartRate:        models.Float(hr),
		BloodPressure:    &models.BloodPressure{Systolic: sys, Diastolic: dia},
		Temperature:      models.Float(math.Round(temp*10) / 10),
		OxygenSaturation: models.Float(o2),
		Timestamp:        s.now(),
	}, nil
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context, userID string) (models.VitalsSnapshot, error)

// Next calls f
func (f SourceFunc) Next(ctx context.Context, userID string) (models.VitalsSnapshot, error) {
	return f(ctx, userID)
}
