// Package monitor runs periodic vitals checks for monitored users.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/savegress/vitalguard/pkg/models"
)

// Engine is the subset of the emergency engine the scheduler drives
type Engine interface {
	StartMonitoring(userID string) (*models.MonitoringSession, error)
	StopMonitoring(userID string) (*models.MonitoringSession, error)
	CheckVitals(ctx context.Context, userID string, snapshot models.VitalsSnapshot) (*models.EmergencyResponse, error)
	RecordCheck(userID string)
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns one check loop per monitored user. Without a source it
// only tracks sessions and snapshots arrive through Push.
type Scheduler struct {
	engine   Engine
	source   Source
	interval time.Duration
	logger   *zap.Logger
	loops    map[string]*loop
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
}

// NewScheduler creates a scheduler
func NewScheduler(engine Engine, source Source, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		engine:   engine,
		source:   source,
		interval: interval,
		logger:   logger,
		loops:    make(map[string]*loop),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins monitoring a user
func (s *Scheduler) Start(userID string) (*models.MonitoringSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.engine.StartMonitoring(userID)
	if err != nil {
		return nil, err
	}

	if s.source == nil || s.ctx.Err() != nil {
		return session, nil
	}

	if old, ok := s.loops[userID]; ok {
		old.cancel()
		<-old.done
	}

	ctx, cancel := context.WithCancel(s.ctx)
	l := &loop{cancel: cancel, done: make(chan struct{})}
	s.loops[userID] = l
	go s.run(ctx, userID, l.done)

	return session, nil
}

// Stop ends monitoring for a user. The loop is drained first so no check
// of this loop lands after the session is marked stopped.
func (s *Scheduler) Stop(userID string) (*models.MonitoringSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.loops[userID]; ok {
		l.cancel()
		<-l.done
		delete(s.loops, userID)
	}

	return s.engine.StopMonitoring(userID)
}

// Push checks an externally supplied snapshot
func (s *Scheduler) Push(ctx context.Context, userID string, snapshot models.VitalsSnapshot) (*models.EmergencyResponse, error) {
	return s.check(ctx, userID, snapshot)
}

// Running reports whether a check loop is active for the user
func (s *Scheduler) Running(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[userID]
	return ok
}

// Shutdown stops every loop. Sessions are left as they are.
func (s *Scheduler) Shutdown() {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, l := range s.loops {
		<-l.done
		delete(s.loops, userID)
	}
}

func (s *Scheduler) run(ctx context.Context, userID string, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx, userID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, userID)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, userID string) {
	snapshot, err := s.source.Next(ctx, userID)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to read vitals",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
		return
	}

	if _, err := s.check(ctx, userID, snapshot); err != nil && ctx.Err() == nil {
		s.logger.Error("vitals check failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) check(ctx context.Context, userID string, snapshot models.VitalsSnapshot) (*models.EmergencyResponse, error) {
	resp, err := s.engine.CheckVitals(ctx, userID, snapshot)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		s.engine.RecordCheck(userID)
		s.logger.Debug("vitals normal", zap.String("user_id", userID))
	}
	return resp, nil
}
