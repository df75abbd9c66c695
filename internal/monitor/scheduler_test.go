package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/savegress/vitalguard/internal/emergency"
	"github.com/savegress/vitalguard/internal/vitals"
	"github.com/savegress/vitalguard/pkg/models"
)

func fixedSource(hr float64, calls *atomic.Int32) Source {
	return SourceFunc(func(ctx context.Context, userID string) (models.VitalsSnapshot, error) {
		calls.Add(1)
		return models.VitalsSnapshot{HeartRate: models.Float(hr), Timestamp: time.Now()}, nil
	})
}

func TestScheduler_StartRunsChecks(t *testing.T) {
	engine := emergency.NewEngine()
	var calls atomic.Int32
	s := NewScheduler(engine, fixedSource(35, &calls), 10*time.Millisecond, zap.NewNop())
	defer s.Shutdown()

	session, err := s.Start("u1")
	require.NoError(t, err)
	assert.True(t, session.IsActive)
	assert.True(t, s.Running("u1"))

	require.Eventually(t, func() bool {
		return calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	_, err = s.Stop("u1")
	require.NoError(t, err)
	assert.False(t, s.Running("u1"))

	stopped := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())

	status, ok := engine.GetMonitoringStatus("u1")
	require.True(t, ok)
	assert.False(t, status.IsActive)
	assert.GreaterOrEqual(t, status.EmergencyCount, 2)
	assert.Len(t, engine.GetUserEmergencyResponses("u1"), status.EmergencyCount)
}

func TestScheduler_StopDuringCheck(t *testing.T) {
	engine := emergency.NewEngine()
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	// the first read blocks until released and ignores cancellation, so the
	// stop below arrives while a check is in flight
	src := SourceFunc(func(ctx context.Context, userID string) (models.VitalsSnapshot, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return models.VitalsSnapshot{HeartRate: models.Float(35), Timestamp: time.Now()}, nil
	})
	s := NewScheduler(engine, src, 5*time.Millisecond, nil)
	defer s.Shutdown()

	_, err := s.Start("u1")
	require.NoError(t, err)

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("check did not start")
	}

	stopped := make(chan *models.MonitoringSession, 1)
	go func() {
		session, err := s.Stop("u1")
		assert.NoError(t, err)
		stopped <- session
	}()

	// Stop waits on the in-flight check
	select {
	case <-stopped:
		t.Fatal("stop returned before the check finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	var session *models.MonitoringSession
	select {
	case session = <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop did not return")
	}
	require.NotNil(t, session)
	assert.False(t, session.IsActive)
	assert.False(t, s.Running("u1"))

	frozen := session.EmergencyCount
	readCalls := calls.Load()
	time.Sleep(30 * time.Millisecond)

	status, ok := engine.GetMonitoringStatus("u1")
	require.True(t, ok)
	assert.False(t, status.IsActive)
	assert.Equal(t, frozen, status.EmergencyCount)
	assert.Equal(t, readCalls, calls.Load())
	assert.Len(t, engine.GetUserEmergencyResponses("u1"), frozen)
}

func TestScheduler_NormalReadingsUpdateLastCheck(t *testing.T) {
	engine := emergency.NewEngine()
	var calls atomic.Int32
	s := NewScheduler(engine, fixedSource(72, &calls), 10*time.Millisecond, nil)
	defer s.Shutdown()

	_, err := s.Start("u1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, _ := engine.GetMonitoringStatus("u1")
		return status.LastCheckTime != nil
	}, time.Second, 5*time.Millisecond)

	status, _ := engine.GetMonitoringStatus("u1")
	assert.Zero(t, status.EmergencyCount)
	assert.Empty(t, engine.GetUserEmergencyResponses("u1"))
}

func TestScheduler_Errors(t *testing.T) {
	engine := emergency.NewEngine()
	var calls atomic.Int32
	s := NewScheduler(engine, fixedSource(72, &calls), time.Hour, nil)
	defer s.Shutdown()

	_, err := s.Start("u1")
	require.NoError(t, err)

	_, err = s.Start("u1")
	assert.ErrorIs(t, err, emergency.ErrAlreadyMonitoring)

	_, err = s.Stop("never-started")
	assert.ErrorIs(t, err, emergency.ErrNoSuchSession)
}

func TestScheduler_SourceErrorKeepsLoop(t *testing.T) {
	engine := emergency.NewEngine()
	var calls atomic.Int32
	src := SourceFunc(func(ctx context.Context, userID string) (models.VitalsSnapshot, error) {
		calls.Add(1)
		return models.VitalsSnapshot{}, errors.New("sensor offline")
	})
	s := NewScheduler(engine, src, 5*time.Millisecond, nil)
	defer s.Shutdown()

	_, err := s.Start("u1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)
	assert.True(t, s.Running("u1"))
}

func TestScheduler_PushMode(t *testing.T) {
	engine := emergency.NewEngine()
	s := NewScheduler(engine, nil, time.Second, nil)
	defer s.Shutdown()

	_, err := s.Start("u1")
	require.NoError(t, err)
	assert.False(t, s.Running("u1"))

	resp, err := s.Push(context.Background(), "u1", models.VitalsSnapshot{
		OxygenSaturation: models.Float(84),
		Timestamp:        time.Now(),
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, models.SeverityCritical, resp.Severity)

	resp, err = s.Push(context.Background(), "u1", models.VitalsSnapshot{
		OxygenSaturation: models.Float(98),
		Timestamp:        time.Now(),
	})
	require.NoError(t, err)
	assert.Nil(t, resp)

	status, _ := engine.GetMonitoringStatus("u1")
	assert.Equal(t, 1, status.EmergencyCount)
	assert.NotNil(t, status.LastCheckTime)
}

func TestScheduler_Shutdown(t *testing.T) {
	engine := emergency.NewEngine()
	var calls atomic.Int32
	s := NewScheduler(engine, fixedSource(72, &calls), 5*time.Millisecond, nil)

	for _, u := range []string{"u1", "u2", "u3"} {
		_, err := s.Start(u)
		require.NoError(t, err)
	}

	s.Shutdown()
	for _, u := range []string{"u1", "u2", "u3"} {
		assert.False(t, s.Running(u))
	}

	// sessions stay active; new loops are not started after shutdown
	assert.Len(t, engine.ActiveSessions(), 3)
	_, err := s.Stop("u1")
	require.NoError(t, err)
	_, err = s.Start("u1")
	require.NoError(t, err)
	assert.False(t, s.Running("u1"))
}

func TestSimulatedSource_Deterministic(t *testing.T) {
	a := NewSimulatedSource(42)
	b := NewSimulatedSource(42)

	for i := 0; i < 20; i++ {
		sa, err := a.Next(context.Background(), "u1")
		require.NoError(t, err)
		sb, err := b.Next(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, *sa.HeartRate, *sb.HeartRate)
		assert.Equal(t, *sa.BloodPressure, *sb.BloodPressure)
	}
}

func TestSimulatedSource_Plausible(t *testing.T) {
	src := NewSimulatedSource(7)
	normal := 0
	for i := 0; i < 500; i++ {
		snap, err := src.Next(context.Background(), "u1")
		require.NoError(t, err)
		assert.Empty(t, vitals.Validate(snap))
		if _, ok := vitals.Classify(snap); !ok {
			normal++
		}
	}
	// most readings are normal
	assert.Greater(t, normal, 250)
}

func TestSimulatedSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSimulatedSource(1).Next(ctx, "u1")
	assert.ErrorIs(t, err, context.Canceled)
}
