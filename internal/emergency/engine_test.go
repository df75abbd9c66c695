package emergency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savegress/vitalguard/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu        sync.Mutex
	name      string
	err       error
	responses []*models.EmergencyResponse
}

func (n *recordingNotifier) Name() string { return n.name }

func (n *recordingNotifier) Notify(_ context.Context, resp *models.EmergencyResponse) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responses = append(n.responses, resp)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.responses)
}

type rejectingDispatcher struct{ calls int }

func (d *rejectingDispatcher) TrySubmit(string, func(ctx context.Context) error) error {
	d.calls++
	return errors.New("pool closed")
}

func heartRate(v float64) models.VitalsSnapshot {
	return models.VitalsSnapshot{HeartRate: models.Float(v), Timestamp: time.Now()}
}

func actionPairs(resp *models.EmergencyResponse) []models.EmergencyAction {
	out := make([]models.EmergencyAction, len(resp.ResponseActions))
	copy(out, resp.ResponseActions)
	return out
}

func TestCheckVitals_NormalRecordsNothing(t *testing.T) {
	e := NewEngine()
	_, err := e.StartMonitoring("u1")
	require.NoError(t, err)

	snap := models.VitalsSnapshot{
		HeartRate:        models.Float(72),
		BloodPressure:    &models.BloodPressure{Systolic: 120, Diastolic: 80},
		Temperature:      models.Float(36.8),
		OxygenSaturation: models.Float(98),
		Timestamp:        time.Now(),
	}
	resp, err := e.CheckVitals(context.Background(), "u1", snap)
	require.NoError(t, err)
	assert.Nil(t, resp)

	assert.Empty(t, e.GetUserEmergencyResponses("u1"))
	session, ok := e.GetMonitoringStatus("u1")
	require.True(t, ok)
	assert.Zero(t, session.EmergencyCount)
	assert.Zero(t, e.Stats().TotalCount)
}

func TestCheckVitals_EmptySnapshot(t *testing.T) {
	e := NewEngine()
	resp, err := e.CheckVitals(context.Background(), "u1", models.VitalsSnapshot{Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestCheckVitals_ActionsPerTier(t *testing.T) {
	tests := []struct {
		name     string
		hr       float64
		severity models.SeverityTier
		actions  []models.EmergencyAction
	}{
		{
			name:     "critical",
			hr:       35,
			severity: models.SeverityCritical,
			actions: []models.EmergencyAction{
				{Type: models.ActionCallEmergency, Priority: 1},
				{Type: models.ActionCallDoctor, Priority: 2},
				{Type: models.ActionAlertFamily, Priority: 3},
			},
		},
		{
			name:     "urgent",
			hr:       45,
			severity: models.SeverityUrgent,
			actions: []models.EmergencyAction{
				{Type: models.ActionCallDoctor, Priority: 1},
				{Type: models.ActionCallEmergency, Priority: 2},
				{Type: models.ActionAlertFamily, Priority: 3},
			},
		},
		{
			name:     "warning",
			hr:       55,
			severity: models.SeverityWarning,
			actions: []models.EmergencyAction{
				{Type: models.ActionCallDoctor, Priority: 1},
				{Type: models.ActionAlertFamily, Priority: 2},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine()
			resp, err := e.CheckVitals(context.Background(), "u1", heartRate(tt.hr))
			require.NoError(t, err)
			require.NotNil(t, resp)

			assert.Equal(t, tt.severity, resp.Severity)
			assert.Equal(t, models.ResponseStatusTriggered, resp.Status)
			assert.Equal(t, tt.actions, actionPairs(resp))
			for _, a := range resp.ResponseActions {
				assert.False(t, a.Executed)
				assert.Nil(t, a.ExecutedAt)
			}
		})
	}
}

func TestCheckVitals_StoresResponse(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(WithClock(clock.Now))

	snap := heartRate(35)
	resp, err := e.CheckVitals(context.Background(), "u1", snap)
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "u1", resp.UserID)
	assert.Equal(t, clock.Now(), resp.TriggerTime)
	assert.Equal(t, 35.0, *resp.VitalsData.HeartRate)

	stored, ok := e.GetEmergencyResponse(resp.ID)
	require.True(t, ok)
	assert.Equal(t, resp, stored)

	// caller mutation does not leak into the store
	*snap.HeartRate = 80
	stored.Status = models.ResponseStatusResolved
	again, _ := e.GetEmergencyResponse(resp.ID)
	assert.Equal(t, 35.0, *again.VitalsData.HeartRate)
	assert.Equal(t, models.ResponseStatusTriggered, again.Status)
}

func TestCheckVitals_SessionCounter(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(WithClock(clock.Now))

	// no session: response stored, no session created
	_, err := e.CheckVitals(context.Background(), "u1", heartRate(45))
	require.NoError(t, err)
	_, ok := e.GetMonitoringStatus("u1")
	assert.False(t, ok)

	_, err = e.StartMonitoring("u1")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = e.CheckVitals(context.Background(), "u1", heartRate(45))
	require.NoError(t, err)
	_, err = e.CheckVitals(context.Background(), "u1", heartRate(55))
	require.NoError(t, err)

	session, _ := e.GetMonitoringStatus("u1")
	assert.Equal(t, 2, session.EmergencyCount)
	require.NotNil(t, session.LastCheckTime)
	assert.Equal(t, clock.Now(), *session.LastCheckTime)

	_, err = e.StopMonitoring("u1")
	require.NoError(t, err)
	_, err = e.CheckVitals(context.Background(), "u1", heartRate(45))
	require.NoError(t, err)

	session, _ = e.GetMonitoringStatus("u1")
	assert.Equal(t, 2, session.EmergencyCount)
	assert.Len(t, e.GetUserEmergencyResponses("u1"), 4)
}

func TestCheckVitals_Errors(t *testing.T) {
	e := NewEngine()

	_, err := e.CheckVitals(context.Background(), "", heartRate(35))
	assert.ErrorIs(t, err, ErrMissingUser)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.CheckVitals(ctx, "u1", heartRate(35))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, e.GetUserEmergencyResponses("u1"))
}

func TestCheckVitals_Notifiers(t *testing.T) {
	e := NewEngine()
	ok := &recordingNotifier{name: "ok"}
	failing := &recordingNotifier{name: "failing", err: errors.New("down")}
	e.AddNotifier(ok)
	e.AddNotifier(failing)

	resp, err := e.CheckVitals(context.Background(), "u1", heartRate(35))
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, failing.count())
	assert.Equal(t, resp.ID, ok.responses[0].ID)

	_, err = e.CheckVitals(context.Background(), "u1", heartRate(72))
	require.NoError(t, err)
	assert.Equal(t, 1, ok.count())
}

func TestCheckVitals_DispatchFailureDoesNotFailCheck(t *testing.T) {
	d := &rejectingDispatcher{}
	e := NewEngine(WithDispatcher(d))
	e.AddNotifier(&recordingNotifier{name: "n"})

	resp, err := e.CheckVitals(context.Background(), "u1", heartRate(35))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 1, d.calls)

	_, ok := e.GetEmergencyResponse(resp.ID)
	assert.True(t, ok)
}

func TestStartMonitoring(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(WithClock(clock.Now))

	session, err := e.StartMonitoring("u1")
	require.NoError(t, err)
	assert.True(t, session.IsActive)
	assert.Equal(t, clock.Now(), session.StartTime)
	assert.Zero(t, session.EmergencyCount)

	_, err = e.StartMonitoring("u1")
	assert.ErrorIs(t, err, ErrAlreadyMonitoring)

	_, err = e.StartMonitoring("")
	assert.ErrorIs(t, err, ErrMissingUser)
}

func TestStartMonitoring_RestartResetsSession(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(WithClock(clock.Now))

	_, err := e.StartMonitoring("u1")
	require.NoError(t, err)
	_, err = e.CheckVitals(context.Background(), "u1", heartRate(35))
	require.NoError(t, err)
	_, err = e.StopMonitoring("u1")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	session, err := e.StartMonitoring("u1")
	require.NoError(t, err)
	assert.True(t, session.IsActive)
	assert.Zero(t, session.EmergencyCount)
	assert.Equal(t, clock.Now(), session.StartTime)
	assert.Nil(t, session.StopTime)
}

func TestStopMonitoring(t *testing.T) {
	e := NewEngine()

	_, err := e.StopMonitoring("never-started")
	assert.ErrorIs(t, err, ErrNoSuchSession)

	_, err = e.StartMonitoring("u1")
	require.NoError(t, err)

	session, err := e.StopMonitoring("u1")
	require.NoError(t, err)
	assert.False(t, session.IsActive)
	require.NotNil(t, session.StopTime)

	again, err := e.StopMonitoring("u1")
	require.NoError(t, err)
	assert.Equal(t, session.StopTime, again.StopTime)
}

func TestAcknowledgeEmergency(t *testing.T) {
	e := NewEngine()
	resp, err := e.CheckVitals(context.Background(), "u1", heartRate(35))
	require.NoError(t, err)

	acked, err := e.AcknowledgeEmergency(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedAt)

	stored, _ := e.GetEmergencyResponse(resp.ID)
	assert.Equal(t, models.ResponseStatusAcknowledged, stored.Status)

	// second acknowledgement is a no-op
	again, err := e.AcknowledgeEmergency(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, acked.AcknowledgedAt, again.AcknowledgedAt)

	_, err = e.AcknowledgeEmergency("unknown")
	assert.ErrorIs(t, err, ErrNoSuchResponse)
}

func TestResolveEmergency(t *testing.T) {
	e := NewEngine()
	resp, err := e.CheckVitals(context.Background(), "u1", heartRate(45))
	require.NoError(t, err)

	resolved, err := e.ResolveEmergency(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	_, err = e.AcknowledgeEmergency(resp.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = e.ResolveEmergency("unknown")
	assert.ErrorIs(t, err, ErrNoSuchResponse)
}

func TestMarkActionExecuted(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(WithClock(clock.Now))
	resp, err := e.CheckVitals(context.Background(), "u1", heartRate(55))
	require.NoError(t, err)

	updated, err := e.MarkActionExecuted(resp.ID, models.ActionCallDoctor)
	require.NoError(t, err)
	assert.True(t, updated.ResponseActions[0].Executed)
	require.NotNil(t, updated.ResponseActions[0].ExecutedAt)
	assert.Equal(t, clock.Now(), *updated.ResponseActions[0].ExecutedAt)
	assert.False(t, updated.ResponseActions[1].Executed)

	_, err = e.MarkActionExecuted(resp.ID, models.ActionCallEmergency)
	assert.ErrorIs(t, err, ErrNoSuchAction)

	_, err = e.MarkActionExecuted("unknown", models.ActionCallDoctor)
	assert.ErrorIs(t, err, ErrNoSuchResponse)
}

func TestGetUserEmergencyResponses_Order(t *testing.T) {
	e := NewEngine()
	ctx := context.Background()

	var ids []string
	for _, hr := range []float64{35, 45, 55, 30} {
		resp, err := e.CheckVitals(ctx, "u1", heartRate(hr))
		require.NoError(t, err)
		ids = append(ids, resp.ID)
	}
	_, err := e.CheckVitals(ctx, "u2", heartRate(35))
	require.NoError(t, err)

	_, err = e.AcknowledgeEmergency(ids[1])
	require.NoError(t, err)

	list := e.GetUserEmergencyResponses("u1")
	require.Len(t, list, 4)
	for i, r := range list {
		assert.Equal(t, ids[i], r.ID)
		assert.Equal(t, "u1", r.UserID)
	}
	assert.Empty(t, e.GetUserEmergencyResponses("nobody"))
}

func TestCheckVitals_ConcurrentSameUser(t *testing.T) {
	e := NewEngine()
	_, err := e.StartMonitoring("u1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.CheckVitals(context.Background(), "u1", heartRate(35))
		}()
	}
	wg.Wait()

	session, _ := e.GetMonitoringStatus("u1")
	assert.Equal(t, 50, session.EmergencyCount)
	assert.Len(t, e.GetUserEmergencyResponses("u1"), 50)
}

func TestStats(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(WithClock(clock.Now))
	ctx := context.Background()

	old, err := e.CheckVitals(ctx, "u1", heartRate(35))
	require.NoError(t, err)
	_, err = e.ResolveEmergency(old.ID)
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	_, err = e.CheckVitals(ctx, "u1", heartRate(45))
	require.NoError(t, err)
	_, err = e.CheckVitals(ctx, "u2", heartRate(55))
	require.NoError(t, err)

	stats := e.Stats()
	assert.Equal(t, 3, stats.TotalCount)
	assert.Equal(t, 2, stats.Last24hCount)
	assert.Equal(t, 1, stats.BySeverity[models.SeverityCritical])
	assert.Equal(t, 1, stats.BySeverity[models.SeverityUrgent])
	assert.Equal(t, 1, stats.BySeverity[models.SeverityWarning])
	assert.Equal(t, 2, stats.ByStatus[models.ResponseStatusTriggered])
	assert.Equal(t, 1, stats.ByStatus[models.ResponseStatusResolved])
}

func TestActiveSessions(t *testing.T) {
	e := NewEngine()
	_, _ = e.StartMonitoring("u1")
	_, _ = e.StartMonitoring("u2")
	_, _ = e.StopMonitoring("u2")

	active := e.ActiveSessions()
	require.Len(t, active, 1)
	assert.Equal(t, "u1", active[0].UserID)
}

func TestGenerateActions_Normal(t *testing.T) {
	assert.Empty(t, GenerateActions(models.SeverityNormal))
	assert.Empty(t, GenerateActions("bogus"))
}

func TestError(t *testing.T) {
	var engineErr *Error
	require.True(t, errors.As(ErrNoSuchSession, &engineErr))
	assert.Equal(t, "NO_SUCH_SESSION", engineErr.Code)
	assert.Equal(t, "no monitoring session for user", ErrNoSuchSession.Error())
}
