package emergency

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/savegress/vitalguard/internal/vitals"
	"github.com/savegress/vitalguard/pkg/models"
)

// Notifier sends emergency notifications
type Notifier interface {
	Name() string
	Notify(ctx context.Context, resp *models.EmergencyResponse) error
}

// Dispatcher runs notification tasks off the calling goroutine
type Dispatcher interface {
	TrySubmit(name string, fn func(ctx context.Context) error) error
}

// Stats summarizes recorded emergency responses
type Stats struct {
	TotalCount   int                           `json:"totalCount"`
	Last24hCount int                           `json:"last24hCount"`
	BySeverity   map[models.SeverityTier]int   `json:"bySeverity"`
	ByStatus     map[models.ResponseStatus]int `json:"byStatus"`
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTable replaces the threshold table used for classification
func WithTable(t vitals.Table) Option {
	return func(e *Engine) { e.table = t }
}

// WithDispatcher runs notifiers on d. Without one, notifiers run inline.
func WithDispatcher(d Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine classifies vitals, records emergency responses and tracks
// monitoring sessions
type Engine struct {
	sessions   map[string]*models.MonitoringSession
	responses  map[string]*models.EmergencyResponse
	byUser     map[string][]string // userID -> response ids in creation order
	userLocks  map[string]*sync.Mutex
	notifiers  []Notifier
	dispatcher Dispatcher
	table      vitals.Table
	logger     *zap.Logger
	now        func() time.Time
	mu         sync.RWMutex
}

// NewEngine creates a new emergency engine
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		sessions:  make(map[string]*models.MonitoringSession),
		responses: make(map[string]*models.EmergencyResponse),
		byUser:    make(map[string][]string),
		userLocks: make(map[string]*sync.Mutex),
		table:     vitals.DefaultTable,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddNotifier adds a notifier
func (e *Engine) AddNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifiers = append(e.notifiers, n)
}

// Classify returns the worst tier reached by the snapshot, ok=false when normal
func (e *Engine) Classify(s models.VitalsSnapshot) (models.SeverityTier, bool) {
	return e.table.Classify(s)
}

// Evaluate returns the per-metric breaches of the snapshot
func (e *Engine) Evaluate(s models.VitalsSnapshot) []vitals.Finding {
	return e.table.Evaluate(s)
}

// StartMonitoring starts or restarts monitoring for a user
func (e *Engine) StartMonitoring(userID string) (*models.MonitoringSession, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if session, ok := e.sessions[userID]; ok && session.IsActive {
		return nil, ErrAlreadyMonitoring
	}

	session := &models.MonitoringSession{
		UserID:    userID,
		IsActive:  true,
		StartTime: e.now(),
	}
	e.sessions[userID] = session

	e.logger.Info("monitoring started", zap.String("user_id", userID))
	return session.Clone(), nil
}

// StopMonitoring deactivates a user's session. Stopping an inactive session
// is a no-op.
func (e *Engine) StopMonitoring(userID string) (*models.MonitoringSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.sessions[userID]
	if !ok {
		return nil, ErrNoSuchSession
	}

	if session.IsActive {
		now := e.now()
		session.IsActive = false
		session.StopTime = &now
		e.logger.Info("monitoring stopped",
			zap.String("user_id", userID),
			zap.Int("emergency_count", session.EmergencyCount),
		)
	}
	return session.Clone(), nil
}

// CheckVitals classifies a snapshot for a user. A normal snapshot returns
// nil without recording anything. Otherwise a triggered response is stored,
// counted against the user's active session and handed to the notifiers.
func (e *Engine) CheckVitals(ctx context.Context, userID string, snapshot models.VitalsSnapshot) (*models.EmergencyResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, ErrMissingUser
	}

	tier, ok := e.table.Classify(snapshot)
	if !ok {
		return nil, nil
	}

	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	now := e.now()
	resp := &models.EmergencyResponse{
		ID:              uuid.New().String(),
		UserID:          userID,
		TriggerTime:     now,
		VitalsData:      snapshot.Clone(),
		Severity:        tier,
		ResponseActions: GenerateActions(tier),
		Status:          models.ResponseStatusTriggered,
	}

	e.mu.Lock()
	e.responses[resp.ID] = resp
	e.byUser[userID] = append(e.byUser[userID], resp.ID)
	if session, ok := e.sessions[userID]; ok && session.IsActive {
		session.EmergencyCount++
		session.LastCheckTime = &now
	}
	notifiers := make([]Notifier, len(e.notifiers))
	copy(notifiers, e.notifiers)
	out := resp.Clone()
	e.mu.Unlock()

	e.logger.Warn("emergency triggered",
		zap.String("response_id", out.ID),
		zap.String("user_id", userID),
		zap.String("severity", string(tier)),
	)

	e.notify(ctx, notifiers, out)

	return out, nil
}

// RecordCheck updates the last-check time of an active session without
// classifying. Used by monitor loops when a snapshot is normal.
func (e *Engine) RecordCheck(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if session, ok := e.sessions[userID]; ok && session.IsActive {
		now := e.now()
		session.LastCheckTime = &now
	}
}

// AcknowledgeEmergency marks a response acknowledged by the user
func (e *Engine) AcknowledgeEmergency(responseID string) (*models.EmergencyResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	resp, ok := e.responses[responseID]
	if !ok {
		return nil, ErrNoSuchResponse
	}

	switch resp.Status {
	case models.ResponseStatusAcknowledged:
		return resp.Clone(), nil
	case models.ResponseStatusResolved:
		return nil, ErrInvalidTransition
	}

	now := e.now()
	resp.Status = models.ResponseStatusAcknowledged
	resp.AcknowledgedAt = &now

	e.logger.Info("emergency acknowledged", zap.String("response_id", responseID))
	return resp.Clone(), nil
}

// ResolveEmergency closes a response
func (e *Engine) ResolveEmergency(responseID string) (*models.EmergencyResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	resp, ok := e.responses[responseID]
	if !ok {
		return nil, ErrNoSuchResponse
	}
	if resp.Status == models.ResponseStatusResolved {
		return resp.Clone(), nil
	}

	now := e.now()
	resp.Status = models.ResponseStatusResolved
	resp.ResolvedAt = &now

	e.logger.Info("emergency resolved", zap.String("response_id", responseID))
	return resp.Clone(), nil
}

// MarkActionExecuted records that an escalation step was carried out
func (e *Engine) MarkActionExecuted(responseID string, action models.ActionType) (*models.EmergencyResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	resp, ok := e.responses[responseID]
	if !ok {
		return nil, ErrNoSuchResponse
	}

	for i := range resp.ResponseActions {
		a := &resp.ResponseActions[i]
		if a.Type != action {
			continue
		}
		if !a.Executed {
			now := e.now()
			a.Executed = true
			a.ExecutedAt = &now
			e.logger.Info("emergency action executed",
				zap.String("response_id", responseID),
				zap.String("action", string(action)),
			)
		}
		return resp.Clone(), nil
	}
	return nil, ErrNoSuchAction
}

// GetMonitoringStatus returns a copy of the user's session
func (e *Engine) GetMonitoringStatus(userID string) (*models.MonitoringSession, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	session, ok := e.sessions[userID]
	if !ok {
		return nil, false
	}
	return session.Clone(), true
}

// GetEmergencyResponse returns a copy of a response
func (e *Engine) GetEmergencyResponse(responseID string) (*models.EmergencyResponse, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	resp, ok := e.responses[responseID]
	if !ok {
		return nil, false
	}
	return resp.Clone(), true
}

// GetUserEmergencyResponses returns the user's responses in creation order
func (e *Engine) GetUserEmergencyResponses(userID string) []*models.EmergencyResponse {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := e.byUser[userID]
	result := make([]*models.EmergencyResponse, 0, len(ids))
	for _, id := range ids {
		result = append(result, e.responses[id].Clone())
	}
	return result
}

// ActiveSessions returns the users currently being monitored
func (e *Engine) ActiveSessions() []*models.MonitoringSession {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var result []*models.MonitoringSession
	for _, s := range e.sessions {
		if s.IsActive {
			result = append(result, s.Clone())
		}
	}
	return result
}

// Stats returns response counts, including those triggered in the last 24h
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Stats{
		BySeverity: make(map[models.SeverityTier]int),
		ByStatus:   make(map[models.ResponseStatus]int),
	}
	cutoff := e.now().Add(-24 * time.Hour)

	for _, resp := range e.responses {
		stats.TotalCount++
		stats.BySeverity[resp.Severity]++
		stats.ByStatus[resp.Status]++
		if resp.TriggerTime.After(cutoff) {
			stats.Last24hCount++
		}
	}
	return stats
}

func (e *Engine) userLock(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		e.userLocks[userID] = lock
	}
	return lock
}

func (e *Engine) notify(ctx context.Context, notifiers []Notifier, resp *models.EmergencyResponse) {
	for _, n := range notifiers {
		n := n
		payload := resp.Clone()

		if e.dispatcher == nil {
			if err := n.Notify(ctx, payload); err != nil {
				e.logger.Error("notifier failed",
					zap.String("notifier", n.Name()),
					zap.String("response_id", resp.ID),
					zap.Error(err),
				)
			}
			continue
		}

		err := e.dispatcher.TrySubmit("notify:"+n.Name(), func(ctx context.Context) error {
			return n.Notify(ctx, payload)
		})
		if err != nil {
			e.logger.Error("failed to dispatch notification",
				zap.String("notifier", n.Name()),
				zap.String("response_id", resp.ID),
				zap.Error(err),
			)
		}
	}
}
