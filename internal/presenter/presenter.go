// Package presenter turns emergency responses into user-facing prompts and
// alert dialogs.
package presenter

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/savegress/vitalguard/internal/websocket"
	"github.com/savegress/vitalguard/pkg/models"
)

// ErrResponseMismatch is returned when a user acknowledges a response that
// is not theirs
var ErrResponseMismatch = errors.New("emergency response belongs to another user")

// Publisher delivers events to a user's connected clients
type Publisher interface {
	Publish(userID, msgType string, payload interface{}) error
}

// Responses is the part of the emergency engine the presenter acts on
type Responses interface {
	GetEmergencyResponse(responseID string) (*models.EmergencyResponse, bool)
	AcknowledgeEmergency(responseID string) (*models.EmergencyResponse, error)
	ResolveEmergency(responseID string) (*models.EmergencyResponse, error)
	MarkActionExecuted(responseID string, action models.ActionType) (*models.EmergencyResponse, error)
}

// Config holds presentation timing
type Config struct {
	PromptCooldown time.Duration
	DialogTimeout  time.Duration
}

// Prompt asks the user to call emergency services
type Prompt struct {
	ResponseID string              `json:"responseId"`
	Severity   models.SeverityTier `json:"severity"`
	Message    string              `json:"message"`
	Action     models.ActionType   `json:"action"`
}

// DialogEvent reports a dialog state change
type DialogEvent struct {
	ResponseID string              `json:"responseId"`
	Severity   models.SeverityTier `json:"severity"`
	State      DialogState         `json:"state"`
}

// Presenter is an emergency notifier that pushes events, rate-limited
// critical prompts and alert dialogs to users
type Presenter struct {
	publisher Publisher
	engine    Responses
	gate      *CooldownGate
	timeout   time.Duration
	dialogs   map[string]*Dialog // userID -> current dialog
	logger    *zap.Logger
	now       func() time.Time
	mu        sync.Mutex
}

// New creates a presenter
func New(publisher Publisher, engine Responses, cfg Config, logger *zap.Logger) *Presenter {
	if cfg.PromptCooldown <= 0 {
		cfg.PromptCooldown = 5 * time.Minute
	}
	if cfg.DialogTimeout <= 0 {
		cfg.DialogTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Presenter{
		publisher: publisher,
		engine:    engine,
		gate:      NewCooldownGate(cfg.PromptCooldown),
		timeout:   cfg.DialogTimeout,
		dialogs:   make(map[string]*Dialog),
		logger:    logger,
		now:       time.Now,
	}
}

// Name returns the notifier name
func (p *Presenter) Name() string {
	return "presenter"
}

// Notify publishes the response, prompts on critical severity outside the
// cooldown and presents a dialog unless the user already has one open for a
// response still awaiting them
func (p *Presenter) Notify(_ context.Context, resp *models.EmergencyResponse) error {
	if err := p.publisher.Publish(resp.UserID, websocket.TypeEmergency, resp); err != nil {
		return err
	}

	if resp.Severity == models.SeverityCritical && p.gate.Allow(resp.UserID, p.now()) {
		prompt := Prompt{
			ResponseID: resp.ID,
			Severity:   resp.Severity,
			Message:    "Repeated critical vital signs detected. Call emergency services now.",
			Action:     models.ActionCallEmergency,
		}
		if err := p.publisher.Publish(resp.UserID, websocket.TypePrompt, prompt); err != nil {
			return err
		}
	}

	p.mu.Lock()
	current, ok := p.dialogs[resp.UserID]
	if ok && current.Open() && p.pending(current) {
		p.mu.Unlock()
		p.logger.Debug("dialog already open",
			zap.String("user_id", resp.UserID),
			zap.String("response_id", resp.ID),
		)
		return nil
	}
	dialog := NewDialog(p.timeout, p.escalate)
	p.dialogs[resp.UserID] = dialog
	p.mu.Unlock()

	// a dialog still open for a settled response gives way to the new one
	if ok && current.Open() {
		p.closeDialog(current, current.Response(), false)
	}

	if err := dialog.Present(resp); err != nil {
		return err
	}
	return p.publishDialog(resp, DialogPresented)
}

// Acknowledge acknowledges a response on behalf of a user and closes the
// matching dialog
func (p *Presenter) Acknowledge(userID, responseID string) (*models.EmergencyResponse, error) {
	if err := p.authorize(userID, responseID); err != nil {
		return nil, err
	}

	resp, err := p.engine.AcknowledgeEmergency(responseID)
	if err != nil {
		return nil, err
	}
	p.settle(resp, true)
	return resp, nil
}

// Resolve closes a response and dismisses its dialog
func (p *Presenter) Resolve(userID, responseID string) (*models.EmergencyResponse, error) {
	if err := p.authorize(userID, responseID); err != nil {
		return nil, err
	}

	resp, err := p.engine.ResolveEmergency(responseID)
	if err != nil {
		return nil, err
	}
	p.settle(resp, false)
	return resp, nil
}

// ExecuteAction records an escalation step taken from the dialog. Taking any
// step counts as the user's acknowledgement of a triggered response.
func (p *Presenter) ExecuteAction(userID, responseID string, action models.ActionType) (*models.EmergencyResponse, error) {
	if err := p.authorize(userID, responseID); err != nil {
		return nil, err
	}

	resp, err := p.engine.MarkActionExecuted(responseID, action)
	if err != nil {
		return nil, err
	}

	if resp.Status == models.ResponseStatusTriggered {
		if resp, err = p.engine.AcknowledgeEmergency(responseID); err != nil {
			return nil, err
		}
	}
	p.settle(resp, resp.Status != models.ResponseStatusResolved)
	return resp, nil
}

// ResetCooldown lets the user's next critical response prompt immediately
func (p *Presenter) ResetCooldown(userID string) {
	p.gate.Reset(userID)
}

// DialogState returns the state of the user's current dialog
func (p *Presenter) DialogState(userID string) (DialogEvent, bool) {
	p.mu.Lock()
	dialog, ok := p.dialogs[userID]
	p.mu.Unlock()
	if !ok {
		return DialogEvent{State: DialogIdle}, false
	}

	event := DialogEvent{State: dialog.State()}
	if resp := dialog.Response(); resp != nil {
		event.ResponseID = resp.ID
		event.Severity = resp.Severity
	}
	return event, true
}

// authorize rejects acting on another user's response. An empty user skips
// the check.
func (p *Presenter) authorize(userID, responseID string) error {
	if existing, ok := p.engine.GetEmergencyResponse(responseID); ok && userID != "" && existing.UserID != userID {
		return ErrResponseMismatch
	}
	return nil
}

// pending reports whether the dialog's response still awaits the user.
// Called with p.mu held.
func (p *Presenter) pending(d *Dialog) bool {
	shown := d.Response()
	if shown == nil {
		return false
	}
	stored, ok := p.engine.GetEmergencyResponse(shown.ID)
	return ok && stored.Status == models.ResponseStatusTriggered
}

// settle closes the user's dialog when it shows resp
func (p *Presenter) settle(resp *models.EmergencyResponse, acknowledged bool) {
	p.mu.Lock()
	dialog, ok := p.dialogs[resp.UserID]
	p.mu.Unlock()
	if !ok {
		return
	}
	if shown := dialog.Response(); shown == nil || shown.ID != resp.ID {
		return
	}
	p.closeDialog(dialog, resp, acknowledged)
}

func (p *Presenter) closeDialog(dialog *Dialog, resp *models.EmergencyResponse, acknowledged bool) {
	if dialog.State() == DialogClosed {
		return
	}

	var err error
	if acknowledged {
		if err = dialog.Acknowledge(); err == nil {
			err = dialog.Close()
		}
	} else {
		err = dialog.Dismiss()
	}
	if err != nil {
		p.logger.Warn("failed to close dialog",
			zap.String("user_id", resp.UserID),
			zap.String("response_id", resp.ID),
			zap.Error(err),
		)
		return
	}

	if err := p.publishDialog(resp, DialogClosed); err != nil {
		p.logger.Warn("failed to publish dialog state", zap.Error(err))
	}
}

func (p *Presenter) escalate(resp *models.EmergencyResponse) {
	p.logger.Warn("emergency not acknowledged in time",
		zap.String("user_id", resp.UserID),
		zap.String("response_id", resp.ID),
		zap.Duration("timeout", p.timeout),
	)
	if err := p.publishDialog(resp, DialogEscalated); err != nil {
		p.logger.Warn("failed to publish dialog state", zap.Error(err))
	}
}

func (p *Presenter) publishDialog(resp *models.EmergencyResponse, state DialogState) error {
	return p.publisher.Publish(resp.UserID, websocket.TypeDialog, DialogEvent{
		ResponseID: resp.ID,
		Severity:   resp.Severity,
		State:      state,
	})
}
