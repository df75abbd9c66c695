package presenter

import (
	"errors"
	"sync"
	"time"

	"github.com/savegress/vitalguard/pkg/models"
)

// DialogState is the lifecycle state of an alert dialog
type DialogState string

const (
	DialogIdle         DialogState = "idle"
	DialogPresented    DialogState = "presented"
	DialogAcknowledged DialogState = "acknowledged"
	DialogEscalated    DialogState = "escalated"
	DialogClosed       DialogState = "closed"
)

// ErrInvalidDialogTransition is returned when a dialog cannot move to the
// requested state
var ErrInvalidDialogTransition = errors.New("invalid dialog transition")

// Dialog tracks one emergency alert shown to a user. Presenting starts a
// countdown; if it expires before acknowledgement the dialog escalates and
// stays open.
type Dialog struct {
	timeout    time.Duration
	onEscalate func(*models.EmergencyResponse)
	state      DialogState
	response   *models.EmergencyResponse
	timer      *time.Timer
	mu         sync.Mutex
}

// NewDialog creates an idle dialog. onEscalate runs on the timer goroutine.
func NewDialog(timeout time.Duration, onEscalate func(*models.EmergencyResponse)) *Dialog {
	return &Dialog{
		timeout:    timeout,
		onEscalate: onEscalate,
		state:      DialogIdle,
	}
}

// Present shows the response and starts the countdown
func (d *Dialog) Present(resp *models.EmergencyResponse) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != DialogIdle {
		return ErrInvalidDialogTransition
	}

	d.state = DialogPresented
	d.response = resp
	d.timer = time.AfterFunc(d.timeout, d.expire)
	return nil
}

// Acknowledge records the user's acknowledgement and stops the countdown
func (d *Dialog) Acknowledge() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case DialogPresented, DialogEscalated:
	case DialogAcknowledged:
		return nil
	default:
		return ErrInvalidDialogTransition
	}

	d.stopTimer()
	d.state = DialogAcknowledged
	return nil
}

// Close dismisses the dialog
func (d *Dialog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case DialogAcknowledged, DialogEscalated:
	case DialogClosed:
		return nil
	default:
		return ErrInvalidDialogTransition
	}

	d.stopTimer()
	d.state = DialogClosed
	return nil
}

// Dismiss closes the dialog without an acknowledgement, for a response that
// was settled elsewhere
func (d *Dialog) Dismiss() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case DialogIdle:
		return ErrInvalidDialogTransition
	case DialogClosed:
		return nil
	}

	d.stopTimer()
	d.state = DialogClosed
	return nil
}

// State returns the current state
func (d *Dialog) State() DialogState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Response returns the response being shown, nil while idle
func (d *Dialog) Response() *models.EmergencyResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.response
}

// Open reports whether the dialog is still waiting on the user
func (d *Dialog) Open() bool {
	s := d.State()
	return s == DialogPresented || s == DialogEscalated
}

func (d *Dialog) expire() {
	d.mu.Lock()
	if d.state != DialogPresented {
		d.mu.Unlock()
		return
	}
	d.state = DialogEscalated
	resp := d.response
	cb := d.onEscalate
	d.mu.Unlock()

	if cb != nil {
		cb(resp)
	}
}

func (d *Dialog) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
