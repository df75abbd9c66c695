package models

import (
	"time"
)

// SeverityTier represents the severity classification of a vitals snapshot
type SeverityTier string

const (
	SeverityNormal   SeverityTier = "normal"
	SeverityWarning  SeverityTier = "warning"
	SeverityUrgent   SeverityTier = "urgent"
	SeverityCritical SeverityTier = "critical"
)

// Rank orders tiers so that the worst one wins: normal < warning < urgent < critical.
// Unknown tiers rank below normal.
func (s SeverityTier) Rank() int {
	switch s {
	case SeverityNormal:
		return 0
	case SeverityWarning:
		return 1
	case SeverityUrgent:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// Worse reports whether s is strictly more severe than other
func (s SeverityTier) Worse(other SeverityTier) bool {
	return s.Rank() > other.Rank()
}

// Valid reports whether s is one of the four known tiers
func (s SeverityTier) Valid() bool {
	return s.Rank() >= 0
}

// ActionType represents one escalation step
type ActionType string

const (
	ActionCallEmergency ActionType = "call_120"
	ActionCallDoctor    ActionType = "call_doctor"
	ActionAlertFamily   ActionType = "alert_family"
)

// Valid reports whether a is a known escalation step
func (a ActionType) Valid() bool {
	switch a {
	case ActionCallEmergency, ActionCallDoctor, ActionAlertFamily:
		return true
	}
	return false
}

// ResponseStatus represents the lifecycle state of an emergency response
type ResponseStatus string

const (
	ResponseStatusTriggered    ResponseStatus = "triggered"
	ResponseStatusAcknowledged ResponseStatus = "acknowledged"
	ResponseStatusResolved     ResponseStatus = "resolved"
)

// BloodPressure is a paired systolic/diastolic reading in mmHg
type BloodPressure struct {
	Systolic  float64 `json:"systolic"`
	Diastolic float64 `json:"diastolic"`
}

// VitalsSnapshot is a point-in-time set of readings. A nil field means the
// metric was not measured.
type VitalsSnapshot struct {
	HeartRate        *float64       `json:"heartRate,omitempty"`
	BloodPressure    *BloodPressure `json:"bloodPressure,omitempty"`
	Temperature      *float64       `json:"temperature,omitempty"`
	OxygenSaturation *float64       `json:"oxygenSaturation,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}

// Empty reports whether no metric is present
func (v VitalsSnapshot) Empty() bool {
	return v.HeartRate == nil && v.BloodPressure == nil && v.Temperature == nil && v.OxygenSaturation == nil
}

// Clone returns a deep copy of the snapshot
func (v VitalsSnapshot) Clone() VitalsSnapshot {
	out := VitalsSnapshot{Timestamp: v.Timestamp}
	if v.HeartRate != nil {
		out.HeartRate = Float(*v.HeartRate)
	}
	if v.BloodPressure != nil {
		bp := *v.BloodPressure
		out.BloodPressure = &bp
	}
	if v.Temperature != nil {
		out.Temperature = Float(*v.Temperature)
	}
	if v.OxygenSaturation != nil {
		out.OxygenSaturation = Float(*v.OxygenSaturation)
	}
	return out
}

// Float returns a pointer to f
func Float(f float64) *float64 {
	return &f
}

// EmergencyAction represents one escalation step of a response
type EmergencyAction struct {
	Type       ActionType `json:"type"`
	Priority   int        `json:"priority"`
	Executed   bool       `json:"executed"`
	ExecutedAt *time.Time `json:"executedAt,omitempty"`
}

// EmergencyResponse is the materialized record of one non-normal classification
type EmergencyResponse struct {
	ID              string            `json:"id"`
	UserID          string            `json:"userId"`
	TriggerTime     time.Time         `json:"triggerTime"`
	VitalsData      VitalsSnapshot    `json:"vitalsData"`
	Severity        SeverityTier      `json:"severity"`
	ResponseActions []EmergencyAction `json:"responseActions"`
	Status          ResponseStatus    `json:"status"`
	AcknowledgedAt  *time.Time        `json:"acknowledgedAt,omitempty"`
	ResolvedAt      *time.Time        `json:"resolvedAt,omitempty"`
}

// ActionTypes returns the action types in priority order
func (r *EmergencyResponse) ActionTypes() []ActionType {
	types := make([]ActionType, 0, len(r.ResponseActions))
	for _, a := range r.ResponseActions {
		types = append(types, a.Type)
	}
	return types
}

// Clone returns a deep copy of the response
func (r *EmergencyResponse) Clone() *EmergencyResponse {
	out := *r
	out.VitalsData = r.VitalsData.Clone()
	out.ResponseActions = make([]EmergencyAction, len(r.ResponseActions))
	for i, a := range r.ResponseActions {
		out.ResponseActions[i] = a
		if a.ExecutedAt != nil {
			t := *a.ExecutedAt
			out.ResponseActions[i].ExecutedAt = &t
		}
	}
	if r.AcknowledgedAt != nil {
		t := *r.AcknowledgedAt
		out.AcknowledgedAt = &t
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}

// MonitoringSession is the per-user monitoring record
type MonitoringSession struct {
	UserID         string     `json:"userId"`
	IsActive       bool       `json:"isActive"`
	StartTime      time.Time  `json:"startTime"`
	LastCheckTime  *time.Time `json:"lastCheckTime,omitempty"`
	StopTime       *time.Time `json:"stopTime,omitempty"`
	EmergencyCount int        `json:"emergencyCount"`
}

// Clone returns a copy of the session
func (s *MonitoringSession) Clone() *MonitoringSession {
	out := *s
	if s.LastCheckTime != nil {
		t := *s.LastCheckTime
		out.LastCheckTime = &t
	}
	if s.StopTime != nil {
		t := *s.StopTime
		out.StopTime = &t
	}
	return &out
}
