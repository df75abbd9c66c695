package vitals

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/savegress/vitalguard/pkg/models"
)

// ErrInvalidInput is matched by every ValidationError
var ErrInvalidInput = errors.New("invalid vitals snapshot")

// Problem describes one rejected field
type Problem struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError carries every problem found in a snapshot
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Reason)
	}
	return ErrInvalidInput.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// ParseResult is either Ok with a typed snapshot or Invalid with problems.
// UserID is the optional owner carried alongside the readings.
type ParseResult struct {
	Snapshot models.VitalsSnapshot
	UserID   string
	Problems []Problem
}

// OK reports whether the snapshot is usable
func (r ParseResult) OK() bool {
	return len(r.Problems) == 0
}

// Err returns a *ValidationError when the result is invalid
func (r ParseResult) Err() error {
	if r.OK() {
		return nil
	}
	return &ValidationError{Problems: r.Problems}
}

// plausible bounds reject physically impossible readings, not abnormal ones
var plausible = map[Metric][2]float64{
	MetricHeartRate:        {0, 300},
	MetricSystolic:         {0, 300},
	MetricDiastolic:        {0, 250},
	MetricTemperature:      {20, 46},
	MetricOxygenSaturation: {0, 100},
}

type rawSnapshot struct {
	HeartRate        json.RawMessage `json:"heartRate"`
	BloodPressure    json.RawMessage `json:"bloodPressure"`
	Temperature      json.RawMessage `json:"temperature"`
	OxygenSaturation json.RawMessage `json:"oxygenSaturation"`
	Timestamp        json.RawMessage `json:"timestamp"`
	UserID           json.RawMessage `json:"userId"`
}

type rawPressure struct {
	Systolic  json.RawMessage `json:"systolic"`
	Diastolic json.RawMessage `json:"diastolic"`
}

// ParseSnapshot decodes a JSON body into a snapshot. A missing timestamp is
// stamped with now; the timestamp may be RFC 3339 or epoch milliseconds.
func ParseSnapshot(data []byte, now time.Time) ParseResult {
	var raw rawSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return ParseResult{Problems: []Problem{{Field: "body", Reason: "must be a JSON object"}}}
	}

	var res ParseResult
	res.Snapshot.HeartRate = res.number(string(MetricHeartRate), raw.HeartRate)
	res.Snapshot.Temperature = res.number(string(MetricTemperature), raw.Temperature)
	res.Snapshot.OxygenSaturation = res.number(string(MetricOxygenSaturation), raw.OxygenSaturation)

	if present(raw.BloodPressure) {
		var bp rawPressure
		if err := json.Unmarshal(raw.BloodPressure, &bp); err != nil {
			res.add("bloodPressure", "must be an object with systolic and diastolic")
		} else {
			sys := res.number("bloodPressure.systolic", bp.Systolic)
			dia := res.number("bloodPressure.diastolic", bp.Diastolic)
			if sys == nil && !present(bp.Systolic) {
				res.add("bloodPressure.systolic", "is required when bloodPressure is present")
			}
			if dia == nil && !present(bp.Diastolic) {
				res.add("bloodPressure.diastolic", "is required when bloodPressure is present")
			}
			if sys != nil && dia != nil {
				res.Snapshot.BloodPressure = &models.BloodPressure{Systolic: *sys, Diastolic: *dia}
			}
		}
	}

	if present(raw.UserID) {
		if err := json.Unmarshal(raw.UserID, &res.UserID); err != nil {
			res.add("userId", "must be a string")
		}
	}

	res.Snapshot.Timestamp = now
	if present(raw.Timestamp) {
		ts, err := parseTimestamp(raw.Timestamp)
		if err != nil {
			res.add("timestamp", err.Error())
		} else {
			res.Snapshot.Timestamp = ts
		}
	}

	if res.OK() {
		res.Problems = Validate(res.Snapshot)
	}
	return res
}

// Validate checks a typed snapshot against the plausibility bounds
func Validate(s models.VitalsSnapshot) []Problem {
	var problems []Problem
	check := func(field string, m Metric, v *float64) {
		if v == nil {
			return
		}
		b := plausible[m]
		if *v < b[0] || *v > b[1] {
			problems = append(problems, Problem{
				Field:  field,
				Reason: fmt.Sprintf("must be between %g and %g", b[0], b[1]),
			})
		}
	}
	check(string(MetricHeartRate), MetricHeartRate, s.HeartRate)
	if s.BloodPressure != nil {
		check("bloodPressure.systolic", MetricSystolic, &s.BloodPressure.Systolic)
		check("bloodPressure.diastolic", MetricDiastolic, &s.BloodPressure.Diastolic)
	}
	check(string(MetricTemperature), MetricTemperature, s.Temperature)
	check(string(MetricOxygenSaturation), MetricOxygenSaturation, s.OxygenSaturation)
	if s.Timestamp.IsZero() {
		problems = append(problems, Problem{Field: "timestamp", Reason: "is required"})
	}
	return problems
}

func (r *ParseResult) add(field, reason string) {
	r.Problems = append(r.Problems, Problem{Field: field, Reason: reason})
}

func (r *ParseResult) number(field string, raw json.RawMessage) *float64 {
	if !present(raw) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		r.add(field, "must be a number")
		return nil
	}
	return &f
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, errors.New("must be an RFC 3339 time")
		}
		return ts, nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Time{}, errors.New("must be an RFC 3339 string or epoch milliseconds")
}
