package vitals

import (
	"fmt"

	"github.com/savegress/vitalguard/pkg/models"
)

// Finding records one metric that breached a tier
type Finding struct {
	Metric Metric              `json:"metric"`
	Value  float64             `json:"value"`
	Unit   string              `json:"unit"`
	Tier   models.SeverityTier `json:"tier"`
	Bound  float64             `json:"bound"`
	Side   string              `json:"side"` // low or high
}

func (f Finding) String() string {
	return fmt.Sprintf("%s %.2f%s %s (bound %.2f)", f.Metric, f.Value, f.Unit, f.Tier, f.Bound)
}

// Evaluate checks every present metric independently and returns the breaches
// in table order. Missing metrics contribute nothing.
func (t Table) Evaluate(s models.VitalsSnapshot) []Finding {
	var findings []Finding
	for _, rule := range t {
		v, ok := metricValue(s, rule.Metric)
		if !ok {
			continue
		}
		band, breached := rule.tierFor(v)
		if !breached {
			continue
		}
		f := Finding{
			Metric: rule.Metric,
			Value:  v,
			Unit:   rule.Unit,
			Tier:   band.Tier,
			Bound:  band.Below,
			Side:   "low",
		}
		if v > band.Above {
			f.Bound = band.Above
			f.Side = "high"
		}
		findings = append(findings, f)
	}
	return findings
}

// Classify returns the worst tier reached across all metrics. ok is false when
// nothing breaches, including when no metric is present.
func (t Table) Classify(s models.VitalsSnapshot) (tier models.SeverityTier, ok bool) {
	return Worst(t.Evaluate(s))
}

// Worst folds findings into the most severe tier
func Worst(findings []Finding) (models.SeverityTier, bool) {
	worst := models.SeverityNormal
	for _, f := range findings {
		if f.Tier.Worse(worst) {
			worst = f.Tier
		}
	}
	if worst == models.SeverityNormal {
		return models.SeverityNormal, false
	}
	return worst, true
}

// Evaluate runs DefaultTable.Evaluate
func Evaluate(s models.VitalsSnapshot) []Finding {
	return DefaultTable.Evaluate(s)
}

// Classify runs DefaultTable.Classify
func Classify(s models.VitalsSnapshot) (models.SeverityTier, bool) {
	return DefaultTable.Classify(s)
}

func metricValue(s models.VitalsSnapshot, m Metric) (float64, bool) {
	switch m {
	case MetricHeartRate:
		if s.HeartRate != nil {
			return *s.HeartRate, true
		}
	case MetricSystolic:
		if s.BloodPressure != nil {
			return s.BloodPressure.Systolic, true
		}
	case MetricDiastolic:
		if s.BloodPressure != nil {
			return s.BloodPressure.Diastolic, true
		}
	case MetricTemperature:
		if s.Temperature != nil {
			return *s.Temperature, true
		}
	case MetricOxygenSaturation:
		if s.OxygenSaturation != nil {
			return *s.OxygenSaturation, true
		}
	}
	return 0, false
}
