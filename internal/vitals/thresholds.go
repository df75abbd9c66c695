// Package vitals classifies vital-sign snapshots against tiered thresholds.
package vitals

import (
	"math"

	"github.com/savegress/vitalguard/pkg/models"
)

// Metric identifies one evaluated reading
type Metric string

const (
	MetricHeartRate        Metric = "heartRate"
	MetricSystolic         Metric = "systolic"
	MetricDiastolic        Metric = "diastolic"
	MetricTemperature      Metric = "temperature"
	MetricOxygenSaturation Metric = "oxygenSaturation"
)

// Band is the normal-side interval of one tier. A value breaches the tier when
// it is strictly below Below or strictly above Above.
type Band struct {
	Tier  models.SeverityTier
	Below float64
	Above float64
}

func (b Band) breached(v float64) bool {
	return v < b.Below || v > b.Above
}

// Rule holds the bands of one metric, worst tier first
type Rule struct {
	Metric Metric
	Unit   string
	Bands  []Band
}

// Table is the declarative threshold table consulted by Classify
type Table []Rule

// noUpper marks a metric that has no upper-bound abnormality
var noUpper = math.Inf(1)

// DefaultTable is the canonical reference table.
var DefaultTable = Table{
	{
		Metric: MetricHeartRate,
		Unit:   "bpm",
		Bands: []Band{
			{Tier: models.SeverityCritical, Below: 40, Above: 150},
			{Tier: models.SeverityUrgent, Below: 50, Above: 120},
			{Tier: models.SeverityWarning, Below: 60, Above: 100},
		},
	},
	{
		Metric: MetricSystolic,
		Unit:   "mmHg",
		Bands: []Band{
			{Tier: models.SeverityCritical, Below: 70, Above: 200},
			{Tier: models.SeverityUrgent, Below: 90, Above: 180},
			{Tier: models.SeverityWarning, Below: 100, Above: 160},
		},
	},
	{
		Metric: MetricDiastolic,
		Unit:   "mmHg",
		Bands: []Band{
			{Tier: models.SeverityCritical, Below: 40, Above: 120},
			{Tier: models.SeverityUrgent, Below: 50, Above: 110},
			{Tier: models.SeverityWarning, Below: 60, Above: 100},
		},
	},
	{
		Metric: MetricTemperature,
		Unit:   "°C",
		Bands: []Band{
			{Tier: models.SeverityCritical, Below: 35.0, Above: 40.0},
			{Tier: models.SeverityUrgent, Below: 35.5, Above: 39.0},
			{Tier: models.SeverityWarning, Below: 36.0, Above: 38.0},
		},
	},
	{
		Metric: MetricOxygenSaturation,
		Unit:   "%",
		Bands: []Band{
			{Tier: models.SeverityCritical, Below: 85, Above: noUpper},
			{Tier: models.SeverityUrgent, Below: 90, Above: noUpper},
			{Tier: models.SeverityWarning, Below: 95, Above: noUpper},
		},
	},
}

// Rule returns the rule for a metric
func (t Table) Rule(m Metric) (Rule, bool) {
	for _, r := range t {
		if r.Metric == m {
			return r, true
		}
	}
	return Rule{}, false
}

// tierFor returns the worst tier the value breaches for a rule
func (r Rule) tierFor(v float64) (Band, bool) {
	for _, b := range r.Bands {
		if b.breached(v) {
			return b, true
		}
	}
	return Band{}, false
}
