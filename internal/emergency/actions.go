package emergency

import "github.com/savegress/vitalguard/pkg/models"

var actionPlans = map[models.SeverityTier][]models.ActionType{
	models.SeverityCritical: {models.ActionCallEmergency, models.ActionCallDoctor, models.ActionAlertFamily},
	models.SeverityUrgent:   {models.ActionCallDoctor, models.ActionCallEmergency, models.ActionAlertFamily},
	models.SeverityWarning:  {models.ActionCallDoctor, models.ActionAlertFamily},
}

// GenerateActions returns the escalation steps for a tier, priority 1 first.
// Normal and unknown tiers have none.
func GenerateActions(tier models.SeverityTier) []models.EmergencyAction {
	plan := actionPlans[tier]
	actions := make([]models.EmergencyAction, 0, len(plan))
	for i, t := range plan {
		actions = append(actions, models.EmergencyAction{
			Type:     t,
			Priority: i + 1,
		})
	}
	return actions
}
