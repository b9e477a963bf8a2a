package policy

import (
	"github.com/behaviorsec/kestrel/internal/domain"
)

// Predefined policy IDs for default policies.
const (
	PolicyLowScoreBlock     = "policy-low-score-block"
	PolicyMediumRiskStepUp  = "policy-medium-risk-step-up"
	PolicyAnomalyAlert      = "policy-anomaly-alert"
	PolicyUnknownUserStepUp = "policy-unknown-user-step-up"
)

// DefaultPolicies returns the built-in access policies installed on first
// start. Operators replace or extend them through the policy API.
func DefaultPolicies() []*domain.PolicyConfig {
	return []*domain.PolicyConfig{
		{
			ID:          PolicyLowScoreBlock,
			Name:        "Low Security Score Block",
			Description: "security score dropped below 50",
			Expression:  "security_score < 50 && baseline_established",
			Action:      domain.ActionBlock,
			Enabled:     true,
		},
		{
			ID:          PolicyMediumRiskStepUp,
			Name:        "Medium Risk Step-Up",
			Description: "recent behavior deviates from the baseline",
			Expression:  `risk_level == "medium" && baseline_established`,
			Action:      domain.ActionChallenge,
			Enabled:     true,
		},
		{
			ID:          PolicyAnomalyAlert,
			Name:        "Anomaly Alert",
			Description: "one or more behavioral anomalies in the recent buffer",
			Expression:  "anomalies_count > 0",
			Action:      domain.ActionAlert,
			Enabled:     true,
		},
		{
			ID:          PolicyUnknownUserStepUp,
			Name:        "Unknown User Step-Up",
			Description: "no behavioral history for this user yet",
			Expression:  `risk_level == "unknown"`,
			Action:      domain.ActionChallenge,
			Enabled:     true,
		},
	}
}
