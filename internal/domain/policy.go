package domain

import "time"

// PolicyAction is the gate action a triggered access policy recommends.
type PolicyAction string

const (
	ActionAllow     PolicyAction = "allow"
	ActionChallenge PolicyAction = "challenge"
	ActionBlock     PolicyAction = "block"
	ActionAlert     PolicyAction = "alert"
)

// PolicyConfig defines an access policy evaluated against security assessments.
// Expression is a CEL boolean over:
//
//	user_id (string), security_score (int), risk_level (string),
//	anomalies_count (int), baseline_established (bool)
type PolicyConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	Expression string       `json:"expression"`
	Action     PolicyAction `json:"action"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// PolicyDecision is the output of one triggered policy. Decisions are
// advisory: the authentication layer in front of this service enforces them.
type PolicyDecision struct {
	PolicyID string       `json:"policyId"`
	Name     string       `json:"name"`
	Action   PolicyAction `json:"action"`
	Reason   string       `json:"reason,omitempty"`
}
