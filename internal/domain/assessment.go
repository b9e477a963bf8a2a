package domain

import (
	"time"
)

// RiskLevel buckets a security score for downstream consumers.
type RiskLevel string

const (
	RiskUnknown RiskLevel = "unknown"
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
)

// Severity grades an individual anomaly.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Anomaly types.
const (
	AnomalyKeystroke = "keystroke"
	AnomalyMouse     = "mouse"
	AnomalyDevice    = "device"
)

// Anomaly is a single detected deviation from a user's baseline.
type Anomaly struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Type        string    `json:"type"`
	Score       float64   `json:"score,omitempty"`
	Severity    Severity  `json:"severity,omitempty"`
	Description string    `json:"description"`
	DetectedAt  time.Time `json:"detectedAt"`
}

// ProcessResult is the outcome of processing one batch of behavioral data.
// Internal faults are reported through Error, never propagated.
type ProcessResult struct {
	UserID              string    `json:"userId"`
	EventsProcessed     int       `json:"eventsProcessed"`
	AnomalyScore        float64   `json:"anomalyScore"`
	Anomalies           []Anomaly `json:"anomaliesDetected"`
	BaselineEstablished bool      `json:"baselineEstablished"`
	Error               string    `json:"error,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// SecurityAssessment summarizes a user's current standing: a 0-100 score
// (higher is safer) derived from re-scoring the recent-behavior buffer.
type SecurityAssessment struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"userId"`
	SecurityScore       int       `json:"securityScore"`
	RiskLevel           RiskLevel `json:"riskLevel"`
	AnomaliesCount      int       `json:"anomaliesCount"`
	BaselineEstablished bool      `json:"baselineEstablished"`
	Timestamp           time.Time `json:"timestamp"`
}
