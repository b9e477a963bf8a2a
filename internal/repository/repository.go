// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/behaviorsec/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveProfile upserts a behavior profile snapshot.
func (r *SQLRepository) SaveProfile(ctx context.Context, profile *domain.BehaviorProfile) error {
	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	intervals, _ := json.Marshal(profile.Keystroke.Intervals)
	clicks, _ := json.Marshal(profile.Mouse.ClickPattern)

	baseline := 0
	if profile.BaselineEstablished {
		baseline = 1
	}

	query := `
		INSERT INTO behavior_profiles (
			user_id, created_at, updated_at,
			avg_typing_speed, keystroke_intervals, typing_error_rate,
			avg_movement_speed, click_pattern, movement_variance,
			screen_resolution, browser_signature, os_signature, ip_address,
			baseline_established, anomaly_threshold
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			updated_at = excluded.updated_at,
			avg_typing_speed = excluded.avg_typing_speed,
			keystroke_intervals = excluded.keystroke_intervals,
			typing_error_rate = excluded.typing_error_rate,
			avg_movement_speed = excluded.avg_movement_speed,
			click_pattern = excluded.click_pattern,
			movement_variance = excluded.movement_variance,
			screen_resolution = excluded.screen_resolution,
			browser_signature = excluded.browser_signature,
			os_signature = excluded.os_signature,
			ip_address = excluded.ip_address,
			baseline_established = excluded.baseline_established,
			anomaly_threshold = excluded.anomaly_threshold
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		profile.UserID, profile.CreatedAt, profile.UpdatedAt,
		profile.Keystroke.AvgTypingSpeed, string(intervals), profile.Keystroke.ErrorRate,
		profile.Mouse.AvgMovementSpeed, string(clicks), profile.Mouse.MovementVariance,
		profile.Device.ScreenResolution, profile.Device.BrowserSignature,
		profile.Device.OSSignature, profile.Device.IPAddress,
		baseline, profile.AnomalyThreshold,
	)
	return err
}

// GetProfile retrieves a behavior profile by user ID.
func (r *SQLRepository) GetProfile(ctx context.Context, userID string) (*domain.BehaviorProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `
		SELECT user_id, created_at, updated_at,
			   avg_typing_speed, keystroke_intervals, typing_error_rate,
			   avg_movement_speed, click_pattern, movement_variance,
			   screen_resolution, browser_signature, os_signature, ip_address,
			   baseline_established, anomaly_threshold
		FROM behavior_profiles
		WHERE user_id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), userID)
	profile, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return profile, err
}

// ListProfiles retrieves all stored behavior profiles.
func (r *SQLRepository) ListProfiles(ctx context.Context) ([]*domain.BehaviorProfile, error) {
	query := `
		SELECT user_id, created_at, updated_at,
			   avg_typing_speed, keystroke_intervals, typing_error_rate,
			   avg_movement_speed, click_pattern, movement_variance,
			   screen_resolution, browser_signature, os_signature, ip_address,
			   baseline_established, anomaly_threshold
		FROM behavior_profiles
		ORDER BY user_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*domain.BehaviorProfile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}

	return profiles, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*domain.BehaviorProfile, error) {
	var p domain.BehaviorProfile
	var intervals, clicks string
	var resolution, browser, osSig, ip sql.NullString
	var baseline int

	err := row.Scan(
		&p.UserID, &p.CreatedAt, &p.UpdatedAt,
		&p.Keystroke.AvgTypingSpeed, &intervals, &p.Keystroke.ErrorRate,
		&p.Mouse.AvgMovementSpeed, &clicks, &p.Mouse.MovementVariance,
		&resolution, &browser, &osSig, &ip,
		&baseline, &p.AnomalyThreshold,
	)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(intervals), &p.Keystroke.Intervals)
	json.Unmarshal([]byte(clicks), &p.Mouse.ClickPattern)

	p.Device.ScreenResolution = resolution.String
	p.Device.BrowserSignature = browser.String
	p.Device.OSSignature = osSig.String
	p.Device.IPAddress = ip.String
	p.BaselineEstablished = baseline == 1

	return &p, nil
}

// SaveAnomaly stores a detected anomaly event.
func (r *SQLRepository) SaveAnomaly(ctx context.Context, anomaly *domain.Anomaly) error {
	if anomaly == nil || anomaly.UserID == "" {
		return fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO anomaly_events (
			id, user_id, type, score, severity, description, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		anomaly.ID, anomaly.UserID, anomaly.Type,
		anomaly.Score, string(anomaly.Severity), anomaly.Description,
		anomaly.DetectedAt,
	)
	return err
}

// ListAnomalies retrieves anomaly events for a user since a point in time.
func (r *SQLRepository) ListAnomalies(ctx context.Context, userID string, since time.Time) ([]*domain.Anomaly, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, user_id, type, score, severity, description, detected_at
		FROM anomaly_events
		WHERE user_id = ? AND detected_at >= ?
		ORDER BY detected_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var anomalies []*domain.Anomaly
	for rows.Next() {
		var a domain.Anomaly
		var severity string

		if err := rows.Scan(
			&a.ID, &a.UserID, &a.Type,
			&a.Score, &severity, &a.Description,
			&a.DetectedAt,
		); err != nil {
			return nil, err
		}

		a.Severity = domain.Severity(severity)
		anomalies = append(anomalies, &a)
	}

	return anomalies, rows.Err()
}

// SaveAssessment stores a security assessment.
func (r *SQLRepository) SaveAssessment(ctx context.Context, assessment *domain.SecurityAssessment) error {
	if assessment == nil || assessment.UserID == "" {
		return fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	baseline := 0
	if assessment.BaselineEstablished {
		baseline = 1
	}

	query := `
		INSERT INTO assessments (
			id, user_id, security_score, risk_level,
			anomalies_count, baseline_established, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		assessment.ID, assessment.UserID,
		assessment.SecurityScore, string(assessment.RiskLevel),
		assessment.AnomaliesCount, baseline, assessment.Timestamp,
	)
	return err
}

// ListAssessments retrieves assessments for a user since a point in time.
func (r *SQLRepository) ListAssessments(ctx context.Context, userID string, since time.Time) ([]*domain.SecurityAssessment, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, user_id, security_score, risk_level,
			   anomalies_count, baseline_established, timestamp
		FROM assessments
		WHERE user_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assessments []*domain.SecurityAssessment
	for rows.Next() {
		var a domain.SecurityAssessment
		var riskLevel string
		var baseline int

		if err := rows.Scan(
			&a.ID, &a.UserID, &a.SecurityScore, &riskLevel,
			&a.AnomaliesCount, &baseline, &a.Timestamp,
		); err != nil {
			return nil, err
		}

		a.RiskLevel = domain.RiskLevel(riskLevel)
		a.BaselineEstablished = baseline == 1
		assessments = append(assessments, &a)
	}

	return assessments, rows.Err()
}

// SavePolicy upserts an access policy configuration.
func (r *SQLRepository) SavePolicy(ctx context.Context, policy *domain.PolicyConfig) error {
	if policy == nil || policy.ID == "" {
		return fmt.Errorf("%w: policy ID is required", ErrInvalidInput)
	}

	enabled := 0
	if policy.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()
	createdAt := policy.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO policies (
			id, name, description, expression, action, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			action = excluded.action,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		policy.ID, policy.Name, policy.Description,
		policy.Expression, string(policy.Action), enabled,
		createdAt, now,
	)
	return err
}

// GetPolicy retrieves an active policy by ID.
func (r *SQLRepository) GetPolicy(ctx context.Context, policyID string) (*domain.PolicyConfig, error) {
	if policyID == "" {
		return nil, fmt.Errorf("%w: policy ID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, name, description, expression, action, enabled, created_at, updated_at
		FROM policies
		WHERE id = ? AND enabled = 1
	`

	var p domain.PolicyConfig
	var action string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), policyID).Scan(
		&p.ID, &p.Name, &p.Description,
		&p.Expression, &action, &enabled,
		&p.CreatedAt, &p.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Action = domain.PolicyAction(action)
	p.Enabled = enabled == 1

	return &p, nil
}

// ListPolicies retrieves all active policy configurations.
func (r *SQLRepository) ListPolicies(ctx context.Context) ([]*domain.PolicyConfig, error) {
	query := `
		SELECT id, name, description, expression, action, enabled, created_at, updated_at
		FROM policies
		WHERE enabled = 1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*domain.PolicyConfig
	for rows.Next() {
		var p domain.PolicyConfig
		var action string
		var enabled int

		if err := rows.Scan(
			&p.ID, &p.Name, &p.Description,
			&p.Expression, &action, &enabled,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}

		p.Action = domain.PolicyAction(action)
		p.Enabled = enabled == 1
		policies = append(policies, &p)
	}

	return policies, rows.Err()
}

// DeletePolicy soft-deletes a policy by setting enabled = 0.
func (r *SQLRepository) DeletePolicy(ctx context.Context, policyID string) error {
	if policyID == "" {
		return fmt.Errorf("%w: policy ID is required", ErrInvalidInput)
	}

	query := `
		UPDATE policies
		SET enabled = 0, updated_at = ?
		WHERE id = ? AND enabled = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), policyID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
