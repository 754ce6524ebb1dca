// Package postgres implements store.Store against PostgreSQL using plain SQL.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/reachforge/outreach/store"
)

//go:embed schema.sql
var schema string

// Store implements store.Store. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New wraps an existing database handle.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("postgres: db handle is required")
	}
	return &Store{db: db}, nil
}

// Open dials the database and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// EnsureSchema creates missing tables and indexes. Statements are idempotent
// so repeated startup runs are safe.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// Name implements health.Pinger.
func (s *Store) Name() string { return "postgres" }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// withTx runs fn inside a transaction, committing on nil and rolling back on
// error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Campaign loads one campaign row.
func (s *Store) Campaign(ctx context.Context, id string) (*store.Campaign, error) {
	c := &store.Campaign{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, description, account_id, lead_list_id,
		       start_time, end_time, timezone, leads_per_day, workflow_key,
		       status, is_deleted, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.OrganizationID, &c.Name, &c.Description, &c.AccountID, &c.LeadListID,
		&c.StartTime, &c.EndTime, &c.Timezone, &c.LeadsPerDay, &c.WorkflowKey,
		&c.Status, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// CampaignLeads lists the campaign's leads in insertion order.
func (s *Store) CampaignLeads(ctx context.Context, campaignID string) ([]store.Lead, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, lead_list_id, profile_url, first_name, last_name,
		       company, status, created_at, updated_at
		FROM leads
		WHERE campaign_id = $1
		ORDER BY created_at, id
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var out []store.Lead
	for rows.Next() {
		var l store.Lead
		if err := rows.Scan(
			&l.ID, &l.CampaignID, &l.LeadListID, &l.ProfileURL, &l.FirstName,
			&l.LastName, &l.Company, &l.Status, &l.CreatedAt, &l.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpdateCampaignStatus moves a campaign to the given status.
func (s *Store) UpdateCampaignStatus(ctx context.Context, id string, status store.CampaignStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SetLeadStatus transitions one lead's processing state.
func (s *Store) SetLeadStatus(ctx context.Context, leadID string, status store.LeadStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET status = $1, updated_at = NOW() WHERE id = $2
	`, status, leadID)
	if err != nil {
		return fmt.Errorf("set lead status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AppendStep records one executed node. The unique index on
// (campaign_id, lead_id, step_index) makes retried appends no-ops.
func (s *Store) AppendStep(ctx context.Context, step store.CampaignStep) error {
	id := step.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_steps
			(id, campaign_id, lead_id, step_index, node_type, config, success, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (campaign_id, lead_id, step_index) DO NOTHING
	`, id, step.CampaignID, step.LeadID, step.StepIndex, step.NodeType,
		nullJSON(step.Config), step.Success, nullJSON(step.Result))
	if err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	return nil
}

// Account loads a sender credential row.
func (s *Store) Account(ctx context.Context, id string) (*store.Account, error) {
	a := &store.Account{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, provider, provider_account_id, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id).Scan(&a.ID, &a.OrganizationID, &a.Provider, &a.ProviderAccountID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// CreateCampaign inserts a new campaign, assigning an id when absent.
func (s *Store) CreateCampaign(ctx context.Context, c *store.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = store.CampaignDraft
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, organization_id, name, description, account_id, lead_list_id,
			 start_time, end_time, timezone, leads_per_day, workflow_key, status,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
	`, c.ID, c.OrganizationID, c.Name, c.Description, c.AccountID, c.LeadListID,
		c.StartTime, c.EndTime, c.Timezone, c.LeadsPerDay, c.WorkflowKey, c.Status)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// UpdateCampaign rewrites a campaign's editable fields.
func (s *Store) UpdateCampaign(ctx context.Context, c *store.Campaign) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET name = $1, description = $2, account_id = $3, lead_list_id = $4,
		    start_time = $5, end_time = $6, timezone = $7, leads_per_day = $8,
		    workflow_key = $9, updated_at = NOW()
		WHERE id = $10 AND NOT is_deleted
	`, c.Name, c.Description, c.AccountID, c.LeadListID,
		c.StartTime, c.EndTime, c.Timezone, c.LeadsPerDay, c.WorkflowKey, c.ID)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SoftDeleteCampaign flags the campaign deleted. Running workflows observe the
// flag at their next status check and wind down.
func (s *Store) SoftDeleteCampaign(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET is_deleted = TRUE, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListCampaigns lists an organization's live campaigns, newest first.
func (s *Store) ListCampaigns(ctx context.Context, organizationID string) ([]store.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, description, account_id, lead_list_id,
		       start_time, end_time, timezone, leads_per_day, workflow_key,
		       status, is_deleted, created_at, updated_at
		FROM campaigns
		WHERE organization_id = $1 AND NOT is_deleted
		ORDER BY created_at DESC
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []store.Campaign
	for rows.Next() {
		var c store.Campaign
		if err := rows.Scan(
			&c.ID, &c.OrganizationID, &c.Name, &c.Description, &c.AccountID, &c.LeadListID,
			&c.StartTime, &c.EndTime, &c.Timezone, &c.LeadsPerDay, &c.WorkflowKey,
			&c.Status, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateLeads bulk-inserts published lead rows. Duplicate profile URLs within
// a campaign are skipped so republishing a list is safe.
func (s *Store) CreateLeads(ctx context.Context, leads []store.Lead) error {
	if len(leads) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO leads
				(id, campaign_id, lead_list_id, profile_url, first_name, last_name,
				 company, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
			ON CONFLICT (campaign_id, profile_url) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("prepare lead insert: %w", err)
		}
		defer stmt.Close()
		for _, l := range leads {
			id := l.ID
			if id == "" {
				id = uuid.New().String()
			}
			status := l.Status
			if status == "" {
				status = store.LeadQueued
			}
			if _, err := stmt.ExecContext(ctx, id, l.CampaignID, l.LeadListID,
				l.ProfileURL, l.FirstName, l.LastName, l.Company, status); err != nil {
				return fmt.Errorf("insert lead %s: %w", l.ProfileURL, err)
			}
		}
		return nil
	})
}

// ListAlerts returns the reporter's newest alerts.
func (s *Store) ListAlerts(ctx context.Context, reporterUserID string, limit int) ([]store.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_id, reporter_user_id, title, description, priority,
		       acknowledged, previous_value, updated_value, created_at
		FROM alerts
		WHERE reporter_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, reporterUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []store.Alert
	for rows.Next() {
		var a store.Alert
		if err := rows.Scan(
			&a.ID, &a.LeadID, &a.ReporterUserID, &a.Title, &a.Description, &a.Priority,
			&a.Acknowledged, &a.PreviousValue, &a.UpdatedValue, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AcknowledgeAlert marks one alert acknowledged.
func (s *Store) AcknowledgeAlert(ctx context.Context, alertID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET acknowledged = TRUE WHERE id = $1
	`, alertID)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// insertAlertTx appends one alert row inside tx.
func insertAlertTx(ctx context.Context, tx *sql.Tx, a store.Alert) error {
	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO alerts
			(id, lead_id, reporter_user_id, title, description, priority,
			 acknowledged, previous_value, updated_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8, NOW())
	`, id, a.LeadID, a.ReporterUserID, a.Title, a.Description, a.Priority,
		a.PreviousValue, a.UpdatedValue)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// nullJSON converts raw JSON to a driver value, mapping empty to NULL.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// marshalJSON encodes v for a JSONB column, mapping empty slices to NULL.
func marshalJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" || string(b) == "[]" {
		return nil, nil
	}
	return string(b), nil
}
