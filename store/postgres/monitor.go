package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/reachforge/outreach/provider"
	"github.com/reachforge/outreach/store"
)

const monitoredLeadColumns = `
	id, reporter_user_id, profile_url, full_name, headline, location,
	profile_image_url, last_job_title, last_company_name, last_company_id,
	last_company_domain, last_company_size, last_company_industry,
	last_experience, last_education, last_profile_hash, last_fetched_at,
	last_7_posts_ids, created_at, updated_at`

const monitoredCompanyColumns = `
	id, reporter_user_id, company_url, name, tagline, description, website,
	industry, employee_range, hq_city, hq_country, logo_url,
	employee_count_current, employee_count_previous, employee_count_last_checked_at,
	followers_count_current, followers_count_previous, followers_count_last_checked_at,
	last_profile_hash, last_fetched_at, last_7_posts_ids, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMonitoredLead(row scanner) (*store.MonitoredLead, error) {
	ml := &store.MonitoredLead{}
	var (
		experience []byte
		education  []byte
		posts      pq.StringArray
	)
	err := row.Scan(
		&ml.ID, &ml.ReporterUserID, &ml.ProfileURL, &ml.FullName, &ml.Headline,
		&ml.Location, &ml.ProfileImageURL, &ml.LastJobTitle, &ml.LastCompanyName,
		&ml.LastCompanyID, &ml.LastCompanyDomain, &ml.LastCompanySize,
		&ml.LastCompanyIndustry, &experience, &education, &ml.LastProfileHash,
		&ml.LastFetchedAt, &posts, &ml.CreatedAt, &ml.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan monitored lead: %w", err)
	}
	if len(experience) > 0 {
		if err := json.Unmarshal(experience, &ml.LastExperience); err != nil {
			return nil, fmt.Errorf("decode experience: %w", err)
		}
	}
	if len(education) > 0 {
		if err := json.Unmarshal(education, &ml.LastEducation); err != nil {
			return nil, fmt.Errorf("decode education: %w", err)
		}
	}
	ml.Last7PostIDs = posts
	return ml, nil
}

func scanMonitoredCompany(row scanner) (*store.MonitoredCompany, error) {
	mc := &store.MonitoredCompany{}
	var posts pq.StringArray
	err := row.Scan(
		&mc.ID, &mc.ReporterUserID, &mc.CompanyURL, &mc.Name, &mc.Tagline,
		&mc.Description, &mc.Website, &mc.Industry, &mc.EmployeeRange,
		&mc.HQCity, &mc.HQCountry, &mc.LogoURL,
		&mc.EmployeeCountCurrent, &mc.EmployeeCountPrevious, &mc.EmployeeCountLastCheckedAt,
		&mc.FollowersCountCurrent, &mc.FollowersCountPrevious, &mc.FollowersCountLastCheckedAt,
		&mc.LastProfileHash, &mc.LastFetchedAt, &posts, &mc.CreatedAt, &mc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan monitored company: %w", err)
	}
	mc.Last7PostIDs = posts
	return mc, nil
}

// MonitoredLead loads one monitored person row.
func (s *Store) MonitoredLead(ctx context.Context, id string) (*store.MonitoredLead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+monitoredLeadColumns+` FROM monitored_leads WHERE id = $1`, id)
	return scanMonitoredLead(row)
}

// MonitoredCompany loads one monitored company row.
func (s *Store) MonitoredCompany(ctx context.Context, id string) (*store.MonitoredCompany, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+monitoredCompanyColumns+` FROM monitored_companies WHERE id = $1`, id)
	return scanMonitoredCompany(row)
}

// FindOrCreateMonitoredLead returns the row keyed by (reporter, URL), creating
// an empty snapshot when none exists.
func (s *Store) FindOrCreateMonitoredLead(ctx context.Context, reporterUserID, profileURL string) (*store.MonitoredLead, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitored_leads (id, reporter_user_id, profile_url, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (reporter_user_id, profile_url) DO NOTHING
	`, uuid.New().String(), reporterUserID, profileURL)
	if err != nil {
		return nil, fmt.Errorf("create monitored lead: %w", err)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+monitoredLeadColumns+` FROM monitored_leads WHERE reporter_user_id = $1 AND profile_url = $2`,
		reporterUserID, profileURL)
	return scanMonitoredLead(row)
}

// FindOrCreateMonitoredCompany returns the row keyed by (reporter, URL),
// creating an empty snapshot when none exists.
func (s *Store) FindOrCreateMonitoredCompany(ctx context.Context, reporterUserID, companyURL string) (*store.MonitoredCompany, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitored_companies (id, reporter_user_id, company_url, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (reporter_user_id, company_url) DO NOTHING
	`, uuid.New().String(), reporterUserID, companyURL)
	if err != nil {
		return nil, fmt.Errorf("create monitored company: %w", err)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+monitoredCompanyColumns+` FROM monitored_companies WHERE reporter_user_id = $1 AND company_url = $2`,
		reporterUserID, companyURL)
	return scanMonitoredCompany(row)
}

// SaveLeadSnapshot replaces the snapshot columns and appends alerts in one
// transaction.
func (s *Store) SaveLeadSnapshot(ctx context.Context, id string, p *provider.Profile, profileHash string, alerts []store.Alert) error {
	experience, err := marshalJSON(p.Experience)
	if err != nil {
		return fmt.Errorf("encode experience: %w", err)
	}
	education, err := marshalJSON(p.Education)
	if err != nil {
		return fmt.Errorf("encode education: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE monitored_leads SET
				full_name = $2, headline = $3, location = $4, profile_image_url = $5,
				last_job_title = $6, last_company_name = $7, last_company_id = $8,
				last_company_domain = $9, last_company_size = $10, last_company_industry = $11,
				last_experience = $12, last_education = $13,
				last_profile_hash = $14, last_fetched_at = NOW(), updated_at = NOW()
			WHERE id = $1
		`, id, p.FullName, p.Headline, p.Location, p.ProfileImageURL,
			p.JobTitle, p.CompanyName, p.CompanyID,
			p.CompanyDomain, p.CompanySize, p.CompanyIndustry,
			experience, education, profileHash)
		if err != nil {
			return fmt.Errorf("update lead snapshot: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		for _, a := range alerts {
			if err := insertAlertTx(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveCompanySnapshot replaces the company snapshot and appends alerts in one
// transaction. Counter rotation happens in the statement itself: SET
// expressions read the pre-update row, so the stored current value moves to
// *_previous exactly when the incoming count differs.
func (s *Store) SaveCompanySnapshot(ctx context.Context, id string, c *provider.Company, profileHash string, alerts []store.Alert) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE monitored_companies SET
				name = $2, tagline = $3, description = $4, website = $5, industry = $6,
				employee_range = $7, hq_city = $8, hq_country = $9, logo_url = $10,
				employee_count_previous = CASE
					WHEN employee_count_current IS DISTINCT FROM $11 THEN employee_count_current
					ELSE employee_count_previous END,
				employee_count_last_checked_at = CASE
					WHEN employee_count_current IS DISTINCT FROM $11 THEN NOW()
					ELSE employee_count_last_checked_at END,
				employee_count_current = $11,
				followers_count_previous = CASE
					WHEN followers_count_current IS DISTINCT FROM $12 THEN followers_count_current
					ELSE followers_count_previous END,
				followers_count_last_checked_at = CASE
					WHEN followers_count_current IS DISTINCT FROM $12 THEN NOW()
					ELSE followers_count_last_checked_at END,
				followers_count_current = $12,
				last_profile_hash = $13, last_fetched_at = NOW(), updated_at = NOW()
			WHERE id = $1
		`, id, c.Name, c.Tagline, c.Description, c.Website, c.Industry,
			c.EmployeeRange, c.HQCity, c.HQCountry, c.LogoURL,
			c.EmployeeCount, c.FollowersCount, profileHash)
		if err != nil {
			return fmt.Errorf("update company snapshot: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		for _, a := range alerts {
			if err := insertAlertTx(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

// PushMonitoredPost inserts postID at the front of the entity's FIFO and
// appends the alert when one is given. Ids already present are no-ops: the
// row is left untouched and no alert is written, so activity retries cannot
// double-report a post.
func (s *Store) PushMonitoredPost(ctx context.Context, kind store.EntityKind, id, postID string, alert *store.Alert) error {
	var table string
	switch kind {
	case store.KindLead:
		table = "monitored_leads"
	case store.KindCompany:
		table = "monitored_companies"
	default:
		return fmt.Errorf("push post: unknown entity kind %q", kind)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var posts pq.StringArray
		err := tx.QueryRowContext(ctx,
			`SELECT last_7_posts_ids FROM `+table+` WHERE id = $1 FOR UPDATE`, id,
		).Scan(&posts)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock post fifo: %w", err)
		}
		for _, existing := range posts {
			if existing == postID {
				return nil
			}
		}
		updated := store.PushPostID(posts, postID)
		if _, err := tx.ExecContext(ctx,
			`UPDATE `+table+` SET last_7_posts_ids = $2, updated_at = NOW() WHERE id = $1`,
			id, pq.Array(updated)); err != nil {
			return fmt.Errorf("update post fifo: %w", err)
		}
		if alert != nil {
			if err := insertAlertTx(ctx, tx, *alert); err != nil {
				return err
			}
		}
		return nil
	})
}
