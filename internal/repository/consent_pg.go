package repository

import (
	"context"
	"time"

	"github.com/frlabs/sitegate/internal/model"
	"github.com/jmoiron/sqlx"
)

// PostgresConsentRepo stores consent evidence in the consent_events table.
type PostgresConsentRepo struct {
	db *sqlx.DB
}

func NewPostgresConsentRepo(ctx context.Context, db *sqlx.DB) (*PostgresConsentRepo, error) {
	repo := &PostgresConsentRepo{db: db}
	if err := repo.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

type consentRow struct {
	ConsentID      string    `db:"consent_id"`
	ConsentVersion string    `db:"consent_version"`
	PolicyVersion  string    `db:"policy_version"`
	Source         string    `db:"source"`
	Analytics      bool      `db:"analytics"`
	Marketing      bool      `db:"marketing"`
	UpdatedAt      string    `db:"updated_at"`
	ExpiresAt      string    `db:"expires_at"`
	PagePath       string    `db:"page_path"`
	Referrer       string    `db:"referrer"`
	IP             string    `db:"ip"`
	UserAgent      string    `db:"user_agent"`
	ReceivedAt     time.Time `db:"received_at"`
}

func (r *PostgresConsentRepo) Insert(ctx context.Context, ev *model.ConsentEvidence) error {
	if ev == nil {
		return nil
	}
	row := consentRow{
		ConsentID:      ev.Event.ConsentID,
		ConsentVersion: ev.Event.ConsentVersion,
		PolicyVersion:  ev.Event.PolicyVersion,
		Source:         ev.Event.Source,
		Analytics:      ev.Event.Preferences.Analytics,
		Marketing:      ev.Event.Preferences.Marketing,
		UpdatedAt:      ev.Event.UpdatedAt,
		ExpiresAt:      ev.Event.ExpiresAt,
		PagePath:       ev.Event.PagePath,
		Referrer:       ev.Event.Referrer,
		IP:             ev.IP,
		UserAgent:      ev.UserAgent,
		ReceivedAt:     ev.ReceivedAt,
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO consent_events (
			consent_id, consent_version, policy_version, source,
			analytics, marketing, updated_at, expires_at,
			page_path, referrer, ip, user_agent, received_at
		) VALUES (
			:consent_id, :consent_version, :policy_version, :source,
			:analytics, :marketing, :updated_at, :expires_at,
			:page_path, :referrer, :ip, :user_agent, :received_at
		)
	`, row)
	return err
}

func (r *PostgresConsentRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS consent_events (
			id BIGSERIAL PRIMARY KEY,
			consent_id TEXT NOT NULL,
			consent_version TEXT NOT NULL,
			policy_version TEXT,
			source TEXT,
			analytics BOOLEAN NOT NULL,
			marketing BOOLEAN NOT NULL,
			updated_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			page_path TEXT,
			referrer TEXT,
			ip TEXT,
			user_agent TEXT,
			received_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_consent_events_id ON consent_events(consent_id, received_at DESC)`)
	return nil
}

// Cleanup deletes evidence older than the retention window.
func (r *PostgresConsentRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := r.db.ExecContext(ctx, `DELETE FROM consent_events WHERE received_at < $1`, cutoff)
	return err
}
