package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Signer provisioning states surfaced to the user.
const (
	SignerStatusNone           = "none"
	SignerStatusActive         = "active"
	SignerStatusActionRequired = "action_required"
)

const (
	maxStyleSampleSize     = 5
	defaultStyleSampleSize = 5
)

var ErrNotFound = errors.New("settings not found")

// Settings holds the per-user bot configuration.
type Settings struct {
	FID             int64
	DisplayHandle   string
	Tone            string
	PostingEnabled  bool
	StyleSampleSize int
	SignerUUID      string
	SignerStatus    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ClampStyleSampleSize bounds a requested sample size to [1, 5].
func ClampStyleSampleSize(n int) int {
	if n <= 0 {
		return defaultStyleSampleSize
	}
	if n > maxStyleSampleSize {
		return maxStyleSampleSize
	}
	return n
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, fid int64) (Settings, error) {
	var out Settings
	err := s.db.QueryRowContext(ctx, `
		SELECT fid,
			display_handle,
			tone,
			posting_enabled,
			style_sample_size,
			signer_uuid,
			signer_status,
			created_at,
			updated_at
		FROM twin.twin_settings
		WHERE fid = $1
	`, fid).Scan(
		&out.FID,
		&out.DisplayHandle,
		&out.Tone,
		&out.PostingEnabled,
		&out.StyleSampleSize,
		&out.SignerUUID,
		&out.SignerStatus,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, ErrNotFound
	}
	if err != nil {
		return Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return out, nil
}

// Upsert creates or updates the settings row for a user. The signer
// fields are managed separately and left untouched on update.
func (s *Store) Upsert(ctx context.Context, in Settings) (Settings, error) {
	in.StyleSampleSize = ClampStyleSampleSize(in.StyleSampleSize)
	if in.Tone == "" {
		in.Tone = "default"
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO twin.twin_settings (fid, display_handle, tone, posting_enabled, style_sample_size)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (fid) DO UPDATE SET
			display_handle = EXCLUDED.display_handle,
			tone = EXCLUDED.tone,
			posting_enabled = EXCLUDED.posting_enabled,
			style_sample_size = EXCLUDED.style_sample_size,
			updated_at = NOW()
		RETURNING fid, display_handle, tone, posting_enabled, style_sample_size,
			signer_uuid, signer_status, created_at, updated_at
	`,
		in.FID,
		in.DisplayHandle,
		in.Tone,
		in.PostingEnabled,
		in.StyleSampleSize,
	).Scan(
		&in.FID,
		&in.DisplayHandle,
		&in.Tone,
		&in.PostingEnabled,
		&in.StyleSampleSize,
		&in.SignerUUID,
		&in.SignerStatus,
		&in.CreatedAt,
		&in.UpdatedAt,
	)
	if err != nil {
		return Settings{}, fmt.Errorf("upsert settings: %w", err)
	}
	return in, nil
}

// SetSigner records a provisioned signer for a user.
func (s *Store) SetSigner(ctx context.Context, fid int64, signerUUID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE twin.twin_settings
		SET signer_uuid = $2, signer_status = $3, updated_at = NOW()
		WHERE fid = $1
	`, fid, signerUUID, status)
	if err != nil {
		return fmt.Errorf("set signer: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSignerStatus updates only the signer state. Used when a publish
// attempt reveals a revoked or expired credential.
func (s *Store) SetSignerStatus(ctx context.Context, fid int64, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE twin.twin_settings
		SET signer_status = $2, updated_at = NOW()
		WHERE fid = $1
	`, fid, status)
	if err != nil {
		return fmt.Errorf("set signer status: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPostingEnabled returns settings for every user with posting
// enabled and an active signer, the set a pipeline tick operates on.
func (s *Store) ListPostingEnabled(ctx context.Context) ([]Settings, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fid,
			display_handle,
			tone,
			posting_enabled,
			style_sample_size,
			signer_uuid,
			signer_status,
			created_at,
			updated_at
		FROM twin.twin_settings
		WHERE posting_enabled = TRUE
		AND signer_status = 'active'
		ORDER BY fid
	`)
	if err != nil {
		return nil, fmt.Errorf("list posting-enabled settings: %w", err)
	}
	defer rows.Close()

	var out []Settings
	for rows.Next() {
		var item Settings
		if err := rows.Scan(
			&item.FID,
			&item.DisplayHandle,
			&item.Tone,
			&item.PostingEnabled,
			&item.StyleSampleSize,
			&item.SignerUUID,
			&item.SignerStatus,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan settings: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settings: %w", err)
	}
	return out, nil
}
