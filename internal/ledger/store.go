package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateReply is returned by Advance when a reply for the same
// (fid, cast) pair already exists. The cursor is not advanced; the
// unique index on twin_replies is the at-most-once backstop.
var ErrDuplicateReply = errors.New("reply already recorded for cast")

// RunCursor is the per-user watermark. It advances only after a
// confirmed publish, so partial work is always safely discardable.
type RunCursor struct {
	FID          int64
	LastCastHash string
	LastCastAt   time.Time
	UpdatedAt    time.Time
}

// ReplyRecord is one published reply in the ledger.
type ReplyRecord struct {
	ID                string
	FID               int64
	SourceCastHash    string
	ReplyText         string
	PublishedCastHash string
	CreatedAt         time.Time
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Cursor returns the user's run cursor, or a zero cursor when the user
// has never published.
func (s *Store) Cursor(ctx context.Context, fid int64) (RunCursor, error) {
	var cursor RunCursor
	err := s.db.QueryRowContext(ctx, `
		SELECT fid, last_cast_hash, last_cast_at, updated_at
		FROM twin.twin_run_cursors
		WHERE fid = $1
	`, fid).Scan(&cursor.FID, &cursor.LastCastHash, &cursor.LastCastAt, &cursor.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RunCursor{FID: fid}, nil
	}
	if err != nil {
		return RunCursor{}, fmt.Errorf("get run cursor: %w", err)
	}
	return cursor, nil
}

// ShouldProcess reports whether no reply has been recorded yet for the
// given cast.
func (s *Store) ShouldProcess(ctx context.Context, fid int64, castHash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM twin.twin_replies
			WHERE fid = $1 AND source_cast_hash = $2
		)
	`, fid, castHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check processed cast: %w", err)
	}
	return !exists, nil
}

// Advance records a published reply and moves the cursor past the
// source cast in a single transaction. It must be called only after
// the publish succeeded. The reply insert and cursor update are atomic
// with respect to concurrent runs for the same user: a conflicting
// insert aborts the advance with ErrDuplicateReply.
func (s *Store) Advance(ctx context.Context, fid int64, sourceCastHash, replyText, publishedCastHash string, castAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin advance: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO twin.twin_replies (fid, source_cast_hash, reply_text, published_cast_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fid, source_cast_hash) DO NOTHING
	`, fid, sourceCastHash, replyText, publishedCastHash)
	if err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrDuplicateReply
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO twin.twin_run_cursors (fid, last_cast_hash, last_cast_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (fid) DO UPDATE SET
			last_cast_hash = EXCLUDED.last_cast_hash,
			last_cast_at = EXCLUDED.last_cast_at,
			updated_at = NOW()
		WHERE twin.twin_run_cursors.last_cast_at <= EXCLUDED.last_cast_at
	`, fid, sourceCastHash, castAt)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit advance: %w", err)
	}
	return nil
}

// CountToday returns the number of replies recorded for the user since
// UTC midnight. Used to enforce the daily reply cap.
func (s *Store) CountToday(ctx context.Context, fid int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM twin.twin_replies
		WHERE fid = $1
		AND created_at >= (CURRENT_DATE AT TIME ZONE 'UTC')
	`, fid).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count today replies: %w", err)
	}
	return count, nil
}

// ListRecent returns the user's most recent replies, newest first.
func (s *Store) ListRecent(ctx context.Context, fid int64, limit int) ([]ReplyRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fid, source_cast_hash, reply_text, published_cast_hash, created_at
		FROM twin.twin_replies
		WHERE fid = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, fid, limit)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	var replies []ReplyRecord
	for rows.Next() {
		var record ReplyRecord
		if err := rows.Scan(
			&record.ID,
			&record.FID,
			&record.SourceCastHash,
			&record.ReplyText,
			&record.PublishedCastHash,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		replies = append(replies, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replies: %w", err)
	}
	return replies, nil
}
