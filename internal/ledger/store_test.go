package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestCursorZeroWhenUnknownUser(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT fid, last_cast_hash, last_cast_at, updated_at").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"fid", "last_cast_hash", "last_cast_at", "updated_at"}))

	cursor, err := store.Cursor(context.Background(), 42)
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cursor.FID != 42 || cursor.LastCastHash != "" || !cursor.LastCastAt.IsZero() {
		t.Fatalf("expected zero cursor for unknown user, got %+v", cursor)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCursorExisting(t *testing.T) {
	store, mock := newMockStore(t)
	castAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT fid, last_cast_hash, last_cast_at, updated_at").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"fid", "last_cast_hash", "last_cast_at", "updated_at"}).
			AddRow(int64(42), "0x100", castAt, castAt))

	cursor, err := store.Cursor(context.Background(), 42)
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cursor.LastCastHash != "0x100" || !cursor.LastCastAt.Equal(castAt) {
		t.Fatalf("unexpected cursor: %+v", cursor)
	}
}

func TestShouldProcess(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(42), "0x101").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(42), "0x100").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	unseen, err := store.ShouldProcess(context.Background(), 42, "0x101")
	if err != nil {
		t.Fatalf("should process: %v", err)
	}
	if !unseen {
		t.Fatal("expected unseen cast to be processable")
	}

	unseen, err = store.ShouldProcess(context.Background(), 42, "0x100")
	if err != nil {
		t.Fatalf("should process: %v", err)
	}
	if unseen {
		t.Fatal("expected already-replied cast to be skipped")
	}
}

func TestAdvanceCommitsReplyAndCursor(t *testing.T) {
	store, mock := newMockStore(t)
	castAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO twin.twin_replies").
		WithArgs(int64(42), "0x101", "sounds great", "0xreply").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO twin.twin_run_cursors").
		WithArgs(int64(42), "0x101", castAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Advance(context.Background(), 42, "0x101", "sounds great", "0xreply", castAt)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAdvanceDuplicateRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	castAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO twin.twin_replies").
		WithArgs(int64(42), "0x101", "sounds great", "0xreply").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Advance(context.Background(), 42, "0x101", "sounds great", "0xreply", castAt)
	if !errors.Is(err, ErrDuplicateReply) {
		t.Fatalf("expected ErrDuplicateReply, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAdvanceCursorFailureRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	castAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO twin.twin_replies").
		WithArgs(int64(42), "0x101", "sounds great", "0xreply").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO twin.twin_run_cursors").
		WithArgs(int64(42), "0x101", castAt).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.Advance(context.Background(), 42, "0x101", "sounds great", "0xreply", castAt)
	if err == nil {
		t.Fatal("expected error from cursor update failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCountToday(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := store.CountToday(context.Background(), 42)
	if err != nil {
		t.Fatalf("count today: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3, got %d", count)
	}
}

func TestListRecent(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, fid, source_cast_hash").
		WithArgs(int64(42), 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "fid", "source_cast_hash", "reply_text", "published_cast_hash", "created_at"}).
			AddRow("id-2", int64(42), "0x102", "later", "0xr2", now).
			AddRow("id-1", int64(42), "0x101", "earlier", "0xr1", now.Add(-time.Hour)))

	replies, err := store.ListRecent(context.Background(), 42, 2)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(replies))
	}
	if replies[0].SourceCastHash != "0x102" {
		t.Fatalf("expected newest first, got %q", replies[0].SourceCastHash)
	}
}
