package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"

	"github.com/longregen/engram/internal/domain"
	"github.com/longregen/engram/internal/domain/models"
)

func newArchiveMock(t *testing.T) (pgxmock.PgxPoolIface, *ArchiveRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mock.Close)
	return mock, NewArchiveRepository(mock)
}

func archiveMessage(t *testing.T) *models.Message {
	t.Helper()
	msg, err := models.NewMessage("msg_1", "user_1", "conv_1", models.MessageRoleUser, "hello world")
	if err != nil {
		t.Fatal(err)
	}
	return msg.WithImportance(0.7)
}

func TestArchiveUpserts(t *testing.T) {
	mock, repo := newArchiveMock(t)
	msg := archiveMessage(t)

	mock.ExpectExec("INSERT INTO engram_messages").
		WithArgs(msg.ID, "user_1", "conv_1", "user", "hello world",
			float32(0.7), pgxmock.AnyArg(), msg.Timestamp).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.Archive(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestArchiveRejectsNilMessage(t *testing.T) {
	_, repo := newArchiveMock(t)
	if err := repo.Archive(context.Background(), nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetScansMetadata(t *testing.T) {
	mock, repo := newArchiveMock(t)

	md, _ := json.Marshal(models.MessageMetadata{Importance: 0.7, Tags: []string{models.TagFirstMessage}})
	ts := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, user_id, conversation_id, role, content, metadata, ts").
		WithArgs("user_1", "msg_1").
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "user_id", "conversation_id", "role", "content", "metadata", "ts"}).
			AddRow("msg_1", "user_1", "conv_1", "user", "hello world", md, ts))

	msg, err := repo.Get(context.Background(), "user_1", "msg_1")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Content != "hello world" || msg.Role != models.MessageRoleUser {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Metadata.Importance != 0.7 || !msg.Metadata.HasTag(models.TagFirstMessage) {
		t.Errorf("metadata not restored: %+v", msg.Metadata)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetNotFound(t *testing.T) {
	mock, repo := newArchiveMock(t)

	mock.ExpectQuery("SELECT id, user_id, conversation_id, role, content, metadata, ts").
		WithArgs("user_1", "msg_missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), "user_1", "msg_missing")
	if !errors.Is(err, domain.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestSearchOrdersAndLimits(t *testing.T) {
	mock, repo := newArchiveMock(t)
	ts := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM engram_messages").
		WithArgs("user_1", "billing", 5).
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "user_id", "conversation_id", "role", "content", "metadata", "ts"}).
			AddRow("msg_2", "user_1", "conv_1", "user", "billing outage", []byte(nil), ts).
			AddRow("msg_1", "user_1", "conv_1", "user", "billing deploy", []byte(nil), ts))

	hits, err := repo.Search(context.Background(), "user_1", "billing", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].ID != "msg_2" {
		t.Errorf("unexpected hits %v", hits)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCountByConversation(t *testing.T) {
	mock, repo := newArchiveMock(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("user_1", "conv_1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.CountByConversation(context.Background(), "user_1", "conv_1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 4 {
		t.Errorf("expected 4, got %d", count)
	}
}

func TestEraseUserDeletesAllRows(t *testing.T) {
	mock, repo := newArchiveMock(t)

	mock.ExpectExec("DELETE FROM engram_messages WHERE user_id").
		WithArgs("user_1").
		WillReturnResult(pgxmock.NewResult("DELETE", 12))

	if err := repo.EraseUser(context.Background(), "user_1"); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
