package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yigit/chathub/internal/app/models"
	"github.com/yigit/chathub/internal/pkg/apperrors"
	"github.com/yigit/chathub/internal/pkg/cursor"
)

func newMockMessageRepository(t *testing.T) (*PostgresMessageRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewMessageRepository(mock), mock
}

func TestMessageRepository_Create(t *testing.T) {
	repo, mock := newMockMessageRepository(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM chats WHERE id = \$1 FOR SHARE`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectQuery(`INSERT INTO messages \(chat_id,author_id,content,attachments\)`).
		WithArgs(int64(7), int64(3), "hi", []string{}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "is_edited", "deleted", "created_at", "updated_at"}).
			AddRow(int64(11), false, false, now, now))
	mock.ExpectCommit()

	message := &models.Message{ChatID: 7, AuthorID: 3, Content: "hi"}
	require.NoError(t, repo.Create(context.Background(), message))
	assert.Equal(t, int64(11), message.ID)
	assert.Equal(t, now, message.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_CreateInMissingChat(t *testing.T) {
	tests := []struct {
		name   string
		expect func(mock pgxmock.PgxPoolIface)
	}{
		{
			name: "chat row absent",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT id FROM chats WHERE id = \$1 FOR SHARE`).
					WithArgs(int64(99)).
					WillReturnError(pgx.ErrNoRows)
			},
		},
		{
			name: "foreign key violation",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT id FROM chats WHERE id = \$1 FOR SHARE`).
					WithArgs(int64(99)).
					WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(99)))
				mock.ExpectQuery(`INSERT INTO messages`).
					WillReturnError(&pgconn.PgError{Code: "23503"})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockMessageRepository(t)

			mock.ExpectBegin()
			tt.expect(mock)
			mock.ExpectRollback()

			err := repo.Create(context.Background(), &models.Message{ChatID: 99, AuthorID: 3, Content: "hi"})
			assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)
			assert.ErrorIs(t, err, apperrors.ErrChatNotFound)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMessageRepository_GetByIDNotFound(t *testing.T) {
	repo, mock := newMockMessageRepository(t)

	mock.ExpectQuery(`SELECT .+ FROM messages WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), 5)
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_SoftDeleteSkipsDeletedRows(t *testing.T) {
	repo, mock := newMockMessageRepository(t)

	mock.ExpectQuery(`UPDATE messages SET deleted = \$1, updated_at = clock_timestamp\(\) WHERE .+RETURNING`).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.SoftDelete(context.Background(), 5)
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_ListBefore(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		before *cursor.Position
		query  string
		args   []interface{}
	}{
		{
			name:  "first page",
			query: `SELECT .+ FROM messages WHERE chat_id = \$1 AND deleted = \$2 ORDER BY created_at DESC, id DESC LIMIT 3`,
			args:  []interface{}{int64(7), false},
		},
		{
			name:   "after cursor",
			before: &cursor.Position{CreatedAt: base, ID: 20},
			query:  `WHERE chat_id = \$1 AND deleted = \$2 AND \(created_at, id\) < \(\$3, \$4\) ORDER BY created_at DESC, id DESC LIMIT 3`,
			args:   []interface{}{int64(7), false, base, int64(20)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockMessageRepository(t)

			rows := pgxmock.NewRows(messageColumns).
				AddRow(int64(19), int64(7), int64(3), "newer", []string{}, false, false, base.Add(-time.Second), base.Add(-time.Second)).
				AddRow(int64(18), int64(7), int64(4), "", []string{"files/1"}, false, false, base.Add(-2*time.Second), base.Add(-2*time.Second))

			mock.ExpectQuery(tt.query).WithArgs(tt.args...).WillReturnRows(rows)

			messages, err := repo.ListBefore(context.Background(), 7, tt.before, 3)
			require.NoError(t, err)
			require.Len(t, messages, 2)
			assert.Equal(t, int64(19), messages[0].ID)
			assert.Equal(t, []string{"files/1"}, messages[1].Attachments)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMessageRepository_CountUnread(t *testing.T) {
	repo, mock := newMockMessageRepository(t)

	mock.ExpectQuery(`SELECT COUNT\(m.id\)`).
		WithArgs(int64(7), int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(4)))

	count, err := repo.CountUnread(context.Background(), 7, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	mock.ExpectQuery(`SELECT COUNT\(m.id\)`).
		WillReturnError(errors.New("connection reset"))

	_, err = repo.CountUnread(context.Background(), 7, 3)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
