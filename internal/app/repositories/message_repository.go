package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/yigit/chathub/internal/app/models"
	"github.com/yigit/chathub/internal/db"
	"github.com/yigit/chathub/internal/pkg/apperrors"
	"github.com/yigit/chathub/internal/pkg/cursor"
	"github.com/yigit/chathub/internal/pkg/dberrors"
)

var messageColumns = []string{
	"id", "chat_id", "author_id", "content", "attachments",
	"is_edited", "deleted", "created_at", "updated_at",
}

// PostgresMessageRepository handles database operations for chat messages
type PostgresMessageRepository struct {
	db db.Querier
	sb squirrel.StatementBuilderType
}

// NewMessageRepository creates a new PostgresMessageRepository
func NewMessageRepository(q db.Querier) *PostgresMessageRepository {
	return &PostgresMessageRepository{
		db: q,
		sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	err := row.Scan(
		&m.ID,
		&m.ChatID,
		&m.AuthorID,
		&m.Content,
		&m.Attachments,
		&m.IsEdited,
		&m.Deleted,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func messageNotFound(id int64) error {
	return apperrors.Wrap(apperrors.ErrResourceNotFound,
		fmt.Errorf("%w: id %d", apperrors.ErrMessageNotFound, id))
}

// lockChatForInsert holds the chat row while a message is inserted. MarkRead
// takes a conflicting lock, so a read marker never passes a message whose
// created_at is assigned but not yet committed.
const lockChatForInsert = `SELECT id FROM chats WHERE id = $1 FOR SHARE`

// Create inserts a new chat message into the database
func (r *PostgresMessageRepository) Create(ctx context.Context, message *models.Message) error {
	attachments := message.Attachments
	if attachments == nil {
		attachments = []string{}
	}

	sql, args, err := r.sb.Insert("messages").
		Columns("chat_id", "author_id", "content", "attachments").
		Values(message.ChatID, message.AuthorID, message.Content, attachments).
		Suffix("RETURNING id, is_edited, deleted, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("error building SQL: %w", err)
	}

	missingChat := apperrors.Wrap(apperrors.ErrResourceNotFound, apperrors.ErrChatNotFound)

	return db.WithTransaction(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		var chatID int64
		if err := tx.QueryRow(ctx, lockChatForInsert, message.ChatID).Scan(&chatID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return missingChat
			}
			return fmt.Errorf("error locking chat: %w", err)
		}

		err := tx.QueryRow(ctx, sql, args...).Scan(
			&message.ID,
			&message.IsEdited,
			&message.Deleted,
			&message.CreatedAt,
			&message.UpdatedAt,
		)
		if err != nil {
			if dberrors.IsForeignKeyViolation(err) {
				return missingChat
			}
			return fmt.Errorf("error creating chat message: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a message by its ID, including soft-deleted ones
func (r *PostgresMessageRepository) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	sql, args, err := r.sb.Select(messageColumns...).
		From("messages").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	message, err := scanMessage(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, messageNotFound(id)
		}
		return nil, fmt.Errorf("error retrieving chat message: %w", err)
	}

	return message, nil
}

// UpdateContent replaces the content of a live message and flags it as edited
func (r *PostgresMessageRepository) UpdateContent(ctx context.Context, id int64, content string) (*models.Message, error) {
	sql, args, err := r.sb.Update("messages").
		Set("content", content).
		Set("is_edited", true).
		Set("updated_at", squirrel.Expr("clock_timestamp()")).
		Where(squirrel.Eq{"id": id, "deleted": false}).
		Suffix("RETURNING " + joinColumns(messageColumns)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	message, err := scanMessage(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, messageNotFound(id)
		}
		return nil, fmt.Errorf("error updating chat message: %w", err)
	}

	return message, nil
}

// SoftDelete flags the message as deleted. The row stays until the chat is deleted.
func (r *PostgresMessageRepository) SoftDelete(ctx context.Context, id int64) (*models.Message, error) {
	sql, args, err := r.sb.Update("messages").
		Set("deleted", true).
		Set("updated_at", squirrel.Expr("clock_timestamp()")).
		Where(squirrel.Eq{"id": id, "deleted": false}).
		Suffix("RETURNING " + joinColumns(messageColumns)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	message, err := scanMessage(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, messageNotFound(id)
		}
		return nil, fmt.Errorf("error deleting chat message: %w", err)
	}

	return message, nil
}

// ListBefore retrieves a newest-first keyset page of live messages
func (r *PostgresMessageRepository) ListBefore(ctx context.Context, chatID int64, before *cursor.Position, limit int) ([]*models.Message, error) {
	queryBuilder := r.sb.Select(messageColumns...).
		From("messages").
		Where(squirrel.Eq{"chat_id": chatID, "deleted": false}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit))

	if before != nil {
		queryBuilder = queryBuilder.Where("(created_at, id) < (?, ?)", before.CreatedAt, before.ID)
	}

	sql, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0, limit)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning chat message: %w", err)
		}
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat messages: %w", err)
	}

	return messages, nil
}

// countUnreadQuery counts in one statement so the read bound and the message
// set come from the same snapshot
const countUnreadQuery = `
	SELECT COUNT(m.id)
	FROM chat_participants p
	LEFT JOIN messages m
		ON m.chat_id = p.chat_id
		AND m.deleted = FALSE
		AND m.author_id <> p.profile_id
		AND m.created_at > GREATEST(p.joined_at, COALESCE(p.last_read_at, p.joined_at))
	WHERE p.chat_id = $1 AND p.profile_id = $2 AND p.left_at IS NULL
`

// CountUnread returns the unread count of an active participant
func (r *PostgresMessageRepository) CountUnread(ctx context.Context, chatID, profileID int64) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, countUnreadQuery, chatID, profileID).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting unread messages: %w", err)
	}
	return count, nil
}
