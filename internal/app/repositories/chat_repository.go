package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/yigit/chathub/internal/app/models"
	"github.com/yigit/chathub/internal/db"
	"github.com/yigit/chathub/internal/pkg/apperrors"
	"github.com/yigit/chathub/internal/pkg/dberrors"
)

const constraintChatPairKey = "chats_pair_key_key"

var chatColumns = []string{"id", "kind", "name", "creator_id", "created_at", "updated_at"}

// PostgresChatRepository handles database operations for chats
type PostgresChatRepository struct {
	db db.Querier
	sb squirrel.StatementBuilderType
}

// NewChatRepository creates a new PostgresChatRepository
func NewChatRepository(q db.Querier) *PostgresChatRepository {
	return &PostgresChatRepository{
		db: q,
		sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func scanChat(row pgx.Row) (*models.Chat, error) {
	var c models.Chat
	var name *string
	if err := row.Scan(&c.ID, &c.Kind, &name, &c.CreatorID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if name != nil {
		c.Name = *name
	}
	return &c, nil
}

func chatNotFound(id int64) error {
	return apperrors.Wrap(apperrors.ErrResourceNotFound,
		fmt.Errorf("%w: id %d", apperrors.ErrChatNotFound, id))
}

// CreateWithParticipants inserts the chat row and every participant row in one transaction
func (r *PostgresChatRepository) CreateWithParticipants(ctx context.Context, chat *models.Chat, participants []*models.Participant) error {
	var key *string
	if chat.IsPrivate() {
		if len(participants) != 2 {
			return fmt.Errorf("private chat requires exactly two participants, got %d", len(participants))
		}
		k := pairKey(participants[0].ProfileID, participants[1].ProfileID)
		key = &k
	}

	var name *string
	if chat.Name != "" {
		name = &chat.Name
	}

	return db.WithTransaction(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		sql, args, err := r.sb.Insert("chats").
			Columns("kind", "name", "creator_id", "pair_key").
			Values(chat.Kind, name, chat.CreatorID, key).
			Suffix("RETURNING id, created_at, updated_at").
			ToSql()
		if err != nil {
			return fmt.Errorf("error building SQL: %w", err)
		}

		if err := tx.QueryRow(ctx, sql, args...).Scan(&chat.ID, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			if dberrors.IsDuplicateConstraintError(err, constraintChatPairKey) {
				return apperrors.NewConflictError("a private chat already exists for this pair")
			}
			if dberrors.IsForeignKeyViolation(err) {
				return apperrors.Wrap(apperrors.ErrResourceNotFound, apperrors.ErrProfileNotFound)
			}
			return fmt.Errorf("error creating chat: %w", err)
		}

		for _, p := range participants {
			p.ChatID = chat.ID
			if err := insertParticipant(ctx, tx, r.sb, p); err != nil {
				return err
			}
		}

		chat.Participants = participants
		return nil
	})
}

// GetByID retrieves a chat by its ID
func (r *PostgresChatRepository) GetByID(ctx context.Context, id int64) (*models.Chat, error) {
	sql, args, err := r.sb.Select(chatColumns...).
		From("chats").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	chat, err := scanChat(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chatNotFound(id)
		}
		return nil, fmt.Errorf("error retrieving chat: %w", err)
	}

	return chat, nil
}

// FindPrivateBetween looks up the private chat of an unordered profile pair
func (r *PostgresChatRepository) FindPrivateBetween(ctx context.Context, a, b int64) (*models.Chat, error) {
	sql, args, err := r.sb.Select(prefixColumns("c", chatColumns)...).
		From("chats c").
		Join("chat_participants pa ON pa.chat_id = c.id AND pa.left_at IS NULL").
		Join("chat_participants pb ON pb.chat_id = c.id AND pb.left_at IS NULL").
		Where(squirrel.Eq{"c.pair_key": pairKey(a, b), "pa.profile_id": a, "pb.profile_id": b}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	chat, err := scanChat(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error finding private chat: %w", err)
	}

	return chat, nil
}

// UpdateName renames a chat and bumps updated_at
func (r *PostgresChatRepository) UpdateName(ctx context.Context, id int64, name string) (*models.Chat, error) {
	sql, args, err := r.sb.Update("chats").
		Set("name", name).
		Set("updated_at", squirrel.Expr("clock_timestamp()")).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING " + joinColumns(chatColumns)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	chat, err := scanChat(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chatNotFound(id)
		}
		return nil, fmt.Errorf("error updating chat: %w", err)
	}

	return chat, nil
}

// DeleteCascade removes messages, participants and the chat in one transaction
func (r *PostgresChatRepository) DeleteCascade(ctx context.Context, id int64) error {
	return db.WithTransaction(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		// the chat row is locked first, like every other writer of the chat
		if err := lockChat(ctx, tx, id); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, "DELETE FROM messages WHERE chat_id = $1", id); err != nil {
			return fmt.Errorf("error deleting chat messages: %w", err)
		}

		if _, err := tx.Exec(ctx, "DELETE FROM chat_participants WHERE chat_id = $1", id); err != nil {
			return fmt.Errorf("error deleting chat participants: %w", err)
		}

		tag, err := tx.Exec(ctx, "DELETE FROM chats WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("error deleting chat: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return chatNotFound(id)
		}

		return nil
	})
}

const listForProfileQuery = `
	SELECT
		c.id, c.kind, c.name, c.creator_id, c.created_at, c.updated_at,
		p.last_read_at,
		lm.id, lm.author_id, lm.content, lm.attachments, lm.is_edited, lm.created_at, lm.updated_at,
		(
			SELECT COUNT(*) FROM messages m
			WHERE m.chat_id = c.id
				AND m.deleted = FALSE
				AND m.author_id <> p.profile_id
				AND m.created_at > GREATEST(p.joined_at, COALESCE(p.last_read_at, p.joined_at))
		) AS unread_count,
		(
			SELECT o.profile_id FROM chat_participants o
			WHERE c.kind = 'PRIVATE'
				AND o.chat_id = c.id
				AND o.profile_id <> p.profile_id
				AND o.left_at IS NULL
			LIMIT 1
		) AS other_profile_id
	FROM chat_participants p
	JOIN chats c ON c.id = p.chat_id
	LEFT JOIN LATERAL (
		SELECT id, author_id, content, attachments, is_edited, created_at, updated_at
		FROM messages
		WHERE chat_id = c.id AND deleted = FALSE
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	) lm ON TRUE
	WHERE p.profile_id = $1 AND p.left_at IS NULL
	ORDER BY COALESCE(lm.created_at, c.updated_at) DESC, c.id DESC
`

// ListForProfile retrieves the caller's chat list with per-chat derived state
func (r *PostgresChatRepository) ListForProfile(ctx context.Context, profileID int64) ([]*models.ChatSummary, error) {
	rows, err := r.db.Query(ctx, listForProfileQuery, profileID)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	var summaries []*models.ChatSummary
	for rows.Next() {
		var (
			chat        models.Chat
			name        *string
			lastReadAt  *time.Time
			msgID       *int64
			msgAuthor   *int64
			msgContent  *string
			msgAttach   []string
			msgEdited   *bool
			msgCreated  *time.Time
			msgUpdated  *time.Time
			unreadCount int64
			otherID     *int64
		)

		err := rows.Scan(
			&chat.ID, &chat.Kind, &name, &chat.CreatorID, &chat.CreatedAt, &chat.UpdatedAt,
			&lastReadAt,
			&msgID, &msgAuthor, &msgContent, &msgAttach, &msgEdited, &msgCreated, &msgUpdated,
			&unreadCount,
			&otherID,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning chat summary: %w", err)
		}
		if name != nil {
			chat.Name = *name
		}

		summary := &models.ChatSummary{
			Chat:           &chat,
			UnreadCount:    unreadCount,
			LastReadAt:     lastReadAt,
			OtherProfileID: otherID,
		}

		if msgID != nil {
			summary.LastMessage = &models.Message{
				ID:          *msgID,
				ChatID:      chat.ID,
				AuthorID:    *msgAuthor,
				Content:     *msgContent,
				Attachments: msgAttach,
				IsEdited:    *msgEdited,
				CreatedAt:   *msgCreated,
				UpdatedAt:   *msgUpdated,
			}
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat summaries: %w", err)
	}

	return summaries, nil
}

// ListIDsForProfile returns the ids of every chat the profile is active in
func (r *PostgresChatRepository) ListIDsForProfile(ctx context.Context, profileID int64) ([]int64, error) {
	sql, args, err := r.sb.Select("chat_id").
		From("chat_participants").
		Where(squirrel.Eq{"profile_id": profileID, "left_at": nil}).
		OrderBy("chat_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("error collecting chat ids: %w", err)
	}

	return ids, nil
}
