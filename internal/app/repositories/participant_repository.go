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
	"github.com/yigit/chathub/internal/pkg/dberrors"
)

const constraintParticipantPair = "chat_participants_chat_id_profile_id_key"

var participantColumns = []string{
	"id", "chat_id", "profile_id", "role", "joined_at", "left_at", "last_read_at",
}

// PostgresParticipantRepository handles database operations for chat memberships
type PostgresParticipantRepository struct {
	db db.Querier
	sb squirrel.StatementBuilderType
}

// NewParticipantRepository creates a new PostgresParticipantRepository
func NewParticipantRepository(q db.Querier) *PostgresParticipantRepository {
	return &PostgresParticipantRepository{
		db: q,
		sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func scanParticipant(row pgx.Row) (*models.Participant, error) {
	var p models.Participant
	err := row.Scan(
		&p.ID,
		&p.ChatID,
		&p.ProfileID,
		&p.Role,
		&p.JoinedAt,
		&p.LeftAt,
		&p.LastReadAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func notParticipant() error {
	return apperrors.Wrap(apperrors.ErrPermissionDenied, apperrors.ErrNotParticipant)
}

// insertParticipant adds a membership row using q, which may be a transaction
func insertParticipant(ctx context.Context, q db.Querier, sb squirrel.StatementBuilderType, p *models.Participant) error {
	sql, args, err := sb.Insert("chat_participants").
		Columns("chat_id", "profile_id", "role").
		Values(p.ChatID, p.ProfileID, p.Role).
		Suffix("RETURNING id, joined_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("error building SQL: %w", err)
	}

	if err := q.QueryRow(ctx, sql, args...).Scan(&p.ID, &p.JoinedAt); err != nil {
		if dberrors.IsForeignKeyViolation(err) {
			return apperrors.Wrap(apperrors.ErrResourceNotFound,
				fmt.Errorf("%w: id %d", apperrors.ErrProfileNotFound, p.ProfileID))
		}
		if dberrors.IsDuplicateConstraintError(err, constraintParticipantPair) {
			return apperrors.Wrap(apperrors.ErrConflict, apperrors.ErrAlreadyParticipant)
		}
		return fmt.Errorf("error creating chat participant: %w", err)
	}

	return nil
}

// lockChat serializes membership changes of one chat for the rest of tx
func lockChat(ctx context.Context, tx pgx.Tx, chatID int64) error {
	var id int64
	err := tx.QueryRow(ctx, "SELECT id FROM chats WHERE id = $1 FOR UPDATE", chatID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chatNotFound(chatID)
		}
		return fmt.Errorf("error locking chat: %w", err)
	}
	return nil
}

// Get retrieves the membership row of a profile in a chat
func (r *PostgresParticipantRepository) Get(ctx context.Context, chatID, profileID int64) (*models.Participant, error) {
	sql, args, err := r.sb.Select(participantColumns...).
		From("chat_participants").
		Where(squirrel.Eq{"chat_id": chatID, "profile_id": profileID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	p, err := scanParticipant(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewResourceNotFoundError("participant not found")
		}
		return nil, fmt.Errorf("error retrieving chat participant: %w", err)
	}

	return p, nil
}

// IsActive checks whether the profile is an active participant of the chat
func (r *PostgresParticipantRepository) IsActive(ctx context.Context, chatID, profileID int64) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM chat_participants
			WHERE chat_id = $1 AND profile_id = $2 AND left_at IS NULL
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, chatID, profileID).Scan(&exists); err != nil {
		return false, fmt.Errorf("error checking chat participant: %w", err)
	}

	return exists, nil
}

// ListActive retrieves the active memberships of a chat with their profiles, oldest first
func (r *PostgresParticipantRepository) ListActive(ctx context.Context, chatID int64) ([]*models.Participant, error) {
	columns := append(prefixColumns("p", participantColumns), "pr.username", "pr.display_name")

	sql, args, err := r.sb.Select(columns...).
		From("chat_participants p").
		Join("profiles pr ON pr.id = p.profile_id").
		Where(squirrel.Eq{"p.chat_id": chatID, "p.left_at": nil}).
		OrderBy("p.joined_at", "p.id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	var participants []*models.Participant
	for rows.Next() {
		var p models.Participant
		var profile models.Profile
		err := rows.Scan(
			&p.ID, &p.ChatID, &p.ProfileID, &p.Role, &p.JoinedAt, &p.LeftAt, &p.LastReadAt,
			&profile.Username, &profile.DisplayName,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning chat participant: %w", err)
		}
		profile.ID = p.ProfileID
		p.Profile = &profile
		participants = append(participants, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat participants: %w", err)
	}

	return participants, nil
}

// AddOrReactivate inserts a MEMBER row, or reactivates the row left earlier
func (r *PostgresParticipantRepository) AddOrReactivate(ctx context.Context, chatID, profileID int64) (*models.Participant, bool, error) {
	var result *models.Participant
	var reactivated bool

	err := db.WithTransaction(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		if err := lockChat(ctx, tx, chatID); err != nil {
			return err
		}

		sql, args, err := r.sb.Select(participantColumns...).
			From("chat_participants").
			Where(squirrel.Eq{"chat_id": chatID, "profile_id": profileID}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return fmt.Errorf("error building SQL: %w", err)
		}

		existing, err := scanParticipant(tx.QueryRow(ctx, sql, args...))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			p := &models.Participant{ChatID: chatID, ProfileID: profileID, Role: models.RoleMember}
			if err := insertParticipant(ctx, tx, r.sb, p); err != nil {
				return err
			}
			result = p
			return nil
		case err != nil:
			return fmt.Errorf("error retrieving chat participant: %w", err)
		case existing.IsActive():
			return apperrors.Wrap(apperrors.ErrConflict, apperrors.ErrAlreadyParticipant)
		}

		sql, args, err = r.sb.Update("chat_participants").
			Set("left_at", nil).
			Set("last_read_at", nil).
			Set("role", models.RoleMember).
			Set("joined_at", squirrel.Expr("clock_timestamp()")).
			Where(squirrel.Eq{"id": existing.ID}).
			Suffix("RETURNING " + joinColumns(participantColumns)).
			ToSql()
		if err != nil {
			return fmt.Errorf("error building SQL: %w", err)
		}

		result, err = scanParticipant(tx.QueryRow(ctx, sql, args...))
		if err != nil {
			return fmt.Errorf("error reactivating chat participant: %w", err)
		}
		reactivated = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return result, reactivated, nil
}

// Leave sets left_at on the membership and keeps the admin invariant of the chat
func (r *PostgresParticipantRepository) Leave(ctx context.Context, chatID, profileID int64) (*models.Participant, *models.Participant, error) {
	var left, promoted *models.Participant

	err := db.WithTransaction(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		if err := lockChat(ctx, tx, chatID); err != nil {
			return err
		}

		sql, args, err := r.sb.Update("chat_participants").
			Set("left_at", squirrel.Expr("clock_timestamp()")).
			Where(squirrel.Eq{"chat_id": chatID, "profile_id": profileID, "left_at": nil}).
			Suffix("RETURNING " + joinColumns(participantColumns)).
			ToSql()
		if err != nil {
			return fmt.Errorf("error building SQL: %w", err)
		}

		left, err = scanParticipant(tx.QueryRow(ctx, sql, args...))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return notParticipant()
			}
			return fmt.Errorf("error leaving chat: %w", err)
		}

		if left.Role != models.RoleAdmin {
			return nil
		}

		var admins int64
		err = tx.QueryRow(ctx,
			"SELECT COUNT(*) FROM chat_participants WHERE chat_id = $1 AND left_at IS NULL AND role = $2",
			chatID, models.RoleAdmin,
		).Scan(&admins)
		if err != nil {
			return fmt.Errorf("error counting chat admins: %w", err)
		}
		if admins > 0 {
			return nil
		}

		promoteQuery := `
			UPDATE chat_participants SET role = $2
			WHERE id = (
				SELECT id FROM chat_participants
				WHERE chat_id = $1 AND left_at IS NULL
				ORDER BY joined_at, id
				LIMIT 1
			)
			RETURNING ` + joinColumns(participantColumns)

		promoted, err = scanParticipant(tx.QueryRow(ctx, promoteQuery, chatID, models.RoleAdmin))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// chat is now empty
				promoted = nil
				return nil
			}
			return fmt.Errorf("error promoting chat admin: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return left, promoted, nil
}

// lockChatForRead waits out in-flight message inserts and holds new ones back
// until the read marker commits
const lockChatForRead = `SELECT id FROM chats WHERE id = $1 FOR NO KEY UPDATE`

// MarkRead moves last_read_at forward; it never lands behind the newest message or itself
func (r *PostgresParticipantRepository) MarkRead(ctx context.Context, chatID, profileID int64) (*models.Participant, error) {
	query := `
		UPDATE chat_participants
		SET last_read_at = GREATEST(
			clock_timestamp(),
			last_read_at,
			(SELECT MAX(created_at) FROM messages WHERE chat_id = $1)
		)
		WHERE chat_id = $1 AND profile_id = $2 AND left_at IS NULL
		RETURNING ` + joinColumns(participantColumns)

	var p *models.Participant
	err := db.WithTransaction(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		var id int64
		if err := tx.QueryRow(ctx, lockChatForRead, chatID).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return notParticipant()
			}
			return fmt.Errorf("error locking chat: %w", err)
		}

		// a fresh snapshot: messages committed while waiting on the lock are visible
		var err error
		p, err = scanParticipant(tx.QueryRow(ctx, query, chatID, profileID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return notParticipant()
			}
			return fmt.Errorf("error marking chat as read: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}
