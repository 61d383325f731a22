// Package postgres - store.go реализует scoring.Store поверх pgxpool.
// Каждый метод - один запрос или одна транзакция.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/circles-bot/internal/common"
	"serotonyl.ru/circles-bot/internal/features/scoring"
)

// Store работает с таблицами chat_state, users, circle_messages и reactions_log.
type Store struct {
	db *pgxpool.Pool
}

var _ scoring.Store = (*Store)(nil)

// NewStore создаёт хранилище поверх готового пула.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Close закрывает пул соединений.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// --- Состояние чатов ---

const ensureChatStateSQL = `
	INSERT INTO chat_state (chat_id, last_circle_ts, last_rating_ts, ratings_enabled)
	VALUES ($1, 0, 0, TRUE)
	ON CONFLICT (chat_id) DO NOTHING
`

func (s *Store) EnsureChatState(ctx context.Context, chatID int64) error {
	if _, err := s.db.Exec(ctx, ensureChatStateSQL, chatID); err != nil {
		return fmt.Errorf("ошибка создания состояния чата: %w", err)
	}
	return nil
}

func (s *Store) GetChatState(ctx context.Context, chatID int64) (scoring.ChatState, error) {
	if err := s.EnsureChatState(ctx, chatID); err != nil {
		return scoring.ChatState{}, err
	}

	var st scoring.ChatState
	err := s.db.QueryRow(ctx, `
		SELECT chat_id, last_circle_ts, last_rating_ts, ratings_enabled
		FROM chat_state WHERE chat_id = $1
	`, chatID).Scan(&st.ChatID, &st.LastCircleTs, &st.LastRatingTs, &st.RatingsEnabled)
	if err != nil {
		return scoring.ChatState{}, fmt.Errorf("ошибка чтения состояния чата %d: %w", chatID, err)
	}
	return st, nil
}

// SetLastCircleTs двигает водяной знак только вперёд: поздний дубль не откатит его назад.
func (s *Store) SetLastCircleTs(ctx context.Context, chatID, ts int64) error {
	query := `
		INSERT INTO chat_state (chat_id, last_circle_ts, last_rating_ts, ratings_enabled)
		VALUES ($1, $2, 0, TRUE)
		ON CONFLICT (chat_id) DO UPDATE
		SET last_circle_ts = GREATEST(chat_state.last_circle_ts, EXCLUDED.last_circle_ts)
	`
	if _, err := s.db.Exec(ctx, query, chatID, ts); err != nil {
		return fmt.Errorf("ошибка обновления last_circle_ts: %w", err)
	}
	return nil
}

func (s *Store) SetLastRatingTs(ctx context.Context, chatID, ts int64) error {
	query := `
		INSERT INTO chat_state (chat_id, last_circle_ts, last_rating_ts, ratings_enabled)
		VALUES ($1, 0, $2, TRUE)
		ON CONFLICT (chat_id) DO UPDATE
		SET last_rating_ts = GREATEST(chat_state.last_rating_ts, EXCLUDED.last_rating_ts)
	`
	if _, err := s.db.Exec(ctx, query, chatID, ts); err != nil {
		return fmt.Errorf("ошибка обновления last_rating_ts: %w", err)
	}
	return nil
}

func (s *Store) SetRatingsEnabled(ctx context.Context, chatID int64, enabled bool) error {
	query := `
		INSERT INTO chat_state (chat_id, last_circle_ts, last_rating_ts, ratings_enabled)
		VALUES ($1, 0, 0, $2)
		ON CONFLICT (chat_id) DO UPDATE SET ratings_enabled = EXCLUDED.ratings_enabled
	`
	if _, err := s.db.Exec(ctx, query, chatID, enabled); err != nil {
		return fmt.Errorf("ошибка переключения рейтингов: %w", err)
	}
	return nil
}

func (s *Store) ListActiveChats(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Query(ctx, "SELECT chat_id FROM chat_state ORDER BY chat_id")
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса чатов: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return ids, nil
}

// --- Пользователи ---

// UpsertUser на конфликте обновляет только имя/username (не трогает счётчики).
func (s *Store) UpsertUser(ctx context.Context, identity scoring.UserIdentity) error {
	query := `
		INSERT INTO users (chat_id, user_id, username, display_name, circles, reactions, points)
		VALUES ($1, $2, NULLIF($3, ''), $4, 0, 0, 0)
		ON CONFLICT (chat_id, user_id) DO UPDATE
		SET username = EXCLUDED.username,
		    display_name = EXCLUDED.display_name
	`
	_, err := s.db.Exec(ctx, query,
		identity.ChatID, identity.UserID, identity.Username, identity.DisplayName,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания/обновления пользователя: %w", err)
	}
	return nil
}

const userColumns = `chat_id, user_id, COALESCE(username, '') AS username, display_name, circles, reactions, points`

func (s *Store) GetUserStats(ctx context.Context, chatID, userID int64) (scoring.UserStats, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+userColumns+" FROM users WHERE chat_id = $1 AND user_id = $2",
		chatID, userID,
	)
	if err != nil {
		return scoring.UserStats{}, fmt.Errorf("ошибка чтения пользователя: %w", err)
	}
	u, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[scoring.UserStats])
	if errors.Is(err, pgx.ErrNoRows) {
		return scoring.UserStats{}, fmt.Errorf("chat_id=%d user_id=%d: %w", chatID, userID, common.ErrUserNotFound)
	}
	if err != nil {
		return scoring.UserStats{}, fmt.Errorf("ошибка чтения пользователя: %w", err)
	}
	return u, nil
}

// --- Кружки ---

// ApplyCircle: вставка кружка и начисление автору в одной транзакции (pgx.BeginFunc).
func (s *Store) ApplyCircle(ctx context.Context, c scoring.CircleMessage, points int64) (bool, error) {
	var isNew bool
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO circle_messages (chat_id, message_id, author_id, created_at_ts)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (chat_id, message_id) DO NOTHING
		`, c.ChatID, c.MessageID, c.AuthorID, c.CreatedAtTs)
		if err != nil {
			return fmt.Errorf("ошибка записи кружка: %w", err)
		}
		if isNew = tag.RowsAffected() == 1; !isNew {
			return nil
		}

		tag, err = tx.Exec(ctx, `
			UPDATE users SET circles = circles + 1, points = points + $3
			WHERE chat_id = $1 AND user_id = $2
		`, c.ChatID, c.AuthorID, points)
		if err != nil {
			return fmt.Errorf("ошибка начисления за кружок: %w", err)
		}
		return requireUser(tag, c.ChatID, c.AuthorID)
	})
	if err != nil {
		return false, err
	}
	return isNew, nil
}

func (s *Store) TryGetCircleAuthorID(ctx context.Context, chatID, messageID int64) (int64, error) {
	var authorID int64
	err := s.db.QueryRow(ctx,
		"SELECT author_id FROM circle_messages WHERE chat_id = $1 AND message_id = $2",
		chatID, messageID,
	).Scan(&authorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, common.ErrCircleNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения кружка: %w", err)
	}
	return authorID, nil
}

// --- Журнал реакций ---

func (s *Store) ApplyReaction(ctx context.Context, key scoring.ReactionKey, authorID, points int64) (bool, error) {
	return s.changeReaction(ctx, `
		INSERT INTO reactions_log (chat_id, message_id, reactor_id, emoji)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`, key, authorID, 1, points)
}

func (s *Store) RevertReaction(ctx context.Context, key scoring.ReactionKey, authorID, points int64) (bool, error) {
	return s.changeReaction(ctx, `
		DELETE FROM reactions_log
		WHERE chat_id = $1 AND message_id = $2 AND reactor_id = $3 AND emoji = $4
	`, key, authorID, -1, -points)
}

// changeReaction меняет журнал и, если строка реально вставлена или удалена,
// сдвигает reactions на sign и points на points в той же транзакции.
func (s *Store) changeReaction(ctx context.Context, logQuery string, key scoring.ReactionKey, authorID, sign, points int64) (bool, error) {
	var changed bool
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, logQuery, key.ChatID, key.MessageID, key.ReactorID, key.Emoji)
		if err != nil {
			return fmt.Errorf("ошибка журнала реакций: %w", err)
		}
		if changed = tag.RowsAffected() == 1; !changed {
			return nil
		}

		tag, err = tx.Exec(ctx, `
			UPDATE users SET reactions = reactions + $3, points = points + $4
			WHERE chat_id = $1 AND user_id = $2
		`, key.ChatID, authorID, sign, points)
		if err != nil {
			return fmt.Errorf("ошибка начисления за реакцию: %w", err)
		}
		return requireUser(tag, key.ChatID, authorID)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// requireUser: UPDATE без затронутых строк - нет статистики, транзакция откатывается.
func requireUser(tag pgconn.CommandTag, chatID, userID int64) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat_id=%d user_id=%d: %w", chatID, userID, common.ErrUserNotFound)
	}
	return nil
}

// --- Рейтинги ---

func (s *Store) GetTop(ctx context.Context, chatID int64, limit int) ([]scoring.TopRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, COALESCE(username, ''), display_name, circles, reactions, points
		FROM users
		WHERE chat_id = $1
		ORDER BY points DESC, circles DESC, reactions DESC, user_id ASC
		LIMIT $2
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса рейтинга: %w", err)
	}
	defer rows.Close()

	var out []scoring.TopRow
	for rows.Next() {
		r := scoring.TopRow{Rank: len(out) + 1}
		if err := rows.Scan(&r.UserID, &r.Username, &r.DisplayName, &r.Circles, &r.Reactions, &r.Points); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}

func (s *Store) GetZeroUsers(ctx context.Context, chatID int64, criterion scoring.ZeroCriterion, limit int) ([]scoring.UserStats, error) {
	var where string
	switch criterion {
	case scoring.ZeroByPoints:
		where = "points <= 0"
	case scoring.ZeroByCircles:
		where = "circles = 0"
	default:
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidZeroCriteria, criterion)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE chat_id = $1 AND `+where+`
		ORDER BY points ASC, circles ASC, reactions ASC, user_id ASC
		LIMIT $2
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса нулевых: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowToStructByName[scoring.UserStats])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return users, nil
}
