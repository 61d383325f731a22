// Package sqlite - store.go реализует scoring.Store поверх SQLite.
// Повторы отсекаются через INSERT OR IGNORE и RowsAffected.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"serotonyl.ru/circles-bot/internal/common"
	"serotonyl.ru/circles-bot/internal/features/scoring"
)

// Store - хранилище очков в SQLite.
type Store struct {
	db *sql.DB
}

var _ scoring.Store = (*Store)(nil)

// Close закрывает соединение с базой.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Состояние чатов ---

func (s *Store) EnsureChatState(ctx context.Context, chatID int64) error {
	return ensureChatState(ctx, s.db, chatID)
}

func ensureChatState(ctx context.Context, q TxQuerier, chatID int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO chat_state (chat_id, last_circle_ts, last_rating_ts, ratings_enabled)
		VALUES (?, 0, 0, 1)
	`, chatID)
	if err != nil {
		return fmt.Errorf("ошибка создания состояния чата: %w", err)
	}
	return nil
}

func (s *Store) GetChatState(ctx context.Context, chatID int64) (scoring.ChatState, error) {
	var st scoring.ChatState
	err := WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := ensureChatState(ctx, tx, chatID); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
			SELECT chat_id, last_circle_ts, last_rating_ts, ratings_enabled
			FROM chat_state WHERE chat_id = ?
		`, chatID).Scan(&st.ChatID, &st.LastCircleTs, &st.LastRatingTs, &st.RatingsEnabled)
	})
	if err != nil {
		return scoring.ChatState{}, fmt.Errorf("ошибка чтения состояния чата %d: %w", chatID, err)
	}
	return st, nil
}

func (s *Store) SetLastCircleTs(ctx context.Context, chatID, ts int64) error {
	return s.advance(ctx, "last_circle_ts", chatID, ts)
}

func (s *Store) SetLastRatingTs(ctx context.Context, chatID, ts int64) error {
	return s.advance(ctx, "last_rating_ts", chatID, ts)
}

// advance двигает водяной знак только вперёд. column - константа из кода, не ввод пользователя.
func (s *Store) advance(ctx context.Context, column string, chatID, ts int64) error {
	return WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := ensureChatState(ctx, tx, chatID); err != nil {
			return err
		}
		query := fmt.Sprintf("UPDATE chat_state SET %[1]s = MAX(%[1]s, ?) WHERE chat_id = ?", column)
		if _, err := tx.ExecContext(ctx, query, ts, chatID); err != nil {
			return fmt.Errorf("ошибка обновления %s: %w", column, err)
		}
		return nil
	})
}

func (s *Store) SetRatingsEnabled(ctx context.Context, chatID int64, enabled bool) error {
	return WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := ensureChatState(ctx, tx, chatID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE chat_state SET ratings_enabled = ? WHERE chat_id = ?", enabled, chatID,
		); err != nil {
			return fmt.Errorf("ошибка переключения рейтингов: %w", err)
		}
		return nil
	})
}

func (s *Store) ListActiveChats(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT chat_id FROM chat_state ORDER BY chat_id")
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса чатов: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// --- Пользователи ---

func (s *Store) UpsertUser(ctx context.Context, identity scoring.UserIdentity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (chat_id, user_id, username, display_name, circles, reactions, points)
		VALUES (?, ?, NULLIF(?, ''), ?, 0, 0, 0)
		ON CONFLICT (chat_id, user_id) DO UPDATE
		SET username = excluded.username,
		    display_name = excluded.display_name
	`, identity.ChatID, identity.UserID, identity.Username, identity.DisplayName)
	if err != nil {
		return fmt.Errorf("ошибка создания/обновления пользователя: %w", err)
	}
	return nil
}

func (s *Store) GetUserStats(ctx context.Context, chatID, userID int64) (scoring.UserStats, error) {
	var u scoring.UserStats
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_id, user_id, COALESCE(username, ''), display_name, circles, reactions, points
		FROM users WHERE chat_id = ? AND user_id = ?
	`, chatID, userID).Scan(
		&u.ChatID, &u.UserID, &u.Username, &u.DisplayName,
		&u.Circles, &u.Reactions, &u.Points,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return scoring.UserStats{}, fmt.Errorf("chat_id=%d user_id=%d: %w", chatID, userID, common.ErrUserNotFound)
	}
	if err != nil {
		return scoring.UserStats{}, fmt.Errorf("ошибка чтения пользователя: %w", err)
	}
	return u, nil
}

// --- Кружки ---

// ApplyCircle: INSERT OR IGNORE кружка и начисление автору в одной транзакции.
func (s *Store) ApplyCircle(ctx context.Context, c scoring.CircleMessage, points int64) (bool, error) {
	var isNew bool
	err := WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO circle_messages (chat_id, message_id, author_id, created_at_ts)
			VALUES (?, ?, ?, ?)
		`, c.ChatID, c.MessageID, c.AuthorID, c.CreatedAtTs)
		if err != nil {
			return fmt.Errorf("ошибка записи кружка: %w", err)
		}
		if isNew, err = affectedOne(res); err != nil || !isNew {
			return err
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE users SET circles = circles + 1, points = points + ?
			WHERE chat_id = ? AND user_id = ?
		`, points, c.ChatID, c.AuthorID)
		if err != nil {
			return fmt.Errorf("ошибка начисления за кружок: %w", err)
		}
		return requireUser(res, c.ChatID, c.AuthorID)
	})
	if err != nil {
		return false, err
	}
	return isNew, nil
}

func (s *Store) TryGetCircleAuthorID(ctx context.Context, chatID, messageID int64) (int64, error) {
	var authorID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT author_id FROM circle_messages WHERE chat_id = ? AND message_id = ?",
		chatID, messageID,
	).Scan(&authorID)
	if errors.Is(err, sql.ErrNoRows) {
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
		INSERT OR IGNORE INTO reactions_log (chat_id, message_id, reactor_id, emoji)
		VALUES (?, ?, ?, ?)
	`, key, authorID, 1, points)
}

func (s *Store) RevertReaction(ctx context.Context, key scoring.ReactionKey, authorID, points int64) (bool, error) {
	return s.changeReaction(ctx, `
		DELETE FROM reactions_log
		WHERE chat_id = ? AND message_id = ? AND reactor_id = ? AND emoji = ?
	`, key, authorID, -1, -points)
}

// changeReaction меняет журнал запросом logQuery и, если строка реально
// вставлена или удалена, сдвигает reactions на sign и points на points.
func (s *Store) changeReaction(ctx context.Context, logQuery string, key scoring.ReactionKey, authorID, sign, points int64) (bool, error) {
	var changed bool
	err := WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, logQuery, key.ChatID, key.MessageID, key.ReactorID, key.Emoji)
		if err != nil {
			return fmt.Errorf("ошибка журнала реакций: %w", err)
		}
		if changed, err = affectedOne(res); err != nil || !changed {
			return err
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE users SET reactions = reactions + ?, points = points + ?
			WHERE chat_id = ? AND user_id = ?
		`, sign, points, key.ChatID, authorID)
		if err != nil {
			return fmt.Errorf("ошибка начисления за реакцию: %w", err)
		}
		return requireUser(res, key.ChatID, authorID)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// --- Рейтинги ---

func (s *Store) GetTop(ctx context.Context, chatID int64, limit int) ([]scoring.TopRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, COALESCE(username, ''), display_name, circles, reactions, points
		FROM users
		WHERE chat_id = ?
		ORDER BY points DESC, circles DESC, reactions DESC, user_id ASC
		LIMIT ?
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
	return out, rows.Err()
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

	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, user_id, COALESCE(username, ''), display_name, circles, reactions, points
		FROM users
		WHERE chat_id = ? AND `+where+`
		ORDER BY points ASC, circles ASC, reactions ASC, user_id ASC
		LIMIT ?
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса нулевых: %w", err)
	}
	defer rows.Close()

	var out []scoring.UserStats
	for rows.Next() {
		var u scoring.UserStats
		if err := rows.Scan(&u.ChatID, &u.UserID, &u.Username, &u.DisplayName, &u.Circles, &u.Reactions, &u.Points); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// requireUser превращает UPDATE без затронутых строк в ErrUserNotFound (и откат транзакции).
func requireUser(res sql.Result, chatID, userID int64) error {
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("chat_id=%d user_id=%d: %w", chatID, userID, common.ErrUserNotFound)
	}
	return nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ошибка RowsAffected: %w", err)
	}
	return n == 1, nil
}
