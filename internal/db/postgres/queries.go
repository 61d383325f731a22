// Package postgres - queries.go содержит миграции схемы.
// SQL встроен в код для упрощения деплоя.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

var migrations = []struct {
	version int
	sql     string
}{
	{1, migration001Scoring},
}

// Ключи таблиц circle_messages и reactions_log - основа идемпотентности:
// повторная вставка отсекается ON CONFLICT DO NOTHING.
var migration001Scoring = `
CREATE TABLE IF NOT EXISTS chat_state (
    chat_id BIGINT PRIMARY KEY,
    last_circle_ts BIGINT NOT NULL DEFAULT 0,
    last_rating_ts BIGINT NOT NULL DEFAULT 0,
    ratings_enabled BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE TABLE IF NOT EXISTS users (
    chat_id BIGINT NOT NULL,
    user_id BIGINT NOT NULL,
    username VARCHAR(255),
    display_name VARCHAR(255) NOT NULL,
    circles BIGINT NOT NULL DEFAULT 0,
    reactions BIGINT NOT NULL DEFAULT 0,
    points BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (chat_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_users_rating
    ON users(chat_id, points DESC, circles DESC, reactions DESC, user_id);
CREATE TABLE IF NOT EXISTS circle_messages (
    chat_id BIGINT NOT NULL,
    message_id BIGINT NOT NULL,
    author_id BIGINT NOT NULL,
    created_at_ts BIGINT NOT NULL,
    PRIMARY KEY (chat_id, message_id)
);
CREATE TABLE IF NOT EXISTS reactions_log (
    chat_id BIGINT NOT NULL,
    message_id BIGINT NOT NULL,
    reactor_id BIGINT NOT NULL,
    emoji VARCHAR(128) NOT NULL,
    PRIMARY KEY (chat_id, message_id, reactor_id, emoji)
);
`

// RunMigrations создаёт schema_migrations и применяет недостающие версии по порядку.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("ошибка создания таблицы миграций: %w", err)
	}

	for _, m := range migrations {
		applied, err := ExecMigrationSQL(ctx, pool, m.version, m.sql)
		if err != nil {
			return fmt.Errorf("миграция %d: %w", m.version, err)
		}
		if applied {
			log.Infof("Миграция %d применена", m.version)
		}
	}
	return nil
}

// ExecMigrationSQL выполняет одну миграцию в транзакции.
// Если запрос упадёт - транзакция откатится автоматически.
// Возвращает false, если версия уже была применена.
func ExecMigrationSQL(ctx context.Context, pool *pgxpool.Pool, version int, sql string) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки миграции: %w", err)
	}
	if exists {
		return false, nil
	}

	if _, err := tx.Exec(ctx, sql); err != nil {
		return false, fmt.Errorf("ошибка выполнения миграции %d: %w", version, err)
	}

	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version) VALUES ($1)", version,
	); err != nil {
		return false, fmt.Errorf("ошибка записи версии миграции: %w", err)
	}

	return true, tx.Commit(ctx)
}
