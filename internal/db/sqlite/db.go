// Package sqlite - встроенное хранилище на SQLite (modernc.org/sqlite, без CGO).
// Используется, когда DB_URL начинается с sqlite://. Удобно для одного чата
// и для тестов: база - обычный файл.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// TxQuerier - общий интерфейс *sql.DB и *sql.Tx.
type TxQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open открывает (или создаёт) файл базы и применяет миграции.
//
// Пример:
//
//	store, err := sqlite.Open(ctx, "data/bot.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("не удалось создать каталог базы: %w", err)
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия SQLite: %w", err)
	}
	// SQLite пишет в один поток; одно соединение убирает SQLITE_BUSY между своими же запросами
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("база данных недоступна: %w", err)
	}

	if err := migrate(ctx, conn, migrationsFS); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	log.WithField("path", path).Info("Подключение к SQLite установлено")
	return &Store{db: conn}, nil
}

// migrate применяет ещё не применённые файлы migrations/*.sql по порядку имён.
func migrate(ctx context.Context, conn *sql.DB, fsys fs.FS) error {
	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("ошибка создания таблицы миграций: %w", err)
	}

	files, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("ошибка чтения миграций: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		name := filepath.Base(file)
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return fmt.Errorf("миграция %s: %w", name, err)
		}

		err = WithTx(ctx, conn, func(tx *sql.Tx) error {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = ?)", name,
			).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return nil
			}

			for _, stmt := range strings.Split(string(content), ";") {
				if strings.TrimSpace(stmt) == "" {
					continue
				}
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}

			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (filename) VALUES (?)", name,
			); err != nil {
				return err
			}
			log.Infof("Миграция %s применена", name)
			return nil
		})
		if err != nil {
			return fmt.Errorf("миграция %s: %w", name, err)
		}
	}
	return nil
}

// WithTx выполняет fn в транзакции: nil → COMMIT, ошибка или паника → ROLLBACK.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("ошибка фиксации транзакции: %w", commitErr)
		}
	}()

	err = fn(tx)
	return
}
