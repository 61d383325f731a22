// Package app инициализирует все компоненты приложения.
// app.go - точка сборки: выбирает хранилище по DB_URL, создаёт обработчики,
// публикатор рейтингов и планировщик и собирает всё в один объект.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/circles-bot/internal/bot"
	"serotonyl.ru/circles-bot/internal/bot/filters"
	"serotonyl.ru/circles-bot/internal/config"
	"serotonyl.ru/circles-bot/internal/db/postgres"
	"serotonyl.ru/circles-bot/internal/db/sqlite"
	"serotonyl.ru/circles-bot/internal/features/rating"
	"serotonyl.ru/circles-bot/internal/features/scoring"
	"serotonyl.ru/circles-bot/internal/jobs"
	"serotonyl.ru/circles-bot/internal/metrics"
)

// Store - хранилище очков, которое нужно закрыть на shutdown.
type Store interface {
	scoring.Store
	Close() error
}

// App содержит все компоненты приложения.
type App struct {
	Bot       *bot.Bot
	Scheduler *jobs.Scheduler
	Store     Store
	BotAPI    *telego.Bot
	Messenger *bot.Messenger

	cfg *config.Config
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен - компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. База данных ===
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	// === 2. Telegram Bot API ===
	botAPI, err := telego.NewBot(cfg.TelegramBotToken, telego.WithLogger(log.StandardLogger()))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	me, err := botAPI.GetMe(ctx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("ошибка авторизации в Telegram: %w", err)
	}
	log.Infof("Авторизован как @%s", me.Username)

	// === 3. Начисление очков ===
	reconciler := scoring.NewReconciler(store, scoring.Settings{
		PointsPerCircle:   cfg.PointsPerCircle,
		PointsPerReaction: cfg.PointsPerReaction,
	})
	scoringHandler := scoring.NewHandler(reconciler)

	// === 4. Рейтинги ===
	messenger := bot.NewMessenger(botAPI, cfg.ParseMode)
	ratingSettings := rating.Settings{
		TopLimit:      cfg.TopLimit,
		ZeroPingLimit: cfg.ZeroPingLimit,
		ZeroCriterion: cfg.ZeroCriteria,
	}
	ratingHandler := rating.NewHandler(store, messenger, filters.NewAdminFilter(botAPI), ratingSettings, rating.RulesInfo{
		PointsPerCircle:   cfg.PointsPerCircle,
		PointsPerReaction: cfg.PointsPerReaction,
		RatingIntervalSec: cfg.RatingIntervalSeconds,
		ZeroCriterion:     cfg.ZeroCriteria,
		ZeroPingLimit:     cfg.ZeroPingLimit,
		TopLimit:          cfg.TopLimit,
	})
	publisher := rating.NewPublisher(store, rating.HTMLFormatter{}, messenger, ratingSettings)

	// === 5. Собираем бота ===
	b := bot.New(cfg, me.Username, messenger, scoringHandler, ratingHandler)

	// === 6. Планировщик задач ===
	scheduler := jobs.NewScheduler(publisher, cfg.RatingInterval())

	return &App{
		Bot:       b,
		Scheduler: scheduler,
		Store:     store,
		BotAPI:    botAPI,
		Messenger: messenger,
		cfg:       cfg,
	}, nil
}

// Run запускает планировщик, метрики и long polling. Блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}
	defer a.Scheduler.Stop()

	go func() {
		if err := metrics.Serve(ctx, a.cfg.MetricsAddr); err != nil {
			log.WithError(err).Error("Сервер метрик остановлен с ошибкой")
		}
	}()

	updates, err := a.BotAPI.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        a.cfg.BotUpdateTimeoutSeconds,
		AllowedUpdates: bot.AllowedUpdates,
	})
	if err != nil {
		return fmt.Errorf("ошибка запуска long polling: %w", err)
	}

	a.Messenger.Greet(ctx, a.cfg.AdminChatID)

	a.Bot.Start(ctx, updates)
	return nil
}

// Close освобождает соединения с БД.
func (a *App) Close() {
	if err := a.Store.Close(); err != nil {
		log.WithError(err).Warn("Ошибка закрытия хранилища")
	}
}

// OpenStore выбирает хранилище по префиксу DB_URL и применяет миграции.
func OpenStore(ctx context.Context, cfg *config.Config) (Store, error) {
	driver, target, err := cfg.StorageDriver()
	if err != nil {
		return nil, err
	}

	switch driver {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, target)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.New("неизвестный драйвер хранилища: " + driver)
	}
}
