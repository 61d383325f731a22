// Package rating публикует рейтинги чатов и обрабатывает команды рейтинга.
// publisher.go - один тик публикации: обходит чаты и отправляет топ тем,
// где с прошлой публикации появились новые кружки.
package rating

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/circles-bot/internal/features/scoring"
	"serotonyl.ru/circles-bot/internal/metrics"
)

// Settings - параметры публикации. Не меняются во время работы.
type Settings struct {
	TopLimit      int
	ZeroPingLimit int
	ZeroCriterion scoring.ZeroCriterion
}

// Formatter превращает строки рейтинга в текст сообщений.
type Formatter interface {
	FormatTop(rows []scoring.TopRow) string
	// FormatZero возвращает пустую строку, если users пуст.
	FormatZero(users []scoring.UserStats, criterion scoring.ZeroCriterion) string
}

// Notifier доставляет рейтинг в чат. zero пустой, если звать некого.
type Notifier interface {
	PublishRating(ctx context.Context, chatID int64, top, zero string) error
}

// Report - итог одного тика.
type Report struct {
	Published int
	Skipped   int
	Failed    int
}

// Publisher публикует рейтинги по водяным знакам чатов.
type Publisher struct {
	store     scoring.Store
	formatter Formatter
	notifier  Notifier
	settings  Settings
	now       func() time.Time
	metrics   *metrics.ScoringMetrics
}

// NewPublisher создаёт публикатор рейтингов.
func NewPublisher(store scoring.Store, formatter Formatter, notifier Notifier, settings Settings) *Publisher {
	return &Publisher{
		store:     store,
		formatter: formatter,
		notifier:  notifier,
		settings:  settings,
		now:       time.Now,
		metrics:   metrics.Scoring(),
	}
}

// WithClock подменяет источник времени (для тестов).
func (p *Publisher) WithClock(now func() time.Time) *Publisher {
	p.now = now
	return p
}

// Due - пора ли публиковать рейтинг чата.
// Рейтинги включены и после прошлой публикации был хотя бы один новый кружок.
func Due(st scoring.ChatState) bool {
	return st.RatingsEnabled && st.LastCircleTs > st.LastRatingTs
}

// PublishDue обходит все известные чаты и публикует рейтинг там, где он «должен».
//
// Ошибка или паника в одном чате логируется и не останавливает обход.
// Водяной знак сдвигается только после успешной отправки, поэтому
// упавший чат останется «должным» и попадёт в следующий тик.
// Ошибка возвращается, только если не удалось получить список чатов
// или отменён контекст.
func (p *Publisher) PublishDue(ctx context.Context) (Report, error) {
	var report Report

	chatIDs, err := p.store.ListActiveChats(ctx)
	if err != nil {
		return report, fmt.Errorf("список чатов: %w", err)
	}

	nowTs := p.now().Unix()

	for _, chatID := range chatIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		published, err := p.publishChat(ctx, chatID, nowTs)
		switch {
		case err != nil:
			report.Failed++
			p.metrics.ObserveRating("failed")
			log.WithError(err).WithField("chat_id", chatID).Error("Не удалось опубликовать рейтинг")
		case published:
			report.Published++
			p.metrics.ObserveRating("published")
		default:
			report.Skipped++
		}
	}

	log.WithFields(log.Fields{
		"chats":     len(chatIDs),
		"published": report.Published,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	}).Debug("Тик публикации рейтингов завершён")

	return report, nil
}

// publishChat публикует рейтинг одного чата. Паника превращается в ошибку.
func (p *Publisher) publishChat(ctx context.Context, chatID, nowTs int64) (published bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"component": "rating_publisher",
				"chat_id":   chatID,
				"stack":     string(debug.Stack()),
			}).Error("ПАНИКА при публикации рейтинга — восстановлено")
			published, err = false, fmt.Errorf("паника: %v", r)
		}
	}()

	st, err := p.store.GetChatState(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("состояние чата: %w", err)
	}
	if !Due(st) {
		return false, nil
	}

	top, err := p.store.GetTop(ctx, chatID, p.settings.TopLimit)
	if err != nil {
		return false, fmt.Errorf("топ: %w", err)
	}

	var zeroText string
	if p.settings.ZeroPingLimit > 0 {
		zero, err := p.store.GetZeroUsers(ctx, chatID, p.settings.ZeroCriterion, p.settings.ZeroPingLimit)
		if err != nil {
			return false, fmt.Errorf("нулевые: %w", err)
		}
		zeroText = p.formatter.FormatZero(zero, p.settings.ZeroCriterion)
	}

	if err := p.notifier.PublishRating(ctx, chatID, p.formatter.FormatTop(top), zeroText); err != nil {
		return false, fmt.Errorf("отправка: %w", err)
	}

	// Не ниже last_circle_ts: иначе при отстающих часах чат остался бы «должным»
	watermark := nowTs
	if st.LastCircleTs > watermark {
		watermark = st.LastCircleTs
	}
	if err := p.store.SetLastRatingTs(ctx, chatID, watermark); err != nil {
		return false, fmt.Errorf("last_rating_ts: %w", err)
	}

	log.WithFields(log.Fields{
		"chat_id": chatID,
		"rows":    len(top),
	}).Info("Рейтинг опубликован")
	return true, nil
}
