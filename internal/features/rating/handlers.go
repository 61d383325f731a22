// Package rating - handlers.go обрабатывает команды /top, /me, /rules,
// /enable_ratings и /disable_ratings.
package rating

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/circles-bot/internal/common"
	"serotonyl.ru/circles-bot/internal/features/scoring"
)

// Sender отправляет HTML-сообщение в чат.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// AdminChecker проверяет, что пользователь - админ или создатель чата.
type AdminChecker interface {
	IsAdmin(ctx context.Context, chatID, userID int64) bool
}

// Handler обрабатывает команды рейтинга.
type Handler struct {
	store     scoring.Store
	sender    Sender
	admins    AdminChecker
	formatter HTMLFormatter
	settings  Settings
	rules     RulesInfo
}

// NewHandler создаёт обработчик команд рейтинга.
func NewHandler(store scoring.Store, sender Sender, admins AdminChecker, settings Settings, rules RulesInfo) *Handler {
	return &Handler{
		store:    store,
		sender:   sender,
		admins:   admins,
		settings: settings,
		rules:    rules,
	}
}

// HandleTop - /top. Показывает таблицу лидеров чата.
func (h *Handler) HandleTop(ctx context.Context, chatID int64) {
	if err := h.store.EnsureChatState(ctx, chatID); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка создания состояния чата")
		h.send(ctx, chatID, "❌ Ошибка получения рейтинга")
		return
	}

	rows, err := h.store.GetTop(ctx, chatID, h.settings.TopLimit)
	if err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка получения рейтинга")
		h.send(ctx, chatID, "❌ Ошибка получения рейтинга")
		return
	}
	h.send(ctx, chatID, h.formatter.FormatTop(rows))
}

// HandleMe - /me. Показывает ТОЛЬКО свою статистику.
func (h *Handler) HandleMe(ctx context.Context, chatID, userID int64) {
	u, err := h.store.GetUserStats(ctx, chatID, userID)
	if errors.Is(err, common.ErrUserNotFound) {
		h.send(ctx, chatID, TextNoStats)
		return
	}
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"chat_id": chatID,
			"user_id": userID,
		}).Error("Ошибка получения статистики")
		h.send(ctx, chatID, "❌ Ошибка получения статистики")
		return
	}
	h.send(ctx, chatID, h.formatter.FormatMe(u))
}

// HandleRules - /rules.
func (h *Handler) HandleRules(ctx context.Context, chatID int64) {
	h.send(ctx, chatID, h.formatter.FormatRules(h.rules))
}

// HandleSetRatings - /enable_ratings и /disable_ratings. Только для админов чата.
func (h *Handler) HandleSetRatings(ctx context.Context, chatID, userID int64, enabled bool) {
	if !h.admins.IsAdmin(ctx, chatID, userID) {
		h.send(ctx, chatID, TextAdminsOnly)
		return
	}

	if err := h.store.SetRatingsEnabled(ctx, chatID, enabled); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка переключения рейтингов")
		h.send(ctx, chatID, "❌ Не удалось переключить рейтинги")
		return
	}

	log.WithFields(log.Fields{
		"chat_id": chatID,
		"user_id": userID,
		"enabled": enabled,
	}).Info("Авто-рейтинги переключены")

	if enabled {
		h.send(ctx, chatID, TextRatingsOn)
	} else {
		h.send(ctx, chatID, TextRatingsOff)
	}
}

func (h *Handler) send(ctx context.Context, chatID int64, text string) {
	if err := h.sender.SendText(ctx, chatID, text); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}
