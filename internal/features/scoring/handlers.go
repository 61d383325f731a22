// Package scoring - handlers.go переводит апдейты Telegram в события начисления.
package scoring

import (
	"context"
	"strings"

	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"
)

const (
	// Ключ реакции, если тип реакции не удалось распознать.
	unknownEmoji = "unknown"

	chatTypeGroup      = "group"
	chatTypeSupergroup = "supergroup"
)

// Handler принимает кружки и реакции из апдейтов.
type Handler struct {
	reconciler *Reconciler
}

// NewHandler создаёт обработчик апдейтов для начисления очков.
func NewHandler(reconciler *Reconciler) *Handler {
	return &Handler{reconciler: reconciler}
}

// HandleMessage учитывает кружок. Остальные сообщения пропускает.
// Возвращает true, если сообщение было кружком.
func (h *Handler) HandleMessage(ctx context.Context, msg *telego.Message) bool {
	if msg == nil || msg.VideoNote == nil || msg.From == nil || !IsGroupChat(msg.Chat) {
		return false
	}

	ev := CirclePosted{
		ChatID:    msg.Chat.ID,
		MessageID: int64(msg.MessageID),
		Author: UserIdentity{
			ChatID:      msg.Chat.ID,
			UserID:      msg.From.ID,
			Username:    msg.From.Username,
			DisplayName: DisplayName(msg.From),
		},
		CreatedAt: msg.Date,
	}

	if _, err := h.reconciler.OnCirclePosted(ctx, ev); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"chat_id":    ev.ChatID,
			"message_id": ev.MessageID,
		}).Error("Не удалось учесть кружок")
	}
	return true
}

// HandleReaction пересчитывает очки по изменению реакций и заводит реактора в статистике чата.
// Анонимные реакции (от имени чата) не учитываются: у них нет пользователя.
func (h *Handler) HandleReaction(ctx context.Context, upd *telego.MessageReactionUpdated) {
	if upd == nil || upd.User == nil || !IsGroupChat(upd.Chat) {
		return
	}

	ev := ReactionChanged{
		ChatID:    upd.Chat.ID,
		MessageID: int64(upd.MessageID),
		Reactor: UserIdentity{
			ChatID:      upd.Chat.ID,
			UserID:      upd.User.ID,
			Username:    upd.User.Username,
			DisplayName: DisplayName(upd.User),
		},
		Old: EmojiKeys(upd.OldReaction),
		New: EmojiKeys(upd.NewReaction),
	}

	if _, err := h.reconciler.OnReactionChanged(ctx, ev); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"chat_id":    ev.ChatID,
			"message_id": ev.MessageID,
			"reactor_id": ev.Reactor.UserID,
		}).Error("Не удалось учесть реакцию")
	}
}

// IsGroupChat - кружки считаются только в группах и супергруппах.
func IsGroupChat(chat telego.Chat) bool {
	return chat.Type == chatTypeGroup || chat.Type == chatTypeSupergroup
}

// DisplayName - полное имя пользователя, либо имя, либо "User".
func DisplayName(u *telego.User) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return "User"
}

// EmojiKey нормализует реакцию в ключ журнала:
// обычный эмодзи как есть, кастомный - "custom:<id>".
func EmojiKey(r telego.ReactionType) string {
	switch rt := r.(type) {
	case *telego.ReactionTypeEmoji:
		if rt.Emoji != "" {
			return rt.Emoji
		}
	case *telego.ReactionTypeCustomEmoji:
		if rt.CustomEmojiID != "" {
			return "custom:" + rt.CustomEmojiID
		}
	}
	return unknownEmoji
}

// EmojiKeys применяет EmojiKey к набору реакций.
func EmojiKeys(reactions []telego.ReactionType) []string {
	keys := make([]string, 0, len(reactions))
	for _, r := range reactions {
		keys = append(keys, EmojiKey(r))
	}
	return keys
}
