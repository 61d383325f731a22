// Package filters проверяет права пользователя в чате через Telegram API.
package filters

import (
	"context"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"
)

// MemberGetter - часть Bot API, нужная для проверки статуса участника.
type MemberGetter interface {
	GetChatMember(ctx context.Context, params *telego.GetChatMemberParams) (telego.ChatMember, error)
}

// AdminFilter пускает к командам управления только админов и создателя чата.
type AdminFilter struct {
	api MemberGetter
}

func NewAdminFilter(api MemberGetter) *AdminFilter {
	return &AdminFilter{api: api}
}

// IsAdmin спрашивает статус у Telegram. Ошибка API означает «не админ».
func (f *AdminFilter) IsAdmin(ctx context.Context, chatID, userID int64) bool {
	logger := log.WithFields(log.Fields{
		"component": "AdminFilter",
		"chat_id":   chatID,
		"user_id":   userID,
	})

	cm, err := f.api.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: tu.ID(chatID),
		UserID: userID,
	})
	if err != nil {
		logger.WithError(err).Warn("member check failed (telegram GetChatMember)")
		return false
	}
	if cm == nil {
		logger.Warn("empty GetChatMember response")
		return false
	}

	switch status := cm.MemberStatus(); status {
	case "creator", "administrator":
		logger.WithField("tg_status", status).Debug("allow: admin")
		return true
	default:
		logger.WithField("tg_status", status).Info("deny: not an admin")
		return false
	}
}
