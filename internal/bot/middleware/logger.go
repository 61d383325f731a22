// Package middleware содержит промежуточные обработчики для логирования,
// восстановления после паники и rate-limiting.
package middleware

import (
	"unicode/utf8"

	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"
)

const maxLoggedText = 50

// LogMessage логирует входящее сообщение.
// Записывает: user_id, chat_id, username, тип содержимого и текст (первые 50 символов).
func LogMessage(message *telego.Message) {
	if message == nil {
		return
	}

	fields := log.Fields{
		"chat_id":    message.Chat.ID,
		"chat_type":  message.Chat.Type,
		"message_id": message.MessageID,
		"kind":       messageKind(message),
	}
	if message.From != nil {
		fields["user_id"] = message.From.ID
		fields["username"] = message.From.Username
	}
	if message.Text != "" {
		fields["text"] = truncate(message.Text, maxLoggedText)
	}

	log.WithFields(fields).Debug("Входящее сообщение")
}

// LogReaction логирует изменение реакций.
func LogReaction(upd *telego.MessageReactionUpdated) {
	if upd == nil {
		return
	}

	fields := log.Fields{
		"chat_id":    upd.Chat.ID,
		"message_id": upd.MessageID,
		"old":        len(upd.OldReaction),
		"new":        len(upd.NewReaction),
	}
	if upd.User != nil {
		fields["user_id"] = upd.User.ID
	}

	log.WithFields(fields).Debug("Изменение реакций")
}

func messageKind(message *telego.Message) string {
	switch {
	case message.VideoNote != nil:
		return "video_note"
	case message.Text != "":
		return "text"
	default:
		return "other"
	}
}

// truncate обрезает строку по символам, а не по байтам: иначе режем кириллицу пополам.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
