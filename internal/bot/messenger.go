package bot

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/circles-bot/internal/features/rating"
)

// API - часть Bot API, через которую бот пишет в чаты.
// *telego.Bot удовлетворяет этому интерфейсу.
type API interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	GetChatMember(ctx context.Context, params *telego.GetChatMemberParams) (telego.ChatMember, error)
}

// Messenger отправляет сообщения в чаты с заданным parse_mode.
type Messenger struct {
	api       API
	parseMode string
}

var (
	_ rating.Sender   = (*Messenger)(nil)
	_ rating.Notifier = (*Messenger)(nil)
)

func NewMessenger(api API, parseMode string) *Messenger {
	return &Messenger{api: api, parseMode: parseMode}
}

// SendText отправляет одно сообщение.
func (m *Messenger) SendText(ctx context.Context, chatID int64, text string) error {
	params := tu.Message(tu.ID(chatID), text).WithParseMode(m.parseMode)
	if _, err := m.api.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("sendMessage chat_id=%d: %w", chatID, err)
	}
	return nil
}

// PublishRating отправляет топ и, если есть кого звать, призыв к «нулевым».
// Ошибка любой из отправок возвращается: публикация повторится на следующем тике.
func (m *Messenger) PublishRating(ctx context.Context, chatID int64, top, zero string) error {
	if err := m.SendText(ctx, chatID, top); err != nil {
		return err
	}
	if zero == "" {
		return nil
	}
	return m.SendText(ctx, chatID, zero)
}

// Greet отправляет приветствие в чат админа при старте.
func (m *Messenger) Greet(ctx context.Context, adminChatID int64) {
	if adminChatID == 0 {
		log.Info("ADMIN_CHAT_ID не задан, приветствие не отправляем")
		return
	}
	if err := m.SendText(ctx, adminChatID, rating.TextGreeting); err != nil {
		log.WithError(err).WithField("chat_id", adminChatID).Warn("Не удалось отправить приветствие")
		return
	}
	log.WithField("chat_id", adminChatID).Info("Приветствие отправлено")
}
