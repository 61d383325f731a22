// Package bot содержит главный модуль бота - приём апдейтов и маршрутизацию.
// bot.go раздаёт апдейты обработчикам кружков, реакций и команд.
package bot

import (
	"context"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/circles-bot/internal/bot/middleware"
	"serotonyl.ru/circles-bot/internal/config"
	"serotonyl.ru/circles-bot/internal/features/rating"
	"serotonyl.ru/circles-bot/internal/features/scoring"
)

// AllowedUpdates - типы апдейтов, которые бот запрашивает у Telegram.
// message_reaction приходит, только если его перечислить явно.
var AllowedUpdates = []string{"message", "message_reaction"}

// Bot - главная структура бота, объединяющая все компоненты.
type Bot struct {
	cfg *config.Config

	messenger   *Messenger
	rateLimiter *middleware.RateLimiter

	scoringHandler *scoring.Handler
	ratingHandler  *rating.Handler

	parser *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
	wg       sync.WaitGroup
}

// New создаёт новый экземпляр бота со всеми зависимостями.
// botUsername нужен, чтобы понимать команды вида /top@botname.
func New(
	cfg *config.Config,
	botUsername string,
	messenger *Messenger,
	scoringHandler *scoring.Handler,
	ratingHandler *rating.Handler,
) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	return &Bot{
		cfg:            cfg,
		messenger:      messenger,
		rateLimiter:    middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		scoringHandler: scoringHandler,
		ratingHandler:  ratingHandler,
		parser:         NewCommandParser(botUsername),
		inflight:       make(chan struct{}, maxInFlight),
	}
}

// Start читает апдейты, пока не отменён ctx или не закрыт канал.
// Перед выходом дожидается обработки уже принятых апдейтов.
func (b *Bot) Start(ctx context.Context, updates <-chan telego.Update) {
	log.WithFields(log.Fields{
		"max_inflight": cap(b.inflight),
		"timeout_sec":  b.cfg.BotUpdateTimeoutSeconds,
	}).Info("Бот запущен и ожидает сообщения...")

	defer func() {
		b.wg.Wait()
		b.rateLimiter.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			return

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return
			}

			// лимит параллелизма
			select {
			case b.inflight <- struct{}{}:
			case <-ctx.Done():
				return
			}
			b.wg.Add(1)
			go func(upd telego.Update) {
				defer func() {
					<-b.inflight
					b.wg.Done()
				}()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update telego.Update) {
	defer middleware.RecoverFromPanic(update.UpdateID)

	switch {
	case update.MessageReaction != nil:
		middleware.LogReaction(update.MessageReaction)
		b.scoringHandler.HandleReaction(ctx, update.MessageReaction)

	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *telego.Message) {
	middleware.LogMessage(message)

	if b.scoringHandler.HandleMessage(ctx, message) {
		return
	}

	if message.From == nil || message.Text == "" {
		return
	}

	cmd, args, isCommand := b.parser.ParseCommand(message.Text)
	if !isCommand {
		return
	}

	chatID := message.Chat.ID
	userID := message.From.ID

	if !b.rateLimiter.Allow(chatID, userID) {
		log.WithFields(log.Fields{
			"chat_id": chatID,
			"user_id": userID,
		}).Debug("rate limited")
		return
	}

	log.WithFields(log.Fields{
		"cmd":  cmd,
		"args": args,
	}).Debug("parsed command")

	b.routeCommand(ctx, chatID, userID, cmd)
}

// routeCommand маршрутизирует команду к нужному обработчику.
func (b *Bot) routeCommand(ctx context.Context, chatID, userID int64, cmd string) {
	switch cmd {
	case "start", "help":
		b.sendMessage(ctx, chatID, rating.TextGreeting)

	case "top", "топ":
		b.ratingHandler.HandleTop(ctx, chatID)

	case "me", "я":
		b.ratingHandler.HandleMe(ctx, chatID, userID)

	case "rules", "правила":
		b.ratingHandler.HandleRules(ctx, chatID)

	case "enable_ratings":
		b.ratingHandler.HandleSetRatings(ctx, chatID, userID, true)

	case "disable_ratings":
		b.ratingHandler.HandleSetRatings(ctx, chatID, userID, false)
	}
}

// sendMessage - утилита для отправки сообщений.
func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string) {
	if err := b.messenger.SendText(ctx, chatID, text); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

// CommandParser парсит команды с префиксами / и !.
type CommandParser struct {
	validPrefixes []string
	botUsername   string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser(botUsername string) *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"/", "!"},
		botUsername:   strings.ToLower(strings.TrimPrefix(botUsername, "@")),
	}
}

// ParseCommand разбирает текст на команду и аргументы.
// Команда, адресованная другому боту (/top@other_bot), командой не считается.
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}

	if !hasPrefix {
		return "", nil, false
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}

	command := strings.ToLower(parts[0])
	if name, target, ok := strings.Cut(command, "@"); ok {
		if target != p.botUsername {
			return "", nil, false
		}
		command = name
	}
	if command == "" {
		return "", nil, false
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return command, args, true
}
