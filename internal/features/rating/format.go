// Package rating - format.go собирает HTML-тексты рейтинга для Telegram.
package rating

import (
	"fmt"
	"html"
	"strings"

	"serotonyl.ru/circles-bot/internal/common"
	"serotonyl.ru/circles-bot/internal/features/scoring"
)

// Тексты, которые не зависят от данных.
const (
	TextTopEmpty   = "Доска чистая. Первый кружок задаёт ритм 🎤"
	TextNoStats    = "Пока пусто. Запиши кружок и залетай в игру 🎤"
	TextAdminsOnly = "⛔ Стоп. Только админы решают."
	TextRatingsOn  = "✅ Авто-рейтинги включены. Доска в игре."
	TextRatingsOff = "🛑 Авто-рейтинги на паузе."
)

// TextGreeting отправляется в ADMIN_CHAT_ID при старте.
const TextGreeting = "🤖 <b>Рейтинг кружков</b>\n" +
	"✅ Бот запущен.\n\n" +
	"📝 Команды:\n" +
	"  /top — кто держит верх\n" +
	"  /me — твои цифры\n" +
	"  /rules — как фармятся очки\n" +
	"  /enable_ratings — включить авто-рейтинг (админы)\n" +
	"  /disable_ratings — выключить авто-рейтинг (админы)"

// RulesInfo - параметры, которые показывает /rules.
type RulesInfo struct {
	PointsPerCircle   int64
	PointsPerReaction int64
	RatingIntervalSec int
	ZeroCriterion     scoring.ZeroCriterion
	ZeroPingLimit     int
	TopLimit          int
}

// HTMLFormatter форматирует сообщения для parse_mode=HTML.
// Все пользовательские строки экранируются.
type HTMLFormatter struct{}

var _ Formatter = HTMLFormatter{}

// FormatTop - таблица лидеров.
//
// Пример строки:
//
//	1. Иван (@ivan) - <b>12</b> очков · 🎥 10 · ❤️ 2
func (HTMLFormatter) FormatTop(rows []scoring.TopRow) string {
	if len(rows) == 0 {
		return TextTopEmpty
	}

	var sb strings.Builder
	sb.WriteString("🏆 <b>Лучшие MC по версии вселенной</b>")
	for _, r := range rows {
		fmt.Fprintf(&sb, "\n%d. %s — <b>%s</b> %s · 🎥 %s · ❤️ %s",
			r.Rank,
			UserLabel(r.DisplayName, r.Username),
			common.FormatNumber(r.Points), common.PluralizePoints(r.Points),
			common.FormatNumber(r.Circles),
			common.FormatNumber(r.Reactions),
		)
	}
	return sb.String()
}

// FormatZero - призыв к «нулевым» с упоминаниями. Пустая строка, если звать некого.
func (HTMLFormatter) FormatZero(users []scoring.UserStats, criterion scoring.ZeroCriterion) string {
	if len(users) == 0 {
		return ""
	}

	mentions := make([]string, 0, len(users))
	for _, u := range users {
		mentions = append(mentions, Mention(u.UserID, u.DisplayName))
	}

	return fmt.Sprintf(
		"🎮 <b>Вызов</b>: тут пока тишина.\n"+
			"Условие: <b>%s</b>\n"+
			"Игроки: %s\n"+
			"Записывай кружок. Шуми. Залетай в топ 😄",
		html.EscapeString(zeroReason(criterion)),
		strings.Join(mentions, ", "),
	)
}

// FormatMe - личная статистика.
func (HTMLFormatter) FormatMe(u scoring.UserStats) string {
	return fmt.Sprintf(
		"👤 <b>%s</b>\n"+
			"Очки: <b>%s</b>\n"+
			"Кружки: 🎥 %s %s\n"+
			"Реакции: ❤️ %s %s",
		UserLabel(u.DisplayName, u.Username),
		common.FormatNumber(u.Points),
		common.FormatNumber(u.Circles), common.PluralizeCircles(u.Circles),
		common.FormatNumber(u.Reactions), common.PluralizeReactions(u.Reactions),
	)
}

// FormatRules - текущие настройки начисления.
func (HTMLFormatter) FormatRules(info RulesInfo) string {
	return fmt.Sprintf(
		"📜 <b>Правила района</b>\n"+
			"Кружок (видеосообщение): %s\n"+
			"Реакция на кружок: %s\n"+
			"Интервал авто-рейтинга: %d сек\n"+
			"Критерий нуля: %s\n"+
			"Лимит упоминаний: %d\n"+
			"Лимит топа: %d",
		common.FormatPoints(info.PointsPerCircle),
		common.FormatPoints(info.PointsPerReaction),
		info.RatingIntervalSec,
		html.EscapeString(zeroReason(info.ZeroCriterion)),
		info.ZeroPingLimit,
		info.TopLimit,
	)
}

// UserLabel - "Имя (@username)" или просто "Имя", с экранированием.
func UserLabel(displayName, username string) string {
	if username == "" {
		return html.EscapeString(displayName)
	}
	return html.EscapeString(displayName) + " (@" + html.EscapeString(username) + ")"
}

// Mention - ссылка tg://user, которая пингует пользователя даже без username.
func Mention(userID int64, displayName string) string {
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, userID, html.EscapeString(displayName))
}

func zeroReason(criterion scoring.ZeroCriterion) string {
	if criterion == scoring.ZeroByCircles {
		return "0 " + common.PluralizeCircles(0)
	}
	return "0 " + common.PluralizePoints(0)
}
