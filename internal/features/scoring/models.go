// Package scoring реализует начисление очков за кружки и реакции.
// models.go описывает сущности, которыми оперирует хранилище.
package scoring

import (
	"fmt"
	"strings"

	"serotonyl.ru/circles-bot/internal/common"
)

// ChatState - водяные знаки чата.
// Чат «должен» получить рейтинг, если LastCircleTs > LastRatingTs.
type ChatState struct {
	ChatID         int64 `db:"chat_id"`
	LastCircleTs   int64 `db:"last_circle_ts"`
	LastRatingTs   int64 `db:"last_rating_ts"`
	RatingsEnabled bool  `db:"ratings_enabled"`
}

// UserIdentity - как пользователь выглядит в чате. Счётчики не трогает.
type UserIdentity struct {
	ChatID      int64
	UserID      int64
	Username    string // без @, может быть пустым
	DisplayName string
}

// UserStats - статистика пользователя в чате.
// Points == Circles*PointsPerCircle + чистые очки за реакции.
type UserStats struct {
	ChatID      int64  `db:"chat_id"`
	UserID      int64  `db:"user_id"`
	Username    string `db:"username"`
	DisplayName string `db:"display_name"`
	Circles     int64  `db:"circles"`
	Reactions   int64  `db:"reactions"`
	Points      int64  `db:"points"`
}

// TopRow - строка рейтинга. Не хранится, строится запросом.
type TopRow struct {
	Rank        int
	UserID      int64
	Username    string
	DisplayName string
	Circles     int64
	Reactions   int64
	Points      int64
}

// CircleMessage - один физический кружок. Ключ (ChatID, MessageID).
type CircleMessage struct {
	ChatID      int64 `db:"chat_id"`
	MessageID   int64 `db:"message_id"`
	AuthorID    int64 `db:"author_id"`
	CreatedAtTs int64 `db:"created_at_ts"`
}

// ReactionKey - ключ записи в журнале реакций.
// Наличие строки означает: реакция стоит и уже посчитана.
type ReactionKey struct {
	ChatID    int64
	MessageID int64
	ReactorID int64
	Emoji     string
}

// ZeroCriterion - по какому признаку пользователь попадает в «нулевых».
type ZeroCriterion string

const (
	// ZeroByPoints - points <= 0
	ZeroByPoints ZeroCriterion = "points"
	// ZeroByCircles - circles == 0
	ZeroByCircles ZeroCriterion = "circles"
)

// ParseZeroCriterion разбирает значение из конфигурации.
func ParseZeroCriterion(s string) (ZeroCriterion, error) {
	switch c := ZeroCriterion(strings.ToLower(strings.TrimSpace(s))); c {
	case ZeroByPoints, ZeroByCircles:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", common.ErrInvalidZeroCriteria, s)
	}
}

// Decode позволяет envconfig проверять ZERO_CRITERIA при загрузке конфига.
func (c *ZeroCriterion) Decode(value string) error {
	parsed, err := ParseZeroCriterion(value)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c ZeroCriterion) String() string {
	return string(c)
}
