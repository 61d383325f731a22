package rating

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"serotonyl.ru/circles-bot/internal/features/scoring"
)

func TestFormatTop(t *testing.T) {
	f := HTMLFormatter{}

	assert.Equal(t, TextTopEmpty, f.FormatTop(nil))

	text := f.FormatTop([]scoring.TopRow{
		{Rank: 1, UserID: 1, DisplayName: "Иван", Username: "ivan", Circles: 10, Reactions: 2, Points: 12},
		{Rank: 2, UserID: 2, DisplayName: "<script>", Circles: 1, Reactions: 0, Points: 1},
	})
	lines := strings.Split(text, "\n")
	assert.Len(t, lines, 3)
	assert.Equal(t, "1. Иван (@ivan) — <b>12</b> очков · 🎥 10 · ❤️ 2", lines[1])
	assert.Equal(t, "2. &lt;script&gt; — <b>1</b> очко · 🎥 1 · ❤️ 0", lines[2])
}

func TestFormatZero(t *testing.T) {
	f := HTMLFormatter{}

	assert.Empty(t, f.FormatZero(nil, scoring.ZeroByPoints))

	text := f.FormatZero([]scoring.UserStats{
		{UserID: 5, DisplayName: "Аня"},
		{UserID: 7, DisplayName: "Tom & Jerry"},
	}, scoring.ZeroByCircles)
	assert.Contains(t, text, "<b>0 кружков</b>")
	assert.Contains(t, text, `<a href="tg://user?id=5">Аня</a>, <a href="tg://user?id=7">Tom &amp; Jerry</a>`)

	assert.Contains(t, f.FormatZero([]scoring.UserStats{{UserID: 1, DisplayName: "x"}}, scoring.ZeroByPoints), "<b>0 очков</b>")
}

func TestFormatMe(t *testing.T) {
	text := HTMLFormatter{}.FormatMe(scoring.UserStats{DisplayName: "Иван", Points: 2350, Circles: 3, Reactions: 4})
	assert.Equal(t, "👤 <b>Иван</b>\nОчки: <b>2 350</b>\nКружки: 🎥 3 кружка\nРеакции: ❤️ 4 реакции", text)
}

func TestFormatRules(t *testing.T) {
	text := HTMLFormatter{}.FormatRules(RulesInfo{
		PointsPerCircle:   1,
		PointsPerReaction: 2,
		RatingIntervalSec: 1200,
		ZeroCriterion:     scoring.ZeroByPoints,
		ZeroPingLimit:     10,
		TopLimit:          5,
	})
	assert.Contains(t, text, "Кружок (видеосообщение): +1 очко")
	assert.Contains(t, text, "Реакция на кружок: +2 очка")
	assert.Contains(t, text, "Интервал авто-рейтинга: 1200 сек")
	assert.Contains(t, text, "Лимит топа: 5")
}

func TestUserLabel(t *testing.T) {
	assert.Equal(t, "A&amp;B", UserLabel("A&B", ""))
	assert.Equal(t, "Иван (@ivan)", UserLabel("Иван", "ivan"))
}
