// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: русская плюрализация и форматирование чисел.
package common

import (
	"fmt"
	"strconv"
)

// Pluralize выбирает форму слова для числа n по правилам русского языка.
//
// Правила:
//   - n%10==1 И n%100!=11 → one (1, 21, 31, 101, ...)
//   - n%10 в [2,3,4] И n%100 НЕ в [12,13,14] → few (2, 3, 4, 22, 23, ...)
//   - Остальные случаи → many (0, 5-20, 25-30, 100, ...)
//
// Пример:
//
//	Pluralize(21, "очко", "очка", "очков") → "очко"
func Pluralize(n int64, one, few, many string) string {
	if n < 0 {
		n = -n
	}
	lastDigit := n % 10
	lastTwoDigits := n % 100

	if lastDigit == 1 && lastTwoDigits != 11 {
		return one
	}
	if lastDigit >= 2 && lastDigit <= 4 && (lastTwoDigits < 12 || lastTwoDigits > 14) {
		return few
	}
	return many
}

// PluralizePoints возвращает форму слова «очко».
func PluralizePoints(n int64) string {
	return Pluralize(n, "очко", "очка", "очков")
}

// PluralizeCircles возвращает форму слова «кружок».
func PluralizeCircles(n int64) string {
	return Pluralize(n, "кружок", "кружка", "кружков")
}

// PluralizeReactions возвращает форму слова «реакция».
func PluralizeReactions(n int64) string {
	return Pluralize(n, "реакция", "реакции", "реакций")
}

// FormatPoints создаёт строку вида "+1 очко" или "-3 очка".
func FormatPoints(points int64) string {
	if points >= 0 {
		return fmt.Sprintf("+%d %s", points, PluralizePoints(points))
	}
	return fmt.Sprintf("%d %s", points, PluralizePoints(points))
}

// FormatNumber форматирует число с разделителями тысяч (пробелами).
// Пример: FormatNumber(2350) → "2 350"
func FormatNumber(n int64) string {
	if n < 0 {
		// -MinInt64 не влезает в int64, модуль считаем в uint64
		return "-" + formatUnsigned(uint64(-(n + 1))+1)
	}
	return formatUnsigned(uint64(n))
}

func formatUnsigned(n uint64) string {
	if n < 1000 {
		return strconv.FormatUint(n, 10)
	}
	return fmt.Sprintf("%s %03d", formatUnsigned(n/1000), n%1000)
}
