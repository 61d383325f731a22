// Package common - errors.go определяет пользовательские ошибки,
// которые используются во всех модулях бота.
// Хранилища возвращают их вместо драйверных ErrNoRows, поэтому
// сервисы проверяют отсутствие строки через errors.Is, не зная про БД.
package common

import "errors"

// Ошибки хранилища
var (
	// ErrUserNotFound - у пользователя нет статистики в этом чате
	ErrUserNotFound = errors.New("пользователь не найден")
	// ErrCircleNotFound - сообщение не является учтённым кружком
	ErrCircleNotFound = errors.New("кружок не найден")
)

// Ошибки начисления очков
var (
	// ErrInvariantViolation - строка, которая обязана существовать после upsert/insert, пропала.
	// Повтор не поможет: это баг или сброшенная база, событие отбрасывается.
	ErrInvariantViolation = errors.New("нарушен инвариант хранилища")
)

// Ошибки конфигурации
var (
	// ErrInvalidZeroCriteria - ZERO_CRITERIA не равен points или circles
	ErrInvalidZeroCriteria = errors.New("ZERO_CRITERIA должен быть 'points' или 'circles'")
	// ErrUnsupportedDBURL - DB_URL не начинается с postgres:// или sqlite://
	ErrUnsupportedDBURL = errors.New("DB_URL должен начинаться с postgres:// или sqlite://")
)
