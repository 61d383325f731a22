// Package scoring - store.go описывает контракт хранилища.
// Реализации: internal/db/postgres и internal/db/sqlite.
package scoring

import "context"

// Store - единственный владелец состояния чатов, статистики, кружков и журнала реакций.
//
// Каждый вызов - отдельная транзакция. Счётчики меняются только относительными
// UPDATE (points = points + $n), поэтому параллельные события для разных ключей
// не требуют блокировок в процессе.
//
// Уникальные ключи (chat_id, message_id) у кружков и
// (chat_id, message_id, reactor_id, emoji) у журнала реакций обязательны:
// на них держится идемпотентность. Запись ключа и сдвиг счётчиков идут
// в одной транзакции: ключ в базе без очков (или очки без ключа) невозможен.
type Store interface {
	// EnsureChatState создаёт строку чата с нулевыми водяными знаками, если её нет.
	EnsureChatState(ctx context.Context, chatID int64) error
	// GetChatState возвращает состояние чата, при необходимости создавая его.
	GetChatState(ctx context.Context, chatID int64) (ChatState, error)
	// SetLastCircleTs сохраняет max(текущее, ts): водяной знак не откатывается назад.
	SetLastCircleTs(ctx context.Context, chatID, ts int64) error
	// SetLastRatingTs сохраняет max(текущее, ts).
	SetLastRatingTs(ctx context.Context, chatID, ts int64) error
	SetRatingsEnabled(ctx context.Context, chatID int64, enabled bool) error
	// ListActiveChats возвращает все чаты, о которых есть состояние.
	ListActiveChats(ctx context.Context) ([]int64, error)

	// UpsertUser обновляет username/display_name, счётчики не трогает.
	UpsertUser(ctx context.Context, identity UserIdentity) error
	// GetUserStats возвращает common.ErrUserNotFound, если строки нет.
	GetUserStats(ctx context.Context, chatID, userID int64) (UserStats, error)

	// ApplyCircle записывает кружок и, если он новый, делает circles+1 и points+points автору.
	// Возвращает false для уже учтённого кружка. Если статистики автора нет,
	// возвращает common.ErrUserNotFound и не записывает ничего.
	ApplyCircle(ctx context.Context, circle CircleMessage, points int64) (bool, error)
	// TryGetCircleAuthorID возвращает common.ErrCircleNotFound для неучтённых сообщений.
	TryGetCircleAuthorID(ctx context.Context, chatID, messageID int64) (int64, error)

	// ApplyReaction добавляет реакцию в журнал и, если её там не было,
	// делает reactions+1 и points+points автору кружка.
	ApplyReaction(ctx context.Context, key ReactionKey, authorID, points int64) (bool, error)
	// RevertReaction удаляет реакцию из журнала и, если она там была,
	// делает reactions-1 и points-points автору кружка.
	RevertReaction(ctx context.Context, key ReactionKey, authorID, points int64) (bool, error)

	// GetTop: ORDER BY points DESC, circles DESC, reactions DESC, user_id ASC.
	GetTop(ctx context.Context, chatID int64, limit int) ([]TopRow, error)
	// GetZeroUsers: ORDER BY points, circles, reactions, user_id (всё по возрастанию).
	GetZeroUsers(ctx context.Context, chatID int64, criterion ZeroCriterion, limit int) ([]UserStats, error)
}
