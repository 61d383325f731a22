// Package scoring - reconciler.go применяет события кружков и реакций к счётчикам.
// Транспорт доставляет события «хотя бы раз», поэтому каждое событие
// можно безопасно получить повторно: защиту дают уникальные ключи хранилища.
package scoring

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/circles-bot/internal/common"
	"serotonyl.ru/circles-bot/internal/metrics"
)

// Settings - стоимость событий в очках. Не меняется во время работы.
type Settings struct {
	PointsPerCircle   int64
	PointsPerReaction int64
}

// Outcome - что произошло с событием.
type Outcome int

const (
	// OutcomeApplied - очки начислены (или сняты)
	OutcomeApplied Outcome = iota
	// OutcomeDuplicate - событие уже учтено, ничего не изменилось
	OutcomeDuplicate
	// OutcomeIgnored - событие не про кружок
	OutcomeIgnored
	// OutcomeDropped - нарушен инвариант хранилища, событие отброшено
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Result - итог обработки события.
// Added/Removed считают только реакции, которые реально сдвинули очки.
type Result struct {
	Outcome Outcome
	Added   int
	Removed int
}

// CirclePosted - в чат пришёл кружок.
type CirclePosted struct {
	ChatID    int64
	MessageID int64
	Author    UserIdentity
	CreatedAt int64 // unix-секунды
}

// ReactionChanged - пользователь изменил свои реакции на сообщении.
// Reactor.DisplayName может быть пустым: тогда реактор не заводится в статистике.
type ReactionChanged struct {
	ChatID    int64
	MessageID int64
	Reactor   UserIdentity
	Old       []string
	New       []string
}

// Reconciler начисляет очки через Store.
// Блокировок внутри нет: события разных чатов и пользователей идут параллельно.
type Reconciler struct {
	store    Store
	settings Settings
	metrics  *metrics.ScoringMetrics
}

// NewReconciler создаёт обработчик событий.
func NewReconciler(store Store, settings Settings) *Reconciler {
	return &Reconciler{
		store:    store,
		settings: settings,
		metrics:  metrics.Scoring(),
	}
}

// OnCirclePosted учитывает кружок. Каждое физическое сообщение приносит
// PointsPerCircle ровно один раз, сколько бы раз ни пришло событие.
//
// Алгоритм:
//  1. Создаём состояние чата, если его нет
//  2. Обновляем имя автора (счётчики не трогаем)
//  3. Проверяем, что статистика автора существует
//  4. Одной транзакцией вставляем кружок и, если он новый, делаем circles+1, points+N
//  5. Сдвигаем last_circle_ts (и для повтора: max() не откатит его назад)
func (r *Reconciler) OnCirclePosted(ctx context.Context, ev CirclePosted) (Result, error) {
	logger := log.WithFields(log.Fields{
		"chat_id":    ev.ChatID,
		"message_id": ev.MessageID,
		"author_id":  ev.Author.UserID,
	})

	if err := r.store.EnsureChatState(ctx, ev.ChatID); err != nil {
		return Result{}, fmt.Errorf("состояние чата %d: %w", ev.ChatID, err)
	}

	identity := ev.Author
	identity.ChatID = ev.ChatID
	if err := r.store.UpsertUser(ctx, identity); err != nil {
		return Result{}, fmt.Errorf("upsert автора: %w", err)
	}

	if _, err := r.store.GetUserStats(ctx, ev.ChatID, ev.Author.UserID); err != nil {
		if errors.Is(err, common.ErrUserNotFound) {
			return r.drop(logger, "circle", "нет статистики автора после upsert"), nil
		}
		return Result{}, fmt.Errorf("статистика автора: %w", err)
	}

	isNew, err := r.store.ApplyCircle(ctx, CircleMessage{
		ChatID:      ev.ChatID,
		MessageID:   ev.MessageID,
		AuthorID:    ev.Author.UserID,
		CreatedAtTs: ev.CreatedAt,
	}, r.settings.PointsPerCircle)
	if errors.Is(err, common.ErrUserNotFound) {
		return r.drop(logger, "circle", "статистика автора пропала до начисления"), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("начисление за кружок: %w", err)
	}

	// Повтор тоже двигает водяной знак: если прошлая доставка упала здесь, он догонит
	if err := r.store.SetLastCircleTs(ctx, ev.ChatID, ev.CreatedAt); err != nil {
		return Result{}, fmt.Errorf("last_circle_ts: %w", err)
	}

	if !isNew {
		logger.Debug("Кружок уже учтён, очки не начисляем")
		r.metrics.ObserveCircle(OutcomeDuplicate.String())
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	logger.WithField("points", r.settings.PointsPerCircle).Info("Кружок учтён")
	r.metrics.ObserveCircle(OutcomeApplied.String())
	return Result{Outcome: OutcomeApplied}, nil
}

// OnReactionChanged пересчитывает очки автора кружка по изменению реакций.
//
// Вклад тройки (реактор, сообщение, эмодзи) всегда равен PointsPerReaction,
// пока строка есть в журнале, и нулю, пока её нет. Снятие реакции, которую
// никогда не считали, ничего не делает.
func (r *Reconciler) OnReactionChanged(ctx context.Context, ev ReactionChanged) (Result, error) {
	authorID, err := r.store.TryGetCircleAuthorID(ctx, ev.ChatID, ev.MessageID)
	if errors.Is(err, common.ErrCircleNotFound) {
		return Result{Outcome: OutcomeIgnored}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("автор кружка: %w", err)
	}

	logger := log.WithFields(log.Fields{
		"chat_id":    ev.ChatID,
		"message_id": ev.MessageID,
		"reactor_id": ev.Reactor.UserID,
		"author_id":  authorID,
	})

	// Реактор появляется в статистике чата с нулевыми счётчиками
	if ev.Reactor.DisplayName != "" {
		reactor := ev.Reactor
		reactor.ChatID = ev.ChatID
		if err := r.store.UpsertUser(ctx, reactor); err != nil {
			return Result{}, fmt.Errorf("upsert реактора: %w", err)
		}
	}

	delta := ComputeDelta(ev.Old, ev.New)
	if delta.Empty() {
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	if _, err := r.store.GetUserStats(ctx, ev.ChatID, authorID); err != nil {
		if errors.Is(err, common.ErrUserNotFound) {
			return r.drop(logger, "reaction", "нет статистики автора кружка"), nil
		}
		return Result{}, fmt.Errorf("статистика автора: %w", err)
	}

	key := ReactionKey{ChatID: ev.ChatID, MessageID: ev.MessageID, ReactorID: ev.Reactor.UserID}
	res := Result{Outcome: OutcomeDuplicate}

	for _, emoji := range delta.Added {
		key.Emoji = emoji
		applied, err := r.store.ApplyReaction(ctx, key, authorID, r.settings.PointsPerReaction)
		if errors.Is(err, common.ErrUserNotFound) {
			return r.drop(logger, "reaction", "статистика автора пропала до начисления"), nil
		}
		if err != nil {
			return res, fmt.Errorf("начисление за реакцию %s: %w", emoji, err)
		}
		if !applied {
			logger.WithField("emoji", emoji).Debug("Реакция уже учтена")
			continue
		}
		res.Added++
	}

	for _, emoji := range delta.Removed {
		key.Emoji = emoji
		reverted, err := r.store.RevertReaction(ctx, key, authorID, r.settings.PointsPerReaction)
		if errors.Is(err, common.ErrUserNotFound) {
			return r.drop(logger, "reaction", "статистика автора пропала до снятия"), nil
		}
		if err != nil {
			return res, fmt.Errorf("снятие очков за реакцию %s: %w", emoji, err)
		}
		if !reverted {
			logger.WithField("emoji", emoji).Debug("Снятой реакции не было в журнале")
			continue
		}
		res.Removed++
	}

	if res.Added > 0 || res.Removed > 0 {
		res.Outcome = OutcomeApplied
		logger.WithFields(log.Fields{
			"added":   res.Added,
			"removed": res.Removed,
		}).Info("Реакции учтены")
	}
	r.metrics.ObserveReactions("added", res.Added)
	r.metrics.ObserveReactions("removed", res.Removed)
	return res, nil
}

// drop логирует нарушение инварианта. Событие не повторяется.
func (r *Reconciler) drop(logger *log.Entry, event, reason string) Result {
	logger.WithError(common.ErrInvariantViolation).Error(reason)
	r.metrics.ObserveInvariantFault(event)
	if event == "circle" {
		r.metrics.ObserveCircle(OutcomeDropped.String())
	}
	return Result{Outcome: OutcomeDropped}
}
