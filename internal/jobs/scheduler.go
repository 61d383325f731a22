// Package jobs управляет фоновыми задачами (cron).
// scheduler.go раз в RATING_INTERVAL_SEC публикует рейтинги чатов.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/circles-bot/internal/features/rating"
)

// RatingPublisher - один тик публикации рейтингов.
type RatingPublisher interface {
	PublishDue(ctx context.Context) (rating.Report, error)
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron      *cron.Cron
	publisher RatingPublisher
	interval  time.Duration
}

// NewScheduler создаёт планировщик. Тик, который не успел закончиться,
// не запускается повторно, паника в тике не роняет cron.
func NewScheduler(publisher RatingPublisher, interval time.Duration) *Scheduler {
	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))

	return &Scheduler{
		cron:      c,
		publisher: publisher,
		interval:  interval,
	}
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) error {
	schedule := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(schedule, func() { s.publishRatings(ctx) }); err != nil {
		return fmt.Errorf("ошибка регистрации задачи рейтингов: %w", err)
	}

	s.cron.Start()
	log.WithField("interval", s.interval).Info("Планировщик задач запущен")
	return nil
}

func (s *Scheduler) publishRatings(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	log.Debug("[CRON] Публикация рейтингов")
	report, err := s.publisher.PublishDue(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка публикации рейтингов")
		return
	}
	if report.Published > 0 || report.Failed > 0 {
		log.WithFields(log.Fields{
			"published": report.Published,
			"failed":    report.Failed,
		}).Info("[CRON] Рейтинги опубликованы")
	}
}

// Stop останавливает планировщик и ждёт завершения текущего тика.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
