package rating_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/circles-bot/internal/db/sqlite"
	"serotonyl.ru/circles-bot/internal/features/rating"
	"serotonyl.ru/circles-bot/internal/features/scoring"
)

const (
	chatA = int64(-1001)
	chatB = int64(-1002)
	chatC = int64(-1003)
)

var fixedNow = time.Unix(1000, 0)

type published struct {
	chatID    int64
	top, zero string
}

// fakeNotifier запоминает отправки; для chatID из fail возвращает ошибку,
// для chatID из panics паникует.
type fakeNotifier struct {
	mu     sync.Mutex
	sent   []published
	fail   map[int64]bool
	panics map[int64]bool
}

func (n *fakeNotifier) PublishRating(_ context.Context, chatID int64, top, zero string) error {
	if n.panics[chatID] {
		panic("notifier exploded")
	}
	if n.fail[chatID] {
		return errors.New("telegram недоступен")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, published{chatID: chatID, top: top, zero: zero})
	return nil
}

func (n *fakeNotifier) chats() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]int64, 0, len(n.sent))
	for _, p := range n.sent {
		ids = append(ids, p.chatID)
	}
	return ids
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// postCircle эмулирует учтённый кружок пользователя.
func postCircle(t *testing.T, store scoring.Store, chatID, userID, ts int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertUser(ctx, scoring.UserIdentity{ChatID: chatID, UserID: userID, DisplayName: "user"}))
	circle := scoring.CircleMessage{ChatID: chatID, MessageID: userID*1_000_000 + ts, AuthorID: userID, CreatedAtTs: ts}
	_, err := store.ApplyCircle(ctx, circle, 1)
	require.NoError(t, err)
	require.NoError(t, store.SetLastCircleTs(ctx, chatID, ts))
}

func newPublisher(store scoring.Store, n rating.Notifier) *rating.Publisher {
	settings := rating.Settings{TopLimit: 10, ZeroPingLimit: 10, ZeroCriterion: scoring.ZeroByPoints}
	return rating.NewPublisher(store, rating.HTMLFormatter{}, n, settings).
		WithClock(func() time.Time { return fixedNow })
}

func TestDue(t *testing.T) {
	assert.False(t, rating.Due(scoring.ChatState{LastCircleTs: 100, LastRatingTs: 100, RatingsEnabled: true}))
	assert.True(t, rating.Due(scoring.ChatState{LastCircleTs: 101, LastRatingTs: 100, RatingsEnabled: true}))
	assert.False(t, rating.Due(scoring.ChatState{LastCircleTs: 101, LastRatingTs: 100, RatingsEnabled: false}))
	assert.False(t, rating.Due(scoring.ChatState{}))
}

func TestPublishDue_AdvancesWatermark(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	postCircle(t, store, chatA, 1, 500)

	n := &fakeNotifier{}
	p := newPublisher(store, n)

	report, err := p.PublishDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, rating.Report{Published: 1}, report)
	assert.Equal(t, []int64{chatA}, n.chats())

	st, err := store.GetChatState(ctx, chatA)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Unix(), st.LastRatingTs)

	// Новых кружков нет - второй тик ничего не шлёт
	report, err = p.PublishDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, rating.Report{Skipped: 1}, report)
	assert.Len(t, n.chats(), 1)
}

func TestPublishDue_WatermarkNotBelowLastCircle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	// Кружок «из будущего» относительно часов бота
	postCircle(t, store, chatA, 1, 5000)

	p := newPublisher(store, &fakeNotifier{})
	_, err := p.PublishDue(ctx)
	require.NoError(t, err)

	st, err := store.GetChatState(ctx, chatA)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), st.LastRatingTs)
	assert.False(t, rating.Due(st))
}

func TestPublishDue_SkipsDisabled(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	postCircle(t, store, chatA, 1, 500)
	require.NoError(t, store.SetRatingsEnabled(ctx, chatA, false))

	n := &fakeNotifier{}
	report, err := newPublisher(store, n).PublishDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, rating.Report{Skipped: 1}, report)
	assert.Empty(t, n.chats())

	st, err := store.GetChatState(ctx, chatA)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.LastRatingTs)
}

func TestPublishDue_IsolatesFailures(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	postCircle(t, store, chatA, 1, 500)
	postCircle(t, store, chatB, 2, 500)
	postCircle(t, store, chatC, 3, 500)

	n := &fakeNotifier{
		fail:   map[int64]bool{chatA: true},
		panics: map[int64]bool{chatB: true},
	}
	report, err := newPublisher(store, n).PublishDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, rating.Report{Published: 1, Failed: 2}, report)
	assert.Equal(t, []int64{chatC}, n.chats())

	// Упавшие чаты остаются «должными»
	for _, id := range []int64{chatA, chatB} {
		st, err := store.GetChatState(ctx, id)
		require.NoError(t, err)
		assert.True(t, rating.Due(st), "chat %d", id)
	}

	// Следующий тик с рабочей отправкой досылает их
	retry := &fakeNotifier{}
	report, err = newPublisher(store, retry).PublishDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, rating.Report{Published: 2, Skipped: 1}, report)
	assert.ElementsMatch(t, []int64{chatA, chatB}, retry.chats())
}

func TestPublishDue_ZeroPayload(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	// В чате A есть «нулевой» пользователь, в чате B - нет
	postCircle(t, store, chatA, 1, 500)
	require.NoError(t, store.UpsertUser(ctx, scoring.UserIdentity{ChatID: chatA, UserID: 2, DisplayName: "Молчун"}))
	postCircle(t, store, chatB, 3, 500)

	n := &fakeNotifier{}
	_, err := newPublisher(store, n).PublishDue(ctx)
	require.NoError(t, err)
	require.Len(t, n.sent, 2)

	byChat := map[int64]published{}
	for _, p := range n.sent {
		byChat[p.chatID] = p
	}
	assert.Contains(t, byChat[chatA].zero, `<a href="tg://user?id=2">Молчун</a>`)
	assert.Empty(t, byChat[chatB].zero)
	assert.NotEmpty(t, byChat[chatB].top)
}

func TestPublishDue_ZeroPingDisabled(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	postCircle(t, store, chatA, 1, 500)
	require.NoError(t, store.UpsertUser(ctx, scoring.UserIdentity{ChatID: chatA, UserID: 2, DisplayName: "Молчун"}))

	n := &fakeNotifier{}
	settings := rating.Settings{TopLimit: 10, ZeroPingLimit: 0, ZeroCriterion: scoring.ZeroByPoints}
	_, err := rating.NewPublisher(store, rating.HTMLFormatter{}, n, settings).PublishDue(ctx)
	require.NoError(t, err)
	require.Len(t, n.sent, 1)
	assert.Empty(t, n.sent[0].zero)
}

func TestPublishDue_CancelledContext(t *testing.T) {
	store := openStore(t)
	postCircle(t, store, chatA, 1, 500)

	ctx, cancel := context.WithCancel(context.Background())
	n := &fakeNotifier{}
	p := newPublisher(store, n)
	cancel()

	_, err := p.PublishDue(ctx)
	require.Error(t, err)
	assert.Empty(t, n.chats())
}
