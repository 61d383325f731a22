package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/circles-bot/internal/common"
	"serotonyl.ru/circles-bot/internal/features/scoring"
)

const chatID = int64(-100500)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func addUser(t *testing.T, s *Store, userID, circles, reactions, points int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertUser(ctx, scoring.UserIdentity{
		ChatID: chatID, UserID: userID, DisplayName: "user",
	}))
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET circles = ?, reactions = ?, points = ? WHERE chat_id = ? AND user_id = ?",
		circles, reactions, points, chatID, userID,
	)
	require.NoError(t, err)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bot.db")
	ctx := context.Background()

	s1, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s1.EnsureChatState(ctx, chatID))
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()

	chats, err := s2.ListActiveChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{chatID}, chats)

	var applied int
	require.NoError(t, s2.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 1, applied)
}

func TestChatState_Defaults(t *testing.T) {
	s := openTestStore(t)

	st, err := s.GetChatState(context.Background(), chatID)
	require.NoError(t, err)
	assert.Equal(t, scoring.ChatState{ChatID: chatID, RatingsEnabled: true}, st)
}

func TestChatState_WatermarksOnlyMoveForward(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetLastCircleTs(ctx, chatID, 200))
	require.NoError(t, s.SetLastCircleTs(ctx, chatID, 150))
	require.NoError(t, s.SetLastRatingTs(ctx, chatID, 120))
	require.NoError(t, s.SetLastRatingTs(ctx, chatID, 90))

	st, err := s.GetChatState(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), st.LastCircleTs)
	assert.Equal(t, int64(120), st.LastRatingTs)
}

func TestChatState_RatingsToggle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetRatingsEnabled(ctx, chatID, false))
	st, err := s.GetChatState(ctx, chatID)
	require.NoError(t, err)
	assert.False(t, st.RatingsEnabled)

	require.NoError(t, s.SetRatingsEnabled(ctx, chatID, true))
	st, err = s.GetChatState(ctx, chatID)
	require.NoError(t, err)
	assert.True(t, st.RatingsEnabled)
}

func TestUpsertUser_KeepsCounters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	addUser(t, s, 1, 3, 2, 5)
	require.NoError(t, s.UpsertUser(ctx, scoring.UserIdentity{
		ChatID: chatID, UserID: 1, Username: "neo", DisplayName: "Thomas Anderson",
	}))

	u, err := s.GetUserStats(ctx, chatID, 1)
	require.NoError(t, err)
	assert.Equal(t, "neo", u.Username)
	assert.Equal(t, "Thomas Anderson", u.DisplayName)
	assert.Equal(t, int64(3), u.Circles)
	assert.Equal(t, int64(2), u.Reactions)
	assert.Equal(t, int64(5), u.Points)
}

func TestGetUserStats_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetUserStats(context.Background(), chatID, 42)
	assert.ErrorIs(t, err, common.ErrUserNotFound)
}

func TestApplyCircle_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	addUser(t, s, 1, 0, 0, 0)
	addUser(t, s, 2, 0, 0, 0)
	circle := scoring.CircleMessage{ChatID: chatID, MessageID: 7, AuthorID: 1, CreatedAtTs: 100}

	isNew, err := s.ApplyCircle(ctx, circle, 3)
	require.NoError(t, err)
	assert.True(t, isNew)

	circle.AuthorID = 2
	isNew, err = s.ApplyCircle(ctx, circle, 3)
	require.NoError(t, err)
	assert.False(t, isNew)

	author, err := s.TryGetCircleAuthorID(ctx, chatID, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), author)

	u, err := s.GetUserStats(ctx, chatID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.Circles)
	assert.Equal(t, int64(3), u.Points)

	u, err = s.GetUserStats(ctx, chatID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.Points)

	_, err = s.TryGetCircleAuthorID(ctx, chatID, 8)
	assert.ErrorIs(t, err, common.ErrCircleNotFound)
}

func TestApplyCircle_UnknownAuthorRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.ApplyCircle(ctx, scoring.CircleMessage{ChatID: chatID, MessageID: 7, AuthorID: 1, CreatedAtTs: 100}, 1)
	assert.ErrorIs(t, err, common.ErrUserNotFound)

	_, err = s.TryGetCircleAuthorID(ctx, chatID, 7)
	assert.ErrorIs(t, err, common.ErrCircleNotFound)
}

func TestReactionLog_ApplyRevert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	addUser(t, s, 1, 1, 0, 1)
	key := scoring.ReactionKey{ChatID: chatID, MessageID: 7, ReactorID: 2, Emoji: "🔥"}

	ok, err := s.RevertReaction(ctx, key, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok, "снятие несуществующей реакции")

	ok, err = s.ApplyReaction(ctx, key, 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ApplyReaction(ctx, key, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok, "повторная вставка")

	other := key
	other.Emoji = "custom:5368324170671202286"
	ok, err = s.ApplyReaction(ctx, other, 1, 2)
	require.NoError(t, err)
	assert.True(t, ok, "другой эмодзи того же реактора")

	u, err := s.GetUserStats(ctx, chatID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.Reactions)
	assert.Equal(t, int64(5), u.Points)

	ok, err = s.RevertReaction(ctx, key, 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.RevertReaction(ctx, key, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	u, err = s.GetUserStats(ctx, chatID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.Reactions)
	assert.Equal(t, int64(3), u.Points)
}

// failPointsUpdates заставляет любой UPDATE users.points падать, пока триггер не снят.
func failPointsUpdates(t *testing.T, s *Store) (restore func()) {
	t.Helper()
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `
		CREATE TRIGGER fail_points BEFORE UPDATE OF points ON users
		BEGIN SELECT RAISE(ABORT, 'transient'); END
	`)
	require.NoError(t, err)
	return func() {
		_, err := s.db.ExecContext(ctx, "DROP TRIGGER fail_points")
		require.NoError(t, err)
	}
}

// Сбой начисления откатывает и запись ключа: повторная доставка засчитывается.
func TestReconciler_FailedUpdateLeavesNoKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := scoring.NewReconciler(s, scoring.Settings{PointsPerCircle: 1, PointsPerReaction: 1})
	circle := scoring.CirclePosted{
		ChatID:    chatID,
		MessageID: 1,
		Author:    scoring.UserIdentity{UserID: 1, DisplayName: "Автор"},
		CreatedAt: 100,
	}
	add := scoring.ReactionChanged{
		ChatID:    chatID,
		MessageID: 1,
		Reactor:   scoring.UserIdentity{UserID: 2, DisplayName: "Зритель"},
		New:       []string{"🔥"},
	}

	restore := failPointsUpdates(t, s)
	_, err := r.OnCirclePosted(ctx, circle)
	require.Error(t, err)
	restore()

	_, err = s.TryGetCircleAuthorID(ctx, chatID, 1)
	require.ErrorIs(t, err, common.ErrCircleNotFound, "кружок без очков не должен остаться в базе")

	res, err := r.OnCirclePosted(ctx, circle)
	require.NoError(t, err)
	assert.Equal(t, scoring.OutcomeApplied, res.Outcome)

	restore = failPointsUpdates(t, s)
	_, err = r.OnReactionChanged(ctx, add)
	require.Error(t, err)
	restore()

	res, err = r.OnReactionChanged(ctx, add)
	require.NoError(t, err)
	assert.Equal(t, scoring.OutcomeApplied, res.Outcome)

	u, err := s.GetUserStats(ctx, chatID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.Circles)
	assert.Equal(t, int64(1), u.Reactions)
	assert.Equal(t, int64(2), u.Points)

	st, err := s.GetChatState(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.LastCircleTs)
}

func TestGetTop_Ordering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	addUser(t, s, 30, 9, 0, 5)
	addUser(t, s, 20, 1, 0, 10)
	addUser(t, s, 10, 2, 0, 10)
	// полная ничья по очкам, кружкам и реакциям - решает user_id
	addUser(t, s, 41, 1, 1, 3)
	addUser(t, s, 40, 1, 1, 3)

	top, err := s.GetTop(ctx, chatID, 10)
	require.NoError(t, err)
	require.Len(t, top, 5)

	var ids []int64
	for i, r := range top {
		assert.Equal(t, i+1, r.Rank)
		ids = append(ids, r.UserID)
	}
	assert.Equal(t, []int64{10, 20, 30, 40, 41}, ids)

	top, err = s.GetTop(ctx, chatID, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestGetTop_OtherChatIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	addUser(t, s, 1, 1, 0, 1)

	top, err := s.GetTop(ctx, chatID+1, 10)
	require.NoError(t, err)
	assert.Empty(t, top)
}

func TestGetZeroUsers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	addUser(t, s, 1, 0, 0, 5)  // 0 кружков, но есть очки
	addUser(t, s, 2, 3, 0, 0)  // 0 очков, но есть кружки
	addUser(t, s, 3, 1, 0, 1)  // активный
	addUser(t, s, 4, 0, 0, -1) // отрицательные очки
	addUser(t, s, 5, 0, 0, 0)

	zero, err := s.GetZeroUsers(ctx, chatID, scoring.ZeroByCircles, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5, 1}, userIDs(zero))

	zero, err = s.GetZeroUsers(ctx, chatID, scoring.ZeroByPoints, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5, 2}, userIDs(zero))

	zero, err = s.GetZeroUsers(ctx, chatID, scoring.ZeroByPoints, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, userIDs(zero))

	_, err = s.GetZeroUsers(ctx, chatID, scoring.ZeroCriterion("reactions"), 10)
	assert.ErrorIs(t, err, common.ErrInvalidZeroCriteria)
}

func userIDs(users []scoring.UserStats) []int64 {
	out := make([]int64, 0, len(users))
	for _, u := range users {
		out = append(out, u.UserID)
	}
	return out
}
