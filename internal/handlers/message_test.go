package handlers

import (
	"context"
	"io"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/markov-tgbot-go/internal/config"
	"github.com/markov-tgbot-go/internal/database"
	"github.com/markov-tgbot-go/internal/middleware"
	"github.com/markov-tgbot-go/internal/services/engine"
	"github.com/markov-tgbot-go/internal/services/features"
	"github.com/markov-tgbot-go/internal/services/history"
	"github.com/markov-tgbot-go/internal/services/modelcache"
	"github.com/markov-tgbot-go/internal/services/personality"
)

type fakeLimiter struct{}

func (fakeLimiter) Allow(chatID int64) bool { return true }
func (fakeLimiter) Reset(chatID int64)      {}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// newTestHandler wires the message handler over an in-memory database and
// the in-process toggle backend, so updates flow through the real stores.
func newTestHandler(t *testing.T) (*MessageHandler, *history.Store, features.Service) {
	t.Helper()
	log := testLogger()

	db, err := database.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hist := history.NewStore(db, log)
	personalities := personality.NewStore(db, log)

	cfg := &config.Config{}
	cfg.Features.Backend = "memory"

	toggles, err := features.New(cfg, log)
	require.NoError(t, err)

	metrics := middleware.NewMetrics()
	cache := modelcache.NewCache(hist, metrics, log)
	trigger := engine.NewTrigger(hist, personalities, log)
	generator := engine.NewGenerator(hist, personalities, cache, log)

	bot := &tgbotapi.BotAPI{Self: tgbotapi.User{ID: 500}}
	handler := NewMessageHandler(cfg, bot, hist, toggles, trigger, generator, fakeLimiter{}, metrics, log)
	return handler, hist, toggles
}

func groupUpdate(chatID, userID int64, text string) *tgbotapi.Update {
	return &tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 1,
			From:      &tgbotapi.User{ID: userID},
			Chat:      &tgbotapi.Chat{ID: chatID, Type: "supergroup"},
			Date:      1700000000,
			Text:      text,
		},
	}
}

func TestHandleMessage_ToggleGatesLearning(t *testing.T) {
	handler, hist, toggles := newTestHandler(t)
	ctx := context.Background()

	require.NoError(t, handler.HandleMessage(ctx, groupUpdate(42, 7, "кот сидит на крыше")))

	count, err := hist.Count(ctx, 42)
	require.NoError(t, err)
	require.Zero(t, count, "opted-out chat must not be written to")

	require.NoError(t, toggles.Set(ctx, 42, features.AutoResponses, true))

	require.NoError(t, handler.HandleMessage(ctx, groupUpdate(42, 7, "кот сидит на крыше")))

	count, err = hist.Count(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestHandleMessage_ToggleIsolatesChats(t *testing.T) {
	handler, hist, toggles := newTestHandler(t)
	ctx := context.Background()

	require.NoError(t, toggles.Set(ctx, 42, features.AutoResponses, true))

	require.NoError(t, handler.HandleMessage(ctx, groupUpdate(42, 7, "включённый чат пишет")))
	require.NoError(t, handler.HandleMessage(ctx, groupUpdate(43, 7, "выключенный чат пишет")))

	count, err := hist.Count(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = hist.Count(ctx, 43)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestHandleMessage_RapidMessagesSameSecondAllStored(t *testing.T) {
	handler, hist, toggles := newTestHandler(t)
	ctx := context.Background()

	require.NoError(t, toggles.Set(ctx, 42, features.AutoResponses, true))

	first := groupUpdate(42, 7, "кот сидит на крыше")
	second := groupUpdate(42, 7, "собака лает во дворе")
	second.Message.Date = first.Message.Date

	require.NoError(t, handler.HandleMessage(ctx, first))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, handler.HandleMessage(ctx, second))

	count, err := hist.Count(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, 2, count, "same-second messages must not collide")
}

func TestHandleMessage_StampsIngestTimeNotMessageDate(t *testing.T) {
	handler, hist, toggles := newTestHandler(t)
	ctx := context.Background()

	require.NoError(t, toggles.Set(ctx, 42, features.AutoResponses, true))

	update := groupUpdate(42, 7, "кот сидит на крыше")
	update.Message.Date = 1500000000 // years in the past

	require.NoError(t, handler.HandleMessage(ctx, update))

	last, err := hist.LastMessageTime(ctx, 42)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), last, time.Minute)
}
