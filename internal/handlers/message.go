package handlers

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/markov-tgbot-go/internal/config"
	"github.com/markov-tgbot-go/internal/middleware"
	"github.com/markov-tgbot-go/internal/models"
	"github.com/markov-tgbot-go/internal/services/engine"
	"github.com/markov-tgbot-go/internal/services/features"
	"github.com/markov-tgbot-go/internal/services/history"
	"github.com/markov-tgbot-go/pkg/logger"
)

// MessageHandler learns from every group message and occasionally replies.
type MessageHandler struct {
	config      *config.Config
	bot         *tgbotapi.BotAPI
	history     *history.Store
	features    features.Service
	trigger     *engine.Trigger
	generator   *engine.Generator
	rateLimiter middleware.RateLimiter
	metrics     *middleware.Metrics
	logger      *logrus.Logger
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(
	cfg *config.Config,
	bot *tgbotapi.BotAPI,
	historyStore *history.Store,
	featureService features.Service,
	trigger *engine.Trigger,
	generator *engine.Generator,
	rateLimiter middleware.RateLimiter,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *MessageHandler {
	return &MessageHandler{
		config:      cfg,
		bot:         bot,
		history:     historyStore,
		features:    featureService,
		trigger:     trigger,
		generator:   generator,
		rateLimiter: rateLimiter,
		metrics:     metrics,
		logger:      logger,
	}
}

// HandleMessage processes regular messages
func (h *MessageHandler) HandleMessage(ctx context.Context, update *tgbotapi.Update) error {
	if update.Message == nil || update.Message.IsCommand() {
		return nil
	}

	// Ignore bot's own messages
	if update.Message.From.ID == h.bot.Self.ID {
		return nil
	}

	msg := update.Message
	if strings.TrimSpace(msg.Text) == "" {
		return nil
	}

	chatID := msg.Chat.ID
	userID := msg.From.ID

	// The chat toggle gates everything, learning included: an opted-out
	// chat is neither stored nor replied to.
	enabled, err := h.features.IsEnabled(ctx, chatID, features.AutoResponses)
	if err != nil {
		h.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to read feature toggle")
		return err
	}
	if !enabled {
		return nil
	}

	if err := h.learn(ctx, msg); err != nil {
		logger.WithChat(h.logger, chatID, userID).WithError(err).Warn("Failed to store message")
	}

	// Only groups get unsolicited replies.
	if msg.Chat.IsPrivate() {
		return nil
	}

	shouldRespond := h.trigger.ShouldRespond(ctx, chatID, msg.Text, userID, h.bot.Self.ID)
	outcome := "declined"
	if shouldRespond {
		outcome = "respond"
	}
	h.metrics.RecordTriggerEvaluation(outcome)
	if !shouldRespond {
		return nil
	}

	if !h.rateLimiter.Allow(chatID) {
		h.metrics.RecordRateLimitExceeded(strconv.FormatInt(chatID, 10))
		h.logger.WithField("chat_id", chatID).Debug("Reply suppressed by rate limit")
		return nil
	}

	// Generate in the background so the update loop keeps draining.
	go h.respond(context.Background(), chatID, msg.Text, msg.MessageID)

	return nil
}

func (h *MessageHandler) learn(ctx context.Context, msg *tgbotapi.Message) error {
	// Timestamp stays zero so the store stamps ingest time in milliseconds.
	// The Telegram message date only carries seconds, which would collide
	// rapid consecutive messages from one user under the uniqueness triple.
	record := &models.Message{
		ChatID: msg.Chat.ID,
		UserID: msg.From.ID,
		Text:   msg.Text,
	}
	if msg.ReplyToMessage != nil {
		replyID := int64(msg.ReplyToMessage.MessageID)
		record.ReplyToID = &replyID
	}

	if err := h.history.Save(ctx, record); err != nil {
		return err
	}
	h.metrics.RecordMessageLearned()
	return nil
}

func (h *MessageHandler) respond(ctx context.Context, chatID int64, inputText string, replyToID int) {
	h.sendTyping(chatID)
	h.pause()

	start := time.Now()
	reply := h.generator.Generate(ctx, chatID, inputText, h.bot.Self.ID)
	duration := time.Since(start)

	if reply == "" {
		h.metrics.RecordGeneration("empty", duration)
		h.logger.WithField("chat_id", chatID).Debug("Generator produced nothing")
		return
	}

	msg := tgbotapi.NewMessage(chatID, reply)
	msg.ReplyToMessageID = replyToID
	if _, err := h.bot.Send(msg); err != nil {
		h.metrics.RecordGeneration("send_failed", duration)
		h.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to send reply")
		return
	}

	h.metrics.RecordGeneration("sent", duration)
	h.logger.WithFields(logrus.Fields{
		"chat_id":  chatID,
		"duration": duration,
	}).Info("Sent generated reply")
}

func (h *MessageHandler) sendTyping(chatID int64) {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := h.bot.Request(action); err != nil {
		h.logger.WithError(err).WithField("chat_id", chatID).Debug("Failed to send typing action")
	}
}

// pause waits a randomized interval so replies feel typed, not instant.
func (h *MessageHandler) pause() {
	min := h.config.Engine.ThinkingDelayMin
	max := h.config.Engine.ThinkingDelayMax
	if max <= min {
		time.Sleep(min)
		return
	}
	time.Sleep(min + time.Duration(rand.Int63n(int64(max-min))))
}
