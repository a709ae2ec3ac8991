package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/markov-tgbot-go/internal/config"
	"github.com/markov-tgbot-go/internal/i18n"
	"github.com/markov-tgbot-go/internal/middleware"
	"github.com/markov-tgbot-go/internal/models"
	"github.com/markov-tgbot-go/internal/services/engine"
	"github.com/markov-tgbot-go/internal/services/features"
	"github.com/markov-tgbot-go/internal/services/history"
	"github.com/markov-tgbot-go/internal/services/modelcache"
	"github.com/markov-tgbot-go/internal/services/personality"
)

// settingCommands maps bot commands to personality setting names.
var settingCommands = map[string]string{
	"setlaziness":  "laziness",
	"setcoherence": "coherence",
	"setsassiness": "sassiness",
	"setorder":     "chain_order",
	"setsilence":   "silence_minutes",
}

// CommandHandler handles telegram commands
type CommandHandler struct {
	bot           *tgbotapi.BotAPI
	config        *config.Config
	history       *history.Store
	personalities *personality.Store
	features      features.Service
	modelCache    *modelcache.Cache
	trigger       *engine.Trigger
	rateLimiter   middleware.RateLimiter
	metrics       *middleware.Metrics
	localizer     *i18n.Localizer
	logger        *logrus.Logger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(
	bot *tgbotapi.BotAPI,
	cfg *config.Config,
	historyStore *history.Store,
	personalities *personality.Store,
	featureService features.Service,
	modelCache *modelcache.Cache,
	trigger *engine.Trigger,
	rateLimiter middleware.RateLimiter,
	metrics *middleware.Metrics,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *CommandHandler {
	return &CommandHandler{
		bot:           bot,
		config:        cfg,
		history:       historyStore,
		personalities: personalities,
		features:      featureService,
		modelCache:    modelCache,
		trigger:       trigger,
		rateLimiter:   rateLimiter,
		metrics:       metrics,
		localizer:     localizer,
		logger:        logger,
	}
}

// HandleCommand processes telegram commands
func (h *CommandHandler) HandleCommand(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	command := message.Command()
	lang := h.language(message)

	h.metrics.RecordCommandExecuted(command)

	if setting, ok := settingCommands[command]; ok {
		return h.handleSetting(ctx, message, setting, lang)
	}

	switch command {
	case "start":
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgStart, nil))
	case "help":
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgHelp, nil))
	case "responses":
		return h.handleResponses(ctx, message, lang)
	case "botstats":
		return h.handleStats(ctx, chatID, lang)
	case "purge":
		return h.handlePurge(ctx, message, lang)
	default:
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgUnknownCommand, nil))
	}
}

// handleSetting shows or updates one personality dial.
func (h *CommandHandler) handleSetting(ctx context.Context, message *tgbotapi.Message, setting, lang string) error {
	chatID := message.Chat.ID
	arg := strings.TrimSpace(message.CommandArguments())

	if arg == "" {
		settings, err := h.personalities.Get(ctx, chatID)
		if err != nil {
			h.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to load personality settings")
			return h.reply(chatID, h.localizer.Get(lang, i18n.MsgError, nil))
		}
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgCurrentSetting, map[string]interface{}{
			"Setting": setting,
			"Value":   settingValue(settings, setting),
		}))
	}

	if ok, err := h.requireAdmin(message, lang); err != nil || !ok {
		return err
	}

	value, err := strconv.Atoi(arg)
	if err != nil {
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgSettingInvalid, map[string]interface{}{
			"Setting": setting,
		}))
	}

	stored, err := h.personalities.Set(ctx, chatID, setting, value)
	if errors.Is(err, personality.ErrUnknownSetting) {
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgUnknownSetting, nil))
	}
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"chat_id": chatID,
			"setting": setting,
		}).Error("Failed to update personality setting")
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgError, nil))
	}

	// Order changes only take effect once the cached model is rebuilt.
	if setting == "chain_order" {
		h.modelCache.Invalidate(chatID)
	}

	return h.reply(chatID, h.localizer.Get(lang, i18n.MsgSettingChanged, map[string]interface{}{
		"Setting": setting,
		"Value":   stored,
	}))
}

// handleResponses toggles unsolicited replies for a group.
func (h *CommandHandler) handleResponses(ctx context.Context, message *tgbotapi.Message, lang string) error {
	chatID := message.Chat.ID
	if message.Chat.IsPrivate() {
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgGroupsOnly, nil))
	}
	if ok, err := h.requireAdmin(message, lang); err != nil || !ok {
		return err
	}

	var enabled bool
	var err error
	switch strings.ToLower(strings.TrimSpace(message.CommandArguments())) {
	case "on":
		enabled, err = true, h.features.Set(ctx, chatID, features.AutoResponses, true)
	case "off":
		enabled, err = false, h.features.Set(ctx, chatID, features.AutoResponses, false)
	default:
		enabled, err = h.features.Toggle(ctx, chatID, features.AutoResponses)
	}
	if err != nil {
		h.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to update feature toggle")
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgError, nil))
	}

	msgID := i18n.MsgResponsesDisabled
	if enabled {
		msgID = i18n.MsgResponsesEnabled
	}
	return h.reply(chatID, h.localizer.Get(lang, msgID, nil))
}

// handleStats reports what the bot has learned about this chat.
func (h *CommandHandler) handleStats(ctx context.Context, chatID int64, lang string) error {
	count, err := h.history.Count(ctx, chatID)
	if err != nil {
		h.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to count messages")
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgError, nil))
	}

	settings, err := h.personalities.Get(ctx, chatID)
	if err != nil {
		h.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to load personality settings")
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgError, nil))
	}

	return h.reply(chatID, h.localizer.Get(lang, i18n.MsgStats, map[string]interface{}{
		"Messages":   count,
		"Laziness":   settings.Laziness,
		"Coherence":  settings.Coherence,
		"Sassiness":  settings.Sassiness,
		"Order":      settings.ChainOrder,
		"Silence":    settings.SilenceMinutes,
		"BaseChance": 100 - settings.Laziness,
	}))
}

// handlePurge forgets everything the bot knows about a chat.
func (h *CommandHandler) handlePurge(ctx context.Context, message *tgbotapi.Message, lang string) error {
	chatID := message.Chat.ID
	if ok, err := h.requireAdmin(message, lang); err != nil || !ok {
		return err
	}

	if err := h.history.Purge(ctx, chatID); err != nil {
		h.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to purge message history")
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgError, nil))
	}
	if err := h.personalities.Delete(ctx, chatID); err != nil {
		h.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to reset personality settings")
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgError, nil))
	}
	h.modelCache.Invalidate(chatID)
	h.trigger.ResetCooldown(chatID)
	h.rateLimiter.Reset(chatID)

	h.logger.WithField("chat_id", chatID).Info("Purged chat data")
	return h.reply(chatID, h.localizer.Get(lang, i18n.MsgPurgeDone, nil))
}

// requireAdmin allows everyone in private chats and only admins in groups.
// It sends the refusal itself, so callers just stop on ok == false.
func (h *CommandHandler) requireAdmin(message *tgbotapi.Message, lang string) (bool, error) {
	if message.Chat.IsPrivate() {
		return true, nil
	}

	member, err := h.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: message.Chat.ID,
			UserID: message.From.ID,
		},
	})
	if err != nil {
		h.logger.WithError(err).WithField("chat_id", message.Chat.ID).Error("Failed to check chat member")
		return false, h.reply(message.Chat.ID, h.localizer.Get(lang, i18n.MsgError, nil))
	}

	if member.Status != "creator" && member.Status != "administrator" {
		return false, h.reply(message.Chat.ID, h.localizer.Get(lang, i18n.MsgAdminsOnly, nil))
	}
	return true, nil
}

func (h *CommandHandler) language(message *tgbotapi.Message) string {
	if message.From != nil && message.From.LanguageCode != "" {
		return message.From.LanguageCode
	}
	return h.config.I18n.DefaultLanguage
}

func (h *CommandHandler) reply(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := h.bot.Send(msg)
	return err
}

func settingValue(settings *models.PersonalitySettings, setting string) int {
	switch setting {
	case "laziness":
		return settings.Laziness
	case "coherence":
		return settings.Coherence
	case "sassiness":
		return settings.Sassiness
	case "chain_order":
		return settings.ChainOrder
	case "silence_minutes":
		return settings.SilenceMinutes
	}
	return 0
}
