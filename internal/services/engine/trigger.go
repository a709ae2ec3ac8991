package engine

import (
	"context"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/markov-tgbot-go/internal/models"
	"github.com/markov-tgbot-go/internal/services/chain"
)

const (
	// MinMessages is the smallest history a chat needs before the bot
	// will consider replying at all.
	MinMessages = 20

	questionBoost = 2.0
	keywordBoost  = 1.5
	revivalBoost  = 3.0

	// maxChance always leaves at least a 10% chance of silence.
	maxChance = 0.9

	frequentWordLimit = 100
)

// tokenPattern extracts lowercase letter runs for keyword matching.
var tokenPattern = regexp.MustCompile(`[a-zа-яё]{3,}`)

// History is the subset of the history store the engine reads.
type History interface {
	Count(ctx context.Context, chatID int64) (int, error)
	RandomMessage(ctx context.Context, chatID int64) (string, error)
	SassyMessages(ctx context.Context, chatID int64, limit int) ([]string, error)
	SimilarMessages(ctx context.Context, chatID int64, queryText string, limit int) ([]string, error)
	FrequentWords(ctx context.Context, chatID int64, limit int) ([]string, error)
	LastMessageTime(ctx context.Context, chatID int64) (time.Time, error)
}

// Personalities resolves per-chat tuning.
type Personalities interface {
	Get(ctx context.Context, chatID int64) (*models.PersonalitySettings, error)
}

// ModelSource provides the chat's cached general chain model.
type ModelSource interface {
	GetOrBuild(ctx context.Context, chatID int64, order int) (*chain.Model, error)
}

// Trigger decides whether the bot replies to an incoming message. State is
// keyed by chat; chats never interact.
type Trigger struct {
	history       History
	personalities Personalities
	logger        *logrus.Logger

	mu           sync.Mutex
	lastBotReply map[int64]time.Time

	now       func() time.Time
	randFloat func() float64
}

// NewTrigger creates a trigger decision engine.
func NewTrigger(history History, personalities Personalities, logger *logrus.Logger) *Trigger {
	return &Trigger{
		history:       history,
		personalities: personalities,
		logger:        logger,
		lastBotReply:  make(map[int64]time.Time),
		now:           time.Now,
		randFloat:     rand.Float64,
	}
}

// ShouldRespond rolls the trigger chance for one incoming message. On a
// positive roll it commits the chat's cooldown immediately, before any
// generation starts, so a second rapid evaluation cannot also fire. Internal
// failures resolve to false; nothing propagates to the caller.
func (t *Trigger) ShouldRespond(ctx context.Context, chatID int64, text string, senderID, botID int64) bool {
	if senderID == botID {
		return false
	}

	lastStored, err := t.history.LastMessageTime(ctx, chatID)
	if err != nil {
		t.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to read last message time")
		return false
	}

	// Never reply twice before a new human message arrives.
	t.mu.Lock()
	lastReply, replied := t.lastBotReply[chatID]
	t.mu.Unlock()
	if replied && !lastStored.IsZero() && !lastReply.Before(lastStored) {
		t.logger.WithField("chat_id", chatID).Debug("Cooldown active, skipping response")
		return false
	}

	count, err := t.history.Count(ctx, chatID)
	if err != nil {
		t.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to count messages")
		return false
	}
	if count < MinMessages {
		return false
	}

	chance := t.chance(ctx, chatID, text, lastStored)
	if t.randFloat() >= chance {
		return false
	}

	// Commit the cooldown before generation begins. A generation that later
	// yields nothing still consumes the window.
	t.mu.Lock()
	t.lastBotReply[chatID] = t.now()
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"chance":  chance,
	}).Info("Trigger fired")
	return true
}

// chance computes the compound trigger probability in [0, maxChance].
func (t *Trigger) chance(ctx context.Context, chatID int64, text string, lastStored time.Time) float64 {
	settings, err := t.personalities.Get(ctx, chatID)
	if err != nil {
		t.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to load personality settings")
		return 0
	}

	chance := float64(100-settings.Laziness) / 100

	if strings.Contains(text, "?") {
		chance *= questionBoost
	}

	if t.mentionsFrequentWord(ctx, chatID, text) {
		chance *= keywordBoost
	}

	if !lastStored.IsZero() {
		silence := t.now().Sub(lastStored)
		if silence >= time.Duration(settings.SilenceMinutes)*time.Minute {
			chance *= revivalBoost
		}
	}

	if chance > maxChance {
		chance = maxChance
	}
	return chance
}

// mentionsFrequentWord reports whether the text shares a token with the
// chat's top frequent words.
func (t *Trigger) mentionsFrequentWord(ctx context.Context, chatID int64, text string) bool {
	frequent, err := t.history.FrequentWords(ctx, chatID, frequentWordLimit)
	if err != nil {
		t.logger.WithError(err).WithField("chat_id", chatID).Warn("Failed to load frequent words")
		return false
	}
	if len(frequent) == 0 {
		return false
	}

	set := make(map[string]struct{}, len(frequent))
	for _, word := range frequent {
		set[word] = struct{}{}
	}
	for _, token := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if _, ok := set[token]; ok {
			return true
		}
	}
	return false
}

// ResetCooldown clears the chat's cooldown window.
func (t *Trigger) ResetCooldown(chatID int64) {
	t.mu.Lock()
	delete(t.lastBotReply, chatID)
	t.mu.Unlock()
}
