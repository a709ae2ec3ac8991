package engine

import (
	"context"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/markov-tgbot-go/internal/models"
	"github.com/markov-tgbot-go/internal/services/chain"
)

const (
	// minContextInput is the shortest input worth a similarity lookup.
	minContextInput = 3

	similarLimit = 50

	// minSimilar is how many similar messages a one-off context model needs.
	minSimilar = 5

	sassyPoolLimit = 100

	contextAttempts = 50
	generalAttempts = 100

	minReplyWords  = 3
	maxReplyLength = 200

	flourishChance = 0.3
)

// terminalPunct matches a reply that already ends in terminal punctuation.
var terminalPunct = regexp.MustCompile(`[!?.]{1,3}$`)

var flourishes = []string{"!", "?", "!!", "?!", "..."}

type responseMode int

const (
	modeSampling responseMode = iota
	modeChain
	modeMixed
)

// Generator produces reply text by sampling history verbatim or walking a
// chain model, steered by the chat's personality settings.
type Generator struct {
	history       History
	personalities Personalities
	models        ModelSource
	logger        *logrus.Logger

	randFloat func() float64
	randIntn  func(n int) int
}

// NewGenerator creates a response generator.
func NewGenerator(history History, personalities Personalities, models ModelSource, logger *logrus.Logger) *Generator {
	return &Generator{
		history:       history,
		personalities: personalities,
		models:        models,
		logger:        logger,
		randFloat:     rand.Float64,
		randIntn:      rand.Intn,
	}
}

// Generate returns the reply text, or "" when nothing can be produced. All
// internal faults degrade toward sampling and finally silence; none escape.
func (g *Generator) Generate(ctx context.Context, chatID int64, inputText string, botID int64) string {
	count, err := g.history.Count(ctx, chatID)
	if err != nil {
		g.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to count messages")
		return ""
	}
	if count < MinMessages {
		g.logger.WithFields(logrus.Fields{
			"chat_id":  chatID,
			"messages": count,
		}).Debug("Not enough messages to generate")
		return ""
	}

	settings, err := g.personalities.Get(ctx, chatID)
	if err != nil {
		g.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to load personality settings")
		return ""
	}

	var reply string
	switch g.mode(settings.Coherence) {
	case modeSampling:
		reply = g.sample(ctx, chatID, settings)
	case modeChain:
		reply = g.chained(ctx, chatID, inputText, settings)
	default:
		if g.randFloat() < 0.5 {
			reply = g.sample(ctx, chatID, settings)
		} else {
			reply = g.chained(ctx, chatID, inputText, settings)
		}
	}
	if reply == "" {
		return ""
	}

	reply = g.flourish(reply, settings)

	// Never echo a reference to the bot itself.
	if strings.Contains(reply, "@"+strconv.FormatInt(botID, 10)) {
		g.logger.WithField("chat_id", chatID).Debug("Discarded reply mentioning the bot")
		return ""
	}
	return reply
}

func (g *Generator) mode(coherence int) responseMode {
	switch {
	case coherence <= 33:
		return modeSampling
	case coherence >= 67:
		return modeChain
	default:
		return modeMixed
	}
}

// sample picks a stored message verbatim, biased toward punctuated material
// when the chat is sassy.
func (g *Generator) sample(ctx context.Context, chatID int64, settings *models.PersonalitySettings) string {
	if settings.Sassiness > 50 && g.randFloat() < float64(settings.Sassiness)/100 {
		sassy, err := g.history.SassyMessages(ctx, chatID, sassyPoolLimit)
		if err != nil {
			g.logger.WithError(err).WithField("chat_id", chatID).Warn("Failed to load sassy messages")
		} else if len(sassy) > 0 {
			return sassy[g.randIntn(len(sassy))]
		}
	}

	text, err := g.history.RandomMessage(ctx, chatID)
	if err != nil {
		g.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to pick random message")
		return ""
	}
	return text
}

// chained tries the context-specific corpus first, then the chat's general
// model, and finally degrades to sampling.
func (g *Generator) chained(ctx context.Context, chatID int64, inputText string, settings *models.PersonalitySettings) string {
	return firstSuccess(
		func() string { return g.fromContextCorpus(ctx, chatID, inputText, settings) },
		func() string { return g.fromGeneralModel(ctx, chatID, settings) },
		func() string { return g.sample(ctx, chatID, settings) },
	)
}

// fromContextCorpus trains a one-off, non-cached model over messages similar
// to the input and generates from it.
func (g *Generator) fromContextCorpus(ctx context.Context, chatID int64, inputText string, settings *models.PersonalitySettings) string {
	if utf8.RuneCountInString(inputText) <= minContextInput {
		return ""
	}

	similar, err := g.history.SimilarMessages(ctx, chatID, inputText, similarLimit)
	if err != nil {
		g.logger.WithError(err).WithField("chat_id", chatID).Warn("Similarity lookup failed")
		return ""
	}
	if len(similar) <= minSimilar {
		return ""
	}

	model := chain.NewModel(settings.ChainOrder)
	if err := model.Train(similar); err != nil {
		g.logger.WithError(err).WithField("chat_id", chatID).Debug("Context corpus training failed")
		return ""
	}

	reply, err := model.Generate(chain.GenerateConfig{
		MaxAttempts: contextAttempts,
		Accept:      acceptable,
	})
	if err != nil {
		return ""
	}
	return reply
}

// fromGeneralModel generates from the chat's cached general model.
func (g *Generator) fromGeneralModel(ctx context.Context, chatID int64, settings *models.PersonalitySettings) string {
	model, err := g.models.GetOrBuild(ctx, chatID, settings.ChainOrder)
	if err != nil {
		g.logger.WithError(err).WithField("chat_id", chatID).Warn("Failed to build general model")
		return ""
	}
	if model == nil {
		return ""
	}

	reply, err := model.Generate(chain.GenerateConfig{
		MaxAttempts: generalAttempts,
		Accept:      acceptable,
	})
	if err != nil {
		return ""
	}
	return reply
}

// flourish appends terminal punctuation to sassy replies that lack it.
func (g *Generator) flourish(reply string, settings *models.PersonalitySettings) string {
	if settings.Sassiness <= 70 || g.randFloat() >= flourishChance {
		return reply
	}
	if terminalPunct.MatchString(reply) {
		return reply
	}
	return reply + flourishes[g.randIntn(len(flourishes))]
}

// acceptable is the shared acceptance filter for generated candidates.
func acceptable(candidate string) bool {
	return len(strings.Fields(candidate)) >= minReplyWords &&
		utf8.RuneCountInString(candidate) <= maxReplyLength
}
