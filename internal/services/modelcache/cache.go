package modelcache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/markov-tgbot-go/internal/services/chain"
)

const (
	// modelTTL is how long a trained model stays valid.
	modelTTL = 10 * time.Minute

	// trainingLimit caps how many recent messages feed one build.
	trainingLimit = 10000

	// minCorpus is the smallest corpus worth training on. Below it callers
	// must fall back to sampling.
	minCorpus = 20
)

// CorpusProvider supplies training text for a chat, newest first.
type CorpusProvider interface {
	TrainingCorpus(ctx context.Context, chatID int64, limit int) ([]string, error)
}

// Recorder receives build and cache observations.
type Recorder interface {
	RecordModelCacheHit()
	RecordModelCacheMiss()
	RecordModelBuild(status string, duration time.Duration)
}

// Cache builds and holds one trained chain model per chat.
type Cache struct {
	history CorpusProvider
	metrics Recorder
	logger  *logrus.Logger
	models  *cache.Cache

	// buildMu guards the per-chat build locks so two near-simultaneous
	// cache misses for one chat pay for a single rebuild.
	buildMu sync.Mutex
	builds  map[int64]*sync.Mutex
}

// NewCache creates a model cache backed by the given corpus provider.
func NewCache(history CorpusProvider, metrics Recorder, logger *logrus.Logger) *Cache {
	return &Cache{
		history: history,
		metrics: metrics,
		logger:  logger,
		models:  cache.New(modelTTL, 2*modelTTL),
		builds:  make(map[int64]*sync.Mutex),
	}
}

// GetOrBuild returns the chat's cached model, rebuilding it when expired.
// A nil model with a nil error means the chat lacks training data and the
// caller must fall back to sampling.
func (c *Cache) GetOrBuild(ctx context.Context, chatID int64, order int) (*chain.Model, error) {
	key := strconv.FormatInt(chatID, 10)
	if cached, found := c.models.Get(key); found {
		c.metrics.RecordModelCacheHit()
		return cached.(*chain.Model), nil
	}
	c.metrics.RecordModelCacheMiss()

	lock := c.buildLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	// Re-check under the build lock; a parallel miss may have finished.
	if cached, found := c.models.Get(key); found {
		return cached.(*chain.Model), nil
	}

	start := time.Now()
	model, err := c.build(ctx, chatID, order)
	if err != nil {
		c.metrics.RecordModelBuild("error", time.Since(start))
		return nil, err
	}
	if model == nil {
		c.metrics.RecordModelBuild("insufficient_data", time.Since(start))
		return nil, nil
	}
	c.metrics.RecordModelBuild("ok", time.Since(start))

	c.models.SetDefault(key, model)
	return model, nil
}

func (c *Cache) build(ctx context.Context, chatID int64, order int) (*chain.Model, error) {
	corpus, err := c.history.TrainingCorpus(ctx, chatID, trainingLimit)
	if err != nil {
		return nil, err
	}

	cleaned := make([]string, 0, len(corpus))
	for _, line := range corpus {
		if strings.TrimSpace(line) != "" {
			cleaned = append(cleaned, line)
		}
	}
	if len(cleaned) < minCorpus {
		c.logger.WithFields(logrus.Fields{
			"chat_id": chatID,
			"corpus":  len(cleaned),
		}).Debug("Not enough messages to build chain model")
		return nil, nil
	}

	model := chain.NewModel(order)
	if err := model.Train(cleaned); err != nil {
		// Heterogeneous corpora sometimes carry stray control whitespace;
		// retry once on a normalized copy before giving up.
		normalized := make([]string, 0, len(cleaned))
		for _, line := range cleaned {
			normalized = append(normalized, strings.Join(strings.Fields(line), " "))
		}
		model = chain.NewModel(order)
		if err := model.Train(normalized); err != nil {
			return nil, err
		}
	}

	c.logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"corpus":  len(cleaned),
		"order":   order,
	}).Info("Built chain model")
	return model, nil
}

// Invalidate drops a single chat's cached model.
func (c *Cache) Invalidate(chatID int64) {
	c.models.Delete(strconv.FormatInt(chatID, 10))
}

// InvalidateAll drops every cached model.
func (c *Cache) InvalidateAll() {
	c.models.Flush()
}

func (c *Cache) buildLock(chatID int64) *sync.Mutex {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()
	lock, ok := c.builds[chatID]
	if !ok {
		lock = &sync.Mutex{}
		c.builds[chatID] = lock
	}
	return lock
}
