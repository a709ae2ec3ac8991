package features

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/markov-tgbot-go/internal/config"
)

// Feature names recognized by the toggle store.
const (
	AutoResponses = "auto_responses"
)

// ErrUnknownFeature is returned when a toggle name is not recognized.
var ErrUnknownFeature = errors.New("unknown feature")

// defaults holds the state of every feature before a chat touches it.
// Unsolicited replies stay off until an admin opts the chat in.
var defaults = map[string]bool{
	AutoResponses: false,
}

// Service stores per-chat feature toggles.
type Service interface {
	IsEnabled(ctx context.Context, chatID int64, feature string) (bool, error)
	Set(ctx context.Context, chatID int64, feature string, enabled bool) error
	Toggle(ctx context.Context, chatID int64, feature string) (bool, error)
}

// New builds the toggle backend named in the configuration.
func New(cfg *config.Config, logger *logrus.Logger) (Service, error) {
	switch cfg.Features.Backend {
	case "redis":
		return newRedisService(cfg, logger)
	case "memory":
		return newMemoryService(logger), nil
	default:
		return nil, fmt.Errorf("unsupported features backend: %s", cfg.Features.Backend)
	}
}

func known(feature string) bool {
	_, ok := defaults[feature]
	return ok
}

// redisService keeps each chat's toggles as a JSON map under one key, so
// toggles survive restarts when the bot runs against a shared Redis.
type redisService struct {
	client *redis.Client
	logger *logrus.Logger
}

func newRedisService(cfg *config.Config, logger *logrus.Logger) (*redisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &redisService{client: client, logger: logger}, nil
}

func (r *redisService) key(chatID int64) string {
	return fmt.Sprintf("features:%d", chatID)
}

func (r *redisService) load(ctx context.Context, chatID int64) (map[string]bool, error) {
	data, err := r.client.Get(ctx, r.key(chatID)).Result()
	if err == redis.Nil {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, err
	}

	toggles := map[string]bool{}
	if err := json.Unmarshal([]byte(data), &toggles); err != nil {
		return nil, err
	}
	return toggles, nil
}

func (r *redisService) IsEnabled(ctx context.Context, chatID int64, feature string) (bool, error) {
	if !known(feature) {
		return false, ErrUnknownFeature
	}

	toggles, err := r.load(ctx, chatID)
	if err != nil {
		return false, err
	}
	if enabled, ok := toggles[feature]; ok {
		return enabled, nil
	}
	return defaults[feature], nil
}

func (r *redisService) Set(ctx context.Context, chatID int64, feature string, enabled bool) error {
	if !known(feature) {
		return ErrUnknownFeature
	}

	toggles, err := r.load(ctx, chatID)
	if err != nil {
		return err
	}
	toggles[feature] = enabled

	data, err := json.Marshal(toggles)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(chatID), data, 0).Err()
}

func (r *redisService) Toggle(ctx context.Context, chatID int64, feature string) (bool, error) {
	enabled, err := r.IsEnabled(ctx, chatID, feature)
	if err != nil {
		return false, err
	}
	if err := r.Set(ctx, chatID, feature, !enabled); err != nil {
		return false, err
	}
	return !enabled, nil
}

// memoryService keeps toggles in-process for single-instance deployments.
type memoryService struct {
	toggles *cache.Cache
	logger  *logrus.Logger
}

func newMemoryService(logger *logrus.Logger) *memoryService {
	return &memoryService{
		toggles: cache.New(cache.NoExpiration, cache.NoExpiration),
		logger:  logger,
	}
}

func (m *memoryService) key(chatID int64, feature string) string {
	return fmt.Sprintf("%d:%s", chatID, feature)
}

func (m *memoryService) IsEnabled(ctx context.Context, chatID int64, feature string) (bool, error) {
	if !known(feature) {
		return false, ErrUnknownFeature
	}
	if val, found := m.toggles.Get(m.key(chatID, feature)); found {
		return val.(bool), nil
	}
	return defaults[feature], nil
}

func (m *memoryService) Set(ctx context.Context, chatID int64, feature string, enabled bool) error {
	if !known(feature) {
		return ErrUnknownFeature
	}
	m.toggles.Set(m.key(chatID, feature), enabled, cache.NoExpiration)
	return nil
}

func (m *memoryService) Toggle(ctx context.Context, chatID int64, feature string) (bool, error) {
	enabled, err := m.IsEnabled(ctx, chatID, feature)
	if err != nil {
		return false, err
	}
	if err := m.Set(ctx, chatID, feature, !enabled); err != nil {
		return false, err
	}
	return !enabled, nil
}
