package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/markov-tgbot-go/internal/models"
)

const (
	// DefaultMaxMessages is the per-chat retention cap.
	DefaultMaxMessages = 50000

	// DefaultTrainingLimit bounds the corpus handed to model training.
	DefaultTrainingLimit = 10000

	// frequentWindow is how many recent messages feed the word frequency count.
	frequentWindow = 5000
)

// wordPattern matches letter runs of length >= 3 in lowercased text,
// covering Latin and Cyrillic alphabets.
var wordPattern = regexp.MustCompile(`[a-zа-яё]{3,}`)

// stopWords are excluded from frequency counting.
var stopWords = map[string]struct{}{
	"и": {}, "в": {}, "не": {}, "на": {}, "что": {}, "я": {}, "с": {},
	"это": {}, "как": {}, "по": {}, "но": {}, "а": {},
	"the": {}, "is": {}, "at": {}, "of": {}, "a": {}, "to": {}, "in": {},
}

// Store is the per-chat message history backing both learning and generation.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger

	// mu makes insert plus eviction one critical section so the retention
	// cap check always sees its own insert.
	mu          sync.Mutex
	maxMessages int
	now         func() time.Time
}

// NewStore creates a history store with the default retention cap.
func NewStore(db *sql.DB, logger *logrus.Logger) *Store {
	return &Store{
		db:          db,
		logger:      logger,
		maxMessages: DefaultMaxMessages,
		now:         time.Now,
	}
}

// Save computes derived fields and stores one message, then enforces the
// retention cap. Duplicate (chat, timestamp, user) triples are silently
// ignored. Learning is best effort: callers may drop the error.
func (s *Store) Save(ctx context.Context, msg *models.Message) error {
	if strings.TrimSpace(msg.Text) == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg.HasQuestion = strings.Contains(msg.Text, "?")
	msg.HasExclamation = strings.Contains(msg.Text, "!")
	msg.WordCount = len(strings.Fields(msg.Text))
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages
		(chat_id, user_id, message_text, reply_to_message_id, timestamp, has_question, has_exclamation, word_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ChatID, msg.UserID, msg.Text, msg.ReplyToID, msg.Timestamp.UnixMilli(),
		msg.HasQuestion, msg.HasExclamation, msg.WordCount)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return s.evict(ctx, msg.ChatID)
}

// evict deletes the oldest rows of a chat once the retention cap is exceeded.
func (s *Store) evict(ctx context.Context, chatID int64) error {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&count); err != nil {
		return fmt.Errorf("failed to count messages: %w", err)
	}
	if count <= s.maxMessages {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE chat_id = ?
		AND id NOT IN (
			SELECT id FROM messages WHERE chat_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?
		)`, chatID, chatID, s.maxMessages)
	if err != nil {
		return fmt.Errorf("failed to evict old messages: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"evicted": count - s.maxMessages,
	}).Info("Evicted oldest messages past retention cap")
	return nil
}

// Count returns the number of stored messages for a chat.
func (s *Store) Count(ctx context.Context, chatID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// RandomMessage returns one uniformly random message eligible for sampling,
// or "" when the chat has none.
func (s *Store) RandomMessage(ctx context.Context, chatID int64) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `
		SELECT message_text FROM messages
		WHERE chat_id = ? AND word_count > 2
		ORDER BY RANDOM() LIMIT 1`, chatID).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to pick random message: %w", err)
	}
	return text, nil
}

// SassyMessages returns up to limit random messages carrying a question or
// exclamation mark.
func (s *Store) SassyMessages(ctx context.Context, chatID int64, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_text FROM messages
		WHERE chat_id = ? AND (has_question = 1 OR has_exclamation = 1) AND word_count > 2
		ORDER BY RANDOM() LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sassy messages: %w", err)
	}
	defer rows.Close()
	return scanTexts(rows)
}

// TrainingCorpus returns the most recent limit messages eligible for
// training, newest first. A non-positive limit uses the default.
func (s *Store) TrainingCorpus(ctx context.Context, chatID int64, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultTrainingLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_text FROM messages
		WHERE chat_id = ? AND word_count > 2
		ORDER BY timestamp DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query training corpus: %w", err)
	}
	defer rows.Close()
	return scanTexts(rows)
}

// SimilarMessages returns messages sharing any word with the query text,
// newest first. An empty token set yields an empty result.
func (s *Store) SimilarMessages(ctx context.Context, chatID int64, queryText string, limit int) ([]string, error) {
	tokens := queryTokens(queryText)
	if len(tokens) == 0 {
		return nil, nil
	}

	conditions := make([]string, len(tokens))
	args := make([]interface{}, 0, len(tokens)+2)
	args = append(args, chatID)
	for i, token := range tokens {
		conditions[i] = "LOWER(message_text) LIKE ?"
		args = append(args, "%"+token+"%")
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT message_text FROM messages
		WHERE chat_id = ? AND (%s) AND word_count > 2
		ORDER BY timestamp DESC LIMIT ?`, strings.Join(conditions, " OR "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar messages: %w", err)
	}
	defer rows.Close()
	return scanTexts(rows)
}

// FrequentWords returns the most used words of the last few thousand
// messages, most frequent first. Ties keep first-seen order.
func (s *Store) FrequentWords(ctx context.Context, chatID int64, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_text FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp DESC LIMIT ?`, chatID, frequentWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()
	texts, err := scanTexts(rows)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	var order []string
	for _, text := range texts {
		for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
			if _, skip := stopWords[word]; skip {
				continue
			}
			if counts[word] == 0 {
				order = append(order, word)
			}
			counts[word]++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > limit {
		order = order[:limit]
	}
	return order, nil
}

// LastMessageTime returns the timestamp of the newest stored message, or the
// zero time when the chat has no history.
func (s *Store) LastMessageTime(ctx context.Context, chatID int64) (time.Time, error) {
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM messages WHERE chat_id = ?`, chatID).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query last message time: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(last.Int64), nil
}

// Purge removes every stored message of a chat.
func (s *Store) Purge(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("failed to purge chat history: %w", err)
	}
	s.logger.WithField("chat_id", chatID).Info("Purged chat history")
	return nil
}

// queryTokens splits text into lowercase words longer than two characters.
func queryTokens(text string) []string {
	var tokens []string
	for _, field := range strings.Fields(strings.ToLower(text)) {
		if utf8.RuneCountInString(field) > 2 {
			tokens = append(tokens, field)
		}
	}
	return tokens
}

func scanTexts(rows *sql.Rows) ([]string, error) {
	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("failed to scan message text: %w", err)
		}
		texts = append(texts, text)
	}
	return texts, rows.Err()
}
