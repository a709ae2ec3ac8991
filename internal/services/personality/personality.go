package personality

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/markov-tgbot-go/internal/models"
)

// ErrUnknownSetting is returned when a setter names a setting that does not
// exist. The transport layer reports it to the operator.
var ErrUnknownSetting = errors.New("personality: unknown setting")

// fieldSpec maps a public setting name onto its column and value domain.
// Values outside the domain are clamped, not rejected.
type fieldSpec struct {
	column string
	min    int
	max    int
}

var fields = map[string]fieldSpec{
	"laziness":        {column: "laziness", min: 0, max: 100},
	"coherence":       {column: "coherence", min: 0, max: 100},
	"sassiness":       {column: "sassiness", min: 0, max: 100},
	"chain_order":     {column: "chain_order", min: 1, max: 5},
	"silence_minutes": {column: "silence_minutes", min: 1, max: 1440},
}

// SettingNames lists the settings accepted by Set.
func SettingNames() []string {
	return []string{"laziness", "coherence", "sassiness", "chain_order", "silence_minutes"}
}

// Store persists per-chat personality settings.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
	now    func() time.Time
}

// NewStore creates a personality store.
func NewStore(db *sql.DB, logger *logrus.Logger) *Store {
	return &Store{db: db, logger: logger, now: time.Now}
}

// Get returns the chat's settings, falling back to defaults when the chat
// never tuned anything.
func (s *Store) Get(ctx context.Context, chatID int64) (*models.PersonalitySettings, error) {
	settings := models.DefaultPersonality()
	err := s.db.QueryRowContext(ctx, `
		SELECT laziness, coherence, sassiness, chain_order, silence_minutes
		FROM personality_settings WHERE chat_id = ?`, chatID).
		Scan(&settings.Laziness, &settings.Coherence, &settings.Sassiness,
			&settings.ChainOrder, &settings.SilenceMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load personality settings: %w", err)
	}
	return settings, nil
}

// Set validates the setting name, clamps the value to its domain and upserts
// it. It returns the value actually stored. Repeating a write is a no-op.
func (s *Store) Set(ctx context.Context, chatID int64, name string, value int) (int, error) {
	spec, ok := fields[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSetting, name)
	}

	if value < spec.min {
		value = spec.min
	}
	if value > spec.max {
		value = spec.max
	}

	// The column name comes from the allowlist above, never from input.
	query := fmt.Sprintf(`
		INSERT INTO personality_settings (chat_id, %s, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET %s = ?, updated_at = ?`, spec.column, spec.column)

	timestamp := s.now().UnixMilli()
	if _, err := s.db.ExecContext(ctx, query, chatID, value, timestamp, value, timestamp); err != nil {
		return 0, fmt.Errorf("failed to update personality setting: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"setting": name,
		"value":   value,
	}).Info("Personality setting updated")
	return value, nil
}

// Delete removes a chat's settings together with the owning chat's data.
func (s *Store) Delete(ctx context.Context, chatID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM personality_settings WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("failed to delete personality settings: %w", err)
	}
	return nil
}
