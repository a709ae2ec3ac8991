package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"github.com/markov-tgbot-go/internal/config"
	"github.com/markov-tgbot-go/internal/database"
	"github.com/markov-tgbot-go/internal/i18n"
	"github.com/markov-tgbot-go/internal/middleware"
	"github.com/markov-tgbot-go/internal/services/engine"
	"github.com/markov-tgbot-go/internal/services/features"
	"github.com/markov-tgbot-go/internal/services/history"
	"github.com/markov-tgbot-go/internal/services/modelcache"
	"github.com/markov-tgbot-go/internal/services/personality"
)

// testLocalizer stages a minimal catalog in a temp dir and points the
// process there, since catalogs load from a relative path.
func testLocalizer(t *testing.T) *i18n.Localizer {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs", "i18n"), 0o755))
	catalog := `{
		"current_setting": "{{.Setting}} is {{.Value}}",
		"setting_changed": "{{.Setting}} is now {{.Value}}",
		"setting_invalid": "that is not a number",
		"unknown_setting": "no such setting",
		"error": "something broke"
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "i18n", "en.json"), []byte(catalog), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	loc, err := i18n.NewLocalizer(&config.I18nConfig{DefaultLanguage: "en", Languages: []string{"en"}})
	require.NoError(t, err)
	return loc
}

// newTestCommandHandler wires the command handler against a stubbed Telegram
// API server and records every outgoing message text.
func newTestCommandHandler(t *testing.T) (*CommandHandler, *[]string) {
	t.Helper()
	log := testLogger()

	var sent []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			fmt.Fprint(w, `{"ok":true,"result":{"id":500,"is_bot":true,"first_name":"markov"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			sent = append(sent, r.Form.Get("text"))
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":2,"date":1,"chat":{"id":42,"type":"private"}}}`)
		default:
			fmt.Fprint(w, `{"ok":true,"result":true}`)
		}
	}))
	t.Cleanup(srv.Close)

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint("token", srv.URL+"/bot%s/%s")
	require.NoError(t, err)

	db, err := database.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hist := history.NewStore(db, log)
	personalities := personality.NewStore(db, log)

	cfg := &config.Config{}
	cfg.Features.Backend = "memory"
	cfg.I18n.DefaultLanguage = "en"

	toggles, err := features.New(cfg, log)
	require.NoError(t, err)

	metrics := middleware.NewMetrics()
	cache := modelcache.NewCache(hist, metrics, log)
	trigger := engine.NewTrigger(hist, personalities, log)
	loc := testLocalizer(t)

	handler := NewCommandHandler(bot, cfg, hist, personalities, toggles, cache, trigger, fakeLimiter{}, metrics, loc, log)
	return handler, &sent
}

func privateCommand(text string, cmdLen int) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: 7},
		Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}
}

func TestHandleSetting_UnknownSettingName(t *testing.T) {
	handler, sent := newTestCommandHandler(t)

	msg := privateCommand("/charisma 42", len("/charisma"))
	require.NoError(t, handler.handleSetting(context.Background(), msg, "charisma", "en"))

	require.Equal(t, []string{"no such setting"}, *sent)
}

func TestHandleCommand_SettingClampsOutOfRange(t *testing.T) {
	handler, sent := newTestCommandHandler(t)

	msg := privateCommand("/setlaziness 150", len("/setlaziness"))
	require.NoError(t, handler.HandleCommand(context.Background(), msg))

	require.Equal(t, []string{"laziness is now 100"}, *sent)
}
