package models

import (
	"time"
)

// Message represents one stored chat message used for learning
type Message struct {
	ID             int64
	ChatID         int64
	UserID         int64
	Text           string
	ReplyToID      *int64
	Timestamp      time.Time
	HasQuestion    bool
	HasExclamation bool
	WordCount      int
}

// PersonalitySettings represents per-chat response tuning
type PersonalitySettings struct {
	Laziness       int // 0-100, higher = responds less often
	Coherence      int // 0-100, 0 = verbatim sampling, 100 = chain generation
	Sassiness      int // 0-100, biases toward punctuated source material
	ChainOrder     int // n-gram state size
	SilenceMinutes int // inactivity threshold for the revival boost
}

// DefaultPersonality returns the settings used for chats that never tuned anything
func DefaultPersonality() *PersonalitySettings {
	return &PersonalitySettings{
		Laziness:       50,
		Coherence:      50,
		Sassiness:      50,
		ChainOrder:     2,
		SilenceMinutes: 15,
	}
}
