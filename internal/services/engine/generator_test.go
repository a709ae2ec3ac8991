package engine

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markov-tgbot-go/internal/models"
	"github.com/markov-tgbot-go/internal/services/chain"
)

// script replays queued random values, failing loudly when one is missing.
type script struct {
	t      *testing.T
	floats []float64
	ints   []int
}

func (s *script) float() float64 {
	require.NotEmpty(s.t, s.floats, "unexpected randFloat call")
	v := s.floats[0]
	s.floats = s.floats[1:]
	return v
}

func (s *script) intn(n int) int {
	require.NotEmpty(s.t, s.ints, "unexpected randIntn call")
	v := s.ints[0]
	s.ints = s.ints[1:]
	return v % n
}

func newTestGenerator(history *fakeHistory, settings *models.PersonalitySettings, source ModelSource) *Generator {
	if source == nil {
		source = &fakeModels{}
	}
	return NewGenerator(history, &fakePersonalities{settings: settings}, source, testLogger())
}

func TestGenerate_DeclinesBelowMinimumHistory(t *testing.T) {
	history := &fakeHistory{count: MinMessages - 1, random: "would be a reply"}
	gen := newTestGenerator(history, settingsWith(nil), nil)

	assert.Empty(t, gen.Generate(context.Background(), 1, "hello there", 99))
}

func TestGenerate_SamplingBiasTowardSassy(t *testing.T) {
	history := &fakeHistory{
		count:  25,
		random: "plain stored message",
		sassy:  []string{"what a day!", "really now?"},
	}
	settings := settingsWith(func(s *models.PersonalitySettings) {
		s.Coherence = 0
		s.Sassiness = 90
	})
	gen := newTestGenerator(history, settings, nil)

	r := rand.New(rand.NewSource(1))
	gen.randFloat = r.Float64
	gen.randIntn = r.Intn

	const trials = 1000
	sassyDraws := 0
	for i := 0; i < trials; i++ {
		reply := gen.Generate(context.Background(), 1, "input text", 99)
		require.NotEmpty(t, reply)
		if !strings.HasPrefix(reply, "plain stored message") {
			sassyDraws++
		}
	}

	// The sassy pool should win roughly sassiness/100 of the time.
	ratio := float64(sassyDraws) / trials
	assert.Greater(t, ratio, 0.85)
	assert.Less(t, ratio, 0.95)
}

func TestGenerate_SamplingFallsThroughOnEmptySassyPool(t *testing.T) {
	history := &fakeHistory{
		count:  25,
		random: "plain stored message",
		sassy:  nil,
	}
	settings := settingsWith(func(s *models.PersonalitySettings) {
		s.Coherence = 0
		s.Sassiness = 90
	})
	gen := newTestGenerator(history, settings, nil)

	s := &script{t: t, floats: []float64{0.1, 0.9}} // sassy gate passes, flourish skipped
	gen.randFloat = s.float
	gen.randIntn = s.intn

	assert.Equal(t, "plain stored message", gen.Generate(context.Background(), 1, "input text", 99))
	assert.Equal(t, 1, history.sassyCalls)
	assert.Equal(t, 1, history.randomCalls)
}

func TestGenerate_ChainUsesGeneralModelWhenNoSimilarMessages(t *testing.T) {
	model := chain.NewModel(2)
	require.NoError(t, model.Train([]string{
		"alpha beta gamma delta",
		"beta gamma delta epsilon",
		"gamma delta epsilon zeta",
	}))

	history := &fakeHistory{
		count:   25,
		random:  "sampled fallback message",
		similar: nil, // input shares no vocabulary with stored messages
	}
	settings := settingsWith(func(s *models.PersonalitySettings) {
		s.Coherence = 100
		s.Sassiness = 0
	})
	source := &fakeModels{model: model}
	gen := newTestGenerator(history, settings, source)

	reply := gen.Generate(context.Background(), 1, "totally unrelated words", 99)
	require.NotEmpty(t, reply)
	assert.Equal(t, 1, history.similarCalls, "similarity lookup must run first")
	assert.Equal(t, 1, source.calls, "general model must be consulted")
	assert.NotEqual(t, "sampled fallback message", reply)
}

func TestGenerate_ChainFallsBackToSamplingWithoutModel(t *testing.T) {
	history := &fakeHistory{
		count:  25,
		random: "sampled fallback message",
	}
	settings := settingsWith(func(s *models.PersonalitySettings) {
		s.Coherence = 100
		s.Sassiness = 0
	})
	gen := newTestGenerator(history, settings, &fakeModels{model: nil})

	reply := gen.Generate(context.Background(), 1, "anything at all", 99)
	assert.Equal(t, "sampled fallback message", reply)
}

func TestGenerate_ShortInputSkipsSimilarityLookup(t *testing.T) {
	history := &fakeHistory{
		count:  25,
		random: "sampled fallback message",
	}
	settings := settingsWith(func(s *models.PersonalitySettings) {
		s.Coherence = 100
		s.Sassiness = 0
	})
	gen := newTestGenerator(history, settings, &fakeModels{model: nil})

	gen.Generate(context.Background(), 1, "ok", 99)
	assert.Zero(t, history.similarCalls)
}

func TestGenerate_DiscardsSelfMention(t *testing.T) {
	history := &fakeHistory{
		count:  25,
		random: "hey @99 come look at this",
	}
	settings := settingsWith(func(s *models.PersonalitySettings) {
		s.Coherence = 0
		s.Sassiness = 0
	})
	gen := newTestGenerator(history, settings, nil)

	assert.Empty(t, gen.Generate(context.Background(), 1, "input text", 99))
}

func TestGenerate_FlourishAppendsPunctuation(t *testing.T) {
	history := &fakeHistory{
		count:  25,
		random: "hello world friend",
	}
	settings := settingsWith(func(s *models.PersonalitySettings) {
		s.Coherence = 0
		s.Sassiness = 90
	})
	gen := newTestGenerator(history, settings, nil)

	s := &script{
		t:      t,
		floats: []float64{0.95, 0.1}, // sassy gate fails, flourish roll passes
		ints:   []int{0},             // first flourish: "!"
	}
	gen.randFloat = s.float
	gen.randIntn = s.intn

	assert.Equal(t, "hello world friend!", gen.Generate(context.Background(), 1, "input", 99))
}

func TestGenerate_FlourishSkipsPunctuatedReply(t *testing.T) {
	history := &fakeHistory{
		count:  25,
		random: "hello world friend!!",
	}
	settings := settingsWith(func(s *models.PersonalitySettings) {
		s.Coherence = 0
		s.Sassiness = 90
	})
	gen := newTestGenerator(history, settings, nil)

	s := &script{t: t, floats: []float64{0.95, 0.1}}
	gen.randFloat = s.float
	gen.randIntn = s.intn

	assert.Equal(t, "hello world friend!!", gen.Generate(context.Background(), 1, "input", 99))
}

func TestFirstSuccess(t *testing.T) {
	var thirdCalled bool

	result := firstSuccess(
		func() string { return "" },
		func() string { return "winner" },
		func() string { thirdCalled = true; return "loser" },
	)
	assert.Equal(t, "winner", result)
	assert.False(t, thirdCalled, "later strategies must not run after a success")

	assert.Empty(t, firstSuccess(
		func() string { return "" },
		func() string { return "" },
	))
}
