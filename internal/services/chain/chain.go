package chain

import (
	"errors"
	"strings"

	"github.com/mb-14/gomarkov"
)

var (
	// ErrEmptyCorpus means the corpus had no line usable for training.
	ErrEmptyCorpus = errors.New("chain: no usable training text")

	// ErrNoResult means no candidate passed the acceptance filter within
	// the attempt budget.
	ErrNoResult = errors.New("chain: no acceptable candidate produced")
)

// maxWalkTokens aborts a token walk that never reaches the end state.
// Accepted replies are capped well below this anyway.
const maxWalkTokens = 64

// GenerateConfig bounds one generation run. Generation is bounded by the
// attempt budget, never by wall-clock time.
type GenerateConfig struct {
	MaxAttempts int
	Accept      func(candidate string) bool
}

// Model is an n-gram chain trained over historical chat messages.
type Model struct {
	chain *gomarkov.Chain
	order int
}

// NewModel creates an untrained chain of the given state size.
func NewModel(order int) *Model {
	if order < 1 {
		order = 1
	}
	return &Model{chain: gomarkov.NewChain(order), order: order}
}

// Order returns the chain's state size.
func (m *Model) Order() int {
	return m.order
}

// Train feeds the corpus into the chain. Lines with fewer than three words
// carry no usable transitions and are skipped.
func (m *Model) Train(corpus []string) error {
	added := 0
	for _, line := range corpus {
		tokens := strings.Fields(line)
		if len(tokens) < 3 {
			continue
		}
		m.chain.Add(tokens)
		added++
	}
	if added == 0 {
		return ErrEmptyCorpus
	}
	return nil
}

// Generate walks the chain until a candidate passes the acceptance filter,
// up to cfg.MaxAttempts times.
func (m *Model) Generate(cfg GenerateConfig) (string, error) {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		candidate, err := m.walk()
		if err != nil {
			continue
		}
		if cfg.Accept == nil || cfg.Accept(candidate) {
			return candidate, nil
		}
	}
	return "", ErrNoResult
}

// walk produces one candidate string from the start state.
func (m *Model) walk() (string, error) {
	tokens := make([]string, 0, m.order+8)
	for i := 0; i < m.order; i++ {
		tokens = append(tokens, gomarkov.StartToken)
	}
	for tokens[len(tokens)-1] != gomarkov.EndToken {
		if len(tokens) > m.order+maxWalkTokens {
			return "", ErrNoResult
		}
		next, err := m.chain.Generate(tokens[len(tokens)-m.order:])
		if err != nil {
			return "", err
		}
		tokens = append(tokens, next)
	}
	return strings.Join(tokens[m.order:len(tokens)-1], " "), nil
}
