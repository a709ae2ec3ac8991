package engine

// strategy produces a candidate reply, or "" when it has nothing to offer.
type strategy func() string

// firstSuccess runs strategies in order and returns the first non-empty
// result. It makes the fallback chain explicit and testable in isolation.
func firstSuccess(strategies ...strategy) string {
	for _, s := range strategies {
		if reply := s(); reply != "" {
			return reply
		}
	}
	return ""
}
