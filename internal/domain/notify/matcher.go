package notify

import "strings"

// Subscription is the matching view of a subscriber's current preferences.
type Subscription struct {
	Active       bool
	WantsSuccess bool
	WantsFailure bool
	ProverFilter string
}

// Event is the matching/rendering view of one stored proof event.
type Event struct {
	Prover      string
	Result      bool
	Timestamp   int64
	BlockNumber uint64
}

// Matches reports whether the event should be delivered to the subscriber.
// Pure and total: inactive subscribers never match; the result-interest gate
// applies next; a non-empty prover filter must be a case-insensitive
// substring of the prover address. A subscriber with neither interest flag
// set matches nothing (a fully muted subscription kept for status queries).
func Matches(sub Subscription, ev Event) bool {
	if !sub.Active {
		return false
	}

	if ev.Result {
		if !sub.WantsSuccess {
			return false
		}
	} else {
		if !sub.WantsFailure {
			return false
		}
	}

	filter := strings.TrimSpace(sub.ProverFilter)
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(ev.Prover), strings.ToLower(filter))
}
