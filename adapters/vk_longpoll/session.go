package vk_longpoll

import (
	"fmt"
	"time"

	"github.com/jdelaire/vkbot/adapters/vk_api"
)

// State is the session's position in the recovery state machine.
type State int

const (
	// StateActive means server, key and cursor are usable.
	StateActive State = iota
	// StateNegotiating means a getLongPollServer call is pending.
	StateNegotiating
)

func (s State) String() string {
	if s == StateNegotiating {
		return "negotiating"
	}
	return "active"
}

// Outcome classifies a long-poll response.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeHistoryGap (failed=1): use the corrected cursor, keep the key.
	OutcomeHistoryGap
	// OutcomeKeyExpired (failed=2): fetch a new key, keep the cursor.
	OutcomeKeyExpired
	// OutcomeFullyLost (failed=3): fetch a new key and cursor.
	OutcomeFullyLost
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeHistoryGap:
		return "history_gap"
	case OutcomeKeyExpired:
		return "key_expired"
	case OutcomeFullyLost:
		return "fully_lost"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Session is the negotiated long-poll connection. Only the Poller goroutine
// mutates it.
type Session struct {
	Server       string
	Key          string
	Cursor       string
	NegotiatedAt time.Time
	State        State
}

// classify maps a long-poll body to an Outcome. Unknown failure codes and
// bodies missing a required cursor are errors.
func classify(resp *vk_api.LongPollResponse) (Outcome, error) {
	switch resp.Failed {
	case 0:
		if resp.TS == "" {
			return 0, fmt.Errorf("long-poll response without ts")
		}
		return OutcomeOK, nil
	case 1:
		if resp.TS == "" {
			return 0, fmt.Errorf("failed=1 response without ts")
		}
		return OutcomeHistoryGap, nil
	case 2:
		return OutcomeKeyExpired, nil
	case 3:
		return OutcomeFullyLost, nil
	default:
		return 0, fmt.Errorf("unknown long-poll failure code %d", resp.Failed)
	}
}

// advance moves the cursor. Used for successful polls and history gaps.
func (s *Session) advance(cursor string) {
	s.Cursor = cursor
}

// refreshKey installs a renegotiated server and key and keeps the cursor.
func (s *Session) refreshKey(lp *vk_api.LongPollServer, now time.Time) {
	s.Server = lp.Server
	s.Key = lp.Key
	s.NegotiatedAt = now
	s.State = StateActive
}

// reset replaces the whole session with a freshly negotiated one.
func (s *Session) reset(lp *vk_api.LongPollServer, now time.Time) {
	s.Server = lp.Server
	s.Key = lp.Key
	s.Cursor = string(lp.TS)
	s.NegotiatedAt = now
	s.State = StateActive
}
