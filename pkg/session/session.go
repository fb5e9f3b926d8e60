// Package session holds the per-session document every decision reads and
// mutates: trust and risk scores, the evidence ledger, and the bookkeeping
// used by sunk-cost and unresolved-error detection.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// Event is one entry of a session's evidence ledger.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Target    string    `json:"target,omitempty"`
	Delta     int       `json:"delta"`
	Turn      int       `json:"turn"`
	Time      time.Time `json:"time"`
	Reason    string    `json:"reason,omitempty"`
}

// Axis names the score a ScoreChange applied to.
type Axis string

const (
	AxisTrust Axis = "trust"
	AxisRisk  Axis = "risk"
)

// ScoreChange is one entry of the penalty/reward history.
type ScoreChange struct {
	Axis   Axis      `json:"axis"`
	Kind   string    `json:"kind"`
	Delta  int       `json:"delta"`
	Turn   int       `json:"turn"`
	Time   time.Time `json:"time"`
	Reason string    `json:"reason,omitempty"`
}

// ErrorRecord tracks an error the agent hit and has not yet resolved.
type ErrorRecord struct {
	Signature string    `json:"signature"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Count     int       `json:"count"`
}

// Session is the persisted state of one agent session.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Turn is the highest turn number observed.
	Turn int `json:"turn"`

	Trust     int  `json:"trust"`
	Risk      int  `json:"risk"`
	Escalated bool `json:"escalated"`

	// ContextRatio is the last reported fraction of the context budget used.
	ContextRatio float64 `json:"context_ratio,omitempty"`

	Evidence []Event       `json:"evidence"`
	History  []ScoreChange `json:"history"`

	// LastSeen maps an operation kind to the last turn it was observed.
	LastSeen map[string]int `json:"last_seen"`

	// TargetCounts counts evidence per kind and target, for diminishing returns.
	TargetCounts map[string]int `json:"target_counts"`

	// Approaches counts attempts per approach signature.
	Approaches map[string]int `json:"approaches"`

	Errors map[string]ErrorRecord `json:"errors"`
}

// New returns an empty session created at now.
func New(id string, now time.Time) *Session {
	return &Session{
		ID:           id,
		CreatedAt:    now,
		UpdatedAt:    now,
		Evidence:     []Event{},
		History:      []ScoreChange{},
		LastSeen:     map[string]int{},
		TargetCounts: map[string]int{},
		Approaches:   map[string]int{},
		Errors:       map[string]ErrorRecord{},
	}
}

// ensureMaps repairs nil maps left by documents written by older versions.
func (s *Session) ensureMaps() {
	if s.LastSeen == nil {
		s.LastSeen = map[string]int{}
	}
	if s.TargetCounts == nil {
		s.TargetCounts = map[string]int{}
	}
	if s.Approaches == nil {
		s.Approaches = map[string]int{}
	}
	if s.Errors == nil {
		s.Errors = map[string]ErrorRecord{}
	}
}

// AppendEvent appends e to the evidence ledger. Timestamps never go
// backwards: an event older than the last entry is stamped with the last
// entry's time.
func (s *Session) AppendEvent(e Event) {
	if n := len(s.Evidence); n > 0 && e.Time.Before(s.Evidence[n-1].Time) {
		e.Time = s.Evidence[n-1].Time
	}
	s.Evidence = append(s.Evidence, e)
}

// AppendChange appends c to the score history.
func (s *Session) AppendChange(c ScoreChange) {
	s.History = append(s.History, c)
}

// ObserveTurn records turn as seen, keeping the maximum.
func (s *Session) ObserveTurn(turn int) {
	if turn > s.Turn {
		s.Turn = turn
	}
}

// CountTarget increments and returns the occurrence count of kind on target.
func (s *Session) CountTarget(kind, target string) int {
	s.ensureMaps()
	key := kind + "|" + target
	s.TargetCounts[key]++
	return s.TargetCounts[key]
}

// SeenTarget returns how often evidence of kind was recorded on target.
func (s *Session) SeenTarget(kind, target string) int {
	return s.TargetCounts[kind+"|"+target]
}

// TurnsSince returns how many turns passed since kind was last seen.
// ok is false if kind was never seen.
func (s *Session) TurnsSince(kind string, turn int) (int, bool) {
	last, ok := s.LastSeen[kind]
	if !ok {
		return 0, false
	}
	return turn - last, true
}

// Touch records that kind was observed at turn.
func (s *Session) Touch(kind string, turn int) {
	s.ensureMaps()
	s.LastSeen[kind] = turn
}

// RecordApproach counts an attempt of the approach with the given signature
// and returns the number of attempts so far.
func (s *Session) RecordApproach(signature string) int {
	s.ensureMaps()
	s.Approaches[signature]++
	return s.Approaches[signature]
}

// MaxApproachAttempts returns the attempt count of the most retried approach.
func (s *Session) MaxApproachAttempts() int {
	most := 0
	for _, n := range s.Approaches {
		if n > most {
			most = n
		}
	}
	return most
}

// RecordError notes an occurrence of an unresolved error.
func (s *Session) RecordError(signature string, now time.Time) {
	s.ensureMaps()
	rec, ok := s.Errors[signature]
	if !ok {
		rec = ErrorRecord{Signature: signature, FirstSeen: now}
	}
	rec.LastSeen = now
	rec.Count++
	s.Errors[signature] = rec
}

// ResolveError forgets an error. An empty signature resolves all of them.
func (s *Session) ResolveError(signature string) {
	if signature == "" {
		s.Errors = map[string]ErrorRecord{}
		return
	}
	delete(s.Errors, signature)
}

// UnresolvedErrors returns the errors seen within ttl of now, oldest first.
// Expiry is computed here rather than by a timer; ttl <= 0 keeps all.
func (s *Session) UnresolvedErrors(now time.Time, ttl time.Duration) []ErrorRecord {
	var out []ErrorRecord
	for _, rec := range s.Errors {
		if ttl > 0 && now.Sub(rec.LastSeen) > ttl {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].FirstSeen.Before(out[j].FirstSeen)
		}
		return out[i].Signature < out[j].Signature
	})
	return out
}

// PruneErrors drops error records that expired before now.
func (s *Session) PruneErrors(now time.Time, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	for sig, rec := range s.Errors {
		if now.Sub(rec.LastSeen) > ttl {
			delete(s.Errors, sig)
		}
	}
}

// DocumentName maps a session id onto a store document name. Ids that are
// not safe file names are hashed.
func DocumentName(id string) string {
	if isSafeID(id) {
		return documentPrefix + id
	}
	sum := sha256.Sum256([]byte(id))
	return documentPrefix + "h" + hex.EncodeToString(sum[:16])
}

const documentPrefix = "session-"

func isSafeID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
