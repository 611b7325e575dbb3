// Package reputation keeps a 0-100 trust score per source address. Scores
// only ever go down; expiry is owned by an external retention policy.
package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dexra46515/apex-app-shield-sub000/internal/kv"
	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
)

const (
	InitialScore = 50
	MinScore     = 0
	MaxScore     = 100

	keyPrefix  = "rep:"
	maxRetries = 16
)

// ErrStoreWrite is returned when an update could not be committed.
var ErrStoreWrite = errors.New("reputation write failed")

// Record is the reputation state of one address.
type Record struct {
	Address  string          `json:"address"`
	Score    int             `json:"score"`
	LastSeen time.Time       `json:"last_seen"`
	LastRisk threat.Severity `json:"last_risk"`
}

// Penalty is how much one classification at sev costs.
func Penalty(sev threat.Severity) int {
	switch sev {
	case threat.SeverityCritical:
		return 30
	case threat.SeverityHigh:
		return 20
	case threat.SeverityMedium:
		return 10
	}
	return 0
}

func clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Store reads and decrements reputation records in a kv.Store.
type Store struct {
	kv  kv.Store
	now func() time.Time
}

// New returns a Store over backend.
func New(backend kv.Store) *Store {
	return &Store{kv: backend, now: time.Now}
}

func fresh(addr string) Record {
	return Record{Address: addr, Score: InitialScore, LastRisk: threat.SeverityLow}
}

func (s *Store) load(ctx context.Context, addr string) (Record, uint64, error) {
	item, err := s.kv.Load(ctx, keyPrefix+addr)
	if err != nil {
		return Record{}, 0, err
	}
	if item.Version == 0 {
		return fresh(addr), 0, nil
	}
	var rec Record
	if err := json.Unmarshal(item.Value, &rec); err != nil {
		return Record{}, 0, fmt.Errorf("decode reputation %s: %w", addr, err)
	}
	rec.Score = clamp(rec.Score)
	return rec, item.Version, nil
}

// Read returns the record for addr. Unknown addresses get a fresh record
// with the initial score; nothing is written until the next Update.
func (s *Store) Read(ctx context.Context, addr string) (Record, error) {
	rec, _, err := s.load(ctx, addr)
	return rec, err
}

// Update applies the penalty for sev with a compare-and-swap loop so that
// concurrent updates to the same address are never lost.
func (s *Store) Update(ctx context.Context, addr string, sev threat.Severity) (Record, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		rec, version, err := s.load(ctx, addr)
		if err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrStoreWrite, err)
		}
		rec.Score = clamp(rec.Score - Penalty(sev))
		rec.LastSeen = s.now().UTC()
		rec.LastRisk = sev

		data, err := json.Marshal(rec)
		if err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrStoreWrite, err)
		}
		ok, err := s.kv.CompareAndSwap(ctx, keyPrefix+addr, version, data)
		if err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrStoreWrite, err)
		}
		if ok {
			return rec, nil
		}
	}
	return Record{}, fmt.Errorf("%w: %s: too much contention", ErrStoreWrite, addr)
}

// Signal turns a low score into an ip_reputation signal.
func Signal(rec Record) (threat.Signal, bool) {
	switch {
	case rec.Score < 30:
		return threat.Signal{
			Kind:        threat.KindIPReputation,
			Severity:    threat.SeverityCritical,
			Confidence:  90,
			RuleIDs:     []string{"reputation-critical"},
			ShouldBlock: true,
			Detail:      fmt.Sprintf("reputation score %d", rec.Score),
		}, true
	case rec.Score < InitialScore:
		return threat.Signal{
			Kind:       threat.KindIPReputation,
			Severity:   threat.SeverityHigh,
			Confidence: 75,
			RuleIDs:    []string{"reputation-degraded"},
			Detail:     fmt.Sprintf("reputation score %d", rec.Score),
		}, true
	}
	return threat.Signal{}, false
}
