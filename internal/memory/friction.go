package memory

import (
	"fmt"
	"sync"
	"time"
)

// FrictionDetector counts rejection codes per agent session and
// scaffolds a pending memory candidate once a code crosses the
// configured threshold (spec §4.5). Grounded on the teacher's janitor
// "detect problems, create a proposal" shape (`internal/tools/janitor`),
// adapted from a periodic sweep to a per-turn running counter.
type FrictionDetector struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]map[string]int // sessionKey -> denyCode -> count
	scaffolded map[string]map[string]bool // sessionKey -> denyCode -> already scaffolded
	nowFn     func() time.Time
	nextID    func() string
}

// DefaultFrictionThreshold matches the spec's stated default.
const DefaultFrictionThreshold = 3

// NewFrictionDetector creates a detector. threshold<=0 uses the default.
func NewFrictionDetector(threshold int, nextID func() string) *FrictionDetector {
	if threshold <= 0 {
		threshold = DefaultFrictionThreshold
	}
	return &FrictionDetector{
		threshold:  threshold,
		counts:     make(map[string]map[string]int),
		scaffolded: make(map[string]map[string]bool),
		nowFn:      time.Now,
		nextID:     nextID,
	}
}

func sessionKey(runSessionID, workID, agentID string) string {
	return runSessionID + ":" + workID + ":" + agentID
}

// Observe records one occurrence of denyCode for the given agent session.
// When the running count reaches the threshold for the first time, it
// returns a scaffolded pending Record with the trigger code pre-populated
// and EnforcementPayload left nil for human completion; the caller is
// responsible for persisting it into the Store.
func (f *FrictionDetector) Observe(runSessionID, workID, agentID, denyCode string) *Record {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := sessionKey(runSessionID, workID, agentID)
	if f.counts[key] == nil {
		f.counts[key] = make(map[string]int)
	}
	f.counts[key][denyCode]++

	if f.counts[key][denyCode] < f.threshold {
		return nil
	}
	if f.scaffolded[key] == nil {
		f.scaffolded[key] = make(map[string]bool)
	}
	if f.scaffolded[key][denyCode] {
		return nil // already scaffolded for this session+code
	}
	f.scaffolded[key][denyCode] = true

	return &Record{
		ID:              f.nextID(),
		EnforcementType: TypeInformational,
		LifecycleState:  StatePending,
		Provenance: Provenance{
			Source:       "friction",
			CreatedAt:    f.nowFn(),
			RunSessionID: runSessionID,
			WorkID:       workID,
			AgentID:      agentID,
			TriggerCode:  denyCode,
		},
	}
}

// Reset clears all counters, e.g. at session teardown in tests.
func (f *FrictionDetector) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = make(map[string]map[string]int)
	f.scaffolded = make(map[string]map[string]bool)
}

// String is used in log fields.
func (f *FrictionDetector) String() string {
	return fmt.Sprintf("FrictionDetector(threshold=%d)", f.threshold)
}
