package release

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// IDLayout is the timestamp format of release identifiers
const IDLayout = "20060102150405"

// Planner hands out release identifiers and paths.
//
// Identifiers are the UTC wall clock formatted with IDLayout. When two calls
// resolve to the same second, or the clock moves backwards, the planner keeps
// the last timestamp and appends a counter ("-01", "-02", ...) so identifiers
// stay unique and increasing.
type Planner struct {
	mu      sync.Mutex
	now     func() time.Time
	base    string
	counter int
}

// NewPlanner creates a planner using the system clock
func NewPlanner() *Planner {
	return NewPlannerWithClock(time.Now)
}

// NewPlannerWithClock creates a planner with a custom clock
func NewPlannerWithClock(now func() time.Time) *Planner {
	return &Planner{now: now}
}

// Seed primes the planner with the newest identifier already issued, for
// example the latest release found in history. Invalid identifiers are ignored.
func (p *Planner) Seed(lastID string) {
	base, counter, ok := ParseID(lastID)
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.base == "" || Compare(lastID, p.lastLocked()) > 0 {
		p.base = base
		p.counter = counter
	}
}

// NextID returns a new release identifier
func (p *Planner) NextID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	stamp := p.now().UTC().Format(IDLayout)
	if p.base != "" && stamp <= p.base {
		p.counter++
	} else {
		p.base = stamp
		p.counter = 0
	}

	return p.lastLocked()
}

// Plan creates a pending record for a new release of application
func (p *Planner) Plan(application, deployTo, branch string) *Record {
	id := p.NextID()
	return &Record{
		Application: application,
		ReleaseID:   id,
		ReleasePath: NewLayout(deployTo).ReleasePath(id),
		Branch:      branch,
		Status:      StatusPending,
		StartedAt:   p.now().UTC(),
	}
}

func (p *Planner) lastLocked() string {
	if p.counter == 0 {
		return p.base
	}
	return fmt.Sprintf("%s-%02d", p.base, p.counter)
}

// ParseID splits a release identifier into its timestamp and counter
func ParseID(id string) (string, int, bool) {
	base, suffix, hasSuffix := strings.Cut(id, "-")
	if len(base) != len(IDLayout) {
		return "", 0, false
	}
	if _, err := time.Parse(IDLayout, base); err != nil {
		return "", 0, false
	}
	if !hasSuffix {
		return base, 0, true
	}
	counter, err := strconv.Atoi(suffix)
	if err != nil || counter <= 0 {
		return "", 0, false
	}
	return base, counter, true
}

// IsID reports whether name looks like a release identifier
func IsID(name string) bool {
	_, _, ok := ParseID(name)
	return ok
}

// Compare orders release identifiers chronologically.
// Unparseable identifiers sort before valid ones and among themselves by name.
func Compare(a, b string) int {
	baseA, counterA, okA := ParseID(a)
	baseB, counterB, okB := ParseID(b)

	switch {
	case !okA && !okB:
		return strings.Compare(a, b)
	case !okA:
		return -1
	case !okB:
		return 1
	}

	if c := strings.Compare(baseA, baseB); c != 0 {
		return c
	}
	switch {
	case counterA < counterB:
		return -1
	case counterA > counterB:
		return 1
	}
	return 0
}
