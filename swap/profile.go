// Profiler records swap-job timings in pprof's sample format. This is the
// one teacher go.mod dependency (github.com/google/pprof/profile) that
// has a real home in this module: the teacher's own kernel packages never
// import it (see DESIGN.md), but "per-job timing samples inspectable with
// go tool pprof" is exactly what the paging subsystem's swap worker and
// direct reclaim need.
package swap

import (
	"io"
	"sync"
	"time"

	"github.com/google/pprof/profile"
)

// Profiler accumulates swap-job duration samples, labeled by job kind.
type Profiler struct {
	mu      sync.Mutex
	fns     map[string]*profile.Function
	locs    map[string]*profile.Location
	samples []*profile.Sample
	nextID  uint64
	started time.Time
}

// NewProfiler returns an empty profiler.
func NewProfiler() *Profiler {
	return &Profiler{
		fns:     make(map[string]*profile.Function),
		locs:    make(map[string]*profile.Location),
		started: time.Time{},
	}
}

// Record adds one sample of kind (e.g. "swapout", "swapin") with duration
// d.
func (p *Profiler) Record(kind string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started.IsZero() {
		p.started = time.Now()
	}
	loc := p.locationFor(kind)
	p.samples = append(p.samples, &profile.Sample{
		Location: []*profile.Location{loc},
		Value:    []int64{1, d.Nanoseconds()},
	})
}

func (p *Profiler) locationFor(kind string) *profile.Location {
	if l, ok := p.locs[kind]; ok {
		return l
	}
	p.nextID++
	fn := &profile.Function{ID: p.nextID, Name: kind, SystemName: kind}
	p.fns[kind] = fn
	p.nextID++
	loc := &profile.Location{
		ID:   p.nextID,
		Line: []profile.Line{{Function: fn}},
	}
	p.locs[kind] = loc
	return loc
}

// Snapshot builds a pprof profile.Profile from the samples recorded so
// far.
func (p *Profiler) Snapshot() *profile.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()

	fns := make([]*profile.Function, 0, len(p.fns))
	for _, f := range p.fns {
		fns = append(fns, f)
	}
	locs := make([]*profile.Location, 0, len(p.locs))
	for _, l := range p.locs {
		locs = append(locs, l)
	}

	return &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "jobs", Unit: "count"},
			{Type: "duration", Unit: "nanoseconds"},
		},
		Sample:   append([]*profile.Sample(nil), p.samples...),
		Function: fns,
		Location: locs,
		PeriodType: &profile.ValueType{
			Type: "swap_job", Unit: "count",
		},
		Period: 1,
	}
}

// Write serializes the current snapshot in pprof's gzip-compressed wire
// format, the same format go tool pprof reads directly.
func (p *Profiler) Write(w io.Writer) error {
	return p.Snapshot().Write(w)
}
