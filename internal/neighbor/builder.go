package neighbor

import "github.com/san-kum/solvmd/internal/particles"

// Builder decides when the list is rebuilt. A rebuild is considered every
// Every steps once Delay steps have passed since the last build; with Check
// set it only happens if some particle moved more than half the skin.
type Builder struct {
	Cutoff float64
	Skin   float64
	Every  int64
	Delay  int64
	Check  bool

	list      *List
	lastBuild int64

	Builds int
	// Dangerous counts displacement-triggered rebuilds on the first step the
	// schedule allowed. Pairs may have been missed on the steps before.
	Dangerous int
	// MaxDisplacement is the largest distance a particle travelled between
	// two builds.
	MaxDisplacement float64
}

func NewBuilder(cutoff, skin float64, every, delay int64, check bool) *Builder {
	if every < 1 {
		every = 1
	}
	return &Builder{Cutoff: cutoff, Skin: skin, Every: every, Delay: delay, Check: check}
}

// Update returns the list valid for step, rebuilding it if the schedule and
// displacement check call for it. With strict set the schedule is ignored and
// the displacement check alone decides.
func (b *Builder) Update(sys *particles.System, step int64, strict bool) (*List, bool, error) {
	if b.list == nil || b.list.Len() != sys.Len() {
		l, err := Build(sys, b.Cutoff, b.Skin)
		if err != nil {
			return nil, false, err
		}
		b.list = l
		b.lastBuild = step
		b.Builds++
		return l, true, nil
	}

	if !strict {
		if step-b.lastBuild < b.Delay || step%b.Every != 0 {
			return b.list, false, nil
		}
		if !b.Check {
			b.rebuild(sys, step)
			return b.list, true, nil
		}
	}
	if !b.list.NeedsRebuild(sys) {
		return b.list, false, nil
	}
	if !strict && step-b.lastBuild == max(b.Every, b.Delay) {
		b.Dangerous++
	}
	b.rebuild(sys, step)
	return b.list, true, nil
}

func (b *Builder) rebuild(sys *particles.System, step int64) {
	b.MaxDisplacement = max(b.MaxDisplacement, b.list.MaxDisplacement(sys))
	b.list.build(sys)
	b.lastBuild = step
	b.Builds++
}

// Current is the last list built, or nil.
func (b *Builder) Current() *List { return b.list }

// Invalidate forces a full build on the next Update.
func (b *Builder) Invalidate() { b.list = nil }
