package te

import "fmt"

// AssertTopological panics if order is not topological w.r.t. its own
// deps (debug-time helper, spec.md §4.4).
func AssertTopological(p *Plan) {
	seen := make(map[uint64]struct{}, len(p.Order))
	for _, b := range p.Order {
		for _, d := range b.Deps {
			if _, ok := seen[uint64(d)]; !ok {
				panic(fmt.Sprintf("te: dependency %v not satisfied before block %v", d, b.Id))
			}
		}
		seen[uint64(b.Id)] = struct{}{}
	}
}

// AssertBoundedFanIn panics if any block exceeds maxFanIn dependencies.
// Advisory: TE should generate bounded fan-in by construction; this is
// a last-resort check, not a correctness condition in itself.
func AssertBoundedFanIn(p *Plan, maxFanIn int) {
	for _, b := range p.Order {
		if len(b.Deps) > maxFanIn {
			panic(fmt.Sprintf("te: block %v has fan-in %d > %d", b.Id, len(b.Deps), maxFanIn))
		}
	}
}

// AssertFrontierBound panics if the simulated frontier ever exceeds the
// plan's declared MaxFrontierHint (spec.md §4.4 verification helpers).
func AssertFrontierBound(p *Plan) {
	observed := computeMaxFrontier(p.Order)
	if observed > p.MaxFrontierHint {
		panic(fmt.Sprintf("te: observed frontier %d exceeds declared hint %d", observed, p.MaxFrontierHint))
	}
}
