// Package progress reports how far an operation has come as a tree of
// 100-unit budgets. A child owns part of its parent's budget and maps its
// own 100 units onto that share.
package progress

import "sync"

// Total is the budget of every node.
const Total = 100

// Func observes the root: done out of total units are complete.
type Func func(done, total int)

type Progress struct {
	parent *Progress
	share  int
	fn     Func

	mu   sync.Mutex
	done int
}

// New returns a root node. fn may be nil.
func New(fn Func) *Progress {
	return &Progress{fn: fn}
}

// Child returns a node owning share units of p. A nil p yields a detached
// node that reports nowhere.
func (p *Progress) Child(share int) *Progress {
	if p == nil {
		return &Progress{}
	}
	return &Progress{parent: p, share: share}
}

// Add completes n more units, clamped to Total.
func (p *Progress) Add(n int) {
	if p == nil || n <= 0 {
		return
	}

	p.mu.Lock()
	before := p.done
	p.done = min(p.done+n, Total)
	after := p.done
	p.mu.Unlock()

	if after == before {
		return
	}
	if p.parent != nil {
		p.parent.Add(after*p.share/Total - before*p.share/Total)
		return
	}
	if p.fn != nil {
		p.fn(after, Total)
	}
}

// Set moves the node to fraction (0..1) of its budget. It never goes back.
func (p *Progress) Set(fraction float64) {
	if p == nil {
		return
	}
	target := int(fraction * Total)
	p.mu.Lock()
	n := target - p.done
	p.mu.Unlock()
	p.Add(n)
}

// Complete marks the whole budget done.
func (p *Progress) Complete() {
	p.Add(Total)
}

// Done returns the completed units.
func (p *Progress) Done() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}
