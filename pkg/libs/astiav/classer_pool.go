package astiavfilter

import (
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astifilter/pkg/astifilter"
)

// Allows logs emitted by libav to be attached to the node that caused them
var classers = newClasserPool()

type classerPool struct {
	m sync.Mutex
	p map[astiav.Classer]*astifilter.Node
}

func newClasserPool() *classerPool {
	return &classerPool{p: make(map[astiav.Classer]*astifilter.Node)}
}

func (p *classerPool) set(c astiav.Classer, n *astifilter.Node) {
	p.m.Lock()
	defer p.m.Unlock()
	p.p[c] = n
}

func (p *classerPool) del(c astiav.Classer) {
	p.m.Lock()
	defer p.m.Unlock()
	delete(p.p, c)
}

func (p *classerPool) get(c astiav.Classer) (*astifilter.Node, bool) {
	p.m.Lock()
	defer p.m.Unlock()
	n, ok := p.p[c]
	return n, ok
}
