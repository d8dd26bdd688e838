package astiavfilter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astikit"
)

var _ astifilter.Plugin = (*LogInterceptor)(nil)

// LogInterceptor redirects libav logs to the pipeline logger. Logs emitted by a graph are
// attached to the context of the node running it.
type LogInterceptor struct {
	c             *astikit.Closer
	ctx           context.Context
	m             sync.Mutex // Locks patterns
	o             LogInterceptorOptions
	p             *astifilter.Pipeline
	patterns      map[string]*logPattern // Indexed by key
	previousLevel *astiav.LogLevel
}

// Logs sharing the same level and format are merged during the buffer period
type logPattern struct {
	count     uint
	createdAt time.Time
	ctx       context.Context
	fmt       string
	key       string
	ll        astikit.LoggerLevel
	written   uint
}

type LogInterceptorOptions struct {
	Level astiav.LogLevel
	// Overrides the default level mapping. When stop is true, the log is dropped.
	LevelFunc func(l astiav.LogLevel) (ll astikit.LoggerLevel, processed, stop bool)
	Merge     LogInterceptorMergeOptions
}

type LogInterceptorMergeOptions struct {
	// Number of logs written for a pattern before the next ones are merged
	AllowedCount uint
	Buffer       time.Duration
}

func NewLogInterceptor(o LogInterceptorOptions) *LogInterceptor {
	return &LogInterceptor{
		o:        o,
		patterns: make(map[string]*logPattern),
	}
}

func (li *LogInterceptor) Metadata() astifilter.Metadata {
	return astifilter.Metadata{Name: "astiavfilter.log_interceptor"}
}

func (li *LogInterceptor) Init(ctx context.Context, c *astikit.Closer, p *astifilter.Pipeline) error {
	// Update plugin
	li.c = c
	li.ctx = ctx
	li.p = p

	// Listen to chains
	p.On(astifilter.EventNameChainCreated, func(payload interface{}) (delete bool) {
		// Assert payload
		ch, ok := payload.(*astifilter.Chain)
		if !ok {
			return
		}

		// Listen to nodes
		ch.On(astifilter.EventNameNodeCreated, func(payload interface{}) (delete bool) {
			if n, ok := payload.(*astifilter.Node); ok {
				logInterceptors.set(n, li)
			}
			return
		})
		ch.On(astifilter.EventNameNodeDestroyed, func(payload interface{}) (delete bool) {
			if n, ok := payload.(*astifilter.Node); ok {
				logInterceptors.del(n)
			}
			return
		})
		return
	})
	return nil
}

func (li *LogInterceptor) Start(ctx context.Context, tc astikit.TaskCreator) {
	// Set log level
	ll := astiav.GetLogLevel()
	li.previousLevel = &ll
	astiav.SetLogLevel(li.o.Level)

	// Set log callback
	astiav.SetLogCallback(li.callback)

	// Make sure interceptor is closed properly
	li.c.Add(li.close)

	// Start merger
	if li.o.Merge.Buffer > 0 {
		tc().Do(func() { astikit.Tick(ctx, li.o.Merge.Buffer/10, li.tick) })
	}
}

func (li *LogInterceptor) close() {
	if li.previousLevel != nil {
		astiav.SetLogLevel(*li.previousLevel)
		li.previousLevel = nil
	}
	astiav.ResetLogCallback()
	li.flush(time.Time{}, true)
}

func (li *LogInterceptor) level(l astiav.LogLevel) (ll astikit.LoggerLevel, prefix string, ok bool) {
	// Custom
	if li.o.LevelFunc != nil {
		var processed, stop bool
		if ll, processed, stop = li.o.LevelFunc(l); stop {
			return
		} else if processed {
			ok = true
			return
		}
	}

	// Default
	ok = true
	switch l {
	case astiav.LogLevelDebug, astiav.LogLevelVerbose:
		ll = astikit.LoggerLevelDebug
	case astiav.LogLevelInfo:
		ll = astikit.LoggerLevelInfo
	case astiav.LogLevelWarning:
		ll = astikit.LoggerLevelWarn
	case astiav.LogLevelError:
		ll = astikit.LoggerLevelError
	case astiav.LogLevelFatal:
		ll, prefix = astikit.LoggerLevelError, "FATAL! "
	case astiav.LogLevelPanic:
		ll, prefix = astikit.LoggerLevelError, "PANIC! "
	default:
		ok = false
	}
	return
}

func (li *LogInterceptor) callback(c astiav.Classer, l astiav.LogLevel, format, msg string) {
	// Nothing to log
	if msg = strings.TrimSpace(msg); msg == "" {
		return
	}

	// Get level
	ll, prefix, ok := li.level(l)
	if !ok {
		return
	}

	// Format may not be exploitable
	if format = strings.TrimSpace(format); format == "%s" {
		format = msg
	}

	// Attach to node
	ctx := li.ctx
	if c != nil {
		if cl := c.Class(); cl != nil {
			msg += ": " + cl.String()
		}
		if n, ok := classers.get(c); ok {
			ctx = n.Context()
		}
	}

	// Write
	li.write(ctx, ll, "libav: "+format, "libav: "+prefix+msg)
}

func (li *LogInterceptor) write(ctx context.Context, ll astikit.LoggerLevel, format, msg string) {
	// Merge
	if li.o.Merge.Buffer > 0 && !li.merge(ctx, ll, format) {
		return
	}

	// Write
	li.p.Logger().WriteC(ctx, ll, msg)
}

func (li *LogInterceptor) merge(ctx context.Context, ll astikit.LoggerLevel, format string) (write bool) {
	// Lock
	li.m.Lock()
	defer li.m.Unlock()

	// Pattern exists
	key := ll.String() + ":" + format
	if p, ok := li.patterns[key]; ok {
		p.count++
		if write = li.o.Merge.AllowedCount > 0 && p.count <= li.o.Merge.AllowedCount; write {
			p.written++
		}
		return
	}

	// Create pattern
	li.patterns[key] = &logPattern{
		count:     1,
		createdAt: astikit.Now(),
		ctx:       ctx,
		fmt:       format,
		key:       key,
		ll:        ll,
		written:   1,
	}
	return true
}

func (li *LogInterceptor) tick(t time.Time) {
	li.flush(t, false)
}

func (li *LogInterceptor) flush(t time.Time, all bool) {
	// Lock
	li.m.Lock()
	defer li.m.Unlock()

	// Loop through patterns
	for _, p := range li.patterns {
		// Buffer period has not been reached
		if !all && t.Sub(p.createdAt) < li.o.Merge.Buffer {
			continue
		}

		// Log merged logs
		switch repeated := p.count - p.written; {
		case repeated > 1:
			li.p.Logger().WriteC(p.ctx, p.ll, fmt.Sprintf("astiavfilter: pattern repeated %d times: %s", repeated, p.fmt))
		case repeated == 1:
			li.p.Logger().WriteC(p.ctx, p.ll, "astiavfilter: pattern repeated once: "+p.fmt)
		}
		delete(li.patterns, p.key)
	}
}

// Logs a warning through the log interceptor handling the node, if any
func warn(n *astifilter.Node, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if li, ok := logInterceptors.get(n); ok {
		li.write(n.Context(), astikit.LoggerLevelWarn, format, msg)
		return
	}
	n.Logger().WarnC(n.Context(), msg)
}

var logInterceptors = newLogInterceptorPool()

type logInterceptorPool struct {
	m sync.Mutex
	p map[*astifilter.Node]*LogInterceptor
}

func newLogInterceptorPool() *logInterceptorPool {
	return &logInterceptorPool{p: make(map[*astifilter.Node]*LogInterceptor)}
}

func (p *logInterceptorPool) set(n *astifilter.Node, li *LogInterceptor) {
	p.m.Lock()
	defer p.m.Unlock()
	p.p[n] = li
}

func (p *logInterceptorPool) del(n *astifilter.Node) {
	p.m.Lock()
	defer p.m.Unlock()
	delete(p.p, n)
}

func (p *logInterceptorPool) get(n *astifilter.Node) (*LogInterceptor, bool) {
	p.m.Lock()
	defer p.m.Unlock()
	li, ok := p.p[n]
	return li, ok
}
