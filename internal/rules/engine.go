package rules

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/monsw/harmonygate/internal/target"
)

// queueCapacity is the control channel's backpressure knob: senders wait
// when the queue is full rather than dropping updates.
const queueCapacity = 10

// ctrlMsg is the single message shape sent to the owning goroutine:
// reply set means Query, reply nil means Insert.
type ctrlMsg struct {
	host  string
	reply chan<- bool
}

// Engine is the sole owner of a Trie, reachable only through Query/
// Insert, which are serialized onto one channel so a Query never
// observes a partially applied Insert.
type Engine struct {
	ch       chan ctrlMsg
	excluded map[string]struct{}
	log      *zap.Logger
	pipeLog  *logrus.Entry
}

// Option configures an Engine at construction time using the
// functional-option pattern.
type Option func(*Engine)

// WithExcludedSuffixes overrides the hard-coded "cn" exclusion with a
// configurable suffix blacklist.
func WithExcludedSuffixes(suffixes ...string) Option {
	return func(e *Engine) {
		e.excluded = make(map[string]struct{}, len(suffixes))
		for _, s := range suffixes {
			e.excluded[s] = struct{}{}
		}
	}
}

// WithLogger overrides the default zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New starts the owning goroutine over an initial trie (possibly empty)
// and returns the Engine handle. The trie itself is never shared outside
// the owning goroutine from this point on.
func New(initial *Trie, opts ...Option) *Engine {
	e := &Engine{
		ch:       make(chan ctrlMsg, queueCapacity),
		excluded: map[string]struct{}{"cn": {}},
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	e.pipeLog = logrus.NewEntry(logrus.StandardLogger())

	if initial == nil {
		initial = &Trie{}
	}
	go e.run(initial)
	return e
}

// NewFromFile loads an optional bootstrap rule file and starts the
// engine over it.
func NewFromFile(path string, opts ...Option) (*Engine, error) {
	if path == "" {
		return New(&Trie{}, opts...), nil
	}
	t, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return New(t, opts...), nil
}

// run is the single owner of trie: every Query and Insert is handled
// here, one at a time, establishing a total order over mutations.
func (e *Engine) run(trie *Trie) {
	for msg := range e.ch {
		if msg.reply != nil {
			msg.reply <- trie.Contains(msg.host, e.excluded)
			continue
		}
		if err := trie.Insert(msg.host); err != nil {
			e.log.Debug("dropping invalid rule", zap.String("host", msg.host), zap.Error(err))
			continue
		}
		e.log.Info("rule inserted", zap.String("host", msg.host))
	}
	// Observing channel closure here is a process-level bug, not a
	// recoverable per-connection error: fail loudly rather than panic.
	e.log.Fatal("rule engine control channel closed unexpectedly")
}

// Query reports whether t is matched by the ruleset. Non-hostname
// targets always return false without a channel round trip.
func (e *Engine) Query(ctx context.Context, t target.Target) bool {
	if !t.IsHostname() {
		return false
	}
	reply := make(chan bool, 1)
	select {
	case e.ch <- ctrlMsg{host: t.Host(), reply: reply}:
	case <-ctx.Done():
		return false
	}
	select {
	case matched := <-reply:
		return matched
	case <-ctx.Done():
		return false
	}
}

// Insert submits host for idempotent, validated addition. Invalid input
// is logged and dropped by the owning goroutine; Insert itself is
// fire-and-forget and never fails.
func (e *Engine) Insert(ctx context.Context, host string) {
	select {
	case e.ch <- ctrlMsg{host: host}:
	case <-ctx.Done():
	}
}
