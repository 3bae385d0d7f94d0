package irc

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// typingTimeout is how long after the last "active" notification a user is
// still considered typing.
const typingTimeout = 6 * time.Second

// Typing is an event of Name actively typing in Target.
type Typing struct {
	Target string
	Name   string
}

// Typings keeps track of typing notification timeouts.
type Typings struct {
	l       sync.Mutex
	targets map[Typing]time.Time
	stops   chan Typing
	closed  bool
}

func NewTypings() *Typings {
	return &Typings{
		targets: map[Typing]time.Time{},
		stops:   make(chan Typing, 16),
	}
}

func (ts *Typings) Close() {
	ts.l.Lock()
	defer ts.l.Unlock()
	if ts.closed {
		return
	}
	ts.closed = true
	close(ts.stops)
	ts.targets = map[Typing]time.Time{}
}

// Stops is a channel that reports users that have stopped typing.
func (ts *Typings) Stops() <-chan Typing {
	return ts.stops
}

func (ts *Typings) Active(target, name string) {
	ts.l.Lock()
	if ts.closed {
		ts.l.Unlock()
		return
	}
	t := time.Now()
	ts.targets[Typing{target, name}] = t
	ts.l.Unlock()

	go func() {
		time.Sleep(typingTimeout)
		ts.l.Lock()
		defer ts.l.Unlock()
		if ts.closed {
			return
		}
		k := Typing{target, name}
		if stamp, ok := ts.targets[k]; ok && stamp == t {
			delete(ts.targets, k)
			select {
			case ts.stops <- k:
			default:
			}
		}
	}()
}

func (ts *Typings) Done(target, name string) {
	ts.l.Lock()
	defer ts.l.Unlock()
	if ts.closed {
		return
	}
	delete(ts.targets, Typing{target, name})
}

// List returns the names currently typing in target.
func (ts *Typings) List(target string) []string {
	ts.l.Lock()
	defer ts.l.Unlock()
	var res []string
	for t := range ts.targets {
		if t.Target == target {
			res = append(res, t.Name)
		}
	}
	return res
}

// typingStamp is the rate-limiting state of our own outgoing typing
// notifications for one target.
type typingStamp struct {
	Last  time.Time
	Type  int
	Limit *rate.Limiter
}
