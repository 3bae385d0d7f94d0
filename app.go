package kouhai

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/proxy"

	"git.sr.ht/~delthas/kouhai/irc"
)

const eventChanSize = 1024

// capDelay is how long after connecting capability negotiation may stall
// before registration is forced to end, for servers that never answer
// CAP LS (legacy fallback).
const capDelay = 10 * time.Second

// ConnState is the lifecycle state of one network connection.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	CapNegotiating
	Registering
	Connected
	Reconnecting
	Closed
)

func (cs ConnState) String() string {
	switch cs {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case CapNegotiating:
		return "negotiating capabilities"
	case Registering:
		return "registering"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnStatusEvent reports a connection state change of a network.
type ConnStatusEvent struct {
	NetID string
	State ConnState
	Err   error
}

// RawEvent is a wire line, surfaced only when the debug option is set.
type RawEvent struct {
	Outgoing bool
	Line     string
}

// AppEvent couples an event with the network it originates from.
type AppEvent struct {
	NetID string
	Event interface{}
}

type event struct {
	src     string // network ID
	content interface{}
}

// internal control events, posted to the event loop.
type connecting struct{}
type connErr struct{ err error }
type capDeadline struct{ session *irc.Session }
type disconnect struct{}
type action struct{ f func(s *irc.Session) }

type App struct {
	sessions map[string]*irc.Session // map of network IDs to their current session
	states   map[string]ConnState

	// events MUST NOT be posted to directly; instead, use App.postEvent.
	events chan event
	out    chan AppEvent
	done   chan struct{}

	cfg Config

	networkLock sync.RWMutex        // locks networks
	networks    map[string]struct{} // set of network IDs we want to stay connected to

	lastMessageTime time.Time

	closing atomic.Bool
}

func NewApp(cfg Config) (app *App, err error) {
	if cfg.Addr == "" {
		return nil, errors.New("address is required")
	}
	if cfg.Nick == "" {
		return nil, errors.New("nick is required")
	}
	if cfg.User == "" {
		cfg.User = cfg.Nick
	}
	if cfg.Real == "" {
		cfg.Real = cfg.Nick
	}

	app = &App{
		sessions: map[string]*irc.Session{},
		states:   map[string]ConnState{},
		events:   make(chan event, eventChanSize),
		out:      make(chan AppEvent, eventChanSize),
		done:     make(chan struct{}),
		cfg:      cfg,
		networks: map[string]struct{}{
			"": {}, // add the master network by default
		},
	}

	return
}

// Events is the stream of typed events of all networks. Run closes it when
// the app stops. Consumers must keep draining it.
func (app *App) Events() <-chan AppEvent {
	return app.out
}

func (app *App) Run() {
	go app.ircLoop("")
	app.eventLoop()
}

func (app *App) Close() {
	if !app.closing.CompareAndSwap(false, true) {
		return
	}
	app.networkLock.Lock()
	app.networks = map[string]struct{}{}
	app.networkLock.Unlock()
	close(app.done)
	app.events <- event{ // tell app.eventLoop to stop
		src:     "*",
		content: nil,
	}
	go func() {
		// drain remaining events
		for {
			select {
			case <-app.events:
			default:
				return
			}
		}
	}()
}

// Connect starts maintaining a connection for netID. It is idempotent: a
// network that is already wanted is left alone.
func (app *App) Connect(netID string) {
	app.networkLock.Lock()
	_, ok := app.networks[netID]
	if !ok {
		app.networks[netID] = struct{}{}
	}
	app.networkLock.Unlock()
	if ok {
		return
	}
	go app.ircLoop(netID)
}

// Disconnect stops maintaining a connection for netID, cancelling any retry
// in progress. It is idempotent.
func (app *App) Disconnect(netID string) {
	app.networkLock.Lock()
	delete(app.networks, netID)
	app.networkLock.Unlock()
	app.postEvent(event{
		src:     netID,
		content: disconnect{},
	})
}

// Do schedules f on the event loop with the current session of netID, if
// any. Commands must go through Do so that they observe consistent session
// state.
func (app *App) Do(netID string, f func(s *irc.Session)) {
	app.postEvent(event{
		src:     netID,
		content: action{f: f},
	})
}

// Typing signals that we are composing a message for target, unless typing
// notifications are disabled in the configuration.
func (app *App) Typing(netID, target string) {
	if !app.cfg.Typings {
		return
	}
	app.Do(netID, func(s *irc.Session) {
		s.Typing(target)
	})
}

// TypingStop signals that we stopped composing a message for target without
// sending it.
func (app *App) TypingStop(netID, target string) {
	if !app.cfg.Typings {
		return
	}
	app.Do(netID, func(s *irc.Session) {
		s.TypingStop(target)
	})
}

func (app *App) eventLoop() {
	defer close(app.out)

	for ev := range app.events {
		if !app.handleEvent(ev) {
			return
		}
	}
}

func (app *App) postEvent(ev event) {
	if app.closing.Load() {
		return
	}
	app.events <- ev
}

func (app *App) handleEvent(ev event) bool {
	if ev.src == "*" {
		if ev.content == nil {
			for _, session := range app.sessions {
				session.Close()
			}
			return false
		}
		return true
	}
	app.handleIRCEvent(ev.src, ev.content)
	return true
}

func (app *App) wantsNetwork(netID string) bool {
	if app.closing.Load() {
		return false
	}
	app.networkLock.RLock()
	_, ok := app.networks[netID]
	app.networkLock.RUnlock()
	return ok
}

func (app *App) emit(netID string, ev interface{}) {
	select {
	case app.out <- AppEvent{NetID: netID, Event: ev}:
	case <-app.done:
	}
}

func (app *App) setState(netID string, state ConnState, err error) {
	if app.states[netID] == state && err == nil {
		return
	}
	app.states[netID] = state
	app.emit(netID, ConnStatusEvent{
		NetID: netID,
		State: state,
		Err:   err,
	})
}

// ircLoop maintains a connection to the IRC server by connecting and then
// forwarding IRC events to app.events repeatedly, backing off exponentially
// between attempts.
func (app *App) ircLoop(netID string) {
	var auth irc.SASLClient
	if app.cfg.Password != nil {
		auth = &irc.SASLPlain{
			Username: app.cfg.User,
			Password: *app.cfg.Password,
		}
	}
	params := irc.SessionParams{
		Nickname:     app.cfg.Nick,
		Username:     app.cfg.User,
		RealName:     app.cfg.Real,
		Auth:         auth,
		AuthRequired: app.cfg.AuthRequired,
		Fallback:     app.cfg.Multiline,
	}
	const backoffInit = 2 * time.Second
	const backoffMax = 1 * time.Minute
	var delay time.Duration
	for app.wantsNetwork(netID) {
		if delay > 0 {
			// jitter avoids reconnection stampedes
			time.Sleep(delay + time.Duration(rand.Int63n(int64(delay/2)+1)))
		}
		if !app.wantsNetwork(netID) {
			break
		}
		if delay == 0 {
			delay = backoffInit
		} else {
			delay *= 2
			if delay > backoffMax {
				delay = backoffMax
			}
		}
		conn := app.connect(netID)
		if conn == nil {
			continue
		}
		if !app.wantsNetwork(netID) {
			conn.Close()
			break
		}
		delay = backoffInit

		in, out := irc.ChanInOut(conn)
		if app.cfg.Debug {
			out = app.debugOutputMessages(netID, out)
		}
		session := irc.NewSession(out, params)
		app.postEvent(event{
			src:     netID,
			content: session,
		})
		go func() {
			time.Sleep(capDelay)
			app.postEvent(event{
				src:     netID,
				content: capDeadline{session: session},
			})
		}()
		go func() {
			for stop := range session.TypingStops() {
				app.postEvent(event{
					src:     netID,
					content: stop,
				})
			}
		}()
		for msg := range in {
			if app.cfg.Debug {
				app.postEvent(event{
					src:     netID,
					content: RawEvent{Line: msg.String()},
				})
			}
			app.postEvent(event{
				src:     netID,
				content: msg,
			})
		}
		app.postEvent(event{
			src:     netID,
			content: nil,
		})
	}
}

func (app *App) connect(netID string) net.Conn {
	app.postEvent(event{
		src:     netID,
		content: connecting{},
	})
	conn, err := app.tryConnect()
	if err == nil {
		return conn
	}
	app.postEvent(event{
		src:     netID,
		content: connErr{err: err},
	})
	return nil
}

func (app *App) tryConnect() (conn net.Conn, err error) {
	addr := app.cfg.Addr
	colonIdx := strings.LastIndexByte(addr, ':')
	bracketIdx := strings.LastIndexByte(addr, ']')
	if colonIdx <= bracketIdx {
		// either colonIdx < 0, or the last colon is before a ']' (end
		// of IPv6 address). -> missing port
		if app.cfg.TLS {
			addr += ":6697"
		} else {
			addr += ":6667"
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
	}
	conn, err = proxy.FromEnvironmentUsing(dialer).(proxy.ContextDialer).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect: %v", err)
	}

	if app.cfg.TLS {
		host, _, _ := net.SplitHostPort(addr) // should succeed since net.Dial did.
		conn = tls.Client(conn, &tls.Config{
			ServerName: host,
			NextProtos: []string{"irc"},
		})
		err = conn.(*tls.Conn).HandshakeContext(ctx)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake: %v", err)
		}
	}

	return
}

func (app *App) debugOutputMessages(netID string, out chan<- irc.Message) chan<- irc.Message {
	debugOut := make(chan irc.Message, cap(out))
	go func() {
		for msg := range debugOut {
			const placeholder = "<removed>"
			d := msg
			if msg.Command == "PASS" && len(d.Params) >= 1 {
				d.Params = append([]string{placeholder}, d.Params[1:]...)
			} else if msg.Command == "OPER" && len(d.Params) >= 2 {
				d.Params = append([]string{d.Params[0], placeholder}, d.Params[2:]...)
			} else if msg.Command == "AUTHENTICATE" && len(d.Params) >= 1 {
				switch d.Params[0] {
				case "*", "PLAIN":
				default:
					d.Params = append([]string{placeholder}, d.Params[1:]...)
				}
			}
			app.postEvent(event{
				src: netID,
				content: RawEvent{
					Outgoing: true,
					Line:     d.String(),
				},
			})
			out <- msg
		}
		close(out)
	}()
	return debugOut
}

func (app *App) handleIRCEvent(netID string, ev interface{}) {
	switch content := ev.(type) {
	case nil:
		if s, ok := app.sessions[netID]; ok {
			s.Close()
			delete(app.sessions, netID)
		}
		if app.states[netID] == Closed {
			return
		}
		if app.wantsNetwork(netID) {
			app.setState(netID, Reconnecting, errors.New("connection lost"))
		} else {
			app.setState(netID, Disconnected, nil)
		}
		return
	case connecting:
		app.setState(netID, Connecting, nil)
		return
	case connErr:
		app.setState(netID, Reconnecting, content.err)
		return
	case *irc.Session:
		if s, ok := app.sessions[netID]; ok {
			s.Close()
		}
		if !app.wantsNetwork(netID) {
			delete(app.sessions, netID)
			content.Close()
			return
		}
		app.sessions[netID] = content
		app.setState(netID, CapNegotiating, nil)
		return
	case capDeadline:
		if s, ok := app.sessions[netID]; ok && s == content.session {
			s.EndRegistration()
			if app.states[netID] == CapNegotiating {
				app.setState(netID, Registering, nil)
			}
		}
		return
	case disconnect:
		if s, ok := app.sessions[netID]; ok {
			s.Close()
			delete(app.sessions, netID)
		}
		app.setState(netID, Disconnected, nil)
		return
	case action:
		if s, ok := app.sessions[netID]; ok {
			content.f(s)
		}
		return
	case irc.Typing:
		app.emit(netID, content)
		return
	case RawEvent:
		app.emit(netID, content)
		return
	}

	msg, ok := ev.(irc.Message)
	if !ok {
		panic("unreachable")
	}
	s, ok := app.sessions[netID]
	if !ok {
		// session was torn down while messages were still queued
		return
	}

	// Mutate IRC state
	ircEv, err := s.HandleMessage(msg)
	if err != nil {
		app.emit(netID, irc.ErrorEvent{
			Severity: irc.SeverityWarn,
			Code:     "malformed",
			Message:  fmt.Sprintf("received corrupt message %q: %s", msg.String(), err),
		})
		return
	}
	t := msg.TimeOrNow()
	if t.After(app.lastMessageTime) {
		app.lastMessageTime = t
	}
	if app.states[netID] == CapNegotiating && s.CapEnded() {
		app.setState(netID, Registering, nil)
	}

	switch ircEv := ircEv.(type) {
	case nil:
		return
	case irc.RegisteredEvent:
		for _, channel := range app.cfg.Channels {
			s.Join(channel, "")
		}
		app.setState(netID, Connected, nil)
		app.emit(netID, ircEv)
	case irc.AuthErrorEvent:
		// mandatory authentication failed: stop retrying this network. The
		// session closed itself; drop it so queued lines and commands are
		// ignored rather than handled against a dead session.
		delete(app.sessions, netID)
		app.networkLock.Lock()
		delete(app.networks, netID)
		app.networkLock.Unlock()
		app.setState(netID, Closed, errors.New(ircEv.Message))
		app.emit(netID, ircEv)
	default:
		app.emit(netID, ircEv)
	}
}
