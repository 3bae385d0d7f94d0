package irc

import (
	"strconv"
	"strings"
	"time"
)

// whoisTTL is how long a sealed whois record answers lookups without a new
// round trip to the server.
const whoisTTL = 1 * time.Minute

// whoisRecord is a whois exchange being aggregated, or, once sealed by
// RPL_ENDOFWHOIS, a cached result.
type whoisRecord struct {
	ev     WhoisEvent
	sealed time.Time // zero while replies are still expected.
}

// Whois returns the cached whois result for nick if it is fresh enough,
// otherwise it requests one from the server and returns nil. At most one
// request per nick is in flight at a time; the result is delivered as a
// WhoisEvent when the closing reply arrives.
func (s *Session) Whois(nick string) *WhoisEvent {
	nickCf := s.Casemap(nick)
	if r, ok := s.whois[nickCf]; ok {
		if r.sealed.IsZero() {
			// already in flight
			return nil
		}
		if time.Since(r.sealed) < whoisTTL {
			ev := r.ev
			ev.Channels = append([]string(nil), r.ev.Channels...)
			return &ev
		}
	}
	s.whois[nickCf] = &whoisRecord{
		ev: WhoisEvent{Nick: nick},
	}
	s.send(NewMessage("WHOIS", nick))
	return nil
}

// whoisInFlight returns the record currently being aggregated for nick.
func (s *Session) whoisInFlight(nick string) *whoisRecord {
	r, ok := s.whois[s.Casemap(nick)]
	if !ok || !r.sealed.IsZero() {
		return nil
	}
	return r
}

// handleWhoisReply merges one whois numeric into the in-flight record of
// the nick it concerns. RPL_ENDOFWHOIS seals the record and surfaces it.
// Replies for nicks we never asked about are dropped.
func (s *Session) handleWhoisReply(msg Message) (Event, error) {
	var nick string
	if err := msg.ParseParams(nil, &nick); err != nil {
		return nil, err
	}
	r := s.whoisInFlight(nick)
	if r == nil {
		return nil, nil
	}

	switch msg.Command {
	case rplWhoisuser:
		var username, host, realname string
		if err := msg.ParseParams(nil, nil, &username, &host, nil, &realname); err != nil {
			return nil, err
		}
		r.ev.Nick = nick
		r.ev.User = username
		r.ev.Host = host
		r.ev.Realname = realname
	case rplWhoisserver:
		var server, serverInfo string
		if err := msg.ParseParams(nil, nil, &server, &serverInfo); err != nil {
			return nil, err
		}
		r.ev.Server = server
		r.ev.ServerInfo = serverInfo
	case rplWhoisoperator:
		r.ev.Operator = true
	case rplWhoisidle:
		var idleText, signonText string
		if err := msg.ParseParams(nil, nil, &idleText, &signonText); err != nil {
			return nil, err
		}
		if idle, err := strconv.ParseInt(idleText, 10, 64); err == nil {
			r.ev.Idle = time.Duration(idle) * time.Second
		}
		if signon, err := strconv.ParseInt(signonText, 10, 64); err == nil {
			r.ev.Signon = time.Unix(signon, 0)
		}
	case rplWhoischannels:
		var channels string
		if err := msg.ParseParams(nil, nil, &channels); err != nil {
			return nil, err
		}
		for _, channel := range strings.Split(channels, " ") {
			if channel == "" {
				continue
			}
			r.ev.Channels = append(r.ev.Channels, channel)
		}
	case rplWhoisaccount:
		var account string
		if err := msg.ParseParams(nil, nil, &account); err != nil {
			return nil, err
		}
		r.ev.Account = account
	case rplWhoissecure:
		r.ev.Secure = true
	case rplAway:
		var away string
		if err := msg.ParseParams(nil, nil, &away); err != nil {
			return nil, err
		}
		r.ev.Away = away
	case rplEndofwhois:
		r.sealed = time.Now()
		ev := r.ev
		ev.Channels = append([]string(nil), r.ev.Channels...)
		return ev, nil
	}
	return nil, nil
}
