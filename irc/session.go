package irc

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/time/rate"
)

type SASLClient interface {
	Handshake() (mech string)
	Respond(challenge string) (res string, err error)
}

type SASLPlain struct {
	Username string
	Password string
}

func (auth *SASLPlain) Handshake() (mech string) {
	mech = "PLAIN"
	return
}

func (auth *SASLPlain) Respond(challenge string) (res string, err error) {
	if challenge != "+" {
		err = errors.New("unexpected challenge")
		return
	}

	user := []byte(auth.Username)
	pass := []byte(auth.Password)
	payload := bytes.Join([][]byte{user, user, pass}, []byte{0})
	res = base64.StdEncoding.EncodeToString(payload)

	return
}

// SupportedCapabilities is the set of capabilities supported by this library.
var SupportedCapabilities = map[string]struct{}{
	"away-notify":      {},
	"batch":            {},
	"cap-notify":       {},
	"echo-message":     {},
	"message-tags":     {},
	"multi-prefix":     {},
	"sasl":             {},
	"server-time":      {},
	"standard-replies": {},

	"draft/metadata-2": {},
	"draft/multiline":  {},
}

// Values taken by the "@+typing=" client tag.  TypingUnspec means the value or
// tag is absent.
const (
	TypingUnspec = iota
	TypingActive
	TypingPaused
	TypingDone
)

// User is a known IRC user.
type User struct {
	Name         *Prefix // the nick, user and hostname of the user if known.
	Away         bool    // whether the user is away or not
	Disconnected bool
}

type ChannelMember struct {
	Membership string
	LastActive time.Time
}

// Channel is a joined channel.
type Channel struct {
	Name      string                  // the name of the channel.
	Members   map[*User]ChannelMember // the set of members associated with their membership.
	Topic     string                  // the topic of the channel, or "" if absent.
	TopicWho  *Prefix                 // the name of the last user who set the topic.
	TopicTime time.Time               // the last time the topic has been changed.

	complete bool // whether this structure is fully initialized.
}

type Metadata struct {
	Pinned bool
	Muted  bool
}

// SessionParams defines how to connect to an IRC server.
type SessionParams struct {
	Nickname string
	Username string
	RealName string

	Auth SASLClient
	// AuthRequired makes any authentication failure terminal: the session
	// emits an AuthErrorEvent and closes instead of continuing registration
	// unauthenticated.
	AuthRequired bool

	Fallback MultilineFallback
}

type Session struct {
	out          chan<- Message
	closed       bool
	registered   bool
	typings      *Typings               // incoming typing notifications.
	typingStamps map[string]typingStamp // user typing instants.

	nick   string
	nickCf string // casemapped nickname.
	user   string
	real   string
	acct   string
	host   string

	auth         SASLClient
	authRequired bool
	fallback     MultilineFallback

	availableCaps map[string]string
	enabledCaps   map[string]struct{}
	metadataSubs  map[string]struct{}
	capEnded      bool

	serverName    string
	networkName   string
	defaultPrefix *Prefix
	// ISUPPORT features
	casemap       func(string) string
	chanmodes     [4]string
	chantypes     string
	linelen       int
	prefixSymbols string
	prefixModes   string

	users     map[string]*User           // known users.
	channels  map[string]Channel         // joined channels.
	metadata  map[string]Metadata        // known target metadata.
	mlBatches map[string]*multilineBatch // multiline batches being reassembled.
	whois     map[string]*whoisRecord    // whois exchanges, in flight or cached.

	pendingChannels map[string]time.Time // set of join requests stamps for channels.

	receivedISupport bool
}

func NewSession(out chan<- Message, params SessionParams) *Session {
	s := &Session{
		out:             out,
		typings:         NewTypings(),
		typingStamps:    map[string]typingStamp{},
		nick:            params.Nickname,
		nickCf:          CasemapASCII(params.Nickname),
		user:            params.Username,
		real:            params.RealName,
		auth:            params.Auth,
		authRequired:    params.AuthRequired,
		fallback:        params.Fallback,
		availableCaps:   map[string]string{},
		enabledCaps:     map[string]struct{}{},
		metadataSubs:    map[string]struct{}{},
		casemap:         CasemapRFC1459,
		chantypes:       "#&",
		linelen:         512,
		prefixSymbols:   "@+",
		prefixModes:     "ov",
		users:           map[string]*User{},
		channels:        map[string]Channel{},
		metadata:        map[string]Metadata{},
		mlBatches:       map[string]*multilineBatch{},
		whois:           map[string]*whoisRecord{},
		pendingChannels: map[string]time.Time{},
	}

	s.send(NewMessage("CAP", "LS", "302"))
	s.send(NewMessage("NICK", s.nick))
	s.send(NewMessage("USER", s.user, "0", "*", s.real))

	return s
}

func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.typings.Close()
	close(s.out)
}

// send queues a message for the server. Once the session is closed, messages
// are dropped: lines may still be handled (or commands issued) after the
// session closed itself on a terminal reply.
func (s *Session) send(msg Message) {
	if s.closed {
		return
	}
	s.out <- msg
}

// CapEnded reports whether the initial capability negotiation has concluded,
// either because CAP END was sent or because registration completed.
func (s *Session) CapEnded() bool {
	return s.capEnded || s.registered
}

// HasCapability reports whether the given capability has been negotiated
// successfully.
func (s *Session) HasCapability(capability string) bool {
	_, ok := s.enabledCaps[capability]
	return ok
}

func (s *Session) Nick() string {
	return s.nick
}

// NickCf is our casemapped nickname.
func (s *Session) NickCf() string {
	return s.nickCf
}

func (s *Session) IsMe(nick string) bool {
	return s.nickCf == s.casemap(nick)
}

func (s *Session) IsChannel(name string) bool {
	return strings.IndexAny(name, s.chantypes) == 0
}

func (s *Session) Casemap(name string) string {
	return s.casemap(name)
}

// Users returns the list of all known nicknames.
func (s *Session) Users() []string {
	users := make([]string, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u.Name.Name)
	}
	return users
}

// Names returns the list of users in the given target, or nil if the target
// is not a known channel or nick in the session.
// The list is sorted according to member name.
func (s *Session) Names(target string) []Member {
	var names []Member
	if s.IsChannel(target) {
		if c, ok := s.channels[s.Casemap(target)]; ok {
			names = make([]Member, 0, len(c.Members))
			for u, m := range c.Members {
				names = append(names, Member{
					PowerLevel:   m.Membership,
					Name:         u.Name.Copy(),
					Away:         u.Away,
					Disconnected: u.Disconnected,
					Self:         s.nickCf == s.casemap(u.Name.Name),
					LastActive:   m.LastActive,
				})
			}
		}
	} else if u, ok := s.users[s.Casemap(target)]; ok {
		names = append(names, Member{
			Name:         u.Name.Copy(),
			Away:         u.Away,
			Disconnected: u.Disconnected,
		})
		names = append(names, Member{
			Name: &Prefix{
				Name: s.nick,
			},
			Self: true,
		})
	}
	sort.Sort(members{
		m:        names,
		prefixes: s.prefixSymbols,
	})
	return names
}

// Typings returns the list of nickname who are currently typing.
func (s *Session) Typings(target string) []string {
	targetCf := s.casemap(target)
	res := s.typings.List(targetCf)
	for i := 0; i < len(res); i++ {
		if s.IsMe(res[i]) {
			res = append(res[:i], res[i+1:]...)
			i--
		} else if u, ok := s.users[res[i]]; ok {
			res[i] = u.Name.Name
		}
	}
	sort.Strings(res)
	return res
}

func (s *Session) TypingStops() <-chan Typing {
	return s.typings.Stops()
}

func (s *Session) ChannelsSharedWith(name string) []string {
	var user *User
	if u, ok := s.users[s.Casemap(name)]; ok && !u.Disconnected {
		user = u
	} else {
		return nil
	}
	var channels []string
	for _, c := range s.channels {
		if _, ok := c.Members[user]; ok {
			channels = append(channels, c.Name)
		}
	}
	return channels
}

func (s *Session) Topic(channel string) (topic string, who *Prefix, at time.Time) {
	channelCf := s.Casemap(channel)
	if c, ok := s.channels[channelCf]; ok {
		topic = c.Topic
		who = c.TopicWho
		at = c.TopicTime
	}
	return
}

func (s *Session) SendRaw(raw string) {
	s.send(NewMessage(raw))
}

func (s *Session) Send(command string, params ...string) {
	s.send(NewMessage(command, params...))
}

func (s *Session) Join(channel, key string) {
	channelCf := s.Casemap(channel)
	s.pendingChannels[channelCf] = time.Now()
	if key == "" {
		s.send(NewMessage("JOIN", channel))
	} else {
		s.send(NewMessage("JOIN", channel, key))
	}
}

func (s *Session) Part(channel, reason string) {
	s.send(NewMessage("PART", channel, reason))
}

func (s *Session) ChangeTopic(channel, topic string) {
	s.send(NewMessage("TOPIC", channel, topic))
}

func (s *Session) Quit(reason string) {
	s.send(NewMessage("QUIT", reason))
}

func (s *Session) ChangeNick(nick string) {
	s.send(NewMessage("NICK", nick))
}

func (s *Session) Who(target string) {
	s.send(NewMessage("WHO", target))
}

func (s *Session) ChangeMode(channel, flags string, args []string) {
	if flags != "" {
		args = append([]string{channel, flags}, args...)
	} else {
		args = append([]string{channel}, args...)
	}
	s.send(NewMessage("MODE", args...))
}

func (s *Session) Away(message string) {
	if message != "" {
		s.send(NewMessage("AWAY", message))
	} else {
		s.send(NewMessage("AWAY"))
	}
}

func (s *Session) Invite(nick, channel string) {
	s.send(NewMessage("INVITE", nick, channel))
}

func (s *Session) Kick(nick, channel, comment string) {
	if comment == "" {
		s.send(NewMessage("KICK", channel, nick))
	} else {
		s.send(NewMessage("KICK", channel, nick, comment))
	}
}

// PrivMsg sends content to target, splitting it as needed to fit the server
// line length, as a multiline batch when the capability was negotiated.
func (s *Session) PrivMsg(target, content string) {
	budget := MessageBudget(s.linelen, s.nick, s.user, s.host, target)
	multiline := s.HasCapability(multilineCap)
	for _, msg := range composeMessage(target, content, budget, multiline, s.fallback) {
		s.send(msg)
	}
	targetCf := s.Casemap(target)
	delete(s.typingStamps, targetCf)
}

func (s *Session) Typing(target string) {
	if !s.HasCapability("message-tags") {
		return
	}
	targetCf := s.casemap(target)
	now := time.Now()
	t, ok := s.typingStamps[targetCf]
	if ok && ((t.Type == TypingActive && now.Sub(t.Last).Seconds() < 3.0) || !t.Limit.Allow()) {
		return
	}
	if !ok {
		t.Limit = rate.NewLimiter(rate.Limit(1.0/3.0), 5)
		t.Limit.Reserve() // will always be OK
	}
	s.typingStamps[targetCf] = typingStamp{
		Last:  now,
		Type:  TypingActive,
		Limit: t.Limit,
	}
	s.send(NewMessage("TAGMSG", target).WithTag("+typing", "active"))
}

func (s *Session) TypingStop(target string) {
	if !s.HasCapability("message-tags") {
		return
	}
	targetCf := s.casemap(target)
	now := time.Now()
	t, ok := s.typingStamps[targetCf]
	if ok && (t.Type == TypingDone || !t.Limit.Allow()) {
		// don't send a +typing=done again if the last typing we sent was a +typing=done
		return
	}
	if !ok {
		t.Limit = rate.NewLimiter(rate.Limit(1), 5)
		t.Limit.Reserve() // will always be OK
	}
	s.typingStamps[targetCf] = typingStamp{
		Last:  now,
		Type:  TypingDone,
		Limit: t.Limit,
	}
	s.send(NewMessage("TAGMSG", target).WithTag("+typing", "done"))
}

func (s *Session) MutedGet(target string) bool {
	return s.metadata[s.Casemap(target)].Muted
}

func (s *Session) MutedSet(target string, muted bool) (ok bool) {
	var v string
	if muted {
		v = "1"
	} else {
		v = "0"
	}
	k := "soju.im/muted"
	if _, ok = s.metadataSubs[k]; ok {
		s.send(NewMessage("METADATA", target, "SET", k, v))
	}
	return
}

func (s *Session) PinnedGet(target string) bool {
	return s.metadata[s.Casemap(target)].Pinned
}

func (s *Session) PinnedSet(target string, pinned bool) (ok bool) {
	var v string
	if pinned {
		v = "1"
	} else {
		v = "0"
	}
	k := "soju.im/pinned"
	if _, ok = s.metadataSubs[k]; ok {
		s.send(NewMessage("METADATA", target, "SET", k, v))
	}
	return
}

func (s *Session) HandleMessage(msg Message) (Event, error) {
	if s.closed {
		return nil, nil
	}
	if msg.Prefix == nil {
		if s.defaultPrefix != nil {
			msg.Prefix = s.defaultPrefix
		} else {
			msg.Prefix = &Prefix{
				Name: "*",
			}
		}
	}
	if s.registered {
		return s.handleRegistered(msg)
	} else {
		return s.handleUnregistered(msg)
	}
}

func (s *Session) handleUnregistered(msg Message) (Event, error) {
	switch msg.Command {
	case errNicknameinuse:
		var nick string
		if err := msg.ParseParams(nil, &nick); err != nil {
			return nil, err
		}

		s.send(NewMessage("NICK", nick+"_"))
	case rplSaslsuccess:
		s.auth = nil
		s.EndRegistration()
	default:
		return s.handleRegistered(msg)
	}
	return nil, nil
}

func (s *Session) handleRegistered(msg Message) (Event, error) {
	if id, ok := msg.Tags["batch"]; ok {
		if b, ok := s.mlBatches[id]; ok {
			switch msg.Command {
			case "PRIVMSG", "NOTICE":
				var content string
				if err := msg.ParseParams(nil, &content); err != nil {
					return nil, err
				}
				if !b.started {
					b.started = true
					b.from = msg.Prefix.Copy()
					b.command = msg.Command
					b.time = msg.TimeOrNow()
				} else if _, ok := msg.Tags[multilineConcatTag]; !ok {
					b.content.WriteByte('\n')
				}
				b.content.WriteString(content)
			}
			return nil, nil
		}
	}
	return s.handleMessageRegistered(msg)
}

func (s *Session) handleMessageRegistered(msg Message) (Event, error) {
	switch msg.Command {
	case "AUTHENTICATE":
		if s.auth == nil {
			break
		}

		var payload string
		if err := msg.ParseParams(&payload); err != nil {
			return nil, err
		}

		res, err := s.auth.Respond(payload)
		if err != nil {
			s.send(NewMessage("AUTHENTICATE", "*"))
		} else {
			s.send(NewMessage("AUTHENTICATE", res))
		}
	case rplLoggedin:
		var nuh string
		if err := msg.ParseParams(nil, &nuh, &s.acct); err != nil {
			return nil, err
		}

		prefix := ParsePrefix(nuh)
		s.user = prefix.User
		s.host = prefix.Host
	case errNicklocked, errSaslfail, errSasltoolong, errSaslaborted, errSaslalready, rplSaslmechs:
		s.auth = nil
		if s.authRequired {
			ev := AuthErrorEvent{
				Code:    msg.Command,
				Message: fmt.Sprintf("Authentication failed: %s", strings.Join(msg.Params[1:], " ")),
			}
			s.Close()
			return ev, nil
		}
		s.EndRegistration()
		return ErrorEvent{
			Severity: SeverityFail,
			Code:     msg.Command,
			Message:  fmt.Sprintf("Registration failed: %s", strings.Join(msg.Params[1:], " ")),
		}, nil
	case rplWelcome:
		s.defaultPrefix = msg.Prefix
		if err := msg.ParseParams(&s.nick); err != nil {
			return nil, err
		}

		s.nickCf = s.Casemap(s.nick)
		s.registered = true
		s.users[s.nickCf] = &User{Name: &Prefix{
			Name: s.nick, User: s.user, Host: s.host,
		}}
		if s.host == "" {
			s.Who(s.nick)
		}
	case rplMyinfo:
		if err := msg.ParseParams(nil, nil, &s.serverName); err != nil {
			return nil, err
		}
	case rplIsupport:
		if len(msg.Params) < 3 {
			return nil, msg.errNotEnoughParams(3)
		}
		s.updateFeatures(msg.Params[1 : len(msg.Params)-1])
		if !s.receivedISupport {
			// notify only on first RPL_ISUPPORT
			s.receivedISupport = true
			return RegisteredEvent{Network: s.networkName}, nil
		}
		return nil, nil
	case rplWhoreply:
		var nick, host, flags, username string
		if err := msg.ParseParams(nil, nil, &username, &host, nil, &nick, &flags, nil); err != nil {
			return nil, err
		}

		nickCf := s.Casemap(nick)
		away := strings.ContainsRune(flags, 'G')

		if s.nickCf == nickCf {
			s.user = username
			s.host = host
		}

		if u, ok := s.users[nickCf]; ok {
			u.Away = away
		}
	case rplEndofwho:
		// do nothing
	case "CAP":
		var subcommand, caps string
		if err := msg.ParseParams(nil, &subcommand); err != nil {
			return nil, err
		}
		moreComing := len(msg.Params) > 3 && msg.Params[2] == "*"
		if moreComing {
			if err := msg.ParseParams(nil, nil, nil, &caps); err != nil {
				return nil, err
			}
		} else {
			if err := msg.ParseParams(nil, nil, &caps); err != nil {
				return nil, err
			}
		}

		switch subcommand {
		case "LS":
			for _, c := range ParseCaps(caps) {
				s.availableCaps[c.Name] = c.Value
			}
			if moreComing {
				break
			}
			s.requestCaps()
			if s.auth != nil {
				if _, ok := s.availableCaps["sasl"]; !ok {
					s.auth = nil
					if s.authRequired {
						ev := AuthErrorEvent{
							Code:    "sasl",
							Message: "Authentication required, but the server does not support SASL",
						}
						s.Close()
						return ev, nil
					}
				}
			}
			if s.auth == nil {
				s.EndRegistration()
			}
		case "ACK":
			for _, c := range ParseCaps(caps) {
				if c.Enable {
					s.enabledCaps[c.Name] = struct{}{}
				} else {
					delete(s.enabledCaps, c.Name)
				}

				if s.auth != nil && c.Name == "sasl" {
					h := s.auth.Handshake()
					s.send(NewMessage("AUTHENTICATE", h))
				} else if len(s.channels) != 0 && c.Name == "multi-prefix" {
					for channel := range s.channels {
						s.send(NewMessage("NAMES", channel))
					}
				}
			}
		case "NAK":
			for _, c := range ParseCaps(caps) {
				if s.auth != nil && c.Name == "sasl" {
					s.auth = nil
					if s.authRequired {
						ev := AuthErrorEvent{
							Code:    "sasl",
							Message: "Authentication required, but the server refused the sasl capability",
						}
						s.Close()
						return ev, nil
					}
					s.EndRegistration()
				}
			}
		case "NEW":
			for _, c := range ParseCaps(caps) {
				s.availableCaps[c.Name] = c.Value
			}
			s.requestCaps()
		case "DEL":
			for _, c := range ParseCaps(caps) {
				delete(s.availableCaps, c.Name)
				delete(s.enabledCaps, c.Name)
			}
		}
	case "JOIN":
		var channel string
		if err := msg.ParseParams(&channel); err != nil {
			return nil, err
		}

		nickCf := s.Casemap(msg.Prefix.Name)
		channelCf := s.Casemap(channel)

		if s.IsMe(nickCf) {
			s.channels[channelCf] = Channel{
				Name:    msg.Params[0],
				Members: map[*User]ChannelMember{},
			}
			if _, ok := s.enabledCaps["away-notify"]; ok {
				// Only try to know who is away if the list is
				// updated by the server via away-notify.
				// Otherwise, it'll become outdated over time.
				s.Who(channel)
			}
		} else if c, ok := s.channels[channelCf]; ok {
			if _, ok := s.users[nickCf]; !ok {
				s.users[nickCf] = &User{Name: msg.Prefix.Copy()}
			}
			c.Members[s.users[nickCf]] = ChannelMember{}
			return UserJoinEvent{
				User:    msg.Prefix.Name,
				Channel: c.Name,
				Time:    msg.TimeOrNow(),
			}, nil
		}
	case "PART":
		var channel string
		if err := msg.ParseParams(&channel); err != nil {
			return nil, err
		}

		nickCf := s.Casemap(msg.Prefix.Name)
		channelCf := s.Casemap(channel)

		if s.IsMe(nickCf) {
			if c, ok := s.channels[channelCf]; ok {
				delete(s.channels, channelCf)
				for u := range c.Members {
					s.cleanUser(u)
				}
				return SelfPartEvent{
					Channel: c.Name,
				}, nil
			}
		} else if c, ok := s.channels[channelCf]; ok {
			if u, ok := s.users[nickCf]; ok {
				delete(c.Members, u)
				s.cleanUser(u)
				s.typings.Done(channelCf, nickCf)
				return UserPartEvent{
					User:    u.Name.Name,
					Channel: c.Name,
					Time:    msg.TimeOrNow(),
				}, nil
			}
		}
	case "KICK":
		var channel, nick string
		if err := msg.ParseParams(&channel, &nick); err != nil {
			return nil, err
		}

		nickCf := s.Casemap(nick)
		channelCf := s.Casemap(channel)

		if s.IsMe(nickCf) {
			if c, ok := s.channels[channelCf]; ok {
				delete(s.channels, channelCf)
				for u := range c.Members {
					s.cleanUser(u)
				}
				return SelfPartEvent{
					Channel: c.Name,
				}, nil
			}
		} else if c, ok := s.channels[channelCf]; ok {
			if u, ok := s.users[nickCf]; ok {
				delete(c.Members, u)
				s.cleanUser(u)
				s.typings.Done(channelCf, nickCf)
				return UserPartEvent{
					User:    nick,
					Channel: c.Name,
					Time:    msg.TimeOrNow(),
				}, nil
			}
		}
	case "QUIT":
		nickCf := s.Casemap(msg.Prefix.Name)

		if u, ok := s.users[nickCf]; ok {
			u.Disconnected = true
			var channels []string
			for channelCf, c := range s.channels {
				if _, ok := c.Members[u]; ok {
					channels = append(channels, c.Name)
					delete(c.Members, u)
					s.cleanUser(u)
					s.typings.Done(channelCf, nickCf)
				}
			}
			return UserQuitEvent{
				User:     u.Name.Name,
				Channels: channels,
				Time:     msg.TimeOrNow(),
			}, nil
		}
	case rplNamreply:
		var channel, names string
		if err := msg.ParseParams(nil, nil, &channel, &names); err != nil {
			return nil, err
		}

		channelCf := s.Casemap(channel)

		if c, ok := s.channels[channelCf]; ok {
			for _, name := range ParseNameReply(names, s.prefixSymbols) {
				nickCf := s.Casemap(name.Name.Name)

				if _, ok := s.users[nickCf]; !ok {
					s.users[nickCf] = &User{Name: name.Name.Copy()}
				}
				m := c.Members[s.users[nickCf]]
				m.Membership = name.PowerLevel
				c.Members[s.users[nickCf]] = m
			}

			s.channels[channelCf] = c
		}
	case rplEndofnames:
		var channel string
		if err := msg.ParseParams(nil, &channel); err != nil {
			return nil, err
		}

		channelCf := s.Casemap(channel)

		if c, ok := s.channels[channelCf]; ok && !c.complete {
			c.complete = true
			s.channels[channelCf] = c
			ev := SelfJoinEvent{
				Channel: c.Name,
				Topic:   c.Topic,
			}
			if stamp, ok := s.pendingChannels[channelCf]; ok && time.Since(stamp) < 5*time.Second {
				ev.Requested = true
			}
			return ev, nil
		}
	case rplTopic:
		var channel, topic string
		if err := msg.ParseParams(nil, &channel, &topic); err != nil {
			return nil, err
		}

		channelCf := s.Casemap(channel)

		if c, ok := s.channels[channelCf]; ok {
			c.Topic = topic
			s.channels[channelCf] = c
		}
	case rplTopicwhotime:
		var channel, topicWho, topicTime string
		if err := msg.ParseParams(nil, &channel, &topicWho, &topicTime); err != nil {
			return nil, err
		}

		channelCf := s.Casemap(channel)

		// ignore the error, we still have topicWho
		t, _ := strconv.ParseInt(topicTime, 10, 64)

		if c, ok := s.channels[channelCf]; ok {
			c.TopicWho = ParsePrefix(topicWho)
			c.TopicTime = time.Unix(t, 0)
			s.channels[channelCf] = c
		}
	case rplNotopic:
		var channel string
		if err := msg.ParseParams(nil, &channel); err != nil {
			return nil, err
		}

		channelCf := s.Casemap(channel)

		if c, ok := s.channels[channelCf]; ok {
			c.Topic = ""
			s.channels[channelCf] = c
		}
	case "TOPIC":
		var channel, topic string
		if err := msg.ParseParams(&channel, &topic); err != nil {
			return nil, err
		}

		channelCf := s.Casemap(channel)

		if c, ok := s.channels[channelCf]; ok {
			c.Topic = topic
			c.TopicWho = msg.Prefix.Copy()
			c.TopicTime = msg.TimeOrNow()
			s.channels[channelCf] = c
			return TopicChangeEvent{
				Channel: c.Name,
				Topic:   c.Topic,
				Time:    msg.TimeOrNow(),
				Who:     msg.Prefix.Name,
			}, nil
		}
	case "MODE":
		var channel string
		if err := msg.ParseParams(&channel, nil); err != nil {
			return nil, err
		}
		mode := strings.Join(msg.Params[1:], " ")

		channelCf := s.Casemap(channel)

		if c, ok := s.channels[channelCf]; ok {
			modeChanges, err := ParseChannelMode(msg.Params[1], msg.Params[2:], s.chanmodes, s.prefixModes)
			if err != nil {
				return nil, err
			}
			for _, change := range modeChanges {
				i := strings.IndexByte(s.prefixModes, change.Mode)
				if i < 0 {
					continue
				}
				nickCf := s.Casemap(change.Param)
				user := s.users[nickCf]
				m, ok := c.Members[user]
				if !ok {
					continue
				}
				m.Membership = UpdateMembership(m.Membership, s.prefixSymbols[i], change.Enable, s.prefixSymbols)
				c.Members[user] = m
			}
			s.channels[channelCf] = c
			return ModeChangeEvent{
				Channel: c.Name,
				Mode:    mode,
				Time:    msg.TimeOrNow(),
			}, nil
		}
	case "AWAY":
		nickCf := s.Casemap(msg.Prefix.Name)

		if u, ok := s.users[nickCf]; ok {
			u.Away = len(msg.Params) == 1
		}
	case "PRIVMSG", "NOTICE":
		if !s.registered && msg.Command == "NOTICE" {
			return nil, nil
		}

		var target string
		if err := msg.ParseParams(&target); err != nil {
			return nil, err
		}

		targetCf := s.casemap(target)
		nickCf := s.casemap(msg.Prefix.Name)
		s.typings.Done(targetCf, nickCf)
		ev, err := s.newMessageEvent(msg)
		if err != nil {
			return nil, err
		}
		if c, ok := s.channels[targetCf]; ok {
			if u, ok := s.users[nickCf]; ok {
				if m, ok := c.Members[u]; ok {
					if ev.Time.After(m.LastActive) {
						m.LastActive = ev.Time
						c.Members[u] = m
					}
				}
			}
		}
		return ev, nil
	case "TAGMSG":
		var target string
		if err := msg.ParseParams(&target); err != nil {
			return nil, err
		}

		targetCf := s.casemap(target)
		nickCf := s.casemap(msg.Prefix.Name)

		if s.IsMe(msg.Prefix.Name) {
			// TAGMSG from self
			break
		}

		if t, ok := msg.Tags["+typing"]; ok {
			switch t {
			case "active":
				s.typings.Active(targetCf, nickCf)
			case "paused", "done":
				s.typings.Done(targetCf, nickCf)
			}
		}
	case "BATCH":
		var id string
		if err := msg.ParseParams(&id); err != nil {
			return nil, err
		}
		if len(id) == 0 {
			return nil, fmt.Errorf("empty batch id")
		}

		batchStart := id[0] == '+'
		id = id[1:]

		if batchStart {
			var name string
			if err := msg.ParseParams(nil, &name); err != nil {
				return nil, err
			}

			switch name {
			case multilineCap:
				var target string
				if err := msg.ParseParams(nil, nil, &target); err != nil {
					return nil, err
				}

				s.mlBatches[id] = &multilineBatch{target: target}
			}
		} else if b, ok := s.mlBatches[id]; ok {
			delete(s.mlBatches, id)
			if !b.started {
				return nil, nil
			}
			ev := MessageEvent{
				User:    b.from.Name,
				Target:  b.target,
				Command: b.command,
				Content: b.content.String(),
				Time:    b.time,
			}
			targetCf := s.Casemap(b.target)
			if c, ok := s.channels[targetCf]; ok {
				ev.Target = c.Name
				ev.TargetIsChannel = true
			}
			return ev, nil
		}
	case "NICK":
		var nick string
		if err := msg.ParseParams(&nick); err != nil {
			return nil, err
		}

		nickCf := s.Casemap(msg.Prefix.Name)
		newNick := nick
		newNickCf := s.Casemap(newNick)

		if formerUser, ok := s.users[nickCf]; ok {
			formerUser.Name.Name = newNick
			delete(s.users, nickCf)
			s.users[newNickCf] = formerUser
		} else {
			break
		}

		if s.IsMe(msg.Prefix.Name) {
			s.nick = newNick
			s.nickCf = newNickCf
			return SelfNickEvent{
				FormerNick: msg.Prefix.Name,
			}, nil
		} else {
			return UserNickEvent{
				User:       nick,
				FormerNick: msg.Prefix.Name,
				Time:       msg.TimeOrNow(),
			}, nil
		}
	case "METADATA":
		// METADATA <Target> <Key> <Visibility> <Value>
		if len(msg.Params) < 4 {
			break
		}
		var target, key, value string
		if err := msg.ParseParams(&target, &key, nil, &value); err != nil {
			return nil, err
		}
		targetCf := s.Casemap(target)
		m := s.metadata[targetCf]
		switch key {
		case "soju.im/pinned":
			m.Pinned = value == "1"
		case "soju.im/muted":
			m.Muted = value == "1"
		}
		s.metadata[targetCf] = m
		ev := MetadataChangeEvent{
			Target: target,
			Pinned: m.Pinned,
			Muted:  m.Muted,
		}
		return ev, nil
	case rplMetadatasubok:
		if err := msg.ParseParams(nil); err != nil {
			return nil, err
		}
		for _, key := range msg.Params[1:] {
			s.metadataSubs[key] = struct{}{}
		}
		return nil, nil
	case "PING":
		var payload string
		if err := msg.ParseParams(&payload); err != nil {
			return nil, err
		}

		s.send(NewMessage("PONG", payload))
	case "ERROR":
		s.Close()
	case "FAIL", "WARN", "NOTE":
		var severity Severity
		var code string
		if err := msg.ParseParams(nil, &code); err != nil {
			return nil, err
		}

		switch code {
		case "KEY_INVALID": // METADATA SUB failed: ignore
			return nil, nil
		}

		switch msg.Command {
		case "FAIL":
			severity = SeverityFail
		case "WARN":
			severity = SeverityWarn
		case "NOTE":
			severity = SeverityNote
		}

		return ErrorEvent{
			Severity: severity,
			Code:     code,
			Message:  strings.Join(msg.Params[2:], " "),
		}, nil
	case rplWhoisuser, rplWhoisserver, rplWhoisoperator, rplWhoisidle,
		rplWhoischannels, rplWhoisaccount, rplWhoissecure, rplEndofwhois, rplAway:
		return s.handleWhoisReply(msg)
	case rplYourhost, rplCreated:
		// useless connection messages
	case rplMotdstart, rplEndofmotd, errNomotd:
		// useless motd related messages
	case rplHostHidden:
		// useless host message
	case rplUmodeis:
		// user modes on connect
	case rplWhoiskeyvalue, rplKeyvalue, rplKeynotset, rplMetadataunsubok, rplMetadatasubs, rplMetadatasynclater:
		// useless metadata replies
	case rplMotd:
		return InfoEvent{
			Prefix:  "MotD",
			Message: msg.Params[len(msg.Params)-1],
		}, nil
	case rplLuserclient, rplLuserop, rplLuserunknown, rplLuserchannels,
		rplLuserme, rplLocalusers, rplGlobalusers:
		return InfoEvent{
			Prefix:  "Stats",
			Message: strings.Join(msg.Params[1:], " "),
		}, nil
	case rplUnaway:
		return InfoEvent{
			Message: "You are now marked as back from being away",
		}, nil
	case rplNowaway:
		return InfoEvent{
			Message: "You are now marked as away",
		}, nil
	case rplChannelmodeis:
		var channel string
		if err := msg.ParseParams(nil, &channel); err != nil {
			return nil, err
		}
		return InfoEvent{
			Message: fmt.Sprintf("%s has modes %s", channel, strings.Join(msg.Params[2:], " ")),
		}, nil
	default:
		if msg.IsReply() {
			if len(msg.Params) < 2 {
				return nil, msg.errNotEnoughParams(2)
			}
			if msg.Command == errUnknowncommand && msg.Params[1] == "METADATA" {
				// ignore any error in response to unconditional METADATA SUB
				return nil, nil
			}
			return ErrorEvent{
				Severity: ReplySeverity(msg.Command),
				Code:     msg.Command,
				Message:  strings.Join(msg.Params[1:], " "),
			}, nil
		}
	}
	return nil, nil
}

// requestCaps requests every supported capability the server advertises and
// we have not enabled yet, in a single CAP REQ.
func (s *Session) requestCaps() {
	var reqs []string
	for c := range s.availableCaps {
		if _, ok := SupportedCapabilities[c]; !ok {
			continue
		}
		if _, ok := s.enabledCaps[c]; ok {
			continue
		}
		reqs = append(reqs, c)
	}
	if len(reqs) == 0 {
		return
	}
	sort.Strings(reqs)
	s.send(NewMessage("CAP", "REQ", strings.Join(reqs, " ")))
}

func (s *Session) newMessageEvent(msg Message) (ev MessageEvent, err error) {
	var target, content string
	if err := msg.ParseParams(&target, &content); err != nil {
		return ev, err
	}

	ev = MessageEvent{
		User:    msg.Prefix.Name,
		Target:  target,
		Command: msg.Command,
		Content: content,
		Time:    msg.TimeOrNow(),
	}

	targetCf := s.Casemap(target)
	if c, ok := s.channels[targetCf]; ok {
		ev.Target = c.Name
		ev.TargetIsChannel = true
	}

	return ev, nil
}

func (s *Session) cleanUser(parted *User) {
	nameCf := s.Casemap(parted.Name.Name)
	for _, c := range s.channels {
		if _, ok := c.Members[parted]; ok {
			return
		}
	}
	delete(s.users, nameCf)
}

func (s *Session) updateFeatures(features []string) {
	for _, f := range features {
		if f == "" || f == "-" || f == "=" || f == "-=" {
			continue
		}

		var (
			add   bool
			key   string
			value string
		)

		if strings.HasPrefix(f, "-") {
			add = false
			f = f[1:]
		} else {
			add = true
		}

		kv := strings.SplitN(f, "=", 2)
		key = strings.ToUpper(kv[0])
		if len(kv) > 1 {
			value = kv[1]
		}

		if !add {
			// ISUPPORT negations are not supported
			continue
		}

	Switch:
		switch key {
		case "CASEMAPPING":
			switch value {
			case "ascii":
				s.casemap = CasemapASCII
			default:
				s.casemap = CasemapRFC1459
			}
		case "CHANMODES":
			// We only care about the first four params
			types := strings.SplitN(value, ",", 5)
			for i := 0; i < len(types) && i < len(s.chanmodes); i++ {
				s.chanmodes[i] = types[i]
			}
		case "CHANTYPES":
			s.chantypes = value
		case "NETWORK":
			s.networkName = value
		case "LINELEN":
			linelen, err := strconv.Atoi(value)
			if err == nil && linelen != 0 {
				s.linelen = linelen
			}
		case "PREFIX":
			if value == "" {
				s.prefixModes = ""
				s.prefixSymbols = ""
				break Switch
			}
			if len(value)%2 != 0 {
				break Switch
			}
			for i := 0; i < len(value); i++ {
				if unicode.MaxASCII < value[i] {
					break Switch
				}
			}
			numPrefixes := len(value)/2 - 1
			s.prefixModes = value[1 : numPrefixes+1]
			s.prefixSymbols = value[numPrefixes+2:]
		}
	}
}

// EndRegistration completes capability negotiation. It is normally called
// once the initial negotiation settles, but the connection owner may also
// call it to cut negotiation short when the server stalls.
func (s *Session) EndRegistration() {
	if s.registered || s.capEnded {
		return
	}
	s.capEnded = true
	if len(s.enabledCaps) == 0 || s.HasCapability("draft/metadata-2") {
		// Best effort to avoid a round trip: subscribe to metadata if explicitly supported or if CAPs are not yet known
		s.send(NewMessage("METADATA", "*", "SUB", "soju.im/pinned", "soju.im/muted"))
	}
	s.send(NewMessage("CAP", "END"))
}
