package irc

import (
	"fmt"
	"strings"
	"time"
)

// Member is a channel member.
type Member struct {
	// PowerLevel is the set of prefix symbols of the user in the channel,
	// ordered from highest to lowest privilege, e.g. "@+".
	PowerLevel   string
	Name         *Prefix
	Away         bool
	Disconnected bool
	Self         bool
	LastActive   time.Time
}

// members sorts members by power level (according to the server prefix
// order), then by name.
type members struct {
	m        []Member
	prefixes string
}

func (m members) Len() int {
	return len(m.m)
}

func (m members) Less(i, j int) bool {
	pi := m.powerLevel(m.m[i].PowerLevel)
	pj := m.powerLevel(m.m[j].PowerLevel)
	if pi != pj {
		return pi < pj
	}
	return strings.ToLower(m.m[i].Name.Name) < strings.ToLower(m.m[j].Name.Name)
}

func (m members) Swap(i, j int) {
	m.m[i], m.m[j] = m.m[j], m.m[i]
}

func (m members) powerLevel(pl string) int {
	if pl == "" {
		return len(m.prefixes)
	}
	if i := strings.IndexByte(m.prefixes, pl[0]); i >= 0 {
		return i
	}
	return len(m.prefixes)
}

// ParseNameReply parses the last parameter of a RPL_NAMREPLY, according to
// the server prefixes.
func ParseNameReply(trailing string, prefixes string) (names []Member) {
	for _, word := range strings.Split(trailing, " ") {
		if word == "" {
			continue
		}

		name := strings.TrimLeft(word, prefixes)
		names = append(names, Member{
			PowerLevel: word[:len(word)-len(name)],
			Name:       ParsePrefix(name),
		})
	}

	return
}

// UpdateMembership adds or removes a prefix symbol from a membership string.
// The result always lists symbols in the precedence order given by
// prefixSymbols, with no duplicates.
func UpdateMembership(membership string, symbol byte, enable bool, prefixSymbols string) string {
	if i := strings.IndexByte(membership, symbol); i >= 0 {
		if enable {
			return membership
		}
		return membership[:i] + membership[i+1:]
	}
	if !enable {
		return membership
	}
	var sb strings.Builder
	sb.Grow(len(membership) + 1)
	inserted := false
	for i := 0; i < len(membership); i++ {
		if !inserted && precedence(prefixSymbols, symbol) < precedence(prefixSymbols, membership[i]) {
			sb.WriteByte(symbol)
			inserted = true
		}
		sb.WriteByte(membership[i])
	}
	if !inserted {
		sb.WriteByte(symbol)
	}
	return sb.String()
}

func precedence(prefixSymbols string, symbol byte) int {
	if i := strings.IndexByte(prefixSymbols, symbol); i >= 0 {
		return i
	}
	return len(prefixSymbols)
}

// ModeChange is a single mode delta of a MODE command, with the argument it
// consumed if any.
type ModeChange struct {
	Enable bool
	Mode   byte
	Param  string
}

// ParseChannelMode parses a channel MODE command into individual changes.
// chanmodes are the four CHANMODES classes (list, always-argument,
// argument-when-set, no-argument); prefixModes are the membership mode
// letters, which always consume an argument.
func ParseChannelMode(mode string, params []string, chanmodes [4]string, prefixModes string) ([]ModeChange, error) {
	var changes []ModeChange
	enable := true
	for i := 0; i < len(mode); i++ {
		m := mode[i]
		switch m {
		case '+':
			enable = true
		case '-':
			enable = false
		default:
			change := ModeChange{
				Enable: enable,
				Mode:   m,
			}
			var needsParam bool
			if strings.IndexByte(prefixModes, m) >= 0 ||
				strings.IndexByte(chanmodes[0], m) >= 0 ||
				strings.IndexByte(chanmodes[1], m) >= 0 {
				needsParam = true
			} else if strings.IndexByte(chanmodes[2], m) >= 0 {
				needsParam = enable
			}
			if needsParam {
				if len(params) == 0 {
					return nil, fmt.Errorf("missing argument for mode %q", string(m))
				}
				change.Param = params[0]
				params = params[1:]
			}
			changes = append(changes, change)
		}
	}
	return changes, nil
}
