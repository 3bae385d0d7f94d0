package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"git.sr.ht/~delthas/kouhai"
	"git.sr.ht/~delthas/kouhai/irc"
)

func main() {
	var configPath string
	var nickname string
	var debug bool
	flag.StringVar(&configPath, "config", "", "path to the configuration file")
	flag.StringVar(&nickname, "nickname", "", "nick name to use")
	flag.BoolVar(&debug, "debug", false, "print raw protocol data")
	flag.Parse()

	if configPath == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			panic(err)
		}
		configPath = path.Join(configDir, "kouhai", "kouhai.scfg")
	}

	cfg, err := kouhai.LoadConfigFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "no configuration file found at %q\n", configPath)
		} else {
			fmt.Fprintf(os.Stderr, "failed to load the configuration file at %q: %s\n", configPath, err)
		}
		os.Exit(1)
		return
	}
	cfg.Debug = cfg.Debug || debug
	if nickname != "" {
		cfg.Nick = nickname
	}

	app, err := kouhai.NewApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %s\n", err)
		os.Exit(1)
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		<-sigCh
		app.Close()
	}()

	go printEvents(app)
	go readCommands(app)

	app.Run()
}

func printEvents(app *kouhai.App) {
	for ev := range app.Events() {
		line := formatEvent(ev.Event)
		if line == "" {
			continue
		}
		fmt.Printf("%s %s\n", time.Now().Format("15:04:05"), line)
	}
}

func formatEvent(ev interface{}) string {
	switch ev := ev.(type) {
	case kouhai.ConnStatusEvent:
		if ev.Err != nil {
			return fmt.Sprintf("-- %s (%s)", ev.State, ev.Err)
		}
		return fmt.Sprintf("-- %s", ev.State)
	case kouhai.RawEvent:
		if ev.Outgoing {
			return fmt.Sprintf("OUT -- %s", ev.Line)
		}
		return fmt.Sprintf("IN -- %s", ev.Line)
	case irc.RegisteredEvent:
		if ev.Network != "" {
			return fmt.Sprintf("-- connected to %s", ev.Network)
		}
		return "-- connected to the server"
	case irc.SelfNickEvent:
		return fmt.Sprintf("-- you are no longer known as %s", ev.FormerNick)
	case irc.UserNickEvent:
		return fmt.Sprintf("-- %s is now known as %s", ev.FormerNick, ev.User)
	case irc.SelfJoinEvent:
		return fmt.Sprintf("-- joined %s (topic: %s)", ev.Channel, ev.Topic)
	case irc.UserJoinEvent:
		return fmt.Sprintf("-- %s joined %s", ev.User, ev.Channel)
	case irc.SelfPartEvent:
		return fmt.Sprintf("-- left %s", ev.Channel)
	case irc.UserPartEvent:
		return fmt.Sprintf("-- %s left %s", ev.User, ev.Channel)
	case irc.UserQuitEvent:
		return fmt.Sprintf("-- %s quit (%s)", ev.User, strings.Join(ev.Channels, " "))
	case irc.TopicChangeEvent:
		return fmt.Sprintf("-- %s set the topic of %s to: %s", ev.Who, ev.Channel, ev.Topic)
	case irc.ModeChangeEvent:
		return fmt.Sprintf("-- mode change on %s: %s", ev.Channel, ev.Mode)
	case irc.MessageEvent:
		return fmt.Sprintf("%s: <%s> %s", ev.Target, ev.User, strings.ReplaceAll(ev.Content, "\n", "\n    "))
	case irc.MetadataChangeEvent:
		return fmt.Sprintf("-- %s: pinned=%v muted=%v", ev.Target, ev.Pinned, ev.Muted)
	case irc.WhoisEvent:
		return fmt.Sprintf("-- whois %s: %s!%s@%s (%s) on %s, channels: %s",
			ev.Nick, ev.Nick, ev.User, ev.Host, ev.Realname, ev.Server, strings.Join(ev.Channels, " "))
	case irc.InfoEvent:
		if ev.Prefix != "" {
			return fmt.Sprintf("%s -- %s", ev.Prefix, ev.Message)
		}
		return fmt.Sprintf("-- %s", ev.Message)
	case irc.ErrorEvent:
		var head string
		switch ev.Severity {
		case irc.SeverityFail:
			head = "!!"
		case irc.SeverityWarn:
			head = "!"
		default:
			head = "--"
		}
		return fmt.Sprintf("%s [%s] %s", head, ev.Code, ev.Message)
	case irc.AuthErrorEvent:
		return fmt.Sprintf("!! authentication failed [%s] %s", ev.Code, ev.Message)
	case irc.Typing:
		return fmt.Sprintf("-- %s stopped typing in %s", ev.Name, ev.Target)
	default:
		return ""
	}
}

// readCommands reads simple /-commands from standard input and runs them on
// the master network.
func readCommands(app *kouhai.App) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "/join":
			app.Do("", func(s *irc.Session) {
				s.Join(rest, "")
			})
		case "/part":
			app.Do("", func(s *irc.Session) {
				s.Part(rest, "")
			})
		case "/topic":
			channel, topic, _ := strings.Cut(rest, " ")
			if topic == "" {
				app.Do("", func(s *irc.Session) {
					topic, who, at := s.Topic(channel)
					if topic == "" {
						fmt.Printf("%s -- no topic set on %s\n", time.Now().Format("15:04:05"), channel)
						return
					}
					fmt.Printf("%s -- topic of %s: %s (set by %s on %s)\n",
						time.Now().Format("15:04:05"), channel, topic, who, at.Format("2006-01-02 15:04"))
				})
			} else {
				app.Do("", func(s *irc.Session) {
					s.ChangeTopic(channel, topic)
				})
			}
		case "/names":
			app.Do("", func(s *irc.Session) {
				var sb strings.Builder
				for _, m := range s.Names(rest) {
					if sb.Len() > 0 {
						sb.WriteByte(' ')
					}
					sb.WriteString(m.PowerLevel)
					sb.WriteString(m.Name.Name)
				}
				fmt.Printf("%s -- members of %s: %s\n", time.Now().Format("15:04:05"), rest, sb.String())
			})
		case "/nick":
			app.Do("", func(s *irc.Session) {
				s.ChangeNick(rest)
			})
		case "/away":
			app.Do("", func(s *irc.Session) {
				s.Away(rest)
			})
		case "/invite":
			nick, channel, _ := strings.Cut(rest, " ")
			app.Do("", func(s *irc.Session) {
				s.Invite(nick, channel)
			})
		case "/who":
			app.Do("", func(s *irc.Session) {
				s.Who(rest)
			})
		case "/shared":
			app.Do("", func(s *irc.Session) {
				fmt.Printf("%s -- channels shared with %s: %s\n",
					time.Now().Format("15:04:05"), rest, strings.Join(s.ChannelsSharedWith(rest), " "))
			})
		case "/quote":
			app.Do("", func(s *irc.Session) {
				s.SendRaw(rest)
			})
		case "/mode":
			channel, flagArgs, _ := strings.Cut(rest, " ")
			args := strings.Fields(flagArgs)
			var flags string
			if len(args) > 0 {
				flags = args[0]
				args = args[1:]
			}
			app.Do("", func(s *irc.Session) {
				s.ChangeMode(channel, flags, args)
			})
		case "/kick":
			channel, nick, _ := strings.Cut(rest, " ")
			app.Do("", func(s *irc.Session) {
				s.Kick(nick, channel, "")
			})
		case "/whois":
			app.Do("", func(s *irc.Session) {
				if ev := s.Whois(rest); ev != nil {
					fmt.Printf("%s %s\n", time.Now().Format("15:04:05"), formatEvent(*ev))
				}
			})
		case "/pin":
			app.Do("", func(s *irc.Session) {
				s.PinnedSet(rest, !s.PinnedGet(rest))
			})
		case "/mute":
			app.Do("", func(s *irc.Session) {
				s.MutedSet(rest, !s.MutedGet(rest))
			})
		case "/typing":
			target, stop, _ := strings.Cut(rest, " ")
			if stop == "stop" {
				app.TypingStop("", target)
			} else {
				app.Typing("", target)
			}
		case "/msg":
			target, text, _ := strings.Cut(rest, " ")
			// \n sequences become actual line breaks, to exercise
			// multiline messages from a line-based prompt
			text = strings.ReplaceAll(text, "\\n", "\n")
			app.Do("", func(s *irc.Session) {
				s.PrivMsg(target, text)
			})
		case "/disconnect":
			app.Disconnect("")
		case "/connect":
			app.Connect("")
		case "/quit":
			app.Do("", func(s *irc.Session) {
				s.Quit(rest)
			})
			app.Close()
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		}
	}
	app.Close()
}
