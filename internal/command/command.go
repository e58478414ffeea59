// Package command classifies raw user input into plain chat text or a slash
// command.
package command

import "strings"

// Kind identifies a recognized slash command.
type Kind int

const (
	Unknown Kind = iota
	Join
	Nick
	Me
	DM
	Clear
	Help
)

// Command is a parsed slash command.
type Command struct {
	Kind   Kind
	Arg    string // room for Join, name for Nick, action text for Me
	Target string // recipient nickname for DM
	Text   string // message body for DM
	Raw    string // original input, kept for Unknown
}

// Parse classifies raw input. A nil result means the input is plain chat
// text. Recognized forms that are missing a required argument degrade to
// Unknown rather than erroring.
func Parse(raw string) *Command {
	if !strings.HasPrefix(raw, "/") {
		return nil
	}

	verb, rest, _ := strings.Cut(strings.TrimSpace(raw), " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "/join":
		if rest == "" {
			return unknown(raw)
		}
		return &Command{Kind: Join, Arg: rest, Raw: raw}
	case "/nick":
		if rest == "" {
			return unknown(raw)
		}
		return &Command{Kind: Nick, Arg: rest, Raw: raw}
	case "/me":
		if rest == "" {
			return unknown(raw)
		}
		return &Command{Kind: Me, Arg: rest, Raw: raw}
	case "/dm":
		target, text, _ := strings.Cut(rest, " ")
		text = strings.TrimSpace(text)
		if target == "" || text == "" {
			return unknown(raw)
		}
		return &Command{Kind: DM, Target: target, Text: text, Raw: raw}
	case "/clear":
		if rest != "" {
			return unknown(raw)
		}
		return &Command{Kind: Clear, Raw: raw}
	case "/help":
		if rest != "" {
			return unknown(raw)
		}
		return &Command{Kind: Help, Raw: raw}
	default:
		return unknown(raw)
	}
}

func unknown(raw string) *Command {
	return &Command{Kind: Unknown, Raw: raw}
}

// ExtractPassphrase returns the group passphrase embedded in a nickname after
// its first '#', trimmed of surrounding whitespace. An empty result means the
// nickname carries no passphrase. Pure function, no side effects.
func ExtractPassphrase(nick string) string {
	_, after, found := strings.Cut(nick, "#")
	if !found {
		return ""
	}
	return strings.TrimSpace(after)
}
