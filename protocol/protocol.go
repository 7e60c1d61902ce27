// Package protocol implements the wire format of the relay: the command
// prefix convention, bounded command token extraction and the textual
// replies sent back to clients. It is transport-agnostic and allocation
// conscious; packets are classified without scanning beyond a fixed window.
package protocol

import (
	"udprelay/errors"
)

// Prefix marks a packet as a command. Anything else is an opaque payload.
const Prefix = '!'

// Command tokens. Matching is case-normalized: tokens are upper-cased
// before comparison, so "!join" and "!JOIN" are equivalent.
const (
	CmdCreate = "CREATE"
	CmdJoin   = "JOIN"
	CmdLeave  = "LEAVE"
	CmdPing   = "PING"
	CmdWho    = "WHO"
)

// MaxCommandLength is the longest known command token. Anything longer is
// rejected as unknown without further comparison, which bounds the cost of
// classifying adversarial input.
const MaxCommandLength = len(CmdCreate)

// Command is a parsed command packet: the upper-cased token and the raw
// argument tail (possibly empty).
type Command struct {
	Name string
	Arg  []byte
}

// IsCommand reports whether the packet starts with the command prefix.
func IsCommand(packet []byte) bool {
	return len(packet) > 0 && packet[0] == Prefix
}

// ParseCommand extracts the command token and argument tail from a command
// packet. It scans at most one byte past the longest known command for the
// separator; tokens that cannot fit a known command within that window are
// rejected with ErrUnknownCommand.
func ParseCommand(packet []byte) (Command, error) {
	if !IsCommand(packet) || len(packet) == 1 {
		return Command{}, errors.ErrUnknownCommand
	}

	window := 1 + MaxCommandLength + 1
	if window > len(packet) {
		window = len(packet)
	}

	sep := -1
	for i := 1; i < window; i++ {
		if packet[i] == ' ' {
			sep = i
			break
		}
	}

	if sep == -1 {
		if len(packet)-1 > MaxCommandLength {
			return Command{}, errors.ErrUnknownCommand
		}
		return Command{Name: tokenUpper(packet[1:])}, nil
	}

	if sep-1 > MaxCommandLength {
		return Command{}, errors.ErrUnknownCommand
	}
	return Command{Name: tokenUpper(packet[1:sep]), Arg: packet[sep+1:]}, nil
}

// tokenUpper upper-cases ASCII letters only; command tokens never contain
// multibyte runes worth normalizing.
func tokenUpper(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
