package protocol

import (
	"fmt"

	"udprelay/domain"
)

// Error codes carried in "ERR <CODE> <detail>" replies.
const (
	CodeBadCmd      = "BAD_CMD"
	CodeBadArg      = "BAD_ARG"
	CodeNotInGroup  = "NOT_IN_GROUP"
	CodeGroupFull   = "GROUP_FULL"
	CodeClientLimit = "CLIENT_LIMIT"
	CodeTooLarge    = "TOO_LARGE"
)

func ReplyCreated(id domain.GroupID) []byte {
	return []byte("OK CREATED " + string(id))
}

func ReplyJoined(id domain.GroupID) []byte {
	return []byte("OK JOINED " + string(id))
}

func ReplyLeft(id domain.GroupID) []byte {
	return []byte("OK LEFT " + string(id))
}

func ReplyWho(id domain.GroupID, count int) []byte {
	return []byte(fmt.Sprintf("OK WHO %s %d", id, count))
}

// ReplyPong carries the server-suggested heartbeat interval in seconds,
// fixed at millisecond precision.
func ReplyPong(seconds float64) []byte {
	return []byte(fmt.Sprintf("PONG %.3f", seconds))
}

func ReplyErr(code, detail string) []byte {
	return []byte(fmt.Sprintf("ERR %s %s", code, detail))
}
