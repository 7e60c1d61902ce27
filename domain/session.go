package domain

import (
	"net"
	"time"
)

// Session tracks a client known to the server, keyed by its transport
// address. No separate identity is issued: the address is the identity.
// A session only exists once the address has successfully joined a group.
type Session struct {
	Addr         *net.UDPAddr
	Group        GroupID
	LastActivity time.Time
}

func NewSession(addr *net.UDPAddr, group GroupID, now time.Time) *Session {
	return &Session{Addr: addr, Group: group, LastActivity: now}
}

func (s *Session) Touch(now time.Time) {
	s.LastActivity = now
}

// IdleLongerThan reports whether the session has seen no activity since
// before the given cutoff.
func (s *Session) IdleLongerThan(cutoff time.Time) bool {
	return s.LastActivity.Before(cutoff)
}
