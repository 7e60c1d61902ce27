// Package domain contains core concepts of the relay system.
// This file defines Group entities and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"net"
	"strings"
	"time"
)

type GroupID string

// NormalizeGroupID upper-cases and trims a group identifier received on the
// wire. Identifiers are matched case-insensitively everywhere.
func NormalizeGroupID(raw string) GroupID {
	return GroupID(strings.ToUpper(strings.TrimSpace(raw)))
}

// Group is a named, capacity-bounded set of peer addresses. Members receive
// each other's payload broadcasts. The creator address never changes.
type Group struct {
	ID      GroupID
	Creator string

	// EmptySince is set iff the member set is empty. A zero value means
	// the group currently has members.
	EmptySince time.Time

	members map[string]*net.UDPAddr
}

func NewGroup(id GroupID, creator string, now time.Time) *Group {
	return &Group{
		ID:         id,
		Creator:    creator,
		EmptySince: now,
		members:    make(map[string]*net.UDPAddr),
	}
}

func (g *Group) AddMember(addr *net.UDPAddr) {
	g.members[addr.String()] = addr
	g.EmptySince = time.Time{}
}

func (g *Group) RemoveMember(key string, now time.Time) {
	delete(g.members, key)
	g.recomputeEmptySince(now)
}

func (g *Group) HasMember(key string) bool {
	_, ok := g.members[key]
	return ok
}

func (g *Group) MemberCount() int {
	return len(g.members)
}

// Members returns the live member map. Callers must not retain it across
// mutations; the relay owns all access from a single goroutine.
func (g *Group) Members() map[string]*net.UDPAddr {
	return g.members
}

// EmptyLongerThan reports whether the group has had no members since before
// the given cutoff.
func (g *Group) EmptyLongerThan(cutoff time.Time) bool {
	return len(g.members) == 0 && !g.EmptySince.IsZero() && g.EmptySince.Before(cutoff)
}

func (g *Group) recomputeEmptySince(now time.Time) {
	if len(g.members) == 0 {
		if g.EmptySince.IsZero() {
			g.EmptySince = now
		}
	} else {
		g.EmptySince = time.Time{}
	}
}
