package relay

import (
	"time"
)

// Sweep runs the two maintenance passes: sessions idle beyond three
// heartbeat intervals are evicted, then groups empty beyond the TTL are
// destroyed. Both passes judge against the one `now` snapshot taken by
// the caller, never re-sampled per entry. The event loop calls this
// between packets, so it runs with exclusive access to all state.
func (s *State) Sweep(now time.Time) {
	start := time.Now()

	clientCutoff := now.Add(-3 * s.cfg.SuggestedHeartbeat)
	groupCutoff := now.Add(-s.cfg.EmptyGroupTTL)

	var evicted, expired int

	for key, sess := range s.sessions {
		if !sess.IdleLongerThan(clientCutoff) {
			continue
		}
		delete(s.sessions, key)
		if group, ok := s.groups[sess.Group]; ok {
			group.RemoveMember(key, now)
		}
		evicted++
	}

	for id, group := range s.groups {
		if group.EmptyLongerThan(groupCutoff) {
			s.destroyGroup(id)
			expired++
		}
	}

	if evicted > 0 {
		s.metrics.ClientsEvicted.Add(float64(evicted))
		s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
	if expired > 0 {
		s.metrics.GroupsExpired.Add(float64(expired))
	}
	s.metrics.SweepDuration.Observe(time.Since(start).Seconds())

	if evicted > 0 || expired > 0 {
		s.log.Info("Sweep completed",
			"evicted_clients", evicted,
			"expired_groups", expired,
			"groups", len(s.groups),
			"sessions", len(s.sessions),
		)
	}
}
