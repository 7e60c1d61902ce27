package relay

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"udprelay/domain"
	"udprelay/errors"
	"udprelay/observability"
)

// fakeSender records outbound packets per destination and can be told to
// fail sends towards specific peers, simulating gone clients.
type fakeSender struct {
	sent map[string][]string
	fail map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][]string), fail: make(map[string]bool)}
}

func (f *fakeSender) SendTo(addr *net.UDPAddr, packet []byte) error {
	key := addr.String()
	if f.fail[key] {
		return fmt.Errorf("send to %s: peer gone", key)
	}
	f.sent[key] = append(f.sent[key], string(packet))
	return nil
}

func (f *fakeSender) last(key string) string {
	msgs := f.sent[key]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func newTestState(mutate func(*Config)) (*State, *fakeSender) {
	cfg := Config{
		MaxPayload:         4096,
		EmptyGroupTTL:      5 * time.Minute,
		SuggestedHeartbeat: time.Minute,
		MaxGroupSize:       lo.ToPtr(128),
		PerGroupCaps:       map[domain.GroupID]int{},
		MaxGroupsPerClient: 3,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	sender := newFakeSender()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewState(cfg, log, sender, metrics), sender
}

func addr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

// requireConsistent checks the interlocking invariants after a mutation:
// membership and the reverse session index always agree, and the creator
// quota index tracks exactly the live groups.
func requireConsistent(t *testing.T, s *State) {
	t.Helper()
	req := require.New(t)

	for key, sess := range s.sessions {
		group, ok := s.groups[sess.Group]
		req.True(ok, "session %s bound to missing group %s", key, sess.Group)
		req.True(group.HasMember(key), "session %s not in members of %s", key, sess.Group)
	}
	for id, group := range s.groups {
		for key := range group.Members() {
			sess, ok := s.sessions[key]
			req.True(ok, "member %s of %s has no session", key, id)
			req.Equal(id, sess.Group)
		}
	}
	for creator, owned := range s.creatorGroups {
		req.LessOrEqual(len(owned), s.cfg.MaxGroupsPerClient)
		req.NotEmpty(owned)
		for id := range owned {
			group, ok := s.groups[id]
			req.True(ok, "quota index references dead group %s", id)
			req.Equal(creator, group.Creator)
		}
	}
	for id, group := range s.groups {
		req.Contains(s.creatorGroups[group.Creator], id, "group %s missing from creator index", id)
	}
}

func TestCreateGroup_UniqueLiveIDs(t *testing.T) {
	req := require.New(t)
	s, _ := newTestState(func(c *Config) { c.MaxGroupsPerClient = 50 })
	now := time.Now()

	seen := make(map[domain.GroupID]struct{})
	for i := 0; i < 50; i++ {
		id, err := s.CreateGroup(addr(4000), now)
		req.NoError(err)
		req.Len(string(id), domain.GroupIDLength)
		_, dup := seen[id]
		req.False(dup)
		seen[id] = struct{}{}
	}
	requireConsistent(t, s)
}

func TestCreateGroup_QuotaBound(t *testing.T) {
	req := require.New(t)
	s, _ := newTestState(nil)
	now := time.Now()
	creator := addr(4000)

	for i := 0; i < 3; i++ {
		_, err := s.CreateGroup(creator, now)
		req.NoError(err)
	}

	// The fourth create is rejected and creates nothing
	_, err := s.CreateGroup(creator, now)
	req.ErrorIs(err, errors.ErrClientLimit)
	req.Len(s.groups, 3)

	// Another creator is unaffected
	_, err = s.CreateGroup(addr(4001), now)
	req.NoError(err)
	requireConsistent(t, s)
}

func TestCreateGroup_DoesNotBindCreator(t *testing.T) {
	req := require.New(t)
	s, _ := newTestState(nil)

	id, err := s.CreateGroup(addr(4000), time.Now())
	req.NoError(err)

	req.Empty(s.sessions)
	req.Equal(0, s.MemberCount(id))
	// A never-joined group is armed for TTL expiry from birth
	req.False(s.groups[id].EmptySince.IsZero())
}

func TestJoin_NoSuchGroup(t *testing.T) {
	req := require.New(t)
	s, _ := newTestState(nil)

	err := s.Join("ZZZZZZZZ", addr(4001), time.Now())
	req.ErrorIs(err, errors.ErrNoSuchGroup)
	req.Empty(s.sessions)
}

func TestJoin_CapacityBound(t *testing.T) {
	req := require.New(t)
	s, _ := newTestState(func(c *Config) { c.MaxGroupSize = lo.ToPtr(2) })
	now := time.Now()

	id, err := s.CreateGroup(addr(4000), now)
	req.NoError(err)

	req.NoError(s.Join(id, addr(4001), now))
	req.NoError(s.Join(id, addr(4002), now))

	// Third joiner bounces off the cap and membership is untouched
	err = s.Join(id, addr(4003), now)
	req.ErrorIs(err, errors.ErrGroupFull)
	req.Equal(2, s.MemberCount(id))
	req.NotContains(s.sessions, addr(4003).String())
	requireConsistent(t, s)
}

func TestJoin_PerGroupCapOverridesGlobal(t *testing.T) {
	req := require.New(t)
	s, _ := newTestState(nil)
	now := time.Now()

	id, err := s.CreateGroup(addr(4000), now)
	req.NoError(err)
	s.cfg.PerGroupCaps = map[domain.GroupID]int{id: 1}

	req.NoError(s.Join(id, addr(4001), now))
	req.ErrorIs(s.Join(id, addr(4002), now), errors.ErrGroupFull)
	req.Equal(1, s.MemberCount(id))
}

func TestJoin_UnlimitedWhenNoCap(t *testing.T) {
	req := require.New(t)
	s, _ := newTestState(func(c *Config) { c.MaxGroupSize = nil })
	now := time.Now()

	id, err := s.CreateGroup(addr(4000), now)
	req.NoError(err)

	for port := 4001; port < 4201; port++ {
		req.NoError(s.Join(id, addr(port), now))
	}
	req.Equal(200, s.MemberCount(id))
}

func TestJoin_IdempotentRejoin(t *testing.T) {
	req := require.New(t)
	s, _ := newTestState(func(c *Config) { c.MaxGroupSize = lo.ToPtr(1) })
	now := time.Now()

	id, err := s.CreateGroup(addr(4000), now)
	req.NoError(err)

	member := addr(4001)
	req.NoError(s.Join(id, member, now))

	// Re-joining a full group you are already in succeeds and only
	// refreshes activity
	later := now.Add(time.Minute)
	req.NoError(s.Join(id, member, later))
	req.Equal(1, s.MemberCount(id))
	req.Equal(later, s.sessions[member.String()].LastActivity)
	requireConsistent(t, s)
}

func TestJoin_ExclusiveMembership(t *testing.T) {
	req := require.New(t)
	s, _ := newTestState(nil)
	now := time.Now()

	g1, err := s.CreateGroup(addr(4000), now)
	req.NoError(err)
	g2, err := s.CreateGroup(addr(4000), now)
	req.NoError(err)

	member := addr(4001)
	req.NoError(s.Join(g1, member, now))

	later := now.Add(time.Minute)
	req.NoError(s.Join(g2, member, later))

	// The member moved: gone from g1, present in g2, and g1's
	// empty-timer is armed at the moment it emptied
	req.False(s.groups[g1].HasMember(member.String()))
	req.True(s.groups[g2].HasMember(member.String()))
	req.Equal(g2, s.sessions[member.String()].Group)
	req.Equal(later, s.groups[g1].EmptySince)
	requireConsistent(t, s)
}

func TestLeave(t *testing.T) {
	req := require.New(t)
	s, _ := newTestState(nil)
	now := time.Now()

	id, err := s.CreateGroup(addr(4000), now)
	req.NoError(err)
	member := addr(4001)
	req.NoError(s.Join(id, member, now))

	// Leaving a group you are not in fails
	req.ErrorIs(s.Leave("ZZZZZZZZ", member, now), errors.ErrNotInGroup)
	req.ErrorIs(s.Leave(id, addr(4002), now), errors.ErrNotInGroup)

	later := now.Add(time.Minute)
	req.NoError(s.Leave(id, member, later))

	req.Empty(s.sessions)
	req.Equal(0, s.MemberCount(id))
	req.Equal(later, s.groups[id].EmptySince)
	requireConsistent(t, s)
}

func TestSweep_EmptyGroupTTL(t *testing.T) {
	req := require.New(t)
	s, _ := newTestState(nil)
	now := time.Now()

	old, err := s.CreateGroup(addr(4000), now)
	req.NoError(err)
	fresh, err := s.CreateGroup(addr(4000), now.Add(4*time.Minute))
	req.NoError(err)

	// TTL is 5m: at +6m the first group expired, the second did not
	s.Sweep(now.Add(6 * time.Minute))

	req.NotContains(s.groups, old)
	req.Contains(s.groups, fresh)

	// The quota slot was released; the same creator can create again
	req.Len(s.creatorGroups[addr(4000).String()], 1)
	requireConsistent(t, s)
}

func TestSweep_OccupiedGroupSurvivesTTL(t *testing.T) {
	req := require.New(t)
	s, _ := newTestState(nil)
	now := time.Now()

	id, err := s.CreateGroup(addr(4000), now)
	req.NoError(err)
	member := addr(4001)
	req.NoError(s.Join(id, member, now))

	// Keep the member alive past the TTL horizon
	s.sessions[member.String()].Touch(now.Add(9 * time.Minute))
	s.Sweep(now.Add(10 * time.Minute))

	req.Contains(s.groups, id)
	req.Equal(1, s.MemberCount(id))
}

func TestSweep_InactiveClientEviction(t *testing.T) {
	req := require.New(t)
	s, _ := newTestState(nil)
	now := time.Now()

	id, err := s.CreateGroup(addr(4000), now)
	req.NoError(err)

	idle := addr(4001)
	active := addr(4002)
	req.NoError(s.Join(id, idle, now))
	req.NoError(s.Join(id, active, now))

	// Heartbeat is 1m, so the liveness threshold is 3m. At +4m the idle
	// client is out; the one that pinged recently stays.
	s.sessions[active.String()].Touch(now.Add(3*time.Minute + 30*time.Second))
	sweepAt := now.Add(4 * time.Minute)
	s.Sweep(sweepAt)

	req.NotContains(s.sessions, idle.String())
	req.Contains(s.sessions, active.String())
	req.Equal(1, s.MemberCount(id))
	requireConsistent(t, s)
}

func TestSweep_EvictionCanEmptyGroupForLaterTTL(t *testing.T) {
	req := require.New(t)
	s, _ := newTestState(nil)
	now := time.Now()

	id, err := s.CreateGroup(addr(4000), now)
	req.NoError(err)
	req.NoError(s.Join(id, addr(4001), now))

	// First sweep evicts the only member and arms the empty-timer
	first := now.Add(4 * time.Minute)
	s.Sweep(first)
	req.Contains(s.groups, id)
	req.Equal(first, s.groups[id].EmptySince)

	// Second sweep, past the TTL from that point, destroys the group
	s.Sweep(first.Add(6 * time.Minute))
	req.NotContains(s.groups, id)
	requireConsistent(t, s)
}
