// Package relay implements the server's group and session state machine:
// group creation under creator quotas, case-normalized group addressing,
// exclusive membership, payload fan-out with dead-peer pruning and the
// periodic maintenance sweep. All state is owned by the single event-loop
// goroutine; nothing here locks.
package relay

import (
	"log/slog"
	"net"
	"time"

	"udprelay/domain"
	"udprelay/errors"
	"udprelay/observability"
)

// Config carries the relay policy knobs, resolved by the cmd layer.
type Config struct {
	MaxPayload         int
	EmptyGroupTTL      time.Duration
	SuggestedHeartbeat time.Duration

	// MaxGroupSize is the global per-group capacity. Nil means unlimited.
	MaxGroupSize *int

	// PerGroupCaps overrides the global capacity for specific groups.
	PerGroupCaps map[domain.GroupID]int

	MaxGroupsPerClient int
}

// Sender abstracts the outbound half of the transport so the state machine
// can be exercised in tests without a socket. A send error means the peer
// is gone; the relay prunes it silently.
type Sender interface {
	SendTo(addr *net.UDPAddr, packet []byte) error
}

// State owns every mutable registry of the relay. It must only ever be
// touched from the event-loop goroutine; the serialization is what keeps
// the membership and quota invariants trivial to maintain.
type State struct {
	log     *slog.Logger
	cfg     Config
	sender  Sender
	metrics *observability.Metrics

	groups        map[domain.GroupID]*domain.Group
	creatorGroups map[string]map[domain.GroupID]struct{}
	sessions      map[string]*domain.Session

	handlers map[string]handlerFunc
}

type handlerFunc func(arg []byte, from *net.UDPAddr, now time.Time) []byte

func NewState(cfg Config, log *slog.Logger, sender Sender, metrics *observability.Metrics) *State {
	s := &State{
		log:           log,
		cfg:           cfg,
		sender:        sender,
		metrics:       metrics,
		groups:        make(map[domain.GroupID]*domain.Group),
		creatorGroups: make(map[string]map[domain.GroupID]struct{}),
		sessions:      make(map[string]*domain.Session),
	}
	s.handlers = s.commandTable()
	return s
}

// CreateGroup allocates a fresh group owned by creator, enforcing the
// per-creator quota. The creator is NOT bound to the new group.
func (s *State) CreateGroup(creator *net.UDPAddr, now time.Time) (domain.GroupID, error) {
	key := creator.String()
	if len(s.creatorGroups[key]) >= s.cfg.MaxGroupsPerClient {
		return "", errors.ErrClientLimit
	}

	id := domain.NewGroupID()
	for s.groupExists(id) {
		id = domain.NewGroupID()
	}

	s.groups[id] = domain.NewGroup(id, key, now)
	owned, ok := s.creatorGroups[key]
	if !ok {
		owned = make(map[domain.GroupID]struct{})
		s.creatorGroups[key] = owned
	}
	owned[id] = struct{}{}

	s.metrics.GroupsCreated.Inc()
	s.metrics.ActiveGroups.Set(float64(len(s.groups)))
	s.log.Info("Group created", "group", id, "creator", key, "owned", len(owned))
	return id, nil
}

// Join binds addr to the group, leaving any previous group first.
// Membership is exclusive: a client belongs to at most one group.
// Re-joining the current group is an idempotent success.
func (s *State) Join(id domain.GroupID, addr *net.UDPAddr, now time.Time) error {
	group, ok := s.groups[id]
	if !ok {
		return errors.ErrNoSuchGroup
	}

	key := addr.String()
	sess := s.sessions[key]
	if sess != nil && sess.Group == id {
		sess.Touch(now)
		return nil
	}

	if limit := s.capFor(id); limit != nil && group.MemberCount() >= *limit {
		return errors.ErrGroupFull
	}

	if sess != nil {
		if old, ok := s.groups[sess.Group]; ok {
			old.RemoveMember(key, now)
		}
		sess.Group = id
		sess.Touch(now)
	} else {
		s.sessions[key] = domain.NewSession(addr, id, now)
	}
	group.AddMember(addr)

	s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	s.log.Info("Client joined", "group", id, "addr", key, "members", group.MemberCount())
	return nil
}

// Leave unbinds addr from the group it names. The caller must be bound to
// exactly that group; the session record is dropped entirely.
func (s *State) Leave(id domain.GroupID, addr *net.UDPAddr, now time.Time) error {
	key := addr.String()
	sess := s.sessions[key]
	if sess == nil || sess.Group != id {
		return errors.ErrNotInGroup
	}

	delete(s.sessions, key)
	if group, ok := s.groups[id]; ok {
		group.RemoveMember(key, now)
	}

	s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	s.log.Info("Client left", "group", id, "addr", key)
	return nil
}

// MemberCount reports the live member count of a group.
func (s *State) MemberCount(id domain.GroupID) int {
	if group, ok := s.groups[id]; ok {
		return group.MemberCount()
	}
	return 0
}

// boundGroup resolves the caller's session and its group, clearing the
// session when its recorded group no longer exists (stale binding).
func (s *State) boundGroup(key string) (*domain.Session, *domain.Group) {
	sess := s.sessions[key]
	if sess == nil {
		return nil, nil
	}
	group, ok := s.groups[sess.Group]
	if !ok {
		delete(s.sessions, key)
		s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
		return nil, nil
	}
	return sess, group
}

func (s *State) groupExists(id domain.GroupID) bool {
	_, ok := s.groups[id]
	return ok
}

// capFor resolves the effective capacity of a group: the per-group
// override when present, the global cap otherwise. Nil means unlimited.
func (s *State) capFor(id domain.GroupID) *int {
	if limit, ok := s.cfg.PerGroupCaps[id]; ok {
		return &limit
	}
	return s.cfg.MaxGroupSize
}

// destroyGroup removes the group, its empty-timer and the owner's quota
// slot in one step so the quota index never leaks entries.
func (s *State) destroyGroup(id domain.GroupID) {
	group, ok := s.groups[id]
	if !ok {
		return
	}
	delete(s.groups, id)

	if owned, ok := s.creatorGroups[group.Creator]; ok {
		delete(owned, id)
		if len(owned) == 0 {
			delete(s.creatorGroups, group.Creator)
		}
	}
	s.metrics.ActiveGroups.Set(float64(len(s.groups)))
}

// prunePeer drops a peer presumed gone after a failed send: out of the
// member set, out of the session map. Nobody is notified.
func (s *State) prunePeer(group *domain.Group, key string, now time.Time) {
	group.RemoveMember(key, now)
	delete(s.sessions, key)
	s.metrics.PeersPruned.Inc()
	s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	s.log.Debug("Peer pruned after failed send", "group", group.ID, "addr", key)
}
