package relay

import (
	"fmt"
	"net"
	"time"

	"udprelay/domain"
	"udprelay/errors"
	"udprelay/protocol"
)

// HandlePacket classifies one received packet and fully processes it:
// state is mutated and exactly one reply (or one fan-out) goes back out
// before the event loop reads the next packet.
func (s *State) HandlePacket(packet []byte, from *net.UDPAddr, now time.Time) {
	s.metrics.PacketsReceived.Inc()

	// Size is judged before classification: an oversized datagram is
	// rejected whether or not it starts with the command prefix.
	if len(packet) > s.cfg.MaxPayload {
		s.metrics.PayloadsRejected.Inc()
		s.reply(from, protocol.ReplyErr(protocol.CodeTooLarge, "Payload too large"))
		return
	}

	if !protocol.IsCommand(packet) {
		s.handlePayload(packet, from, now)
		return
	}

	cmd, err := protocol.ParseCommand(packet)
	if err != nil {
		s.metrics.BadCommands.Inc()
		s.reply(from, protocol.ReplyErr(protocol.CodeBadCmd, "UnknownCommand"))
		return
	}

	handler, ok := s.handlers[cmd.Name]
	if !ok {
		s.metrics.BadCommands.Inc()
		s.reply(from, protocol.ReplyErr(protocol.CodeBadCmd, "UnknownCommand"))
		return
	}

	s.metrics.CommandsProcessed.WithLabelValues(cmd.Name).Inc()
	if out := handler(cmd.Arg, from, now); out != nil {
		s.reply(from, out)
	}
}

// commandTable is the static token-to-handler mapping, built once. Lookup
// keeps command dispatch at a single map access per packet.
func (s *State) commandTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		protocol.CmdCreate: s.handleCreate,
		protocol.CmdJoin:   s.handleJoin,
		protocol.CmdLeave:  s.handleLeave,
		protocol.CmdPing:   s.handlePing,
		protocol.CmdWho:    s.handleWho,
	}
}

func (s *State) handleCreate(_ []byte, from *net.UDPAddr, now time.Time) []byte {
	id, err := s.CreateGroup(from, now)
	if err != nil {
		used := len(s.creatorGroups[from.String()])
		detail := fmt.Sprintf("%d/%d", used, s.cfg.MaxGroupsPerClient)
		return protocol.ReplyErr(protocol.CodeClientLimit, detail)
	}
	return protocol.ReplyCreated(id)
}

func (s *State) handleJoin(arg []byte, from *net.UDPAddr, now time.Time) []byte {
	id := domain.NormalizeGroupID(string(arg))
	if id == "" {
		return protocol.ReplyErr(protocol.CodeBadArg, "Usage: !JOIN <group_id>")
	}

	switch err := s.Join(id, from, now); err {
	case nil:
		return protocol.ReplyJoined(id)
	case errors.ErrGroupFull:
		return protocol.ReplyErr(protocol.CodeGroupFull, string(id))
	default:
		return protocol.ReplyErr(protocol.CodeBadArg, "No such group")
	}
}

func (s *State) handleLeave(arg []byte, from *net.UDPAddr, now time.Time) []byte {
	id := domain.NormalizeGroupID(string(arg))
	if id == "" {
		return protocol.ReplyErr(protocol.CodeBadArg, "Usage: !LEAVE <group_id>")
	}

	if err := s.Leave(id, from, now); err != nil {
		return protocol.ReplyErr(protocol.CodeNotInGroup, "Not in that group")
	}
	return protocol.ReplyLeft(id)
}

func (s *State) handlePing(_ []byte, from *net.UDPAddr, now time.Time) []byte {
	sess, _ := s.boundGroup(from.String())
	if sess == nil {
		return protocol.ReplyErr(protocol.CodeNotInGroup, "Join an existing group first. Use: !JOIN <group_id>")
	}

	sess.Touch(now)
	return protocol.ReplyPong(s.cfg.SuggestedHeartbeat.Seconds())
}

func (s *State) handleWho(_ []byte, from *net.UDPAddr, now time.Time) []byte {
	_, group := s.boundGroup(from.String())
	if group == nil {
		return protocol.ReplyErr(protocol.CodeNotInGroup, "Join an existing group first. Use: !JOIN <group_id>")
	}
	return protocol.ReplyWho(group.ID, group.MemberCount())
}

// handlePayload forwards a non-command packet to every other member of the
// sender's group. Peers whose send fails are presumed gone and pruned
// silently; neither the pruned peer nor the sender hears about it.
func (s *State) handlePayload(packet []byte, from *net.UDPAddr, now time.Time) {
	key := from.String()
	sess, group := s.boundGroup(key)
	if sess == nil {
		s.metrics.PayloadsRejected.Inc()
		s.reply(from, protocol.ReplyErr(protocol.CodeNotInGroup, "Join an existing group first. Use: !JOIN <group_id>"))
		return
	}

	sess.Touch(now)

	var gone []string
	for memberKey, memberAddr := range group.Members() {
		if memberKey == key {
			continue
		}
		if err := s.sender.SendTo(memberAddr, packet); err != nil {
			gone = append(gone, memberKey)
			continue
		}
		s.metrics.PayloadsForwarded.Inc()
	}

	for _, memberKey := range gone {
		s.prunePeer(group, memberKey, now)
	}
}

func (s *State) reply(to *net.UDPAddr, packet []byte) {
	if err := s.sender.SendTo(to, packet); err != nil {
		s.log.Debug("Reply dropped", "addr", to.String(), "error", err)
		return
	}
	s.metrics.RepliesSent.Inc()
}
