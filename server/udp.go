// Package server owns the UDP socket and the single-threaded event loop.
// One goroutine reads packets, mutates the relay state and runs sweeps;
// no other goroutine ever touches that state.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"udprelay/relay"
)

// shutdownPollInterval caps the read deadline so the loop notices context
// cancellation even when the next sweep is far away.
const shutdownPollInterval = time.Second

type Config struct {
	Host          string
	Port          int
	MaxPayload    int
	SweepInterval time.Duration
}

// Server multiplexes the one UDP socket: readable packets are handed to
// the relay state machine, deadline expiries trigger sweeps. It also
// implements relay.Sender for replies and fan-out.
type Server struct {
	cfg   Config
	log   *slog.Logger
	conn  *net.UDPConn
	state *relay.State
}

func New(cfg Config, log *slog.Logger) *Server {
	return &Server{cfg: cfg, log: log}
}

// WithState attaches the relay state machine driven by the loop. The state
// is constructed after the server because it sends through it.
func (s *Server) WithState(state *relay.State) *Server {
	s.state = state
	return s
}

// Listen binds the socket. A bind failure is the only fatal startup
// condition; the caller aborts on it.
func (s *Server) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("resolving bind address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("binding UDP socket: %w", err)
	}
	s.conn = conn

	s.log.Info("UDP group relay listening",
		"address", conn.LocalAddr().String(),
		"max_payload", s.cfg.MaxPayload,
	)
	return nil
}

// Close releases the socket once the event loop has stopped.
func (s *Server) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// SendTo implements relay.Sender. UDP writes never block; an error is
// treated upstream as the peer being gone.
func (s *Server) SendTo(addr *net.UDPAddr, packet []byte) error {
	_, err := s.conn.WriteToUDP(packet, addr)
	return err
}

// Run drives the event loop until the context is canceled. The read wait
// is bounded by the next scheduled sweep; when it expires without traffic
// the sweep runs synchronously and the deadline is recomputed. Exactly one
// packet is read and fully processed per iteration, so packet handling and
// sweeps never overlap.
func (s *Server) Run(ctx context.Context) error {
	// One past the payload cap so an oversized datagram is observable as
	// oversized instead of silently truncated to the legal maximum.
	buf := make([]byte, s.cfg.MaxPayload+1)
	nextSweep := time.Now().Add(s.cfg.SweepInterval)

	for {
		if ctx.Err() != nil {
			s.log.Info("Event loop stopping")
			return nil
		}

		now := time.Now()
		if !now.Before(nextSweep) {
			s.state.Sweep(now)
			nextSweep = now.Add(s.cfg.SweepInterval)
		}

		deadline := nextSweep
		if poll := now.Add(shutdownPollInterval); deadline.After(poll) {
			deadline = poll
		}
		if err := s.conn.SetReadDeadline(deadline); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}

		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				s.log.Info("Event loop stopping")
				return nil
			}
			s.log.Error("Failed to read UDP packet", "error", err)
			continue
		}
		if n == 0 {
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])
		s.state.HandlePacket(packet, from, time.Now())
	}
}
