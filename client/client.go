package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const defaultHeartbeat = 60 * time.Second

// Config defines the client-side environment variables.
type Config struct {
	ServerHost string `env:"SERVER_HOST,default=127.0.0.1"`
	ServerPort int    `env:"SERVER_PORT,default=5000"`
	RecvBuffer int    `env:"RECV_BUFFER,default=4096"`
	LogLevel   string `env:"LOG_LEVEL,default=INFO"`
}

var errLine = regexp.MustCompile(`^ERR\s+([A-Z_]+)\s+(.*)$`)

// Client is the interactive relay client. The receiver loop and the
// heartbeat loop run concurrently and share the fields under mu.
type Client struct {
	log    *slog.Logger
	conn   *net.UDPConn
	server string

	mu                sync.Mutex
	joinedGroup       string
	lastCreated       string
	heartbeatInterval time.Duration
	lastPing          time.Time
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run handles the client lifecycle: configuration, socket setup, the two
// background loops and the interactive prompt.
func run() (int, error) {
	_ = godotenv.Load()

	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	serverAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", config.ServerHost, config.ServerPort))
	if err != nil {
		return exitConfig, fmt.Errorf("resolving server address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, serverAddr)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not open socket towards %s: %w", serverAddr, err)
	}
	defer func() {
		log.Info("Closing socket...")
		_ = conn.Close()
	}()

	client := &Client{
		log:               log,
		conn:              conn,
		server:            serverAddr.String(),
		heartbeatInterval: defaultHeartbeat,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		client.recvLoop(ctx, config.RecvBuffer)
	}()
	go func() {
		defer wg.Done()
		client.heartbeatLoop(ctx)
	}()

	log.Info("Connected", "server", client.server, "instance_id", uuid.NewString())
	fmt.Println("Type 'help' for commands. Messages that don't start with '!' are sent as payloads.")

	client.prompt()

	cancel()
	wg.Wait()
	fmt.Println("Goodbye.")
	return exitOK, nil
}

// prompt reads user input until EOF or quit. Lines that are not local
// helpers are broadcast to the current group as payloads.
func (c *Client) prompt() {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}

		switch lower := strings.ToLower(line); {
		case lower == "quit" || lower == "exit":
			return
		case lower == "help":
			c.printHelp()
		case lower == "status":
			c.printStatus()
		case strings.HasPrefix(line, "!"):
			color.Red.Println("direct '!' commands are not allowed; use helpers like 'create', 'join', 'leave', 'ping' or 'who'")
		default:
			c.dispatch(line)
		}
		fmt.Print("> ")
	}
}

func (c *Client) dispatch(line string) {
	parts := strings.Fields(line)
	cmd, args := parts[0], parts[1:]

	switch cmd {
	case "create":
		c.create(lo.Contains(args, "--join"))
	case "join":
		if len(args) == 0 {
			color.Yellow.Println("usage: join <group_id>")
			return
		}
		c.send("!JOIN " + strings.ToUpper(args[0]))
	case "leave":
		if len(args) == 0 {
			color.Yellow.Println("usage: leave <group_id>")
			return
		}
		c.send("!LEAVE " + strings.ToUpper(args[0]))
	case "who":
		c.send("!WHO")
	case "ping":
		c.send("!PING")
	default:
		c.mu.Lock()
		joined := c.joinedGroup
		c.mu.Unlock()
		if joined == "" {
			color.Yellow.Println("not joined; use 'join <group_id>' or 'create --join'")
			return
		}
		c.send(line)
	}
}

// create asks the server for a new group and optionally joins it once the
// identifier comes back on the receiver loop.
func (c *Client) create(autoJoin bool) {
	c.mu.Lock()
	c.lastCreated = ""
	c.mu.Unlock()

	c.send("!CREATE")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		created := c.lastCreated
		c.mu.Unlock()
		if created != "" {
			fmt.Printf("created group id: %s\n", created)
			if autoJoin {
				c.send("!JOIN " + created)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	color.Red.Println("create timed out")
}

// send transmits raw text and counts as activity: the heartbeat timer is
// reset so pings stay spread out instead of piling onto user traffic.
func (c *Client) send(text string) {
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()

	if _, err := c.conn.Write([]byte(text)); err != nil {
		c.log.Warn("Send failed", "error", err)
	}
}

// recvLoop listens for server replies and forwarded payloads.
func (c *Client) recvLoop(ctx context.Context, bufSize int) {
	buf := make([]byte, bufSize)

	for ctx.Err() == nil {
		if err := c.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			return
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return
		}
		c.handleMessage(string(buf[:n]))
	}
}

func (c *Client) handleMessage(msg string) {
	switch {
	case strings.HasPrefix(msg, "OK CREATED"):
		if parts := strings.SplitN(msg, " ", 3); len(parts) == 3 {
			c.mu.Lock()
			c.lastCreated = parts[2]
			c.mu.Unlock()
		}
		color.Green.Printf("[server] %s\n", msg)

	case strings.HasPrefix(msg, "OK JOINED"):
		if parts := strings.SplitN(msg, " ", 3); len(parts) == 3 {
			c.mu.Lock()
			c.joinedGroup = parts[2]
			c.mu.Unlock()
		}
		color.Green.Printf("[server] %s\n", msg)

	case strings.HasPrefix(msg, "OK LEFT"):
		c.mu.Lock()
		c.joinedGroup = ""
		c.mu.Unlock()
		color.Green.Printf("[server] %s\n", msg)

	case strings.HasPrefix(msg, "OK WHO"):
		if parts := strings.Fields(msg); len(parts) >= 4 {
			fmt.Printf("[server] group=%s peers=%s\n", parts[2], parts[3])
		} else {
			fmt.Printf("[server] %s\n", msg)
		}

	case strings.HasPrefix(msg, "PONG"):
		c.adoptHeartbeat(msg)
		fmt.Printf("[server] %s\n", msg)

	case strings.HasPrefix(msg, "ERR"):
		if m := errLine.FindStringSubmatch(strings.TrimSpace(msg)); m != nil {
			color.Red.Printf("[server] error: %s - %s\n", m[1], m[2])
		} else {
			color.Red.Printf("[server] %s\n", msg)
		}

	default:
		color.Cyan.Printf("[payload] %s\n", msg)
	}
}

// adoptHeartbeat applies a server-suggested interval from a PONG reply.
// The timer is reset with a small random jitter so a fleet of clients does
// not re-synchronize its pings in lockstep.
func (c *Client) adoptHeartbeat(msg string) {
	parts := strings.Fields(msg)
	if len(parts) < 2 {
		return
	}
	secs, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || secs <= 0 {
		return
	}

	interval := time.Duration(secs * float64(time.Second))
	jitter := time.Duration(rand.Int63n(int64(interval)/10 + 1))

	c.mu.Lock()
	c.heartbeatInterval = interval
	c.lastPing = time.Now().Add(-jitter)
	c.mu.Unlock()
}

// heartbeatLoop sends periodic pings while joined to a group.
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			joined := c.joinedGroup
			interval := max(c.heartbeatInterval, time.Second)
			due := time.Since(c.lastPing) >= interval
			c.mu.Unlock()

			if joined != "" && due {
				c.send("!PING")
			}
		}
	}
}

func (c *Client) printStatus() {
	c.mu.Lock()
	joined := c.joinedGroup
	created := c.lastCreated
	interval := max(c.heartbeatInterval, time.Second)
	eta := interval - time.Since(c.lastPing)
	c.mu.Unlock()

	if joined == "" {
		joined = "<none>"
	}
	if created == "" {
		created = "<none>"
	}
	if eta < 0 {
		eta = 0
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Server", "Group", "Last Created", "Heartbeat", "Next Ping"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.Append([]string{
		c.server,
		joined,
		created,
		interval.String(),
		eta.Round(10 * time.Millisecond).String(),
	})
	table.Render()
}

func (c *Client) printHelp() {
	fmt.Println("Local helpers:")
	fmt.Println("  create [--join]")
	fmt.Println("  join <id>")
	fmt.Println("  leave <id>")
	fmt.Println("  who")
	fmt.Println("  ping")
	fmt.Println("  status")
	fmt.Println("  quit/exit")
	fmt.Println("  (messages that don't start with '!' are broadcast to your current group)")
}
