// Command chatclient is a line-oriented chat client. Lines typed on stdin
// are sent to the open room; /room N switches rooms.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/CUknot/chatroom_backend/client"
	"github.com/CUknot/chatroom_backend/logger"
	"github.com/CUknot/chatroom_backend/models"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type options struct {
	ServerURL string        `env:"CHAT_SERVER_URL" envDefault:"http://localhost:3000"`
	APIKey    string        `env:"API_KEY" envDefault:"password"`
	Username  string        `env:"CHAT_USERNAME"`
	UserID    uint          `env:"CHAT_USER_ID"`
	RoomID    uint          `env:"CHAT_ROOM_ID" envDefault:"1"`
	RetryMax  time.Duration `env:"CHAT_RETRY_MAX" envDefault:"10s"`
	LogLevel  string        `env:"LOG_LEVEL" envDefault:"warn"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var opts options
	if err := env.Parse(&opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	logger.Init("dev", opts.LogLevel)

	id := uuid.New()
	if opts.UserID == 0 {
		opts.UserID = uint(id.ID())
	}
	if opts.Username == "" {
		opts.Username = "anon-" + id.String()[:8]
	}
	who := client.Identity{UserID: opts.UserID, Username: opts.Username}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.New(opts.ServerURL, opts.APIKey)
	status := &statusPrinter{}
	sw := client.NewSwitcher(api, who,
		client.WithBackOff(client.NewBackOffMax(opts.RetryMax)),
		client.WithOnMessage(printMessage),
		client.WithOnChange(status.print),
	)
	defer sw.Close()

	fmt.Printf("Chatting as %s. Commands: /rooms, /room N, /reconnect, /quit\n", who.Username)
	sw.Open(opts.RoomID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, api, sw, who, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, api *client.Client, sw *client.Switcher, who client.Identity, line string) bool {
	switch {
	case line == "":
	case line == "/quit":
		return true
	case line == "/rooms":
		rooms, err := api.PublicRooms(ctx)
		if err != nil {
			fmt.Printf("! %v\n", err)
			return false
		}
		for _, r := range rooms {
			fmt.Printf("  %d  %s (%d online)\n", r.ID, r.Name, r.OnlineCount)
		}
	case line == "/reconnect":
		if l := sw.Current(); l != nil {
			l.Reconnect()
		}
	case strings.HasPrefix(line, "/room "):
		roomID, err := strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(line, "/room ")), 10, 32)
		if err != nil || roomID == 0 {
			fmt.Println("! usage: /room N")
			return false
		}
		fmt.Printf("-- switching to room %d\n", roomID)
		sw.Open(uint(roomID))
	default:
		l := sw.Current()
		if l == nil {
			return false
		}
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if _, err := api.SendMessage(sendCtx, l.RoomID(), who, line); err != nil {
			fmt.Printf("! failed to send: %v\n", err)
		}
	}
	return false
}

func printMessage(m models.MessagePayload) {
	stamp := m.CreatedAt
	if t, err := m.CreatedTime(); err == nil {
		stamp = t.Local().Format("15:04:05")
	}
	if m.Type == models.MessageTypeSystem {
		fmt.Printf("[%s] * %s\n", stamp, m.Content)
		return
	}
	fmt.Printf("[%s] %s: %s\n", stamp, m.Username, m.Content)
}

// statusPrinter prints connection changes, not every snapshot.
type statusPrinter struct {
	mu    sync.Mutex
	state client.State
	err   string
}

func (p *statusPrinter) print(s client.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.State == p.state && s.Error == p.err {
		return
	}
	p.state, p.err = s.State, s.Error
	if s.Error != "" {
		fmt.Printf("-- %s (%s)\n", s.State, s.Error)
		return
	}
	fmt.Printf("-- %s\n", s.State)
}
