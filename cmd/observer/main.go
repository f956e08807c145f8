package main

import (
	"bufio"
	"context"
	"cursor-chat/clock"
	"cursor-chat/domain"
	"cursor-chat/infrastructure/websocket"
	"cursor-chat/internal"
	"cursor-chat/runtime"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run joins one room through the broker, prints who is there on every
// refresh and sends each stdin line as a chat message.
// Commands: /retry, /clear, /quit.
func run() error {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	var tuning internal.Config
	if _, err := env.UnmarshalFromEnviron(&tuning); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	opts, err := tuning.RoomOptions(log)
	if err != nil {
		return err
	}
	identity := domain.Identity{
		UserID:      lo.Ternary(config.UserID != "", config.UserID, uuid.NewString()),
		DisplayName: config.DisplayName,
		AvatarRef:   config.AvatarRef,
	}

	transport := websocket.NewTransport(log, config.BrokerURL)
	defer func() { _ = transport.Close() }()

	registry := runtime.NewRegistry(log, clock.Real(), transport, identity, opts)
	defer registry.Close()
	room := registry.Join(domain.RoomID(config.Room))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	fmt.Println(color.Cyan.Sprintf("Joined %s as %s (%s)", config.Room, identity.DisplayName, identity.UserID))
	ticker := time.NewTicker(config.RefreshInterval)
	defer ticker.Stop()

	var last uuid.UUID
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.TrimSpace(line) {
			case "/quit":
				return nil
			case "/retry":
				room.Retry()
			case "/clear":
				room.ClearChat()
				last = uuid.Nil
			default:
				if !room.SendChatMessage(ctx, line) {
					fmt.Println(color.Red.Sprint("message not sent"))
				}
			}
		case <-ticker.C:
			last = render(os.Stdout, room, last)
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// render prints the connection state, the participant table and the chat
// messages that came after last. It returns the newest message id.
func render(w io.Writer, room *runtime.Room, last uuid.UUID) uuid.UUID {
	if room.IsConnected() {
		fmt.Fprintln(w, color.Green.Sprint("● connected"))
	} else if err := room.LastError(); err != nil {
		fmt.Fprintln(w, color.Red.Sprintf("○ disconnected: %v (type /retry)", err))
	} else {
		fmt.Fprintln(w, color.Red.Sprint("○ disconnected"))
	}

	active := room.ActiveParticipants()
	participants := lo.Values(room.Participants())
	sort.Slice(participants, func(i, j int) bool { return participants[i].DisplayName < participants[j].DisplayName })

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "User", "Cursor", "Typing", "Last seen", "Active"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	if self := room.Local(); self.UserID != "" {
		table.Append([]string{self.DisplayName + " (you)", self.UserID, "", self.Typing, self.LastSeen.Format("15:04:05"), "yes"})
	}
	for _, p := range participants {
		_, isActive := active[p.UserID]
		table.Append([]string{
			p.DisplayName,
			p.UserID,
			fmt.Sprintf("%.0f,%.0f", p.Cursor.X, p.Cursor.Y),
			p.Typing,
			p.LastSeen.Format("15:04:05"),
			lo.Ternary(isActive, "yes", "no"),
		})
	}
	table.Render()

	// The history evicts oldest first, so when last is gone every message
	// left arrived after it.
	messages := room.RecentChatEvents()
	_, seen, _ := lo.FindLastIndexOf(messages, func(m domain.ChatMessage) bool { return m.ID == last })
	for _, m := range messages[seen+1:] {
		fmt.Fprintf(w, "%s %s: %s\n", m.SentAt.Format("15:04:05"), color.Yellow.Sprint(m.SenderDisplayName), m.Text)
	}
	if len(messages) == 0 {
		return last
	}
	return messages[len(messages)-1].ID
}
