package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/engiflow/engiflow-chat/internal/composer"
	"github.com/engiflow/engiflow-chat/internal/config"
	"github.com/engiflow/engiflow-chat/internal/domain"
	"github.com/engiflow/engiflow-chat/internal/session"
	"github.com/engiflow/engiflow-chat/internal/store"
	"github.com/engiflow/engiflow-chat/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log.Init(log.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ClientName: "chatcli"})

	sess := session.New(cfg)
	if err := sess.Start(); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("push connection unavailable, running REST-only")
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go printNotifications(sess)
	go printSearchResults(sess)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
		sess.Close()
		os.Exit(0)
	}()

	fmt.Println("engiflow chat — /rooms, /open <room-id>, /older, /attach <path>,")
	fmt.Println("/edit <msg-id> <text>, /del <msg-id>, /react <msg-id> <emoji>,")
	fmt.Println("/search <query>, /typing, /quit; anything else sends")

	var printer *tailPrinter
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "/quit":
			return

		case line == "/rooms":
			listRooms(ctx, sess)

		case strings.HasPrefix(line, "/open "):
			roomID := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
			if err := sess.OpenRoom(ctx, roomID); err != nil {
				fmt.Printf("! failed to open room: %v\n", err)
				continue
			}
			if printer != nil {
				printer.stop()
			}
			printer = newTailPrinter(sess.Store())
			go printer.run()

		case line == "/older":
			if err := sess.LoadOlder(ctx); err != nil {
				fmt.Printf("! %v\n", err)
			}

		case strings.HasPrefix(line, "/attach "):
			stageFile(sess, strings.TrimSpace(strings.TrimPrefix(line, "/attach ")))

		case strings.HasPrefix(line, "/edit "):
			parts := strings.SplitN(strings.TrimPrefix(line, "/edit "), " ", 2)
			if len(parts) != 2 {
				fmt.Println("! usage: /edit <msg-id> <text>")
				continue
			}
			if err := sess.Edit(ctx, parts[0], parts[1]); err != nil {
				fmt.Printf("! %v\n", err)
			}

		case strings.HasPrefix(line, "/del "):
			if err := sess.Delete(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/del "))); err != nil {
				fmt.Printf("! %v\n", err)
			}

		case strings.HasPrefix(line, "/react "):
			parts := strings.SplitN(strings.TrimPrefix(line, "/react "), " ", 2)
			if len(parts) != 2 {
				fmt.Println("! usage: /react <msg-id> <emoji>")
				continue
			}
			if err := sess.React(ctx, parts[0], parts[1]); err != nil {
				fmt.Printf("! %v\n", err)
			}

		case strings.HasPrefix(line, "/search "):
			st := sess.Store()
			if st == nil {
				fmt.Println("! open a room first")
				continue
			}
			sess.Searcher().Query(ctx, st.RoomID(), strings.TrimPrefix(line, "/search "))

		case line == "/typing":
			users := sess.TypingUsers()
			if len(users) == 0 {
				fmt.Println("nobody is typing")
				continue
			}
			fmt.Printf("%d typing\n", len(users))

		default:
			sess.Keystroke(line)
			if _, err := sess.Send(ctx, nil); err != nil {
				fmt.Printf("! send failed: %v\n", err)
			}
		}
	}
}

func listRooms(ctx context.Context, sess *session.Session) {
	projects, err := sess.ListProjectRooms(ctx)
	if err != nil {
		fmt.Printf("! %v\n", err)
		return
	}
	for _, p := range projects {
		fmt.Printf("project %s  %s (%s)\n", p.ID, p.Name, p.Status)
		rooms, err := sess.ListChatRooms(ctx, p.ID)
		if err != nil {
			fmt.Printf("  ! %v\n", err)
			continue
		}
		for _, r := range rooms {
			marker := ""
			if unread := sess.Unread(r.ID); unread > 0 {
				marker = fmt.Sprintf("  [%d unread]", unread)
			}
			if r.Archived() {
				marker += "  [archived]"
			}
			fmt.Printf("  room %s  %s%s\n", r.ID, r.Kind, marker)
		}
	}
}

func stageFile(sess *session.Session, path string) {
	c := sess.Composer()
	if c == nil {
		fmt.Println("! open a room first")
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("! %v\n", err)
		return
	}
	err = c.StageFiles(composer.StagedFile{Filename: info.Name(), Size: info.Size(), Path: path})
	if err != nil {
		fmt.Printf("! %v\n", err)
		return
	}
	fmt.Printf("staged %s (%d bytes)\n", info.Name(), info.Size())
}

func printNotifications(sess *session.Session) {
	for n := range sess.Notifications() {
		fmt.Printf("\n[notification] %s — %s\n", n.Title, n.Body)
	}
}

func printSearchResults(sess *session.Session) {
	for res := range sess.Searcher().Results() {
		if res.Err != nil {
			fmt.Printf("\n[search] %q failed: %v\n", res.Query, res.Err)
			continue
		}
		fmt.Printf("\n[search] %q — %d matches\n", res.Query, res.Total)
		for _, m := range res.Messages {
			fmt.Printf("  %s  %s: %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), m.Sender.DisplayName(), m.Content)
		}
	}
}

// tailPrinter renders the open room: day headers when the calendar date
// changes, then each message once as it becomes visible.
type tailPrinter struct {
	st      *store.Store
	done    chan struct{}
	once    sync.Once
	printed map[string]bool
	lastDay string
}

func newTailPrinter(st *store.Store) *tailPrinter {
	return &tailPrinter{st: st, done: make(chan struct{}), printed: make(map[string]bool)}
}

func (p *tailPrinter) stop() {
	p.once.Do(func() { close(p.done) })
}

func (p *tailPrinter) run() {
	p.render()
	for {
		select {
		case <-p.done:
			return
		case <-p.st.Changed():
			p.render()
		}
	}
}

func (p *tailPrinter) render() {
	for _, group := range p.st.DayGroups() {
		day := group.Date.Format("Monday, 2 January 2006")
		for _, m := range group.Messages {
			if p.printed[m.ID] {
				continue
			}
			if day != p.lastDay {
				fmt.Printf("--- %s ---\n", day)
				p.lastDay = day
			}
			p.printed[m.ID] = true
			printMessage(m)
		}
	}
}

func printMessage(m domain.Message) {
	edited := ""
	if m.IsEdited {
		edited = " (edited)"
	}
	fmt.Printf("%s  %s: %s%s\n", m.CreatedAt.Local().Format("15:04"), m.Sender.DisplayName(), m.Content, edited)
	for _, a := range m.Attachments {
		fmt.Printf("        attachment: %s (%d bytes) %s\n", a.Filename, a.Size, a.URL)
	}
}
