// Command chat is a terminal client for lilychat. It signs in (or registers),
// keeps presence fresh, follows the realtime feed, and lets the user search
// the directory and message one person at a time.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"lilychat/internal/client"
	"lilychat/internal/models"

	"github.com/lmittmann/tint"
)

type app struct {
	session   *client.Session
	directory *client.Directory

	// The open conversation is swapped by the REPL while the feed consumer
	// reads it, so access goes through the mutex.
	mu        sync.Mutex
	store     *client.ConversationStore
	otherName string
}

func (a *app) currentStore() *client.ConversationStore {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store
}

func (a *app) switchStore(store *client.ConversationStore, other *models.Profile) {
	a.mu.Lock()
	if a.store != nil {
		a.store.Close()
	}
	a.store = store
	a.otherName = other.Handle
	a.mu.Unlock()
}

func main() {
	serverURL := flag.String("server", os.Getenv("LILYCHAT_SERVER"), "server base URL")
	email := flag.String("email", "", "account email")
	password := flag.String("password", "", "account password")
	register := flag.Bool("register", false, "create a new account")
	handle := flag.String("handle", "", "handle for new accounts")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})))

	session, err := client.NewSession(*serverURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		fmt.Fprintln(os.Stderr, "set -server or LILYCHAT_SERVER to the server base URL")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var profile *models.Profile
	if *register {
		profile, err = session.SignUp(ctx, *email, *password, *handle, "")
	} else {
		profile, err = session.SignIn(ctx, *email, *password)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Printf("signed in as @%s\n", profile.Handle)

	session.StartHeartbeat(ctx)
	defer session.SignOut(context.Background())

	// Catch up on anything sent while offline, then follow the feed.
	if _, err := session.API().MarkDelivered(ctx); err != nil {
		slog.Warn("delivery catch-up failed", "error", err)
	}

	a := &app{
		session:   session,
		directory: client.NewDirectory(session.API(), profile.ID),
	}

	feed := client.NewFeed(session.API())
	go feed.Run(ctx)
	go a.consumeFeed(ctx, feed)

	a.repl(ctx)
}

func (a *app) consumeFeed(ctx context.Context, feed *client.Feed) {
	for event := range feed.Events {
		if store := a.currentStore(); store != nil {
			store.ApplyEvent(ctx, &event)
		}
	}
}

func (a *app) repl(ctx context.Context) {
	fmt.Println("commands: /search <handle>, /open <handle>, /history, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case strings.HasPrefix(line, "/search "):
			a.search(ctx, strings.TrimPrefix(line, "/search "))
		case strings.HasPrefix(line, "/open "):
			a.open(ctx, strings.TrimPrefix(line, "/open "))
		case line == "/history":
			a.history()
		default:
			a.send(ctx, line)
		}
	}
}

func (a *app) search(ctx context.Context, query string) {
	profiles, err := a.directory.Search(ctx, query)
	if err != nil {
		fmt.Println("search failed:", err)
		return
	}
	if len(profiles) == 0 {
		fmt.Println("no matches")
		return
	}
	for _, p := range profiles {
		fmt.Printf("  @%s  %s  (last active %s)\n", p.Handle, p.DisplayName, p.LastActive.Format(time.Kitchen))
	}
}

func (a *app) open(ctx context.Context, handle string) {
	other, err := a.directory.Lookup(ctx, handle)
	if err != nil {
		fmt.Println("no such user:", handle)
		return
	}

	store := client.NewConversationStore(a.session.API(), a.session.SelfID(), other.ID)
	if err := store.Load(ctx); err != nil {
		fmt.Println("failed to open conversation:", err)
		return
	}
	a.switchStore(store, other)
	fmt.Printf("opened conversation with @%s\n", other.Handle)
	a.history()
}

func (a *app) history() {
	store := a.currentStore()
	if store == nil {
		fmt.Println("no conversation open, use /open <handle>")
		return
	}
	for _, msg := range store.Messages() {
		who := "them"
		if msg.SenderID == a.session.SelfID() {
			who = "you"
		}
		fmt.Printf("  [%s] %s: %s (%s)\n", msg.CreatedAt.Format(time.Kitchen), who, msg.Content, msg.Status)
	}
}

func (a *app) send(ctx context.Context, content string) {
	a.mu.Lock()
	store, name := a.store, a.otherName
	a.mu.Unlock()
	if store == nil {
		fmt.Println("no conversation open, use /open <handle>")
		return
	}
	if _, err := store.Send(ctx, content); err != nil {
		fmt.Println("send failed:", err)
		return
	}
	fmt.Printf("-> @%s\n", name)
}
