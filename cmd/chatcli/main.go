// Package main is the terminal chat client.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"

	"github.com/NatanOuaki/realtime-chat-x-updev/internal/api"
	"github.com/NatanOuaki/realtime-chat-x-updev/internal/conn"
	"github.com/NatanOuaki/realtime-chat-x-updev/internal/engine"
)

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "chat server base URL")
		username  = flag.String("user", "", "username")
		password  = flag.String("password", "", "password")
		register  = flag.Bool("register", false, "create the account before logging in")
	)
	flag.Parse()

	log.SetFlags(0)

	if *username == "" || *password == "" {
		log.Fatal("-user and -password are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := api.NewClient(*serverURL)

	if *register {
		if err := client.Register(ctx, *username, *password); err != nil {
			log.Fatalf("register failed: %v", err)
		}
		color.Green.Println("account created")
	}

	session, err := client.Login(ctx, *username, *password)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}

	wsEndpoint := "ws" + strings.TrimPrefix(*serverURL, "http") + "/ws"
	transport := conn.Dial(ctx, wsEndpoint)

	eng := engine.New(session, client, transport)
	eng.Start(ctx)
	defer eng.Teardown()

	color.Cyan.Printf("connected as %s - type a message and press enter, /quit to leave\n",
		session.Username)

	go renderLoop(ctx, eng)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Text()
		if line == "/quit" {
			return
		}

		// A line-buffered terminal can't observe keystrokes, so the
		// typing signal goes out when a message is about to.
		_ = eng.SendTyping(ctx)

		err := eng.SendMessage(ctx, line)
		switch {
		case errors.Is(err, engine.ErrEmptyMessage):
			// nothing to send
		case errors.Is(err, conn.ErrNotReady):
			color.Yellow.Println("connection not ready - message not sent")
		case err != nil:
			color.Red.Printf("send failed: %v\n", err)
		}
	}
}

// renderLoop prints new messages as the engine learns about them. The
// sent message shows up here too, once the server echoes it back.
func renderLoop(ctx context.Context, eng *engine.Engine) {
	var (
		rendered int
		lastDay  string
	)

	draw := func() {
		idx := 0
		for _, group := range eng.DayGroups(time.Local) {
			for _, msg := range group.Messages {
				idx++
				if idx <= rendered {
					continue
				}
				if group.Label != lastDay {
					color.Gray.Printf("--- %s ---\n", group.Label)
					lastDay = group.Label
				}

				stamp := msg.Timestamp.Local().Format("15:04")
				if msg.Username == eng.Session().Username {
					color.Green.Printf("[%s] %s: %s\n", stamp, msg.Username, msg.Content)
				} else {
					color.Cyan.Printf("[%s] %s: %s\n", stamp, msg.Username, msg.Content)
				}
			}
		}
		rendered = idx

		if who, ok := eng.TypingUser(); ok {
			color.Gray.Printf("%s is typing...\n", who)
		}
	}

	for {
		select {
		case <-eng.Updates():
			draw()

		case notice := <-eng.Notices():
			switch notice.Kind {
			case engine.NoticeHistoryUnavailable:
				color.Yellow.Println("couldn't load history; showing live messages only")
			case engine.NoticeConnectionClosed:
				color.Red.Println("connection closed - restart the client to reconnect")
			}

		case <-ctx.Done():
			return
		}
	}
}
