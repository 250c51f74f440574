// Package main floods the chat server with websocket traffic.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NatanOuaki/realtime-chat-x-updev/internal/api"
	"github.com/NatanOuaki/realtime-chat-x-updev/internal/conn"
	"github.com/NatanOuaki/realtime-chat-x-updev/internal/wire"
)

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "chat server base URL")
		clients   = flag.Int("clients", 5, "number of concurrent clients")
		messages  = flag.Int("messages", 20, "messages per client")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var received atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := runClient(ctx, *serverURL, id, *messages, &received); err != nil {
				log.Printf("client %d: %v", id, err)
			}
		}(i)
	}

	wg.Wait()
	log.Printf("done: %d clients x %d messages, %d frames received",
		*clients, *messages, received.Load())
}

func runClient(ctx context.Context, serverURL string, id, messages int, received *atomic.Int64) error {
	username := fmt.Sprintf("loadtest-%d", id)
	client := api.NewClient(serverURL)

	// The account may exist from a previous run.
	var apiErr *api.APIError
	if err := client.Register(ctx, username, "loadtest-pw"); err != nil && !errors.As(err, &apiErr) {
		return fmt.Errorf("register: %w", err)
	}

	session, err := client.Login(ctx, username, "loadtest-pw")
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	wsEndpoint := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	c := conn.Dial(ctx, wsEndpoint)
	defer c.Close()

	for c.State() == conn.StateConnecting {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	go func() {
		for range c.Events() {
			received.Add(1)
		}
	}()

	for n := 0; n < messages; n++ {
		frame, err := wire.EncodeSend(session.Token, fmt.Sprintf("load %d-%d", id, n))
		if err != nil {
			return err
		}
		if err := c.Send(ctx, frame); err != nil {
			return fmt.Errorf("send %d: %w", n, err)
		}
	}

	// Give broadcasts a moment to come back before hanging up.
	time.Sleep(time.Second)
	return nil
}
