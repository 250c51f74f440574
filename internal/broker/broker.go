// Package broker fans stored messages out across server instances
// through NATS JetStream. A single-instance deployment can skip it and
// let the hub loop back in-process.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/NatanOuaki/realtime-chat-x-updev/internal/model"
)

var (
	StreamName   = "CHAT"
	SubjectLobby = StreamName + "." + "room.lobby"
)

// Publish writes one stored message to the stream. The message ID
// doubles as the dedup key, so redeliveries collapse server-side.
func Publish(ctx context.Context, js jetstream.JetStream, msg model.ChatMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("could not encode message to JSON: %w", err)
	}

	_, err = js.Publish(ctx,
		SubjectLobby,
		payload,
		jetstream.WithMsgID(msg.ID.String()),
	)
	if err != nil {
		return fmt.Errorf("failed to publish to stream [%s]: %w", SubjectLobby, err)
	}

	return nil
}

// Subscribe consumes the lobby subject and forwards every message to
// recv until ctx is cancelled.
func Subscribe(ctx context.Context, stream jetstream.Stream, recv chan<- model.ChatMessage) error {
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{})
	if err != nil {
		return fmt.Errorf("failed to create or update consumer: %w", err)
	}

	consumeHandler := func(msg jetstream.Msg) {
		var payload model.ChatMessage

		if err := json.Unmarshal(msg.Data(), &payload); err != nil {
			msg.Term()
			log.Printf("could not decode broker payload: %v", err)
			return
		}

		msg.Ack()

		select {
		case recv <- payload:
		case <-ctx.Done():
		}
	}

	optErrHandler := jetstream.ConsumeErrHandler(func(cc jetstream.ConsumeContext, err error) {
		log.Printf("consumer error: %v", err)
		cc.Drain()
	})

	consumeCtx, err := consumer.Consume(consumeHandler, optErrHandler)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go func() {
		<-ctx.Done()
		consumeCtx.Drain()
	}()

	return nil
}
