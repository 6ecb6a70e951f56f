// Command publish sends one event to the realtime nodes over NATS. It reads a
// JSON body from stdin and publishes it as a mutation, or as a
// conversationOpened event with -opened.
//
//	echo '{"kind":"newMessage","conversationId":"c1","participants":["u1","u2"]}' | publish
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/Tyrowin/gochat-realtime/internal/events"
	"github.com/Tyrowin/gochat-realtime/internal/logging"
	"github.com/Tyrowin/gochat-realtime/internal/realtime"
)

func main() {
	url := flag.String("nats", envOr("NATS_URL", "nats://localhost:4222"), "NATS server URL")
	prefix := flag.String("prefix", envOr("NATS_SUBJECT_PREFIX", "chat.mutations"), "subject prefix")
	opened := flag.Bool("opened", false, "publish a conversationOpened event instead of a mutation")
	flag.Parse()

	if err := run(*url, *prefix, *opened, os.Stdin); err != nil {
		fmt.Fprintln(os.Stderr, "publish:", err)
		os.Exit(1)
	}
}

func run(url, prefix string, opened bool, in io.Reader) error {
	logger, err := logging.New("warn")
	if err != nil {
		return err
	}

	body, err := io.ReadAll(in)
	if err != nil {
		return errors.Wrap(err, "read stdin")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	nc, err := events.Connect(ctx, url, "gochat-publish", 3, time.Second, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	pub := events.NewPublisher(nc, prefix)
	if opened {
		var e events.ConversationOpened
		if err := json.Unmarshal(body, &e); err != nil {
			return errors.Wrap(err, "decode conversationOpened")
		}
		err = pub.ConversationOpened(e)
	} else {
		var m realtime.Mutation
		if err := json.Unmarshal(body, &m); err != nil {
			return errors.Wrap(err, "decode mutation")
		}
		err = pub.Mutation(m)
	}
	if err != nil {
		return err
	}
	return errors.Wrap(nc.FlushWithContext(ctx), "flush")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
