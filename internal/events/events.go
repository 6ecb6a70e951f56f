// Package events carries committed mutations from the REST workers to every
// realtime node over NATS.
//
// Each mutation is published on <prefix>.<kind> with a JSON realtime.Mutation
// body. A conversation being opened is published on
// <prefix>.conversationOpened with a ConversationOpened body.
package events

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-realtime/internal/realtime"
)

// KindConversationOpened is the subject suffix of ConversationOpened events.
const KindConversationOpened = "conversationOpened"

// ConversationOpened reports that Viewer fetched a conversation and its
// messages were marked seen.
type ConversationOpened struct {
	ConversationID realtime.ConversationID `json:"conversationId"`
	ViewerID       realtime.UserID         `json:"viewerId"`
	Participants   []realtime.UserID       `json:"participants,omitempty"`
}

// Subject joins prefix and kind.
func Subject(prefix, kind string) string {
	return prefix + "." + kind
}

// Connect dials url, retrying every wait until attempts run out or ctx is
// done. The returned connection reconnects forever on its own.
func Connect(ctx context.Context, url, name string, attempts int, wait time.Duration, logger *zap.Logger) (*nats.Conn, error) {
	var (
		nc  *nats.Conn
		err error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		nc, err = nats.Connect(url,
			nats.Name(name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("NATS disconnected", zap.Error(err))
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
			}),
		)
		if err == nil {
			logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
			return nc, nil
		}

		logger.Info("Waiting for NATS", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "connect nats")
		case <-time.After(wait):
		}
	}
	return nil, errors.Wrapf(err, "connect nats at %s", url)
}
