package events

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/Tyrowin/gochat-realtime/internal/realtime"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends events for the subscribers on every node.
type Publisher struct {
	conn   Conn
	prefix string
}

// NewPublisher creates a Publisher writing under prefix.
func NewPublisher(conn Conn, prefix string) *Publisher {
	return &Publisher{conn: conn, prefix: prefix}
}

// Mutation publishes m on <prefix>.<kind>.
func (p *Publisher) Mutation(m realtime.Mutation) error {
	if m.Kind == "" {
		return errors.Wrap(realtime.ErrUnknownMutation, "publish")
	}
	return p.publish(string(m.Kind), m)
}

// ConversationOpened publishes e on <prefix>.conversationOpened.
func (p *Publisher) ConversationOpened(e ConversationOpened) error {
	return p.publish(KindConversationOpened, e)
}

func (p *Publisher) publish(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", kind)
	}
	subject := Subject(p.prefix, kind)
	return errors.Wrapf(p.conn.Publish(subject, data), "publish %s", subject)
}
