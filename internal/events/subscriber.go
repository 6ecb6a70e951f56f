package events

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-realtime/internal/realtime"
)

// ErrBadSubject is returned for a message outside the subscriber's prefix.
var ErrBadSubject = errors.New("events: subject outside prefix")

// MutationNotifier is satisfied by *realtime.Notifier.
type MutationNotifier interface {
	Notify(ctx context.Context, m realtime.Mutation) (realtime.Report, error)
}

// OpenedNotifier is satisfied by *realtime.SeenPropagator.
type OpenedNotifier interface {
	ConversationOpened(
		ctx context.Context,
		conversation realtime.ConversationID,
		viewer realtime.UserID,
		participants []realtime.UserID,
	) (int, error)
}

// Subscriber feeds events from NATS into the local notifier. Every node
// subscribes without a queue group, since each one serves its own sessions.
type Subscriber struct {
	prefix   string
	notifier MutationNotifier
	seen     OpenedNotifier
	logger   *zap.Logger

	sub *nats.Subscription
}

// NewSubscriber creates a Subscriber for subjects under prefix.
func NewSubscriber(prefix string, notifier MutationNotifier, seen OpenedNotifier, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		prefix:   prefix,
		notifier: notifier,
		seen:     seen,
		logger:   logger.Named("events"),
	}
}

// Start subscribes to <prefix>.>.
func (s *Subscriber) Start(nc *nats.Conn) error {
	sub, err := nc.Subscribe(Subject(s.prefix, ">"), s.onMessage)
	if err != nil {
		return errors.Wrapf(err, "subscribe %s.>", s.prefix)
	}
	s.sub = sub
	s.logger.Info("Subscribed", zap.String("subject", sub.Subject))
	return nil
}

// Stop drains the subscription.
func (s *Subscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	return errors.Wrap(s.sub.Drain(), "drain subscription")
}

func (s *Subscriber) onMessage(msg *nats.Msg) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic handling event",
				zap.String("subject", msg.Subject),
				zap.Any("panic", r),
			)
		}
	}()

	if err := s.Handle(context.Background(), msg); err != nil {
		s.logger.Warn("Dropping event", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// Handle processes a single message. The kind is taken from the subject.
func (s *Subscriber) Handle(ctx context.Context, msg *nats.Msg) error {
	kind, ok := strings.CutPrefix(msg.Subject, s.prefix+".")
	if !ok || kind == "" {
		return errors.Wrapf(ErrBadSubject, "%s", msg.Subject)
	}

	if kind == KindConversationOpened {
		var e ConversationOpened
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return errors.Wrap(err, "decode conversationOpened")
		}
		sent, err := s.seen.ConversationOpened(ctx, e.ConversationID, e.ViewerID, e.Participants)
		if err != nil {
			return err
		}
		s.logger.Debug("Conversation opened",
			zap.String("conversation", string(e.ConversationID)),
			zap.Int("notified", sent),
		)
		return nil
	}

	var m realtime.Mutation
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		return errors.Wrapf(err, "decode %s", kind)
	}
	m.Kind = realtime.MutationKind(kind)

	report, err := s.notifier.Notify(ctx, m)
	if err != nil {
		return err
	}
	s.logger.Debug("Mutation fanned out",
		zap.String("kind", kind),
		zap.String("conversation", string(m.ConversationID)),
		zap.Int("delivered", report.Delivered),
		zap.Int("offline", report.Offline),
		zap.Int("dropped", report.Dropped),
	)
	return nil
}
