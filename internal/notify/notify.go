// Package notify sends service messages to operators and managers.
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/bitu-idm/dirsync/internal/config"
)

// Scope selects the audience of a message.
type Scope string

const (
	// ScopeAll addresses every operator.
	ScopeAll Scope = "all"
	// ScopeLimited addresses the limited operator list, falling back to all operators.
	ScopeLimited Scope = "limited"
	// ScopeManagers addresses the recipients named in the message.
	ScopeManagers Scope = "managers"
)

// Message is a service message.
type Message struct {
	Subject string
	Body    string
	Scope   Scope
	// Recipients are the addressees of ScopeManagers messages.
	Recipients []string
}

// Notifier delivers messages.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Recipients resolves the addressees of msg.
func Recipients(cfg config.Notification, msg Message) []string {
	switch msg.Scope {
	case ScopeManagers:
		return msg.Recipients
	case ScopeLimited:
		if len(cfg.LimitedOperators) > 0 {
			return cfg.LimitedOperators
		}
	}

	return cfg.Operators
}

// Log writes messages to the service log. Delivery by mail is outside dirsync.
type Log struct {
	cfg config.Notification
}

// NewLog creates a log based Notifier.
func NewLog(cfg config.Notification) *Log {
	return &Log{cfg: cfg}
}

// Notify implements Notifier.
func (l *Log) Notify(_ context.Context, msg Message) error {
	log.Info().
		Str("component", "notify").
		Str("scope", string(msg.Scope)).
		Strs("to", Recipients(l.cfg, msg)).
		Str("from", l.cfg.Sender).
		Str("subject", l.cfg.SubjectPrefix+msg.Subject).
		Msg(msg.Body)

	return nil
}

// Recorder keeps messages in memory. Tests use it to assert notifications.
type Recorder struct {
	mu       sync.Mutex
	Messages []Message
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Messages = append(r.Messages, msg)

	return nil
}

// Subjects returns the recorded subjects in order.
func (r *Recorder) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, m.Subject)
	}

	return out
}
