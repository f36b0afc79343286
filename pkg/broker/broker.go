// Package broker grants running scripts the host operations they may
// perform. A Broker is built per invocation and bound to one handler
// address. The credentials live in the chat and ticket clients the
// Factory holds; scripts only ever see the results.
package broker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rhuss/majordomo/pkg/debug"
	"github.com/rhuss/majordomo/pkg/engine"
	"github.com/rhuss/majordomo/pkg/github"
	"github.com/rhuss/majordomo/pkg/observability"
)

// ErrCapabilityDisabled is returned by a capability whose credential is
// not configured. No outbound call is made.
var ErrCapabilityDisabled = errors.New("capability not configured")

// ChatPoster delivers chat messages. Implemented by *chat.Client.
type ChatPoster interface {
	PostMessage(ctx context.Context, channel, text string) error
}

// IssueCreator files tickets. Implemented by *github.Client.
type IssueCreator interface {
	CreateIssue(ctx context.Context, repo, title, body string) (*github.Issue, error)
}

// Factory builds brokers. A nil ChatPoster or IssueCreator disables the
// matching capability.
type Factory struct {
	chat   ChatPoster
	issues IssueCreator
	logger *slog.Logger
}

// Option configures a Factory.
type Option func(*Factory)

// WithChat enables SendChatMessage.
func WithChat(c ChatPoster) Option {
	return func(f *Factory) {
		f.chat = c
	}
}

// WithIssues enables CreateTicket.
func WithIssues(c IssueCreator) Option {
	return func(f *Factory) {
		f.issues = c
	}
}

// WithLogger sets the logger script log lines go to.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) {
		f.logger = l
	}
}

// NewFactory creates a Factory.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ChatEnabled reports whether SendChatMessage can reach a workspace.
func (f *Factory) ChatEnabled() bool { return f.chat != nil }

// TicketsEnabled reports whether CreateTicket can reach a tracker.
func (f *Factory) TicketsEnabled() bool { return f.issues != nil }

// New returns a broker scoped to the handler at address.
func (f *Factory) New(address string) *Broker {
	return &Broker{
		address: address,
		chat:    f.chat,
		issues:  f.issues,
		logger:  f.logger.With("handler", address),
	}
}

// Broker implements engine.Capabilities for one invocation.
type Broker struct {
	address string
	chat    ChatPoster
	issues  IssueCreator
	logger  *slog.Logger
}

var _ engine.Capabilities = (*Broker)(nil)

// SendChatMessage posts text to channel. It reports false, without
// surfacing the cause to the script, when chat is disabled or the
// upstream call fails.
func (b *Broker) SendChatMessage(ctx context.Context, channel, text string) bool {
	if b.chat == nil {
		observability.CapabilityCallsTotal.WithLabelValues("send_chat_message", "disabled").Inc()
		debug.Log("broker", "chat disabled", "handler", b.address)
		return false
	}
	if err := b.chat.PostMessage(ctx, channel, text); err != nil {
		observability.CapabilityCallsTotal.WithLabelValues("send_chat_message", "error").Inc()
		b.logger.Warn("send_chat_message failed", "channel", channel, "error", err)
		return false
	}
	observability.CapabilityCallsTotal.WithLabelValues("send_chat_message", "ok").Inc()
	return true
}

// CreateTicket files an issue in repo ("owner/name").
func (b *Broker) CreateTicket(ctx context.Context, repo, title, body string) (*engine.Ticket, error) {
	if b.issues == nil {
		observability.CapabilityCallsTotal.WithLabelValues("create_ticket", "disabled").Inc()
		return nil, ErrCapabilityDisabled
	}
	issue, err := b.issues.CreateIssue(ctx, repo, title, body)
	if err != nil {
		observability.CapabilityCallsTotal.WithLabelValues("create_ticket", "error").Inc()
		b.logger.Warn("create_ticket failed", "repo", repo, "error", err)
		return nil, err
	}
	observability.CapabilityCallsTotal.WithLabelValues("create_ticket", "ok").Inc()
	return &engine.Ticket{URL: issue.HTMLURL, ID: issue.ID, Title: issue.Title}, nil
}

// Log records a script diagnostic attributed to the handler.
func (b *Broker) Log(ctx context.Context, text string) {
	observability.CapabilityCallsTotal.WithLabelValues("log", "ok").Inc()
	b.logger.InfoContext(ctx, "handler log", "text", debug.Truncate(text, 4096))
}
