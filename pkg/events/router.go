// Package events turns Slack channel messages into handler invocations.
//
// A message in channel #ops is routed to the handler at address
// "slack-ops". The first whitespace-delimited token of the message (the
// command word) is dropped and the rest becomes the payload.
package events

import (
	"context"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rhuss/majordomo/pkg/api"
	"github.com/rhuss/majordomo/pkg/debug"
	"github.com/rhuss/majordomo/pkg/observability"
)

// AddressPrefix is prepended to a channel name to form its handler address.
const AddressPrefix = "slack-"

// ChannelResolver maps a channel ID to its name. Implemented by
// *chat.Client.
type ChannelResolver interface {
	ChannelName(ctx context.Context, channelID string) (string, error)
}

// Invoker runs a handler. Implemented by *dispatch.Dispatcher and by
// transport middleware chains.
type Invoker interface {
	Invoke(ctx context.Context, address, payload string) api.Result
}

// Router routes events to handlers.
type Router struct {
	channels ChannelResolver
	invoker  Invoker
	logger   *slog.Logger
}

// NewRouter creates a Router. A nil logger uses slog.Default().
func NewRouter(channels ChannelResolver, invoker Invoker, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{channels: channels, invoker: invoker, logger: logger}
}

// Enabled reports whether channel names can be resolved.
func (r *Router) Enabled() bool {
	return r.channels != nil
}

// OnEvent routes one event. Failures are logged and the event is
// dropped; nothing is reported back to Slack and nothing is retried.
func (r *Router) OnEvent(ctx context.Context, ev *Event) {
	if ev == nil || ev.Channel == "" {
		observability.EventsTotal.WithLabelValues("ignored").Inc()
		return
	}
	if ev.FromBot() {
		observability.EventsTotal.WithLabelValues("ignored").Inc()
		debug.Log("events", "ignoring bot message", "channel", ev.Channel, "bot_id", ev.BotID)
		return
	}
	if r.channels == nil {
		observability.EventsTotal.WithLabelValues("lookup_failed").Inc()
		r.logger.Warn("dropping event, chat not configured", "channel", ev.Channel)
		return
	}

	name, err := r.channels.ChannelName(ctx, ev.Channel)
	if err != nil {
		observability.EventsTotal.WithLabelValues("lookup_failed").Inc()
		r.logger.Warn("dropping event, channel lookup failed", "channel", ev.Channel, "error", err)
		return
	}

	address := AddressPrefix + name
	res := r.invoker.Invoke(ctx, address, StripCommand(ev.Text))
	if !res.Status {
		observability.EventsTotal.WithLabelValues("handler_failed").Inc()
		r.logger.Warn("event handler failed", "address", address, "cause", res.DataString())
		return
	}
	observability.EventsTotal.WithLabelValues("routed").Inc()
	debug.Log("events", "event routed", "address", address)
}

// StripCommand drops text up to and including its first whitespace
// character. Text without whitespace is returned unchanged.
func StripCommand(text string) string {
	i := strings.IndexFunc(text, unicode.IsSpace)
	if i < 0 {
		return text
	}
	_, size := utf8.DecodeRuneInString(text[i:])
	return text[i+size:]
}
