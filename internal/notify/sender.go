// Package notify delivers the local notifications shown for push events.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/rs/zerolog"
)

// MsgShowNotification is the message type posted to tabs by ClientSender
const MsgShowNotification = "SHOW_NOTIFICATION"

// Notification is one displayed notification
type Notification struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	Icon    string `json:"icon,omitempty"`
	Badge   string `json:"badge,omitempty"`
	Vibrate []int  `json:"vibrate,omitempty"`
	// URL is opened when the notification is clicked
	URL string `json:"url,omitempty"`
}

type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender writes notifications to the log
type LogSender struct {
	Log zerolog.Logger
}

func (s LogSender) Send(_ context.Context, n Notification) error {
	s.Log.Info().
		Str("notification", n.ID).
		Str("title", n.Title).
		Str("body", n.Body).
		Msg("NOTIFY")
	return nil
}

// ShoutrrrSender forwards notifications to any shoutrrr service URL
// (ntfy, telegram, discord, generic webhooks, ...)
type ShoutrrrSender struct {
	router *router.ServiceRouter
}

// NewShoutrrrSender builds a sender for the given service URLs
func NewShoutrrrSender(urls ...string) (*ShoutrrrSender, error) {
	if len(urls) == 0 {
		return nil, errors.New("notify: no service URLs")
	}
	r, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("notify: create shoutrrr sender: %w", err)
	}
	return &ShoutrrrSender{router: r}, nil
}

func (s *ShoutrrrSender) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := types.Params{"title": n.Title}
	return errors.Join(s.router.Send(n.Body, &params)...)
}

// Broadcaster fans a message out to open tabs
type Broadcaster interface {
	Broadcast(v any) int
}

// ShowMessage is what ClientSender posts to each tab
type ShowMessage struct {
	Type         string       `json:"type"`
	Notification Notification `json:"notification"`
}

// ClientSender shows the notification inside every controlled tab
type ClientSender struct {
	Clients Broadcaster
}

func (s ClientSender) Send(_ context.Context, n Notification) error {
	s.Clients.Broadcast(ShowMessage{Type: MsgShowNotification, Notification: n})
	return nil
}

// Multi sends to every sender and joins their errors
type Multi []Sender

func (m Multi) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromURLs builds the sender stack used by the gateway: log and tabs always,
// shoutrrr when any service URL is configured.
func FromURLs(log zerolog.Logger, clients Broadcaster, urls []string) (Sender, error) {
	senders := Multi{LogSender{Log: log}, ClientSender{Clients: clients}}

	var cleaned []string
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			cleaned = append(cleaned, u)
		}
	}
	if len(cleaned) > 0 {
		s, err := NewShoutrrrSender(cleaned...)
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}
	return senders, nil
}
