// Package notifications fans user and vendor notifications out over delivery channels.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"linecare/internal/metrics"
	"linecare/internal/model"
)

const (
	ChannelMail = "mail"
	ChannelSMS  = "sms"
	ChannelPush = "push"
)

// Message is the rendered notification. Templating happens upstream.
type Message struct {
	Kind    string         `json:"kind,omitempty" validate:"omitempty,max=100"`
	Subject string         `json:"subject" validate:"required,max=255"`
	Body    string         `json:"body" validate:"required"`
	Data    map[string]any `json:"data,omitempty"`
}

type Channel interface {
	Name() string
	Send(ctx context.Context, r model.Recipient, msg Message) error
}

var ErrNoChannels = errors.New("recipient has no deliverable channels")

// Report aggregates channel sends across recipients.
type Report struct {
	Recipients int      `json:"recipients"`
	Sent       int      `json:"sent"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`

	// Pending lists recipients never attempted because ctx ended first.
	Pending     []string `json:"pending,omitempty"`
	Interrupted error    `json:"-"`
}

func (r *Report) add(o Report) {
	r.Recipients += o.Recipients
	r.Sent += o.Sent
	r.Failed += o.Failed
	r.Errors = append(r.Errors, o.Errors...)
}

type Service struct {
	channels map[string]Channel
	logger   *zap.Logger
}

func NewService(logger *zap.Logger, channels ...Channel) *Service {
	if logger == nil { logger = zap.NewNop() }
	s := &Service{channels: map[string]Channel{}, logger: logger}
	for _, c := range channels {
		if c != nil { s.channels[c.Name()] = c }
	}
	return s
}

// Channels lists the registered channel names.
func (s *Service) Channels() []string {
	out := make([]string, 0, len(s.channels))
	for n := range s.channels { out = append(out, n) }
	sort.Strings(out)
	return out
}

// Notify sends msg to one recipient on each of its channels. Failures are counted, never returned.
func (s *Service) Notify(ctx context.Context, r model.Recipient, msg Message) Report {
	rep := Report{Recipients: 1}
	names := r.Channels
	if len(names) == 0 && r.Email != "" { names = []string{ChannelMail} }
	if len(names) == 0 {
		rep.Failed++
		rep.Errors = append(rep.Errors, r.ID+": "+ErrNoChannels.Error())
		metrics.NotificationSends.WithLabelValues("none", "failed").Inc()
		return rep
	}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		ch, ok := s.channels[name]
		if !ok {
			rep.Failed++
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s/%s: channel not configured", r.ID, name))
			metrics.NotificationSends.WithLabelValues(name, "unconfigured").Inc()
			continue
		}
		if err := ch.Send(ctx, r, msg); err != nil {
			rep.Failed++
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s/%s: %v", r.ID, name, err))
			metrics.NotificationSends.WithLabelValues(name, "failed").Inc()
			s.logger.Warn("notification send failed", zap.String("recipient_id", r.ID), zap.String("channel", name), zap.Error(err))
			continue
		}
		rep.Sent++
		metrics.NotificationSends.WithLabelValues(name, "sent").Inc()
	}
	return rep
}

// NotifyAll sends to every recipient, continuing past individual failures.
// It stops early only when ctx ends, leaving the rest in Report.Pending.
func (s *Service) NotifyAll(ctx context.Context, rs []model.Recipient, msg Message) Report {
	var rep Report
	for i, r := range rs {
		if err := ctx.Err(); err != nil {
			rep.Interrupted = err
			for _, p := range rs[i:] { rep.Pending = append(rep.Pending, p.ID) }
			break
		}
		rep.add(s.Notify(ctx, r, msg))
	}
	return rep
}
