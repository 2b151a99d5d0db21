package notifications

import (
	"context"
	"errors"
	"net/http"

	"linecare/internal/httpclient"
	"linecare/internal/model"
)

// MailChannel hands plain subject and body to an external mail sender over HTTP.
type MailChannel struct {
	URL   string
	Token string
	HTTP  *httpclient.Client
}

func (m *MailChannel) Name() string { return ChannelMail }

type mailRequest struct {
	To      string         `json:"to"`
	Name    string         `json:"name,omitempty"`
	Subject string         `json:"subject"`
	Body    string         `json:"body"`
	Kind    string         `json:"kind,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

func (m *MailChannel) Send(ctx context.Context, r model.Recipient, msg Message) error {
	if r.Email == "" { return errors.New("recipient has no email address") }
	var opts []httpclient.RequestOption
	if m.Token != "" { opts = append(opts, httpclient.Header("Authorization", "Bearer "+m.Token)) }
	_, err := m.HTTP.DoJSON(ctx, http.MethodPost, m.URL, mailRequest{
		To:      r.Email,
		Name:    r.Name,
		Subject: msg.Subject,
		Body:    msg.Body,
		Kind:    msg.Kind,
		Data:    msg.Data,
	}, nil, opts...)
	return err
}
