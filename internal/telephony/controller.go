package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when call control is attempted without
// provider credentials.
var ErrNotConfigured = errors.New("telephony provider not configured")

// Controller places and terminates outbound calls through Twilio. The media
// itself never touches this type; Twilio streams it to the relay endpoint
// named in the TwiML.
type Controller struct {
	client *twilio.RestClient
	from   string
	domain string
	logger *zap.Logger
}

type Config struct {
	AccountSID   string
	AuthToken    string
	FromNumber   string
	ServerDomain string
}

// NewController returns a nil controller when credentials are absent;
// callers treat nil as telephony-disabled.
func NewController(cfg Config, logger *zap.Logger) *Controller {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Controller{client: client, from: cfg.FromNumber, domain: cfg.ServerDomain, logger: logger}
}

// StartCall places an outbound call. Twilio fetches the call TwiML from the
// incoming-call endpoint and posts lifecycle updates to the status callback.
// Purpose and customer name travel as query parameters so they survive the
// provider round-trip into the media stream.
func (c *Controller) StartCall(_ context.Context, to, customerName, purpose string) (string, error) {
	if c == nil {
		return "", ErrNotConfigured
	}

	q := url.Values{}
	q.Set("purpose", purpose)
	q.Set("customerName", customerName)

	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetUrl(fmt.Sprintf("https://%s/incoming-call?%s", c.domain, q.Encode()))
	params.SetStatusCallback(fmt.Sprintf("https://%s/call-status", c.domain))
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	params.SetStatusCallbackMethod("POST")

	resp, err := c.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("create call to %s: %w", to, err)
	}
	if resp.Sid == nil {
		return "", errors.New("create call returned no sid")
	}

	c.logger.Info("outbound call created",
		zap.String("call_sid", *resp.Sid),
		zap.String("to", to))
	return *resp.Sid, nil
}

// CompleteCall asks the provider to end an in-progress call.
func (c *Controller) CompleteCall(_ context.Context, callSid string) error {
	if c == nil {
		return ErrNotConfigured
	}

	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := c.client.Api.UpdateCall(callSid, params); err != nil {
		return fmt.Errorf("complete call %s: %w", callSid, err)
	}

	c.logger.Info("call completed via provider", zap.String("call_sid", callSid))
	return nil
}

// ConnectTwiML renders the answer document pointing the call's media stream
// at the relay's websocket endpoint, carrying the call context along.
func ConnectTwiML(domain, purpose, customerName string) (string, error) {
	q := url.Values{}
	q.Set("purpose", purpose)
	q.Set("customerName", customerName)
	stream := &twiml.VoiceStream{Url: fmt.Sprintf("wss://%s/media-stream?%s", domain, q.Encode())}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	doc, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		return "", fmt.Errorf("render connect twiml: %w", err)
	}
	return doc, nil
}
