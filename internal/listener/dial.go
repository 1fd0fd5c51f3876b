// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package listener

import (
	"fmt"
	"net/url"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// DialerCredentials is the minimal account identity needed to place an
// outbound call, mirroring ClientParam's Username/Password shape
// (account_sid/account_token) rather than reaching into a secrets vault
// directly — this package has no vault dependency of its own.
type DialerCredentials struct {
	AccountSID string
	AuthToken  string
}

// Dialer places outbound calls for §4.7's campaign path: the carrier is
// asked to ring toNumber and, once answered, to open a media-stream
// WebSocket back at the same CarrierPath this listener already serves
// inbound connections on. One REST call per outbound attempt; the
// resulting call's media stream arrives at handleCarrierUpgrade exactly
// like an inbound one.
type Dialer struct {
	client      *twilio.RestClient
	callbackURL string
}

// NewDialer builds a Dialer. callbackBaseURL is this gateway's own
// publicly reachable origin (e.g. "https://gateway.example.com"); the
// carrier path is appended to it to build the media-stream URL (rewritten
// to ws/wss) that Dial's inline TwiML <Stream> verb points Twilio at once
// the call is answered.
func NewDialer(creds DialerCredentials, callbackBaseURL, carrierPath string) *Dialer {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: creds.AccountSID,
		Password: creds.AuthToken,
	})
	return &Dialer{
		client:      client,
		callbackURL: callbackBaseURL + carrierPath,
	}
}

// Dial places one outbound call from fromNumber to toNumber. The returned
// string is the carrier's call SID, which handleDial returns in its
// response; nothing in this package stores it or matches it to a Call.
func (d *Dialer) Dial(fromNumber, toNumber string) (string, error) {
	twiml := fmt.Sprintf(
		`<Response><Connect><Stream url=%q/></Connect></Response>`,
		wsURL(d.callbackURL),
	)

	params := &openapi.CreateCallParams{}
	params.SetTo(toNumber)
	params.SetFrom(fromNumber)
	params.SetTwiml(twiml)

	resp, err := d.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("listener: outbound dial failed: %w", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("listener: outbound dial returned no call sid")
	}
	return *resp.Sid, nil
}

// wsURL rewrites an http(s) callback origin to the ws(s) scheme the
// carrier's <Stream> verb expects.
func wsURL(httpURL string) string {
	u, err := url.Parse(httpURL)
	if err != nil {
		return httpURL
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}
