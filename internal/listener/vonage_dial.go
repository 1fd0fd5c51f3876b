// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package listener

import (
	"fmt"

	vng "github.com/vonage/vonage-go-sdk"
)

// VonageCredentials mirrors the application-key auth the teacher's own
// vonage client builds from vault config
// (internal/telephony/vonage/vonage.go's CreateAuthFromAppPrivateKey),
// used here directly rather than through a vault lookup since this
// package has no vault dependency of its own.
type VonageCredentials struct {
	ApplicationID string
	PrivateKey    []byte
}

// VonageDialer is the alternate outbound-dial carrier for §4.7's campaign
// path, used instead of Dialer when a deployment's voice trunk is Vonage
// rather than Twilio. It ends up at the same CarrierPath websocket once
// the call connects, via an NCCO "connect" action targeting a websocket
// endpoint instead of Twilio's TwiML <Connect><Stream> verb.
type VonageDialer struct {
	client      *vng.VoiceClient
	callbackURL string
}

// NewVonageDialer authenticates with a Vonage application's private key,
// the same call the teacher's vonage.go makes, and wraps the resulting
// voice client for outbound dial.
func NewVonageDialer(creds VonageCredentials, callbackBaseURL, carrierPath string) (*VonageDialer, error) {
	auth, err := vng.CreateAuthFromAppPrivateKey(creds.ApplicationID, creds.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("listener: vonage auth: %w", err)
	}
	client := vng.NewVoiceClient(auth)
	return &VonageDialer{client: client, callbackURL: callbackBaseURL + carrierPath}, nil
}

// Dial places one outbound call, same contract as Dialer.Dial.
func (d *VonageDialer) Dial(fromNumber, toNumber string) (string, error) {
	ncco := []vng.Ncco{
		vng.ConnectAction{
			EventType: "synchronous",
			Endpoint: []vng.ConnectEndpoint{
				vng.WebSocketEndpoint{
					Type:        "websocket",
					Uri:         wsURL(d.callbackURL),
					ContentType: "audio/l16;rate=16000",
				},
			},
		},
	}

	result, _, err := d.client.CreateCall(vng.CreateCallReq{
		To:   []vng.CallTo{vng.CallToPhone{Number: toNumber}},
		From: vng.CallFrom{Number: fromNumber},
		Ncco: ncco,
	})
	if err != nil {
		return "", fmt.Errorf("listener: vonage outbound dial failed: %w", err)
	}
	if result.Uuid == "" {
		return "", fmt.Errorf("listener: vonage outbound dial returned no call uuid")
	}
	return result.Uuid, nil
}
