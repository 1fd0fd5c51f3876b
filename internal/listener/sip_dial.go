// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package listener

import (
	"context"
	"fmt"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// SIPDialer places outbound calls over a raw SIP trunk, the carrier path
// a deployment uses when it fronts its own SIP provider instead of a
// managed REST API like Twilio or Vonage. Grounded directly on
// examples/sip-test/main.go's INVITE/ACK sequence, trimmed to the
// caller-side handshake this dialer needs (no BYE scheduling: hangup is
// the carrier session's job once the resulting RTP leg is bridged).
//
// §1's scope is the carrier-WS<->model-WS bridge, not a SIP media stack,
// so this dialer's job ends at placing the call; the resulting audio path
// is a raw RTP leg the upstream trunk is expected to bridge into the same
// media-stream websocket the REST dialers' <Connect><Stream>-style
// callbacks reach, not something this process decodes itself.
type SIPDialer struct {
	ua     *sipgo.UA
	client *sipgo.Client

	localHost string
	localPort int
	trunkAddr string
}

// NewSIPDialer builds the SIP user agent and client once per process.
func NewSIPDialer(localHost string, localPort int, trunkAddr string) (*SIPDialer, error) {
	ua, err := sipgo.NewUA(sipgo.WithUserAgent("voicegateway/1.0"))
	if err != nil {
		return nil, fmt.Errorf("listener: sip ua: %w", err)
	}
	client, err := sipgo.NewClient(ua,
		sipgo.WithClientHostname(localHost),
		sipgo.WithClientPort(localPort),
	)
	if err != nil {
		return nil, fmt.Errorf("listener: sip client: %w", err)
	}
	return &SIPDialer{ua: ua, client: client, localHost: localHost, localPort: localPort, trunkAddr: trunkAddr}, nil
}

// Dial sends an INVITE for toUser toward the configured trunk and blocks
// until a final response arrives, ACKing on success. The returned string
// is the SIP Call-ID, this dialer's equivalent of a REST call SID.
//
// Dial takes no context parameter so *SIPDialer satisfies the same
// outboundDialer interface as the Twilio/Vonage REST dialers; a fixed
// timeout stands in for caller-supplied cancellation.
func (d *SIPDialer) Dial(fromUser, toUser string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	toURI := sip.Uri{User: toUser, Host: d.trunkAddr}
	fromURI := sip.Uri{User: fromUser, Host: d.localHost, Port: d.localPort}

	req := sip.NewRequest(sip.INVITE, toURI)
	req.SetDestination(d.trunkAddr)

	from := sip.FromHeader{Address: sip.Address{Uri: fromURI}, Params: sip.NewParams()}
	from.Params.Add("tag", sip.GenerateTagN(8))
	req.AppendHeader(&from)

	to := sip.ToHeader{Address: sip.Address{Uri: toURI}}
	req.AppendHeader(&to)

	contact := sip.ContactHeader{Address: sip.Address{Uri: fromURI}}
	req.AppendHeader(&contact)

	callID := sip.CallIDHeader(sip.GenerateTagN(16))
	req.AppendHeader(&callID)

	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	sdpBody := buildSDP(d.localHost, 10000)
	req.SetBody([]byte(sdpBody))
	contentType := sip.ContentTypeHeader("application/sdp")
	req.AppendHeader(&contentType)
	contentLength := sip.ContentLengthHeader(len(sdpBody))
	req.AppendHeader(&contentLength)

	tx, err := d.client.TransactionRequest(ctx, req)
	if err != nil {
		return "", fmt.Errorf("listener: sip invite failed: %w", err)
	}

	select {
	case resp, ok := <-tx.Responses():
		for ok && resp.StatusCode < 200 {
			select {
			case resp, ok = <-tx.Responses():
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if !ok {
			return "", fmt.Errorf("listener: sip transaction closed before a final response")
		}
		if resp.StatusCode >= 400 {
			return "", fmt.Errorf("listener: sip call failed: %d %s", resp.StatusCode, resp.Reason)
		}
		if resp.StatusCode == 200 {
			ack := sip.NewAckRequest(req, resp, nil)
			if err := d.client.WriteRequest(ack); err != nil {
				return "", fmt.Errorf("listener: sip ack failed: %w", err)
			}
		}
		return string(callID), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func buildSDP(localIP string, rtpPort int) string {
	return fmt.Sprintf(`v=0
o=- %d %d IN IP4 %s
s=voicegateway
c=IN IP4 %s
t=0 0
m=audio %d RTP/AVP 0 8
a=rtpmap:0 PCMU/8000
a=rtpmap:8 PCMA/8000
a=sendrecv
a=ptime:20
`, time.Now().UnixNano(), time.Now().UnixNano(), localIP, localIP, rtpPort)
}
