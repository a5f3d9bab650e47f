package transport

import (
	"context"
	"testing"

	"github.com/mdhvn/rapid/internal/membership"
)

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	original := &Message{
		Type: MsgConsensusProposal,
		ConsensusProposal: &ConsensusProposalMessage{
			Sender:          membership.NewEndpoint("10.0.0.1", 1),
			ConfigurationID: 42,
			Hosts: []membership.Endpoint{
				membership.NewEndpoint("10.0.0.2", 2),
				membership.NewEndpoint("10.0.0.3", 3),
			},
		},
	}

	data, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if decoded.Type != MsgConsensusProposal {
		t.Fatalf("Type = %v, want %v", decoded.Type, MsgConsensusProposal)
	}
	if decoded.ConsensusProposal.ConfigurationID != 42 {
		t.Fatalf("ConfigurationID = %d, want 42", decoded.ConsensusProposal.ConfigurationID)
	}
	if len(decoded.ConsensusProposal.Hosts) != 2 {
		t.Fatalf("Hosts len = %d, want 2", len(decoded.ConsensusProposal.Hosts))
	}
}

func TestDecodeMessageRejectsEmptyFrame(t *testing.T) {
	if _, err := DecodeMessage(nil); err == nil {
		t.Fatal("expected error decoding an empty frame")
	}
}

type echoHandler struct {
	received chan *Message
}

func (h *echoHandler) HandleMessage(ctx context.Context, from membership.Endpoint, msg *Message) (*Message, error) {
	h.received <- msg
	return &Message{
		Type:          MsgProbeResponse,
		ProbeResponse: &ProbeResponseMessage{Status: "OK"},
	}, nil
}

func TestMemoryNetworkDeliversToRegisteredHandler(t *testing.T) {
	net := NewMemoryNetwork()
	a := membership.NewEndpoint("10.0.0.1", 1)
	b := membership.NewEndpoint("10.0.0.2", 2)

	handler := &echoHandler{received: make(chan *Message, 1)}
	net.Register(b, handler)

	sender := net.NewSender(a)
	reply, err := sender.Send(context.Background(), b, &Message{
		Type:  MsgProbe,
		Probe: &ProbeMessage{Sender: a},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Type != MsgProbeResponse {
		t.Fatalf("reply type = %v, want %v", reply.Type, MsgProbeResponse)
	}

	select {
	case got := <-handler.received:
		if got.Probe.Sender != a {
			t.Fatalf("handler saw sender %s, want %s", got.Probe.Sender, a)
		}
	default:
		t.Fatal("handler never received the message")
	}
}

func TestMemoryNetworkSendToUnregisteredEndpointFails(t *testing.T) {
	net := NewMemoryNetwork()
	a := membership.NewEndpoint("10.0.0.1", 1)
	ghost := membership.NewEndpoint("10.0.0.9", 9)

	sender := net.NewSender(a)
	if _, err := sender.Send(context.Background(), ghost, &Message{Type: MsgProbe, Probe: &ProbeMessage{Sender: a}}); err == nil {
		t.Fatal("expected error sending to an unregistered endpoint")
	}
}

func TestProberSucceedsOnProbeResponse(t *testing.T) {
	net := NewMemoryNetwork()
	a := membership.NewEndpoint("10.0.0.1", 1)
	b := membership.NewEndpoint("10.0.0.2", 2)
	net.Register(b, &echoHandler{received: make(chan *Message, 1)})

	p := Prober{Sender: net.NewSender(a), Self: a}
	if err := p.Probe(context.Background(), b); err != nil {
		t.Fatalf("Probe: %v", err)
	}
}
