package network

import (
	"testing"

	"github.com/knirvcorp/collabtext/internal/types"
)

func TestMemoryTransportBroadcast(t *testing.T) {
	bus := NewMemoryBus()
	a := bus.NewTransport("A")
	b := bus.NewTransport("B")
	c := bus.NewTransport("C")

	var gotB, gotC bool
	b.OnReceive(func(from types.SiteID, env types.Envelope) {
		if from == "A" {
			gotB = true
		}
	})
	c.OnReceive(func(from types.SiteID, env types.Envelope) {
		if from == "A" {
			gotC = true
		}
	})

	if err := a.Broadcast(types.Envelope{Kind: types.KindOperation, OriginSite: "A"}); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	if !gotB || !gotC {
		t.Error("expected broadcast to reach both other peers")
	}
}

func TestMemoryTransportSendUnknownPeer(t *testing.T) {
	bus := NewMemoryBus()
	a := bus.NewTransport("A")

	err := a.Send("ghost", types.Envelope{Kind: types.KindOperation})
	if err != types.ErrUnknownPeer {
		t.Errorf("expected ErrUnknownPeer, got %v", err)
	}
}

func TestMemoryTransportSendDirect(t *testing.T) {
	bus := NewMemoryBus()
	a := bus.NewTransport("A")
	b := bus.NewTransport("B")
	bus.NewTransport("C")

	received := make(chan types.Envelope, 1)
	b.OnReceive(func(from types.SiteID, env types.Envelope) {
		received <- env
	})

	if err := a.Send("B", types.Envelope{Kind: types.KindCursor, MessageID: "m1"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	select {
	case env := <-received:
		if env.MessageID != "m1" {
			t.Errorf("expected message id m1, got %s", env.MessageID)
		}
	default:
		t.Fatal("expected synchronous delivery before Send returns")
	}
}

func TestMemoryTransportCloseRemovesFromBus(t *testing.T) {
	bus := NewMemoryBus()
	a := bus.NewTransport("A")
	bus.NewTransport("B")

	a.Close()
	if len(bus.peers("")) != 1 {
		t.Errorf("expected 1 remaining peer after close, got %d", len(bus.peers("")))
	}
}

func TestMemoryTransportPeers(t *testing.T) {
	bus := NewMemoryBus()
	a := bus.NewTransport("A")
	bus.NewTransport("B")
	bus.NewTransport("C")

	peers := a.Peers()
	if len(peers) != 2 {
		t.Errorf("expected 2 peers, got %d", len(peers))
	}
}
