package network_test

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tolelom/loopcore/network"
)

var portCounter int32 = 40000

func nextAddr() string {
	port := atomic.AddInt32(&portCounter, 1)
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func startNode(t *testing.T, id, addr string) *network.Node {
	t.Helper()
	n := network.NewNode(id, addr, nil)
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(n.Stop)
	return n
}

func TestBroadcastJSONDeliversToPeer(t *testing.T) {
	serverAddr := nextAddr()
	server := startNode(t, "server", serverAddr)

	var mu sync.Mutex
	var received string
	done := make(chan struct{})
	server.Handle(network.MsgTx, func(_ *network.Peer, msg network.Message) {
		var payload map[string]string
		json.Unmarshal(msg.Payload, &payload)
		mu.Lock()
		received = payload["hello"]
		mu.Unlock()
		close(done)
	})

	client := startNode(t, "client", nextAddr())
	if err := client.AddPeer("server", serverAddr); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}

	if err := client.BroadcastJSON(network.MsgTx, map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("BroadcastJSON: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if received != "world" {
		t.Fatalf("expected payload world, got %q", received)
	}
}

func TestPeerCountAndSelfID(t *testing.T) {
	n := startNode(t, "self-id", nextAddr())
	if n.SelfID() != "self-id" {
		t.Fatalf("expected SelfID self-id, got %s", n.SelfID())
	}
	if n.PeerCount() != 0 {
		t.Fatalf("expected PeerCount 0 on a fresh node, got %d", n.PeerCount())
	}
}
