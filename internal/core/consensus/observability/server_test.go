package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
)

func TestServer_BroadcastsEventToConnectedClient(t *testing.T) {
	s := NewServer()
	ts := httptest.NewServer(s)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server goroutine time to register the connection before
	// publishing; OnEvent does not block for subscribers to attach.
	time.Sleep(20 * time.Millisecond)

	s.OnEvent(&consensus.RoundStartedEvent{
		Round:     consensus.RoundID{Seq: 7},
		Mode:      consensus.ModeProposing,
		Timestamp: time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), "RoundStarted")
}

func TestServer_OnEventDoesNotBlockWithoutConnections(t *testing.T) {
	s := NewServer()

	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer+10; i++ {
			s.OnEvent(&consensus.TimerFiredEvent{Timer: consensus.TimerLedgerClose})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnEvent blocked with no connections attached")
	}
}
