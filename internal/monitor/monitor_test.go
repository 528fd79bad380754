package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHubDeliversBroadcastToRegisteredSubscribers(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Shutdown()

	c := &Client{send: make(chan []byte, 4), hub: hub}
	hub.register <- c
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, time.Millisecond)

	hub.Publish(NewEvent(EventClientConnected))

	select {
	case data := <-c.send:
		require.Contains(t, string(data), string(EventClientConnected))
	case <-time.After(time.Second):
		t.Fatal("subscriber never received broadcast event")
	}
}

func TestHubUnregisterClosesSendChannel(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Shutdown()

	c := &Client{send: make(chan []byte, 4), hub: hub}
	hub.register <- c
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, time.Millisecond)

	hub.unregister <- c
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 0 }, time.Second, time.Millisecond)

	_, ok := <-c.send
	require.False(t, ok)
}
