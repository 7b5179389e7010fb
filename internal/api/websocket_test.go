package api

import (
	"context"
	"testing"
	"time"

	"delta-trading-bot/config"
)

func TestHubStopTerminatesDispatch(t *testing.T) {
	h := NewHub()
	done := make(chan struct{})
	go func() {
		h.Run()
		close(done)
	}()

	client := &Client{send: make(chan []byte, 1), hub: h}
	h.register <- client

	h.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub dispatch loop did not exit")
	}

	if _, ok := <-client.send; ok {
		t.Error("client send channel should be closed on stop")
	}
	h.Stop() // idempotent
}

func TestServerShutdownStopsHub(t *testing.T) {
	s, _ := newTestServer(config.AuthConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	select {
	case <-s.hub.stop:
	case <-time.After(time.Second):
		t.Fatal("hub was not stopped on server shutdown")
	}
}
