package routes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// PeerNotifier provides a way to notify SSE subscribers about peer changes
type PeerNotifier struct {
	subscribers map[chan struct{}]struct{}
	mu          sync.RWMutex
}

// NewPeerNotifier creates a new PeerNotifier
func NewPeerNotifier() *PeerNotifier {
	return &PeerNotifier{
		subscribers: make(map[chan struct{}]struct{}),
	}
}

// Subscribe adds a new subscriber that will be notified on peer changes
func (pn *PeerNotifier) Subscribe() chan struct{} {
	pn.mu.Lock()
	defer pn.mu.Unlock()
	ch := make(chan struct{}, 1)
	pn.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber
func (pn *PeerNotifier) Unsubscribe(ch chan struct{}) {
	pn.mu.Lock()
	defer pn.mu.Unlock()
	delete(pn.subscribers, ch)
	close(ch)
}

// Notify triggers all subscribers about a change
func (pn *PeerNotifier) Notify() {
	pn.mu.RLock()
	defer pn.mu.RUnlock()
	for ch := range pn.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// Channel already has a pending notification, skip
		}
	}
}

// SSE endpoint streaming the peer list as the scanner updates it
func (ar *APIRouter) peersSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if ar.PeerNotifier == nil {
		slog.Warn("SSE endpoint called but PeerNotifier is nil")
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	notifyCh := ar.PeerNotifier.Subscribe()
	defer ar.PeerNotifier.Unsubscribe(notifyCh)

	ctx := r.Context()

	ticker := time.NewTicker(30 * time.Second) // Heartbeat to keep connection alive
	defer ticker.Stop()

	sendPeersUpdate := func() error {
		data, err := json.Marshal(ar.peerList())
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: peers-update\ndata: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	// Send initial data
	if err := sendPeersUpdate(); err != nil {
		slog.Error("error sending initial SSE data", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-notifyCh:
			if err := sendPeersUpdate(); err != nil {
				slog.Error("error sending SSE update", "error", err)
				return
			}
		case <-ticker.C:
			// Send heartbeat comment to keep connection alive
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
