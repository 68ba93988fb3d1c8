package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"modelfetch/internal/store"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The status feed carries no credentials and only public fetch state.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsEvent struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// serveWS streams store change events to the client. Each event names a
// fetch row that changed (ID 0 means "resync"); clients re-query the REST
// endpoints for the actual rows.
func serveWS(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade: %v", err)
			return
		}
		defer conn.Close()

		events, unsubscribe := st.SubscribeChanges(64)
		defer unsubscribe()

		// Drain control frames and detect the peer closing.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(wsEvent{Type: string(evt.Type), ID: evt.ID}); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
