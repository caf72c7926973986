package httpx

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/hub"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// stream pushes the restaurant's refreshed order views and sync events to a
// websocket. Browsers cannot set headers on the upgrade, so the restaurant may
// also come as ?restaurant_id=.
func (h *OrdersHandler) stream(w http.ResponseWriter, r *http.Request) {
	rid := chi.URLParam(r, "rid")
	actorRID := r.Header.Get(HeaderRestaurant)
	if actorRID == "" {
		actorRID = r.URL.Query().Get("restaurant_id")
	}
	if rid == "" || actorRID != rid {
		writeError(w, r, orders.ErrForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("stream upgrade restaurant=%s: %v", rid, err)
		return
	}
	client := &hub.Client{ID: uuid.NewString(), RestaurantID: rid, Send: make(chan []byte, 16)}
	h.Hub.Register(client)
	defer h.Hub.Unregister(client)

	go writePump(conn, client.Send)

	// reads only detect the close; screens never send anything
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, send <-chan []byte) {
	defer conn.Close()
	for msg := range send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
