package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"eventhub/ledger"
	"eventhub/models"
	"eventhub/mq"
	"eventhub/utils"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Client is one websocket watching one event.
type Client struct {
	Conn *websocket.Conn
	Send chan []byte
	Room string
}

type broadcastMsg struct {
	Room string
	Data []byte
}

// Hub fans inventory updates out to the clients watching each event.
type Hub struct {
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg
	quit       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMsg, 64),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for room, conns := range h.rooms {
				for c := range conns {
					close(c.Send)
				}
				delete(h.rooms, room)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.rooms[c.Room] == nil {
				h.rooms[c.Room] = make(map[*Client]bool)
			}
			h.rooms[c.Room][c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if conns := h.rooms[c.Room]; conns != nil && conns[c] {
				delete(conns, c)
				close(c.Send)
				if len(conns) == 0 {
					delete(h.rooms, c.Room)
				}
			}
			h.mu.Unlock()

		case m := <-h.broadcast:
			h.mu.Lock()
			for c := range h.rooms[m.Room] {
				select {
				case c.Send <- m.Data:
				default:
					// slow reader; it reconnects and gets a fresh snapshot
					close(c.Send)
					delete(h.rooms[m.Room], c)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// Watchers reports how many clients follow an event.
func (h *Hub) Watchers(eventID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[eventID])
}

func (h *Hub) Publish(eventID string, data []byte) {
	select {
	case h.broadcast <- broadcastMsg{Room: eventID, Data: data}:
	case <-h.quit:
	}
}

// OnInventory is the Redis subscriber callback for mq.InventoryChannel.
func (h *Hub) OnInventory(payload []byte) {
	var u mq.InventoryUpdate
	if err := json.Unmarshal(payload, &u); err != nil || u.EventID == "" {
		log.WithError(err).Warn("dropping malformed inventory update")
		return
	}
	h.Publish(u.EventID, payload)
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// GET /events/:id/live
func (h *Handlers) Live(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if h.hub == nil {
		utils.RespondWithError(w, http.StatusServiceUnavailable, "live updates are disabled")
		return
	}
	ev, ok := h.load(w, r, ps.ByName("id"))
	if !ok {
		return
	}
	if ev.Status == models.EventDraft {
		utils.RespondWithError(w, http.StatusNotFound, "event not found")
		return
	}
	tiers, err := h.inv.Availability(r.Context(), ev.ID)
	if err != nil {
		h.fail(w, err, "failed to load availability")
		return
	}
	snapshot, _ := json.Marshal(ledger.Snapshot(ev.ID, tiers, h.now()))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade")
		return
	}
	c := &Client{Conn: conn, Send: make(chan []byte, 16), Room: ev.ID}
	c.Send <- snapshot
	if !h.hub.join(c) {
		conn.Close()
		return
	}
	go writePump(c)
	readPump(c, h.hub)
}

func writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only watches for the client going away; the feed is one way.
func readPump(c *Client, hub *Hub) {
	defer func() {
		hub.leave(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}
