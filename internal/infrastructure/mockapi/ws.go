package mockapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// topicKinds maps subscribe topics to the frame types they carry
var topicKinds = map[string][]string{
	"detections":    {string(stream.KindDetection)},
	"batches":       {string(stream.KindBatch)},
	"zones":         {"zone_enter", "zone_exit", string(stream.KindZoneEnter), string(stream.KindZoneExit), string(stream.KindAnomaly)},
	"events":        {string(stream.KindEvent), "security_event"},
	"notifications": {string(stream.KindNotification)},
}

const clientBuffer = 64

type client struct {
	send chan []byte

	mu sync.Mutex
	// types is nil until a subscribe frame arrives, which means every
	// frame is delivered.
	types map[string]bool
	done  chan struct{}
	once  sync.Once
}

func (c *client) subscribe(topics []string) {
	types := map[string]bool{}
	for _, topic := range topics {
		if kinds, ok := topicKinds[topic]; ok {
			for _, k := range kinds {
				types[k] = true
			}
			continue
		}
		// Unknown topics are taken as frame types.
		types[topic] = true
	}
	c.mu.Lock()
	c.types = types
	c.mu.Unlock()
}

func (c *client) wants(typ string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.types == nil || c.types[typ]
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

type hub struct {
	logger  hclog.Logger
	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub(logger hclog.Logger) *hub {
	return &hub{logger: logger, clients: map[*client]struct{}{}}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast queues frame for every interested client. A client whose
// buffer is full is disconnected.
func (h *hub) broadcast(typ string, frame []byte) {
	h.mu.Lock()
	var slow []*client
	for c := range h.clients {
		if !c.wants(typ) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()
	for _, c := range slow {
		h.logger.Warn("dropping slow client")
		h.remove(c)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = map[*client]struct{}{}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (s *Server) serveWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.hub.logger.Debug("upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	cl := &client{send: make(chan []byte, clientBuffer), done: make(chan struct{})}
	s.hub.add(cl)
	defer s.hub.remove(cl)
	s.hub.logger.Debug("client connected", "remote", c.Request.RemoteAddr)

	go s.readWS(ws, cl)

	ping, _ := stream.Encode(stream.TypePing, nil)
	for {
		select {
		case <-cl.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		case frame := <-cl.send:
			if err := write(ws, frame); err != nil {
				return
			}
		case <-s.opts.Clock.After(s.opts.PingInterval):
			if err := write(ws, ping); err != nil {
				return
			}
		}
	}
}

// readWS handles subscribe frames and pongs until the client goes away
func (s *Server) readWS(ws *websocket.Conn, cl *client) {
	defer cl.close()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		env, ok := stream.ParseEnvelope(data)
		if !ok {
			continue
		}
		switch env.Type {
		case stream.TypeSubscribe:
			var msg struct {
				Topics []string `json:"topics"`
			}
			if err := json.Unmarshal(data, &msg); err == nil {
				cl.subscribe(msg.Topics)
				s.hub.logger.Debug("client subscribed", "topics", msg.Topics)
			}
		case stream.TypePing:
			select {
			case cl.send <- stream.PongMessage():
			default:
			}
		}
	}
}

func write(ws *websocket.Conn, frame []byte) error {
	if err := ws.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, frame)
}
