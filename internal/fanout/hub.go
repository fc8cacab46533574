package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const bridgeChannel = "fanout:events"

// Message - событие, доставляемое подключенным клиентам.
// Доставка best-effort: клиенты, подключившиеся после публикации, событие
// не получают и должны перечитать текущее состояние при подключении.
type Message struct {
	Event     string    `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// bridgeEnvelope - обертка для ретрансляции событий между инстансами через Redis
type bridgeEnvelope struct {
	Origin string          `json:"origin"`
	Target string          `json:"target,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// joinRequest - команда привязки соединения к приватному каналу ответчика
type joinRequest struct {
	Action      string `json:"action"`
	ResponderID string `json:"responder_id"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub хранит множество активных соединений и таблицу членства в каналах ответчиков
type Hub struct {
	clients     map[*Client]bool
	register    chan *Client
	unregister  chan *Client
	redisClient *redis.Client
	logger      *logrus.Logger
	instanceID  string
	mu          sync.RWMutex
}

// Client - одно websocket-соединение
type Client struct {
	id          string
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	mu          sync.RWMutex
	responderID string
}

// NewHub создает новый хаб рассылки. redisClient может быть nil - тогда
// события доставляются только локальным клиентам без моста между инстансами.
func NewHub(redisClient *redis.Client, logger *logrus.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		redisClient: redisClient,
		logger:      logger,
		instanceID:  uuid.NewString(),
	}
}

// Run обслуживает регистрацию и отключение клиентов
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.WithField("client_id", client.id).Debug("Fanout client connected")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.WithField("client_id", client.id).Debug("Fanout client disconnected")
		case <-ctx.Done():
			return
		}
	}
}

// Broadcast доставляет событие всем подключенным клиентам независимо от роли
func (h *Hub) Broadcast(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(Message{Event: event, Payload: payload, Timestamp: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal fanout message: %w", err)
	}
	h.deliverLocal(data, "")
	return h.publishBridge(ctx, "", data)
}

// Unicast доставляет событие только соединениям, привязанным к каналу ответчика
func (h *Hub) Unicast(ctx context.Context, responderID string, event string, payload any) error {
	data, err := json.Marshal(Message{Event: event, Payload: payload, Timestamp: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal fanout message: %w", err)
	}
	h.deliverLocal(data, responderID)
	return h.publishBridge(ctx, responderID, data)
}

// deliverLocal рассылает сообщение локальным клиентам.
// Клиент с переполненным буфером пропускает сообщение: доставка
// at-most-once и не блокирует публикацию.
func (h *Hub) deliverLocal(data []byte, target string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if target != "" && client.ResponderID() != target {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.logger.WithField("client_id", client.id).Warn("Fanout client send buffer full, dropping message")
		}
	}
}

// publishBridge ретранслирует событие остальным инстансам через Redis
func (h *Hub) publishBridge(ctx context.Context, target string, data []byte) error {
	if h.redisClient == nil {
		return nil
	}
	envelope, err := json.Marshal(bridgeEnvelope{Origin: h.instanceID, Target: target, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal bridge envelope: %w", err)
	}
	if err := h.redisClient.Publish(ctx, bridgeChannel, envelope).Err(); err != nil {
		return fmt.Errorf("failed to publish fanout event to Redis: %w", err)
	}
	return nil
}

// RunBridge подписывается на Redis и доставляет события других инстансов
// локальным клиентам. Сообщения собственного инстанса игнорируются.
func (h *Hub) RunBridge(ctx context.Context) {
	if h.redisClient == nil {
		return
	}
	pubsub := h.redisClient.Subscribe(ctx, bridgeChannel)
	defer pubsub.Close()

	for {
		select {
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			var envelope bridgeEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				h.logger.WithError(err).Error("Failed to unmarshal fanout bridge envelope")
				continue
			}
			if envelope.Origin == h.instanceID {
				continue
			}
			h.deliverLocal(envelope.Data, envelope.Target)
		case <-ctx.Done():
			return
		}
	}
}

// HandleWebSocket апгрейдит HTTP-соединение и регистрирует клиента в хабе
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade websocket connection")
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// ResponderID возвращает канал ответчика, к которому привязано соединение
func (c *Client) ResponderID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.responderID
}

// handleJoin привязывает соединение к каналу ответчика.
// Повторный join идемпотентен: действует последняя привязка.
func (c *Client) handleJoin(req *joinRequest) {
	if req.Action != "join" {
		return
	}
	c.mu.Lock()
	c.responderID = req.ResponderID
	c.mu.Unlock()
	c.hub.logger.WithFields(logrus.Fields{
		"client_id":    c.id,
		"responder_id": req.ResponderID,
	}).Debug("Fanout client joined responder channel")
}

// readPump читает входящие сообщения соединения (команды join)
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Debug("Websocket read error")
			}
			break
		}

		var req joinRequest
		if err := json.Unmarshal(message, &req); err == nil {
			c.handleJoin(&req)
		}
	}
}

// writePump передает сообщения из хаба в соединение
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
