package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/berfenger/energylive2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	WS_EVENT_MEASUREMENT  = "measurement"
	WS_EVENT_BATTERY      = "battery"
	WS_EVENT_BRIDGE_STATE = "bridge_state"

	wsSendBufferSize = 256
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingInterval   = 50 * time.Second
	wsMaxMessageSize = 512
)

// WSEvent is the JSON message pushed to websocket clients for every sensor
// update of the bridge.
type WSEvent struct {
	Type      string `json:"type"`
	SensorId  string `json:"sensor_id"`
	DeviceId  string `json:"device_id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Value     any    `json:"value"`
	Timestamp string `json:"timestamp"`
}

// WSHub relays the bridge event stream to connected websocket clients.
// Clients that cannot keep up lose messages instead of blocking the stream.
type WSHub struct {
	eventStream  *eventstream.EventStream
	subscription *eventstream.Subscription
	logger       *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	hub      *WSHub
	conn     *websocket.Conn
	send     chan []byte
	deviceId string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

func NewWSHub(eventStream *eventstream.EventStream, logger *zap.Logger) *WSHub {
	h := &WSHub{
		eventStream: eventStream,
		logger:      logger.With(zap.String("component", "websocket")),
		clients:     make(map[*wsClient]struct{}),
	}
	h.subscription = eventStream.SubscribeWithPredicate(func(evt any) {
		h.Broadcast(evt.(domain.SensorUpdateEvent))
	}, func(evt any) bool {
		_, ok := evt.(domain.SensorUpdateEvent)
		return ok
	})
	return h
}

func EventToWSEvent(event domain.SensorUpdateEvent) *WSEvent {
	ts := time.Now().UTC().Format(time.RFC3339)
	switch e := event.(type) {
	case domain.MeasurementUpdateEvent:
		return &WSEvent{Type: WS_EVENT_MEASUREMENT, SensorId: e.Id, DeviceId: e.DeviceId, Channel: e.Channel, Value: e.Value, Timestamp: ts}
	case domain.BatteryUpdateEvent:
		return &WSEvent{Type: WS_EVENT_BATTERY, SensorId: e.Id, DeviceId: e.DeviceId, Value: e.Percentage, Timestamp: ts}
	case domain.BridgeStateUpdateEvent:
		return &WSEvent{Type: WS_EVENT_BRIDGE_STATE, SensorId: e.Id, Value: e.Value, Timestamp: ts}
	default:
		return nil
	}
}

func (h *WSHub) Broadcast(event domain.SensorUpdateEvent) {
	msg := EventToWSEvent(event)
	if msg == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("websocket: could not marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.deviceId != "" && msg.DeviceId != "" && client.deviceId != msg.DeviceId {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.logger.Debug("websocket: client too slow, message dropped")
		}
	}
}

func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WSHub) register(client *wsClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket: client connected", zap.Int("clients", h.ClientCount()))
}

// unregister closes the send channel of the client once.
func (h *WSHub) unregister(client *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	if existed {
		close(client.send)
	}
	h.mu.Unlock()
}

// Close stops relaying events and disconnects every client.
func (h *WSHub) Close() {
	h.eventStream.Unsubscribe(h.subscription)
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// WebSocketHandler streams sensor updates. The optional device query
// parameter restricts the stream to one device.
func (s *Server) WebSocketHandler(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Debug("websocket: upgrade failed", zap.Error(err))
		return nil
	}
	client := &wsClient{
		hub:      s.wsHub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		deviceId: c.QueryParam("device"),
	}
	s.wsHub.register(client)

	go client.writePump()
	go client.readPump()
	return nil
}

// readPump only consumes control frames and detects closed connections.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket: read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
