package routes

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/travigo/bustracker/pkg/ctdf"
	"github.com/travigo/bustracker/pkg/metrics"
	"github.com/travigo/bustracker/pkg/realtime/broadcast"
	"github.com/travigo/bustracker/pkg/realtime/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

const (
	messageJoinBusTracking  = "join-bus-tracking"
	messageLeaveBusTracking = "leave-bus-tracking"
)

// Errors are queued through the client like any other event so a single goroutine writes to the socket
const eventTypeError ctdf.EventType = "error"

type trackingMessage struct {
	Type  string `json:"type"`
	BusID string `json:"busId"`
}

func TrackingRouter(router fiber.Router, tracker *relay.Relay, collector *metrics.Collector) {
	router.Use(func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/", websocket.New(func(conn *websocket.Conn) {
		trackingConnection(conn, tracker, collector)
	}))
}

type websocketSink struct {
	conn *websocket.Conn
}

func (s *websocketSink) WriteEvent(event ctdf.Event) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}

	if event.Type == eventTypeError {
		return s.conn.WriteJSON(fiber.Map{
			"type":    eventTypeError,
			"message": event.Body,
		})
	}

	return s.conn.WriteJSON(event)
}

func trackingConnection(conn *websocket.Conn, tracker *relay.Relay, collector *metrics.Collector) {
	registry := tracker.Registry()
	client := broadcast.NewClient(uuid.NewString(), &websocketSink{conn: conn}, tracker.Config().SubscriberQueueSize)

	collector.SubscriberConnected()
	connectionLogger := log.With().Str("connection", client.ID()).Logger()
	connectionLogger.Debug().Msg("Tracking connection opened")

	ctx, cancel := context.WithCancel(context.Background())
	var wg conc.WaitGroup

	wg.Go(func() {
		err := client.Run(ctx)

		// Closed by the dispatcher or a failed write, drop the socket so the read loop ends
		if ctx.Err() == nil {
			if err != nil {
				connectionLogger.Debug().Err(err).Msg("Tracking connection write failed")
			}
			conn.Close()
		}
	})

	wg.Go(func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	})

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var message trackingMessage
		if err := json.Unmarshal(payload, &message); err != nil {
			sendError(client, "Invalid message")
			continue
		}

		switch message.Type {
		case messageJoinBusTracking:
			if message.BusID == "" {
				sendError(client, "busId is required")
				continue
			}
			registry.Subscribe(client, message.BusID)
			connectionLogger.Debug().Str("bus", message.BusID).Msg("Joined bus tracking")
		case messageLeaveBusTracking:
			if message.BusID == "" {
				sendError(client, "busId is required")
				continue
			}
			registry.Unsubscribe(client, message.BusID)
			connectionLogger.Debug().Str("bus", message.BusID).Msg("Left bus tracking")
		default:
			sendError(client, "Unknown message type")
		}
	}

	registry.UnsubscribeAll(client)
	client.Close()
	cancel()
	wg.Wait()

	collector.SubscriberDisconnected()
	connectionLogger.Debug().Msg("Tracking connection closed")
}

// sendError is best effort, a client with a full outbox is about to be dropped by the dispatcher anyway
func sendError(client *broadcast.Client, message string) {
	err := client.Deliver(ctdf.Event{
		Type:      eventTypeError,
		Timestamp: time.Now(),
		Body:      message,
	})
	if err != nil {
		log.Debug().Err(err).
			Str("connection", client.ID()).
			Str("message", message).
			Msg("Failed to queue error message")
	}
}
