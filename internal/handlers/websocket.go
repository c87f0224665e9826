package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/scan"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 32
)

// WebSocketHandler streams one job's progress events to a client.
// Each connection joins that job's room; delivery is best effort and a
// slow client is dropped rather than allowed to block the broadcaster.
type WebSocketHandler struct {
	scanService  *scan.Service
	eventService interfaces.EventService
	logger       arbor.ILogger
}

// NewWebSocketHandler creates a new websocket handler
func NewWebSocketHandler(scanService *scan.Service, eventService interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		scanService:  scanService,
		eventService: eventService,
		logger:       logger,
	}
}

// JobEventsHandler upgrades the connection and subscribes it to the
// job's room
// GET /ws/jobs/{id}
func (h *WebSocketHandler) JobEventsHandler(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	job, err := h.scanService.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load job for websocket")
		WriteError(w, http.StatusInternalServerError, "Failed to load job")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("WebSocket upgrade failed")
		return
	}

	sub := newWSSubscriber(conn, h.logger)
	h.eventService.Subscribe(jobID, sub)

	h.logger.Info().
		Str("job_id", jobID).
		Str("remote", r.RemoteAddr).
		Msg("WebSocket client subscribed")

	// A client connecting after the job finished still gets its one
	// terminal event.
	if job.IsTerminal() {
		eventType := models.EventCompleted
		if job.Status == models.JobStatusFailed {
			eventType = models.EventFailed
		}
		sub.Notify(models.JobEvent{
			Type:    eventType,
			JobID:   job.ID,
			Percent: job.Progress,
			Message: job.ProgressMessage,
			Result:  job.Result,
			Error:   job.Error,
		})
	}

	go sub.writePump()
	go func() {
		sub.readPump()
		h.eventService.Unsubscribe(jobID, sub)
		sub.close()
	}()
}

// wsSubscriber adapts one websocket connection to the Subscriber
// interface. Events go through a buffered channel so Notify never
// blocks the broadcaster; a full buffer drops the event.
type wsSubscriber struct {
	conn   *websocket.Conn
	send   chan models.JobEvent
	done   chan struct{}
	logger arbor.ILogger
}

func newWSSubscriber(conn *websocket.Conn, logger arbor.ILogger) *wsSubscriber {
	return &wsSubscriber{
		conn:   conn,
		send:   make(chan models.JobEvent, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Notify queues an event for delivery. Non-blocking: progress events
// are repeatable, so a dropped one is superseded by the next.
func (s *wsSubscriber) Notify(event models.JobEvent) {
	select {
	case s.send <- event:
	case <-s.done:
	default:
		s.logger.Debug().
			Str("job_id", event.JobID).
			Str("type", string(event.Type)).
			Msg("Dropping event for slow websocket client")
	}
}

func (s *wsSubscriber) close() {
	close(s.done)
	s.conn.Close()
}

// writePump delivers queued events and keepalive pings
func (s *wsSubscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case event := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(event); err != nil {
				s.logger.Debug().Err(err).Msg("WebSocket write failed")
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection until the client goes away; clients
// are not expected to send anything.
func (s *wsSubscriber) readPump() {
	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
