package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fund-connect/internal/hub"
	"fund-connect/internal/logging"
	"fund-connect/internal/messaging"
	"fund-connect/internal/middleware"
	"fund-connect/internal/model"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

var (
	errConnClosed   = errors.New("live connection closed")
	errSlowConsumer = errors.New("live connection send queue full")
)

type LiveHandler struct {
	Messaging *messaging.Service
	Hub       *hub.Hub
	Logger    *slog.Logger
	// Closing, when set, ends every open connection once closed.
	Closing <-chan struct{}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve upgrades a participant's request and pushes every message inserted
// into the conversation until either side closes.
func (h *LiveHandler) Serve(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	if _, err := h.Messaging.GetConversation(c.Request.Context(), caller, conversationID); err != nil {
		middleware.RespondError(c, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	logger := h.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	log := logger.With("conversationId", conversationID, "userId", caller)
	log.Debug("live connection opened")

	send := make(chan hub.Frame, sendBuffer)
	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() {
		closeOnce.Do(func() {
			close(done)
		})
	}
	defer closeDone()

	enqueue := func(f hub.Frame) error {
		select {
		case <-done:
			return errConnClosed
		default:
		}
		select {
		case send <- f:
			return nil
		default:
			closeDone()
			return errSlowConsumer
		}
	}

	unsubscribe := h.Hub.Subscribe(conversationID, func(msg model.Message) error {
		return enqueue(hub.Frame{Type: hub.FrameInsert, Message: &msg})
	})
	defer unsubscribe()

	go h.writeLoop(ws, send, done, log)

	ws.SetReadLimit(64 * 1024)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Debug("live connection closed", "error", err)
			return
		}

		var frame hub.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type == hub.FramePing {
			if err := enqueue(hub.Frame{Type: hub.FramePong}); err != nil {
				return
			}
		}
	}
}

// writeLoop is the only writer of ws. It closes ws on exit, which also ends
// the read loop.
func (h *LiveHandler) writeLoop(ws *websocket.Conn, send <-chan hub.Frame, done <-chan struct{}, log *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case <-done:
			return
		case <-h.Closing:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case f := <-send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(f); err != nil {
				log.Debug("live write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
