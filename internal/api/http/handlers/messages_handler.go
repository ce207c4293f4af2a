package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/api/dto"
	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/service"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

const (
	streamLocalsKey = "message_stream"
	writeWait       = 5 * time.Second
)

// MessagesHandler serves the per-ticket chat thread.
type MessagesHandler struct {
	chat         *service.ChatService
	logger       *zap.Logger
	pingInterval time.Duration
}

// NewMessagesHandler constructs handler.
func NewMessagesHandler(chat *service.ChatService, logger *zap.Logger, pingInterval time.Duration) *MessagesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &MessagesHandler{chat: chat, logger: logger, pingInterval: pingInterval}
}

// PostMessage POST /tickets/:id/messages.
func (h *MessagesHandler) PostMessage(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req dto.CreateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	msg, err := h.chat.PostMessage(c.UserContext(), actor, c.Params("id"), req.Body)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": messageResponse(msg)})
}

// ListMessages GET /tickets/:id/messages?since=cursor&limit=n.
func (h *MessagesHandler) ListMessages(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	page, err := h.chat.ListMessages(c.UserContext(), actor, c.Params("id"), c.Query("since"), parseInt(c.Query("limit"), 0))
	if err != nil {
		return err
	}
	items := make([]dto.TicketMessageResponse, 0, len(page.Messages))
	for i := range page.Messages {
		items = append(items, messageResponse(&page.Messages[i]))
	}
	return c.JSON(dto.MessageListResponse{Data: items, NextCursor: page.NextCursor})
}

// UpgradeStream authorizes a websocket subscription before the protocol switch,
// so permission failures still get a regular HTTP error response.
func (h *MessagesHandler) UpgradeStream(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	stream, err := h.chat.Subscribe(c.UserContext(), actor, c.Params("id"), c.Query("since"))
	if err != nil {
		return err
	}
	c.Locals(streamLocalsKey, stream)
	if err := c.Next(); err != nil {
		stream.Close()
		return err
	}
	return nil
}

// Stream GET /tickets/:id/messages/ws. Frames: every backlog message, one
// caught_up, then live messages. A lagging subscriber gets a resync frame
// carrying its last cursor and is disconnected.
func (h *MessagesHandler) Stream() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		stream, ok := conn.Locals(streamLocalsKey).(*service.MessageStream)
		if !ok {
			_ = conn.WriteJSON(dto.StreamFrame{Type: dto.FrameError, Error: "subscription missing"})
			return
		}
		defer stream.Close()
		ticketID := conn.Params("id")

		for _, msg := range stream.Backlog {
			if !stream.Accept(msg) {
				continue
			}
			if err := h.writeMessage(conn, msg); err != nil {
				return
			}
		}
		if err := writeFrame(conn, dto.StreamFrame{Type: dto.FrameCaughtUp, Cursor: stream.Cursor()}); err != nil {
			return
		}

		readDeadline := 2 * h.pingInterval
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readDeadline))
		})

		// Clients only send control frames; the read loop detects disconnects.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						h.logger.Debug("chat stream read failed", zap.String("ticket_id", ticketID), zap.Error(err))
					}
					return
				}
			}
		}()

		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()

		for {
			select {
			case msg, open := <-stream.Live():
				if !open {
					frame := dto.StreamFrame{Type: dto.FrameClosed, Cursor: stream.Cursor()}
					if stream.Lagged() {
						frame.Type = dto.FrameResync
					}
					_ = writeFrame(conn, frame)
					return
				}
				if !stream.Accept(msg) {
					continue
				}
				if err := h.writeMessage(conn, msg); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	})
}

func (h *MessagesHandler) writeMessage(conn *websocket.Conn, msg domain.TicketMessage) error {
	resp := messageResponse(&msg)
	return writeFrame(conn, dto.StreamFrame{Type: dto.FrameMessage, Message: &resp, Cursor: resp.Cursor})
}

func writeFrame(conn *websocket.Conn, frame dto.StreamFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}

func messageResponse(msg *domain.TicketMessage) dto.TicketMessageResponse {
	return dto.TicketMessageResponse{
		ID:         msg.ID,
		TicketID:   msg.TicketID,
		SenderID:   msg.SenderID,
		SenderRole: msg.SenderRole,
		Body:       msg.Body,
		CreatedAt:  msg.CreatedAt,
		Cursor:     msg.Cursor().String(),
	}
}
