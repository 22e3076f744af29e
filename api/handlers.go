package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-room/domain"
	"board-room/room"
)

const boardEventMaxSize = 64 << 10

// Hub is the live side the HTTP surface drives.
type Hub interface {
	Serve(ctx context.Context, boardID string, t room.Transport) error
	ApplyBoardEvent(ctx context.Context, ev domain.BoardEvent) error
	Rooms() []room.RoomStats
}

type Options struct {
	// ServiceToken guards the REST-side endpoints. Empty disables them.
	ServiceToken string
	// OriginPatterns lists hosts allowed to open websockets. Empty allows only same-origin.
	OriginPatterns []string
}

// Register wires up board room endpoints on the given Echo instance.
func Register(e *echo.Echo, hub Hub, opts Options, logger *log.Logger) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/boards/connect/:boardId", connectBoard(hub, opts, logger))
	e.POST("/api/boards/:boardId/events", postBoardEvent(hub, opts.ServiceToken, logger))
	e.GET("/api/rooms", listRooms(hub, opts.ServiceToken))
}

func connectBoard(hub Hub, opts Options, logger *log.Logger) echo.HandlerFunc {
	accept := &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns}
	return func(c echo.Context) error {
		boardID := c.Param("boardId")
		conn, err := websocket.Accept(c.Response(), c.Request(), accept)
		if err != nil {
			logger.WithError(err).WithField("board", boardID).Warn("websocket upgrade failed")
			return nil
		}
		if err := hub.Serve(c.Request().Context(), boardID, newSocket(conn)); err != nil {
			logger.WithError(err).WithField("board", boardID).Debug("connection rejected")
		}
		return nil
	}
}

type boardEventBody struct {
	Type   string          `json:"type"`
	UserID string          `json:"userId"`
	Data   json.RawMessage `json:"data"`
}

func postBoardEvent(hub Hub, token string, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !serviceTokenMatches(c.Request().Header, token) {
			return c.NoContent(http.StatusUnauthorized)
		}

		var body boardEventBody
		dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, boardEventMaxSize))
		if err := dec.Decode(&body); err != nil || body.Type == "" {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		ev := domain.BoardEvent{BoardID: c.Param("boardId"), Type: body.Type, UserID: body.UserID, Data: body.Data}
		if err := hub.ApplyBoardEvent(c.Request().Context(), ev); err != nil {
			logger.WithFields(log.Fields{"board": ev.BoardID, "event": ev.Type}).WithError(err).Error("apply board event")
			if domain.KindOf(err) == domain.KindValidation {
				return c.String(http.StatusBadRequest, domain.PublicMessage(err))
			}
			return c.String(http.StatusInternalServerError, domain.PublicMessage(err))
		}
		return c.NoContent(http.StatusAccepted)
	}
}

func listRooms(hub Hub, token string) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !serviceTokenMatches(c.Request().Header, token) {
			return c.NoContent(http.StatusUnauthorized)
		}
		return c.JSON(http.StatusOK, hub.Rooms())
	}
}
