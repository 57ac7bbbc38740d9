package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/parallaxsearch/parallax/internal/store"
)

// TurnsHandler exposes persisted turn history for a session.
type TurnsHandler struct {
	Turns store.TurnStore
}

func (h *TurnsHandler) Register(g *echo.Group) {
	g.GET("/sessions/:id/turns", h.listTurns)
}

func (h *TurnsHandler) listTurns(c echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id required")
	}
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 100")
		}
		limit = n
	}
	turns, err := h.Turns.RecentTurns(c.Request().Context(), sessionID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"turns":      turns,
	})
}
