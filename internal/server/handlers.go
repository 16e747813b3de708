package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"chatrelay/internal/domain"
)

const isoMillis = "2006-01-02T15:04:05.000Z"

type handler struct {
	messenger domain.Messenger
	stats     StatsSource
	index     AttachmentIndex
	logger    *slog.Logger
}

type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (h *handler) register(e *echo.Echo, sendMW ...echo.MiddlewareFunc) {
	e.POST("/send-message", h.SendMessage, sendMW...)
	e.GET("/user-stats/:userId", h.UserStats)
	e.GET("/status", h.Status)
	e.GET("/health", h.Health)
	e.GET("/attachments", h.RecentAttachments)
	e.GET("/attachments/:id", h.Attachment)
	e.GET("/attachments/:id/file", h.AttachmentFile)
}

func now() string { return time.Now().UTC().Format(isoMillis) }

func (h *handler) SendMessage(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.To) == "" || req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Missing required parameters: to and message",
		})
	}
	if h.messenger == nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "Failed to send message",
			"details": domain.ErrNotReady.Error(),
		})
	}

	if err := h.messenger.Send(c.Request().Context(), req.To, req.Message); err != nil {
		h.logger.Error("send-message failed", "to", req.To, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "Failed to send message",
			"details": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Message sent successfully",
	})
}

func (h *handler) UserStats(c echo.Context) error {
	userID := c.Param("userId")
	var details string
	if h.stats != nil {
		res := h.stats.UserStats(c.Request().Context(), userID)
		if res.OK() {
			return c.JSONBlob(http.StatusOK, res.Raw)
		}
		if res != nil {
			details = res.Message
		}
	}
	if details == "" {
		details = "Unknown error"
	}
	return c.JSON(http.StatusNotFound, map[string]string{
		"error":   "User not found or error getting stats",
		"details": details,
	})
}

func (h *handler) Status(c echo.Context) error {
	status := "not_ready"
	if h.messenger != nil && h.messenger.State() == domain.StateReady {
		status = "ready"
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":    status,
		"timestamp": now(),
	})
}

func (h *handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": now(),
	})
}

func (h *handler) RecentAttachments(c echo.Context) error {
	if h.index == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Attachment index disabled"})
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	entries, err := h.index.Recent(c.Request().Context(), limit)
	if err != nil {
		h.logger.Error("list attachments failed", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list attachments"})
	}
	return c.JSON(http.StatusOK, map[string]any{"attachments": entries})
}

func (h *handler) Attachment(c echo.Context) error {
	if h.index == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Attachment index disabled"})
	}
	entry, err := h.index.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("get attachment failed", "id", c.Param("id"), "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to read attachment"})
	}
	if entry == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Attachment not found"})
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *handler) AttachmentFile(c echo.Context) error {
	if h.index == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Attachment index disabled"})
	}
	entry, err := h.index.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("get attachment failed", "id", c.Param("id"), "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to read attachment"})
	}
	if entry == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Attachment not found"})
	}
	if entry.ContentType != "" {
		c.Response().Header().Set(echo.HeaderContentType, entry.ContentType)
	}
	return c.Attachment(entry.Path, entry.Filename)
}
