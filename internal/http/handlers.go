package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coursechat/internal/rag"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleChatQuery answers GET /api/chat?prompt=... as plain text.
func (s *Server) handleChatQuery(c echo.Context) error {
	answer, err := s.service.Answer(c.Request().Context(), c.QueryParam("prompt"))
	if err != nil {
		return err
	}
	return c.String(http.StatusOK, answer)
}

func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid chat request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	answer, err := s.service.Answer(c.Request().Context(), req.Query)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ChatResponse{Answer: answer})
}

func (s *Server) handleReindex(c echo.Context) error {
	var req ReindexRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid reindex request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := s.service.Reindex(c.Request().Context(), c.Param("reference"), req.Content); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleReindexCourse(c echo.Context) error {
	var req CourseRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid course request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	course := rag.Course{
		Reference:   c.Param("reference"),
		Name:        req.Name,
		Description: req.Description,
		Topics:      req.Topics,
	}
	if err := s.service.ReindexCourse(c.Request().Context(), course); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRemoveReference(c echo.Context) error {
	if err := s.service.RemoveReference(c.Request().Context(), c.Param("reference")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
