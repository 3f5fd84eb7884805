package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/runelm/internal/ckptstore"
	"github.com/samcharles93/runelm/internal/webui"
)

// CheckpointLister enumerates the checkpoints the server exposes.
type CheckpointLister interface {
	ListCheckpoints() ([]ckptstore.Entry, error)
}

// Server wires the generation endpoints onto an echo instance.
type Server struct {
	service *GenerationService
	ckpts   CheckpointLister
}

func NewServer(service *GenerationService, ckpts CheckpointLister) *Server {
	return &Server{service: service, ckpts: ckpts}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/generations", s.handleCreateGeneration)
	e.GET("/v1/checkpoints", s.handleListCheckpoints)
	e.GET("/healthz", s.handleHealth)

	playground := http.FileServer(webui.StaticFS())
	e.GET("/", func(c *echo.Context) error {
		playground.ServeHTTP(c.Response(), c.Request())
		return nil
	})
}

func (s *Server) handleCreateGeneration(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "generation service not configured", "", "")
	}

	req, err := decodeJSON[GenerationRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, "invalid JSON body: "+err.Error())
	}

	var writer *SSEWriter
	var stream StreamWriter
	if req.Stream != nil && *req.Stream {
		writer, err = NewSSEWriter(c)
		if err != nil {
			return writeBadRequest(c, err.Error())
		}
		stream = writer
	}

	gen, err := s.service.Generate(c.Request().Context(), &req, stream)
	if err != nil {
		if writer != nil && writer.Started() {
			// The error already went out on the stream.
			return nil
		}
		switch {
		case errors.Is(err, ErrInvalidRequest):
			return writeBadRequest(c, err.Error())
		case errors.Is(err, ckptstore.ErrNoCheckpoints):
			return writeError(c, http.StatusServiceUnavailable, "server_error", err.Error(), "", "")
		default:
			return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
		}
	}

	if writer != nil {
		return nil
	}
	return c.JSON(http.StatusOK, gen)
}

func (s *Server) handleListCheckpoints(c *echo.Context) error {
	if s.ckpts == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "checkpoint lister not configured", "", "")
	}

	entries, err := s.ckpts.ListCheckpoints()
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}

	data := make([]CheckpointInfo, 0, len(entries))
	for _, entry := range entries {
		info := CheckpointInfo{
			ID:     checkpointID(entry.Path),
			Object: "checkpoint",
			Epoch:  entry.Epoch,
		}
		if st, err := os.Stat(entry.Path); err == nil {
			info.Created = st.ModTime().Unix()
		}
		data = append(data, info)
	}
	return c.JSON(http.StatusOK, CheckpointList{Object: "list", Data: data})
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
