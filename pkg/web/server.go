// Package web serves single-frame classification over HTTP and streams
// pipeline results to browsers over a websocket.
package web

import (
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/menta2k/face-classifier/internal/log"
	"github.com/menta2k/face-classifier/pkg/frame"
	"github.com/menta2k/face-classifier/pkg/geometry"
	"github.com/menta2k/face-classifier/pkg/pipeline"
	"github.com/menta2k/face-classifier/pkg/processing"
)

// maxUpload bounds the multipart body of /api/classify
const maxUpload = 16 * 1024 * 1024

// Server is the HTTP front-end of a pipeline
type Server struct {
	app      *fiber.App
	pipeline *pipeline.Pipeline
	proc     *processing.Processor
	hub      *hub
	version  string
}

// NewServer creates the server and starts its result hub
func NewServer(p *pipeline.Pipeline, version string) *Server {
	s := &Server{
		pipeline: p,
		proc:     processing.NewProcessor(),
		hub:      newHub(),
		version:  version,
	}

	app := fiber.New(fiber.Config{
		AppName:               "face-classifier",
		DisableStartupMessage: true,
		BodyLimit:             maxUpload,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/stats", s.handleStats)
	api.Post("/classify", s.handleClassify)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/results", websocket.New(s.hub.serve))

	s.app = app
	go s.hub.run()
	return s
}

// App exposes the fiber app, mainly for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown
func (s *Server) Listen(addr string) error {
	log.Info("web server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops the listener and disconnects websocket clients
func (s *Server) Shutdown() error {
	s.hub.stop()
	return s.app.Shutdown()
}

// Publish sends a result to every websocket client. Slow clients are dropped.
func (s *Server) Publish(res pipeline.Result) {
	if err := s.hub.publishJSON(res); err != nil {
		log.Warn("encode result", "error", err)
	}
}

// Clients returns the number of connected websocket clients
func (s *Server) Clients() int {
	return s.hub.clientCount()
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"version": s.version,
		"clients": s.hub.clientCount(),
	})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(s.pipeline.Stats())
}

// handleClassify runs one uploaded image through the pipeline. The optional
// rotation form value is the sensor rotation in degrees.
func (s *Server) handleClassify(c *fiber.Ctx) error {
	rotation := 0
	if v := strings.TrimSpace(c.FormValue("rotation")); v != "" {
		r, err := strconv.Atoi(v)
		if err != nil {
			return badRequest(c, "rotation must be an integer")
		}
		if rotation, err = geometry.NormalizeRotation(r); err != nil {
			return badRequest(c, err.Error())
		}
	}

	fh, err := c.FormFile("frame")
	if err != nil {
		return badRequest(c, "missing multipart file field 'frame'")
	}
	f, err := fh.Open()
	if err != nil {
		return badRequest(c, err.Error())
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return badRequest(c, err.Error())
	}
	img, err := s.proc.DecodeImage(data)
	if err != nil {
		return badRequest(c, err.Error())
	}

	res := s.pipeline.ProcessFrame(c.UserContext(), frame.FromImage(img, rotation))
	s.Publish(res)

	if res.Err != nil {
		log.Warn("classify request failed", "frame", res.FrameID, "error", res.Err)
		return c.Status(fiber.StatusInternalServerError).JSON(res)
	}
	return c.JSON(res)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
