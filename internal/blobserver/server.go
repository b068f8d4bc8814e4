// Package blobserver exposes BLOB payloads and server status over HTTP.
// Clients that negotiated the URL BLOB mode fetch image data from here
// instead of receiving it inline, and cameras without a native protocol
// connection may upload frames.
package blobserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openastro/skybus/pkg/bus"
	"github.com/openastro/skybus/pkg/health"
	"github.com/openastro/skybus/pkg/property"
)

// MaxUploadSize bounds PUT bodies.
const MaxUploadSize = 256 << 20

// Server serves BLOB content and the status endpoint.
type Server struct {
	bus    *bus.Bus
	health *health.Engine
	addr   string
	logger *zap.Logger

	router   *gin.Engine
	client   *bus.Client
	httpSrv  *http.Server
	listener net.Listener
}

// NewServer builds the HTTP server. The health engine may be nil.
func NewServer(b *bus.Bus, h *health.Engine, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		bus:    b,
		health: h,
		addr:   addr,
		logger: logger.With(zap.String("component", "blobserver")),
	}
	s.client = bus.NewClient("blob-upload", nopObserver{})
	if r := b.AttachClient(s.client); r != bus.OK {
		s.logger.Warn("Failed to attach upload client", zap.Stringer("result", r))
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.httpSrv = &http.Server{Handler: s.router}
	s.bus.SetBlobURLBase(s.BaseURL())

	s.logger.Info("BLOB server started", zap.String("address", listener.Addr().String()))
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// BaseURL is the advertised HTTP root, derived from the bound listener.
// An unspecified listen host is replaced with the machine's hostname so
// the URLs handed to remote clients are fetchable.
func (s *Server) BaseURL() string {
	addr, ok := s.listener.Addr().(*net.TCPAddr)
	if !ok {
		return "http://" + s.listener.Addr().String()
	}
	host := addr.IP.String()
	if addr.IP == nil || addr.IP.IsUnspecified() {
		host = "localhost"
		if h, err := os.Hostname(); err == nil {
			host = h
		}
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(addr.Port))
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.bus.DetachClient(s.client)
	s.logger.Info("BLOB server stopped")
	return err
}

func (s *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(s.logger))

	router.GET("/blob/:id", s.getBlob)
	router.PUT("/blob/:device/:property/:item", s.putBlob)
	router.GET("/status", s.getStatus)
	return router
}

func (s *Server) getBlob(c *gin.Context) {
	entry := s.bus.BlobEntryByID(c.Param("id"))
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown blob"})
		return
	}
	data, size, format := entry.Snapshot()
	if data == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "blob has no content"})
		return
	}
	c.Header("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", entry.Item()+format))
	c.Data(http.StatusOK, contentType(format), data[:size])
}

func (s *Server) putBlob(c *gin.Context) {
	device := c.Param("device")
	prop := c.Param("property")
	item := c.Param("item")

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxUploadSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	format := c.Query("format")
	if format == "" {
		format = formatFor(c.ContentType())
	}

	p := property.InitBLOB(nil, device, prop, "", "", property.StateBusy, 1)
	property.InitBLOBItem(p.Items[0], item, "")
	p.Items[0].SetBlob(data, format)

	r := s.client.ChangeProperty(p)
	switch r {
	case bus.OK:
		c.JSON(http.StatusOK, gin.H{"device": device, "property": prop, "item": item, "size": len(data)})
	case bus.NotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": r.String()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": r.String()})
	}
}

func (s *Server) getStatus(c *gin.Context) {
	devices := make([]gin.H, 0)
	for _, d := range s.bus.Devices() {
		props := s.bus.DefinedProperties(d.Name)
		names := make([]string, 0, len(props))
		for _, p := range props {
			names = append(names, p.Name)
		}
		devices = append(devices, gin.H{
			"name":       d.Name,
			"interface":  d.Interface,
			"remote":     d.Remote,
			"properties": names,
		})
	}

	status := gin.H{
		"version": property.Version,
		"time":    time.Now().UTC(),
		"devices": devices,
	}
	code := http.StatusOK
	if s.health != nil {
		report := s.health.CheckAll(c.Request.Context())
		status["health"] = report
		if report.OverallStatus == health.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
	}
	c.JSON(code, status)
}

func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		}
		switch {
		case c.Writer.Status() >= 500:
			logger.Error("Request failed", fields...)
		case c.Writer.Status() >= 400:
			logger.Warn("Request returned client error", fields...)
		default:
			logger.Debug("Request completed", fields...)
		}
	}
}

func contentType(format string) string {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "fits", "fit", "fts":
		return "application/fits"
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func formatFor(contentType string) string {
	switch contentType {
	case "application/fits":
		return ".fits"
	case "image/jpeg":
		return ".jpeg"
	case "image/png":
		return ".png"
	case "application/json":
		return ".json"
	default:
		return ".bin"
	}
}

// nopObserver backs the upload client; replies go to interactive clients,
// not to this one.
type nopObserver struct{}

func (nopObserver) Attach(c *bus.Client) bus.Result { return bus.OK }
func (nopObserver) Detach(c *bus.Client) bus.Result { return bus.OK }
func (nopObserver) DefineProperty(c *bus.Client, d *bus.Device, p *property.Property, message string) bus.Result {
	return bus.OK
}
func (nopObserver) UpdateProperty(c *bus.Client, d *bus.Device, p *property.Property, message string) bus.Result {
	return bus.OK
}
func (nopObserver) DeleteProperty(c *bus.Client, d *bus.Device, p *property.Property, message string) bus.Result {
	return bus.OK
}
func (nopObserver) SendMessage(c *bus.Client, d *bus.Device, message string) bus.Result {
	return bus.OK
}
