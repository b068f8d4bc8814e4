// Package discovery implements the UDP service-discovery responder.
// Clients broadcast a probe message to the discovery port; every server on
// the network answers with the ports where its TCP adapter and HTTP
// endpoints can be reached.
package discovery

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProbeMessage is the payload clients broadcast to locate servers.
const ProbeMessage = "skybusdiscovery1"

// DefaultPort is the conventional discovery port.
const DefaultPort = 7625

// Response is the JSON packet a server answers probes with.
type Response struct {
	TCPPort  int `json:"tcpPort"`
	HTTPPort int `json:"httpPort"`
}

// Responder listens for discovery broadcasts and answers with the server's
// API ports.
type Responder struct {
	port     int
	response Response
	logger   *zap.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	stopCh chan struct{}
}

// NewResponder creates a responder for the given UDP port.
func NewResponder(port, tcpPort, httpPort int, logger *zap.Logger) *Responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{
		port:     port,
		response: Response{TCPPort: tcpPort, HTTPPort: httpPort},
		logger:   logger.With(zap.String("component", "discovery")),
		stopCh:   make(chan struct{}),
	}
}

// Start begins listening in a background goroutine.
func (r *Responder) Start() error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: r.port})
	if err != nil {
		return fmt.Errorf("failed to create UDP listener: %w", err)
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	r.logger.Info("Discovery responder started",
		zap.Int("udp_port", r.port),
		zap.Int("tcp_port", r.response.TCPPort))
	go r.loop(conn)
	return nil
}

// Stop shuts the responder down.
func (r *Responder) Stop() {
	close(r.stopCh)
	r.mu.Lock()
	if r.conn != nil {
		_ = r.conn.Close()
	}
	r.mu.Unlock()
}

func (r *Responder) loop(conn *net.UDPConn) {
	buffer := make([]byte, 1024)
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-r.stopCh:
				return
			default:
				r.logger.Warn("Discovery read failed", zap.Error(err))
				continue
			}
		}
		if !strings.Contains(string(buffer[:n]), ProbeMessage) {
			continue
		}
		payload, err := json.Marshal(r.response)
		if err != nil {
			continue
		}
		if _, err := conn.WriteToUDP(payload, addr); err != nil {
			r.logger.Warn("Discovery reply failed",
				zap.String("peer", addr.String()),
				zap.Error(err))
			continue
		}
		r.logger.Debug("Answered discovery probe", zap.String("peer", addr.String()))
	}
}
