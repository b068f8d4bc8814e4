package tcpjson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/openastro/skybus/pkg/bus"
	"github.com/openastro/skybus/pkg/property"
)

// Server accepts protocol connections and attaches one bus client per
// connection, so every peer gets the full define/update/delete stream and
// may submit change and enable-BLOB requests.
type Server struct {
	bus    *bus.Bus
	addr   string
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	sessions map[*session]struct{}
	stopped  bool
	wg       sync.WaitGroup
}

// NewServer creates a protocol server bound to addr (e.g. ":7624").
func NewServer(b *bus.Bus, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		bus:      b,
		addr:     addr,
		logger:   logger.With(zap.String("component", "tcpjson")),
		sessions: make(map[*session]struct{}),
	}
}

// Start begins accepting connections in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("Protocol server started", zap.String("address", listener.Addr().String()))
	s.wg.Add(1)
	go s.acceptLoop(listener)
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open session, then waits for the
// handler goroutines to finish.
func (s *Server) Stop() error {
	var err error
	s.mu.Lock()
	s.stopped = true
	if s.listener != nil {
		err = s.listener.Close()
	}
	open := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		sess.close()
	}
	s.wg.Wait()
	s.logger.Info("Protocol server stopped")
	return err
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			s.logger.Warn("Accept failed", zap.Error(err))
			return
		}
		sess := newSession(s, conn)
		s.mu.Lock()
		s.sessions[sess] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go sess.serve()
	}
}

func (s *Server) dropSession(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// session is one connected peer: a bus client whose observer writes
// envelopes to the socket, plus a read loop that feeds requests in.
type session struct {
	server *Server
	conn   net.Conn
	logger *zap.Logger
	client *bus.Client

	writeMu sync.Mutex
	enc     *json.Encoder

	closeOnce sync.Once
}

func newSession(s *Server, conn net.Conn) *session {
	sess := &session{
		server: s,
		conn:   conn,
		logger: s.logger.With(zap.String("peer", conn.RemoteAddr().String())),
		enc:    json.NewEncoder(conn),
	}
	sess.client = bus.NewClient(conn.RemoteAddr().String(), sess)
	sess.client.Remote = true
	return sess
}

func (sess *session) serve() {
	defer sess.server.wg.Done()
	defer sess.close()

	if r := sess.server.bus.AttachClient(sess.client); r != bus.OK {
		sess.logger.Warn("Failed to attach peer client", zap.Stringer("result", r))
		return
	}
	defer sess.server.bus.DetachClient(sess.client)
	sess.logger.Info("Peer connected")

	scanner := bufio.NewScanner(sess.conn)
	scanner.Buffer(make([]byte, 64*1024), MaxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			sess.logger.Warn("Dropping malformed envelope", zap.Error(err))
			continue
		}
		sess.handle(&env)
	}
	sess.logger.Info("Peer disconnected")
}

func (sess *session) handle(env *Envelope) {
	switch env.Op {
	case OpGet:
		tpl := env.Property
		if tpl == nil {
			tpl = property.All
		}
		sess.client.EnumerateProperties(tpl)
	case OpChange:
		if env.Property == nil {
			return
		}
		if r := sess.client.ChangeProperty(env.Property); r != bus.OK {
			sess.logger.Debug("Change request rejected",
				zap.String("device", env.Property.Device),
				zap.String("property", env.Property.Name),
				zap.Stringer("result", r))
		}
	case OpEnableBLOB:
		tpl := env.Property
		if tpl == nil {
			tpl = property.All
		}
		mode, err := bus.ParseBLOBMode(env.Mode)
		if err != nil {
			sess.logger.Warn("Dropping enable-BLOB request", zap.Error(err))
			return
		}
		sess.client.EnableBLOB(tpl, mode)
	default:
		sess.logger.Warn("Dropping envelope with unknown operation", zap.String("op", env.Op))
	}
}

func (sess *session) send(env *Envelope) bus.Result {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	if err := sess.enc.Encode(env); err != nil {
		sess.logger.Debug("Write failed, closing session", zap.Error(err))
		go sess.close()
		return bus.Failed
	}
	return bus.OK
}

func (sess *session) close() {
	sess.closeOnce.Do(func() {
		_ = sess.conn.Close()
		sess.server.dropSession(sess)
	})
}

// Observer implementation: bus events become outgoing envelopes.

func (sess *session) Attach(c *bus.Client) bus.Result { return bus.OK }
func (sess *session) Detach(c *bus.Client) bus.Result { return bus.OK }

func (sess *session) DefineProperty(c *bus.Client, d *bus.Device, p *property.Property, message string) bus.Result {
	return sess.send(&Envelope{Op: OpDefine, Device: d.Name, Message: message, Property: p})
}

func (sess *session) UpdateProperty(c *bus.Client, d *bus.Device, p *property.Property, message string) bus.Result {
	return sess.send(&Envelope{Op: OpUpdate, Device: d.Name, Message: message, Property: p})
}

func (sess *session) DeleteProperty(c *bus.Client, d *bus.Device, p *property.Property, message string) bus.Result {
	return sess.send(&Envelope{Op: OpDelete, Device: d.Name, Message: message, Property: p})
}

func (sess *session) SendMessage(c *bus.Client, d *bus.Device, message string) bus.Result {
	env := &Envelope{Op: OpMessage, Message: message}
	if d != nil {
		env.Device = d.Name
	}
	return sess.send(env)
}
