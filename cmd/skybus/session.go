package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/openastro/skybus/internal/adapters/tcpjson"
	"github.com/openastro/skybus/pkg/property"
)

// session is a minimal protocol client for one CLI invocation. A reader
// goroutine feeds envelopes into a channel, so waiting with a timeout does
// not poison the stream for later commands.
type session struct {
	conn     net.Conn
	enc      *json.Encoder
	incoming chan *tcpjson.Envelope
	timeout  time.Duration
}

func dial(host string, timeout time.Duration) (*session, error) {
	conn, err := net.DialTimeout("tcp", host, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", host, err)
	}
	s := &session{
		conn:     conn,
		enc:      json.NewEncoder(conn),
		incoming: make(chan *tcpjson.Envelope, 64),
		timeout:  timeout,
	}
	go s.readLoop()
	return s, nil
}

func (s *session) readLoop() {
	defer close(s.incoming)
	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 64*1024), tcpjson.MaxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env tcpjson.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			continue
		}
		s.incoming <- &env
	}
}

func (s *session) close() { _ = s.conn.Close() }

func (s *session) send(env *tcpjson.Envelope) error {
	return s.enc.Encode(env)
}

// next returns the next envelope, or nil once the timeout passes or the
// connection is gone.
func (s *session) next() (*tcpjson.Envelope, error) {
	select {
	case env := <-s.incoming:
		return env, nil
	case <-time.After(s.timeout):
		return nil, nil
	}
}

// collect requests the matching properties and gathers definitions until
// the server goes quiet.
func (s *session) collect(device, prop string) ([]*property.Property, error) {
	tpl := &property.Property{Device: device, Name: prop}
	if err := s.send(&tcpjson.Envelope{Op: tcpjson.OpGet, Property: tpl}); err != nil {
		return nil, err
	}
	var props []*property.Property
	seen := make(map[string]bool)
	for {
		env, err := s.next()
		if err != nil {
			return nil, err
		}
		if env == nil {
			return props, nil
		}
		if env.Op != tcpjson.OpDefine || env.Property == nil {
			continue
		}
		p := env.Property
		if !property.Match(p, tpl) {
			continue
		}
		key := p.Device + "\x00" + p.Name
		if !seen[key] {
			seen[key] = true
			props = append(props, p)
		}
	}
}

// await waits for an update of one property and returns its final snapshot
// once it leaves the busy state.
func (s *session) await(device, prop string) (*property.Property, error) {
	deadline := time.Now().Add(s.timeout)
	var last *property.Property
	for time.Now().Before(deadline) {
		env, err := s.next()
		if err != nil {
			return last, err
		}
		if env == nil {
			return last, nil
		}
		if env.Op != tcpjson.OpUpdate || env.Property == nil {
			continue
		}
		if env.Property.Device != device || env.Property.Name != prop {
			continue
		}
		last = env.Property
		if last.State != property.StateBusy {
			return last, nil
		}
	}
	return last, nil
}

// itemRef is one DEVICE.PROPERTY.ITEM address, optionally with a value.
type itemRef struct {
	device string
	prop   string
	item   string
	value  string
	hasVal bool
}

// parseRef splits DEVICE.PROPERTY.ITEM[=VALUE] from the right, so device
// names may contain dots.
func parseRef(arg string, withValue bool) (itemRef, error) {
	ref := itemRef{}
	spec := arg
	if withValue {
		eq := strings.Index(arg, "=")
		if eq < 0 {
			return ref, fmt.Errorf("missing value in %q, expected DEVICE.PROPERTY.ITEM=VALUE", arg)
		}
		spec = arg[:eq]
		ref.value = arg[eq+1:]
		ref.hasVal = true
	}
	last := strings.LastIndex(spec, ".")
	if last < 0 {
		return ref, fmt.Errorf("invalid address %q, expected DEVICE.PROPERTY.ITEM", arg)
	}
	ref.item = spec[last+1:]
	rest := spec[:last]
	second := strings.LastIndex(rest, ".")
	if second < 0 {
		return ref, fmt.Errorf("invalid address %q, expected DEVICE.PROPERTY.ITEM", arg)
	}
	ref.prop = rest[second+1:]
	ref.device = rest[:second]
	if ref.device == "" || ref.prop == "" || ref.item == "" {
		return ref, fmt.Errorf("invalid address %q, expected DEVICE.PROPERTY.ITEM", arg)
	}
	return ref, nil
}

// parsePropRef splits DEVICE.PROPERTY from the right.
func parsePropRef(arg string) (device, prop string, err error) {
	last := strings.LastIndex(arg, ".")
	if last <= 0 || last == len(arg)-1 {
		return "", "", fmt.Errorf("invalid address %q, expected DEVICE.PROPERTY", arg)
	}
	return arg[:last], arg[last+1:], nil
}

// itemValue renders an item the way the CLI prints it.
func itemValue(p *property.Property, it *property.Item) string {
	switch p.Type {
	case property.TypeText:
		return it.TextContent()
	case property.TypeNumber:
		return it.Number.FormatValue()
	case property.TypeSwitch:
		if it.Switch {
			return "ON"
		}
		return "OFF"
	case property.TypeLight:
		return it.Light.String()
	case property.TypeBLOB:
		if it.Blob.URL != "" {
			return it.Blob.URL
		}
		return fmt.Sprintf("<%d bytes%s>", it.Blob.Size, it.Blob.Format)
	}
	return ""
}

// applyValue writes a textual value into a change-request item according
// to the property type.
func applyValue(p *property.Property, it *property.Item, value string) error {
	switch p.Type {
	case property.TypeText:
		it.SetText(value)
	case property.TypeNumber:
		v, err := property.ParseNumber(value)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", value, err)
		}
		it.Number.Value = v
		it.Number.Target = v
	case property.TypeSwitch:
		switch strings.ToUpper(value) {
		case "ON", "TRUE", "1":
			it.Switch = true
		case "OFF", "FALSE", "0":
			it.Switch = false
		default:
			return fmt.Errorf("invalid switch value %q, expected ON or OFF", value)
		}
	default:
		return fmt.Errorf("property %s.%s is not writable from the command line", p.Device, p.Name)
	}
	return nil
}
