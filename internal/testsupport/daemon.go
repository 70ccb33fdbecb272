package testsupport

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Script plays the daemon's side of an in-memory stream. Tests receive the
// client's outbound lines through Lines and push inbound frames with Push,
// giving full control over wire ordering without a real socket.
type Script struct {
	t     testing.TB
	conn  net.Conn
	lines chan []byte
}

// NewScript returns the daemon-side harness and the client-side stream to
// hand to transport.NewConn. Closing the script simulates daemon EOF.
func NewScript(t testing.TB) (*Script, net.Conn) {
	t.Helper()

	client, daemon := net.Pipe()
	s := &Script{t: t, conn: daemon, lines: make(chan []byte, 64)}
	go s.readLoop()
	t.Cleanup(func() {
		_ = daemon.Close()
		_ = client.Close()
	})
	return s, client
}

func (s *Script) readLoop() {
	reader := bufio.NewReader(s.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			s.lines <- line
		}
		if err != nil {
			close(s.lines)
			return
		}
	}
}

// NextRequest waits for the client's next outbound line and decodes it.
func (s *Script) NextRequest() map[string]any {
	s.t.Helper()

	select {
	case line, ok := <-s.lines:
		if !ok {
			s.t.Fatal("stream closed before a request arrived")
		}
		var req map[string]any
		if err := json.Unmarshal(line, &req); err != nil {
			s.t.Fatalf("decode request line %q: %v", line, err)
		}
		return req
	case <-time.After(5 * time.Second):
		s.t.Fatal("timed out waiting for a request")
	}
	return nil
}

// RequestID extracts the correlation id from a decoded request.
func (s *Script) RequestID(req map[string]any) string {
	s.t.Helper()

	id, ok := req["id"].(string)
	if !ok || id == "" {
		s.t.Fatalf("request carries no string id: %#v", req)
	}
	return id
}

// Push writes one raw line to the client. The line need not be valid JSON,
// so tests can inject framing garbage.
func (s *Script) Push(line string) {
	s.t.Helper()

	if err := s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		s.t.Fatalf("set write deadline: %v", err)
	}
	if _, err := s.conn.Write([]byte(line + "\n")); err != nil {
		s.t.Fatalf("push line: %v", err)
	}
}

// Respond pushes a correlated response with the given data payload.
func (s *Script) Respond(id, dataJSON string) {
	s.t.Helper()
	s.Push(`{"id":"` + id + `","data":` + dataJSON + `}`)
}

// PushEvent pushes an unsolicited event frame with the given payload.
func (s *Script) PushEvent(dataJSON string) {
	s.t.Helper()
	s.Push(`{"type":"event","data":` + dataJSON + `}`)
}

// Close ends the stream from the daemon side, surfacing EOF to the client.
func (s *Script) Close() {
	_ = s.conn.Close()
}

// Daemon is a scripted daemon behind a real Unix socket for tests covering
// transport.Dial and the CLI. It accepts a single connection and answers
// every request with the provided handler's lines.
type Daemon struct {
	t    testing.TB
	path string
	ln   net.Listener
}

// StartDaemon listens on a short-lived socket path and serves one
// connection. For each inbound request line, handle returns the raw lines
// to write back (nil means stay silent).
func StartDaemon(t testing.TB, handle func(req map[string]any) []string) *Daemon {
	t.Helper()

	// t.TempDir can exceed the Unix socket path limit on some systems; keep
	// the socket under a short-named directory instead.
	dir, err := os.MkdirTemp("", "linewire")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, "daemon.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen on %s: %v", path, err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	d := &Daemon{t: t, path: path, ln: ln}
	go d.serve(handle)
	return d
}

// Path returns the daemon's socket path.
func (d *Daemon) Path() string { return d.path }

// Close stops the listener, refusing further connections.
func (d *Daemon) Close() { _ = d.ln.Close() }

func (d *Daemon) serve(handle func(req map[string]any) []string) {
	conn, err := d.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var req map[string]any
		if json.Unmarshal(line, &req) != nil {
			continue
		}
		for _, out := range handle(req) {
			if _, err := conn.Write([]byte(out + "\n")); err != nil {
				return
			}
		}
	}
}
