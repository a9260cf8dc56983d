package ipc

import (
	"bufio"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeBackend struct {
	code       string
	codeErr    error
	outputPath string
	hasOutput  bool
	stats      Stats
}

func (f *fakeBackend) GenerateCode() (string, error) { return f.code, f.codeErr }
func (f *fakeBackend) OutputPath() (string, bool)    { return f.outputPath, f.hasOutput }
func (f *fakeBackend) Stats() Stats                  { return f.stats }

func dialAndExchange(t *testing.T, sockPath, cmd string) string {
	t.Helper()
	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	return reply
}

func newTestServer(t *testing.T, backend Backend) *Server {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	s, err := Listen(sockPath, backend, 1024, zerolog.Nop())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	go func() {
		for {
			conn, ok := s.Accept()
			if ok {
				go s.Serve(conn)
				continue
			}
			time.Sleep(time.Millisecond)
		}
	}()

	return s
}

func TestPingCommand(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})
	reply := dialAndExchange(t, s.ln.Addr().String(), "ping")
	if strings.TrimSpace(reply) != "PONG" {
		t.Errorf("reply = %q, want PONG", reply)
	}
}

func TestGetCodeCommand(t *testing.T) {
	s := newTestServer(t, &fakeBackend{code: "<?php return [];\n"})
	reply := dialAndExchange(t, s.ln.Addr().String(), "getCode")
	if !strings.Contains(reply, "<?php") {
		t.Errorf("reply = %q, want php code", reply)
	}
}

func TestUnknownCommand(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})
	reply := dialAndExchange(t, s.ln.Addr().String(), "bogus")
	if !strings.HasPrefix(reply, "ERROR: Unknown command: bogus") {
		t.Errorf("reply = %q, want unknown-command error", reply)
	}
}

func TestStatsCommand(t *testing.T) {
	s := newTestServer(t, &fakeBackend{stats: Stats{Total: 3, Strategy: "File", Uptime: 5 * time.Second}})
	reply := dialAndExchange(t, s.ln.Addr().String(), "stats")
	if reply != "total:3 strategy:File uptime:5\n" {
		t.Errorf("reply = %q, want total:3 strategy:File uptime:5", reply)
	}
}

func TestGetFilePathUnavailable(t *testing.T) {
	s := newTestServer(t, &fakeBackend{hasOutput: false})
	reply := dialAndExchange(t, s.ln.Addr().String(), "getFilePath")
	if !strings.Contains(reply, "File strategy not available") {
		t.Errorf("reply = %q, want unavailable error", reply)
	}
}

func TestPingHelperAgainstRunningServer(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})
	if err := Ping(s.ln.Addr().String(), time.Second); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestOversizeRequestKeepsConnectionOpen(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})

	conn, err := net.DialTimeout("unix", s.ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	oversized := strings.Repeat("x", 2048)
	if _, err := conn.Write([]byte(oversized + "\n")); err != nil {
		t.Fatalf("Write oversized request: %v", err)
	}

	reader := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if !strings.HasPrefix(reply, "ERROR: Request too large:") {
		t.Errorf("reply = %q, want oversize-request error", reply)
	}

	// The connection must stay open for subsequent requests (spec P8).
	if _, err := conn.Write([]byte("ping\n")); err != nil {
		t.Fatalf("Write ping after oversize request: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	pingReply, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString ping reply: %v", err)
	}
	if strings.TrimSpace(pingReply) != "PONG" {
		t.Errorf("ping reply after oversize request = %q, want PONG", pingReply)
	}
}
