package daemon

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/discoveryd/internal/config"
)

func testConfig(t *testing.T, root string) *config.Daemon {
	t.Helper()
	dir := t.TempDir()
	return &config.Daemon{
		Roots:           []string{root},
		OutputPath:      filepath.Join(dir, "cache.php"),
		SocketPath:      filepath.Join(dir, "daemon.sock"),
		PIDPath:         filepath.Join(dir, "daemon.pid"),
		WriteToDisk:     true,
		MaxFileSize:     1 << 20,
		MaxRequestSize:  1024,
		MaxCacheEntries: 1000,
		Format:          "php",
	}
}

func pingUntilReady(t *testing.T, sockPath string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("unix", sockPath, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("daemon socket %s never came up", sockPath)
}

func TestDaemonBootsScansAndServesIPC(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "A.php"), []byte("<?php\nnamespace App;\nclass A {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t, root)
	d := New(cfg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	pingUntilReady(t, cfg.SocketPath, 3*time.Second)

	conn, err := net.DialTimeout("unix", cfg.SocketPath, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if _, err := conn.Write([]byte("stats\n")); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := bufio.NewReader(conn).ReadString('\n')
	conn.Close()
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if !strings.HasPrefix(reply, "total:1 strategy:File uptime:") {
		t.Errorf("unexpected stats reply: %q", reply)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not shut down in time")
	}

	if _, err := os.Stat(cfg.SocketPath); !os.IsNotExist(err) {
		t.Error("socket file should be removed after shutdown")
	}
	if _, err := os.Stat(cfg.OutputPath); err != nil {
		t.Errorf("expected cache output file to exist: %v", err)
	}
}

func TestGuardRecoversCleansUpAndRepanics(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "daemon.sock")
	pidPath := filepath.Join(dir, "daemon.pid")
	if err := os.WriteFile(sockPath, []byte{}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pidPath, []byte("123"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := &Daemon{
		cfg: &config.Daemon{SocketPath: sockPath, PIDPath: pidPath},
		log: zerolog.Nop(),
	}

	recovered := func() (r any) {
		defer func() { r = recover() }()
		d.guard("test", func() { panic("boom") })
		return nil
	}()

	if recovered != "boom" {
		t.Errorf("recovered = %v, want guard to re-panic with the original value", recovered)
	}
	if _, err := os.Stat(sockPath); !os.IsNotExist(err) {
		t.Error("socket file should be removed by guard's cleanup before re-panicking")
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("pid file should be removed by guard's cleanup before re-panicking")
	}
}
