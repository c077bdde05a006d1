package pipetransport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gravwell/pixelforge/internal/record"
)

func TestDialSucceedsAgainstListeningServer(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "pipe.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		ServerHandshake(conn, "s3cr3t")
	}()

	client := NewClient(sock, "s3cr3t", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Dial(ctx); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client.Close()
}

func TestHandshakeRejectsBadSecret(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "pipe.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		ServerHandshake(conn, "correct-secret")
	}()

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := handshake(conn, "wrong-secret"); err == nil {
		t.Fatalf("expected handshake with wrong secret to fail")
	}
}

func TestClientWriteAndServerReceive(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "pipe.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if err := ServerHandshake(conn, "s3cr3t"); err != nil {
			return
		}
		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		received <- buf[:n]
	}()

	client := NewClient(sock, "s3cr3t", nil)
	rec := record.TrackingRecord{CompanyID: "12800", PixelID: "100"}
	if err := client.Write(rec); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case b := <-received:
		if len(b) == 0 {
			t.Fatalf("expected a non-empty line on the server side")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the server to receive the record")
	}
}

func TestControlServerHidesEndpointsFromUnauthorizedPeers(t *testing.T) {
	srv := &ControlServer{}
	mux := srv.Mux()

	req := httptest.NewRequest(http.MethodGet, "/internal/health", nil)
	req.RemoteAddr = "203.0.113.50:4444"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a non-loopback caller, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/internal/health", nil)
	req.RemoteAddr = "127.0.0.1:4444"
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for a loopback caller, got %d", w.Code)
	}
}

func TestControlServerAllowListExtendsLoopback(t *testing.T) {
	allowed := net.ParseIP("203.0.113.50")
	srv := &ControlServer{Allow: func(ip net.IP) bool { return ip.Equal(allowed) }}
	mux := srv.Mux()

	req := httptest.NewRequest(http.MethodPost, "/internal/circuit-reset", nil)
	req.RemoteAddr = "203.0.113.50:4444"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for an allow-listed caller, got %d", w.Code)
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	d := time.Duration(0)
	for i := 0; i < 20; i++ {
		d = backoff(d)
	}
	if d != maxRetryTime {
		t.Fatalf("expected backoff to cap at %v, got %v", maxRetryTime, d)
	}
}
