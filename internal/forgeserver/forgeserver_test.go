package forgeserver

import (
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gravwell/pixelforge/internal/pipetransport"
	"github.com/gravwell/pixelforge/internal/record"
)

func TestServeDecodesRecordsAndCountsMalformed(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "pipe.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	var mu sync.Mutex
	var got []record.TrackingRecord
	srv := &Server{
		Secret: "s3cr3t",
		Handler: func(rec record.TrackingRecord) {
			mu.Lock()
			got = append(got, rec)
			mu.Unlock()
		},
	}
	go srv.Serve(ln)

	client := pipetransport.NewClient(sock, "s3cr3t", nil)
	if err := client.Write(record.TrackingRecord{CompanyID: "1", PixelID: "2"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := client.Write(record.TrackingRecord{CompanyID: "3", PixelID: "4"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 decoded records, got %d", len(got))
	}
	if got[0].CompanyID != "1" || got[1].CompanyID != "3" {
		t.Fatalf("unexpected record contents: %+v", got)
	}

	ln.Close()
}

func TestServeRejectsBadSecretWithoutPanicking(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "pipe.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	srv := &Server{Secret: "correct"}
	go srv.Serve(ln)

	client := pipetransport.NewClient(sock, "wrong", nil)
	if err := client.Write(record.TrackingRecord{CompanyID: "1"}); err == nil {
		t.Fatalf("expected write with wrong secret to fail")
	}
}
