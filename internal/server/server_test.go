package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"
)

func startServer(t *testing.T, h http.Handler, opts Options) (*Server, string, context.CancelFunc, <-chan error) {
	t.Helper()
	opts.Addr = "127.0.0.1:0"
	s := New(h, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	var addr string
	for i := 0; i < 40; i++ {
		time.Sleep(25 * time.Millisecond)
		if a := s.Addr(); a != nil {
			addr = a.String()
			break
		}
	}
	if addr == "" {
		cancel()
		t.Fatalf("Server did not start in time")
	}
	return s, addr, cancel, done
}

func TestServer_ServesAndStops(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	_, addr, cancel, done := startServer(t, h, Options{})

	resp, err := http.Get("http://" + addr + "/")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("Expected ok, got %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Server did not stop")
	}
}

func TestServer_DrainsInFlightRequest(t *testing.T) {
	started := make(chan struct{})
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		_, _ = io.WriteString(w, "finished")
	})
	_, addr, cancel, done := startServer(t, h, Options{ShutdownTimeout: 2 * time.Second})

	got := make(chan string, 1)
	go func() {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			got <- "error: " + err.Error()
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		got <- string(b)
	}()

	<-started
	cancel()

	if body := <-got; body != "finished" {
		t.Errorf("Expected in-flight request to finish, got %q", body)
	}
	if err := <-done; err != nil {
		t.Errorf("Expected clean shutdown, got %v", err)
	}
}

func TestLimitListener_BlocksPastMax(t *testing.T) {
	raw, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ln := limitListener(raw, 1)
	defer ln.Close()

	accepted := make(chan net.Conn, 2)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- c
		}
	}()

	c1, _ := net.Dial("tcp", raw.Addr().String())
	defer c1.Close()
	c2, _ := net.Dial("tcp", raw.Addr().String())
	defer c2.Close()

	first := <-accepted
	select {
	case <-accepted:
		t.Fatalf("Second connection accepted while first still open")
	case <-time.After(100 * time.Millisecond):
	}

	first.Close()
	select {
	case c := <-accepted:
		c.Close()
	case <-time.After(2 * time.Second):
		t.Fatalf("Second connection not accepted after release")
	}
}
