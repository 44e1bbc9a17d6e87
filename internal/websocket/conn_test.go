// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// pipe upgrades one server-side connection and hands it to the test.
func pipe(t *testing.T) (*Conn, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	connCh := make(chan *Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- NewConn(ws)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case conn := <-connCh:
		t.Cleanup(func() { _ = conn.Close(websocket.CloseNormalClosure, "test done") })
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("server connection never arrived")
		return nil, nil
	}
}

func TestSendTextReachesClient(t *testing.T) {
	conn, client := pipe(t)

	if err := conn.SendText([]byte(`{"type":"error"}`)); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if msgType != websocket.TextMessage || string(data) != `{"type":"error"}` {
		t.Errorf("received %d/%q", msgType, data)
	}
}

func TestConcurrentSends(t *testing.T) {
	conn, client := pipe(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if err := conn.SendText([]byte("frame")); err != nil {
					t.Errorf("SendText: %v", err)
					return
				}
			}
		}()
	}

	received := 0
	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	for received < 160 {
		if _, _, err := client.ReadMessage(); err != nil {
			t.Fatalf("client read after %d frames: %v", received, err)
		}
		received++
	}
	wg.Wait()
}

func TestReadTextReturnsClientFrame(t *testing.T) {
	conn, client := pipe(t)

	if err := client.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	data, err := conn.ReadText(context.Background())
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("ReadText = %q", data)
	}
}

func TestReadTextSkipsBinaryFrames(t *testing.T) {
	conn, client := pipe(t)

	if err := client.WriteMessage(websocket.BinaryMessage, []byte{0x01}); err != nil {
		t.Fatalf("client write binary: %v", err)
	}
	if err := client.WriteMessage(websocket.TextMessage, []byte("text")); err != nil {
		t.Fatalf("client write text: %v", err)
	}

	data, err := conn.ReadText(context.Background())
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	if string(data) != "text" {
		t.Errorf("ReadText = %q, want the text frame", data)
	}
}

func TestReadTextHonorsDeadline(t *testing.T) {
	conn, _ := pipe(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := conn.ReadText(ctx)
	if err == nil {
		t.Fatal("expected deadline error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("ReadText blocked %v past the deadline", elapsed)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	conn, client := pipe(t)

	if err := conn.Close(websocket.ClosePolicyViolation, "denied"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := conn.Close(websocket.ClosePolicyViolation, "denied"); err != nil {
		t.Errorf("second Close: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("client observed %v, want close 1008", err)
	}
}
