package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-envconfig"

	"drawing-board/internal/admission"
	"drawing-board/internal/canvas"
	"drawing-board/internal/config"
	"drawing-board/internal/identity"
	"drawing-board/internal/presence"
	"drawing-board/internal/relay"
	"drawing-board/internal/store"
)

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("json", "debug"); err != nil {
		t.Errorf("json/debug: %v", err)
	}
	if _, err := newLogger("text", "WARN"); err != nil {
		t.Errorf("text/WARN: %v", err)
	}
	if _, err := newLogger("text", "loud"); err == nil {
		t.Error("unknown level accepted")
	}
}

func TestRouter(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{"index.html": "<canvas></canvas>", "board.js": "connect()"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	hub := relay.NewHub(relay.Options{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registry:  presence.NewRegistry(),
		Admission: admission.New(0, 0, nil),
		Canvas:    canvas.New(16, 8, nil),
		Resolver:  identity.NewResolver(nil),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	defer func() {
		cancel()
		<-hub.Done()
	}()

	srv := httptest.NewServer(newRouter(logger, hub, dir))

	for path, want := range map[string]string{
		"/":                "<canvas></canvas>",
		"/static/board.js": "connect()",
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || string(body) != want {
			t.Errorf("GET %s: %d %q", path, resp.StatusCode, body)
		}
	}

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: %d", resp.StatusCode)
	}

	// Close waits for the handlers, and with them the request log lines.
	srv.Close()
	if !strings.Contains(logs.String(), "path=/healthz") {
		t.Errorf("request not logged:\n%s", logs.String())
	}
}

// syncBuffer collects log output written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T, canvasStore string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"PORT":              strconv.Itoa(freePort(t)),
		"STATIC_DIR":        t.TempDir(),
		"CANVAS_SIZE":       "64",
		"CANVAS_STORE":      canvasStore,
		"MAX_BRUSH_SIZE":    "16",
		"AUTOSAVE_INTERVAL": "0",
		"PERSIST_TIMEOUT":   "2s",
	}))
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

// startBoard runs fn on its own goroutine and waits for the server to
// answer health checks.
func startBoard(t *testing.T, cfg *config.Config, fn func() error) <-chan error {
	t.Helper()
	ec := make(chan error, 1)
	go func() { ec <- fn() }()

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return ec
			}
		}
		select {
		case err := <-ec:
			t.Fatalf("board exited during startup: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("board not healthy: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func awaitExit(t *testing.T, ec <-chan error) error {
	t.Helper()
	select {
	case err := <-ec:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("board did not shut down")
		return nil
	}
}

// drawDab logs in as Ada and draws an opaque red dab centred on (20, 20).
func drawDab(t *testing.T, cfg *config.Config) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/ws", cfg.Port), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	request := func(n uint64, event string, data any) relay.StatusAck {
		if err := conn.WriteJSON(relay.Message{Event: event, Ack: &n, Data: data}); err != nil {
			t.Fatal(err)
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			var env relay.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				t.Fatalf("awaiting ack %d: %v", n, err)
			}
			if env.Event != relay.EventAck || env.Ack == nil || *env.Ack != n {
				continue
			}
			var ack relay.StatusAck
			if err := json.Unmarshal(env.Data, &ack); err != nil {
				t.Fatal(err)
			}
			return ack
		}
	}

	if ack := request(1, relay.EventLogin, identity.LoginRequest{Username: "Ada", ID: "ada1"}); !ack.OK {
		t.Fatalf("login: %+v", ack)
	}
	if ack := request(2, relay.EventDraw, canvas.DrawEvent{AuthorID: "ada1", Color: "#ff0000", Size: 8, X: 20, Y: 20}); !ack.OK {
		t.Fatalf("draw: %+v", ack)
	}
}

func TestShutdownPersistsCanvas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvas.png")
	cfg := testConfig(t, path)
	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ec := startBoard(t, cfg, func() error { return doMain(ctx, logger, cfg) })

	drawDab(t, cfg)
	cancel()
	if err := awaitExit(t, ec); err != nil {
		t.Fatalf("doMain: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("canvas not persisted: %v", err)
	}
	img, err := png.Decode(f)
	f.Close()
	if err != nil {
		t.Fatal(err)
	}
	if r, g, b, a := img.At(20, 20).RGBA(); r != 0xffff || g != 0 || b != 0 || a != 0xffff {
		t.Errorf("persisted pixel = %v", img.At(20, 20))
	}
	if _, _, _, a := img.At(40, 40).RGBA(); a != 0 {
		t.Errorf("pixel outside the dab = %v", img.At(40, 40))
	}
	if !strings.Contains(logs.String(), "canvas persisted") {
		t.Errorf("persist not logged:\n%s", logs.String())
	}
}

type unwritableStore struct{}

func (unwritableStore) Load(context.Context) ([]byte, error) { return nil, store.ErrNotExist }

func (unwritableStore) Save(context.Context, []byte) error { return errors.New("read-only file system") }

func (unwritableStore) Close() error { return nil }

func TestShutdownSurvivesPersistFailure(t *testing.T) {
	cfg := testConfig(t, "unused.png")
	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ec := startBoard(t, cfg, func() error { return serve(ctx, logger, cfg, unwritableStore{}) })

	drawDab(t, cfg)
	cancel()
	if err := awaitExit(t, ec); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if out := logs.String(); !strings.Contains(out, "failed to persist canvas") || !strings.Contains(out, "read-only file system") {
		t.Errorf("persist failure not logged:\n%s", out)
	}
}
