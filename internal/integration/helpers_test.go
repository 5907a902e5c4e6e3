// Package integration drives the whole service over real HTTP and websocket
// connections against a SQLite database.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"mobidoc/internal/app"
	"mobidoc/internal/config"
	"mobidoc/pkg/types"
)

const readTimeout = 3 * time.Second

type stack struct {
	app     *app.Application
	baseURL string
	tokens  map[string]string // email -> access token
}

func newStack(t *testing.T) *stack {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "integration-secret"
	cfg.Store.Driver = config.DriverSQLite
	cfg.Database.Path = filepath.Join(t.TempDir(), "mobidoc.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)

	application, err := app.NewApplication(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))

	accounts, err := application.Seed(context.Background())
	require.NoError(t, err)
	tokens := make(map[string]string, len(accounts))
	for _, a := range accounts {
		tokens[a.User.Email] = a.Token
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})
	return &stack{app: application, baseURL: "http://" + application.Addr(), tokens: tokens}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func (s *stack) token(t *testing.T, email string) string {
	t.Helper()
	token, ok := s.tokens[email]
	require.True(t, ok, "no seeded account %s", email)
	return token
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
func (s *stack) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.baseURL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func (s *stack) dial(t *testing.T, email string) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.baseURL, "http") + "/ws?token=" + s.token(t, email)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(event string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(types.Envelope{Event: event, Data: raw}))
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (c *client) next() frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	var f frame
	require.NoError(c.t, c.conn.ReadJSON(&f))
	return f
}

// expect reads the next frame, asserts its event name and decodes the data.
func (c *client) expect(event string, out any) {
	c.t.Helper()
	f := c.next()
	require.Equal(c.t, event, f.Event, "payload: %s", f.Data)
	if out != nil {
		require.NoError(c.t, json.Unmarshal(f.Data, out))
	}
}

// silent asserts nothing arrives within d.
func (c *client) silent(d time.Duration) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(d)))
	_, data, err := c.conn.ReadMessage()
	require.Error(c.t, err, "unexpected frame: %s", data)
}
