package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	sharedErrors "github.com/javi11/mediajanitor/internal/errors"
	"github.com/javi11/mediajanitor/internal/model"
)

// Stream delivers the progress events of one scan in server order.
type Stream interface {
	// Next blocks until the next event arrives or the stream fails.
	Next(ctx context.Context) (model.ScanEvent, error)
	// Close releases the connection. It unblocks a pending Next.
	Close() error
}

// Dialer opens the progress stream for a scan.
type Dialer interface {
	Dial(ctx context.Context, scanID string) (Stream, error)
}

// Starter starts scans on the server.
type Starter interface {
	StartScan(ctx context.Context) (model.ScanStartResult, error)
}

// Poller fetches the current state of a scan. A nil event means nothing new.
type Poller interface {
	Poll(ctx context.Context, scanID string) (*model.ScanEvent, error)
}

// NoopPoller never reports anything.
type NoopPoller struct{}

func (NoopPoller) Poll(context.Context, string) (*model.ScanEvent, error) { return nil, nil }

// StatusPoller polls the scan status endpoint.
type StatusPoller struct {
	Client interface {
		ScanStatus(ctx context.Context, scanID string) (*model.ScanEvent, error)
	}
}

func (p StatusPoller) Poll(ctx context.Context, scanID string) (*model.ScanEvent, error) {
	return p.Client.ScanStatus(ctx, scanID)
}

// WSDialer opens scan streams over WebSocket at <baseURL>/<scan_id>.
type WSDialer struct {
	baseURL string
	dialer  *websocket.Dialer
	header  http.Header
	log     *slog.Logger
}

// NewWSDialer creates a dialer for stream URLs rooted at baseURL (ws:// or wss://).
func NewWSDialer(baseURL string) *WSDialer {
	return &WSDialer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		header: http.Header{"User-Agent": []string{"mediajanitor-cli"}},
		log:    slog.Default().With("component", "scan-stream"),
	}
}

// Dial connects to the progress stream of scanID.
func (d *WSDialer) Dial(ctx context.Context, scanID string) (Stream, error) {
	if scanID == "" {
		return nil, fmt.Errorf("scan id cannot be empty")
	}

	streamURL := d.baseURL + "/" + url.PathEscape(scanID)
	conn, resp, err := d.dialer.DialContext(ctx, streamURL, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, sharedErrors.NewTransportError("dial scan stream", err)
	}

	d.log.DebugContext(ctx, "Scan stream connected", "scan_id", scanID, "url", streamURL)

	return &wsStream{conn: conn, scanID: scanID, log: d.log}, nil
}

type wsStream struct {
	conn      *websocket.Conn
	scanID    string
	log       *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

func (s *wsStream) Next(ctx context.Context) (model.ScanEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.ScanEvent{}, err
		}

		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return model.ScanEvent{}, sharedErrors.NewTransportError("read scan stream", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		var event model.ScanEvent
		if err := json.Unmarshal(data, &event); err != nil {
			s.log.WarnContext(ctx, "Skipping malformed scan event", "scan_id", s.scanID, "error", err)
			continue
		}
		return event, nil
	}
}

// Close drops the connection without a close handshake.
func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
