package sollistener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Message limit for receiving side.
	wsReadLimit = 10 * 1024 * 1024

	// Disconnection timeout.
	wsPongLimit = 60 * time.Second

	// Ping period for connection liveness check.
	wsPingPeriod = wsPongLimit / 2

	// Write deadline.
	wsWriteLimit = wsPingPeriod / 2

	// subscribeTimeout bounds the wait for a subscription confirmation.
	subscribeTimeout = 15 * time.Second

	// unsubscribeTimeout bounds the best-effort unsubscribe on close.
	unsubscribeTimeout = 2 * time.Second
)

const (
	methodLogsSubscribe    = "logsSubscribe"
	methodLogsUnsubscribe  = "logsUnsubscribe"
	methodLogsNotification = "logsNotification"
)

var errConnectionLost = errors.New("connection lost")

// wsRequest is an outgoing JSON-RPC frame.
type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// wsFrame is a combined type for responses and notifications since either
// can arrive on the socket.
type wsFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// logsParams is the payload of a logsNotification frame.
type logsParams struct {
	Result struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Signature string          `json:"signature"`
			Err       json.RawMessage `json:"err"`
			Logs      []string        `json:"logs"`
		} `json:"value"`
	} `json:"result"`
	Subscription json.Number `json:"subscription"`
}

// wsSession is one live websocket connection with its reader and writer
// goroutines. The writer owns the connection close; the reader signals
// teardown through done.
type wsSession struct {
	svc  *Service
	conn *websocket.Conn

	requests  chan wsRequest
	responses chan *wsFrame
	shutdown  chan struct{}
	done      chan struct{}

	closeOnce sync.Once
	nextID    uint64
}

// dial opens a connection and spawns the session goroutines.
func (s *Service) dial(ctx context.Context, url string) (*wsSession, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	sess := &wsSession{
		svc:       s,
		conn:      conn,
		requests:  make(chan wsRequest),
		responses: make(chan *wsFrame, 1),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	go sess.reader()
	go sess.writer()
	return sess, nil
}

// stop tears the session down and waits for the reader to exit.
func (w *wsSession) stop() {
	w.closeOnce.Do(func() { close(w.shutdown) })
	<-w.done
}

func (w *wsSession) reader() {
	w.conn.SetReadLimit(wsReadLimit)
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(wsPongLimit))
	})
	for {
		frame := new(wsFrame)
		_ = w.conn.SetReadDeadline(time.Now().Add(wsPongLimit))
		if err := w.conn.ReadJSON(frame); err != nil {
			// Timeout, connection loss or malformed frame.
			break
		}
		switch {
		case len(frame.ID) > 0:
			select {
			case w.responses <- frame:
			default: // No request in flight, drop.
			}
		case frame.Method == methodLogsNotification:
			var p logsParams
			if err := json.Unmarshal(frame.Params, &p); err != nil {
				w.svc.log.Debug("undecodable logs notification", zap.Error(err))
				continue
			}
			w.svc.handleNotification(&p)
		}
	}
	close(w.done)
}

func (w *wsSession) writer() {
	pingTicker := w.svc.clock.NewTicker(wsPingPeriod)
	defer w.conn.Close()
	defer pingTicker.Stop()
	for {
		select {
		case <-w.shutdown:
			return
		case <-w.done:
			return
		case req := <-w.requests:
			_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteLimit))
			if err := w.conn.WriteJSON(req); err != nil {
				return
			}
		case <-pingTicker.Chan():
			_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteLimit))
			if err := w.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

// call sends one request and waits for the next response frame. Only one
// request is ever in flight per session.
func (w *wsSession) call(req wsRequest, timeout time.Duration) (*wsFrame, error) {
	select {
	case w.requests <- req:
	case <-w.done:
		return nil, errConnectionLost
	case <-w.shutdown:
		return nil, errConnectionLost
	}
	t := w.svc.clock.NewTimer(timeout)
	defer t.Stop()
	select {
	case resp := <-w.responses:
		return resp, nil
	case <-w.done:
		return nil, errConnectionLost
	case <-t.Chan():
		return nil, errors.New("request timed out")
	}
}

// subscribe requests program log notifications for finalized transactions
// and returns the subscription id.
func (w *wsSession) subscribe(program string) (int64, error) {
	w.nextID++
	resp, err := w.call(wsRequest{
		JSONRPC: "2.0",
		ID:      w.nextID,
		Method:  methodLogsSubscribe,
		Params: []any{
			map[string]any{"mentions": []string{program}},
			map[string]any{"commitment": "finalized"},
		},
	}, subscribeTimeout)
	if err != nil {
		return 0, fmt.Errorf("logsSubscribe: %w", err)
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return 0, fmt.Errorf("logsSubscribe rejected: %s", string(resp.Error))
	}
	var id int64
	if err := json.Unmarshal(resp.Result, &id); err != nil {
		return 0, fmt.Errorf("unexpected logsSubscribe result: %w", err)
	}
	return id, nil
}

// unsubscribe is best effort, the connection goes away right after it.
func (w *wsSession) unsubscribe(id int64) {
	w.nextID++
	if _, err := w.call(wsRequest{
		JSONRPC: "2.0",
		ID:      w.nextID,
		Method:  methodLogsUnsubscribe,
		Params:  []any{id},
	}, unsubscribeTimeout); err != nil {
		w.svc.log.Debug("logsUnsubscribe failed", zap.Error(err))
	}
}
