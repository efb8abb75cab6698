package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// Gateway events.
const (
	EventJoinCallScreen          = "join_call_screen"
	EventJoinCounterStatusScreen = "join_counter_status_screen"
	EventJoinFeedbackScreen      = "join_feedback_screen"
	EventActionCall              = "action:call"
)

// Console actions.
const (
	ActionCall         = "call"
	ActionRecall       = "recall"
	ActionDone         = "done"
	ActionMissed       = "missed"
	ActionLeaveCounter = "leaveCounter"
)

// ErrRejected wraps an error or logout reply from the gateway.
var ErrRejected = errors.New("queuecall: request rejected")

// Socket is one connection to the queuecall WebSocket gateway. Replies to
// requests are matched by ref; frames read while waiting for a reply are
// queued for Next.
type Socket struct {
	conn *websocket.Conn

	mu      sync.Mutex
	backlog []*Envelope
}

type frame struct {
	Event string `json:"event"`
	Ref   string `json:"ref"`
	Data  any    `json:"data,omitempty"`
}

// Dial opens a gateway connection on the client's base URL.
func (c *Client) Dial(ctx context.Context) (*Socket, error) {
	u := wsURL(c.baseURL) + "/api/v1/ws"
	conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPClient: c.httpClient})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	conn.SetReadLimit(1 << 20)
	return &Socket{conn: conn}, nil
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

// JoinCallScreen attaches a staff console to a counter. A successful join
// is answered with the counter snapshot.
func (s *Socket) JoinCallScreen(ctx context.Context, token, counterID string, serviceIDs ...string) (*Envelope, error) {
	return s.Request(ctx, EventJoinCallScreen, map[string]any{
		"counterId":  counterID,
		"serviceIds": serviceIDs,
		"token":      token,
	})
}

// JoinCounterStatus attaches a counter display.
func (s *Socket) JoinCounterStatus(ctx context.Context, counterID string) (*Envelope, error) {
	return s.Request(ctx, EventJoinCounterStatusScreen, map[string]string{"counterId": counterID})
}

// JoinLobby attaches an agency-wide lobby display.
func (s *Socket) JoinLobby(ctx context.Context, agencyID string) (*Envelope, error) {
	return s.Request(ctx, EventJoinCounterStatusScreen, map[string]string{"agencyId": agencyID})
}

// JoinFeedback attaches a feedback display to a counter.
func (s *Socket) JoinFeedback(ctx context.Context, counterID string) (*Envelope, error) {
	return s.Request(ctx, EventJoinFeedbackScreen, map[string]string{"counterId": counterID})
}

// Action sends a console command. An "empty" reply means nobody was waiting.
func (s *Socket) Action(ctx context.Context, a *CallAction) (*Envelope, error) {
	return s.Request(ctx, EventActionCall, a)
}

// Send writes one event without waiting for its reply and returns the ref
// the reply will carry. Use it when another goroutine is reading with Next.
func (s *Socket) Send(ctx context.Context, event string, data any) (string, error) {
	ref := uuid.NewString()
	if err := wsjson.Write(ctx, s.conn, frame{Event: event, Ref: ref, Data: data}); err != nil {
		return "", fmt.Errorf("send %s: %w", event, err)
	}
	return ref, nil
}

// Request sends one event and waits for the reply carrying its ref. It must
// not run concurrently with Next.
func (s *Socket) Request(ctx context.Context, event string, data any) (*Envelope, error) {
	ref, err := s.Send(ctx, event, data)
	if err != nil {
		return nil, err
	}

	for {
		env, err := s.read(ctx)
		if err != nil {
			return nil, err
		}
		if env.Ref != ref {
			s.mu.Lock()
			s.backlog = append(s.backlog, env)
			s.mu.Unlock()
			continue
		}
		if env.Status == "error" || env.Status == "logout" {
			return env, fmt.Errorf("%w: %s: %s", ErrRejected, env.Status, env.Message)
		}
		return env, nil
	}
}

// Next returns the next pushed frame.
func (s *Socket) Next(ctx context.Context) (*Envelope, error) {
	s.mu.Lock()
	if len(s.backlog) > 0 {
		env := s.backlog[0]
		s.backlog = s.backlog[1:]
		s.mu.Unlock()
		return env, nil
	}
	s.mu.Unlock()

	return s.read(ctx)
}

func (s *Socket) read(ctx context.Context) (*Envelope, error) {
	var env Envelope
	if err := wsjson.Read(ctx, s.conn, &env); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return &env, nil
}

// Close closes the connection with a normal closure.
func (s *Socket) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// CloseStatus reports the close code of an error returned by Next, or -1.
func CloseStatus(err error) int {
	return int(websocket.CloseStatus(err))
}
