package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"nhooyr.io/websocket"
)

type SessionState string

const (
	StateOffline      SessionState = "offline"
	StateReconnecting SessionState = "reconnecting"
	StateConnected    SessionState = "connected"
)

var (
	// ErrVersionMismatch means the server acked a protocol version this
	// client does not speak. Reconnecting cannot help.
	ErrVersionMismatch = errors.New("unsupported protocol version")
	ErrNotConnected    = errors.New("session not connected")
)

// Status is the session state snapshot delivered to the status observer.
type Status struct {
	State           SessionState
	ResumeToken     string
	ResumeExpiresAt time.Time
}

// ReconnectProgress reports how far a resumed session has worked through the
// server's replay backlog.
type ReconnectProgress struct {
	SyncedUpdates int
	TotalUpdates  int
}

// Conn is the framed transport a session rides on. The production
// implementation wraps a websocket; tests substitute an in-memory pair.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

type Dialer func(ctx context.Context, url string) (Conn, error)

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// WebsocketDialer returns the production dialer.
func WebsocketDialer(opts *websocket.DialOptions) Dialer {
	return func(ctx context.Context, url string) (Conn, error) {
		conn, resp, err := websocket.Dial(ctx, url, opts)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		// Snapshot frames carry full document state and routinely exceed the
		// library's 32 KiB default read limit.
		conn.SetReadLimit(-1)
		return &wsConn{conn: conn}, nil
	}
}

// Callbacks receive session events. All callbacks fire from the session's run
// goroutine, one at a time, in arrival order; a callback that has not
// returned blocks the next delivery.
type Callbacks struct {
	OnStatus       func(Status)
	OnProgress     func(ReconnectProgress)
	OnRemoteUpdate func(Update)
	OnAck          func(Ack)
	OnSnapshot     func(Snapshot)
	OnAwareness    func(AwarenessUpdate)
	OnSessionError func(*ErrorFrame)
}

type Logger interface {
	Printf(format string, args ...any)
}

type SessionOptions struct {
	URL string
	// TicketProvider mints the short-lived session token sent in hello.
	TicketProvider func(ctx context.Context) (string, error)
	Dial           Dialer
	Callbacks      Callbacks
	Logger         Logger
	Clock          func() time.Time
	// Sleep waits between reconnect attempts; injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Session maintains one persistent channel per client. It owns the resume
// token, the per-document sequence cursor, and the reconnect loop.
type Session struct {
	url            string
	ticketProvider func(ctx context.Context) (string, error)
	dial           Dialer
	callbacks      Callbacks
	logger         Logger
	clock          func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu              sync.Mutex
	conn            Conn
	subs            map[string]int64
	resumeToken     string
	resumeExpiresAt time.Time
	state           SessionState
	wasConnected    bool
	sawConnect      bool

	replayTotal  int
	replaySynced int
}

func NewSession(opts SessionOptions) (*Session, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("session url is required")
	}
	dial := opts.Dial
	if dial == nil {
		dial = WebsocketDialer(nil)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	return &Session{
		url:            opts.URL,
		ticketProvider: opts.TicketProvider,
		dial:           dial,
		callbacks:      opts.Callbacks,
		logger:         opts.Logger,
		clock:          clock,
		sleep:          sleep,
		initialBackoff: initial,
		maxBackoff:     maxBackoff,
		subs:           map[string]int64{},
		state:          StateOffline,
	}, nil
}

// Subscribe registers interest in a document. When the session is connected
// the subscribe frame goes out immediately; otherwise it is sent on the next
// successful handshake.
func (s *Session) Subscribe(ctx context.Context, docID string) error {
	s.mu.Lock()
	if _, ok := s.subs[docID]; !ok {
		s.subs[docID] = -1
	}
	lastSeq := s.subs[docID]
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return s.writeFrame(ctx, conn, NewSubscribe(docID, lastSeq))
}

// SendUpdate ships one opaque CRDT update. The update is durable only once
// its ack arrives with Applied true; callers keep it queued until then.
func (s *Session) SendUpdate(ctx context.Context, docID, clientUpdateID string, baseSeq int64, payload []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return s.writeFrame(ctx, conn, NewUpdate(docID, clientUpdateID, baseSeq, payload))
}

// Status returns the current state snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{State: s.state, ResumeToken: s.resumeToken, ResumeExpiresAt: s.resumeExpiresAt}
}

// Run drives the connect/handshake/read loop until the context is cancelled
// or a terminal protocol error occurs. Transient failures reconnect with
// exponential backoff, reusing the resume token while it is unexpired.
func (s *Session) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.initialBackoff
	bo.MaxInterval = s.maxBackoff
	bo.MaxElapsedTime = 0

	for {
		if err := ctx.Err(); err != nil {
			s.setState(StateOffline)
			return err
		}
		s.mu.Lock()
		reconnecting := s.wasConnected
		s.mu.Unlock()
		if reconnecting {
			s.setState(StateReconnecting)
		}

		err := s.runOnce(ctx)
		s.mu.Lock()
		if s.sawConnect {
			// A healthy connection forgives accumulated backoff; the next
			// outage starts the schedule over.
			bo.Reset()
			s.sawConnect = false
		}
		s.mu.Unlock()
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.setState(StateOffline)
			return err
		}
		var terminal *terminalError
		if errors.As(err, &terminal) {
			s.setState(StateOffline)
			return terminal.err
		}
		if s.logger != nil {
			s.logger.Printf("session disconnected: %v", err)
		}
		s.setState(StateOffline)
		if waitErr := s.sleep(ctx, bo.NextBackOff()); waitErr != nil {
			return waitErr
		}
	}
}

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

func (s *Session) runOnce(ctx context.Context) error {
	ticket := ""
	if s.ticketProvider != nil {
		resolved, err := s.ticketProvider(ctx)
		if err != nil {
			return err
		}
		ticket = resolved
	}

	conn, err := s.dial(ctx, s.url)
	if err != nil {
		return err
	}
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
	}()

	s.mu.Lock()
	resumeToken := s.resumeToken
	if resumeToken != "" && !s.resumeExpiresAt.IsZero() && !s.clock().Before(s.resumeExpiresAt) {
		// Expired mid-outage; a fresh session (and snapshot) is the only
		// safe path.
		resumeToken = ""
		s.resumeToken = ""
	}
	s.mu.Unlock()

	if err := s.writeFrame(ctx, conn, NewHello(ticket, resumeToken)); err != nil {
		return err
	}
	data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	frame, err := DecodeFrame(data)
	if err != nil {
		return err
	}
	ack, ok := frame.(HelloAck)
	if !ok {
		if errFrame, isErr := frame.(ErrorFrame); isErr {
			return s.handleErrorFrame(&errFrame)
		}
		return fmt.Errorf("expected hello_ack, got %T", frame)
	}
	if !versionSupported(ack.ProtocolVersion) {
		return &terminalError{err: fmt.Errorf("%w: server pinned %q", ErrVersionMismatch, ack.ProtocolVersion)}
	}

	s.mu.Lock()
	if ack.Resumed {
		s.replayTotal = ack.ReplayTotal
		s.replaySynced = 0
	} else {
		// Resume rejected (or first connect): the server will answer each
		// subscribe with a full snapshot, so local sequence cursors reset.
		s.replayTotal = 0
		s.replaySynced = 0
		for docID := range s.subs {
			s.subs[docID] = -1
		}
	}
	if ack.ResumeToken != "" {
		s.resumeToken = ack.ResumeToken
		s.resumeExpiresAt = time.Time{}
		if ack.ResumeExpiresAt > 0 {
			s.resumeExpiresAt = time.UnixMilli(ack.ResumeExpiresAt)
		}
	}
	s.conn = conn
	s.wasConnected = true
	s.sawConnect = true
	docs := make(map[string]int64, len(s.subs))
	for docID, seq := range s.subs {
		docs[docID] = seq
	}
	replayTotal := s.replayTotal
	s.mu.Unlock()

	s.setState(StateConnected)
	if replayTotal > 0 {
		s.emitProgress()
	}

	for docID, seq := range docs {
		if err := s.writeFrame(ctx, conn, NewSubscribe(docID, seq)); err != nil {
			return err
		}
	}

	return s.readLoop(ctx, conn)
}

func (s *Session) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			if s.logger != nil {
				s.logger.Printf("dropping malformed frame: %v", err)
			}
			continue
		}
		switch f := frame.(type) {
		case Update:
			s.mu.Lock()
			if f.ServerSeq > 0 {
				s.subs[f.DocID] = f.ServerSeq
			}
			replaying := s.replaySynced < s.replayTotal
			if replaying {
				s.replaySynced++
			}
			s.mu.Unlock()
			if s.callbacks.OnRemoteUpdate != nil {
				s.callbacks.OnRemoteUpdate(f)
			}
			if replaying {
				s.emitProgress()
			}
		case Ack:
			if f.ServerSeq > 0 {
				s.mu.Lock()
				if current, ok := s.subs[f.DocID]; ok && f.ServerSeq > current {
					s.subs[f.DocID] = f.ServerSeq
				}
				s.mu.Unlock()
			}
			if s.callbacks.OnAck != nil {
				s.callbacks.OnAck(f)
			}
		case Snapshot:
			s.mu.Lock()
			s.subs[f.DocID] = f.SnapshotSeq
			s.mu.Unlock()
			if s.callbacks.OnSnapshot != nil {
				s.callbacks.OnSnapshot(f)
			}
		case AwarenessUpdate:
			if s.callbacks.OnAwareness != nil {
				s.callbacks.OnAwareness(f)
			}
		case ErrorFrame:
			if err := s.handleErrorFrame(&f); err != nil {
				return err
			}
		default:
			if s.logger != nil {
				s.logger.Printf("ignoring unexpected frame %T", f)
			}
		}
	}
}

func (s *Session) handleErrorFrame(frame *ErrorFrame) error {
	if s.callbacks.OnSessionError != nil {
		s.callbacks.OnSessionError(frame)
	}
	if !frame.Retryable {
		return &terminalError{err: frame}
	}
	return frame
}

func (s *Session) writeFrame(ctx context.Context, conn Conn, frame any) error {
	data, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, data)
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	status := Status{State: state, ResumeToken: s.resumeToken, ResumeExpiresAt: s.resumeExpiresAt}
	s.mu.Unlock()
	if changed && s.callbacks.OnStatus != nil {
		s.callbacks.OnStatus(status)
	}
}

func (s *Session) emitProgress() {
	s.mu.Lock()
	progress := ReconnectProgress{SyncedUpdates: s.replaySynced, TotalUpdates: s.replayTotal}
	s.mu.Unlock()
	if s.callbacks.OnProgress != nil {
		s.callbacks.OnProgress(progress)
	}
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
