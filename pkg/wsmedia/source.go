package wsmedia

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"wsplay/pkg/pipe"
)

// Config controls a Source. Zero values fall back to the defaults.
type Config struct {
	Params  SessionParams
	Headers http.Header

	PipeCapacity     int
	ChunkDuration    time.Duration
	ReportInterval   time.Duration
	RebufferInterval time.Duration
	BufferThreshold  time.Duration
	OpenTimeout      time.Duration
	DialTimeout      time.Duration
}

func (c *Config) defaults() {
	if c.PipeCapacity <= 0 {
		c.PipeCapacity = pipe.DefaultCapacity
	}
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = DefaultChunkDuration
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = DefaultReportInterval
	}
	if c.RebufferInterval <= 0 {
		c.RebufferInterval = DefaultRebufferInterval
	}
	if c.BufferThreshold <= 0 {
		c.BufferThreshold = DefaultBufferThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = DefaultOpenTimeout
	}
}

// Option customises a Source.
type Option func(*Source)

// WithEvents makes the source publish session events (ServerInitReceived,
// AckSent, ...) on ch. Sends never block; a full channel drops events.
func WithEvents(ch chan<- interface{}) Option {
	return func(s *Source) { s.events = ch }
}

// WithMetrics records into m instead of a private, unregistered set.
func WithMetrics(m *Metrics) Option {
	return func(s *Source) { s.metrics = m }
}

// WithClock replaces the wall clock used by the rebuffer monitor.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// WithLength declares the expected stream length, for callers that know it
// out of band. Read then reports ErrTruncated if the stream ends early.
func WithLength(n int64) Option {
	return func(s *Source) { s.bytesToRead = n }
}

// Source exposes one streaming session as a sequential byte stream.
// Open, Read and Close follow the data-source contract of the media
// pipeline: Open blocks until the first video fragment arrives, Read blocks
// until media is available, Close releases everything.
type Source struct {
	cfg     Config
	player  Player
	events  chan<- interface{}
	metrics *Metrics
	now     func() time.Time

	mu        sync.Mutex
	sessionId string
	uri       string
	conn      *Conn
	pipe      *pipe.Pipe
	proto     *protocol
	cancel    context.CancelFunc
	probes    *errgroup.Group
	loops     *errgroup.Group
	started   bool

	opened    atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
	closedCh  chan struct{}
	closeErr  error

	barrier  chan struct{}
	ended    chan struct{} // closed when the server ends the stream cleanly
	failOnce sync.Once
	failed   chan struct{}
	fault    error

	// active mirrors proto for accessors that may be called from probe
	// goroutines while Close holds mu.
	active atomic.Pointer[protocol]

	bytesToRead  int64
	bytesRead    atomic.Int64
	bytesSkipped atomic.Int64
}

// NewSource creates an unopened source. player may be nil.
func NewSource(cfg Config, player Player, opts ...Option) *Source {
	cfg.defaults()
	if player == nil {
		player = idlePlayer{}
	}
	s := &Source{
		cfg:         cfg,
		player:      player,
		now:         time.Now,
		closedCh:    make(chan struct{}),
		barrier:     make(chan struct{}),
		ended:       make(chan struct{}),
		failed:      make(chan struct{}),
		bytesToRead: LengthUnknown,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bytesToRead < 0 {
		s.bytesToRead = LengthUnknown
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	return s
}

// Open connects to uri, performs the handshake, starts telemetry and blocks
// until the first video fragment has been received. It returns the declared
// length, which is LengthUnknown unless WithLength was given. A source can
// only be opened once.
func (s *Source) Open(ctx context.Context, uri string) (int64, error) {
	if !s.opened.CompareAndSwap(false, true) {
		return 0, ErrAlreadyOpen
	}

	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}
	s.sessionId = uuid.NewString()
	s.uri = uri
	s.pipe = pipe.New(s.cfg.PipeCapacity)
	s.conn = newConn(ConnConfig{URL: uri, Headers: s.cfg.Headers, DialTimeout: s.cfg.DialTimeout})
	s.proto = newProtocol(s.sessionId, s.cfg.Params, s.conn, s.pipe, s.player)
	s.proto.metrics = s.metrics
	s.proto.events = s.events
	s.proto.chunkDuration = s.cfg.ChunkDuration
	s.proto.onFirstVideo = func() { close(s.barrier) }
	s.proto.ended = s.conn.PeerClosed
	s.active.Store(s.proto)
	s.bytesRead.Store(0)
	s.bytesSkipped.Store(0)
	s.mu.Unlock()

	slog.Info("opening stream", "sessionId", s.sessionId, "uri", uri)

	if err := s.conn.Connect(ctx); err != nil {
		s.Close()
		return 0, err
	}
	if err := s.proto.start(); err != nil {
		s.Close()
		return 0, err
	}
	if err := s.startLoops(); err != nil {
		s.Close()
		return 0, err
	}

	timer := time.NewTimer(s.cfg.OpenTimeout)
	defer timer.Stop()

	select {
	case <-s.barrier:
	case <-s.ended:
		// 같은 배치에서 비디오가 도착했을 수 있음
		select {
		case <-s.barrier:
		default:
			s.Close()
			return 0, &TransportError{Op: "receive", Err: ErrStreamEnded}
		}
	case <-s.failed:
		s.Close()
		return 0, s.fault
	case <-s.closedCh:
		return 0, ErrSessionClosed
	case <-ctx.Done():
		s.Close()
		return 0, ctx.Err()
	case <-timer.C:
		s.Close()
		return 0, fmt.Errorf("%w after %s", ErrBarrierTimeout, s.cfg.OpenTimeout)
	}

	slog.Info("stream opened", "sessionId", s.sessionId)
	return s.bytesToRead, nil
}

func (s *Source) startLoops() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing.Load() {
		return ErrSessionClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loops = &errgroup.Group{}
	s.probes = &errgroup.Group{}
	s.started = true
	s.metrics.ActiveSessions.Inc()

	// 수신 -> 상태 머신은 채널로 분리
	inbound := make(chan []byte, 16)
	s.loops.Go(func() error {
		defer close(inbound)
		err := s.conn.ReceiveLoop(ctx, inbound)
		if err != nil {
			s.fail(err)
		}
		return err
	})
	s.loops.Go(func() error {
		// 실패 시에는 fail 이 먼저 에러로 닫으므로 여기서는 EOF
		defer s.pipe.Close()

		err := s.proto.run(inbound)
		if err != nil {
			s.fail(err)
			return err
		}
		// 서버가 정상 종료하면 남은 데이터 소비 후 EOF
		if s.conn.PeerClosed() && !s.closing.Load() {
			slog.Info("stream ended by server", "sessionId", s.sessionId)
			s.proto.setState(StateClosed)
			cancel()
			close(s.ended)
		}
		return nil
	})

	s.probes.Go(func() error {
		err := s.proto.runReporter(ctx, s.cfg.ReportInterval, s.cfg.BufferThreshold)
		if err != nil {
			s.fail(err)
		}
		return err
	})
	s.probes.Go(func() error {
		err := s.proto.runRebufferMonitor(ctx, s.cfg.RebufferInterval, s.now)
		if err != nil {
			s.fail(err)
		}
		return err
	})
	return nil
}

// fail records the first fault, unblocks readers with it and stops telemetry.
// Faults raised while closing, or after the server ended the stream, are the
// result of the teardown itself and are ignored.
func (s *Source) fail(err error) {
	if s.closing.Load() || s.conn.PeerClosed() {
		return
	}
	s.failOnce.Do(func() {
		slog.Error("session failed", "sessionId", s.sessionId, "err", err)
		s.fault = err
		s.proto.setState(StateClosed)
		_ = s.pipe.CloseWithError(err)
		s.cancel()
		close(s.failed)
	})
}

// Read copies media bytes into p, blocking until at least one is available.
// It returns io.EOF at the end of the stream and ErrTruncated if the stream
// ends before a declared length.
func (s *Source) Read(p []byte) (int, error) {
	return s.read(p, &s.bytesRead)
}

// Skip discards n bytes of media.
func (s *Source) Skip(n int64) error {
	buf := make([]byte, 4096)
	for n > 0 {
		chunk := buf
		if int64(len(chunk)) > n {
			chunk = chunk[:n]
		}
		read, err := s.read(chunk, &s.bytesSkipped)
		n -= int64(read)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Source) read(p []byte, counter *atomic.Int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	media := s.pipe
	s.mu.Unlock()
	if media == nil {
		return 0, ErrSessionClosed
	}

	consumed := s.bytesRead.Load() + s.bytesSkipped.Load()
	if s.bytesToRead != LengthUnknown {
		remaining := s.bytesToRead - consumed
		if remaining == 0 {
			return 0, io.EOF
		}
		if int64(len(p)) > remaining {
			p = p[:remaining]
		}
	}

	n, err := media.Read(p)
	counter.Add(int64(n))
	if errors.Is(err, io.EOF) && s.bytesToRead != LengthUnknown {
		return n, fmt.Errorf("%w: read %d of %d bytes: %w", ErrTruncated, consumed+int64(n), s.bytesToRead, io.ErrUnexpectedEOF)
	}
	return n, err
}

// Close stops telemetry, closes the pipe and the transport and waits for all
// goroutines. Only the first call has any effect.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		close(s.closedCh)

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.proto != nil {
			s.proto.setState(StateClosed)
		}
		if s.cancel != nil {
			s.cancel()
		}
		// 프로브가 먼저 멈춘 뒤에 연결을 닫음
		if s.probes != nil {
			_ = s.probes.Wait()
		}
		if s.pipe != nil {
			_ = s.pipe.Close()
		}
		if s.conn != nil {
			s.closeErr = s.conn.Close()
		}
		if s.loops != nil {
			_ = s.loops.Wait()
		}
		if s.started {
			s.metrics.ActiveSessions.Dec()
		}

		if s.proto != nil {
			var fault error
			select {
			case <-s.failed:
				fault = s.fault
			default:
			}
			s.proto.emit(SessionClosed{SessionId: s.sessionId, Time: time.Now(), Err: fault})
			slog.Info("stream closed", "sessionId", s.sessionId,
				"bytesRead", s.bytesRead.Load(), "bytesSkipped", s.bytesSkipped.Load())
		}
	})
	return s.closeErr
}

// Headers returns the handshake response headers, nil before Open.
func (s *Source) Headers() http.Header {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.ResponseHeader()
}

func (s *Source) URI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uri
}

func (s *Source) SessionId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionId
}

func (s *Source) State() SessionState {
	proto := s.active.Load()
	if proto == nil {
		return StateConnecting
	}
	return proto.State()
}

// BufferedTimelineMs is the playable media duration received so far.
func (s *Source) BufferedTimelineMs() int64 {
	proto := s.active.Load()
	if proto == nil {
		return 0
	}
	return proto.counters.bufferedTimelineMs.Load()
}

// CumulativeRebufferMs is the time spent rebuffering since Open.
func (s *Source) CumulativeRebufferMs() int64 {
	proto := s.active.Load()
	if proto == nil {
		return 0
	}
	return proto.counters.cumRebufferMs.Load()
}

func (s *Source) BytesRead() int64 { return s.bytesRead.Load() }

func (s *Source) BytesSkipped() int64 { return s.bytesSkipped.Load() }
