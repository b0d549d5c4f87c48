package wsmedia

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mediaServer is a minimal streaming server: it answers client-init with
// server-init, records every client message and then runs script.
type mediaServer struct {
	*httptest.Server
	t *testing.T

	mu       sync.Mutex
	messages []map[string]any
	origin   string
}

func newMediaServer(t *testing.T, script func(s *mediaServer, conn *websocket.Conn)) *mediaServer {
	t.Helper()
	s := &mediaServer{t: t}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.origin = r.Header.Get("Origin")
		s.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, http.Header{"X-Media-Server": []string{"test"}})
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		if !s.readOne(conn) {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"server-init","channel":"test"}`)); err != nil {
			t.Errorf("write server-init: %v", err)
			return
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			for s.readOne(conn) {
			}
		}()

		if script != nil {
			script(s, conn)
		}

		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *mediaServer) readOne(conn *websocket.Conn) bool {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return false
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		s.t.Errorf("client sent invalid json %q: %v", data, err)
		return false
	}
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
	return true
}

func (s *mediaServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *mediaServer) received() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *mediaServer) count(msgType string) int {
	n := 0
	for _, m := range s.received() {
		if m["type"] == msgType {
			n++
		}
	}
	return n
}

func (s *mediaServer) waitFor(msgType string, n int) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.count(msgType) >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.t.Errorf("timed out waiting for %d %s", n, msgType)
	return false
}

func (s *mediaServer) sendFrame(conn *websocket.Conn, meta Metadata, payload []byte) {
	data, err := EncodeFrame(meta, payload)
	if err != nil {
		s.t.Errorf("encode frame: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.t.Errorf("write frame: %v", err)
	}
}

func closeNormally(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func testConfig() Config {
	return Config{
		Params:         SessionParams{InitID: 298665506, SessionKey: "abc"},
		ReportInterval: time.Hour,
		OpenTimeout:    5 * time.Second,
	}
}

// streamVideo sends one complete video chunk, waits for its ack and ends the
// stream with a normal close.
func streamVideo(payload []byte) func(*mediaServer, *websocket.Conn) {
	return func(s *mediaServer, conn *websocket.Conn) {
		s.sendFrame(conn, videoMetadata(0, len(payload)), payload)
		s.sendFrame(conn, Metadata{Type: MsgServerAudio, Channel: "a0", Format: "128k", TotalByteLength: 3}, []byte{1, 2, 3})
		if s.waitFor(MsgClientAudAck, 1) {
			closeNormally(conn)
		}
	}
}

func TestSourceOpenRead(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 500)
	server := newMediaServer(t, streamVideo(payload))

	metrics := NewMetrics()
	src := NewSource(testConfig(), nil, WithMetrics(metrics))
	defer src.Close()

	n, err := src.Open(context.Background(), server.url())
	require.NoError(t, err)
	assert.Equal(t, LengthUnknown, n)
	assert.NotEmpty(t, src.SessionId())
	assert.Equal(t, server.url(), src.URI())
	assert.Equal(t, "test", src.Headers().Get("X-Media-Server"))

	got, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.EqualValues(t, 500, src.BytesRead())
	assert.EqualValues(t, 4004, src.BufferedTimelineMs())

	msgs := server.received()
	require.GreaterOrEqual(t, len(msgs), 4)
	assert.Equal(t, MsgClientInit, msgs[0]["type"])
	assert.Equal(t, "abc", msgs[0]["sessionKey"])
	assert.Equal(t, MsgClientInfo, msgs[1]["type"])
	assert.Equal(t, EventStartup, msgs[1]["event"])
	assert.Equal(t, MsgClientVidAck, msgs[2]["type"])
	assert.EqualValues(t, 500, msgs[2]["byteLength"])
	assert.Equal(t, MsgClientAudAck, msgs[3]["type"])

	server.mu.Lock()
	assert.Equal(t, server.url(), server.origin)
	server.mu.Unlock()

	require.NoError(t, src.Close())
	assert.Equal(t, StateClosed, src.State())
	assert.Equal(t, 500.0, testutil.ToFloat64(metrics.MediaBytes))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ActiveSessions))
}

func TestSourceCloseUnblocksRead(t *testing.T) {
	server := newMediaServer(t, func(s *mediaServer, conn *websocket.Conn) {
		s.sendFrame(conn, videoMetadata(0, 10), make([]byte, 10))
	})

	cfg := testConfig()
	cfg.ReportInterval = 10 * time.Millisecond
	src := NewSource(cfg, nil)

	_, err := src.Open(context.Background(), server.url())
	require.NoError(t, err)

	buf := make([]byte, 10)
	_, err = io.ReadFull(src, buf)
	require.NoError(t, err)

	// 버퍼가 임계치 아래이므로 timer 보고가 흘러야 함
	require.True(t, server.waitFor(MsgClientInfo, 2))

	readErr := make(chan error, 1)
	go func() {
		_, err := src.Read(buf)
		readErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, src.Close())

	select {
	case err := <-readErr:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("Read still blocked after Close")
	}

	sent := len(server.received())
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, server.received(), sent)
	assert.Equal(t, StateClosed, src.State())

	// 두번째 Close 는 아무 일도 하지 않음
	assert.NoError(t, src.Close())
}

func TestSourceBarrierTimeout(t *testing.T) {
	server := newMediaServer(t, nil)

	cfg := testConfig()
	cfg.OpenTimeout = 100 * time.Millisecond
	src := NewSource(cfg, nil)

	_, err := src.Open(context.Background(), server.url())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBarrierTimeout)
	assert.Equal(t, StateClosed, src.State())

	_, err = src.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestSourceOpenContextCanceled(t *testing.T) {
	server := newMediaServer(t, nil)
	src := NewSource(testConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := src.Open(ctx, server.url())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSourceTransportFault(t *testing.T) {
	server := newMediaServer(t, func(s *mediaServer, conn *websocket.Conn) {
		s.sendFrame(conn, videoMetadata(0, 8), make([]byte, 8))
		if s.waitFor(MsgClientVidAck, 1) {
			// close frame 없이 끊음
			_ = conn.UnderlyingConn().Close()
		}
	})

	events := make(chan interface{}, 64)
	src := NewSource(testConfig(), nil, WithEvents(events))
	defer src.Close()

	_, err := src.Open(context.Background(), server.url())
	require.NoError(t, err)

	got, err := io.ReadAll(src)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	var transportErr *TransportError
	assert.True(t, errors.As(err, &transportErr))
	assert.Len(t, got, 8)

	require.NoError(t, src.Close())

	var closed *SessionClosed
	for len(events) > 0 {
		if ev, ok := (<-events).(SessionClosed); ok {
			closed = &ev
		}
	}
	require.NotNil(t, closed)
	assert.ErrorIs(t, closed.Err, ErrTransport)
}

func TestSourceDialFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	src := NewSource(testConfig(), nil)
	_, err := src.Open(context.Background(), url)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestSourceOpenTwice(t *testing.T) {
	server := newMediaServer(t, streamVideo([]byte{1}))
	src := NewSource(testConfig(), nil)
	defer src.Close()

	_, err := src.Open(context.Background(), server.url())
	require.NoError(t, err)

	_, err = src.Open(context.Background(), server.url())
	assert.ErrorIs(t, err, ErrAlreadyOpen)
}

func TestSourceClosedBeforeOpen(t *testing.T) {
	src := NewSource(testConfig(), nil)
	require.NoError(t, src.Close())

	_, err := src.Open(context.Background(), "ws://127.0.0.1:1")
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = src.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSourceDeclaredLengthTruncated(t *testing.T) {
	server := newMediaServer(t, streamVideo(make([]byte, 500)))
	src := NewSource(testConfig(), nil, WithLength(1000))
	defer src.Close()

	n, err := src.Open(context.Background(), server.url())
	require.NoError(t, err)
	assert.EqualValues(t, 1000, n)

	got, err := io.ReadAll(src)
	assert.Len(t, got, 500)
	assert.ErrorIs(t, err, ErrTruncated)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestSourceDeclaredLengthExact(t *testing.T) {
	server := newMediaServer(t, func(s *mediaServer, conn *websocket.Conn) {
		s.sendFrame(conn, videoMetadata(0, 100), make([]byte, 100))
	})
	src := NewSource(testConfig(), nil, WithLength(60))
	defer src.Close()

	_, err := src.Open(context.Background(), server.url())
	require.NoError(t, err)

	got, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Len(t, got, 60)
}

func TestSourceSkip(t *testing.T) {
	payload := make([]byte, 500)
	for i := range payload {
		payload[i] = byte(i)
	}
	server := newMediaServer(t, streamVideo(payload))
	src := NewSource(testConfig(), nil)
	defer src.Close()

	_, err := src.Open(context.Background(), server.url())
	require.NoError(t, err)

	require.NoError(t, src.Skip(100))
	rest, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, payload[100:], rest)
	assert.EqualValues(t, 100, src.BytesSkipped())
	assert.EqualValues(t, 400, src.BytesRead())
}

func TestSourceEvents(t *testing.T) {
	server := newMediaServer(t, streamVideo(make([]byte, 20)))
	events := make(chan interface{}, 64)
	src := NewSource(testConfig(), nil, WithEvents(events))

	_, err := src.Open(context.Background(), server.url())
	require.NoError(t, err)
	_, err = io.ReadAll(src)
	require.NoError(t, err)
	require.NoError(t, src.Close())

	var inits, acks, infos, closed int
	for len(events) > 0 {
		switch ev := (<-events).(type) {
		case ServerInitReceived:
			inits++
			assert.True(t, ev.Matched)
			assert.Equal(t, src.SessionId(), ev.SessionId)
		case AckSent:
			acks++
		case InfoSent:
			infos++
		case SessionClosed:
			closed++
			assert.NoError(t, ev.Err)
		}
	}
	assert.Equal(t, 1, inits)
	assert.Equal(t, 2, acks)
	assert.Equal(t, 1, infos)
	assert.Equal(t, 1, closed)
}

func TestSourceServerClosesWithFramesQueued(t *testing.T) {
	const frames = 40
	server := newMediaServer(t, func(s *mediaServer, conn *websocket.Conn) {
		for i := 0; i < frames; i++ {
			meta := videoMetadata(0, 1000)
			meta.Timestamp = uint64(i) * 180180
			s.sendFrame(conn, meta, bytes.Repeat([]byte{byte(i)}, 1000))
		}
		// ack 을 기다리지 않고 바로 종료
		closeNormally(conn)
	})

	src := NewSource(testConfig(), nil)
	defer src.Close()

	_, err := src.Open(context.Background(), server.url())
	require.NoError(t, err)

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(src)
		done <- result{data, err}
	}()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Len(t, r.data, frames*1000)
		assert.Equal(t, bytes.Repeat([]byte{frames - 1}, 1000), r.data[len(r.data)-1000:])
	case <-time.After(5 * time.Second):
		t.Fatalf("Read still blocked after server close, state=%s bytesRead=%d", src.State(), src.BytesRead())
	}

	assert.Equal(t, StateClosed, src.State())
	assert.EqualValues(t, frames*2002, src.BufferedTimelineMs())
}

func TestSourceServerClosesBeforeMedia(t *testing.T) {
	server := newMediaServer(t, func(s *mediaServer, conn *websocket.Conn) {
		closeNormally(conn)
	})

	cfg := testConfig()
	cfg.OpenTimeout = 10 * time.Second
	src := NewSource(cfg, nil)

	start := time.Now()
	_, err := src.Open(context.Background(), server.url())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, ErrStreamEnded)
	assert.NotErrorIs(t, err, ErrBarrierTimeout)
	assert.Equal(t, StateClosed, src.State())
}

func TestSourceServerErrorCloseBeforeMedia(t *testing.T) {
	server := newMediaServer(t, func(s *mediaServer, conn *websocket.Conn) {
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "encoder crashed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	})

	cfg := testConfig()
	cfg.OpenTimeout = 10 * time.Second
	src := NewSource(cfg, nil)

	start := time.Now()
	_, err := src.Open(context.Background(), server.url())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.ErrorIs(t, err, ErrTransport)
	assert.NotErrorIs(t, err, ErrStreamEnded)
}
