package wsmedia

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SessionState is the protocol state of a session.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAwaitingServerInit
	StateStreaming
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateAwaitingServerInit:
		return "AwaitingServerInit"
	case StateStreaming:
		return "Streaming"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// SessionParams identify the client to the server during the handshake.
type SessionParams struct {
	InitID       uint32
	SessionKey   string
	UserName     string
	Channel      string
	OS           string
	Browser      string
	ScreenWidth  int
	ScreenHeight int
	// resume positions, only set when reconnecting
	NextVts *uint64
	NextAts *uint64
}

type messageSender interface {
	SendText(data []byte) error
}

// counters are shared between the protocol and the telemetry probes.
// bufferedTimelineMs is only written by the protocol, cumRebufferMs only by
// the rebuffer monitor.
type counters struct {
	bufferedTimelineMs atomic.Int64
	cumRebufferMs      atomic.Int64
}

// protocol is the client state machine. It consumes raw inbound messages in
// delivery order and never touches the websocket directly.
type protocol struct {
	sessionId     string
	params        SessionParams
	sender        messageSender
	media         io.Writer
	player        Player
	metrics       *Metrics
	events        chan<- interface{}
	chunkDuration time.Duration

	state    atomic.Int32
	counters counters

	firstVideo   sync.Once
	onFirstVideo func()

	// ended reports a clean close by the server. Messages still queued
	// after it are processed without acknowledgement.
	ended func() bool

	fragments map[chunkKey]int
}

func newProtocol(sessionId string, params SessionParams, sender messageSender, media io.Writer, player Player) *protocol {
	if player == nil {
		player = idlePlayer{}
	}
	return &protocol{
		sessionId:     sessionId,
		params:        params,
		sender:        sender,
		media:         media,
		player:        player,
		metrics:       NewMetrics(),
		chunkDuration: DefaultChunkDuration,
		onFirstVideo:  func() {},
		ended:         func() bool { return false },
		fragments:     make(map[chunkKey]int),
	}
}

func (p *protocol) State() SessionState {
	return SessionState(p.state.Load())
}

func (p *protocol) setState(s SessionState) {
	old := SessionState(p.state.Swap(int32(s)))
	if old != s {
		slog.Debug("session state changed", "sessionId", p.sessionId, "from", old, "to", s)
	}
}

// start sends client-init. Called once the transport is open.
func (p *protocol) start() error {
	if err := p.send(newClientInit(p.params)); err != nil {
		return fmt.Errorf("send client-init: %w", err)
	}
	p.metrics.MessagesSent.WithLabelValues(MsgClientInit, "").Inc()
	p.setState(StateAwaitingServerInit)
	return nil
}

// run processes inbound messages until the channel is closed or a fatal error
// occurs. Malformed frames are not fatal.
func (p *protocol) run(inbound <-chan []byte) error {
	for data := range inbound {
		if err := p.handleMessage(data); err != nil {
			return err
		}
	}
	return nil
}

func (p *protocol) handleMessage(data []byte) error {
	switch p.State() {
	case StateAwaitingServerInit:
		return p.handleServerInit(data)
	case StateStreaming:
		frame, err := DecodeFrame(data)
		if err != nil {
			p.drop(err)
			return nil
		}
		return p.handleFrame(frame)
	case StateClosed:
		return nil
	default:
		slog.Warn("message before client-init, ignored", "sessionId", p.sessionId, "size", len(data))
		return nil
	}
}

// handleServerInit accepts any first message; a missing server-init marker is
// only logged.
func (p *protocol) handleServerInit(data []byte) error {
	matched := bytes.Contains(data, []byte(MsgServerInit))
	if !matched {
		slog.Warn("protocol mismatch: expected server-init", "sessionId", p.sessionId, "size", len(data))
	}
	p.emit(ServerInitReceived{SessionId: p.sessionId, Time: time.Now(), Matched: matched})

	// startup acknowledgement
	if err := p.sendInfo(EventStartup); err != nil && !p.afterEnd(err) {
		return err
	}
	p.setState(StateStreaming)
	return nil
}

func (p *protocol) handleFrame(frame *Frame) error {
	p.metrics.FramesReceived.WithLabelValues(frame.Metadata.Type).Inc()

	key := frame.chunk()
	if _, ok := p.fragments[key]; !ok {
		p.discardIncomplete(key)
	}
	p.fragments[key]++

	if frame.IsLastFragment() {
		p.counters.bufferedTimelineMs.Add(p.chunkDuration.Milliseconds())
		p.metrics.ChunksComplete.WithLabelValues(frame.Metadata.Type).Inc()
		slog.Debug("chunk complete", "sessionId", p.sessionId, "type", frame.Metadata.Type,
			"channel", key.channel, "timestamp", key.timestamp, "fragments", p.fragments[key],
			"bufferedTimelineMs", p.counters.bufferedTimelineMs.Load())
		delete(p.fragments, key)
	}

	// 오디오는 파이프로 보내지 않음 (비디오 트랙만 소비)
	if frame.IsVideo() {
		if _, err := p.media.Write(frame.Payload); err != nil {
			return fmt.Errorf("write media: %w", err)
		}
		p.metrics.MediaBytes.Add(float64(len(frame.Payload)))
		p.firstVideo.Do(p.onFirstVideo)
	}

	ack := newClientAck(p.params, p.health(), frame)
	if err := p.send(ack); err != nil {
		if p.afterEnd(err) {
			return nil
		}
		return fmt.Errorf("send %s: %w", ack.Type, err)
	}
	p.metrics.MessagesSent.WithLabelValues(ack.Type, "").Inc()
	p.emit(AckSent{SessionId: p.sessionId, Time: time.Now(), Ack: ack})
	return nil
}

// discardIncomplete forgets older chunks of the same channel whose final
// fragment never arrived.
func (p *protocol) discardIncomplete(key chunkKey) {
	for k, n := range p.fragments {
		if k.channel == key.channel && k.timestamp < key.timestamp {
			slog.Debug("incomplete chunk discarded", "sessionId", p.sessionId,
				"channel", k.channel, "timestamp", k.timestamp, "fragments", n)
			delete(p.fragments, k)
		}
	}
}

// afterEnd reports whether a failed send is only the consequence of the
// server having closed the stream.
func (p *protocol) afterEnd(err error) bool {
	if !p.ended() {
		return false
	}
	slog.Debug("message not sent, stream ended by server", "sessionId", p.sessionId, "err", err)
	return true
}

func (p *protocol) drop(err error) {
	slog.Warn("dropping malformed frame", "sessionId", p.sessionId, "err", err)
	p.metrics.FramesDropped.Inc()
	p.emit(FrameDropped{SessionId: p.sessionId, Time: time.Now(), Err: err})
}

// bufferAheadMs is the downloaded but unplayed media duration.
func (p *protocol) bufferAheadMs() int64 {
	return p.counters.bufferedTimelineMs.Load() - p.player.CurrentPositionMs()
}

func (p *protocol) health() BufferHealth {
	position := p.player.CurrentPositionMs()
	ahead := MillisToSeconds(p.counters.bufferedTimelineMs.Load() - position)
	p.metrics.BufferAhead.Set(float64(ahead))
	return BufferHealth{
		VideoBuffer:   ahead,
		AudioBuffer:   ahead,
		CumRebuffer:   MillisToSeconds(p.counters.cumRebufferMs.Load()),
		VideoTimeline: MillisToSeconds(position),
	}
}

func (p *protocol) sendInfo(event string) error {
	info := newClientInfo(p.params, p.health(), event)
	if err := p.send(info); err != nil {
		return fmt.Errorf("send client-info %s: %w", event, err)
	}
	p.metrics.MessagesSent.WithLabelValues(MsgClientInfo, event).Inc()
	p.emit(InfoSent{SessionId: p.sessionId, Time: time.Now(), Info: info})
	return nil
}

func (p *protocol) send(msg any) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return p.sender.SendText(data)
}

// emit never blocks the caller; events are dropped when nobody keeps up.
func (p *protocol) emit(event interface{}) {
	if p.events == nil {
		return
	}
	select {
	case p.events <- event:
	default:
		slog.Debug("event channel full, event dropped", "sessionId", p.sessionId, "event", fmt.Sprintf("%T", event))
	}
}
