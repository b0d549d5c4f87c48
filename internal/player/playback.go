package player

import (
	"log/slog"
	"sync"
	"time"

	"wsplay/pkg/wsmedia"
)

// DefaultResumeAfter is the buffer needed to start or resume playback.
const DefaultResumeAfter = 2500 * time.Millisecond

// Playback simulates a media player consuming the received timeline in real
// time, so the client can report buffer health without decoding anything.
// It implements wsmedia.Player.
type Playback struct {
	resumeAfterMs int64
	now           func() time.Time

	mu         sync.Mutex
	timeline   func() int64
	state      wsmedia.PlaybackState
	positionMs int64
	last       time.Time
	ended      bool
}

func NewPlayback(resumeAfter time.Duration, now func() time.Time) *Playback {
	if resumeAfter <= 0 {
		resumeAfter = DefaultResumeAfter
	}
	if now == nil {
		now = time.Now
	}
	return &Playback{
		resumeAfterMs: resumeAfter.Milliseconds(),
		now:           now,
		state:         wsmedia.PlaybackIdle,
	}
}

// Attach starts playback against the buffered timeline reported by timeline.
func (p *Playback) Attach(timeline func() int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeline = timeline
	p.last = p.now()
	p.setState(wsmedia.PlaybackBuffering)
}

// EndOfStream marks that no more media will arrive.
func (p *Playback) EndOfStream() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ended = true
}

func (p *Playback) CurrentPositionMs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()
	return p.positionMs
}

func (p *Playback) PlaybackState() wsmedia.PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()
	return p.state
}

func (p *Playback) advance() {
	if p.timeline == nil || p.state == wsmedia.PlaybackEnded {
		return
	}

	now := p.now()
	elapsed := now.Sub(p.last).Milliseconds()
	p.last = now
	buffered := p.timeline()

	switch p.state {
	case wsmedia.PlaybackReady:
		p.positionMs += elapsed
		if p.positionMs >= buffered {
			p.positionMs = buffered
			if p.ended {
				p.setState(wsmedia.PlaybackEnded)
			} else {
				p.setState(wsmedia.PlaybackBuffering)
			}
		}
	case wsmedia.PlaybackBuffering:
		ahead := buffered - p.positionMs
		switch {
		case ahead >= p.resumeAfterMs, p.ended && ahead > 0:
			p.setState(wsmedia.PlaybackReady)
		case p.ended:
			p.setState(wsmedia.PlaybackEnded)
		}
	}
}

func (p *Playback) setState(s wsmedia.PlaybackState) {
	if p.state == s {
		return
	}
	slog.Debug("playback state changed", "from", p.state, "to", s, "positionMs", p.positionMs)
	p.state = s
}
