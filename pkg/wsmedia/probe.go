package wsmedia

import (
	"context"
	"time"
)

// runReporter sends a timer info every interval while the buffer is below
// threshold.
func (p *protocol) runReporter(ctx context.Context, interval, threshold time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if p.bufferAheadMs() >= threshold.Milliseconds() {
			continue
		}
		if err := p.sendInfo(EventTimer); err != nil {
			return err
		}
	}
}

// runRebufferMonitor polls the playback state and reports rebuffer/play
// transitions. Rebuffer time is accumulated between consecutive ticks.
func (p *protocol) runRebufferMonitor(ctx context.Context, interval time.Duration, now func() time.Time) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var tracker rebufferTracker
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		t := now()
		event, elapsedMs := tracker.observe(t.UnixMilli(), p.player.PlaybackState() == PlaybackBuffering)
		if elapsedMs > 0 {
			p.counters.cumRebufferMs.Add(elapsedMs)
			p.metrics.RebufferTotal.Add(float64(elapsedMs) / 1000.0)
		}

		switch event {
		case EventRebuffer:
			if err := p.sendInfo(EventRebuffer); err != nil {
				return err
			}
			p.emit(RebufferStarted{SessionId: p.sessionId, Time: t})
		case EventPlay:
			if err := p.sendInfo(EventPlay); err != nil {
				return err
			}
			p.emit(PlaybackResumed{SessionId: p.sessionId, Time: t, RebufferMs: p.counters.cumRebufferMs.Load()})
		}
	}
}

// rebufferTracker holds the watermark of the current rebuffer period.
// The first buffering tick only starts the period; every following
// buffering tick adds the time since the previous one.
type rebufferTracker struct {
	active  bool
	startMs int64
	lastMs  int64
}

// observe returns the event to report, if any, and the rebuffer time to add.
func (r *rebufferTracker) observe(nowMs int64, buffering bool) (string, int64) {
	if !buffering {
		if !r.active {
			return "", 0
		}
		*r = rebufferTracker{}
		return EventPlay, 0
	}

	if !r.active {
		r.active = true
		r.startMs = nowMs
		r.lastMs = nowMs
		return EventRebuffer, 0
	}

	elapsed := nowMs - r.lastMs
	r.lastMs = nowMs
	return "", elapsed
}
