package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"wsplay/pkg/wsmedia"
)

const (
	statsInterval   = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Client plays one stream: it opens a wsmedia.Source, drains its media into
// the output and handles the session events.
type Client struct {
	config   *Config
	source   *wsmedia.Source
	playback *Playback
	metrics  *wsmedia.Metrics
	registry *prometheus.Registry
	channel  chan interface{}
	eventLog *EventLog
	output   io.Writer
	closers  []io.Closer
}

func NewClient(config *Config) (*Client, error) {
	c := &Client{
		config:   config,
		playback: NewPlayback(DefaultResumeAfter, nil),
		metrics:  wsmedia.NewMetrics(),
		registry: prometheus.NewRegistry(),
		channel:  make(chan interface{}, wsmedia.DefaultEventBuffer),
		output:   io.Discard,
	}

	if err := c.metrics.Register(c.registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	if err := c.registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	if path := config.EventLog.Path; path != "" {
		eventLog, err := OpenEventLog(path)
		if err != nil {
			return nil, err
		}
		c.eventLog = eventLog
		c.closers = append(c.closers, eventLog)
	}

	if path := config.Output.Path; path != "" {
		f, err := os.Create(path)
		if err != nil {
			c.release()
			return nil, fmt.Errorf("create output: %w", err)
		}
		c.output = f
		c.closers = append(c.closers, f)
	}

	c.source = wsmedia.NewSource(config.SourceConfig(), c.playback,
		wsmedia.WithEvents(c.channel),
		wsmedia.WithMetrics(c.metrics),
	)
	return c, nil
}

// Run plays the stream until it ends, fails or ctx is cancelled.
// Cancellation is a normal stop and returns nil.
func (c *Client) Run(ctx context.Context) error {
	defer c.release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.eventLoop(gctx)
		return nil
	})
	if c.config.Metrics.Addr != "" {
		g.Go(func() error { return c.serveMetrics(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return c.source.Close()
	})
	g.Go(func() error {
		defer cancel()
		return c.stream(gctx)
	})

	err := g.Wait()

	// 종료 후 남은 이벤트 처리
	c.drainEvents()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Client) stream(ctx context.Context) error {
	url := c.config.Stream.URL
	if _, err := c.source.Open(ctx, url); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	c.playback.Attach(c.source.BufferedTimelineMs)

	n, err := io.Copy(c.output, c.source)
	c.playback.EndOfStream()
	if err != nil {
		return fmt.Errorf("read media: %w", err)
	}

	slog.Info("stream finished", "sessionId", c.source.SessionId(), "bytes", n,
		"bufferedTimelineMs", c.source.BufferedTimelineMs(),
		"cumRebufferMs", c.source.CumulativeRebufferMs())
	return nil
}

func (c *Client) eventLoop(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.channel:
			c.channelHandler(data)
		case <-ticker.C:
			c.logStats()
		case <-ctx.Done():
			slog.Debug("client event loop stopping")
			return
		}
	}
}

func (c *Client) drainEvents() {
	for {
		select {
		case data := <-c.channel:
			c.channelHandler(data)
		default:
			return
		}
	}
}

func (c *Client) channelHandler(data interface{}) {
	switch ev := data.(type) {
	case wsmedia.ServerInitReceived:
		slog.Info("server-init received", "sessionId", ev.SessionId, "matched", ev.Matched)
	case wsmedia.AckSent:
		slog.Debug("ack sent", "sessionId", ev.SessionId, "type", ev.Ack.Type,
			"timestamp", ev.Ack.Timestamp, "byteOffset", ev.Ack.ByteOffset, "videoBuffer", ev.Ack.VideoBuffer)
	case wsmedia.InfoSent:
		slog.Debug("info sent", "sessionId", ev.SessionId, "event", ev.Info.Event, "videoBuffer", ev.Info.VideoBuffer)
	case wsmedia.FrameDropped:
		slog.Debug("frame dropped", "sessionId", ev.SessionId, "err", ev.Err)
	case wsmedia.RebufferStarted:
		slog.Info("rebuffering", "sessionId", ev.SessionId)
	case wsmedia.PlaybackResumed:
		slog.Info("playback resumed", "sessionId", ev.SessionId, "cumRebufferMs", ev.RebufferMs)
	case wsmedia.SessionClosed:
		if ev.Err != nil {
			slog.Error("session closed with error", "sessionId", ev.SessionId, "err", ev.Err)
		} else {
			slog.Info("session closed", "sessionId", ev.SessionId)
		}
	default:
		slog.Warn("unknown event", "event", fmt.Sprintf("%T", data))
		return
	}

	if c.eventLog != nil {
		if err := c.eventLog.Record(data); err != nil {
			slog.Error("failed to write event log", "err", err)
		}
	}
}

func (c *Client) logStats() {
	slog.Info("playback",
		"state", c.playback.PlaybackState(),
		"positionMs", c.playback.CurrentPositionMs(),
		"bufferedTimelineMs", c.source.BufferedTimelineMs(),
		"cumRebufferMs", c.source.CumulativeRebufferMs(),
		"bytesRead", c.source.BytesRead())
}

func (c *Client) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              c.config.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}

// Registry exposes the collectors served on /metrics.
func (c *Client) Registry() *prometheus.Registry { return c.registry }

func (c *Client) Source() *wsmedia.Source { return c.source }

func (c *Client) release() {
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			slog.Error("close failed", "err", err)
		}
	}
	c.closers = nil
}
