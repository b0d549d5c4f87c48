package player

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"wsplay/pkg/wsmedia"
)

// eventRecord is one line of the event log.
type eventRecord struct {
	Time int64              `json:"time"` // unix ms
	Type string             `json:"type,omitempty"`
	Ack  *wsmedia.ClientAck `json:"ack,omitempty"`
}

// EventLog appends server-init receipts and sent acks to a file, one JSON
// object per line.
type EventLog struct {
	mu     sync.Mutex
	closer io.Closer
	w      *bufio.Writer
	enc    *json.Encoder
}

func OpenEventLog(path string) (*EventLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return newEventLog(f), nil
}

func newEventLog(w io.WriteCloser) *EventLog {
	bw := bufio.NewWriter(w)
	return &EventLog{closer: w, w: bw, enc: json.NewEncoder(bw)}
}

// Record writes the line for event. Events other than ServerInitReceived and
// AckSent are ignored.
func (l *EventLog) Record(event interface{}) error {
	var rec eventRecord
	switch ev := event.(type) {
	case wsmedia.ServerInitReceived:
		rec = eventRecord{Time: ev.Time.UnixMilli(), Type: wsmedia.MsgServerInit}
	case wsmedia.AckSent:
		rec = eventRecord{Time: ev.Time.UnixMilli(), Ack: ev.Ack}
	default:
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.enc == nil {
		return os.ErrClosed
	}
	if err := l.enc.Encode(rec); err != nil {
		return err
	}
	return l.w.Flush()
}

func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.enc == nil {
		return nil
	}
	l.enc = nil
	flushErr := l.w.Flush()
	if err := l.closer.Close(); err != nil {
		return err
	}
	return flushErr
}
