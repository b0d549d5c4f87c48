// Package pipe provides a bounded in-memory byte queue that connects a single
// producer goroutine to a single blocking reader.
package pipe

import (
	"errors"
	"io"
	"sync"
)

// DefaultCapacity는 미디어 수신 버퍼의 기본 크기
const DefaultCapacity = 16_000_000

// ErrClosedPipe is returned by Write after the pipe has been closed.
var ErrClosedPipe = errors.New("pipe: write on closed pipe")

// Pipe is a fixed-capacity ring buffer. Write blocks while the buffer is full
// and Read blocks while it is empty, so a slow reader throttles the writer.
type Pipe struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	buf  []byte
	head int // next byte to read
	size int // buffered bytes

	closed bool
	err    error // returned to readers once drained
}

// New creates a pipe holding at most capacity bytes.
func New(capacity int) *Pipe {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &Pipe{
		buf: make([]byte, capacity),
	}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)
	return p
}

// Write appends b, blocking until there is room for every byte or the pipe is
// closed. Writes larger than the capacity are streamed through in pieces.
func (p *Pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	written := 0
	for written < len(b) {
		for p.size == len(p.buf) && !p.closed {
			p.notFull.Wait()
		}
		if p.closed {
			return written, ErrClosedPipe
		}

		tail := (p.head + p.size) % len(p.buf)
		free := len(p.buf) - p.size
		// 링 버퍼 끝까지만 복사하고 나머지는 다음 루프에서 처리
		end := tail + free
		if end > len(p.buf) {
			end = len(p.buf)
		}
		n := copy(p.buf[tail:end], b[written:])
		p.size += n
		written += n
		p.notEmpty.Signal()
	}
	return written, nil
}

// Read copies at most len(b) buffered bytes into b. It blocks until at least
// one byte is available or the pipe is closed; a closed and drained pipe
// returns io.EOF or the error given to CloseWithError.
func (p *Pipe) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for p.size == 0 && !p.closed {
		p.notEmpty.Wait()
	}
	if p.size == 0 {
		return 0, p.err
	}

	n := 0
	for n < len(b) && p.size > 0 {
		end := p.head + p.size
		if end > len(p.buf) {
			end = len(p.buf)
		}
		c := copy(b[n:], p.buf[p.head:end])
		p.head = (p.head + c) % len(p.buf)
		p.size -= c
		n += c
	}
	if p.size == 0 {
		p.head = 0
	}
	p.notFull.Signal()
	return n, nil
}

// Close closes the pipe. Readers drain what is buffered and then see io.EOF.
func (p *Pipe) Close() error {
	return p.CloseWithError(nil)
}

// CloseWithError closes the pipe so that readers see err after draining.
// A nil err means io.EOF. Only the first close sets the error.
func (p *Pipe) CloseWithError(err error) error {
	if err == nil {
		err = io.EOF
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.err = err
	p.notEmpty.Broadcast()
	p.notFull.Broadcast()
	return nil
}

// Len returns the number of buffered bytes.
func (p *Pipe) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Cap returns the pipe capacity.
func (p *Pipe) Cap() int {
	return len(p.buf)
}
