package pipe

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeReadWrite(t *testing.T) {
	p := New(16)

	n, err := p.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, p.Len())

	buf := make([]byte, 3)
	n, err = p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hel", string(buf[:n]))

	n, err = p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "lo", string(buf[:n]))
	assert.Equal(t, 0, p.Len())
}

func TestPipeFIFOAcrossChunking(t *testing.T) {
	const total = 64 * 1024
	src := make([]byte, total)
	rng := rand.New(rand.NewSource(1))
	rng.Read(src)

	// 용량보다 큰 쓰기와 작은 읽기를 섞어서 순서 보존 확인
	p := New(1000)
	go func() {
		off := 0
		for off < total {
			size := 1 + rng.Intn(3000)
			if off+size > total {
				size = total - off
			}
			if _, err := p.Write(src[off : off+size]); err != nil {
				return
			}
			off += size
		}
		p.Close()
	}()

	var got bytes.Buffer
	readRng := rand.New(rand.NewSource(2))
	for {
		buf := make([]byte, 1+readRng.Intn(700))
		n, err := p.Read(buf)
		assert.LessOrEqual(t, n, len(buf))
		got.Write(buf[:n])
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
	}
	assert.True(t, bytes.Equal(src, got.Bytes()))
}

func TestPipeReadBlocksUntilWrite(t *testing.T) {
	p := New(8)
	done := make(chan int, 1)

	go func() {
		buf := make([]byte, 8)
		n, _ := p.Read(buf)
		done <- n
	}()

	select {
	case <-done:
		t.Fatal("read returned on an empty open pipe")
	case <-time.After(50 * time.Millisecond):
	}

	_, err := p.Write([]byte{1, 2})
	require.NoError(t, err)

	select {
	case n := <-done:
		assert.Equal(t, 2, n)
	case <-time.After(time.Second):
		t.Fatal("read did not wake up after write")
	}
}

func TestPipeWriteBlocksWhenFull(t *testing.T) {
	p := New(4)
	_, err := p.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Write([]byte{5})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("write returned on a full pipe")
	case <-time.After(50 * time.Millisecond):
	}

	buf := make([]byte, 1)
	_, err = p.Read(buf)
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("write did not wake up after read")
	}
}

func TestPipeCloseUnblocksReader(t *testing.T) {
	p := New(8)
	done := make(chan error, 1)
	go func() {
		_, err := p.Read(make([]byte, 4))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("reader still blocked after close")
	}
}

func TestPipeCloseUnblocksWriter(t *testing.T) {
	p := New(2)
	done := make(chan error, 1)
	go func() {
		_, err := p.Write([]byte{1, 2, 3})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosedPipe)
	case <-time.After(time.Second):
		t.Fatal("writer still blocked after close")
	}
}

func TestPipeDrainBeforeError(t *testing.T) {
	p := New(8)
	_, err := p.Write([]byte("abc"))
	require.NoError(t, err)

	boom := errors.New("boom")
	require.NoError(t, p.CloseWithError(boom))
	// 두 번째 close는 에러를 덮어쓰지 않음
	require.NoError(t, p.Close())

	buf := make([]byte, 8)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))

	_, err = p.Read(buf)
	assert.ErrorIs(t, err, boom)
}

func TestPipeZeroLengthRead(t *testing.T) {
	p := New(8)
	n, err := p.Read(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
