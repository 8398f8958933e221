package gps

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixCollector struct {
	mu    sync.Mutex
	fixes []Fix
}

func (c *fixCollector) add(f Fix) {
	c.mu.Lock()
	c.fixes = append(c.fixes, f)
	c.mu.Unlock()
}

func (c *fixCollector) all() []Fix {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Fix(nil), c.fixes...)
}

type countingObserver struct {
	mu       sync.Mutex
	lines    int
	failures int
}

func (o *countingObserver) LineRead(string) {
	o.mu.Lock()
	o.lines++
	o.mu.Unlock()
}

func (o *countingObserver) DecodeFailed(string) {
	o.mu.Lock()
	o.failures++
	o.mu.Unlock()
}

func newTestReader(t *testing.T, obs Observer, c *fixCollector) *Reader {
	t.Helper()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r, err := NewReader(ReaderConfig{
		DeviceID:    "gps1",
		ReadTimeout: 20 * time.Millisecond,
		Observer:    obs,
		Now:         func() time.Time { return fixed },
	}, c.add)
	require.NoError(t, err)
	return r
}

func TestReader_ForwardsFixesAndSkipsBadLines(t *testing.T) {
	client, server := net.Pipe()
	obs := &countingObserver{}
	c := &fixCollector{}
	r := newTestReader(t, obs, c)

	go func() {
		_, _ = server.Write([]byte(nmeaLine(rmcPayload) + "\r\n"))
		_, _ = server.Write([]byte("$GPRMC,broken*00\r\n"))
		_, _ = server.Write([]byte(nmeaLine("GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1") + "\r\n"))
		_, _ = server.Write([]byte(nmeaLine(ggaPayload) + "\r\n"))
		_ = server.Close()
	}()

	err := r.Run(context.Background(), client)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)

	fixes := c.all()
	require.Len(t, fixes, 2)
	assert.Equal(t, KindMotion, fixes[0].Kind)
	assert.Equal(t, KindFix, fixes[1].Kind)
	for _, f := range fixes {
		assert.Equal(t, "gps1", f.DeviceID)
		assert.False(t, f.ObservedAt.IsZero())
	}

	st := r.Status()
	assert.Equal(t, StateDisconnected, st.State)
	assert.EqualValues(t, 4, st.Lines)
	assert.EqualValues(t, 2, st.Fixes)
	assert.EqualValues(t, 1, st.DecodeFailures)
	assert.NotEmpty(t, st.LastError)
	assert.Equal(t, 4, obs.lines)
	assert.Equal(t, 1, obs.failures)
}

func TestReader_CancelStopsIdleStream(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	c := &fixCollector{}
	r := newTestReader(t, nil, c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, client) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop after cancel")
	}
	assert.Equal(t, StateStopped, r.Status().State)
	assert.Empty(t, c.all())
}

func TestReader_LineSplitAcrossReadTimeout(t *testing.T) {
	client, server := net.Pipe()
	c := &fixCollector{}
	r := newTestReader(t, nil, c)

	line := nmeaLine(ggaPayload) + "\n"
	go func() {
		_, _ = server.Write([]byte(line[:10]))
		time.Sleep(60 * time.Millisecond)
		_, _ = server.Write([]byte(line[10:]))
		_ = server.Close()
	}()

	_ = r.Run(context.Background(), client)
	require.Len(t, c.all(), 1)
	assert.Equal(t, KindFix, c.all()[0].Kind)
}

func TestReader_FinalLineWithoutNewline(t *testing.T) {
	client, server := net.Pipe()
	c := &fixCollector{}
	r := newTestReader(t, nil, c)

	go func() {
		_, _ = server.Write([]byte(nmeaLine(rmcPayload)))
		_ = server.Close()
	}()

	_ = r.Run(context.Background(), client)
	assert.Len(t, c.all(), 1)
}

// failingConn yields its data and then a read error that is not EOF.
type failingConn struct {
	io.Reader
	err error
}

func (c *failingConn) Read(p []byte) (int, error) {
	n, err := c.Reader.Read(p)
	if errors.Is(err, io.EOF) {
		return n, c.err
	}
	return n, err
}

func (c *failingConn) Close() error { return nil }

func TestReader_ReadFailureIsErrorState(t *testing.T) {
	c := &fixCollector{}
	r := newTestReader(t, nil, c)
	assert.Equal(t, StateDisconnected, r.Status().State)

	conn := &failingConn{Reader: strings.NewReader(nmeaLine(rmcPayload) + "\r\n"), err: errors.New("input/output error")}
	err := r.Run(context.Background(), conn)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)

	st := r.Status()
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, "input/output error", st.LastError)
	assert.Len(t, c.all(), 1)
}

func TestNewReader_Validates(t *testing.T) {
	_, err := NewReader(ReaderConfig{}, func(Fix) {})
	assert.Error(t, err)
	_, err = NewReader(ReaderConfig{DeviceID: "gps1"}, nil)
	assert.Error(t, err)
}
