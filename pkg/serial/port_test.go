package serial

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bserial "go.bug.st/serial"
)

// fakePort overrides the I/O methods of bserial.Port; anything else panics.
type fakePort struct {
	bserial.Port
	reads  []string
	closed bool
}

func (f *fakePort) Read(p []byte) (int, error) {
	if len(f.reads) == 0 {
		return 0, nil
	}
	n := copy(p, f.reads[0])
	f.reads = f.reads[1:]
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	return len(p), nil
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

func TestPort_ReadTimeout(t *testing.T) {
	p := &Port{path: "/dev/fake", port: &fakePort{reads: []string{"OK\n"}}}
	buf := make([]byte, 16)

	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "OK\n", string(buf[:n]))

	_, err = p.Read(buf)
	assert.True(t, errors.Is(err, ErrReadTimeout))
}

func TestPort_Close(t *testing.T) {
	fp := &fakePort{}
	p := &Port{path: "/dev/fake", port: fp}

	require.NoError(t, p.Close())
	assert.True(t, fp.closed)
	assert.Equal(t, "/dev/fake", p.Path())
}

func TestOpen_MissingDevice(t *testing.T) {
	_, err := Open(context.Background(), "/dev/canreplay-does-not-exist", DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/canreplay-does-not-exist")
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 115200, opts.BaudRate)
	assert.Equal(t, DefaultReadTimeout, opts.ReadTimeout)
	assert.Equal(t, DefaultSettle, opts.Settle)
}
