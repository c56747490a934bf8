package progress

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestReporter_MilestonesWithoutTTY(t *testing.T) {
	logs := captureLogs(t)
	var out bytes.Buffer
	r := NewWithWriter(&out, false, "decompress", 1000)

	for i := 0; i < 10; i++ {
		r.Add(100)
	}
	r.Add(500) // beyond an estimated total

	assert.Equal(t, int64(1500), r.Done())
	assert.Equal(t, 10, strings.Count(logs.String(), "msg=progress "))
	assert.Contains(t, logs.String(), "percent=100")
	assert.Empty(t, out.String())
}

func TestReporter_ReaderCountsBytes(t *testing.T) {
	captureLogs(t)
	var out bytes.Buffer
	r := NewWithWriter(&out, true, "write", 4)

	data, err := io.ReadAll(r.Reader(strings.NewReader("abcd")))
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(data))
	assert.Equal(t, int64(4), r.Finish())
	assert.Contains(t, out.String(), "100%")
}

func TestReporter_UnknownTotal(t *testing.T) {
	captureLogs(t)
	var out bytes.Buffer
	r := NewWithWriter(&out, true, "download", 0)

	_, err := r.Write(make([]byte, 2048))
	require.NoError(t, err)
	r.Finish()
	assert.Contains(t, out.String(), "2.0 KiB")
	assert.NotContains(t, out.String(), "%")
}
