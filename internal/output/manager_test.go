package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(&buf)
	require.False(t, m.live)
	m.StartDisplay()

	ok := m.Register("a.bin")
	failed := m.Register("b.bin")
	paused := m.Register("c.bin")

	m.Start(ok, 2048)
	m.SetProgress(ok, 1024)
	assert.Empty(t, buf.String(), "nothing is printed until a download ends")

	m.Complete(ok, "")
	m.ReportError(failed, errors.New("server said no"))
	m.Pause(paused, 512)
	m.SetProgress(paused, 600)
	m.StopDisplay()

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "Completed a.bin"))
	assert.Equal(t, 1, strings.Count(out, "Paused c.bin at 512 B"))
	assert.Contains(t, out, "Failed b.bin")
	assert.Contains(t, out, "Completed 1 of 3")
	assert.Contains(t, out, "Paused 1 of 3")
	assert.Contains(t, out, "Failed 1 of 3")
	assert.Contains(t, out, "Error: server said no")
	assert.NotContains(t, out, "Canceled")

	counts := m.Counts()
	assert.Equal(t, 1, counts[StatusSuccess])
	assert.Equal(t, 1, counts[StatusError])
	assert.Equal(t, 1, counts[StatusPaused])
}

func TestUnknownIDIgnored(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(&buf)
	m.Complete(99, "done")
	m.SetProgress(99, 10)
	assert.Empty(t, buf.String())
	assert.Empty(t, m.Counts())
}

func TestProgressBar(t *testing.T) {
	assert.Contains(t, progressBar(50, 100, 10), "50.0%")
	assert.Contains(t, progressBar(500, 100, 10), "100.0%")
	assert.Contains(t, progressBar(-5, 100, 10), "0.0%")
	assert.Contains(t, progressBar(10, -1, 10), "?%")
	assert.Equal(t, 5, strings.Count(progressBar(50, 100, 10), StyleSymbols["hline"]))
}

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "0 B/s", FormatSpeed(100, 0))
	assert.Equal(t, "512 B/s", FormatSpeed(1024, 2))
	assert.Equal(t, "1.00 MB/s", FormatSpeed(1024*1024, 1))
}
