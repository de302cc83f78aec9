package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestInitLevelCaseInsensitive(t *testing.T) {
	c := qt.New(t)
	defer Init(LogLevelError, "stderr")

	// The environment contract uses uppercase names; flags use lowercase.
	Init("DEBUG", "stderr")
	c.Assert(Level(), qt.Equals, LogLevelDebug)

	Init("Warn", "stderr")
	c.Assert(Level(), qt.Equals, LogLevelWarn)

	Init("info", "stderr")
	c.Assert(Level(), qt.Equals, LogLevelInfo)
}

func TestFileOutput(t *testing.T) {
	c := qt.New(t)
	defer Init(LogLevelError, "stderr")

	path := filepath.Join(t.TempDir(), "out.log")
	Init(LogLevelInfo, path)

	Info("plain info line")
	Warn("warn line")
	Error("error line")
	Infof("formatted %d", 7)
	Infow("structured line", "key", "value")
	Monitor("status line", map[string]any{"count": 3})
	Debug("filtered out at info")

	data, err := os.ReadFile(path)
	c.Assert(err, qt.IsNil)
	out := string(data)
	for _, want := range []string{
		"plain info line",
		"warn line",
		"error line",
		"formatted 7",
		"structured line",
		"status line",
	} {
		c.Assert(strings.Contains(out, want), qt.IsTrue, qt.Commentf("missing %q in %q", want, out))
	}
	c.Assert(strings.Contains(out, "filtered out"), qt.IsFalse)
}
