package config_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-quicktest/qt"

	"github.com/eXist-db/exist-sub013/pkg/config"
	"github.com/eXist-db/exist-sub013/pkg/evaluator"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xq.yaml")
	qt.Assert(t, qt.IsNil(os.WriteFile(path, []byte(body), 0o644)))
	return path
}

func TestDefaults(t *testing.T) {
	c, err := config.Load("")
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(c.Query.Timeout, time.Duration(0)))
	qt.Check(t, qt.IsTrue(c.Query.Optimize))
	qt.Check(t, qt.Equals(c.Query.LockTimeout, 5*time.Second))
	qt.Check(t, qt.Equals(c.Cache.Size, 256))
	qt.Check(t, qt.Equals(c.Log.Format, "text"))
	qt.Check(t, qt.IsNil(c.NewProfiler(slog.Default())))
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
query:
  timeout: 30s
  output-size-limit: 1000
  optimize: false
profiler:
  enabled: true
  verbosity: 2
log:
  level: debug
  format: json
`)
	c, err := config.Load(path)
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(c.Query.Timeout, 30*time.Second))
	qt.Check(t, qt.Equals(c.Query.OutputSizeLimit, int64(1000)))
	qt.Check(t, qt.IsFalse(c.Query.Optimize))
	qt.Check(t, qt.Equals(c.Profiler.Verbosity, 2))

	p := c.NewProfiler(slog.Default())
	qt.Assert(t, qt.IsNotNil(p))
	qt.Check(t, qt.IsTrue(p.IsEnabled()))

	var opts evaluator.EvalOptions
	for _, o := range c.EvalOptions(slog.Default()) {
		o(&opts)
	}
	qt.Check(t, qt.Equals(opts.Timeout, 30*time.Second))
	qt.Check(t, qt.Equals(opts.MaxOutputSize, int64(1000)))
	qt.Check(t, qt.IsFalse(opts.Optimize))
	qt.Check(t, qt.IsTrue(opts.Debug))
	qt.Check(t, qt.IsNotNil(opts.Profiler))
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "query:\n  timeout: 30s\n")
	t.Setenv("XQ_QUERY_TIMEOUT", "2s")
	t.Setenv("XQ_QUERY_OUTPUT_SIZE_LIMIT", "50")
	c, err := config.Load(path)
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(c.Query.Timeout, 2*time.Second))
	qt.Check(t, qt.Equals(c.Query.OutputSizeLimit, int64(50)))
}

func TestMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	qt.Assert(t, qt.IsNotNil(err))
}

func TestInvalidValues(t *testing.T) {
	path := writeConfig(t, "log:\n  level: loud\n  format: xml\n")
	_, err := config.Load(path)
	qt.Assert(t, qt.IsNotNil(err))
	qt.Check(t, qt.StringContains(err.Error(), "log.level"))
	qt.Check(t, qt.StringContains(err.Error(), "log.format"))
}

func TestHandlerFormat(t *testing.T) {
	path := writeConfig(t, "log:\n  format: json\n")
	c, err := config.Load(path)
	qt.Assert(t, qt.IsNil(err))
	var buf bytes.Buffer
	slog.New(c.Handler(&buf)).Info("hello", "n", 1)
	qt.Assert(t, qt.StringContains(buf.String(), `"msg":"hello"`))
}
