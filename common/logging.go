// Package common provides the shared logging and small utility helpers
// used across the program-management service. Logging is built on logrus
// with an output splitter that routes error-level lines to stderr and
// everything else to stdout, so container log collectors can treat the
// two streams differently without parsing structured fields.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines by severity: lines carrying
// the "level=error" marker go to stderr, the rest to stdout. It operates
// on logrus's final output, so it works with both the text and JSON
// formatters.
type OutputSplitter struct{}

// Write implements io.Writer. The pattern match is a plain byte search;
// no parsing, no allocation on the hot path.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance shared by every component.
// Services may adjust its level and formatter at startup; the output
// splitter stays in place either way.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
