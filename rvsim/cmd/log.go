package cmd

import (
	"bytes"
	"fmt"
	"io"
	"golang.org/x/exp/slog"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
)

// Logger builds the logfmt logger the CLI commands write to.
func Logger(w io.Writer, lvl slog.Level) log.Logger {
	return log.NewLogger(log.LogfmtHandlerWithLevel(w, lvl))
}

// LoggingWriter exposes an io.Writer over a logger, for console output of
// the simulated program. Writes are buffered until a full line arrives, so
// a guest printing a line in pieces still produces one record per line.
// Printable lines log as text, anything else as hex.
type LoggingWriter struct {
	Name string
	Log  log.Logger
	buf  []byte
}

func printableText(b []byte) bool {
	for _, c := range b {
		if (c < 0x20 || c >= 0x7F) && c != '\t' {
			return false
		}
	}
	return true
}

func (lw *LoggingWriter) Write(b []byte) (int, error) {
	lw.buf = append(lw.buf, b...)
	for {
		i := bytes.IndexByte(lw.buf, '\n')
		if i < 0 {
			return len(b), nil
		}
		lw.emit(lw.buf[:i])
		lw.buf = lw.buf[i+1:]
	}
}

// Flush logs any trailing output the guest never terminated with a newline.
func (lw *LoggingWriter) Flush() {
	if len(lw.buf) > 0 {
		lw.emit(lw.buf)
		lw.buf = nil
	}
}

func (lw *LoggingWriter) emit(line []byte) {
	if printableText(line) {
		lw.Log.Info(lw.Name, "text", string(line))
	} else {
		lw.Log.Info(lw.Name, "data", hexutil.Bytes(line))
	}
}

// HexU64 lazy-formats integer log attributes as zero-padded hex.
type HexU64 uint64

func (v HexU64) String() string {
	return fmt.Sprintf("%016x", uint64(v))
}

func (v HexU64) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}
