package logging

import (
	"io"
	"os"
)

// Setup wires log output for the daemon. When logFile is empty, output
// goes to stderr only. Otherwise output is teed to stderr and a rotating
// file; the returned closer flushes and closes the file side.
func Setup(logFile string) (io.Writer, func(), error) {
	if logFile == "" {
		return os.Stderr, func() {}, nil
	}
	fw, err := NewWriter(logFile, DefaultMaxBytes)
	if err != nil {
		return nil, nil, err
	}
	return io.MultiWriter(os.Stderr, fw), func() { _ = fw.Close() }, nil
}
