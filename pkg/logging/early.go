package logging

import (
	"fmt"
	"io"
	"os"
)

// EarlyLog writes to stderr before the structured logger exists, e.g. while
// the configuration is still being loaded.
type EarlyLog struct {
	out  io.Writer
	exit func(int)
}

func NewEarlyLog() *EarlyLog {
	return &EarlyLog{out: os.Stderr, exit: os.Exit}
}

func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	fmt.Fprintf(l.out, "FATAL: "+msg+"\n", args...)
	l.exit(1)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	fmt.Fprintf(l.out, "WARN: "+msg+"\n", args...)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	fmt.Fprintf(l.out, "INFO: "+msg+"\n", args...)
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	fmt.Fprintf(l.out, "ERROR: "+msg+"\n", args...)
}
