// Package nlog is the runtime's logger: timestamping, severity levels,
// and depth-aware caller info, in the style of the teacher's logger but
// trimmed down: each line is written straight to its sink's writer
// (stderr unless SetOutput redirects it), with no buffering.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = [...]byte{'I', 'W', 'E'}

type nlog struct {
	mu      sync.Mutex
	out     io.Writer
	written atomic.Int64
}

var nlogs [3]*nlog

func init() {
	for i := range nlogs {
		nlogs[i] = &nlog{out: os.Stderr}
	}
}

// SetOutput redirects every severity sink to w.
func SetOutput(w io.Writer) {
	for i := range nlogs {
		nlogs[i].mu.Lock()
		nlogs[i].out = w
		nlogs[i].mu.Unlock()
	}
}

func (n *nlog) write(line string) {
	n.mu.Lock()
	io.WriteString(n.out, line)
	n.mu.Unlock()
	n.written.Add(int64(len(line)))
}

func formatHdr(sev severity, depth int) string {
	var sb strings.Builder
	sb.WriteByte(sevChar[sev])
	sb.WriteByte(' ')
	sb.WriteString(time.Now().Format("15:04:05.000000"))
	sb.WriteByte(' ')
	if _, fn, ln, ok := runtime.Caller(depth); ok {
		if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
			fn = fn[idx+1:]
		}
		sb.WriteString(fn)
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(ln))
		sb.WriteByte(' ')
	}
	return sb.String()
}

func log(sev severity, depth int, format string, args ...any) {
	hdr := formatHdr(sev, depth+3)
	var msg string
	if format == "" {
		msg = fmt.Sprintln(args...)
	} else {
		msg = fmt.Sprintf(format, args...)
		if !strings.HasSuffix(msg, "\n") {
			msg += "\n"
		}
	}
	line := hdr + msg
	nlogs[sevInfo].write(line)
	if sev >= sevWarn {
		nlogs[sevWarn].write(line)
	}
	if sev >= sevErr {
		nlogs[sevErr].write(line)
	}
}

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 0, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 0, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 0, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 0, format, args...) }

// Written reports the total bytes written to the info sink.
func Written() int64 { return nlogs[sevInfo].written.Load() }
