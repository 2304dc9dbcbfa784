// Package lb implements the LBDatafile wire format (§6 Persisted
// state): a newline-delimited JSON stream of per-phase load records
// that a rank writes while running and that OfflineLB-style tooling
// reads back later. This package is the format's reader/writer only —
// no load-balancing policy, which remains a non-goal "user" of the
// format (per SPEC_FULL's Non-goals).
//
// Grounded on the teacher's jsoniter usage style (cmn/cos/fs.go) for
// the marshal/unmarshal calls, and on spec.md §6's exact record shape:
// {"phases":[{"id":N,"tasks":[...],"communications":[...]}],"metadata":{"type":"LBDatafile",...}}.
package lb

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/amt-rt/vt/cmn/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TaskRecord is one entity's load sample within a phase.
type TaskRecord struct {
	Entity uint64  `json:"entity"`
	Time   float64 `json:"time"`
	Subphase int   `json:"subphase,omitempty"`
}

// CommRecord is one inter-entity communication volume sample within a
// phase.
type CommRecord struct {
	From  uint64  `json:"from"`
	To    uint64  `json:"to"`
	Bytes float64 `json:"bytes"`
}

// Phase is one recorded load-balancing phase.
type Phase struct {
	ID             int64        `json:"id"`
	Tasks          []TaskRecord `json:"tasks,omitempty"`
	Communications []CommRecord `json:"communications,omitempty"`
}

// Metadata identifies the record kind, mirroring the original format's
// top-level "metadata" object.
type Metadata struct {
	Type string `json:"type"`
	Rank int32  `json:"rank,omitempty"`
}

// Record is one line of the NDJSON stream: a single phase plus the
// file-level metadata, repeated on every line so the format stays
// streamable (a reader never needs to buffer the whole file to learn
// its metadata).
type Record struct {
	Phases   []Phase  `json:"phases"`
	Metadata Metadata `json:"metadata"`
}

// PathFor expands the %p template token in cfg.LBDataFile with rank
// and joins it under cfg.LBDataDir (§6 "{dir}/{file} with %p -> rank").
func PathFor(cfg config.AppConfig, rank int32) string {
	file := strings.ReplaceAll(cfg.LBDataFile, "%p", strconv.FormatInt(int64(rank), 10))
	return filepath.Join(cfg.LBDataDir, file)
}

// Writer appends Records to an NDJSON file, one JSON object per line.
type Writer struct {
	f *os.File
	w *bufio.Writer
}

// CreateWriter opens (creating or truncating) path for writing.
func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("lb: create datafile: %w", err)
	}
	return &Writer{f: f, w: bufio.NewWriter(f)}, nil
}

// WriteRecord appends one phase record as a single NDJSON line.
func (w *Writer) WriteRecord(rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("lb: encode record: %w", err)
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Close flushes buffered output and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

// ReadAll reads every record from an NDJSON LBDatafile at path.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lb: open datafile: %w", err)
	}
	defer f.Close()

	var records []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("lb: decode record: %w", err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil && err != io.EOF {
		return nil, err
	}
	return records, nil
}

// Retain keeps only the most recent n files in dir matching the glob
// pattern, deleting older ones by modification time (§6
// vt_lb_data_retention).
func Retain(dir string, pattern string, n int) error {
	if n <= 0 {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return err
	}
	if len(matches) <= n {
		return nil
	}
	type stamped struct {
		path string
		mod  int64
	}
	entries := make([]stamped, 0, len(matches))
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			continue
		}
		entries = append(entries, stamped{path: m, mod: fi.ModTime().UnixNano()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mod > entries[j].mod })
	for _, e := range entries[n:] {
		if err := os.Remove(e.path); err != nil {
			return err
		}
	}
	return nil
}
