// Package output writes assembled corporations as JSON lines.
package output

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"

	"github.com/dbsmedya/regstage/internal/types"
)

// Entry is one output line: a corporation graph and the event window it
// was assembled for.
type Entry struct {
	CorpNum     string        `json:"corp_num"`
	PrevEventID int64         `json:"prev_event_id"`
	LastEventID *int64        `json:"last_event_id"`
	CorpInfo    *types.Record `json:"corp_info"`
}

// Writer buffers JSON lines onto an underlying stream.
type Writer struct {
	bw     *bufio.Writer
	closer io.Closer
	count  int
}

// NewWriter writes to w. The caller keeps ownership of w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

// Open resolves "stdout", "stderr" or a file path. Files are appended to so
// successive runs accumulate.
func Open(path string) (*Writer, error) {
	switch path {
	case "stdout", "", "-":
		return NewWriter(os.Stdout), nil
	case "stderr":
		return NewWriter(os.Stderr), nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output %s: %w", path, err)
	}
	w := NewWriter(f)
	w.closer = f
	return w, nil
}

// Write appends one entry as a single line.
func (w *Writer) Write(e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", e.CorpNum, err)
	}
	if _, err := w.bw.Write(b); err != nil {
		return err
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return err
	}
	w.count++
	return nil
}

// Flush pushes buffered lines to the stream.
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// Count returns the number of entries written.
func (w *Writer) Count() int {
	return w.count
}

// Close flushes and closes a file opened by Open.
func (w *Writer) Close() error {
	err := w.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ReadEntries parses JSON lines written by Writer, keeping each corp_info
// column order.
func ReadEntries(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var raw struct {
			CorpNum     string          `json:"corp_num"`
			PrevEventID int64           `json:"prev_event_id"`
			LastEventID *int64          `json:"last_event_id"`
			CorpInfo    json.RawMessage `json:"corp_info"`
		}
		if err := json.Unmarshal(sc.Bytes(), &raw); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		e := Entry{CorpNum: raw.CorpNum, PrevEventID: raw.PrevEventID, LastEventID: raw.LastEventID}
		if len(raw.CorpInfo) > 0 && string(raw.CorpInfo) != "null" {
			rec, err := types.ParseJSONRecord(raw.CorpInfo)
			if err != nil {
				return nil, fmt.Errorf("line %d: corp_info: %w", line, err)
			}
			e.CorpInfo = rec
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}
