package observer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/classpulse/classpulse/internal/session"
)

// fileSignal is one line of a meeting export stream.
type fileSignal struct {
	SignalID    string    `json:"signalId"`
	Type        string    `json:"type"`
	DisplayName string    `json:"displayName"`
	Value       string    `json:"value,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// FileAdapter tails a JSONL export stream written by an external
// capture tool, one signal object per line. Each poll reads only the
// bytes appended since the last one, so a live file can be followed
// indefinitely. Unparseable lines are skipped and counted rather than
// failing the poll.
type FileAdapter struct {
	path    string
	offset  int64
	skipped int
}

func NewFileAdapter(path string) *FileAdapter {
	return &FileAdapter{path: path}
}

func (a *FileAdapter) Name() string { return "file" }

// Skipped returns the number of lines dropped as unparseable.
func (a *FileAdapter) Skipped() int { return a.skipped }

func (a *FileAdapter) Poll() ([]RawSignal, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("open export stream: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat export stream: %w", err)
	}
	// A shrunken file means the stream was rotated; start over.
	if info.Size() < a.offset {
		log.Printf("[file] %s truncated, re-reading from start", a.path)
		a.offset = 0
	}

	if a.offset > 0 {
		if _, err := f.Seek(a.offset, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek export stream: %w", err)
		}
	}

	var out []RawSignal
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return out, fmt.Errorf("read export stream: %w", err)
		}
		if len(line) == 0 {
			break
		}
		// An unterminated trailing line is still being written; leave
		// it for the next poll.
		if line[len(line)-1] != '\n' {
			break
		}
		a.offset += int64(len(line))

		lineData := line[:len(line)-1]
		if len(lineData) == 0 {
			continue
		}
		var fs fileSignal
		if jsonErr := json.Unmarshal(lineData, &fs); jsonErr != nil {
			a.skipped++
			continue
		}
		typ, ok := session.ParseInteractionType(fs.Type)
		if !ok || fs.SignalID == "" {
			a.skipped++
			continue
		}
		at := fs.OccurredAt
		if at.IsZero() {
			at = time.Now()
		}
		out = append(out, RawSignal{
			SignalID:    fs.SignalID,
			Type:        typ,
			DisplayName: fs.DisplayName,
			Value:       fs.Value,
			OccurredAt:  at,
		})
		if err == io.EOF {
			break
		}
	}
	return out, nil
}
