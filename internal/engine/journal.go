package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"dailytrader/internal/strategy"
)

// Record is one cycle outcome. Fill amounts stay out of the journal.
type Record struct {
	RunID       string          `json:"run_id"`
	Cycle       uint64          `json:"cycle"`
	Timestamp   time.Time       `json:"timestamp"`
	Phase       string          `json:"phase"`
	Result      string          `json:"result"`
	Reason      string          `json:"reason,omitempty"`
	SessionOpen *time.Time      `json:"session_open,omitempty"`
	SignalDelta string          `json:"signal_delta,omitempty"`
	Intent      strategy.Action `json:"intent,omitempty"`
	Error       string          `json:"error,omitempty"`
}

type Journal struct {
	runID  string
	out    io.Writer
	writer *bufio.Writer
	mu     sync.Mutex
}

// OpenJournal appends NDJSON records to path, rotating by size.
func OpenJournal(path string, runID string) *Journal {
	return NewJournal(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    20,
		MaxBackups: 10,
	}, runID)
}

func NewJournal(w io.Writer, runID string) *Journal {
	return &Journal{
		runID:  runID,
		out:    w,
		writer: bufio.NewWriter(w),
	}
}

func (j *Journal) Append(rec Record) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	rec.RunID = j.runID
	payload, err := json.Marshal(rec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal journal record: %v\n", err)
		return
	}
	if _, err := j.writer.Write(append(payload, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write journal record: %v\n", err)
		return
	}
	if err := j.writer.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to flush journal: %v\n", err)
	}
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	err := j.writer.Flush()
	if c, ok := j.out.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
