// Package eventlog keeps the append-only JSONL trail of routing decisions.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"OpportunityPipeline/internal/domain"
	"OpportunityPipeline/internal/ports"
)

// DecisionLog implements ports.DecisionLog over a JSONL file.
type DecisionLog struct {
	path string
	mu   sync.Mutex
}

var _ ports.DecisionLog = (*DecisionLog)(nil)

// NewDecisionLog creates the parent directory; the file appears on first
// append.
func NewDecisionLog(path string) (*DecisionLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create decision log dir: %w", err)
	}
	return &DecisionLog{path: path}, nil
}

// Append writes one decision followed by a newline.
func (l *DecisionLog) Append(decision domain.Decision) error {
	data, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open decision log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write decision: %w", err)
	}
	return nil
}

// Recent returns the last limit decisions, newest first. Corrupt lines are
// skipped.
func (l *DecisionLog) Recent(limit int) ([]domain.Decision, error) {
	if limit <= 0 {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	defer f.Close()

	ring := make([]domain.Decision, 0, limit)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var d domain.Decision
		if err := json.Unmarshal(scanner.Bytes(), &d); err != nil {
			continue
		}
		if len(ring) == limit {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan decision log: %w", err)
	}

	out := make([]domain.Decision, len(ring))
	for i, d := range ring {
		out[len(ring)-1-i] = d
	}
	return out, nil
}
