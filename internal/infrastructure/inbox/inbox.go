// Package inbox reads signals that external scanners drop into a directory
// as JSON lines.
package inbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"OpportunityPipeline/internal/domain"
	"OpportunityPipeline/internal/ports"
)

const (
	processedDir  = "processed"
	rejectedFile  = "rejected.jsonl"
	maxLineBytes  = 1 << 20
	filePattern   = "*.jsonl"
	maxRawInError = 2048
)

// Inbox implements ports.SignalSource over a directory of *.jsonl files.
type Inbox struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

var _ ports.SignalSource = (*Inbox)(nil)

// New builds an inbox rooted at dir.
func New(dir string, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{dir: dir, logger: logger, now: time.Now}
}

// Dir is the watched directory.
func (in *Inbox) Dir() string {
	return in.dir
}

// Pull reads every pending file. Nothing moves until Ack is called, so a
// batch that fails before storing its signals sees them again next time.
func (in *Inbox) Pull(ctx context.Context) (ports.SignalBatch, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(in.dir, processedDir), 0o755); err != nil {
		return ports.SignalBatch{}, fmt.Errorf("prepare inbox: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(in.dir, filePattern))
	if err != nil {
		return ports.SignalBatch{}, fmt.Errorf("list inbox: %w", err)
	}
	sort.Strings(files)

	var batch ports.SignalBatch
	var consumed []string
	for _, path := range files {
		if filepath.Base(path) == rejectedFile {
			continue
		}
		if err := ctx.Err(); err != nil {
			return ports.SignalBatch{}, err
		}

		signals, rejected, err := in.readFile(path)
		if err != nil {
			return ports.SignalBatch{}, err
		}
		batch.Signals = append(batch.Signals, signals...)
		batch.Rejected = append(batch.Rejected, rejected...)
		consumed = append(consumed, path)
	}

	in.logger.Debug("inbox pulled", "files", len(consumed), "signals", len(batch.Signals), "rejected", len(batch.Rejected))

	rejected := batch.Rejected
	batch.Ack = func() error {
		return in.ack(consumed, rejected)
	}
	return batch, nil
}

func (in *Inbox) readFile(path string) ([]domain.Signal, []ports.Rejection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var (
		signals  []domain.Signal
		rejected []ports.Rejection
		now      = in.now().UTC()
		name     = filepath.Base(path)
	)

	reader := bufio.NewReaderSize(f, 64*1024)
	for line := 1; ; line++ {
		raw, tooLong, err := readLine(reader)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("read %s: %w", path, err)
		}
		origin := fmt.Sprintf("%s:%d", name, line)

		switch {
		case tooLong:
			rejected = append(rejected, ports.Rejection{Origin: origin, Raw: clip(string(raw)), Reason: "line exceeds 1 MiB"})
		case len(bytes.TrimSpace(raw)) > 0:
			sig, derr := decodeSignal(bytes.TrimSpace(raw), now)
			if derr != nil {
				rejected = append(rejected, ports.Rejection{Origin: origin, Raw: clip(string(raw)), Reason: derr.Error()})
			} else {
				signals = append(signals, sig)
			}
		}

		if errors.Is(err, io.EOF) {
			return signals, rejected, nil
		}
	}
}

// readLine returns the next line without its terminator. A line longer than
// maxLineBytes is consumed to its end and reported as tooLong with only its
// head retained.
func readLine(r *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		chunk, rerr := r.ReadSlice('\n')
		if len(line)+len(chunk) > maxLineBytes {
			if !tooLong {
				keep := maxRawInError - len(line)
				if keep > len(chunk) {
					keep = len(chunk)
				}
				if keep > 0 {
					line = append(line, chunk[:keep]...)
				}
			}
			tooLong = true
		} else if !tooLong {
			line = append(line, chunk...)
		}

		switch {
		case rerr == nil:
			return bytes.TrimRight(line, "\r\n"), tooLong, nil
		case errors.Is(rerr, bufio.ErrBufferFull):
			continue
		default:
			return bytes.TrimRight(line, "\r\n"), tooLong, rerr
		}
	}
}

// decodeSignal parses, normalizes and validates one line.
func decodeSignal(raw []byte, now time.Time) (domain.Signal, error) {
	var sig domain.Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return domain.Signal{}, fmt.Errorf("decode json: %w", err)
	}

	if sig.Source == domain.SourceEmail && looksLikeHTML(sig.Context) {
		if sig.URL == "" {
			sig.URL = firstLink(sig.Context)
		}
		text, err := HTMLToText(sig.Context)
		if err != nil {
			return domain.Signal{}, fmt.Errorf("normalize html: %w", err)
		}
		sig.Context = text
	}
	if sig.DetectedAt.IsZero() {
		sig.DetectedAt = now
	}

	if err := sig.Validate(); err != nil {
		return domain.Signal{}, err
	}
	return sig, nil
}

type rejectionRecord struct {
	Origin     string    `json:"origin"`
	Reason     string    `json:"reason"`
	Raw        string    `json:"raw,omitempty"`
	RejectedAt time.Time `json:"rejected_at"`
}

// ack records rejections and moves consumed files into processed/.
func (in *Inbox) ack(consumed []string, rejected []ports.Rejection) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(rejected) > 0 {
		if err := in.appendRejected(rejected); err != nil {
			return err
		}
	}

	stamp := in.now().UTC().Format("20060102T150405")
	var errs []error
	for _, path := range consumed {
		target := filepath.Join(in.dir, processedDir, filepath.Base(path))
		if _, err := os.Stat(target); err == nil {
			ext := filepath.Ext(target)
			target = strings.TrimSuffix(target, ext) + "." + stamp + ext
		}
		if err := os.Rename(path, target); err != nil {
			errs = append(errs, fmt.Errorf("move %s: %w", filepath.Base(path), err))
		}
	}
	return errors.Join(errs...)
}

func (in *Inbox) appendRejected(rejected []ports.Rejection) error {
	f, err := os.OpenFile(filepath.Join(in.dir, rejectedFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open rejected log: %w", err)
	}
	defer f.Close()

	now := in.now().UTC()
	enc := json.NewEncoder(f)
	for _, r := range rejected {
		if err := enc.Encode(rejectionRecord{Origin: r.Origin, Reason: r.Reason, Raw: r.Raw, RejectedAt: now}); err != nil {
			return fmt.Errorf("write rejected record: %w", err)
		}
	}
	return f.Sync()
}

// Submit writes signals as a new inbox file, for manual entry and tests.
func (in *Inbox) Submit(signals ...domain.Signal) (string, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if err := os.MkdirAll(in.dir, 0o755); err != nil {
		return "", fmt.Errorf("prepare inbox: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, s := range signals {
		if err := enc.Encode(s); err != nil {
			return "", fmt.Errorf("encode signal: %w", err)
		}
	}

	name := fmt.Sprintf("manual-%d.jsonl", in.now().UnixNano())
	tmp := filepath.Join(in.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write inbox file: %w", err)
	}
	path := filepath.Join(in.dir, name)
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("publish inbox file: %w", err)
	}
	return path, nil
}

func clip(s string) string {
	if len(s) <= maxRawInError {
		return s
	}
	return s[:maxRawInError]
}
