package gather

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// progressTracker persists which symbols came back empty for the current
// end date (.tried-empty) and the end date of the last finished import
// (.last-completed), so a rerun skips known-empty symbols.
type progressTracker struct {
	mu         sync.Mutex
	triedEmpty map[string]struct{}
	writer     *bufio.Writer
	file       *os.File
	dir        string
}

func newProgressTracker(dir string) (*progressTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating progress dir: %w", err)
	}
	pt := &progressTracker{
		triedEmpty: make(map[string]struct{}),
		dir:        dir,
	}

	if data, err := os.ReadFile(pt.emptyPath()); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if sym := strings.TrimSpace(line); sym != "" {
				pt.triedEmpty[sym] = struct{}{}
			}
		}
	}
	if err := pt.open(); err != nil {
		return nil, err
	}
	return pt, nil
}

func (p *progressTracker) emptyPath() string     { return filepath.Join(p.dir, ".tried-empty") }
func (p *progressTracker) completedPath() string { return filepath.Join(p.dir, ".last-completed") }

func (p *progressTracker) open() error {
	f, err := os.OpenFile(p.emptyPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening .tried-empty: %w", err)
	}
	p.file = f
	p.writer = bufio.NewWriter(f)
	return nil
}

// IsTriedEmpty reports whether symbol already returned no data.
func (p *progressTracker) IsTriedEmpty(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.triedEmpty[symbol]
	return ok
}

// MarkEmpty records symbols as tried-empty.
func (p *progressTracker) MarkEmpty(symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, sym := range symbols {
		if _, ok := p.triedEmpty[sym]; ok {
			continue
		}
		p.triedEmpty[sym] = struct{}{}
		if _, err := p.writer.WriteString(sym + "\n"); err != nil {
			return fmt.Errorf("writing to .tried-empty: %w", err)
		}
	}
	return p.writer.Flush()
}

// MarkCompleted records date as the end of the last finished import.
func (p *progressTracker) MarkCompleted(date string) error {
	return os.WriteFile(p.completedPath(), []byte(date), 0o644)
}

// LastCompleted returns the recorded date, or "".
func (p *progressTracker) LastCompleted() string {
	data, err := os.ReadFile(p.completedPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Reset forgets every tried-empty symbol.
func (p *progressTracker) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file != nil {
		p.file.Close()
	}
	p.triedEmpty = make(map[string]struct{})
	if err := os.Remove(p.emptyPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return p.open()
}

// Close flushes and closes the .tried-empty file.
func (p *progressTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		p.writer.Flush()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}
