package logstream

import (
	"bufio"
	"context"
	"io"
	"os"
	"time"
)

// Tail returns the last n lines of the file at path.
func Tail(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines, _, err := lastLines(f, n)
	return lines, err
}

func lastLines(r io.Reader, n int) ([]string, int64, error) {
	if n <= 0 {
		n = 1
	}
	ring := make([]string, 0, n)
	var read int64
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		read += int64(len(scanner.Bytes())) + 1
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, scanner.Text())
	}
	return ring, read, scanner.Err()
}

// Tailer polls a log file for new lines and sends them on a channel.
type Tailer struct {
	path     string
	backlog  int
	interval time.Duration
}

// NewTailer creates a tailer for the given log file path.
// backlog is the number of trailing lines to send as initial context.
func NewTailer(path string, backlog int) *Tailer {
	return &Tailer{
		path:     path,
		backlog:  backlog,
		interval: 500 * time.Millisecond,
	}
}

// Start begins tailing the file. It sends the last N backlog lines first,
// then polls for new content. The returned channel is closed when the
// context is cancelled.
func (t *Tailer) Start(ctx context.Context) <-chan string {
	ch := make(chan string, 64)
	go t.run(ctx, ch)
	return ch
}

func (t *Tailer) run(ctx context.Context, ch chan<- string) {
	defer close(ch)

	// The log file may not exist until the first run writes to it.
	var offset int64
	for {
		if _, err := os.Stat(t.path); err == nil {
			var ok bool
			if offset, ok = t.sendBacklog(ctx, ch); !ok {
				return
			}
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.interval):
		}
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(t.path)
			if err != nil {
				continue
			}
			size := info.Size()
			if size < offset {
				// rotated or truncated
				offset = 0
			}
			if size == offset {
				continue
			}
			var ok bool
			if offset, ok = t.sendNewLines(ctx, ch, offset); !ok {
				return
			}
		}
	}
}

func send(ctx context.Context, ch chan<- string, line string) bool {
	select {
	case ch <- line:
		return true
	case <-ctx.Done():
		return false
	}
}

// sendBacklog sends the last backlog lines and returns the offset after them.
func (t *Tailer) sendBacklog(ctx context.Context, ch chan<- string) (int64, bool) {
	f, err := os.Open(t.path)
	if err != nil {
		return 0, true
	}
	defer f.Close()

	lines, read, _ := lastLines(f, t.backlog)
	if info, err := f.Stat(); err == nil && read > info.Size() {
		// last line has no newline yet
		read = info.Size()
	}
	if t.backlog <= 0 {
		lines = nil
	}
	for _, line := range lines {
		if !send(ctx, ch, line) {
			return read, false
		}
	}
	return read, true
}

// sendNewLines sends complete lines written after offset. A trailing partial
// line is left for the next poll.
func (t *Tailer) sendNewLines(ctx context.Context, ch chan<- string, offset int64) (int64, bool) {
	f, err := os.Open(t.path)
	if err != nil {
		return offset, true
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, true
	}

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return offset, true
		}
		offset += int64(len(line))
		if !send(ctx, ch, line[:len(line)-1]) {
			return offset, false
		}
	}
}
