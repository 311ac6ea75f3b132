package proc

import (
	"strings"
	"sync"
)

// LogRing retains the most recent lines of a worker's error stream so crash
// reports can carry a diagnostic tail without unbounded memory growth.
type LogRing struct {
	mu    sync.Mutex
	lines []string
	next  int
	count int
}

// NewLogRing creates a ring holding up to capacity lines.
func NewLogRing(capacity int) *LogRing {
	if capacity <= 0 {
		capacity = 64
	}
	return &LogRing{
		lines: make([]string, capacity),
	}
}

// Append adds a line, evicting the oldest when full.
func (r *LogRing) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
}

// Tail returns up to n of the most recent lines, oldest first.
func (r *LogRing) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}

	out := make([]string, 0, n)
	start := (r.next - n + len(r.lines)) % len(r.lines)
	for i := 0; i < n; i++ {
		out = append(out, r.lines[(start+i)%len(r.lines)])
	}
	return out
}

// TailString joins the most recent n lines for embedding in diagnostics.
func (r *LogRing) TailString(n int) string {
	return strings.Join(r.Tail(n), "\n")
}

// Len returns the number of retained lines.
func (r *LogRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
