// Package notify renders transient status messages on a terminal: short-lived
// info/success/error notices plus persistent loading messages that can be
// updated in place and dismissed by handle.
package notify

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Severity selects how a message is presented.
type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Error   Severity = "error"
)

const (
	// DefaultDuration applies to info and success messages.
	DefaultDuration = 2500 * time.Millisecond
	// ErrorDuration applies to error messages.
	ErrorDuration = 5000 * time.Millisecond
	// LoadingMessage is shown by Loading when no text is given.
	LoadingMessage = "Loading..."
)

// ID identifies a visible message.
type ID string

// Message is a snapshot of a visible message.
type Message struct {
	ID       ID
	Text     string
	Severity Severity
}

type entry struct {
	Message
	seq   int
	timer *time.Timer
}

// ShowOption customizes Show.
type ShowOption func(*showOptions)

type showOptions struct {
	duration *time.Duration
}

// WithDuration sets the auto-dismiss delay. Zero or negative keeps the message
// until it is dismissed.
func WithDuration(d time.Duration) ShowOption {
	return func(o *showOptions) {
		o.duration = &d
	}
}

// Notifier writes one line per state change to its writer. It is safe for
// concurrent use.
type Notifier struct {
	mu      sync.Mutex
	out     io.Writer
	counter int
	active  map[ID]*entry
}

// New returns a Notifier writing to w. A nil writer discards output.
func New(w io.Writer) *Notifier {
	if w == nil {
		w = io.Discard
	}
	return &Notifier{
		out:    w,
		active: make(map[ID]*entry),
	}
}

// Show displays a message and returns its handle.
func (n *Notifier) Show(text string, severity Severity, opts ...ShowOption) ID {
	o := showOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	severity = normalizeSeverity(severity)
	duration := DefaultDuration
	if severity == Error {
		duration = ErrorDuration
	}
	if o.duration != nil {
		duration = *o.duration
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.counter++
	id := ID("t_" + strconv.Itoa(n.counter))
	e := &entry{
		Message: Message{ID: id, Text: text, Severity: severity},
		seq:     n.counter,
	}
	n.active[id] = e
	n.render(e)

	if duration > 0 {
		e.timer = time.AfterFunc(duration, func() { n.Dismiss(id) })
	}
	return id
}

// Info shows an info message.
func (n *Notifier) Info(text string, opts ...ShowOption) ID { return n.Show(text, Info, opts...) }

// Success shows a success message.
func (n *Notifier) Success(text string, opts ...ShowOption) ID { return n.Show(text, Success, opts...) }

// Error shows an error message.
func (n *Notifier) Error(text string, opts ...ShowOption) ID { return n.Show(text, Error, opts...) }

// Loading shows a persistent info message.
func (n *Notifier) Loading(text string) ID {
	if text == "" {
		text = LoadingMessage
	}
	return n.Show(text, Info, WithDuration(0))
}

// Update replaces the text of a visible message and, when severity is not
// empty, its severity. Unknown handles are ignored.
func (n *Notifier) Update(id ID, text string, severity Severity) {
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.active[id]
	if !ok {
		return
	}
	if severity != "" {
		e.Severity = normalizeSeverity(severity)
	}
	e.Text = text
	n.render(e)
}

// Dismiss removes a message. Unknown handles are ignored.
func (n *Notifier) Dismiss(id ID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.active[id]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(n.active, id)
}

// Active returns the visible messages in the order they were shown.
func (n *Notifier) Active() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()

	entries := make([]*entry, 0, len(n.active))
	for _, e := range n.active {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]Message, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func (n *Notifier) render(e *entry) {
	_, _ = fmt.Fprintf(n.out, "%s %s\n", marker(e.Severity), Sanitize(e.Text))
}

func marker(s Severity) string {
	switch s {
	case Success:
		return "✔"
	case Error:
		return "✘"
	default:
		return "•"
	}
}

func normalizeSeverity(s Severity) Severity {
	switch s {
	case Success, Error:
		return s
	default:
		return Info
	}
}

// Sanitize escapes control characters so a message cannot move the cursor or
// inject terminal escape sequences.
func Sanitize(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r == '\n' || r == '\t' {
			b.WriteRune(' ')
			continue
		}
		if unicode.IsControl(r) {
			fmt.Fprintf(&b, "\\x%02x", r)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
