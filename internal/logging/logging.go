package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
)

const defaultLevel = log.WarnLevel

// Init sets up apex with a Handler writing to stderr and a log level from the
// SEMCACHE_LOG env variable. Unknown levels fall back to warn.
func Init() {
	log.SetHandler(NewHandler(os.Stderr))
	if l, ok := log.Log.(*log.Logger); ok {
		l.Level = Level(os.Getenv("SEMCACHE_LOG"))
	}
}

// Level parses s, falling back to warn.
func Level(s string) log.Level {
	if s == "" {
		return defaultLevel
	}
	l, err := log.ParseLevel(strings.ToLower(s))
	if err != nil {
		return defaultLevel
	}

	return l
}

// Handler formats log entries on a single line, fields sorted by name.
type Handler struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func NewHandler(w io.Writer) *Handler {
	return &Handler{w: w, now: time.Now}
}

// HandleLog implements the log.Handler interface
func (h *Handler) HandleLog(e *log.Entry) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %.1s %s", h.now().Format("2006-01-02 15:04:05"), strings.ToUpper(e.Level.String()), e.Message)
	for _, name := range e.Fields.Names() {
		fmt.Fprintf(&b, " %s=%v", name, e.Fields.Get(name))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := io.WriteString(h.w, b.String())
	return err
}
