package display

import "log/slog"

// Renderer draws on the physical screen. Implementations must not block.
type Renderer interface {
	ShowWeight(grams int)
	ShowText(text string)
	ShowRemaining(grams int)
	ShowError(title, detail string)
	ShowStatus(s Status)
}

// Status is the icon row: link, backend and registration.
type Status struct {
	LinkUp           bool `json:"link_up"`
	BackendConnected bool `json:"backend_connected"`
	Registered       bool `json:"registered"`
}

// Logger is the subset of the structured logger used by LogRenderer.
type Logger interface {
	Info(msg string, args ...any)
}

// LogRenderer writes every frame to a logger. Used on headless installs
// and as the fallback when no display driver is attached.
type LogRenderer struct {
	logger Logger
}

// NewLogRenderer creates a LogRenderer. A nil logger uses slog's default.
func NewLogRenderer(logger Logger) *LogRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRenderer{logger: logger}
}

func (r *LogRenderer) ShowWeight(grams int) { r.logger.Info("display weight", "grams", grams) }

func (r *LogRenderer) ShowText(text string) { r.logger.Info("display text", "text", text) }

func (r *LogRenderer) ShowRemaining(grams int) {
	r.logger.Info("display remaining weight", "grams", grams)
}

func (r *LogRenderer) ShowError(title, detail string) {
	r.logger.Info("display error", "title", title, "detail", detail)
}

func (r *LogRenderer) ShowStatus(s Status) {
	r.logger.Info("display status",
		"link_up", s.LinkUp,
		"backend_connected", s.BackendConnected,
		"registered", s.Registered,
	)
}
