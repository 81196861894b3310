package notifications

// Level classifies an alert for routing and formatting.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier delivers operator-facing alerts. Implementations must be safe
// for concurrent use; the stop-loss manager calls from multiple
// goroutines.
type Notifier interface {
	SendAlert(level Level, message string) error
}

// Noop discards every alert. Used when no channel is configured.
type Noop struct{}

func (Noop) SendAlert(Level, string) error { return nil }
