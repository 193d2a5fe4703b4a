package store

import (
	"log/slog"

	"github.com/dusk-indust/triage/internal/logging"
)

// Notifier surfaces user-facing messages. The store calls it on failed
// operations; the UI layer decides how to present them.
type Notifier interface {
	Error(message string)
	Success(message string)
}

// Reporter receives unexpected conditions such as malformed server
// responses. Reports never change store state.
type Reporter interface {
	Report(err error, attrs ...any)
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Error implements Notifier.
func (n LogNotifier) Error(message string) {
	n.logger().Error(message)
}

// Success implements Notifier.
func (n LogNotifier) Success(message string) {
	n.logger().Info(message)
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger == nil {
		return logging.NewDiscardLogger()
	}
	return n.Logger
}

// LogReporter writes reports to a logger at warn level.
type LogReporter struct {
	Logger *slog.Logger
}

// Report implements Reporter.
func (r LogReporter) Report(err error, attrs ...any) {
	logger := r.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	logger.Warn("unexpected input", append([]any{"error", err}, attrs...)...)
}

// User-facing messages for failed operations.
const (
	MsgAssignFailed = "Unable to change assignee. Please try again."
	MsgUpdateFailed = "Unable to update issues. Please try again."
	MsgDeleteFailed = "Unable to delete issues. Please try again."
	MsgMergeFailed  = "Unable to merge issues. Please try again."
)
