package camera

import "sync"

// Logger interface for optional logging.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// logSink holds an optional logger behind a lock.
type logSink struct {
	logger   Logger
	loggerMu sync.RWMutex
}

// SetLogger sets the logger.
func (s *logSink) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *logSink) get() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

func (s *logSink) logDebug(msg string, keysAndValues ...any) {
	if logger := s.get(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (s *logSink) logInfo(msg string, keysAndValues ...any) {
	if logger := s.get(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (s *logSink) logWarn(msg string, keysAndValues ...any) {
	if logger := s.get(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (s *logSink) logError(msg string, err error, keysAndValues ...any) {
	if logger := s.get(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
