package excon

import (
	"os"

	"github.com/sirupsen/logrus"
)

// StandardInstrumentor logs named lifecycle events via logrus, at debug
// level. Setting EXCON_STANDARD_INSTRUMENTOR or EXCON_DEBUG installs it on
// every new Connection; EXCON_DEBUG also sets the standard logger to debug
// level. With EXCON_STANDARD_INSTRUMENTOR alone the logger's level is left
// as it is, so events appear only if that level is already debug (§6
// ambient observability).
type StandardInstrumentor struct {
	log *logrus.Logger
}

// NewStandardInstrumentor returns an instrumentor that logs through logger,
// or a package-level default if logger is nil.
func NewStandardInstrumentor(logger *logrus.Logger) *StandardInstrumentor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StandardInstrumentor{log: logger}
}

// Instrument implements datum.Instrumentor.
func (s *StandardInstrumentor) Instrument(name string, params map[string]interface{}) {
	fields := make(logrus.Fields, len(params))
	for k, v := range params {
		fields[k] = v
	}
	s.log.WithFields(fields).Debug(name)
}

// instrumentorFromEnv returns a StandardInstrumentor when EXCON_DEBUG or
// EXCON_STANDARD_INSTRUMENTOR is set in the environment, nil otherwise.
func instrumentorFromEnv() Instrumentor {
	if os.Getenv("EXCON_DEBUG") == "" && os.Getenv("EXCON_STANDARD_INSTRUMENTOR") == "" {
		return nil
	}
	logger := logrus.StandardLogger()
	if os.Getenv("EXCON_DEBUG") != "" {
		logger.SetLevel(logrus.DebugLevel)
	}
	return NewStandardInstrumentor(logger)
}
