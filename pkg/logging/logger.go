// Package logging wraps logrus with the field conventions the pipeline uses
// everywhere: a fixed "service" field plus per-call scoping for doc_id,
// fund_ref, and pipeline stage, so every log line is greppable by the
// entity it concerns.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a *logrus.Entry pre-populated with a service name.
type Logger struct {
	entry *logrus.Entry
}

// Options configures New.
type Options struct {
	Service string
	Level   string // "debug", "info", "warn", "error"; default "info"
	JSON    bool
	Output  io.Writer // default os.Stdout
}

// New builds a Logger from explicit Options.
func New(opts Options) *Logger {
	base := logrus.New()
	if opts.Output != nil {
		base.SetOutput(opts.Output)
	} else {
		base.SetOutput(os.Stdout)
	}

	if opts.JSON {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	base.SetLevel(parseLevel(opts.Level))

	service := opts.Service
	if service == "" {
		service = "pe_ingest"
	}

	return &Logger{entry: base.WithField("service", service)}
}

// NewFromEnv builds a Logger reading LOG_LEVEL and LOG_FORMAT from the
// environment, falling back to info/text.
func NewFromEnv(service string) *Logger {
	jsonFmt := strings.EqualFold(os.Getenv("LOG_FORMAT"), "json")
	return New(Options{
		Service: service,
		Level:   os.Getenv("LOG_LEVEL"),
		JSON:    jsonFmt,
	})
}

func parseLevel(s string) logrus.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "trace":
		return logrus.TraceLevel
	case "":
		return logrus.InfoLevel
	default:
		return logrus.InfoLevel
	}
}

// With returns a derived Logger carrying the given structured fields in
// addition to the service field, without mutating the receiver.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

// WithDoc scopes subsequent log lines to a document.
func (l *Logger) WithDoc(docID string) *Logger {
	return &Logger{entry: l.entry.WithField("doc_id", docID)}
}

// WithFund scopes subsequent log lines to a fund.
func (l *Logger) WithFund(fundRef string) *Logger {
	return &Logger{entry: l.entry.WithField("fund_ref", fundRef)}
}

// WithStage scopes subsequent log lines to a pipeline stage
// ("discovery", "parse", "classify", "extract", "persist", "index",
// "reconcile").
func (l *Logger) WithStage(stage string) *Logger {
	return &Logger{entry: l.entry.WithField("stage", stage)}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// WithError attaches err under logrus's conventional "error" field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}
