package app

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/wez/gimli/pkg/config"
	"github.com/wez/gimli/pkg/log"
	"github.com/wez/gimli/pkg/tracer"
)

// App struct
type App struct {
	closers []io.Closer

	Config *config.AppConfig
	Log    *logrus.Entry
	Tracer *tracer.Tracer
}

// NewApp bootstrap a new application
func NewApp(config *config.AppConfig) (*App, error) {
	app := &App{
		closers: []io.Closer{},
		Config:  config,
	}
	app.Log = log.NewLogger(config)
	app.Tracer = tracer.NewTracer(app.Log, config)
	return app, nil
}

// Run traces the target pid once and returns when the trace is complete.
func (app *App) Run(pid int) error {
	return app.Tracer.Trace(pid)
}

// Close closes any resources
func (app *App) Close() error {
	for _, closer := range app.closers {
		err := closer.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

type errorMapping struct {
	originalError string
	newError      string
}

// KnownError takes an error and tells us whether it's an error that we know about where we can print a nicely formatted version of it rather than panicking with a stack trace
func (app *App) KnownError(err error) (string, bool) {
	errorMessage := err.Error()

	mappings := []errorMapping{
		{
			originalError: "permission denied attaching to target",
			newError:      "Not allowed to attach to that process; try again as root or grant ptrace capability",
		},
		{
			originalError: "no such process",
			newError:      "The target process is gone; nothing to trace",
		},
	}

	for _, mapping := range mappings {
		if strings.Contains(errorMessage, mapping.originalError) {
			return mapping.newError, true
		}
	}

	return "", false
}
