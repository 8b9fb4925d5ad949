package main

import (
	"context"
	"fmt"
	"os"
	"os/user"

	"go.uber.org/zap"

	"github.com/dedezza1D/bibtask/internal/config"
	"github.com/dedezza1D/bibtask/internal/engine"
	"github.com/dedezza1D/bibtask/internal/events"
	"github.com/dedezza1D/bibtask/internal/logging"
	"github.com/dedezza1D/bibtask/internal/observability"
	"github.com/dedezza1D/bibtask/internal/store"
	"github.com/dedezza1D/bibtask/internal/submit"
	"github.com/dedezza1D/bibtask/internal/task"
)

// app carries what every subcommand shares. The store and the event stream
// are opened on first use.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	kinds  *task.Registry

	store   store.Queue
	js      *events.JetStream
	closers []func()
}

func newApp() (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Fields: map[string]any{"host": cfg.Hostname},
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return &app{cfg: cfg, logger: logger, kinds: task.DefaultKinds()}, nil
}

func (a *app) queue(ctx context.Context) (store.Queue, error) {
	if a.store != nil {
		return a.store, nil
	}
	st, err := store.Open(ctx, a.cfg.StoreDriver, a.cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.cfg.StoreDriver, err)
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	return st, nil
}

// stream connects to JetStream; it returns nil when events are disabled.
func (a *app) stream(ctx context.Context) (*events.JetStream, error) {
	if a.js != nil || a.cfg.NATSURL == "" {
		return a.js, nil
	}
	js, err := events.NewJetStream(ctx, events.Config{
		NATSURL:    a.cfg.NATSURL,
		StreamName: a.cfg.NATSStreamName,
	})
	if err != nil {
		return nil, fmt.Errorf("nats connection failed: %w", err)
	}
	a.js = js
	a.closers = append(a.closers, js.Close)
	return js, nil
}

// publisher never fails: lifecycle events are best effort.
func (a *app) publisher(ctx context.Context) events.Publisher {
	js, err := a.stream(ctx)
	if err != nil {
		a.logger.Warn("lifecycle events disabled", zap.Error(err))
		return events.Nop{}
	}
	if js == nil {
		return events.Nop{}
	}
	return js
}

func (a *app) tracing(ctx context.Context, service string) {
	shutdown, err := observability.InitTracing(ctx, observability.OTelConfig{
		ServiceName: firstNonEmpty(a.cfg.OTELServiceName, service),
		Endpoint:    a.cfg.OTELExporterOTLPEndpoint,
		Env:         a.cfg.Env,
		Host:        a.cfg.Hostname,
		SampleRatio: a.cfg.OTELSampleRatio,
	})
	if err != nil {
		a.logger.Warn("otel init failed", zap.Error(err))
		return
	}
	a.closers = append(a.closers, func() { _ = shutdown(context.Background()) })
}

func (a *app) submitter(ctx context.Context, st store.Queue) (*submit.Submitter, error) {
	auth, err := submit.ParseAuthorizedUsers(a.cfg.AuthorizedUsers)
	if err != nil {
		return nil, err
	}
	return submit.New(submit.Options{
		Store:      st,
		Kinds:      a.kinds,
		Events:     a.publisher(ctx),
		Authorizer: auth,
		Logger:     a.logger,
	}), nil
}

func (a *app) mailer() engine.Mailer {
	if a.cfg.SMTPAddr == "" {
		return nil
	}
	return engine.SMTPMailer{
		Addr:     a.cfg.SMTPAddr,
		From:     a.cfg.SMTPFrom,
		Username: a.cfg.SMTPUsername,
		Password: a.cfg.SMTPPassword,
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.logger.Sync()
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
