package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/synckit/internal/client/auth"
	"github.com/dmitrijs2005/synckit/internal/client/client"
	"github.com/dmitrijs2005/synckit/internal/client/config"
	"github.com/dmitrijs2005/synckit/internal/client/datastore"
	"github.com/dmitrijs2005/synckit/internal/client/metrics"
	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/client/progress"
	"github.com/dmitrijs2005/synckit/internal/client/request"
	"github.com/dmitrijs2005/synckit/internal/client/services"
	"github.com/dmitrijs2005/synckit/internal/client/store"
	"github.com/dmitrijs2005/synckit/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// App holds everything a command needs. One App serves a whole process,
// including every command run from the shell.
type App struct {
	config  *config.Config
	log     logging.Logger
	store   store.Store
	api     *client.API
	session *auth.Session
	metrics *metrics.Collector
	reg     *prometheus.Registry

	reader  *bufio.Reader
	out     io.Writer
	closers []io.Closer
}

// NewApp opens the store of cfg.AppKey and restores a saved session.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		config: cfg,
		reg:    prometheus.NewRegistry(),
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}

	if cfg.LogFile != "" {
		l, closer := logging.NewFileLogger(cfg.LogFile, cfg.LogLevel, 10, 3)
		a.log = l
		a.closers = append(a.closers, closer)
	} else {
		a.log = logging.NewTextLogger(os.Stderr, cfg.LogLevel)
	}
	a.metrics = metrics.NewCollector(a.reg)

	st, err := store.Open(ctx, store.Options{
		Dir:           cfg.StoreDir,
		AppKey:        cfg.AppKey,
		Tag:           cfg.Tag,
		SchemaVersion: cfg.SchemaVersion,
		Logger:        a.log,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.store = st
	a.closers = append(a.closers, st)

	app := auth.AppCredentials{AppKey: cfg.AppKey, AppSecret: cfg.AppSecret}
	a.session = auth.NewSession(app)

	transport := client.NewHTTPTransport(cfg.BaseURL, a.session,
		client.WithTimeout(cfg.Timeout),
		client.WithRetryMax(cfg.RetryMax),
		client.WithLogger(a.log),
		client.WithMetrics(a.metrics),
	)
	a.api = client.NewAPI(transport, app, st.Schemas())
	a.session.SetRefresher(a.api.RefreshTokens)

	ok, err := a.session.Load(ctx, st.Metadata(), a.secret())
	if err != nil {
		a.log.Warn(ctx, "failed to restore session", "error", err)
	} else if ok {
		a.log.Debug(ctx, "session restored", "user", a.session.UserID())
	}
	return a, nil
}

// Close releases the store and the log file.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}

func (a *App) secret() []byte {
	return []byte(a.config.AppKey + ":" + a.config.AppSecret)
}

func (a *App) dataStore(collection string, typ datastore.StoreType, onProgress progress.Func) (*datastore.DataStore[models.Entity], error) {
	opts := services.OptionsFromConfig(a.config)
	opts.Logger = a.log
	opts.Metrics = a.metrics
	return datastore.New[models.Entity](collection, datastore.Config{
		Type:     typ,
		Store:    a.store,
		Backend:  a.api,
		Executor: request.Inline{},
		Progress: onProgress,
		Services: opts,
	})
}

func (a *App) isLoggedIn() bool {
	return a.session != nil && a.session.Active()
}

func (a *App) status() string {
	if a.isLoggedIn() {
		return a.session.UserID()
	}
	return a.config.AppKey
}
