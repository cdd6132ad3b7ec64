package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/gophdirectory/internal/clock"
	"github.com/dmitrijs2005/gophdirectory/internal/config"
	"github.com/dmitrijs2005/gophdirectory/internal/cryptox"
	"github.com/dmitrijs2005/gophdirectory/internal/directory"
	"github.com/dmitrijs2005/gophdirectory/internal/logging"
	"github.com/dmitrijs2005/gophdirectory/internal/models"
	"github.com/dmitrijs2005/gophdirectory/internal/pipeline"
	"github.com/dmitrijs2005/gophdirectory/internal/storage"
)

// directoryService is the part of *directory.Engine the commands use.
type directoryService interface {
	SignIn(ctx context.Context, token string) (*models.Self, error)
	SignOut(ctx context.Context) error
	Self() *models.Self
	ResolveContact(ctx context.Context, id int64) (*models.Contact, error)
	ResolveGroup(ctx context.Context, id int64) (*models.Group, error)
	MyGroups() []*models.Group
	GroupMembers(ctx context.Context, g *models.Group) ([]*models.Contact, error)
	RemarkContact(ctx context.Context, c *models.Contact, remark string) error
	QuitGroup(ctx context.Context, g *models.Group) error
	AddBlock(ctx context.Context, id int64) error
	RemoveBlock(ctx context.Context, id int64) error
	Subscribe(fn directory.Listener) (unsubscribe func())
	Close() error
}

// tokenSetter receives the access token attached to pipeline calls.
type tokenSetter interface {
	SetToken(token string)
}

type App struct {
	dir     directoryService
	tokens  tokenSetter
	logger  logging.Logger
	out     io.Writer
	reader  *bufio.Reader
	closers []func() error
}

// Opener builds the App a command runs against.
type Opener func(ctx context.Context, cfg *config.Config) (*App, error)

// Open returns the production Opener: a SQLite cache at cfg.DatabasePath,
// a gRPC pipeline to cfg.PipelineAddr and an engine over both. Pushes are
// received until ctx ends; a dropped push stream is reopened.
func Open(logger logging.Logger) Opener {
	return func(ctx context.Context, cfg *config.Config) (*App, error) {
		store, err := storage.Open(ctx, cfg.DatabasePath, storage.Options{
			Domain:   cfg.Domain,
			Secret:   cfg.StorageSecret,
			Lifespan: cfg.EntityLifespan,
			Logger:   logger.With("component", "storage"),
		})
		if err != nil {
			return nil, fmt.Errorf("open cache: %w", err)
		}

		pipe, err := pipeline.NewGRPCPipeline(cfg.PipelineAddr, logger.With("component", "pipeline"))
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connect pipeline: %w", err)
		}

		engine := directory.New(pipe, store, directory.Options{
			Config: engineConfig(cfg),
			Logger: logger.With("component", "directory"),
		})
		engine.Start(ctx)

		go keepListening(ctx, pipe, engine, clock.Real(), logger.With("component", "listener"))

		app := newApp(engine, pipe, logger, os.Stdout, os.Stdin)
		app.closers = []func() error{engine.Close, pipe.Close, store.Close}
		return app, nil
	}
}

func newApp(dir directoryService, tokens tokenSetter, logger logging.Logger, out io.Writer, in io.Reader) *App {
	return &App{
		dir:    dir,
		tokens: tokens,
		logger: logger,
		out:    out,
		reader: bufio.NewReader(in),
	}
}

func engineConfig(cfg *config.Config) directory.Config {
	return directory.Config{
		Domain:             cfg.Domain,
		EntityLifespan:     cfg.EntityLifespan,
		InspectInterval:    cfg.InspectInterval,
		ListGroupsTimeout:  cfg.ListGroupsTimeout,
		SignInTimeout:      cfg.SignInTimeout,
		RecentGroupsWindow: cfg.RecentGroupsWindow,
		RequestTimeout:     cfg.RequestTimeout,
	}
}

// SignIn attaches token to the pipeline and signs in, prompting for the
// token when it is empty.
func (a *App) SignIn(ctx context.Context, token string) error {
	if token == "" {
		b, err := getToken(a.out)
		if err != nil {
			return err
		}
		token = string(b)
		cryptox.Wipe(b)
	}

	if a.tokens != nil {
		a.tokens.SetToken(token)
	}
	self, err := a.dir.SignIn(ctx, token)
	if err != nil {
		return err
	}
	a.logger.Info(ctx, "signed in", "id", self.ID, "name", self.Name)
	return nil
}

func (a *App) signedIn() bool {
	return a.dir.Self() != nil
}

// Close releases the engine, the pipeline and the cache, in that order.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
