// Package app assembles one session of the data layer: the configured
// document store and media storage, the transaction coordinator, the
// mirrored state and every repository. Callers create an App explicitly
// and pass it where it is needed; nothing here is global.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/dmitrijs2005/kehilla/internal/auth"
	"github.com/dmitrijs2005/kehilla/internal/common"
	"github.com/dmitrijs2005/kehilla/internal/config"
	"github.com/dmitrijs2005/kehilla/internal/dispatch"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/docstore/firestorestore"
	"github.com/dmitrijs2005/kehilla/internal/docstore/memstore"
	"github.com/dmitrijs2005/kehilla/internal/docstore/pgstore"
	"github.com/dmitrijs2005/kehilla/internal/docstore/redisstore"
	"github.com/dmitrijs2005/kehilla/internal/feed"
	"github.com/dmitrijs2005/kehilla/internal/logging"
	"github.com/dmitrijs2005/kehilla/internal/mediastore"
	"github.com/dmitrijs2005/kehilla/internal/metrics"
	"github.com/dmitrijs2005/kehilla/internal/mirror"
	"github.com/dmitrijs2005/kehilla/internal/models"
	"github.com/dmitrijs2005/kehilla/internal/repositories"
	"github.com/dmitrijs2005/kehilla/internal/repositories/auctions"
	"github.com/dmitrijs2005/kehilla/internal/repositories/chats"
	"github.com/dmitrijs2005/kehilla/internal/repositories/occasions"
	"github.com/dmitrijs2005/kehilla/internal/repositories/posts"
	"github.com/dmitrijs2005/kehilla/internal/repositories/seats"
	"github.com/dmitrijs2005/kehilla/internal/repositories/sponsorships"
	"github.com/dmitrijs2005/kehilla/internal/repositories/users"
	"github.com/dmitrijs2005/kehilla/internal/txn"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// SessionScreen owns the feeds that live as long as the sign-in.
const SessionScreen = "session"

// Store and media constructors, replaceable in tests.
var (
	openFirestore = func(ctx context.Context, cfg *config.Config, l logging.Logger) (docstore.Store, error) {
		return firestorestore.Open(ctx, cfg.FirestoreProjectID, nil,
			firestorestore.WithMaxAttempts(cfg.MaxTxAttempts), firestorestore.WithLogger(l))
	}
	openRedis = func(ctx context.Context, cfg *config.Config, l logging.Logger) (docstore.Store, error) {
		return redisstore.Open(ctx, cfg.RedisURL,
			redisstore.WithPrefix(cfg.RedisKeyPrefix), redisstore.WithMaxAttempts(cfg.MaxTxAttempts), redisstore.WithLogger(l))
	}
	openPostgres = func(ctx context.Context, cfg *config.Config, l logging.Logger) (docstore.Store, error) {
		return pgstore.Open(ctx, cfg.DatabaseDSN,
			pgstore.WithMaxAttempts(cfg.MaxTxAttempts), pgstore.WithLogger(l))
	}
	newS3 = func(ctx context.Context, c mediastore.S3Config) (mediastore.Storage, error) {
		return mediastore.NewS3(ctx, c)
	}
)

var ErrUnknownBackend = errors.New("unknown backend")

type App struct {
	Config  *config.Config
	Logger  logging.Logger
	Store   docstore.Store
	Media   mediastore.Storage
	Txn     *txn.Coordinator
	State   *mirror.State
	Feeds   *feed.Registry
	Metrics *metrics.Collector

	Users        *users.Repository
	Auctions     *auctions.Repository
	Sponsorships *sponsorships.Repository
	Occasions    *occasions.Repository
	Seats        *seats.Repository
	Posts        *posts.Repository
	Chats        *chats.Repository

	gatherer  prometheus.Gatherer
	serial    *dispatch.Serial
	ownsStore bool

	mu        sync.Mutex
	principal *auth.Principal
	closed    bool
}

type options struct {
	store       docstore.Store
	media       mediastore.Storage
	exec        dispatch.Executor
	logger      logging.Logger
	tp          trace.TracerProvider
	registry    *prometheus.Registry
	onFeedError func(string, error)
}

type Option func(*options)

// WithStore injects a store instead of opening the configured backend. The
// caller keeps ownership of it.
func WithStore(s docstore.Store) Option {
	return func(o *options) { o.store = s }
}

func WithMedia(m mediastore.Storage) Option {
	return func(o *options) { o.media = m }
}

// WithExecutor delivers feed updates on exec, typically the UI thread.
// The default is a private serial queue.
func WithExecutor(exec dispatch.Executor) Option {
	return func(o *options) { o.exec = exec }
}

func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

func WithMetricsRegistry(r *prometheus.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithFeedErrorHandler receives feed failures on the executor.
func WithFeedErrorHandler(fn func(feedName string, err error)) Option {
	return func(o *options) { o.onFeedError = fn }
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewJSON(nil, logging.ParseLevel(cfg.LogLevel))
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Logger:   o.logger,
		State:    mirror.New(),
		Feeds:    feed.NewRegistry(),
		Metrics:  metrics.NewCollector(o.registry),
		gatherer: o.registry,
	}

	a.Media = o.media
	if a.Media == nil {
		if a.Media, err = openMedia(ctx, cfg); err != nil {
			return nil, err
		}
	}

	a.Store = o.store
	if a.Store == nil {
		if a.Store, err = openStore(ctx, cfg, o.logger); err != nil {
			return nil, err
		}
		a.ownsStore = true
	}

	txnOpts := []txn.Option{txn.WithMetrics(a.Metrics), txn.WithLogger(o.logger)}
	if o.tp != nil {
		txnOpts = append(txnOpts, txn.WithTracerProvider(o.tp))
	}
	a.Txn = txn.New(a.Store, txnOpts...)

	exec := o.exec
	if exec == nil {
		a.serial = dispatch.NewSerial()
		exec = a.serial
	}

	onFeedError := o.onFeedError
	if onFeedError == nil {
		onFeedError = func(name string, err error) {
			o.logger.Warn(context.Background(), "feed stopped", "feed", name, "error", err)
		}
	}

	d := repositories.Deps{
		Txn:         a.Txn,
		State:       a.State,
		Exec:        exec,
		Registry:    a.Feeds,
		Logger:      o.logger,
		Metrics:     a.Metrics,
		OnFeedError: onFeedError,
	}.WithDefaults()

	a.Users = users.New(d, cfg.SuperAdminEmail)
	a.Auctions = auctions.New(d, a.Users, a.Users, auctions.WithBidCeiling(cfg.BidCeiling))
	a.Sponsorships = sponsorships.New(d, a.Users, a.Users, loc)
	a.Occasions = occasions.New(d, a.Users)
	a.Seats = seats.New(d, a.Users)
	a.Posts = posts.New(d, a.Users, a.Media,
		posts.WithMaxLength(cfg.MaxPostLength),
		posts.WithLikeRate(cfg.LikeToggleRate, cfg.LikeToggleBurst),
		posts.WithAdminDirectory(a.Users),
	)
	a.Chats = chats.New(d, a.Users, cfg.MaxChatLength)

	o.logger.Info(ctx, "data layer ready", "backend", string(cfg.Backend))
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, l logging.Logger) (docstore.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return memstore.New(memstore.WithMaxAttempts(cfg.MaxTxAttempts)), nil
	case config.BackendFirestore:
		return openFirestore(ctx, cfg, l)
	case config.BackendRedis:
		return openRedis(ctx, cfg, l)
	case config.BackendPostgres:
		return openPostgres(ctx, cfg, l)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, cfg.Backend)
	}
}

func openMedia(ctx context.Context, cfg *config.Config) (mediastore.Storage, error) {
	if cfg.S3Bucket == "" {
		return mediastore.NewMemory(""), nil
	}
	return newS3(ctx, mediastore.S3Config{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3BaseEndpoint,
		AccessKey: cfg.S3RootUser,
		SecretKey: cfg.S3RootPassword,
		URLTTL:    cfg.MediaURLTTL,
	})
}

// SignIn verifies idToken, makes sure the member has a profile and starts
// mirroring it together with the member directory, which keeps admin posts
// pinned.
func (a *App) SignIn(ctx context.Context, idToken string) (models.UserProfile, error) {
	p, err := auth.PrincipalFromToken(idToken, []byte(a.Config.AuthSecret))
	if err != nil {
		return models.UserProfile{}, common.ErrInvalidInput.WithMessage("sign-in rejected").WithCause(err)
	}
	p.Email = auth.NormalizeEmail(p.Email)
	if p.Name == "" {
		p.Name, _, _ = strings.Cut(p.Email, "@")
	}

	profile, _, err := a.Users.Register(ctx, p.Email, p.Name)
	if err != nil {
		return models.UserProfile{}, err
	}
	p.Name = profile.Name

	if err := a.Users.SubscribeProfile(ctx, SessionScreen, p.Email); err != nil {
		return models.UserProfile{}, err
	}
	if err := a.Users.Subscribe(ctx, SessionScreen); err != nil {
		a.Feeds.StopScreen(SessionScreen)
		return models.UserProfile{}, err
	}

	a.mu.Lock()
	a.principal = &p
	a.mu.Unlock()

	a.Logger.Info(ctx, "signed in", "email", p.Email)
	return profile, nil
}

// Principal is the signed-in member, if any.
func (a *App) Principal() (auth.Principal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.principal == nil {
		return auth.Principal{}, false
	}
	return *a.principal, true
}

// SignOut stops every feed and empties the mirror.
func (a *App) SignOut() {
	a.Feeds.StopAll()
	if a.serial != nil {
		a.serial.Sync()
	}
	a.State.Reset()

	a.mu.Lock()
	a.principal = nil
	a.mu.Unlock()
}

// StopScreen tears down every feed a screen started.
func (a *App) StopScreen(screen string) {
	a.Feeds.StopScreen(screen)
}

// MetricsHandler serves the collected metrics.
func (a *App) MetricsHandler() http.Handler {
	return metrics.Handler(a.gatherer)
}

// Close signs out and releases the store when the App opened it. It is
// safe to call more than once.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.SignOut()
	a.Posts.Wait()
	if a.serial != nil {
		a.serial.Close()
	}
	if a.ownsStore {
		return a.Store.Close()
	}
	return nil
}
