package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/primehr-session/internal/config"
	"github.com/jrsteele09/primehr-session/internal/database"
	"github.com/jrsteele09/primehr-session/internal/metrics"
	"github.com/jrsteele09/primehr-session/mailer"
	"github.com/jrsteele09/primehr-session/profiles"
	fakeprofilerepo "github.com/jrsteele09/primehr-session/profiles/repofake"
	"github.com/jrsteele09/primehr-session/provider/local"
	"github.com/jrsteele09/primehr-session/provider/local/flowstate"
	"github.com/jrsteele09/primehr-session/server"
	"github.com/jrsteele09/primehr-session/token"
	"github.com/jrsteele09/primehr-session/token/refresh"
	refreshrepofake "github.com/jrsteele09/primehr-session/token/refresh/repofake"
	"github.com/jrsteele09/primehr-session/users"
	fakeuserrepo "github.com/jrsteele09/primehr-session/users/repofake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatal().Err(err).Msg("error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	setupLogging(c.GetEnv())
	displayAppname(c.GetAppName())

	ctx := context.Background()

	st, err := openStores(ctx, c)
	if err != nil {
		return err
	}
	defer st.close()

	backend, err := newBackend(ctx, c, st)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	handler, err := server.New(c, server.Dependencies{
		Backend:  backend,
		Profiles: st.profiles,
		Metrics:  metrics.NewCollector(reg),
		Gatherer: reg,
	})
	if err != nil {
		return err
	}
	defer handler.Close()

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- listenAndServe(httpServer) }()

	select {
	case err := <-errCh:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

type stores struct {
	users    users.UserRepo
	refresh  refresh.Repo
	profiles profiles.Repo
	close    func()
}

// openStores picks Postgres when DATABASE_URL is set and the in-memory stores
// otherwise, with an optional Redis cache in front of profiles.
func openStores(ctx context.Context, c config.Config) (*stores, error) {
	var (
		st      stores
		closers []func()
	)

	if url := c.GetDatabaseURL(); url != "" {
		if err := database.RunMigrations(url); err != nil {
			return nil, err
		}
		db, err := database.Open(ctx, url)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		st.users = users.NewPostgresRepo(db)
		st.refresh = refresh.NewPostgresRepo(db)
		st.profiles = profiles.NewPostgresRepo(db)
		log.Info().Msg("users, refresh tokens and profiles stored in postgres")
	} else {
		st.users = fakeuserrepo.NewFakeUserRepo()
		st.refresh = refreshrepofake.NewFakeRefreshTokenRepo()
		st.profiles = fakeprofilerepo.NewFakeProfileRepo()
		log.Warn().Msg("DATABASE_URL not set, accounts are kept in memory and lost on restart")
	}

	if addr := c.GetRedisAddr(); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: c.GetRedisPassword()})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", addr).Msg("redis unavailable, profile cache disabled")
			_ = rdb.Close()
		} else {
			closers = append(closers, func() { _ = rdb.Close() })
			st.profiles = profiles.NewCachedRepo(st.profiles, rdb, c.GetProfileCacheTTL())
			log.Info().Str("addr", addr).Msg("profile cache enabled")
		}
	}

	st.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return &st, nil
}

func newBackend(ctx context.Context, c config.Config, st *stores) (*local.Backend, error) {
	issuer := token.NewIssuer(c.GetJWTSecret(), c.GetSiteURL(), token.WithExpiry(c.GetAccessTokenExpiry()))
	refreshTokens := refresh.NewManager(st.refresh, c.GetRefreshTokenLength(), c.GetRefreshTokenExpiry())

	opts := []local.BackendOption{
		local.WithAppName(c.GetAppName()),
		local.WithSiteURL(c.GetSiteURL()),
		local.WithAutoConfirm(c.GetAutoConfirm()),
		local.WithFlowTimeout(c.GetAuthFlowTimeout()),
	}

	if c.GetSmtpHost() != "" {
		opts = append(opts, local.WithMailer(mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     c.GetSmtpHost(),
			Port:     c.GetSmtpPort(),
			Username: c.GetSmtpAccount(),
			Password: c.GetSmtpPassword(),
			From:     c.GetSmtpSender(),
		})))
	}

	callbackURL := c.GetSiteURL() + server.RouteCallback
	if id := c.GetGoogleClientID(); id != "" {
		p, err := local.NewGoogleProvider(ctx, id, c.GetGoogleClientSecret(), callbackURL)
		if err != nil {
			return nil, fmt.Errorf("google provider: %w", err)
		}
		opts = append(opts, local.WithOAuthProvider(p))
	}
	if id := c.GetLinkedInClientID(); id != "" {
		p, err := local.NewLinkedInProvider(ctx, id, c.GetLinkedInClientSecret(), callbackURL)
		if err != nil {
			return nil, fmt.Errorf("linkedin provider: %w", err)
		}
		opts = append(opts, local.WithOAuthProvider(p))
	}

	return local.NewBackend(local.Repos{
		Users:    st.users,
		Flows:    flowstate.NewInMemoryRepo(),
		Profiles: st.profiles,
	}, issuer, refreshTokens, opts...)
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
