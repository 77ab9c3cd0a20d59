package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/thedetect/UTB2/internal/astro"
	"github.com/thedetect/UTB2/internal/config"
	"github.com/thedetect/UTB2/internal/delivery"
	"github.com/thedetect/UTB2/internal/dispatch"
	"github.com/thedetect/UTB2/internal/entitlement"
	"github.com/thedetect/UTB2/internal/ephemeris"
	"github.com/thedetect/UTB2/internal/geo"
	"github.com/thedetect/UTB2/internal/interpret"
	"github.com/thedetect/UTB2/internal/referral"
	"github.com/thedetect/UTB2/internal/scheduler"
	"github.com/thedetect/UTB2/internal/store"
	"github.com/thedetect/UTB2/internal/telegram"
)

// pollTimeout is the long-polling timeout of getUpdates, in seconds.
const pollTimeout = 30

type App struct {
	cfg       config.Config
	log       *zap.Logger
	bot       *tgbotapi.BotAPI
	httpSrv   *http.Server
	repo      store.Repo
	router    *telegram.Router
	scheduler *scheduler.Scheduler
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	// The client timeout bounds every Bot API call, including deliveries.
	client := &http.Client{Timeout: pollTimeout*time.Second + cfg.DeliveryTimeout}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	return &App{cfg: cfg, log: log, bot: bot, httpSrv: srv}, nil
}

// wire builds the domain services on top of an open repo.
func (a *App) wire(repo *store.SQLiteRepo) error {
	bodies, err := ephemeris.ParseBodies(a.cfg.TrackedBodies)
	if err != nil {
		return fmt.Errorf("tracked bodies: %w", err)
	}
	calc := astro.NewCalculator(ephemeris.NewAnalytic(), bodies, a.cfg.EphemerisTimeout)

	engine, err := interpret.NewEmbedded(a.cfg.ExtraAspects)
	if err != nil {
		return fmt.Errorf("interpretations: %w", err)
	}
	places, err := geo.LoadEmbedded()
	if err != nil {
		return fmt.Errorf("places: %w", err)
	}

	ent := entitlement.New()
	refs := referral.New(repo, referral.Rules{
		Threshold:         a.cfg.RewardThreshold,
		RewardDays:        a.cfg.RewardDays,
		LifetimeThreshold: a.cfg.LifetimeThreshold,
	}, a.cfg.DefaultTZ, a.log.Named("referral"))

	d := dispatch.New(repo, ent, calc, engine, telegram.NewSink(a.bot), dispatch.Options{
		Orb:             a.cfg.OrbDegrees,
		Lease:           a.cfg.ClaimLease,
		DeliveryTimeout: a.cfg.DeliveryTimeout,
		Retry: delivery.Backoff{
			MaxAttempts: a.cfg.RetryMaxAttempts,
			Initial:     a.cfg.RetryBackoff,
			Max:         time.Minute,
		},
	}, a.log.Named("dispatch"))

	a.router = telegram.NewRouter(a.bot, a.log.Named("telegram"), telegram.Deps{
		Repo:        repo,
		Charts:      calc,
		Places:      places,
		Referrals:   refs,
		Entitlement: ent,
		Broadcaster: dispatch.NewBroadcaster(repo, d, a.cfg.Workers, a.log.Named("broadcast")),
		Daily:       d,
	}, telegram.Options{
		DefaultTZ:   a.cfg.DefaultTZ,
		AdminID:     a.cfg.AdminID,
		BotUsername: a.bot.Self.UserName,
		Payment:     a.cfg.PaymentConfig,
	})
	a.scheduler = scheduler.New(repo, d, a.log.Named("scheduler"), a.cfg.TickInterval, a.cfg.Workers)

	a.log.Info("services ready",
		zap.Int("bodies", len(bodies)),
		zap.Int("places", len(places.Names())),
		zap.Float64("orb", a.cfg.OrbDegrees),
	)
	return nil
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting astro-bot",
		zap.String("bot", a.bot.Self.UserName),
		zap.String("http", a.cfg.HTTPAddr),
	)

	// Open SQLite and run migrations.
	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		a.log.Error("open sqlite failed", zap.Error(err))
		return err
	}
	a.repo = repo
	a.log.Info("sqlite ready")

	if err := a.wire(repo); err != nil {
		_ = repo.Close()
		return err
	}

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		a.scheduler.Run(ctx)
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updCh := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")
			a.bot.StopReceivingUpdates()

			// Create a short-lived shutdown context and cancel it immediately after use.
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := a.httpSrv.Shutdown(shCtx)
			cancel()

			if err != nil {
				a.log.Warn("http server shutdown error", zap.Error(err))
			}
			<-schedDone
			a.router.Wait()
			if a.repo != nil {
				_ = a.repo.Close()
			}
			a.log.Info("stopped")
			return nil

		case upd := <-updCh:
			a.router.HandleUpdate(ctx, upd)
		}
	}
}
