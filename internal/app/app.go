package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nadezhda-zhivchikova/erika-advent/internal/config"
	"github.com/nadezhda-zhivchikova/erika-advent/internal/delivery"
	"github.com/nadezhda-zhivchikova/erika-advent/internal/domain"
	"github.com/nadezhda-zhivchikova/erika-advent/internal/gift"
	"github.com/nadezhda-zhivchikova/erika-advent/internal/store"
	"github.com/nadezhda-zhivchikova/erika-advent/internal/telegram"
)

type App struct {
	cfg      config.Config
	log      *zap.Logger
	bot      *tgbotapi.BotAPI
	clock    domain.DeliveryClock
	httpSrv  *http.Server
	repo     store.Repo
	delivery *delivery.Service
	router   *telegram.Router
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	clock, err := domain.NewDeliveryClock(cfg.DeliveryTime, cfg.DeliveryTZ)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	return &App{cfg: cfg, log: log, bot: bot, clock: clock, httpSrv: srv}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting advent-bot",
		zap.String("delivery_time", a.clock.String()),
		zap.String("delivery_tz", a.clock.Loc.String()),
		zap.String("http", a.cfg.HTTPAddr),
	)

	// Open SQLite and run migrations. Durability is a hard requirement:
	// no store, no process.
	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		a.log.Error("open sqlite failed", zap.Error(err))
		return err
	}
	a.repo = repo
	a.log.Info("sqlite ready")

	a.delivery = delivery.New(repo, telegram.NewSender(a.bot), gift.Text, a.clock, a.log)
	a.router = telegram.NewRouter(a.bot, a.log, repo, a.delivery, a.clock)

	// Re-derive every chat's timer from the store; the only recovery pass.
	if err := a.delivery.RecoverAll(ctx); err != nil {
		a.log.Error("recover timers failed", zap.Error(err))
		return err
	}

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updCh := a.bot.GetUpdatesChan(u)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")
			a.shutdown()
			return nil

		case upd := <-updCh:
			a.router.HandleUpdate(ctx, upd)
		}
	}
}

func (a *App) shutdown() {
	a.delivery.Stop()

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := a.httpSrv.Shutdown(shCtx)
	cancel()
	if err != nil {
		a.log.Warn("http server shutdown error", zap.Error(err))
	}

	if a.repo != nil {
		_ = a.repo.Close()
	}
}
