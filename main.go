package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iamwavecut/ngguard/internal/badwords"
	"github.com/iamwavecut/ngguard/internal/bot"
	"github.com/iamwavecut/ngguard/internal/config"
	"github.com/iamwavecut/ngguard/internal/db/sqlite"
	admin "github.com/iamwavecut/ngguard/internal/handlers/admin"
	chat "github.com/iamwavecut/ngguard/internal/handlers/chat"
	moderation "github.com/iamwavecut/ngguard/internal/handlers/moderation"
	"github.com/iamwavecut/ngguard/internal/infra"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngguard/internal/lifecycle"
	"github.com/iamwavecut/ngguard/internal/observability"
	"github.com/iamwavecut/ngguard/internal/policy/permissions"
	"github.com/iamwavecut/ngguard/internal/reputation"
	"github.com/iamwavecut/ngguard/internal/scoring"
)

const (
	dbFileName       = "ngguard.db"
	matcherCacheSize = 256
	settingsInterval = 30 * time.Second
	shutdownTimeout  = 10 * time.Second
)

var errExecutableChanged = errors.New("executable file was modified")

func main() {
	log.SetFormatter(&config.NbFormatter{})
	log.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.WithField("error", err.Error()).Fatalln("cant load config")
	}
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = run(ctx, cfg)
	switch {
	case errors.Is(err, errExecutableChanged):
		log.Warnln("executable file was modified, exiting")
	case err != nil && !errors.Is(err, context.Canceled):
		log.WithField("error", err.Error()).Errorln("stopped with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	dataDir, err := infra.EnsureDir(cfg.DotPath)
	if err != nil {
		return err
	}
	dbClient, err := sqlite.NewSQLiteClient(ctx, dataDir, dbFileName)
	if err != nil {
		return err
	}

	rt := lifecycle.NewRuntime()
	rt.Register("database", lifecycle.Hooks{OnStop: func(context.Context) error {
		return dbClient.Close()
	}})

	terms, err := badwords.NewStore(dbClient, dataDir, matcherCacheSize)
	if err != nil {
		_ = dbClient.Close()
		return err
	}
	settings := config.NewScoringSettings(cfg.Scoring, cfg.EnvFile)
	engine := scoring.NewEngine(terms, settings)
	reputationCache := reputation.NewCache(dbClient, reputation.NewClient(cfg.Reputation), cfg.Reputation)
	identities := permissions.NewIdentities(cfg.Moderation.SuperAdmins, cfg.Moderation.ProtectedIDs)

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		_ = dbClient.Close()
		log.WithField("error", err.Error()).Errorln("cant initialize bot api")
		return err
	}
	botAPI.Debug = log.Level(cfg.LogLevel) == log.TraceLevel

	platform := telegram.NewOperations(botAPI)
	escalator := moderation.NewEscalator(dbClient, reputationCache, identities, cfg.Moderation.PendingBanAfter)
	actions := moderation.NewActions(platform, dbClient, escalator, identities, cfg.Moderation, cfg.DefaultLanguage)
	service := bot.NewService(botAPI, dbClient)

	bot.RegisterUpdateHandler("admin", admin.NewAdmin(platform, dbClient, terms, settings, reputationCache, escalator, actions, admin.Config{
		Language:     cfg.DefaultLanguage,
		WordsPerPage: cfg.Moderation.WordsPerPage,
	}))
	bot.RegisterUpdateHandler("reactor", chat.NewReactor(platform, dbClient, engine, terms, escalator, actions, chat.Config{
		BotID:           botAPI.Self.ID,
		Language:        cfg.DefaultLanguage,
		MaxPromptLength: cfg.Moderation.MaxPromptLength,
	}))

	shutdownTelemetry, err := observability.Init(ctx)
	if err != nil {
		_ = dbClient.Close()
		return err
	}
	rt.Register("telemetry", lifecycle.Hooks{OnStop: shutdownTelemetry})
	rt.Register("metrics", observability.NewMetricsServer(cfg.MetricsAddr))

	if err := rt.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := rt.Stop(stopCtx); err != nil {
			log.WithField("error", err.Error()).Errorln("shutdown failed")
		}
	}()

	log.WithFields(log.Fields{
		"bot":      botAPI.Self.UserName,
		"handlers": cfg.EnabledHandlers,
		"workers":  cfg.Workers,
	}).Infoln("started")

	g, gctx := errgroup.WithContext(ctx)

	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = 60
	updateConfig.AllowedUpdates = []string{"message", "callback_query", "my_chat_member"}
	updates := bot.PollUpdates(gctx, botAPI, updateConfig, botAPI.Buffer)
	processor := bot.NewUpdateProcessor(service, cfg.EnabledHandlers, cfg.Workers)

	g.Go(func() error {
		return processor.Run(gctx, updates)
	})
	g.Go(func() error {
		return watchSettings(gctx, settings, cfg.EnvFile)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case _, ok := <-infra.MonitorExecutable(gctx):
			if !ok {
				return nil
			}
			return errExecutableChanged
		}
	})

	return g.Wait()
}

// watchSettings reloads weights and threshold whenever the dotenv file changes.
func watchSettings(ctx context.Context, settings *config.ScoringSettings, envFile string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-infra.MonitorFile(ctx, envFile, settingsInterval):
			if !ok {
				return nil
			}
			if err := settings.Reload(); err != nil {
				log.WithField("error", err.Error()).Warnln("cant reload scoring settings")
			}
		}
	}
}
