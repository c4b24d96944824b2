package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/tsstatus/internal/adapters/discord"
	router "github.com/dkeye/tsstatus/internal/adapters/http"
	"github.com/dkeye/tsstatus/internal/adapters/mqtt"
	"github.com/dkeye/tsstatus/internal/adapters/teamspeak"
	"github.com/dkeye/tsstatus/internal/app"
	"github.com/dkeye/tsstatus/internal/config"
	"github.com/dkeye/tsstatus/internal/domain"
	"github.com/dkeye/tsstatus/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("level", cfg.Log.Level).Msg("unknown log level, keeping info")
	}

	var opts []app.Option
	var pub *mqtt.Publisher
	if cfg.MQTT.Broker != "" {
		pub = mqtt.NewPublisher(cfg.Publisher())
		// Connect keeps retrying in the background; publishes fail until it succeeds.
		if err := pub.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("mqtt broker not reachable yet")
		}
		opts = append(opts, app.WithPublisher(pub))
	}

	discordClient := discord.NewClient(cfg.DiscordREST())
	fileStore := store.NewFileStore(cfg.Store.Path)
	a := app.New(cfg.App(), discordClient, fileStore, opts...)
	if err := a.Load(); err != nil {
		log.Error().Err(err).Str("path", fileStore.Path()).Msg("failed to restore display reference")
	}

	commands := app.NewCommandHandler(a)
	scheduler := app.NewScheduler(a)
	counter := app.NewCountLabeler(a)
	supervisor := app.NewSupervisor(a, teamspeak.NewDialer(cfg.TeamSpeakClient()))
	supervisor.OnTransition = func(st domain.ConnectionState) {
		log.Info().Str("state", st.String()).Msg("voice connection")
	}

	var workers errgroup.Group
	var startOnce sync.Once
	startWorkers := func() {
		counter.Resolve(ctx)
		workers.Go(func() error { scheduler.Run(ctx); return nil })
		workers.Go(func() error { counter.Run(ctx); return nil })
		workers.Go(func() error { supervisor.Run(ctx); return nil })
	}

	gateway := discord.NewGateway(cfg.DiscordGateway(), discord.Handlers{
		Ready: func(botID snowflake.ID) {
			commands.HandleReady(ctx, botID)
			startOnce.Do(startWorkers)
		},
		MessageCreate: func(msg domain.IncomingMessage) {
			commands.HandleMessageCreate(ctx, msg)
		},
		MessageDelete: commands.HandleMessageDelete,
	})
	workers.Go(func() error {
		err := gateway.Run(ctx)
		if errors.Is(err, discord.ErrGatewayAuth) {
			log.Error().Err(err).Msg("discord rejected the bot token")
			cancel()
			return err
		}
		return nil
	})

	var srv *http.Server
	if cfg.HTTP.Enabled {
		addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
		srv = &http.Server{
			Addr:    addr,
			Handler: router.SetupRouter(ctx, cfg.Router(), a),
		}
		go func() {
			log.Info().Str("addr", addr).Msg("status server started")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("server error")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	// No display writes may be persisted from here on.
	a.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	done := make(chan error, 1)
	go func() { done <- workers.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("worker exited with error")
		}
	case <-shutdownCtx.Done():
		log.Warn().Msg("workers did not stop in time")
	}

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
	}
	if pub != nil {
		pub.Disconnect()
	}
	log.Info().Msg("Server exited gracefully")
}
