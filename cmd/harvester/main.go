package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/blockedby/tg-warehouse/internal/config"
	"github.com/blockedby/tg-warehouse/internal/database"
	"github.com/blockedby/tg-warehouse/internal/harvester"
	"github.com/blockedby/tg-warehouse/internal/logger"
	"github.com/blockedby/tg-warehouse/internal/nats"
	"github.com/blockedby/tg-warehouse/internal/publisher"
	"github.com/blockedby/tg-warehouse/internal/telegram"
	"github.com/blockedby/tg-warehouse/internal/warehouse"
)

func main() {
	// .env is optional, real deployments configure via environment
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()
	log.Info().Str("mode", cfg.RunMode).Msg("starting harvester")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	nc, err := nats.New(ctx, cfg.NatsURL)
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to nats, publishing disabled")
	} else {
		defer nc.Close()
	}

	var pub harvester.EventPublisher
	if nc != nil {
		if err := nc.EnsureStream(ctx, "HARVEST", []string{"harvest.>"}); err != nil {
			log.Warn().Err(err).Msg("failed to ensure harvest stream")
		}
		pub = publisher.NewNATSPublisher(nc.Conn)
	}

	tables := warehouse.Tables{
		ChatConfig:  cfg.TableChatConfig,
		ChatHistory: cfg.TableChatHistory,
		ChatInfo:    cfg.TableChatInfo,
		UserInfo:    cfg.TableUserInfo,
	}
	wh := warehouse.NewClient(db.Pool, tables)
	progress := warehouse.NewProgressStore(db.Pool, cfg.TableChatConfig)

	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		log.Fatal().Msg("TG_API_ID and TG_API_HASH are required")
	}

	tgManager := telegram.NewManager(cfg, db.GORM)
	if err := tgManager.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("telegram manager init failed")
	}
	if tgManager.GetStatus() != telegram.StatusReady {
		log.Fatal().Msg("no telegram session available, run tg-auth first")
	}

	tgClient := telegram.NewClient(tgManager)
	defer tgClient.Close()

	chats, err := cfg.ChatList()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build chat list")
	}

	svc := harvester.NewService(harvester.WrapTelegram(tgClient), wh, progress, tables, pub)
	result, err := svc.Run(ctx, harvester.RunRequest{
		Chats:     chats,
		Mode:      harvester.Mode(cfg.RunMode),
		StartDate: cfg.BackloadStartDate,
		EndDate:   cfg.BackloadEndDate,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("harvest run failed")
	}

	log.Info().
		Str("run_id", result.RunID.String()).
		Int("chats", result.ChatsProcessed).
		Int("skipped", result.ChatsSkipped).
		Int("messages", result.MessagesLoaded).
		Int("new_chats", result.NewChats).
		Int("new_users", result.NewUsers).
		Int("dedup_stops", result.DedupStops).
		Int("fetch_errors", result.FetchErrors).
		Int("load_errors", result.LoadErrors).
		Int("progress_errors", result.ProgressErrors).
		Msg("harvest finished")

	if result.FetchErrors+result.LoadErrors+result.ProgressErrors > 0 {
		os.Exit(1)
	}
}
