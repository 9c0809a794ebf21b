package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"level-rush/internal/config"
	"level-rush/internal/lobby"
	"level-rush/internal/logging"
	"level-rush/internal/store"
	"level-rush/internal/store/pgstore"
	"level-rush/internal/store/redisstore"
	"level-rush/internal/ws"
)

func main() {
	logCfg, err := config.LoadLog()
	if err != nil {
		panic(err)
	}
	logging.Init(logCfg)

	cfg, err := config.LoadApp()
	if err != nil {
		log.Fatal().Err(err).Msg("load config failed")
	}

	st, err := openStore(cfg.Server)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer st.Close()

	svc := lobby.NewService(st)
	wsSrv := ws.NewServer(st, svc, ws.Options{
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
		PositionInterval:  cfg.Session.PositionInterval,
	})

	r := newRouter(svc, wsSrv, cfg.Session)
	logRoutes(r)

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	log.Info().Str("addr", cfg.Server.HTTPAddr).Str("backend", cfg.Server.StoreBackend).Msg("http listening")
	log.Fatal().Err(server.ListenAndServe()).Msg("server stopped")
}

func openStore(cfg config.ServerConfig) (store.Store, error) {
	switch cfg.StoreBackend {
	case "redis":
		return redisstore.New(cfg.RedisAddr, cfg.RedisDB)
	case "postgres":
		st, err := pgstore.New(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		ctx := context.Background()
		if err := st.Ping(ctx); err != nil {
			return nil, err
		}
		if err := st.Bootstrap(ctx); err != nil {
			return nil, err
		}
		return st, nil
	default:
		return store.NewMemory(), nil
	}
}
