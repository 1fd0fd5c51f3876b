// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// gateway is the process entrypoint: it wires config, logging, routing,
// persistence, tool dispatch, and the carrier listener together and runs
// until asked to stop (§6).
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rapidaai/voicegateway/internal/commons"
	"github.com/rapidaai/voicegateway/internal/config"
	"github.com/rapidaai/voicegateway/internal/lifecycle"
	"github.com/rapidaai/voicegateway/internal/listener"
	"github.com/rapidaai/voicegateway/internal/routing"
	"github.com/rapidaai/voicegateway/internal/toolregistry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	v, err := config.Init()
	if err != nil {
		return fmt.Errorf("gateway: load config: %w", err)
	}
	cfg, err := config.Get(v)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	logger := commons.New(commons.Options{Level: cfg.LogLevel, FilePath: cfg.LogFile})

	db, err := openPostgres(cfg.PostgresConfig)
	if err != nil {
		return fmt.Errorf("gateway: connect postgres: %w", err)
	}

	store := lifecycle.NewGormStore(db)
	recorder := lifecycle.NewRecorder(store, logger)
	table := routing.NewInMemoryTable()
	resolver := routing.New(table, logger)
	tools := toolregistry.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RoutingSnapshotURL != "" {
		syncer := routing.NewRemoteSyncer(
			cfg.RoutingSnapshotURL, "default",
			time.Duration(cfg.RoutingSnapshotIntervalSecs)*time.Second,
			table, logger,
		)
		go syncer.Run(ctx)
	}

	l := listener.New(
		listener.Config{
			CarrierPath:           cfg.CarrierPath,
			DefaultTenant:         "default",
			ModelWSURL:            cfg.ModelWSURL,
			ModelAPIKey:           cfg.ModelAPIKey,
			EnableAudioTrace:      os.Getenv("ENABLE_AUDIO_TRACE") == "true",
			TwilioAccountSID:      cfg.TwilioAccountSID,
			TwilioAuthToken:       cfg.TwilioAuthToken,
			TwilioCallbackBaseURL: cfg.TwilioCallbackBaseURL,
			TwilioDialoutNumber:   cfg.TwilioDialoutNumber,
			VonageApplicationID:   cfg.VonageApplicationID,
			VonagePrivateKey:      []byte(cfg.VonagePrivateKey),
			VonageCallbackBaseURL: cfg.VonageCallbackBaseURL,
			VonageDialoutNumber:   cfg.VonageDialoutNumber,
			SIPTrunkAddr:          cfg.SIPTrunkAddr,
			SIPLocalHost:          cfg.SIPLocalHost,
			SIPLocalPort:          cfg.SIPLocalPort,
			SIPFromUser:           cfg.SIPFromUser,
		},
		logger, resolver, recorder, tools, table,
	)

	srv := &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler: l.Engine(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("gateway: listening on %s (carrier path %s)", srv.Addr, cfg.CarrierPath)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway: listen: %w", err)
		}
	case <-ctx.Done():
		logger.Infof("gateway: shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway: graceful shutdown: %w", err)
		}
	}
	return nil
}

func openPostgres(cfg config.PostgresConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.DBName, cfg.User, cfg.Password, cfg.SSLMode,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdealConnections)
	return db, nil
}
