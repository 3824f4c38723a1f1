// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Command meshnode runs one mesh overlay node: it loads configuration,
// loads or generates its RSA keypair, wires the directory, router,
// handler table, and transport, starts the mesh maintenance loop, and
// serves health and metrics endpoints until signaled to stop.
package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meshoverlay/node/config"
	"github.com/meshoverlay/node/internal/cryptoutil"
	"github.com/meshoverlay/node/internal/directory"
	"github.com/meshoverlay/node/internal/envelope"
	"github.com/meshoverlay/node/internal/handlers"
	"github.com/meshoverlay/node/internal/health"
	"github.com/meshoverlay/node/internal/logger"
	"github.com/meshoverlay/node/internal/mesh"
	"github.com/meshoverlay/node/internal/metrics"
	"github.com/meshoverlay/node/internal/router"
	"github.com/meshoverlay/node/internal/store"
	"github.com/meshoverlay/node/internal/store/memory"
	"github.com/meshoverlay/node/internal/store/postgres"
	"github.com/meshoverlay/node/internal/transport"
	"github.com/meshoverlay/node/pkg/version"
)

func main() {
	log := logger.NewDefaultLogger()
	log.Info("starting meshnode", logger.String("version", version.Short()))

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load configuration", logger.Error(err))
	}
	if cfg.Node.ServerID == "" {
		cfg.Node.ServerID = uuid.NewString()
	}

	priv, pub, err := cryptoutil.LoadOrCreateNodeKeyPair(cfg.Node.KeyDir)
	if err != nil {
		log.Fatal("load or create node keypair", logger.Error(err))
	}

	durable, err := buildStore(cfg)
	if err != nil {
		log.Fatal("connect durable store", logger.Error(err))
	}
	defer durable.Close()

	dir := directory.New()

	sendToPeer := func(id string, env *envelope.Envelope) error {
		link, ok := dir.PeerLink(id)
		if !ok {
			return fmt.Errorf("meshnode: unknown peer %s", id)
		}
		return link.(*transport.Link).Send(env)
	}
	sendToLocal := func(id string, env *envelope.Envelope) error {
		link, ok := dir.LocalUserLink(id)
		if !ok {
			return fmt.Errorf("meshnode: unknown local user %s", id)
		}
		return link.(*transport.Link).Send(env)
	}

	r := router.New(router.Config{
		ServerID:       cfg.Node.ServerID,
		SigningKey:     priv,
		SendToPeer:     sendToPeer,
		SendToLocal:    sendToLocal,
		Directory:      dir,
		DedupeCapacity: cfg.Mesh.DedupeCapacity,
		QPerUser:       cfg.Mesh.HoldQueueDepth,
	})

	deps := &handlers.Deps{
		ServerID:   cfg.Node.ServerID,
		SigningKey: priv,
		PublicKey:  pub,
		Dir:        dir,
		Router:     r,
		Durable:    durable,
		Log:        log,
		NamePolicy: handlers.PolicyLastWins,
	}

	verifier := envelope.MakeVerifier(func(id string) (*rsa.PublicKey, bool) {
		if pub, ok := dir.PeerPublicKey(id); ok {
			return pub, true
		}
		return dir.UserPublicKey(id)
	})

	srv := transport.NewServer(verifier, handlers.Table(deps), nil, log)

	peers := parseBootstrapPeers(cfg.Mesh.BootstrapPeers)
	maintainer := &mesh.Maintainer{
		ServerID:   cfg.Node.ServerID,
		ListenHost: cfg.Node.ListenHost,
		ListenPort: cfg.Node.ListenPort,
		SigningKey: priv,
		PublicKey:  pub,
		Dir:        dir,
		Router:     r,
		Transport:  srv,
		Log:        log,
		Bootstrap:  peers,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := http.NewServeMux()
	mux.Handle("/mesh", srv.Handler())
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Node.ListenHost, cfg.Node.ListenPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("mesh listener error", logger.Error(err))
		}
	}()

	checker := health.NewChecker(5 * time.Second)
	checker.SetLogger(log)
	checker.RegisterCheck("store", health.StoreHealthCheck(durable.Ping))
	checker.RegisterCheck("peers", health.PeerHealthCheck(func() int { return len(dir.PeerIDs()) }, 0))
	// holdQueueCeiling is a heuristic, not a strict bound: Q_PER_USER caps
	// one user's queue, but the number of distinct users that could be
	// queued simultaneously is unbounded, so 50x one queue's depth stands
	// in for "the backlog has grown suspiciously large."
	holdQueueCeiling := cfg.Mesh.HoldQueueDepth * 50
	checker.RegisterCheck("mesh_pressure", health.MeshPressureCheck(
		r.DedupeLen, r.DedupeCapacity,
		r.HoldQueueTotal, func() int { return holdQueueCeiling },
	))
	checker.RegisterCheck("system", func(context.Context) error {
		if status := health.CheckResources(); status.Status == health.StatusUnhealthy {
			return fmt.Errorf("resource usage critical: mem %.1f%%, disk %.1f%%", status.MemoryPercent, status.DiskPercent)
		}
		return nil
	})
	if cfg.Health.Enabled {
		if _, err := health.StartServer(checker, log, cfg.Health.Addr, cfg.Health.Path); err != nil {
			log.Error("start health server", logger.Error(err))
		}
	}
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Addr); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server error", logger.Error(err))
			}
		}()
	}

	go func() {
		if err := maintainer.Run(ctx); err != nil {
			log.Error("mesh maintainer stopped", logger.Error(err))
		}
	}()

	log.Info("meshnode ready",
		logger.String("server_id", cfg.Node.ServerID),
		logger.String("listen", httpServer.Addr),
		logger.Int("bootstrap_peers", len(peers)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()

	g := new(errgroup.Group)
	for _, sid := range dir.PeerIDs() {
		if link, ok := dir.PeerLink(sid); ok {
			link := link.(*transport.Link)
			g.Go(func() error { return link.Close(1000, "shutdown") })
		}
	}
	for _, uid := range dir.LocalUserIDs() {
		if link, ok := dir.LocalUserLink(uid); ok {
			link := link.(*transport.Link)
			g.Go(func() error { return link.Close(1000, "shutdown") })
		}
	}
	_ = g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func buildStore(cfg *config.Config) (store.Directory, error) {
	if cfg.Store.Driver == "postgres" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return postgres.NewStore(ctx, &postgres.Config{
			Host:     cfg.Store.Host,
			Port:     cfg.Store.Port,
			User:     cfg.Store.User,
			Password: cfg.Store.Password,
			Database: cfg.Store.Database,
			SSLMode:  cfg.Store.SSLMode,
		})
	}
	return memory.NewStore(), nil
}

func parseBootstrapPeers(raw []string) []mesh.Peer {
	peers := make([]mesh.Peer, 0, len(raw))
	for _, p := range raw {
		parts := strings.SplitN(strings.TrimSpace(p), ":", 2)
		if len(parts) != 2 {
			continue
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		peers = append(peers, mesh.Peer{Host: parts[0], Port: port})
	}
	return peers
}
