package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/mesh"
	"voxelflow.ai/internal/metrics"
	"voxelflow.ai/internal/orchestrator"
	"voxelflow.ai/internal/ownership"
	"voxelflow.ai/internal/persistence/chunkstore"
	"voxelflow.ai/internal/persistence/journal"
	"voxelflow.ai/internal/pipeline"
	"voxelflow.ai/internal/streaming"
	"voxelflow.ai/internal/terrain/gen"
	"voxelflow.ai/internal/transport/ws"
	"voxelflow.ai/internal/tuning"
	"voxelflow.ai/internal/voxel"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml or tuning.toml (missing file: defaults)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		nodeID     = flag.String("node", "node-1", "this node's id")
		nodes      = flag.String("nodes", "", "comma-separated ids of every node sharing the world (default: just -node)")
		viewers    = flag.String("viewers", "0,24,0", "semicolon-separated x,y,z positions to stream chunks around")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}
	points, err := parseViewers(*viewers)
	if err != nil {
		logger.Fatalf("viewers: %v", err)
	}

	reg := voxel.DefaultRegistry()
	if tune.BlocksPath != "" {
		if reg, err = voxel.LoadRegistry(tune.BlocksPath); err != nil {
			logger.Fatalf("load blocks: %v", err)
		}
	}
	generator, err := gen.New(gen.DefaultConfig(tune.Seed), reg)
	if err != nil {
		logger.Fatalf("generator: %v", err)
	}

	storePath := tune.Store.Path
	if storePath == "" {
		storePath = filepath.Join(*dataDir, "chunks")
	}
	store, err := chunkstore.Open(tune.Store.Backend, storePath)
	if err != nil {
		logger.Fatalf("open chunk store: %v", err)
	}
	defer store.Close()

	var events orchestrator.EventSink
	if tune.JournalDir != "" {
		j := journal.Open(tune.JournalDir)
		defer j.Close()
		events = j
	}

	topo := chunk.Flat{BoundaryR: tune.BoundaryR, VerticalLimit: tune.VerticalLimit, MinY: tune.MinY, MaxY: tune.MaxY}
	pool := pipeline.NewPool(pipeline.Config{
		Workers:     tune.Workers,
		MaxInFlight: tune.MaxInFlight,
		Runner: pipeline.Stages{
			Generator: generator,
			Mesher:    mesh.Culling{Registry: reg},
			Loader:    store,
		},
		Logger: logger,
	})
	saver := chunkstore.NewSaver(chunkstore.SaverConfig{
		Store:   store,
		Workers: 2,
		Retries: tune.SaveRetries,
		Backoff: tune.SaveRetryBackoff(),
		Logger:  logger,
	})
	orch, err := orchestrator.New(orchestrator.Config{
		ChunkSize:            tune.ChunkSize,
		Topology:             topo,
		Pool:                 pool,
		Saver:                saver,
		GenerationBudget:     tune.GenerationBudget(),
		MeshingBudget:        tune.MeshingBudget(),
		EmergencyFactor:      tune.Budgets.EmergencyFactor,
		MaxTaskRetries:       tune.MaxTaskRetries,
		DiagonalInvalidation: tune.DiagonalInvalidation,
		Logger:               logger,
		Events:               events,
	})
	if err != nil {
		logger.Fatalf("orchestrator: %v", err)
	}

	members := []string{*nodeID}
	if strings.TrimSpace(*nodes) != "" {
		members = splitList(*nodes)
	}
	if !contains(members, *nodeID) {
		logger.Fatalf("node %q is not in -nodes %v", *nodeID, members)
	}
	dir := ownership.NewDirectory(members...)

	wsSrv, err := ws.NewServer(ws.ServerConfig{
		World:          orch,
		Registry:       reg,
		ChunkSize:      tune.ChunkSize,
		NodeID:         *nodeID,
		Directory:      dir,
		EditRatePerSec: tune.EditRatePerSec,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatalf("ws server: %v", err)
	}

	mreg := metrics.NewRegistry(metrics.Sources{
		Orchestrator: orch.Stats,
		Pool:         pool.Stats,
		Saver:        saver.Stats,
		Connections:  wsSrv.Connections,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler(mreg))
	mux.HandleFunc("/v1/chunks", wsSrv.Handler())
	if envBool("VF_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (VF_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	loop := &tickLoop{
		orch:     orch,
		policy:   streaming.RadiusPolicy{ChunkSize: tune.ChunkSize, LoadRadius: tune.LoadRadius, UnloadRadius: tune.UnloadRadius, Topology: topo},
		dir:      dir,
		node:     *nodeID,
		viewers:  points,
		interval: tune.TickInterval(),
		logger:   logger,
	}
	g.Go(func() error { return loop.run(ctx) })
	g.Go(func() error {
		logger.Printf("listening on %s node=%s nodes=%v chunk_size=%d store=%s", *addr, *nodeID, dir.Nodes(), tune.ChunkSize, tune.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	if err := g.Wait(); err != nil {
		logger.Fatalf("server: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
