// Command server runs the design control engine. main wires dependencies
// and owns the process lifecycle; business logic lives in the internal
// service packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	approvalhandler "dhfcore/internal/approval/handler"
	approvalmetrics "dhfcore/internal/approval/metrics"
	approvalservice "dhfcore/internal/approval/service"
	approvalmemory "dhfcore/internal/approval/store/memory"
	approvalpg "dhfcore/internal/approval/store/postgres"
	"dhfcore/internal/audittrail"
	audithandler "dhfcore/internal/audittrail/handler"
	auditmetrics "dhfcore/internal/audittrail/metrics"
	"dhfcore/internal/audittrail/outbox"
	auditmemory "dhfcore/internal/audittrail/store/memory"
	auditpg "dhfcore/internal/audittrail/store/postgres"
	phasehandler "dhfcore/internal/phasegate/handler"
	phasemetrics "dhfcore/internal/phasegate/metrics"
	phaseservice "dhfcore/internal/phasegate/service"
	phasememory "dhfcore/internal/phasegate/store/memory"
	phasepg "dhfcore/internal/phasegate/store/postgres"
	"dhfcore/internal/platform/config"
	"dhfcore/internal/platform/httpserver"
	"dhfcore/internal/platform/logger"
	platformmetrics "dhfcore/internal/platform/metrics"
	"dhfcore/internal/platform/middleware"
	platformredis "dhfcore/internal/platform/redis"
	projecthandler "dhfcore/internal/project/handler"
	projectservice "dhfcore/internal/project/service"
	projectmemory "dhfcore/internal/project/store/memory"
	projectpg "dhfcore/internal/project/store/postgres"
	tracecache "dhfcore/internal/traceability/cache"
	tracehandler "dhfcore/internal/traceability/handler"
	tracemetrics "dhfcore/internal/traceability/metrics"
	traceservice "dhfcore/internal/traceability/service"
	tracememory "dhfcore/internal/traceability/store/memory"
	tracepg "dhfcore/internal/traceability/store/postgres"
	httptransport "dhfcore/internal/transport/http"
)

func main() {
	_ = godotenv.Load()

	cfg := config.FromEnv()
	log := logger.New()

	var (
		db  *sql.DB
		err error
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		if err := db.Ping(); err != nil {
			log.Error("database unreachable", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	// Stores: postgres when DATABASE_URL is set, in-memory otherwise.
	var (
		phaseStore    phaseservice.PhaseStore
		instanceStore interface {
			phaseservice.InstanceStore
			approvalservice.InstanceStore
		}
		reviewStore   approvalservice.ReviewStore
		artifactStore traceservice.ArtifactStore
		linkStore     traceservice.LinkStore
		projectStore  projectservice.Store
		auditStore    audittrail.Store
		projectTx     phaseservice.ProjectTx
	)
	if db != nil {
		phaseStore = phasepg.NewPhaseStore(db)
		instanceStore = phasepg.NewInstanceStore(db)
		reviewStore = approvalpg.New(db)
		artifactStore = tracepg.NewArtifactStore(db)
		linkStore = tracepg.NewLinkStore(db)
		projectStore = projectpg.New(db)
		auditStore = auditpg.New(db)
		projectTx = newProjectPostgresTx(db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		phaseStore = phasememory.NewPhaseStore()
		instanceStore = phasememory.NewInstanceStore()
		reviewStore = approvalmemory.New()
		artifactStore = tracememory.NewArtifactStore()
		linkStore = tracememory.NewLinkStore()
		projectStore = projectmemory.New()
		auditStore = auditmemory.New()
		projectTx = phaseservice.NewMemoryProjectTx()
	}

	auditMetrics := auditmetrics.New()
	recorder := audittrail.NewRecorder(auditStore,
		audittrail.WithLogger(log),
		audittrail.WithMetrics(auditMetrics),
	)

	traceOpts := []traceservice.Option{
		traceservice.WithLogger(log),
		traceservice.WithMetrics(tracemetrics.New()),
	}
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		traceOpts = append(traceOpts,
			traceservice.WithGraphCache(tracecache.New(redisClient.Client, cfg.Redis.GraphTTL, log)))
	}
	traceSvc := traceservice.New(artifactStore, linkStore, recorder, projectTx, traceOpts...)

	phaseOpts := []phaseservice.Option{
		phaseservice.WithLogger(log),
		phaseservice.WithMetrics(phasemetrics.New()),
	}
	if !cfg.StrictSinglePhase {
		phaseOpts = append(phaseOpts, phaseservice.WithRelaxedSequencing())
	}
	phaseSvc := phaseservice.New(phaseStore, instanceStore, traceSvc, recorder, projectTx, phaseOpts...)

	approvalSvc := approvalservice.New(
		instanceStore, phaseStore, reviewStore, recorder,
		approvalservice.NewRoleAuthorizer("approver"), projectTx,
		approvalservice.WithLogger(log),
		approvalservice.WithMetrics(approvalmetrics.New()),
	)
	projectSvc := projectservice.New(projectStore, phaseSvc, recorder, projectTx,
		projectservice.WithLogger(log))

	router := httptransport.NewRouter(
		log,
		platformmetrics.New(),
		middleware.NewJWTValidator(cfg.JWTSigningKey),
		projecthandler.New(projectSvc, log),
		phasehandler.New(phaseSvc, log),
		approvalhandler.New(approvalSvc, log),
		tracehandler.New(traceSvc, log),
		audithandler.New(recorder, log),
	)
	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting design control engine", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if db != nil && len(cfg.Kafka.Brokers) > 0 {
		kafkaClient, err := outbox.NewKafkaClient(cfg.Kafka.Brokers)
		if err != nil {
			log.Error("failed to connect to kafka", "error", err)
			os.Exit(1)
		}
		defer kafkaClient.Close()
		worker := outbox.NewWorker(db, kafkaClient, cfg.Kafka.AuditTopic, cfg.Kafka.PollInterval, log, auditMetrics)
		g.Go(func() error {
			return worker.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
