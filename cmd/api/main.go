package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pratyushraj/noticebazaar-sub012/internal/audit"
	"github.com/pratyushraj/noticebazaar-sub012/internal/config"
	"github.com/pratyushraj/noticebazaar-sub012/internal/httpapi"
	"github.com/pratyushraj/noticebazaar-sub012/internal/notify"
	"github.com/pratyushraj/noticebazaar-sub012/internal/obs"
	"github.com/pratyushraj/noticebazaar-sub012/internal/otp"
	"github.com/pratyushraj/noticebazaar-sub012/internal/signature"
	"github.com/pratyushraj/noticebazaar-sub012/internal/stream"
	"github.com/pratyushraj/noticebazaar-sub012/internal/sweep"
	"github.com/pratyushraj/noticebazaar-sub012/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Auth.Secret != "" {
		os.Setenv("NB_AUTH_SECRET", cfg.Auth.Secret)
	}

	var (
		db             *sql.DB
		tokenStore     token.Store
		otpStore       otp.Store
		signatureStore signature.Store
		auditStore     audit.Store
	)
	if cfg.Database.DSN != "" {
		db, err = sql.Open("pgx", cfg.Database.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)

		tokenStore = token.NewPGStore(db)
		otpStore = otp.NewPGStore(db)
		signatureStore = signature.NewPGStore(db)
		auditStore = audit.NewPGStore(db)
	} else {
		log.Print("NB_DATABASE_DSN not set, using in-memory stores")
		tokenStore = token.NewInMemory()
		otpStore = otp.NewInMemory()
		signatureStore = signature.NewInMemory()
		auditStore = audit.NewInMemory()
	}

	recorder := audit.NewRecorder(auditStore)
	dispatcher := notify.LogDispatcher{}
	events := stream.New()

	tokens := token.NewService(tokenStore, recorder, token.WithDispatcher(dispatcher))
	codes := otp.NewService(otpStore, recorder, otp.WithPolicy(cfg.OTP.TTL, cfg.OTP.MaxAttempts))
	workflow := signature.NewWorkflow(signatureStore, tokens, codes, recorder,
		signature.WithDispatcher(dispatcher), signature.WithEvents(events))

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweep.New(cfg.Sweep.Interval, tokens, codes).Run(sweepCtx)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, tokens, codes, workflow, recorder, events)
	api.SetRateLimit(cfg.RateLimit.Burst, cfg.RateLimit.PerSecond)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting noticebazaar-core %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
