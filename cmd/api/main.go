package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"keygate.org/internal/auth"
	"keygate.org/internal/authz"
	"keygate.org/internal/config"
	"keygate.org/internal/httpapi"
	"keygate.org/internal/obs"
)

var version = "0.3.1"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// Логгер ещё не настроен, пишем напрямую.
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	obs.InitLogging(cfg.LogLevel, cfg.LogPretty)
	obs.Init()
	obs.InitBuildInfo(version, "")

	var db *sql.DB
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open db")
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if db == nil {
		log.Fatal().Msg("KEYGATE_PG_DSN is required")
	}

	svc, err := auth.NewService(auth.NewPGStore(db), []byte(cfg.SigningKey),
		auth.WithIssuer(cfg.Issuer),
		auth.WithAudience(cfg.Audience),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithClockSkew(cfg.ClockSkew),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("auth service")
	}

	policies := authz.NewRegistry()
	registerPolicies(policies)

	api := httpapi.New(svc, policies, httpapi.ReadyProbe{DB: db}, version)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().Str("addr", srv.Addr).Str("version", version).Msg("starting keygate-api")

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	log.Info().Msg("stopped")
}

// registerPolicies wires the static authorization policies. Registration
// failures are startup bugs, hence MustRegister.
func registerPolicies(r *authz.Registry) {
	r.MustRegister(authz.Policy{
		Name:    "AdminOnly",
		Require: []authz.Requirement{{Kind: authz.KindRoleAny, Roles: []string{"admin"}}},
	})
	r.MustRegister(authz.Policy{
		Name:    "AdultsOnly",
		Require: []authz.Requirement{{Kind: authz.KindMinimumAge, MinAge: 18}},
	})
	r.MustRegister(authz.Policy{
		Name: "EngineeringDepartment",
		Require: []authz.Requirement{
			{Kind: authz.KindDepartmentIn, Departments: []string{"engineering", "platform"}},
		},
	})
	r.MustRegister(authz.Policy{
		Name: "BusinessHours",
		Require: []authz.Requirement{
			{Kind: authz.KindTimeWindow, WindowStart: 9 * 60, WindowEnd: 18 * 60},
		},
	})
	r.MustRegister(authz.Policy{
		Name: "AdultEngineerOnDuty",
		Require: []authz.Requirement{
			{Kind: authz.KindRoleAny, Roles: []string{"user", "admin"}},
			{Kind: authz.KindMinimumAge, MinAge: 18},
			{Kind: authz.KindDepartmentIn, Departments: []string{"engineering"}},
			{Kind: authz.KindTimeWindow, WindowStart: 9 * 60, WindowEnd: 18 * 60},
		},
	})
}
