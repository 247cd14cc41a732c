package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/cwrk-planet/signaling-service/config"
	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/logger"
	"github.com/cwrk-planet/signaling-service/internal/postgres"
	"github.com/cwrk-planet/signaling-service/internal/registry"
	"github.com/cwrk-planet/signaling-service/internal/security"
	"github.com/cwrk-planet/signaling-service/internal/service"
	grpcx "github.com/cwrk-planet/signaling-service/internal/transport/grpc"
	httpx "github.com/cwrk-planet/signaling-service/internal/transport/http"
	httpmw "github.com/cwrk-planet/signaling-service/internal/transport/http/middleware"
	"github.com/cwrk-planet/signaling-service/internal/transport/ws"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     level,
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	shutdownTracing := logger.InitTracing()
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("tracing shutdown", "err", err)
		}
	}()
	slog.Info("starting signaling-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "auth", cfg.Auth.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- postgres (optional) ---
	var (
		store   service.Store
		archive httpx.Archive
		ready   func(context.Context) error
	)
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:               cfg.Postgres.DSN,
			MaxConns:          cfg.Postgres.MaxConns,
			MinConns:          cfg.Postgres.MinConns,
			MaxConnLifetime:   cfg.Postgres.MaxConnLifetime,
			MaxConnIdleTime:   cfg.Postgres.MaxConnIdleTime,
			HealthCheckPeriod: cfg.Postgres.HealthCheckPeriod,
			ApplicationName:   cfg.Postgres.ApplicationName,
		})
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		pg := postgres.NewStore(pool)
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			log.Fatalf("postgres migrate: %v", err)
		}
		store, archive, ready = pg, pg, pg.Ping
		slog.Info("postgres store enabled")
	} else {
		slog.Info("postgres store disabled, rooms live in memory only")
	}

	// --- auth ---
	auth, verifyOps := buildAuth(cfg.Auth)

	// --- core ---
	sig := cfg.Signaling
	reg := registry.New()
	rooms := service.NewRooms(reg, store, service.Options{
		MaxParticipants: sig.MaxParticipants,
		ChatRetention:   sig.ChatRetention,
		MaxMessageLen:   sig.MaxMessageLength,
		Bcrypt:          &security.BcryptConfig{Cost: sig.BcryptCost},
	})
	breakouts := service.NewBreakouts(rooms, sig.MaxBreakoutRooms)
	defer breakouts.Stop()

	wsServer := ws.NewServer(reg, rooms, ws.NewRouter(reg, rooms, breakouts, sig.StrictSDP), auth, ws.Options{
		SendQueue:      sig.SendQueue,
		WriteWait:      sig.WriteWait,
		PongWait:       sig.PongWait,
		ReadLimit:      sig.ReadLimit,
		RateLimit:      sig.RateLimit,
		RateBurst:      sig.RateBurst,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})
	if sig.RelayProfile {
		wsServer.WithRelay(ws.NewRelayHub())
	}

	// --- HTTP ---
	router := httpx.NewRouter(httpx.NewHandler(rooms, breakouts, archive), wsServer, auth, httpx.RouterOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Relay:          sig.RelayProfile,
		Ready:          ready,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	// --- gRPC ---
	var grpcServer *grpc.Server
	if cfg.GRPC.Addr != "" {
		grpcServer = grpcx.NewGRPCServer(verifyOps)
		grpcx.Register(grpcServer, grpcx.NewServer(wsServer, rooms))
	}

	// --- run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if grpcServer != nil {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.GRPC.Addr)
			if err != nil {
				return err
			}
			slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
			return grpcServer.Serve(lis)
		})
	}

	// --- graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		// websockets are hijacked and invisible to Shutdown
		reg.CloseAll()
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
	}
	slog.Info("stopped")
}

// buildAuth returns the connection authenticator and the token check of the
// gRPC introspection service.
func buildAuth(cfg config.Auth) (httpmw.Authenticator, func(token string) error) {
	if cfg.Mode == config.AuthModeDev {
		slog.Warn("auth: dev mode, identities are not verified")
		return httpmw.DevAuthenticator{}, nil
	}

	pub, err := security.LoadRSAPublicKeyFromPEM(cfg.PublicKeyPath)
	if err != nil {
		log.Fatalf("auth: load public key: %v", err)
	}
	verifier := security.NewJWTVerifier(pub, cfg.Issuer, cfg.Audience, cfg.ClockSkew)

	verifyOps := func(token string) error {
		claims, err := verifier.ParseAndValidate(token)
		if err != nil {
			return err
		}
		if !domain.ParseRole(claims.Role).Privileged() {
			return domain.ErrNotAuthorized
		}
		return nil
	}
	return httpmw.JWTAuthenticator{Verifier: verifier}, verifyOps
}
