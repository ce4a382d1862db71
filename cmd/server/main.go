package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-session-server/family"
	"github.com/jrsteele09/go-session-server/family/redisrepo"
	"github.com/jrsteele09/go-session-server/family/repofake"
	"github.com/jrsteele09/go-session-server/instrumentation"
	"github.com/jrsteele09/go-session-server/internal/config"
	"github.com/jrsteele09/go-session-server/server"
	"github.com/jrsteele09/go-session-server/session"
	"github.com/jrsteele09/go-session-server/token"
	"github.com/jrsteele09/go-session-server/users"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatalf("Error running server: %s\n", err)
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Printf("Server stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	sessions, err := newSessionService(c)
	if err != nil {
		return fmt.Errorf("newSessionService: %w", err)
	}

	verifier, err := newVerifier(c)
	if err != nil {
		return fmt.Errorf("newVerifier: %w", err)
	}

	handler, err := server.New(c, sessions, verifier)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler}
	go listenAndServe(httpServer)
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

func newSessionService(c config.Config) (*session.Service, error) {
	accessSecret, err := tokenSecret(c, c.GetAccessTokenSecret(), "ACCESS_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}
	refreshSecret, err := tokenSecret(c, c.GetRefreshTokenSecret(), "REFRESH_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}

	accessSigner, err := token.NewHMACSigner(accessSecret)
	if err != nil {
		return nil, fmt.Errorf("access signer: %w", err)
	}
	refreshSigner, err := token.NewHMACSigner(refreshSecret)
	if err != nil {
		return nil, fmt.Errorf("refresh signer: %w", err)
	}

	codec, err := token.New(accessSigner, refreshSigner,
		token.WithTokenExpiry(c.GetAccessTokenExpiry(), c.GetRefreshTokenExpiry()),
		token.WithIssuer(c.GetBaseURL()),
	)
	if err != nil {
		return nil, fmt.Errorf("token.New: %w", err)
	}

	families, err := newFamilyRepo(c)
	if err != nil {
		return nil, err
	}

	metrics, err := instrumentation.NewMetrics(otel.Meter("go-session-server"))
	if err != nil {
		return nil, fmt.Errorf("instrumentation.NewMetrics: %w", err)
	}

	return session.NewService(codec, families,
		session.WithLogger(zlog.Logger),
		session.WithMetrics(metrics),
	)
}

// newFamilyRepo connects the Redis-backed family store. When no Redis
// address is configured, DEV falls back to the in-memory store so the
// server runs standalone; any other environment requires Redis.
func newFamilyRepo(c config.Config) (family.Repo, error) {
	if config.GetEnv("REDIS_ADDR", "") == "" {
		if c.GetEnv() != "DEV" {
			return nil, errors.New("REDIS_ADDR must be set outside DEV")
		}
		zlog.Warn().Msg("REDIS_ADDR not set, using in-memory family store")
		return repofake.NewFakeFamilyRepo(), nil
	}

	client := redis.NewClient(&redis.Options{Addr: c.GetRedisAddr()})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", c.GetRedisAddr(), err)
	}
	return redisrepo.NewFamilyRepo(client, c.GetRedisKeyPrefix(), c.GetRefreshTokenExpiry()), nil
}

// tokenSecret returns the configured secret. In DEV a missing secret is
// replaced with a random one so the server still starts, at the cost of
// invalidating all tokens on restart.
func tokenSecret(c config.Config, secret, envVar string) (string, error) {
	if secret != "" {
		return secret, nil
	}
	if c.GetEnv() != "DEV" {
		return "", fmt.Errorf("%s must be set outside DEV", envVar)
	}
	generated, err := randomHex(32)
	if err != nil {
		return "", err
	}
	zlog.Warn().Str("env_var", envVar).Msg("secret not set, generated a random one for this process")
	return generated, nil
}

// newVerifier wires the in-memory user store. In DEV it seeds a demo
// user with a generated password, logged once at startup.
func newVerifier(c config.Config) (users.Verifier, error) {
	repo := users.NewInMemoryRepo()

	if c.GetEnv() == "DEV" {
		password, err := randomHex(8)
		if err != nil {
			return nil, err
		}
		hash, err := users.HashPassword(password)
		if err != nil {
			return nil, fmt.Errorf("users.HashPassword: %w", err)
		}
		demo := &users.User{
			Email:        "demo@example.com",
			Username:     "demo",
			PasswordHash: hash,
		}
		if err := repo.Upsert(demo); err != nil {
			return nil, fmt.Errorf("seed demo user: %w", err)
		}
		zlog.Info().Str("email", demo.Email).Str("password", password).Msg("seeded demo user")
	}

	return users.NewAuthenticator(repo), nil
}

func randomHex(bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("rand.Read: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func listenAndServe(server *http.Server) error {
	log.Printf("Server listening on %s\n", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
