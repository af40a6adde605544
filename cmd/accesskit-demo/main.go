// Command accesskit-demo serves the course-view API backed by the entitlement sync
// controller. Redis and Postgres are optional; without them everything stays in memory.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	accessgin "github.com/PaulFidika/accesskit/adapters/gin"
	"github.com/PaulFidika/accesskit/core"
	"github.com/PaulFidika/accesskit/identity"
	jwtkit "github.com/PaulFidika/accesskit/jwt"
	memorylimiter "github.com/PaulFidika/accesskit/ratelimit/memory"
	redislimiter "github.com/PaulFidika/accesskit/ratelimit/redis"
	redisstore "github.com/PaulFidika/accesskit/storage/redis"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	v := loadConfig()

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(v.GetString("log.level")); err == nil {
		log.SetLevel(lvl)
	}
	if v.GetBool("log.json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := accessgin.HostDeps{
		Auditor: core.LogAuditor{Log: log},
		Log:     log,
		Limiter: memorylimiter.New(limits(v)),
	}

	if addr := v.GetString("redis.addr"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Fatal("redis unreachable")
		}
		prefix := v.GetString("redis.prefix")
		deps.Backend = redisstore.NewKV(rdb, prefix, v.GetDuration("redis.intent_ttl"))
		deps.Redis = rdb
		rl := make(map[string]redislimiter.Limit)
		for bucket, l := range limits(v) {
			rl[bucket] = redislimiter.Limit{Limit: l.Limit, Window: l.Window}
		}
		deps.Limiter = redislimiter.New(rdb, prefix+"rl:", rl)
		log.WithField("addr", addr).Info("using redis for intents, events and rate limits")
	}

	if dsn := v.GetString("postgres.dsn"); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.WithError(err).Fatal("postgres pool")
		}
		defer pool.Close()
		if v.GetBool("postgres.migrate") {
			if schema := v.GetString("postgres.schema"); schema != "profiles" {
				log.WithField("schema", schema).Warn("migrations only create the profiles schema")
			}
			if err := migrateUp(ctx, pool, log); err != nil {
				log.WithError(err).Fatal("postgres migrations")
			}
		}
		deps.Profiles = identity.NewStore(pool, v.GetString("postgres.schema"))
		log.Info("loading profiles from postgres")
	}

	host := accessgin.NewHost(controllerConfig(v), deps)

	sweeper, err := core.NewSweeper(host.Stores, sweeperConfig(v), log)
	if err != nil {
		log.WithError(err).Fatal("sweeper schedule")
	}
	sweeper.Start()

	secret := []byte(v.GetString("jwt.secret"))
	var vopts []jwtkit.VerifierOption
	if iss := v.GetString("jwt.issuer"); iss != "" {
		vopts = append(vopts, jwtkit.WithIssuer(iss))
	}
	printDevToken(ctx, log, secret, v.GetString("jwt.dev_user"), v.GetString("jwt.issuer"))

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	accessgin.Register(r, host, jwtkit.NewHMACVerifier(secret, vopts...), nil)

	srv := &http.Server{Addr: v.GetString("http.addr"), Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	sweeper.Stop(shutdownCtx)
	if err := host.Close(shutdownCtx); err != nil {
		log.WithError(err).Error("host shutdown")
	}
}

// printDevToken logs a bearer token for user so the API can be tried with curl.
func printDevToken(ctx context.Context, log logrus.FieldLogger, secret []byte, user, issuer string) {
	if user == "" {
		return
	}
	uid, err := uuid.Parse(user)
	if err != nil {
		log.WithError(err).Warn("jwt.dev_user is not a uuid")
		return
	}
	signer, err := jwtkit.NewHMACSigner(secret)
	if err != nil {
		log.WithError(err).Warn("dev token")
		return
	}
	claims := jwtkit.Claims{RegisteredClaims: jwtkit.BaseRegisteredClaims(uid.String(), nil, 24*time.Hour)}
	claims.Issuer = issuer
	tok, err := signer.Sign(ctx, claims)
	if err != nil {
		log.WithError(err).Warn("dev token")
		return
	}
	log.WithField("user_id", uid.String()).Infof("dev token: %s", tok)
}
