package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"storefront-auth/config"
	"storefront-auth/internal/database"
	"storefront-auth/internal/handler"
	"storefront-auth/internal/middleware"
	"storefront-auth/internal/repository"
	"storefront-auth/internal/service"
	"storefront-auth/pkg/email"
	"storefront-auth/pkg/ratelimit"
	"storefront-auth/pkg/security"

	"github.com/gorilla/csrf"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Application struct {
	Router         *mux.Router
	Handler        http.Handler
	Config         *config.Config
	Logger         *zap.Logger
	DBManager      *database.Manager
	Redis          redis.UniversalClient
	Limiter        ratelimit.Limiter
	Proxies        middleware.TrustedProxies
	Verification   *service.VerificationService
	AuthHandler    *handler.AuthHandler
	AuthMiddleware *middleware.AuthMiddleware
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	app := &Application{
		Router: mux.NewRouter(),
		Config: cfg,
		Logger: logger,
	}

	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	app.Proxies = proxies

	userRepository, otpRepository, err := app.setupStore(ctx)
	if err != nil {
		return nil, err
	}

	app.setupLimiter(ctx)

	sender, err := newEmailSender(cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Verification = service.NewVerificationService(
		otpRepository,
		sender,
		security.NewOTPGenerator(),
		security.NewCodeHasher([]byte(cfg.OTPSecret)),
		app.Limiter,
		logger,
		service.VerificationConfig{
			TTL:         cfg.OTPTTL,
			MaxAttempts: cfg.OTPMaxAttempts,
			IssueLimit:  cfg.OTPIssueLimit,
			IssueWindow: cfg.OTPIssueWindow,
		},
	)
	identity := service.NewIdentityService(
		userRepository,
		app.Verification,
		security.NewPasswordHasher(cfg.BcryptCost),
		logger,
		service.IdentityOptions{
			ExposeDevCodes:     cfg.ExposeDevOTP(),
			ResetResponseFloor: cfg.ResetResponseFloor,
		},
	)

	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}

	app.AuthMiddleware = middleware.NewAuthMiddleware(sessionStore)
	app.AuthHandler = handler.NewAuthHandler(identity, app.AuthMiddleware, logger)

	app.setupMiddleware()
	app.setupRoutes()
	app.Handler = app.wrap(app.Router)

	if cfg.ExposeDevOTP() {
		logger.Warn("devOtp is exposed in API responses", zap.String("environment", cfg.Environment))
	}

	return app, nil
}

func (a *Application) setupStore(ctx context.Context) (repository.UserRepository, repository.OTPRepository, error) {
	if a.Config.StoreDriver == config.StoreDriverMemory {
		a.Logger.Info("using in-memory store; data is lost on restart")
		return repository.NewMemoryUserRepository(), repository.NewMemoryOTPRepository(), nil
	}

	dbManager, err := database.NewManager(ctx, database.Config{
		ConnectionString: a.Config.DatabaseURL,
		Host:             a.Config.DBHost,
		Port:             a.Config.DBPort,
		User:             a.Config.DBUser,
		Password:         a.Config.DBPassword,
		DBName:           a.Config.DBName,
		SSLMode:          a.Config.DBSSLMode,
	}, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	a.DBManager = dbManager

	db := dbManager.GetDB()
	return repository.NewUserRepository(db), repository.NewOTPRepository(db), nil
}

// setupLimiter prefers redis so limits hold across replicas. An unreachable
// redis at boot falls back to the in-process limiter.
func (a *Application) setupLimiter(ctx context.Context) {
	if a.Config.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     a.Config.RedisAddr,
			Password: a.Config.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			a.Logger.Warn("redis unavailable, using in-memory rate limiter", zap.String("addr", a.Config.RedisAddr), zap.Error(err))
			_ = client.Close()
		} else {
			a.Redis = client
			a.Limiter = ratelimit.NewRedisLimiter(client, "storefront-auth:")
			return
		}
	}
	a.Limiter = ratelimit.NewMemoryLimiter()
}

func newEmailSender(cfg *config.Config, logger *zap.Logger) (email.Service, error) {
	switch cfg.EmailProvider {
	case config.EmailProviderResend:
		return email.NewResendService(cfg.ResendAPIKey, cfg.EmailFrom, logger)
	case config.EmailProviderSMTP:
		return email.NewSMTPService(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.EmailFrom,
		}, logger)
	}
	return email.NewLogService(logger), nil
}

func (a *Application) setupMiddleware() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(securityHeadersMiddleware(a.Config.IsProduction()))
	a.Router.Use(middleware.RateLimit(a.Limiter, a.Config.RequestLimit, a.Config.RequestWindow, a.Proxies, a.Logger))

	if a.Config.IsProduction() {
		csrfOptions := []csrf.Option{
			csrf.Secure(true),
			csrf.HttpOnly(true),
			csrf.Path("/"),
			csrf.SameSite(csrf.SameSiteLaxMode),
			csrf.ErrorHandler(http.HandlerFunc(csrfFailure)),
		}
		if a.Config.AppURL != "" {
			csrfOptions = append(csrfOptions, csrf.TrustedOrigins([]string{a.Config.AppURL}))
		}
		a.Router.Use(csrf.Protect([]byte(a.Config.CSRFSecret), csrfOptions...))
		a.Logger.Info("csrf protection enabled", zap.String("trusted_origin", a.Config.AppURL))
	} else {
		a.Logger.Info("csrf protection disabled outside production")
	}
}

// wrap adds the outer layers that must also see unmatched routes.
func (a *Application) wrap(h http.Handler) http.Handler {
	if len(a.Config.CORSOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(a.Config.CORSOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", "X-CSRF-Token", middleware.RequestIDHeader}),
			handlers.AllowCredentials(),
		)(h)
	}
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(!a.Config.IsProduction()))(h)
	return handlers.CombinedLoggingHandler(os.Stdout, h)
}

func csrfFailure(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"success":false,"error":{"code":"Forbidden","message":"Invalid or missing CSRF token."}}`))
}

func securityHeadersMiddleware(isProduction bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

			if isProduction {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (a *Application) setupRoutes() {
	a.Router.HandleFunc("/healthz", a.health).Methods(http.MethodGet)

	auth := a.Router.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/csrf", a.AuthHandler.CSRFToken).Methods(http.MethodGet)
	auth.HandleFunc("/send-otp", a.AuthHandler.SendOTP).Methods(http.MethodPost)
	auth.HandleFunc("/verify-otp", a.AuthHandler.VerifyOTP).Methods(http.MethodPost)
	auth.HandleFunc("/otp-status", a.AuthHandler.OTPStatus).Methods(http.MethodGet)
	auth.HandleFunc("/signup-with-otp", a.AuthHandler.SignupWithOTP).Methods(http.MethodPost)
	auth.HandleFunc("/forgot-password", a.AuthHandler.ForgotPassword).Methods(http.MethodPost)
	auth.HandleFunc("/reset-password", a.AuthHandler.ResetPassword).Methods(http.MethodPost)
	auth.HandleFunc("/logout", a.AuthHandler.Logout).Methods(http.MethodPost)
	auth.Handle("/me", a.AuthMiddleware.RequireAuth(http.HandlerFunc(a.AuthHandler.Me))).Methods(http.MethodGet)
}

func (a *Application) health(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if a.DBManager != nil {
		if err := a.DBManager.GetDB().PingContext(r.Context()); err != nil {
			a.Logger.Error("health check failed", zap.Error(err))
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"status":"` + status + `"}`))
}

func (a *Application) Close() error {
	var errs []error
	if a.Verification != nil {
		a.Verification.Wait()
	}
	if closer, ok := a.Limiter.(*ratelimit.MemoryLimiter); ok {
		closer.Close()
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DBManager != nil {
		errs = append(errs, a.DBManager.Close())
	}
	return errors.Join(errs...)
}
