package router

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/calfed/itipd/internal/auth"
	"github.com/calfed/itipd/internal/config"
	"github.com/calfed/itipd/internal/directory"
	"github.com/calfed/itipd/internal/ischedule"
	"github.com/calfed/itipd/internal/sched"
)

type Router struct {
	config *config.Config
	engine *sched.Engine
	auth   *auth.Chain
	dir    directory.Directory
	signer *ischedule.Signer
	logger zerolog.Logger
}

func New(cfg *config.Config, engine *sched.Engine, authn *auth.Chain, dir directory.Directory, signer *ischedule.Signer, logger zerolog.Logger) http.Handler {
	r := &Router{
		config: cfg,
		engine: engine,
		auth:   authn,
		dir:    dir,
		signer: signer,
		logger: logger,
	}
	return r.setupRoutes()
}

func (r *Router) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(ischedule.WellKnownPath, r.logged(r.handleISchedule))
	mux.HandleFunc("/.well-known/domainkey/", r.logged(r.handleDomainKey))
	mux.HandleFunc("/healthz", r.handleHealth)

	base := r.getBasePath()
	mux.HandleFunc(base+"outbox/", r.logged(r.requireUser(r.handleOutbox)))
	mux.HandleFunc(base+"freebusy/", r.logged(r.requireUser(r.handleFreeBusy)))

	return mux
}

func (r *Router) getBasePath() string {
	base := r.config.HTTP.BasePath
	if base == "" || base[0] != '/' {
		base = "/sched"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// userHandler receives the resolved directory entry of the
// authenticated principal.
type userHandler func(http.ResponseWriter, *http.Request, *directory.User)

func (r *Router) requireUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		p, err := r.authenticate(req)
		if err != nil || p == nil {
			r.logAttempt(req, err)
			w.Header().Set("WWW-Authenticate", `Basic realm="Scheduling", charset="UTF-8"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		user, err := r.dir.LookupUserByAttr(req.Context(), "uid", p.UserID)
		if err != nil {
			r.logger.Warn().Err(err).Str("user", p.UserID).Msg("authenticated principal has no directory entry")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		req = req.WithContext(auth.WithPrincipal(req.Context(), p))
		next(w, req, user)
	}
}

func (r *Router) authenticate(req *http.Request) (*auth.Principal, error) {
	authz := req.Header.Get("Authorization")
	lower := strings.ToLower(authz)

	// Prefer Bearer if present and enabled
	if strings.HasPrefix(lower, "bearer ") && r.auth.BearerEnabled() {
		return r.auth.BearerAuthenticate(req.Context(), strings.TrimSpace(authz[7:]))
	}

	if r.auth.BasicEnabled() {
		return r.auth.BasicAuthenticate(req.Context(), authz)
	}

	return nil, errors.New("no auth")
}

func (r *Router) logAttempt(req *http.Request, authErr error) {
	authz := req.Header.Get("Authorization")
	authType := ""
	if i := strings.IndexByte(authz, ' '); i > 0 {
		authType = strings.ToLower(authz[:i])
	}

	logEvent := r.logger.Info().
		Bool("auth_success", false).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("ip", realIP(req)).
		Str("user_agent", req.Header.Get("User-Agent")).
		Str("auth_type", authType)

	if authErr != nil {
		logEvent = logEvent.Str("error", authErr.Error())
	}

	logEvent.Msg("auth attempt")
}
