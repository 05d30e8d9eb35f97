package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/calfed/itipd/internal/acl"
	"github.com/calfed/itipd/internal/auth"
	"github.com/calfed/itipd/internal/config"
	"github.com/calfed/itipd/internal/directory"
	"github.com/calfed/itipd/internal/imip"
	"github.com/calfed/itipd/internal/ischedule"
	"github.com/calfed/itipd/internal/router"
	"github.com/calfed/itipd/internal/sched"
	"github.com/calfed/itipd/internal/storage"
	"github.com/calfed/itipd/internal/storage/filestore"
	"github.com/calfed/itipd/internal/storage/postgres"
	"github.com/calfed/itipd/internal/storage/sqlite"
)

type Server struct {
	http   *http.Server
	logger zerolog.Logger
}

func NewServer(cfg *config.Config, logger zerolog.Logger) (*Server, func(), error) {
	// init storage
	var store storage.Store
	var err error

	switch cfg.Storage.Type {
	case "postgres":
		store, err = postgres.New(cfg.Storage.PostgresURL, logger)
	case "sqlite":
		store, err = sqlite.New(cfg.Storage.SQLitePath, logger)
	case "filestore":
		store, err = filestore.New(cfg.Storage.FileRoot, logger)
	default:
		err = errors.New("unknown storage type: " + cfg.Storage.Type)
	}
	if err != nil {
		return nil, nil, err
	}

	dir, err := directory.NewLDAPClient(cfg.LDAP, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	var signer *ischedule.Signer
	if cfg.DKIM.Domain != "" && cfg.DKIM.PrivateKeyPath != "" {
		signer, err = ischedule.NewSigner(cfg.DKIM.Domain, cfg.DKIM.Selector, cfg.DKIM.PrivateKeyPath)
		if err != nil {
			store.Close()
			dir.Close()
			return nil, nil, err
		}
	}

	imipSender, err := imip.New(cfg, logger)
	if err != nil {
		store.Close()
		dir.Close()
		return nil, nil, err
	}

	authn := auth.NewChain(cfg, dir, logger)
	engine := sched.NewEngine(
		cfg,
		store,
		dir,
		acl.NewLDAPACL(dir),
		imipSender,
		ischedule.NewClient(cfg.ISchedule, signer, logger),
		cfg.ICS.BuildProdID(),
		logger,
	)
	mux := router.New(cfg, engine, authn, dir, signer, logger)

	srv := &Server{
		http: &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
	cleanup := func() {
		store.Close()
		dir.Close()
	}
	logger.Info().Msgf("listening on %s (storage=%s)", cfg.HTTP.Addr, cfg.Storage.Type)
	return srv, cleanup, nil
}

func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
