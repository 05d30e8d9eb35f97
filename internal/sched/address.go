package sched

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/calfed/itipd/internal/config"
	"github.com/calfed/itipd/internal/directory"
	"github.com/calfed/itipd/pkg/ical"
)

// ErrNoUser reports an address inside a configured local domain with no
// matching directory entry.
var ErrNoUser = errors.New("no such calendar user")

type ResolutionKind int

const (
	KindSelf ResolutionKind = iota
	KindLocal
	KindClusterRemote
	KindExternal
)

func (k ResolutionKind) String() string {
	switch k {
	case KindSelf:
		return "self"
	case KindLocal:
		return "local"
	case KindClusterRemote:
		return "cluster-remote"
	default:
		return "external"
	}
}

// Resolution classifies one calendar user address. User is populated for
// self, local and cluster-remote kinds; Server and Port only for
// cluster-remote.
type Resolution struct {
	Kind    ResolutionKind
	Address string
	User    *directory.User
	Server  string
	Port    int
}

type Resolver struct {
	cfg *config.Config
	dir directory.Directory
}

func NewResolver(cfg *config.Config, dir directory.Directory) *Resolver {
	return &Resolver{cfg: cfg, dir: dir}
}

// Resolve normalizes addr and classifies it relative to actingUser and
// this deployment. actingUser may be nil for unauthenticated inbound
// paths.
func (r *Resolver) Resolve(ctx context.Context, addr string, actingUser *directory.User) (*Resolution, error) {
	norm := ical.NormalizeAddress(addr)
	if norm == "" {
		return nil, errors.New("empty calendar address")
	}

	if actingUser != nil {
		for _, own := range actingUser.Addresses() {
			if own == norm {
				return &Resolution{Kind: KindSelf, Address: norm, User: actingUser}, nil
			}
		}
	}

	domain := ""
	if i := strings.LastIndex(norm, "@"); i >= 0 {
		domain = norm[i+1:]
	}

	if domain != "" && len(r.cfg.Scheduling.LocalDomains) > 0 && !r.isLocalDomain(domain) {
		return &Resolution{Kind: KindExternal, Address: norm}, nil
	}

	user, err := r.dir.LookupUserByAddress(ctx, norm)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			if domain == "" || r.isLocalDomain(domain) {
				return nil, ErrNoUser
			}
			return &Resolution{Kind: KindExternal, Address: norm}, nil
		}
		return nil, err
	}

	if user.HomeServer == "" || hostOf(user.HomeServer) == r.cfg.Scheduling.ServerName {
		return &Resolution{Kind: KindLocal, Address: norm, User: user}, nil
	}

	server, port := hostOf(user.HomeServer), r.cfg.ISchedule.PeerPort
	if _, p, ok := strings.Cut(user.HomeServer, ":"); ok {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return &Resolution{Kind: KindClusterRemote, Address: norm, User: user, Server: server, Port: port}, nil
}

func (r *Resolver) isLocalDomain(domain string) bool {
	for _, d := range r.cfg.Scheduling.LocalDomains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

func hostOf(s string) string {
	host, _, ok := strings.Cut(s, ":")
	if ok {
		return host
	}
	return s
}
