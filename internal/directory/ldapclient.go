package directory

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"

	"github.com/calfed/itipd/internal/cache"
	"github.com/calfed/itipd/internal/config"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
)

var ErrUserNotFound = errors.New("user not found")

type Directory interface {
	Close()
	BindUser(ctx context.Context, username, password string) (*User, error)
	LookupUserByAttr(ctx context.Context, attr, value string) (*User, error)
	// LookupUserByAddress finds the user whose calendar-user-address-set
	// contains the given (normalized) address.
	LookupUserByAddress(ctx context.Context, addr string) (*User, error)
	UserSchedulingACL(ctx context.Context, user *User) ([]SchedulingACL, error)
	IntrospectToken(ctx context.Context, token, url, authHeader string) (bool, string, error)
}

type LDAPClient struct {
	cfg       config.LDAPConfig
	logger    zerolog.Logger
	conn      *ldap.Conn
	userCache *cache.Cache[string, *User]
	aclCache  *cache.Cache[string, []SchedulingACL]
}

func NewLDAPClient(cfg config.LDAPConfig, logger zerolog.Logger) (*LDAPClient, error) {
	l, err := dialLDAPAuto(cfg)
	if err != nil {
		logger.Error().Err(err).Str("url", cfg.URL).Msg("failed to dial LDAP")
		return nil, err
	}
	if cfg.BindDN != "" {
		if err := l.Bind(cfg.BindDN, cfg.BindPassword); err != nil {
			logger.Error().Err(err).Str("bind_dn", cfg.BindDN).Msg("initial bind failed")
			l.Close()
			return nil, err
		}
	}
	return &LDAPClient{
		cfg:       cfg,
		logger:    logger,
		conn:      l,
		userCache: cache.New[string, *User](cfg.CacheTTL),
		aclCache:  cache.New[string, []SchedulingACL](cfg.CacheTTL),
	}, nil
}

func (l *LDAPClient) Close() {
	if l.conn != nil {
		l.conn.Close()
	}
}

func (l *LDAPClient) BindUser(ctx context.Context, username, password string) (*User, error) {
	searchReq := ldap.NewSearchRequest(
		l.cfg.UserBaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, int(l.cfg.Timeout.Seconds()), false,
		fmt.Sprintf(l.cfg.UserFilter, ldap.EscapeFilter(username), ldap.EscapeFilter(username)),
		l.userAttrList(),
		nil,
	)
	res, err := l.conn.SearchWithPaging(searchReq, 1)
	if err != nil {
		l.logger.Error().Err(err).
			Str("user_base_dn", l.cfg.UserBaseDN).
			Str("username", username).
			Msg("LDAP search failed in BindUser")
		return nil, ErrUserNotFound
	}
	if len(res.Entries) == 0 {
		l.logger.Debug().Str("username", username).Msg("user not found in BindUser search")
		return nil, ErrUserNotFound
	}
	entry := res.Entries[0]

	userConn, err := dialLDAPAuto(l.cfg)
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to dial LDAP for user bind")
		return nil, err
	}
	defer userConn.Close()
	if err := userConn.Bind(entry.DN, password); err != nil {
		l.logger.Debug().Err(err).Str("user_dn", entry.DN).Msg("user bind failed")
		return nil, err
	}

	return l.entryToUser(entry), nil
}

func (l *LDAPClient) LookupUserByAttr(ctx context.Context, attr, value string) (*User, error) {
	attr = safeAttr(attr)
	key := attr + "\x00" + strings.ToLower(value)
	if u, ok := l.userCache.Get(key); ok {
		return u, nil
	}
	searchReq := ldap.NewSearchRequest(
		l.cfg.UserBaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, int(l.cfg.Timeout.Seconds()), false,
		fmt.Sprintf("(%s=%s)", attr, ldap.EscapeFilter(value)),
		l.userAttrList(),
		nil,
	)
	res, err := l.conn.Search(searchReq)
	if err != nil {
		l.logger.Error().Err(err).
			Str("attr", attr).
			Str("value", value).
			Msg("LDAP search failed in LookupUserByAttr")
		return nil, ErrUserNotFound
	}
	if len(res.Entries) == 0 {
		return nil, ErrUserNotFound
	}
	u := l.entryToUser(res.Entries[0])
	l.userCache.SetTTL(key, u)
	return u, nil
}

func (l *LDAPClient) LookupUserByAddress(ctx context.Context, addr string) (*User, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	// mail is the primary address; the addresses attribute holds the rest.
	if u, err := l.LookupUserByAttr(ctx, "mail", addr); err == nil {
		return u, nil
	}
	if l.cfg.AddressesAttr == "" {
		return nil, ErrUserNotFound
	}
	return l.LookupUserByAttr(ctx, l.cfg.AddressesAttr, addr)
}

// UserSchedulingACL computes scheduling grants from group entries the
// user belongs to. Each binding line has the shape
// "owner=<uid>;priv=schedule-send,schedule-deliver-invite,...".
func (l *LDAPClient) UserSchedulingACL(ctx context.Context, user *User) ([]SchedulingACL, error) {
	if v, ok := l.aclCache.Get(user.DN); ok {
		return v, nil
	}
	memFilter := fmt.Sprintf("(%s=%s)", safeAttr(l.cfg.MemberAttr), ldap.EscapeFilter(user.DN))
	search := ldap.NewSearchRequest(
		l.cfg.GroupBaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, int(l.cfg.Timeout.Seconds()), false,
		fmt.Sprintf("(&(objectClass=groupOfNames)%s)", memFilter),
		[]string{"dn", "cn", l.cfg.MemberAttr, l.cfg.SchedulingAttr},
		nil,
	)
	res, err := l.conn.Search(search)
	if err != nil {
		l.logger.Error().Err(err).
			Str("group_base_dn", l.cfg.GroupBaseDN).
			Str("user_dn", user.DN).
			Msg("LDAP search failed in UserSchedulingACL")
		return nil, err
	}
	var acls []SchedulingACL
	for _, e := range res.Entries {
		for _, line := range e.GetAttributeValues(l.cfg.SchedulingAttr) {
			acl := parseSchedulingBinding(line)
			if acl.OwnerUID != "" {
				acls = append(acls, acl)
			}
		}
	}
	l.aclCache.SetTTL(user.DN, acls)
	return acls, nil
}

func (l *LDAPClient) IntrospectToken(ctx context.Context, token, url, authHeader string) (bool, string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader("token="+token))
	if err != nil {
		return false, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		l.logger.Error().Err(err).Str("url", url).Msg("introspection HTTP request failed")
		return false, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return false, "", nil
	}
	var out struct {
		Active bool   `json:"active"`
		Sub    string `json:"sub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, "", err
	}
	username := strings.SplitN(out.Sub, "@", 2)[0]
	return out.Active, username, nil
}

func (l *LDAPClient) entryToUser(e *ldap.Entry) *User {
	var extra []string
	if l.cfg.AddressesAttr != "" {
		for _, v := range e.GetAttributeValues(l.cfg.AddressesAttr) {
			v = strings.ToLower(strings.TrimSpace(v))
			if v != "" {
				extra = append(extra, v)
			}
		}
	}
	home := ""
	if l.cfg.HomeServerAttr != "" {
		home = strings.TrimSpace(e.GetAttributeValue(l.cfg.HomeServerAttr))
	}
	return &User{
		UID:               firstNonEmpty(e.GetAttributeValue(l.cfg.TokenUserAttr), e.GetAttributeValue("mail")),
		DN:                e.DN,
		DisplayName:       firstNonEmpty(e.GetAttributeValue("displayName"), e.GetAttributeValue("cn")),
		Mail:              strings.ToLower(e.GetAttributeValue("mail")),
		CalendarAddresses: extra,
		HomeServer:        home,
	}
}

func parseSchedulingBinding(s string) SchedulingACL {
	acl := SchedulingACL{}
	for _, p := range strings.Split(s, ";") {
		kv := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.ToLower(strings.TrimSpace(kv[0]))
		v := strings.TrimSpace(kv[1])
		switch k {
		case "owner":
			acl.OwnerUID = v
		case "priv", "privileges":
			for _, t := range strings.Split(v, ",") {
				switch strings.ToLower(strings.TrimSpace(t)) {
				case "schedule-send":
					acl.ScheduleSend = true
				case "schedule-deliver-invite":
					acl.DeliverInvite = true
				case "schedule-deliver-reply":
					acl.DeliverReply = true
				case "schedule-query-freebusy", "read-free-busy":
					acl.QueryFreeBusy = true
				}
			}
		}
	}
	return acl
}

func (l *LDAPClient) userAttrList() []string {
	attrs := []string{"dn", "displayName", "mail", "uid", "cn"}
	for _, extra := range []string{l.cfg.TokenUserAttr, l.cfg.AddressesAttr, l.cfg.HomeServerAttr} {
		if extra != "" && !slices.Contains(attrs, extra) {
			attrs = append(attrs, extra)
		}
	}
	return attrs
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func safeAttr(a string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return -1
	}, a)
}

func dialLDAPAuto(cfg config.LDAPConfig) (*ldap.Conn, error) {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		return nil, errors.New("LDAP URL is empty")
	}

	isLDAPS := strings.HasPrefix(strings.ToLower(u), "ldaps://")
	isLDAP := strings.HasPrefix(strings.ToLower(u), "ldap://")
	if !isLDAP && !isLDAPS {
		return nil, errors.New("URL must start with ldap:// or ldaps://")
	}

	if isLDAPS {
		tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
		hostPort := strings.TrimPrefix(u, "ldaps://")
		if host, _, err := net.SplitHostPort(hostPort); err == nil && host != "" {
			tlsConfig.ServerName = host
		} else {
			tlsConfig.ServerName = hostPort
		}
		return ldap.DialURL(u, ldap.DialWithTLSConfig(tlsConfig))
	}

	conn, err := ldap.DialURL(u)
	if err != nil {
		return nil, err
	}
	if cfg.RequireTLS {
		tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
		hostPort := strings.TrimPrefix(u, "ldap://")
		if host, _, err := net.SplitHostPort(hostPort); err == nil && host != "" {
			tlsConfig.ServerName = host
		} else {
			tlsConfig.ServerName = hostPort
		}
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("StartTLS failed: %w", err)
		}
	}
	return conn, nil
}
