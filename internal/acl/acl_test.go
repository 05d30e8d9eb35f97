package acl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calfed/itipd/internal/directory"
)

type staticDirectory struct {
	acls []directory.SchedulingACL
	err  error
}

func (d *staticDirectory) Close() {}

func (d *staticDirectory) BindUser(ctx context.Context, username, password string) (*directory.User, error) {
	return nil, errors.New("not supported")
}

func (d *staticDirectory) LookupUserByAttr(ctx context.Context, attr, value string) (*directory.User, error) {
	return nil, directory.ErrUserNotFound
}

func (d *staticDirectory) LookupUserByAddress(ctx context.Context, addr string) (*directory.User, error) {
	return nil, directory.ErrUserNotFound
}

func (d *staticDirectory) UserSchedulingACL(ctx context.Context, user *directory.User) ([]directory.SchedulingACL, error) {
	return d.acls, d.err
}

func (d *staticDirectory) IntrospectToken(ctx context.Context, token, url, authHeader string) (bool, string, error) {
	return false, "", nil
}

func TestEffectiveSelfHoldsEverything(t *testing.T) {
	p := NewLDAPACL(&staticDirectory{})
	eff, err := p.Effective(context.Background(), &directory.User{UID: "alice"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, PrivAll, eff.Privs)
	assert.True(t, eff.CanScheduleSend())
}

func TestEffectiveDefaultGrants(t *testing.T) {
	p := NewLDAPACL(&staticDirectory{})
	eff, err := p.Effective(context.Background(), &directory.User{UID: "bob"}, "alice")
	require.NoError(t, err)

	// RFC 6638 default inbox grants without schedule-send.
	assert.False(t, eff.CanScheduleSend())
	assert.True(t, eff.CanDeliver("REQUEST"))
	assert.True(t, eff.CanDeliver("REPLY"))
	assert.True(t, eff.CanQueryFreeBusy())
}

func TestEffectiveBindingGrantsScheduleSend(t *testing.T) {
	dir := &staticDirectory{acls: []directory.SchedulingACL{
		{OwnerUID: "carol", ScheduleSend: true},
		{OwnerUID: "alice", ScheduleSend: true},
	}}
	p := NewLDAPACL(dir)

	eff, err := p.Effective(context.Background(), &directory.User{UID: "bob"}, "alice")
	require.NoError(t, err)
	assert.True(t, eff.Has(PrivScheduleSend))

	// Bindings on another owner never leak.
	eff, err = p.Effective(context.Background(), &directory.User{UID: "bob"}, "dave")
	require.NoError(t, err)
	assert.False(t, eff.Has(PrivScheduleSend))
}

func TestEffectiveDirectoryError(t *testing.T) {
	p := NewLDAPACL(&staticDirectory{err: errors.New("ldap down")})
	_, err := p.Effective(context.Background(), &directory.User{UID: "bob"}, "alice")
	assert.Error(t, err)
}
