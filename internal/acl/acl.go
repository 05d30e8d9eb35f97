package acl

import (
	"context"

	"github.com/calfed/itipd/internal/directory"
)

type Provider interface {
	// Effective computes the acting user's scheduling privileges on
	// ownerUID's Inbox/Outbox from directory group bindings. A user
	// always holds every privilege on their own collections.
	Effective(ctx context.Context, user *directory.User, ownerUID string) (Effective, error)
}

type LDAPACL struct {
	Dir directory.Directory
}

func NewLDAPACL(dir directory.Directory) *LDAPACL {
	return &LDAPACL{Dir: dir}
}

func (p *LDAPACL) Effective(ctx context.Context, user *directory.User, ownerUID string) (Effective, error) {
	if user.UID == ownerUID {
		return Effective{Privs: PrivAll}, nil
	}
	acls, err := p.Dir.UserSchedulingACL(ctx, user)
	if err != nil {
		return Effective{}, err
	}
	// Inbox delivery and busy-time queries default to any authenticated
	// user (RFC 6638 default ACL); schedule-send on someone else's
	// Outbox requires an explicit binding.
	e := Effective{Privs: PrivDeliverInvite | PrivDeliverReply | PrivQueryFreeBusy}
	for _, a := range acls {
		if a.OwnerUID != ownerUID {
			continue
		}
		if a.ScheduleSend {
			e.Privs |= PrivScheduleSend
		}
		if a.DeliverInvite {
			e.Privs |= PrivDeliverInvite
		}
		if a.DeliverReply {
			e.Privs |= PrivDeliverReply
		}
		if a.QueryFreeBusy {
			e.Privs |= PrivQueryFreeBusy
		}
	}
	return e, nil
}
