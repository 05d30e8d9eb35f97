package acl

// Priv is a scheduling privilege bit.
type Priv uint32

const (
	PrivScheduleSend Priv = 1 << iota
	PrivDeliverInvite
	PrivDeliverReply
	PrivQueryFreeBusy
	PrivAll = PrivScheduleSend | PrivDeliverInvite | PrivDeliverReply | PrivQueryFreeBusy
)

// Effective is the computed privilege set of a user on another user's
// scheduling collections.
type Effective struct {
	Privs Priv
}

// Has reports whether every bit of p is granted.
func (e Effective) Has(p Priv) bool {
	return e.Privs&p == p
}

// CanScheduleSend gates posting to the owner's Scheduling Outbox.
func (e Effective) CanScheduleSend() bool {
	return e.Has(PrivScheduleSend)
}

// CanDeliver gates writing a method into the owner's Scheduling Inbox.
func (e Effective) CanDeliver(method string) bool {
	if method == "REPLY" {
		return e.Has(PrivDeliverReply)
	}
	return e.Has(PrivDeliverInvite)
}

func (e Effective) CanQueryFreeBusy() bool {
	return e.Has(PrivQueryFreeBusy)
}
