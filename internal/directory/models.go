package directory

type User struct {
	UID         string
	DN          string
	DisplayName string
	Mail        string
	// CalendarAddresses are additional entries of the user's
	// calendar-user-address-set beyond Mail.
	CalendarAddresses []string
	// HomeServer names the cluster node holding the user's calendar
	// home. Empty means this node.
	HomeServer string
}

// Addresses returns the full calendar-user-address-set.
func (u *User) Addresses() []string {
	if u.Mail == "" {
		return u.CalendarAddresses
	}
	return append([]string{u.Mail}, u.CalendarAddresses...)
}

// SchedulingACL grants a group privileges on one user's scheduling
// collections.
type SchedulingACL struct {
	OwnerUID string
	// privilege bits
	ScheduleSend  bool // post to the owner's Outbox
	DeliverInvite bool // deliver REQUEST/CANCEL/POLLSTATUS into the owner's Inbox
	DeliverReply  bool // deliver REPLY into the owner's Inbox
	QueryFreeBusy bool // read busy time from the owner's calendars
}
