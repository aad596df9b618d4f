package core

// AccountPerspective states how a raw account reference relates to the
// viewing user. The storage layer constructs one per record while joining
// synchronization links, so the "a link is only attached when the account is
// not viewer-owned" rule is encoded at construction instead of being an
// unchecked convention every caller has to remember.
type AccountPerspective struct {
	accountID int64
	sync      *AccountSynchronization
}

// OwnedDirectly marks an account that already belongs to the viewing user;
// resolution is the identity with sign +1.
func OwnedDirectly(accountID int64) AccountPerspective {
	return AccountPerspective{accountID: accountID}
}

// Redirected marks an account owned by the synchronization partner. The raw
// id must be one side of the link; resolution yields the other side.
func Redirected(rawAccountID int64, sync AccountSynchronization) AccountPerspective {
	return AccountPerspective{accountID: rawAccountID, sync: &sync}
}

// Resolve returns the account id as seen by the viewer and the sign to apply
// to any amount the record carries.
func (p AccountPerspective) Resolve() (accountID int64, sign int64) {
	if p.sync == nil {
		return p.accountID, 1
	}
	return p.sync.Other(p.accountID), p.sync.Sign()
}

// Synced reports whether the record is viewed across a synchronization link.
// A synced record is viewer-attributable by construction: the redirected
// account necessarily belongs to the viewer.
func (p AccountPerspective) Synced() bool {
	return p.sync != nil
}

// Synchronization returns a copy of the underlying link, if any.
func (p AccountPerspective) Synchronization() *AccountSynchronization {
	if p.sync == nil {
		return nil
	}
	s := *p.sync
	return &s
}
