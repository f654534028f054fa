package permissions

// Identities holds the operator allow-list and the protected accounts.
// Protected accounts can never be banned and never gain the verified
// exemption from escalation.
type Identities struct {
	superAdmins map[int64]struct{}
	protected   map[int64]struct{}
}

func NewIdentities(superAdmins, protected []int64) Identities {
	return Identities{
		superAdmins: toSet(superAdmins),
		protected:   toSet(protected),
	}
}

func (i Identities) IsSuperAdmin(id int64) bool {
	_, ok := i.superAdmins[id]
	return ok
}

func (i Identities) IsProtected(id int64) bool {
	_, ok := i.protected[id]
	return ok
}

// SuperAdmins returns the allow-list in no particular order.
func (i Identities) SuperAdmins() []int64 {
	ids := make([]int64, 0, len(i.superAdmins))
	for id := range i.superAdmins {
		ids = append(ids, id)
	}
	return ids
}

// EscalationExempt reports whether a verified account skips the pending-ban
// transition.
func (i Identities) EscalationExempt(id int64, verified bool) bool {
	return verified && !i.IsProtected(id)
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
