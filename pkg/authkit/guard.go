package authkit

// CanEnter is the route-protection predicate: a principal passes a protected
// boundary only when present and, for accounts with an enabled factor,
// stepped-up. It is a pure function of the state (no side effects, no
// network) and is the single enforcement point; protected views must route
// through it rather than re-implement the check.
func CanEnter(state State) bool {
	return state.User != nil && (!state.User.MFAEnabled || state.MFAVerified)
}
