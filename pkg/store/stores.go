package store

// Stores bundles the persistence backends handed to the API layer. Roster
// is nil when no database is configured; signup then skips the uniqueness
// check.
type Stores struct {
	Profiles ProfileStore
	Roster   RosterStore
}
