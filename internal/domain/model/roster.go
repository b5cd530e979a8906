package model

// Read-model shapes served to the admin console and the rider app. They are
// assembled by repositories with a join; the engine never mutates them.

// RosterEntry is one row of a rule's beneficiary roster, joined to the
// rider's minimal identity.
type RosterEntry struct {
	Beneficiary
	RiderName  string
	RiderPhone string
}

// UserFreeDay is one of a rider's current grants annotated with the rule
// metadata the app displays. Window fields mirror the rule at read time.
type UserFreeDay struct {
	Beneficiary
	RuleName  string
	StartHour *int
	EndHour   *int
}
