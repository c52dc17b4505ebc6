// Package perms models authorization as a closed set of capabilities granted
// to roles, with an explicit "admin capability implies its narrower
// siblings" relation. The implied grants are flattened once at construction,
// so a permission check is a single set lookup.
package perms

import "errors"

// ErrForbidden is returned by handlers when the caller's role lacks a
// required capability.
var ErrForbidden = errors.New("forbidden")

// Capability names one permitted action. The set is closed: nothing outside
// this list is ever granted or checked.
type Capability string

const (
	ReviewsView     Capability = "reviews_view"
	ReviewsDecide   Capability = "reviews_decide"
	ReviewsOverride Capability = "reviews_override"
	ReviewsAdmin    Capability = "reviews_admin"

	ClaimsView     Capability = "claims_view"
	ClaimsEdit     Capability = "claims_edit"
	ClaimsOverride Capability = "claims_override"
	ClaimsAdmin    Capability = "claims_admin"

	UsersView  Capability = "users_view"
	UsersAdd   Capability = "users_add"
	UsersEdit  Capability = "users_edit"
	UsersAdmin Capability = "users_admin"

	PayoutsView  Capability = "payouts_view"
	PayoutsEdit  Capability = "payouts_edit"
	PayoutsAdmin Capability = "payouts_admin"

	StatsView Capability = "stats_view"
)

// implies maps each admin capability to the capabilities it subsumes.
// Holding the key grants every capability in the value.
var implies = map[Capability][]Capability{
	ReviewsAdmin: {ReviewsView, ReviewsDecide, ReviewsOverride},
	ClaimsAdmin:  {ClaimsView, ClaimsEdit, ClaimsOverride},
	UsersAdmin:   {UsersView, UsersAdd, UsersEdit},
	PayoutsAdmin: {PayoutsView, PayoutsEdit},
}

// Role names and their direct grants. Admin-tier roles rely on the implies
// relation rather than enumerating every narrow capability.
const (
	RoleAdmin    = "admin"
	RoleLead     = "lead"
	RoleReviewer = "reviewer"
	RoleObserver = "observer"
)

var roleGrants = map[string][]Capability{
	RoleAdmin: {
		ReviewsAdmin, ClaimsAdmin, UsersAdmin, PayoutsAdmin, StatsView,
	},
	RoleLead: {
		ReviewsAdmin, ClaimsAdmin, PayoutsView, StatsView,
	},
	RoleReviewer: {
		ReviewsView, ReviewsDecide, ClaimsView, ClaimsEdit, StatsView,
	},
	RoleObserver: {
		ReviewsView, ClaimsView, StatsView,
	},
}

// Checker answers Can queries against the flattened grant table.
type Checker struct {
	grants map[string]map[Capability]bool
}

// NewChecker builds the grant table, expanding the implies relation so later
// checks need no traversal. Roles outside the built table hold nothing.
func NewChecker() *Checker {
	grants := make(map[string]map[Capability]bool, len(roleGrants))
	for role, caps := range roleGrants {
		set := make(map[Capability]bool)
		for _, c := range caps {
			set[c] = true
			for _, implied := range implies[c] {
				set[implied] = true
			}
		}
		grants[role] = set
	}
	return &Checker{grants: grants}
}

// Can reports whether role holds cap, directly or through an admin
// capability that implies it. Unknown roles hold nothing.
func (c *Checker) Can(role string, capability Capability) bool {
	return c.grants[role][capability]
}

// Capabilities returns every capability role holds, nil for unknown roles.
// Used by the API to tell clients what to render.
func (c *Checker) Capabilities(role string) []Capability {
	set, ok := c.grants[role]
	if !ok {
		return nil
	}
	out := make([]Capability, 0, len(set))
	for capability := range set {
		out = append(out, capability)
	}
	return out
}

// ValidRole reports whether role is one of the defined roles.
func ValidRole(role string) bool {
	_, ok := roleGrants[role]
	return ok
}
