package perms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdminImpliesNarrowCapabilities(t *testing.T) {
	c := NewChecker()

	// Admin's direct grants are the four admin capabilities, but the
	// implies relation must expand them.
	assert.True(t, c.Can(RoleAdmin, ReviewsView))
	assert.True(t, c.Can(RoleAdmin, ReviewsDecide))
	assert.True(t, c.Can(RoleAdmin, ReviewsOverride))
	assert.True(t, c.Can(RoleAdmin, UsersEdit))
	assert.True(t, c.Can(RoleAdmin, PayoutsEdit))
	assert.True(t, c.Can(RoleAdmin, ClaimsOverride))
}

func TestLeadGrants(t *testing.T) {
	c := NewChecker()

	assert.True(t, c.Can(RoleLead, ReviewsDecide))
	assert.True(t, c.Can(RoleLead, ClaimsOverride))
	assert.True(t, c.Can(RoleLead, PayoutsView))
	assert.False(t, c.Can(RoleLead, PayoutsEdit), "payouts_view does not imply edit")
	assert.False(t, c.Can(RoleLead, UsersAdmin))
	assert.False(t, c.Can(RoleLead, UsersView))
}

func TestReviewerGrants(t *testing.T) {
	c := NewChecker()

	assert.True(t, c.Can(RoleReviewer, ReviewsView))
	assert.True(t, c.Can(RoleReviewer, ReviewsDecide))
	assert.True(t, c.Can(RoleReviewer, ClaimsEdit))
	assert.False(t, c.Can(RoleReviewer, ReviewsOverride))
	assert.False(t, c.Can(RoleReviewer, ClaimsOverride))
	assert.False(t, c.Can(RoleReviewer, UsersView))
}

func TestObserverGrants(t *testing.T) {
	c := NewChecker()

	assert.True(t, c.Can(RoleObserver, ReviewsView))
	assert.True(t, c.Can(RoleObserver, StatsView))
	assert.False(t, c.Can(RoleObserver, ReviewsDecide))
	assert.False(t, c.Can(RoleObserver, ClaimsEdit))
}

func TestUnknownRoleHoldsNothing(t *testing.T) {
	c := NewChecker()

	assert.False(t, c.Can("intern", ReviewsView))
	assert.False(t, c.Can("", StatsView))
	assert.Nil(t, c.Capabilities("intern"))
}

func TestCapabilitiesListsExpandedGrants(t *testing.T) {
	c := NewChecker()

	caps := c.Capabilities(RoleObserver)
	assert.ElementsMatch(t, []Capability{ReviewsView, ClaimsView, StatsView}, caps)
}

func TestValidRole(t *testing.T) {
	assert.True(t, ValidRole(RoleAdmin))
	assert.True(t, ValidRole(RoleObserver))
	assert.False(t, ValidRole("megawright"))
	assert.False(t, ValidRole(""))
}
