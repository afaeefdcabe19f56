package access_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/community-engine/access"
)

func TestParseRoles(t *testing.T) {
	rs := access.ParseRoles(" admin, Resident ,janitor,,")

	assert.True(t, rs.Has(access.RoleAdmin))
	assert.True(t, rs.Has(access.RoleResident))
	assert.False(t, rs.Has(access.RoleConcierge))
	assert.Equal(t, "ADMIN,RESIDENT", rs.String())

	assert.True(t, access.ParseRoles("").IsEmpty())
}

func TestAllows_Table(t *testing.T) {
	tests := []struct {
		role    access.Role
		allowed []access.Capability
		denied  []access.Capability
	}{
		{access.RoleAdmin, []access.Capability{access.ManageCommunity, access.ManageExpenses, access.RecordPayments, access.ViewExpenses, access.RunSweep}, nil},
		{access.RoleCommittee, []access.Capability{access.ManageExpenses, access.RecordPayments, access.ViewExpenses}, []access.Capability{access.ManageCommunity, access.RunSweep}},
		{access.RoleConcierge, []access.Capability{access.RecordPayments, access.ViewExpenses}, []access.Capability{access.ManageExpenses, access.RunSweep}},
		{access.RoleResident, []access.Capability{access.ViewExpenses}, []access.Capability{access.RecordPayments, access.ManageExpenses, access.ManageCommunity}},
	}
	for _, tt := range tests {
		rs := access.NewRoleSet(tt.role)
		for _, c := range tt.allowed {
			assert.True(t, rs.Allows(c), "%s should allow %s", tt.role, c)
		}
		for _, c := range tt.denied {
			assert.False(t, rs.Allows(c), "%s should deny %s", tt.role, c)
		}
	}
}

func TestAllows_UnionOfRoles(t *testing.T) {
	// GIVEN: A resident who also sits on the committee
	rs := access.NewRoleSet(access.RoleResident, access.RoleCommittee)

	// THEN: Capabilities are the union
	assert.True(t, rs.Allows(access.ManageExpenses))
	assert.False(t, rs.Allows(access.RunSweep))
	assert.False(t, access.RoleSet{}.Allows(access.ViewExpenses))
}
