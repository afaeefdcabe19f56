/*
Package access maps community roles to what they may do.

A person can hold several roles in a community. Roles are never compared as
strings at call sites: they are parsed once into a RoleSet and checked with
Allows.

  Capability        ADMIN  COMMITTEE  CONCIERGE  RESIDENT
  ManageCommunity     x
  ManageExpenses      x       x
  RecordPayments      x       x          x
  ViewExpenses        x       x          x          x
  RunSweep            x
*/
package access

import (
	"sort"
	"strings"
)

type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleCommittee Role = "COMMITTEE"
	RoleConcierge Role = "CONCIERGE"
	RoleResident  Role = "RESIDENT"
)

type Capability string

const (
	ManageCommunity Capability = "manage_community"
	ManageExpenses  Capability = "manage_expenses"
	RecordPayments  Capability = "record_payments"
	ViewExpenses    Capability = "view_expenses"
	RunSweep        Capability = "run_sweep"
)

var capabilities = map[Role]map[Capability]bool{
	RoleAdmin: {
		ManageCommunity: true,
		ManageExpenses:  true,
		RecordPayments:  true,
		ViewExpenses:    true,
		RunSweep:        true,
	},
	RoleCommittee: {
		ManageExpenses: true,
		RecordPayments: true,
		ViewExpenses:   true,
	},
	RoleConcierge: {
		RecordPayments: true,
		ViewExpenses:   true,
	},
	RoleResident: {
		ViewExpenses: true,
	},
}

// ParseRole parses a role name (case-insensitive).
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := capabilities[r]
	return r, ok
}

// RoleSet is the set of roles a caller holds.
type RoleSet map[Role]struct{}

// NewRoleSet builds a set from roles.
func NewRoleSet(roles ...Role) RoleSet {
	rs := make(RoleSet, len(roles))
	for _, r := range roles {
		rs[r] = struct{}{}
	}
	return rs
}

// ParseRoles parses a comma-separated list. Unknown names are ignored.
func ParseRoles(s string) RoleSet {
	rs := RoleSet{}
	for _, part := range strings.Split(s, ",") {
		if r, ok := ParseRole(part); ok {
			rs[r] = struct{}{}
		}
	}
	return rs
}

func (rs RoleSet) Has(r Role) bool {
	_, ok := rs[r]
	return ok
}

// Allows returns true if any role in the set grants c.
func (rs RoleSet) Allows(c Capability) bool {
	for r := range rs {
		if capabilities[r][c] {
			return true
		}
	}
	return false
}

func (rs RoleSet) IsEmpty() bool { return len(rs) == 0 }

// Roles returns the roles sorted by name.
func (rs RoleSet) Roles() []Role {
	out := make([]Role, 0, len(rs))
	for r := range rs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (rs RoleSet) String() string {
	roles := rs.Roles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ",")
}
