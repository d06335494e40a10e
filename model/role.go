package model

import "time"

// Role is a named kind of actor in a workflow. States reference roles to
// define who may view an activity in that state; transitions reference
// roles to define who may use them.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedOn   time.Time `json:"created_on"`
}

// RoleSet is a set of role IDs. Zero or nil sets are valid and mean
// "no roles"; on states and transitions an empty set means unrestricted.
type RoleSet map[string]bool

// NewRoleSet builds a RoleSet from role IDs.
func NewRoleSet(ids ...string) RoleSet {
	rs := make(RoleSet, len(ids))
	for _, id := range ids {
		rs[id] = true
	}
	return rs
}

// Contains returns true if the set holds the given role ID.
func (rs RoleSet) Contains(roleID string) bool {
	return rs[roleID]
}

// ContainsAny returns true if the set holds at least one of the given
// role IDs.
func (rs RoleSet) ContainsAny(roleIDs ...string) bool {
	for _, id := range roleIDs {
		if rs[id] {
			return true
		}
	}
	return false
}

// Intersects returns true if the two sets share at least one role ID.
func (rs RoleSet) Intersects(other RoleSet) bool {
	// Iterate the smaller set.
	small, large := rs, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for id := range small {
		if large[id] {
			return true
		}
	}
	return false
}

// Union returns a new set holding the members of both sets.
func (rs RoleSet) Union(other RoleSet) RoleSet {
	out := make(RoleSet, len(rs)+len(other))
	for id := range rs {
		out[id] = true
	}
	for id := range other {
		out[id] = true
	}
	return out
}

// IDs returns the member role IDs in unspecified order.
func (rs RoleSet) IDs() []string {
	ids := make([]string, 0, len(rs))
	for id := range rs {
		ids = append(ids, id)
	}
	return ids
}

// Clone returns an independent copy of the set.
func (rs RoleSet) Clone() RoleSet {
	out := make(RoleSet, len(rs))
	for id := range rs {
		out[id] = true
	}
	return out
}
