package core

import (
	"sort"
	"strings"
)

// Principal is the authenticated caller, identified by the email claim of a
// verified bearer token.
type Principal struct {
	Email string
	Name  string
}

// Key returns the normalized email used for lookups.
func (p Principal) Key() string {
	return normalizeEmail(p.Email)
}

// Authorization is the outcome of checking a principal against the admin
// and collaborator tables.
type Authorization struct {
	Authorized                    bool          `json:"authorized"`
	IsAdmin                       bool          `json:"is_admin"`
	IsCollaborator                bool          `json:"is_collaborator"`
	CanAccessCollaboratorsConsole bool          `json:"can_access_collaborators_console"`
	CanAccessDataRequest          bool          `json:"can_access_data_request"`
	IsActive                      bool          `json:"is_active"`
	Role                          string        `json:"role,omitempty"`
	UserDetails                   *Collaborator `json:"user_details"`
	Message                       string        `json:"message,omitempty"`
}

// Authorize decides whether email may use the system. Admins are always
// authorized; collaborators are authorized while active; everyone else is
// denied.
func Authorize(email string, admin bool, t *Table) Authorization {
	var rec *Collaborator
	if t != nil {
		rec = t.FindByEmail(email)
	}
	var details *Collaborator
	if rec != nil {
		cpy := rec.Clone()
		details = &cpy
	}
	switch {
	case admin:
		out := Authorization{
			Authorized:                    true,
			IsAdmin:                       true,
			IsCollaborator:                rec != nil,
			CanAccessCollaboratorsConsole: true,
			CanAccessDataRequest:          true,
			IsActive:                      true,
			Role:                          RoleAdmin,
			UserDetails:                   details,
		}
		if rec != nil {
			out.IsActive = rec.IsActive
		}
		return out
	case rec != nil && rec.IsActive:
		return Authorization{
			Authorized:                    true,
			IsCollaborator:                true,
			CanAccessCollaboratorsConsole: true,
			CanAccessDataRequest:          true,
			IsActive:                      true,
			Role:                          rec.Role,
			UserDetails:                   details,
		}
	case rec != nil:
		return Authorization{IsCollaborator: true, Role: rec.Role}
	default:
		return Authorization{}
	}
}

// CanView reports whether viewer may see target. A nil viewer sees nothing.
func CanView(viewer, target *Collaborator) bool {
	if viewer == nil || target == nil {
		return false
	}
	if viewer == target || (viewer.Email() != "" && viewer.Email() == target.Email()) {
		return true
	}
	if !viewer.IsPI() {
		return false
	}
	email := target.Email()
	if email != "" && (viewer.ActiveMembers.Contains(email) || viewer.FormerMembers.Contains(email)) {
		return true
	}
	return target.AffiliatedWith(viewer.LastName)
}

// ProjectVisibleRoster returns the records email may see, in table order.
// Admins see every record.
func ProjectVisibleRoster(email string, admin bool, t *Table) []*Collaborator {
	if admin {
		return t.All()
	}
	viewer := t.FindByEmail(email)
	if viewer == nil {
		return nil
	}
	var out []*Collaborator
	for _, rec := range t.All() {
		if CanView(viewer, rec) {
			out = append(out, rec)
		}
	}
	return out
}

// DisplayRow is the table rendering of a record.
type DisplayRow struct {
	Collaborator
	Email      string `json:"email"`
	IsActive   string `json:"is_active"`
	University string `json:"University/Institute"`
}

// ProjectForDisplay flattens rec for table rendering.
func ProjectForDisplay(rec Collaborator) DisplayRow {
	row := DisplayRow{
		Collaborator: rec.Clone(),
		Email:        rec.PrimaryEmail,
		IsActive:     "false",
	}
	if rec.IsActive {
		row.IsActive = "true"
	}
	if strings.TrimSpace(row.Role) == "" {
		row.Role = RoleMember
	}
	if len(rec.UniversityList) > 0 {
		row.University = rec.UniversityList[0]
	}
	return row
}

// SortNewestFirst orders records by integer index descending. Unparsable
// indices sort as 0; ties keep table order.
func SortNewestFirst(recs []*Collaborator) {
	sort.SliceStable(recs, func(i, j int) bool {
		return parseIndex(recs[i].Index) > parseIndex(recs[j].Index)
	})
}

// DisplayTable projects and orders recs for table rendering.
func DisplayTable(recs []*Collaborator) []DisplayRow {
	ordered := make([]*Collaborator, len(recs))
	copy(ordered, recs)
	SortNewestFirst(ordered)
	out := make([]DisplayRow, 0, len(ordered))
	for _, rec := range ordered {
		out = append(out, ProjectForDisplay(*rec))
	}
	return out
}
