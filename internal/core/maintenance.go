package core

import (
	"context"
	"fmt"
)

// Violation rules reported by Audit.
const (
	RuleRosterAffiliation = "roster_entry_without_affiliation"
	RuleMissingRoster     = "affiliation_without_roster_entry"
	RuleMemberActivity    = "member_activity_mismatch"
	RuleRosterOverlap     = "active_former_overlap"
	RuleDuplicateIndex    = "duplicate_index"
	RuleDuplicateEmail    = "duplicate_primary_email"
)

// Violation is one consistency problem found in the stored table.
type Violation struct {
	Rule   string `json:"rule"`
	Index  string `json:"index"`
	Email  string `json:"email"`
	Detail string `json:"detail"`
}

// AuditReport summarizes a consistency check.
type AuditReport struct {
	Records    int         `json:"records"`
	Violations []Violation `json:"violations"`
}

// OK reports whether the check found nothing.
func (r AuditReport) OK() bool { return len(r.Violations) == 0 }

// Normalize rewrites the stored table in canonical form and returns the
// number of records written.
func (s *Service) Normalize(ctx context.Context) (int, error) {
	var count int
	err := s.run(ctx, "normalize", "", true, func(ctx context.Context) (string, error) {
		t, err := s.loadTable(ctx)
		if err != nil {
			return "", err
		}
		if err := s.saveTable(ctx, t); err != nil {
			return "", err
		}
		count = t.Len()
		return "", nil
	})
	return count, err
}

// Audit checks the stored table for roster and identity inconsistencies
// without modifying it.
func (s *Service) Audit(ctx context.Context) (AuditReport, error) {
	var report AuditReport
	err := s.run(ctx, "audit", "", false, func(ctx context.Context) (string, error) {
		t, err := s.loadTable(ctx)
		if err != nil {
			return "", err
		}
		report = CheckTable(t)
		return "", nil
	})
	return report, err
}

// CheckTable evaluates the consistency rules over t.
func CheckTable(t *Table) AuditReport {
	report := AuditReport{Records: t.Len()}
	add := func(rule string, rec *Collaborator, format string, args ...any) {
		report.Violations = append(report.Violations, Violation{
			Rule:   rule,
			Index:  rec.Index,
			Email:  rec.PrimaryEmail,
			Detail: fmt.Sprintf(format, args...),
		})
	}

	indices := make(map[string]struct{}, t.Len())
	emails := make(map[string]struct{}, t.Len())
	for _, rec := range t.All() {
		if rec.Index != "" {
			if _, dup := indices[rec.Index]; dup {
				add(RuleDuplicateIndex, rec, "index %s is assigned more than once", rec.Index)
			}
			indices[rec.Index] = struct{}{}
		}
		if email := rec.Email(); email != "" {
			if _, dup := emails[email]; dup {
				add(RuleDuplicateEmail, rec, "primary email %s is used more than once", email)
			}
			emails[email] = struct{}{}
		}
		if rec.IsMember() && rec.IsActive != (len(rec.PILastNames) > 0) {
			add(RuleMemberActivity, rec, "is_active=%t with %d PI affiliations", rec.IsActive, len(rec.PILastNames))
		}
		if !rec.IsPI() {
			continue
		}
		former := rec.FormerMembers.Emails()
		for email := range rec.ActiveMembers.Emails() {
			if _, ok := former[email]; ok {
				add(RuleRosterOverlap, rec, "%s is both active and former", email)
			}
		}
		for _, ref := range rec.ActiveMembers {
			member := t.FindByEmail(ref.Email)
			if member != nil && !member.AffiliatedWith(rec.LastName) {
				add(RuleRosterAffiliation, rec, "active member %s does not list %s", ref.Email, rec.LastName)
			}
		}
		if !rec.MembersInitialized {
			continue
		}
		for _, member := range t.All() {
			if member == rec || !member.IsMember() || !member.AffiliatedWith(rec.LastName) {
				continue
			}
			if !rec.ActiveMembers.Contains(member.PrimaryEmail) && !rec.FormerMembers.Contains(member.PrimaryEmail) {
				add(RuleMissingRoster, rec, "%s lists %s but is on neither roster", member.PrimaryEmail, rec.LastName)
			}
		}
	}
	return report
}
