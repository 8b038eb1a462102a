package core

import "strings"

// reconciler applies the roster repair rules to one in-memory table. Every
// rule mutates records in place; the caller persists the table once.
type reconciler struct {
	table *Table
	log   Logger
}

func newReconciler(t *Table, log Logger) *reconciler {
	if log == nil {
		log = noopLogger{}
	}
	return &reconciler{table: t, log: log}
}

// candidates returns roster entries for every Member affiliated with pi,
// excluding pi itself, in table order.
func (r *reconciler) candidates(pi *Collaborator) MemberList {
	self := pi.Email()
	var out MemberList
	for _, rec := range r.table.All() {
		if rec == pi || !rec.IsMember() {
			continue
		}
		if self != "" && rec.Email() == self {
			continue
		}
		if rec.AffiliatedWith(pi.LastName) {
			out = append(out, rec.Ref())
		}
	}
	return out
}

// materialize fills pi's active roster from affiliated Members. An
// uninitialized roster is overwritten; an initialized one only gains members
// that appear on neither list. It returns the number of entries added.
func (r *reconciler) materialize(pi *Collaborator) int {
	if !pi.IsPI() {
		return 0
	}
	found := r.candidates(pi)
	if !pi.MembersInitialized {
		pi.ActiveMembers = found
		return len(found)
	}
	known := pi.ActiveMembers.Emails()
	for email := range pi.FormerMembers.Emails() {
		known[email] = struct{}{}
	}
	added := 0
	for _, ref := range found {
		email := normalizeEmail(ref.Email)
		if _, ok := known[email]; ok {
			continue
		}
		known[email] = struct{}{}
		pi.ActiveMembers = append(pi.ActiveMembers, ref)
		added++
	}
	return added
}

// pisFor returns the distinct PI records matching any of names.
func (r *reconciler) pisFor(names []string) []*Collaborator {
	seen := make(map[*Collaborator]struct{})
	var out []*Collaborator
	for _, name := range names {
		for _, pi := range r.table.PIsNamed(name) {
			if _, ok := seen[pi]; ok {
				continue
			}
			seen[pi] = struct{}{}
			out = append(out, pi)
		}
	}
	return out
}

// setMembership moves target between active and former on every PI it is
// affiliated with.
func (r *reconciler) setMembership(target *Collaborator, active bool) {
	ref := target.Ref()
	for _, pi := range r.pisFor(target.PILastNames) {
		if pi == target {
			continue
		}
		pi.ActiveMembers = pi.ActiveMembers.Without(ref.Email)
		pi.FormerMembers = pi.FormerMembers.Without(ref.Email)
		if active {
			pi.ActiveMembers = append(pi.ActiveMembers, ref)
		} else {
			pi.FormerMembers = append(pi.FormerMembers, ref)
		}
		pi.MembersInitialized = true
		r.log.Debug("roster membership moved", "member", ref.Email, "pi", pi.LastName, "active", active)
	}
}

// applyAffiliationChange reconciles PI rosters after a Member's pi_last_name
// list changed from before to after.
func (r *reconciler) applyAffiliationChange(member *Collaborator, before, after []string) {
	removed := nameDifference(before, after)
	added := nameDifference(after, before)
	ref := member.Ref()
	for _, pi := range r.pisFor(removed) {
		if pi == member {
			continue
		}
		pi.ActiveMembers = pi.ActiveMembers.Without(ref.Email)
		pi.FormerMembers = append(pi.FormerMembers.Without(ref.Email), ref)
		r.log.Debug("affiliation removed", "member", ref.Email, "pi", pi.LastName)
	}
	for _, pi := range r.pisFor(added) {
		if pi == member {
			continue
		}
		r.addActive(pi, ref)
		r.log.Debug("affiliation added", "member", ref.Email, "pi", pi.LastName)
	}
}

// addActive puts ref on pi's active roster, clearing any former entry.
func (r *reconciler) addActive(pi *Collaborator, ref MemberRef) {
	pi.FormerMembers = pi.FormerMembers.Without(ref.Email)
	if !pi.ActiveMembers.Contains(ref.Email) {
		pi.ActiveMembers = append(pi.ActiveMembers, ref)
	}
	pi.MembersInitialized = true
}

// applyRosterEdit pushes a PI's own roster curation onto the affected member
// records, diffing pi's current lists against the persisted baseline.
func (r *reconciler) applyRosterEdit(pi *Collaborator, baselineActive, baselineFormer MemberList) {
	name := strings.TrimSpace(pi.LastName)
	oldActive := baselineActive.Emails()
	oldFormer := baselineFormer.Emails()

	for _, ref := range pi.ActiveMembers {
		email := normalizeEmail(ref.Email)
		_, wasActive := oldActive[email]
		_, wasFormer := oldFormer[email]
		if wasActive && !wasFormer {
			continue
		}
		member := r.table.FindByEmail(email)
		if member == nil || member == pi {
			continue
		}
		if name != "" && !member.AffiliatedWith(name) {
			member.PILastNames = append(member.PILastNames, name)
		}
		if !member.IsPI() {
			member.IsActive = true
		}
		r.log.Debug("roster edit activated member", "member", email, "pi", name, "reactivated", wasFormer)
	}

	nowActive := pi.ActiveMembers.Emails()
	for _, ref := range pi.FormerMembers {
		email := normalizeEmail(ref.Email)
		if _, ok := oldFormer[email]; ok {
			continue
		}
		if _, ok := nowActive[email]; ok {
			continue
		}
		member := r.table.FindByEmail(email)
		if member == nil || member == pi {
			continue
		}
		member.PILastNames = removeName(member.PILastNames, name)
		if len(member.PILastNames) == 0 && !member.IsPI() {
			member.IsActive = false
		}
		r.log.Debug("roster edit retired member", "member", email, "pi", name)
	}
}

// cascadeDelete strips email from every roster in the table.
func (r *reconciler) cascadeDelete(email string) {
	for _, rec := range r.table.All() {
		if rec.ActiveMembers.Contains(email) || rec.FormerMembers.Contains(email) {
			rec.ActiveMembers = rec.ActiveMembers.Without(email)
			rec.FormerMembers = rec.FormerMembers.Without(email)
			r.log.Debug("removed deleted collaborator from roster", "member", email, "pi", rec.LastName)
		}
	}
}

// affiliateNew adds a freshly created record to the active roster of every
// PI it names.
func (r *reconciler) affiliateNew(rec *Collaborator) {
	ref := rec.Ref()
	for _, pi := range r.pisFor(rec.PILastNames) {
		if pi == rec {
			continue
		}
		r.addActive(pi, ref)
		r.log.Debug("new collaborator added to roster", "member", ref.Email, "pi", pi.LastName)
	}
}

// enforceDisjoint removes duplicate roster entries and drops former entries
// that are also active, on every PI record.
func (r *reconciler) enforceDisjoint() {
	for _, rec := range r.table.All() {
		if len(rec.ActiveMembers) == 0 && len(rec.FormerMembers) == 0 {
			continue
		}
		active := dedupeMembers(rec.ActiveMembers, nil)
		former := dedupeMembers(rec.FormerMembers, active.Emails())
		if len(active) != len(rec.ActiveMembers) || len(former) != len(rec.FormerMembers) {
			r.log.Debug("roster duplicates removed", "pi", rec.LastName)
		}
		rec.ActiveMembers = active
		rec.FormerMembers = former
	}
}

func dedupeMembers(list MemberList, exclude map[string]struct{}) MemberList {
	if list == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(list))
	out := make(MemberList, 0, len(list))
	for _, m := range list {
		email := normalizeEmail(m.Email)
		if email != "" {
			if _, ok := exclude[email]; ok {
				continue
			}
			if _, ok := seen[email]; ok {
				continue
			}
			seen[email] = struct{}{}
		}
		out = append(out, m)
	}
	return out
}

// nameDifference returns the names in a that are absent from b, compared
// case-insensitively after trimming.
func nameDifference(a, b []string) []string {
	present := make(map[string]struct{}, len(b))
	for _, name := range b {
		present[normalizeName(name)] = struct{}{}
	}
	var out []string
	for _, name := range a {
		key := normalizeName(name)
		if key == "" {
			continue
		}
		if _, ok := present[key]; !ok {
			out = append(out, name)
			present[key] = struct{}{}
		}
	}
	return out
}

func removeName(names StringList, name string) StringList {
	key := normalizeName(name)
	var out StringList
	for _, n := range names {
		if normalizeName(n) != key {
			out = append(out, n)
		}
	}
	return out
}
