package core

import (
	"context"
	"strings"
)

// UpdateUserDetails applies a partial update to the record addressed by
// req.Index and repairs every roster the change affects before saving the
// table once.
func (s *Service) UpdateUserDetails(ctx context.Context, p Principal, req UpdateRequest) (Collaborator, error) {
	var out Collaborator
	err := s.run(ctx, "update_user_details", p.Key(), true, func(ctx context.Context) (string, error) {
		if err := requirePrincipal(p); err != nil {
			return "", err
		}
		index := strings.TrimSpace(string(req.Index))
		if index == "" {
			return "", ErrValidation{Field: "index", Reason: "missing index"}
		}
		admin, err := s.isAdmin(ctx, p)
		if err != nil {
			return "", err
		}
		t, err := s.loadTable(ctx)
		if err != nil {
			return "", err
		}
		target := t.FindByIndex(index)
		if target == nil {
			return "", ErrNotFound{Entity: EntityCollaborator, Key: index}
		}
		if !admin {
			if !CanView(t.FindByEmail(p.Key()), target) {
				return "", ErrForbidden{Action: "update collaborator"}
			}
			if dropped := req.restrictedFields(); len(dropped) > 0 {
				s.logger.Info("ignored admin-only fields", "actor", p.Key(), "index", index, "fields", dropped)
			}
		}

		var newEmails []string
		if emails, ok := req.emails(); ok && len(emails) > 0 {
			newEmails = emails
			if other := t.FindByEmail(emails[0]); other != nil && other != target {
				return "", ErrConflict{Entity: EntityCollaborator, Key: normalizeEmail(emails[0])}
			}
		}

		if err := s.applyUpdate(ctx, t, target, req, newEmails); err != nil {
			return "", err
		}
		if err := s.saveTable(ctx, t); err != nil {
			return "", err
		}
		out = target.Clone()
		return target.Index, nil
	})
	return out, err
}

func (s *Service) applyUpdate(ctx context.Context, t *Table, target *Collaborator, req UpdateRequest, newEmails []string) error {
	r := newReconciler(t, s.logger)

	var baseActive, baseFormer MemberList
	if target.IsPI() {
		baseActive = append(MemberList(nil), target.ActiveMembers...)
		baseFormer = append(MemberList(nil), target.FormerMembers...)
		r.materialize(target)
		target.MembersInitialized = true
	}

	target.Timestamp = s.now()

	if newEmails != nil {
		oldEmail := target.PrimaryEmail
		target.PrimaryEmail = newEmails[0]
		target.EmailList = append(StringList(nil), newEmails...)
		t.Reindex()
		if normalizeEmail(oldEmail) != target.Email() {
			r.renameRosterEmail(oldEmail, target.PrimaryEmail)
		}
	}

	if req.FirstName.Set {
		target.FirstName = req.FirstName.Value
	}
	if req.LastName.Set {
		target.LastName = req.LastName.Value
	}
	if req.MiddleInitial.Set {
		target.MiddleInitial = req.MiddleInitial.Value
	}
	if req.ORCID.Set {
		target.ORCID = req.ORCID.Value
	}
	if req.Role.Set {
		target.Role = req.Role.Value
	}
	if req.ProfilePicture.Set {
		target.ProfilePicture = req.ProfilePicture.Value
	}
	if req.BlanketOptIn.Set {
		target.BlanketOptIn = req.BlanketOptIn.Value
	}

	if req.PILastNames.Set {
		names := cleanNames(req.PILastNames.Value)
		if target.IsMember() {
			r.applyAffiliationChange(target, target.PILastNames, names)
			target.PILastNames = names
		} else {
			target.PILastNames = names
		}
	}

	if req.IsActive.Set {
		active := bool(req.IsActive.Value)
		if !target.IsPI() {
			r.setMembership(target, active)
		}
		target.IsActive = active
	}
	if target.IsMember() && !req.IsActive.Set {
		target.IsActive = len(target.PILastNames) > 0
	}

	setList(&target.Degrees, req.Degrees)
	setList(&target.CohortEnigmaList, req.CohortEnigmaList)
	setList(&target.CohortOrigList, req.CohortOrigList)
	setList(&target.Disclosures, req.Disclosures)
	switch {
	case req.Funding.Set:
		target.FundingAck = emptyIfNil(req.Funding.Value)
	case req.FundingAck.Set:
		target.FundingAck = emptyIfNil(req.FundingAck.Value)
	}
	if req.CohortContributors.Set {
		target.CohortContributors = req.CohortContributors.Value
	}
	if req.CohortFunding.Set {
		target.CohortFunding = req.CohortFunding.Value
	}
	if req.Institutions.Set && len(req.Institutions.Value) > 0 {
		req.Institutions.Value.applyTo(target)
	}

	if req.ActiveMembers.Set || req.FormerMembers.Set {
		if req.ActiveMembers.Set {
			target.ActiveMembers = emptyIfNil(req.ActiveMembers.Value)
		}
		if req.FormerMembers.Set {
			target.FormerMembers = emptyIfNil(req.FormerMembers.Value)
		}
		target.MembersInitialized = true
		if target.IsPI() {
			if s.baseline == BaselineReload {
				var err error
				baseActive, baseFormer, err = s.reloadRoster(ctx, target.Index)
				if err != nil {
					return err
				}
			}
			r.applyRosterEdit(target, baseActive, baseFormer)
		}
	}

	r.enforceDisjoint()
	return nil
}

// reloadRoster reads the stored roster of the record with the given index.
func (s *Service) reloadRoster(ctx context.Context, index string) (MemberList, MemberList, error) {
	stored, err := s.loadTable(ctx)
	if err != nil {
		return nil, nil, err
	}
	rec := stored.FindByIndex(index)
	if rec == nil {
		return nil, nil, nil
	}
	return rec.ActiveMembers, rec.FormerMembers, nil
}

// renameRosterEmail rewrites roster entries after a primary email change.
func (r *reconciler) renameRosterEmail(oldEmail, newEmail string) {
	key := normalizeEmail(oldEmail)
	if key == "" {
		return
	}
	for _, rec := range r.table.All() {
		for i := range rec.ActiveMembers {
			if normalizeEmail(rec.ActiveMembers[i].Email) == key {
				rec.ActiveMembers[i].Email = newEmail
			}
		}
		for i := range rec.FormerMembers {
			if normalizeEmail(rec.FormerMembers[i].Email) == key {
				rec.FormerMembers[i].Email = newEmail
			}
		}
	}
}

func setList(dst *StringList, field Optional[StringList]) {
	if field.Set {
		*dst = emptyIfNil(field.Value)
	}
}

func emptyIfNil[S ~[]E, E any](in S) S {
	if in == nil {
		return S{}
	}
	return in
}

// DeleteCollaborator removes the record addressed by index or email and
// strips its email from every roster. Admin only.
func (s *Service) DeleteCollaborator(ctx context.Context, p Principal, req DeleteRequest) error {
	return s.run(ctx, "delete_collaborator", p.Key(), true, func(ctx context.Context) (string, error) {
		index := strings.TrimSpace(string(req.Index))
		email := normalizeEmail(req.Email)
		if index == "" && email == "" {
			return "", ErrValidation{Field: "index", Reason: "missing index or email"}
		}
		admin, err := s.isAdmin(ctx, p)
		if err != nil {
			return "", err
		}
		if !admin {
			return "", ErrForbidden{Action: "delete collaborator"}
		}
		t, err := s.loadTable(ctx)
		if err != nil {
			return "", err
		}
		var target *Collaborator
		if index != "" {
			target = t.FindByIndex(index)
		}
		if target == nil && email != "" {
			target = t.FindByEmail(email)
		}
		if target == nil {
			key := index
			if key == "" {
				key = email
			}
			return "", ErrNotFound{Entity: EntityCollaborator, Key: key}
		}

		r := newReconciler(t, s.logger)
		if target.Email() != "" {
			r.cascadeDelete(target.Email())
		}
		t.Remove(target)
		r.enforceDisjoint()
		if err := s.saveTable(ctx, t); err != nil {
			return "", err
		}
		return target.Index, nil
	})
}

// AddCollaborator creates a record. Admins may set every field; a PI or
// Co-PI adds a Member affiliated with themself. The new record joins the
// active roster of every PI it names.
func (s *Service) AddCollaborator(ctx context.Context, p Principal, req AddRequest) (Collaborator, error) {
	var out Collaborator
	err := s.run(ctx, "add_collaborator", p.Key(), true, func(ctx context.Context) (string, error) {
		emails := cleanEmails(req.Emails)
		if len(emails) == 0 {
			return "", ErrValidation{Field: "emails", Reason: "at least one email is required"}
		}
		admin, err := s.isAdmin(ctx, p)
		if err != nil {
			return "", err
		}
		t, err := s.loadTable(ctx)
		if err != nil {
			return "", err
		}
		var actingPI *Collaborator
		if !admin {
			actingPI = t.FindByEmail(p.Key())
			if actingPI == nil || !actingPI.IsPI() {
				return "", ErrForbidden{Action: "add collaborator", Message: "Only Admins and PIs can add collaborators"}
			}
		}
		if t.FindByEmail(emails[0]) != nil {
			return "", ErrConflict{Entity: EntityCollaborator, Key: normalizeEmail(emails[0])}
		}

		rec := Collaborator{
			Index:              t.NextIndex(),
			Timestamp:          s.now(),
			PrimaryEmail:       emails[0],
			EmailList:          emails,
			FirstName:          strings.TrimSpace(req.FirstName),
			LastName:           strings.TrimSpace(req.LastName),
			MiddleInitial:      strings.TrimSpace(req.MiddleInitial),
			ORCID:              strings.TrimSpace(req.ORCID),
			Degrees:            emptyIfNil(req.Degrees),
			ProfilePicture:     req.ProfilePicture,
			ActiveMembers:      emptyIfNil(req.ActiveMembers),
			FormerMembers:      emptyIfNil(req.FormerMembers),
			FundingAck:         emptyIfNil(req.Funding),
			Disclosures:        emptyIfNil(req.Disclosures),
			CohortContributors: req.CohortContributors,
			CohortFunding:      req.CohortFunding,
			BlanketOptIn:       req.BlanketOptIn,
			IsActive:           true,
		}
		req.Institutions.applyTo(&rec)
		if actingPI != nil {
			rec.Role = RoleMember
			rec.CohortEnigmaList = StringList{}
			rec.CohortOrigList = StringList{}
			rec.PILastNames = cleanNames(StringList{actingPI.LastName})
		} else {
			rec.Role = req.Role
			rec.CohortEnigmaList = emptyIfNil(req.CohortEnigmaList)
			rec.CohortOrigList = emptyIfNil(req.CohortOrigList)
			rec.PILastNames = cleanNames(req.PILastNames)
		}

		if rec.IsMember() {
			rec.IsActive = len(rec.PILastNames) > 0
		}
		stored := t.Append(rec)
		r := newReconciler(t, s.logger)
		if stored.IsMember() {
			r.affiliateNew(stored)
		}
		if actingPI != nil {
			r.addActive(actingPI, stored.Ref())
		}
		r.enforceDisjoint()
		if err := s.saveTable(ctx, t); err != nil {
			return "", err
		}
		out = stored.Clone()
		return stored.Index, nil
	})
	return out, err
}
