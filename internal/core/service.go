package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service exposes the directory operations. Each mutating operation loads
// the whole collaborators table once, reconciles it in memory and saves it
// once; no table state is shared between calls.
type Service struct {
	store   TableStore
	objects ObjectStore

	clock            Clock
	logger           Logger
	metrics          MetricsRecorder
	tracer           Tracer
	audit            AuditRecorder
	mailer           Mailer
	notifier         Notifier
	baseline         RosterBaseline
	contactEmail     string
	inactiveNotices  bool
	notifyRecipients []string
	picturePrefix    string
	requestPrefix    string
}

// NewService constructs a service over the supplied stores.
func NewService(store TableStore, objects ObjectStore, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &Service{
		store:            store,
		objects:          objects,
		clock:            o.clock,
		logger:           o.logger,
		metrics:          o.metrics,
		tracer:           o.tracer,
		audit:            o.audit,
		mailer:           o.mailer,
		notifier:         o.notifier,
		baseline:         o.baseline,
		contactEmail:     o.contactEmail,
		inactiveNotices:  o.inactiveNotices,
		notifyRecipients: o.notifyRecipients,
		picturePrefix:    o.picturePrefix,
		requestPrefix:    o.requestPrefix,
	}
}

// run wraps an operation with tracing, metrics and logging. Mutating
// operations are also audited.
func (s *Service) run(ctx context.Context, op string, actor string, mutating bool, fn func(ctx context.Context) (string, error)) error {
	ctx, span := s.tracer.Start(ctx, op)
	started := s.clock.Now()
	entityID, err := fn(ctx)
	elapsed := s.clock.Now().Sub(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, elapsed)

	if err != nil {
		if Classify(err) == KindInternal {
			s.logger.Error("operation failed", "op", op, "actor", actor, "error", err)
		} else {
			s.logger.Info("operation rejected", "op", op, "actor", actor, "error", err)
		}
	} else {
		s.logger.Debug("operation completed", "op", op, "actor", actor, "entity", entityID, "duration", elapsed)
	}

	if mutating {
		entry := AuditEntry{
			Operation: op,
			Status:    AuditStatusSuccess,
			Actor:     actor,
			EntityID:  entityID,
			Duration:  elapsed,
			Timestamp: started,
		}
		if err != nil {
			entry.Status = AuditStatusError
			entry.Error = err.Error()
		}
		s.audit.Record(ctx, entry)
	}
	return err
}

func (s *Service) loadTable(ctx context.Context) (*Table, error) {
	t, err := s.store.LoadCollaborators(ctx)
	if err != nil {
		return nil, fmt.Errorf("load collaborators: %w", err)
	}
	return t, nil
}

func (s *Service) saveTable(ctx context.Context, t *Table) error {
	if err := s.store.SaveCollaborators(ctx, t); err != nil {
		return fmt.Errorf("save collaborators: %w", err)
	}
	return nil
}

func (s *Service) loadAdmins(ctx context.Context, list AdminList) ([]string, error) {
	admins, err := s.store.LoadAdmins(ctx, list)
	if err != nil {
		return nil, fmt.Errorf("load %s admins: %w", list, err)
	}
	return admins, nil
}

func (s *Service) isAdmin(ctx context.Context, p Principal) (bool, error) {
	return s.inAdminList(ctx, DirectoryAdmins, p)
}

func (s *Service) inAdminList(ctx context.Context, list AdminList, p Principal) (bool, error) {
	key := p.Key()
	if key == "" {
		return false, nil
	}
	admins, err := s.loadAdmins(ctx, list)
	if err != nil {
		return false, err
	}
	return containsEmail(admins, key), nil
}

func (s *Service) now() string {
	return s.clock.Now().UTC().Format(time.RFC3339)
}

func requirePrincipal(p Principal) error {
	if p.Key() == "" {
		return ErrValidation{Field: "email", Reason: "email not found in token"}
	}
	return nil
}

// CheckAuthorization reports what the principal may access. Inactive
// collaborators are denied with a reactivation message and, when enabled,
// sent a notice email.
func (s *Service) CheckAuthorization(ctx context.Context, p Principal) (Authorization, error) {
	var out Authorization
	err := s.run(ctx, "check_authorization", p.Key(), false, func(ctx context.Context) (string, error) {
		if err := requirePrincipal(p); err != nil {
			return "", err
		}
		admin, err := s.isAdmin(ctx, p)
		if err != nil {
			return "", err
		}
		t, err := s.loadTable(ctx)
		if err != nil {
			return "", err
		}
		out = Authorize(p.Key(), admin, t)
		switch {
		case out.Authorized:
			return p.Key(), nil
		case out.IsCollaborator:
			out.Message = s.inactiveMessage()
			if s.inactiveNotices {
				s.notifier.Notify(ctx, s.inactiveNotice(p.Email))
			}
		default:
			out.Message = s.unauthorizedMessage()
		}
		return "", ErrForbidden{Action: "access", Message: out.Message}
	})
	return out, err
}

func (s *Service) inactiveMessage() string {
	return fmt.Sprintf("Your account is inactive. You cannot access the system. Please contact NPNL at %s to reactivate your account.", s.contactEmail)
}

func (s *Service) unauthorizedMessage() string {
	return fmt.Sprintf("You are not authorized to access this system. Please contact NPNL at %s.", s.contactEmail)
}

func (s *Service) inactiveNotice(to string) Email {
	return Email{
		To:      to,
		Subject: "Account Inactive - NPNL Collaborator Console",
		Body: "Hello,\n\n" +
			"Your account in the NPNL Collaborator Console is currently inactive.\n" +
			fmt.Sprintf("To reactivate your account, please contact the NPNL team at %s.\n\n", s.contactEmail) +
			"Best regards,\nNPNL Team\n",
	}
}

// GetUserDetails returns the principal's own record. PI and Co-PI records
// come back with their roster materialized.
func (s *Service) GetUserDetails(ctx context.Context, p Principal) (Collaborator, error) {
	var out Collaborator
	err := s.run(ctx, "get_user_details", p.Key(), false, func(ctx context.Context) (string, error) {
		if err := requirePrincipal(p); err != nil {
			return "", err
		}
		t, err := s.loadTable(ctx)
		if err != nil {
			return "", err
		}
		rec := t.FindByEmail(p.Key())
		if rec == nil {
			return "", ErrNotFound{Entity: EntityCollaborator, Key: p.Key()}
		}
		newReconciler(t, s.logger).materialize(rec)
		out = rec.Clone()
		return rec.Index, nil
	})
	return out, err
}

// GetUserByIndex returns the record with the given index when the principal
// may see it.
func (s *Service) GetUserByIndex(ctx context.Context, p Principal, index string) (Collaborator, error) {
	var out Collaborator
	err := s.run(ctx, "get_user_by_index", p.Key(), false, func(ctx context.Context) (string, error) {
		index = strings.TrimSpace(index)
		if index == "" {
			return "", ErrValidation{Field: "index", Reason: "missing index"}
		}
		t, err := s.loadTable(ctx)
		if err != nil {
			return "", err
		}
		target := t.FindByIndex(index)
		if target == nil {
			return "", ErrNotFound{Entity: EntityCollaborator, Key: index}
		}
		newReconciler(t, s.logger).materialize(target)

		admin, err := s.isAdmin(ctx, p)
		if err != nil {
			return "", err
		}
		if !admin && !CanView(t.FindByEmail(p.Key()), target) {
			return "", ErrForbidden{Action: "view collaborator"}
		}
		out = target.Clone()
		return target.Index, nil
	})
	return out, err
}

// RoleInfo is the principal's role and cohorts.
type RoleInfo struct {
	Role    string     `json:"role"`
	Cohorts StringList `json:"cohorts"`
	IsAdmin bool       `json:"is_admin"`
}

// CurrentUserRole returns the principal's role. Admins are reported as
// "Admin" without cohorts.
func (s *Service) CurrentUserRole(ctx context.Context, p Principal) (RoleInfo, error) {
	var out RoleInfo
	err := s.run(ctx, "get_current_user_role", p.Key(), false, func(ctx context.Context) (string, error) {
		admin, err := s.isAdmin(ctx, p)
		if err != nil {
			return "", err
		}
		if admin {
			out = RoleInfo{Role: RoleAdmin, Cohorts: StringList{}, IsAdmin: true}
			return "", nil
		}
		t, err := s.loadTable(ctx)
		if err != nil {
			return "", err
		}
		rec := t.FindByEmail(p.Key())
		if rec == nil {
			return "", ErrNotFound{Entity: EntityCollaborator, Key: p.Key()}
		}
		role := rec.Role
		if role == "" {
			role = RoleMember
		}
		cohorts := cloneStrings(rec.CohortEnigmaList)
		if cohorts == nil {
			cohorts = StringList{}
		}
		out = RoleInfo{Role: role, Cohorts: cohorts}
		return rec.Index, nil
	})
	return out, err
}

// ListCollaborators returns the records visible to the principal, projected
// for table display, newest first.
func (s *Service) ListCollaborators(ctx context.Context, p Principal) ([]DisplayRow, error) {
	var out []DisplayRow
	err := s.run(ctx, "get_all_collaborators", p.Key(), false, func(ctx context.Context) (string, error) {
		t, err := s.loadTable(ctx)
		if err != nil {
			return "", err
		}
		admin, err := s.isAdmin(ctx, p)
		if err != nil {
			return "", err
		}
		if !admin && t.FindByEmail(p.Key()) == nil {
			return "", ErrNotFound{Entity: EntityCollaborator, Key: p.Key()}
		}
		out = DisplayTable(ProjectVisibleRoster(p.Key(), admin, t))
		return "", nil
	})
	return out, err
}

// PIRef names a PI or Co-PI attached to a cohort.
type PIRef struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// PIsByCohort maps each cohort to the PIs and Co-PIs listing it, without
// repeating a display name within a cohort.
func (s *Service) PIsByCohort(ctx context.Context) (map[string][]PIRef, error) {
	out := make(map[string][]PIRef)
	err := s.run(ctx, "pis_by_cohort", "", false, func(ctx context.Context) (string, error) {
		t, err := s.loadTable(ctx)
		if err != nil {
			return "", err
		}
		for _, rec := range t.All() {
			if !rec.IsPI() {
				continue
			}
			name := strings.TrimSpace(rec.FirstName + " " + rec.LastName)
			if name == "" {
				continue
			}
			for _, cohort := range rec.CohortEnigmaList {
				cohort = strings.TrimSpace(cohort)
				if cohort == "" {
					continue
				}
				if hasPIName(out[cohort], name) {
					continue
				}
				out[cohort] = append(out[cohort], PIRef{Name: name, Role: rec.Role})
			}
		}
		return "", nil
	})
	return out, err
}

func hasPIName(refs []PIRef, name string) bool {
	for _, ref := range refs {
		if ref.Name == name {
			return true
		}
	}
	return false
}

// EmailLookup is the public result of checking whether an email belongs to
// a collaborator.
type EmailLookup struct {
	Exists    bool   `json:"exists"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	Index     string `json:"index,omitempty"`
}

// CheckCollaboratorByEmail looks email up against primary emails and every
// entry of each record's email list.
func (s *Service) CheckCollaboratorByEmail(ctx context.Context, email string) (EmailLookup, error) {
	var out EmailLookup
	err := s.run(ctx, "check_collaborator_by_email", "", false, func(ctx context.Context) (string, error) {
		key := normalizeEmail(email)
		if key == "" {
			return "", ErrValidation{Field: "email", Reason: "email parameter is required"}
		}
		t, err := s.loadTable(ctx)
		if err != nil {
			return "", err
		}
		for _, rec := range t.All() {
			if rec.Email() != key && !containsEmail(rec.EmailList, key) {
				continue
			}
			role := rec.Role
			if role == "" {
				role = RoleMember
			}
			out = EmailLookup{
				Exists:    true,
				FirstName: rec.FirstName,
				LastName:  rec.LastName,
				Email:     rec.PrimaryEmail,
				Role:      role,
				Index:     rec.Index,
			}
			return rec.Index, nil
		}
		return "", nil
	})
	return out, err
}

// ExportCSV returns the stored collaborators table unchanged. Admin only.
func (s *Service) ExportCSV(ctx context.Context, p Principal) ([]byte, error) {
	var out []byte
	err := s.run(ctx, "download_csv", p.Key(), false, func(ctx context.Context) (string, error) {
		admin, err := s.isAdmin(ctx, p)
		if err != nil {
			return "", err
		}
		if !admin {
			return "", ErrForbidden{Action: "download csv", Message: "Only admins can download CSV"}
		}
		raw, err := s.store.RawCollaborators(ctx)
		if err != nil {
			return "", fmt.Errorf("read collaborators: %w", err)
		}
		out = raw
		return "", nil
	})
	return out, err
}

func containsEmail(list []string, key string) bool {
	for _, candidate := range list {
		if normalizeEmail(candidate) == key {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err is a typed not-found error.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}
