package core

import (
	"context"
	"fmt"
	"strings"
)

// AdminStatus reports the principal's membership of both admin tables.
type AdminStatus struct {
	IsAdmin            bool `json:"is_admin"`
	IsDataRequestAdmin bool `json:"is_data_request_admin"`
}

// authorizeAdminList checks that p may manage list. Directory admins manage
// both tables; data-request admins manage their own.
func (s *Service) authorizeAdminList(ctx context.Context, p Principal, list AdminList) error {
	admin, err := s.isAdmin(ctx, p)
	if err != nil {
		return err
	}
	if admin {
		return nil
	}
	if list == DataRequestAdmins {
		ok, err := s.inAdminList(ctx, DataRequestAdmins, p)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ErrForbidden{Action: fmt.Sprintf("manage %s admins", list)}
}

func validAdminList(list AdminList) error {
	switch list {
	case DirectoryAdmins, DataRequestAdmins:
		return nil
	default:
		return ErrValidation{Field: "list", Reason: fmt.Sprintf("unknown admin list %q", list)}
	}
}

// ListAdmins returns the emails of list.
func (s *Service) ListAdmins(ctx context.Context, p Principal, list AdminList) ([]string, error) {
	var out []string
	err := s.run(ctx, "list_admins", p.Key(), false, func(ctx context.Context) (string, error) {
		if err := validAdminList(list); err != nil {
			return "", err
		}
		if err := s.authorizeAdminList(ctx, p, list); err != nil {
			return "", err
		}
		admins, err := s.loadAdmins(ctx, list)
		if err != nil {
			return "", err
		}
		out = append([]string{}, admins...)
		return string(list), nil
	})
	return out, err
}

// AddAdmin appends email to list.
func (s *Service) AddAdmin(ctx context.Context, p Principal, list AdminList, email string) error {
	return s.run(ctx, "add_admin", p.Key(), true, func(ctx context.Context) (string, error) {
		if err := validAdminList(list); err != nil {
			return "", err
		}
		email = strings.TrimSpace(email)
		if email == "" || !strings.Contains(email, "@") {
			return "", ErrValidation{Field: "email", Reason: "a valid email is required"}
		}
		if err := s.authorizeAdminList(ctx, p, list); err != nil {
			return "", err
		}
		admins, err := s.loadAdmins(ctx, list)
		if err != nil {
			return "", err
		}
		if containsEmail(admins, normalizeEmail(email)) {
			return "", ErrConflict{Entity: EntityAdmin, Key: normalizeEmail(email)}
		}
		updated := append(append(make([]string, 0, len(admins)+1), admins...), email)
		if err := s.store.SaveAdmins(ctx, list, updated); err != nil {
			return "", fmt.Errorf("save %s admins: %w", list, err)
		}
		return normalizeEmail(email), nil
	})
}

// DeleteAdmin removes email from list.
func (s *Service) DeleteAdmin(ctx context.Context, p Principal, list AdminList, email string) error {
	return s.run(ctx, "delete_admin", p.Key(), true, func(ctx context.Context) (string, error) {
		if err := validAdminList(list); err != nil {
			return "", err
		}
		key := normalizeEmail(email)
		if key == "" {
			return "", ErrValidation{Field: "email", Reason: "email is required"}
		}
		if err := s.authorizeAdminList(ctx, p, list); err != nil {
			return "", err
		}
		admins, err := s.loadAdmins(ctx, list)
		if err != nil {
			return "", err
		}
		kept := make([]string, 0, len(admins))
		for _, admin := range admins {
			if normalizeEmail(admin) != key {
				kept = append(kept, admin)
			}
		}
		if len(kept) == len(admins) {
			return "", ErrNotFound{Entity: EntityAdmin, Key: key}
		}
		if err := s.store.SaveAdmins(ctx, list, kept); err != nil {
			return "", fmt.Errorf("save %s admins: %w", list, err)
		}
		return key, nil
	})
}

// CheckAdminStatus reports whether p appears in either admin table.
func (s *Service) CheckAdminStatus(ctx context.Context, p Principal) (AdminStatus, error) {
	var out AdminStatus
	err := s.run(ctx, "check_admin_status", p.Key(), false, func(ctx context.Context) (string, error) {
		admin, err := s.isAdmin(ctx, p)
		if err != nil {
			return "", err
		}
		dataAdmin, err := s.inAdminList(ctx, DataRequestAdmins, p)
		if err != nil {
			return "", err
		}
		out = AdminStatus{IsAdmin: admin, IsDataRequestAdmin: admin || dataAdmin}
		return "", nil
	})
	return out, err
}

// SendInvite emails an invitation to join the directory. Admins, PIs and
// Co-PIs may invite; delivery is synchronous.
func (s *Service) SendInvite(ctx context.Context, p Principal, email, senderName string) error {
	return s.run(ctx, "send_invite_email", p.Key(), true, func(ctx context.Context) (string, error) {
		email = strings.TrimSpace(email)
		if email == "" || !strings.Contains(email, "@") {
			return "", ErrValidation{Field: "email", Reason: "a valid email is required"}
		}
		admin, err := s.isAdmin(ctx, p)
		if err != nil {
			return "", err
		}
		if !admin {
			t, err := s.loadTable(ctx)
			if err != nil {
				return "", err
			}
			if rec := t.FindByEmail(p.Key()); rec == nil || !rec.IsPI() {
				return "", ErrForbidden{Action: "send invite", Message: "Only PIs and Admins can send invites"}
			}
		}
		if err := s.mailer.Send(ctx, inviteEmail(email, senderName)); err != nil {
			return "", fmt.Errorf("send invitation: %w", err)
		}
		return normalizeEmail(email), nil
	})
}

func inviteEmail(to, senderName string) Email {
	senderName = strings.TrimSpace(senderName)
	if senderName == "" {
		senderName = "ENIGMA Team"
	}
	return Email{
		To:      to,
		Subject: "Invitation to Join ENIGMA Collaborators",
		Body: "Hello,\n\n" +
			fmt.Sprintf("%s has invited you to join the ENIGMA Collaborators directory.\n", senderName) +
			"Sign in with this email address to create your profile and join the team.\n\n" +
			"If you have any questions, please contact the ENIGMA team.\n\n" +
			"Best regards,\nENIGMA Team\n",
	}
}
