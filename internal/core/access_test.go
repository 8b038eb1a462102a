package core

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAuthorize(t *testing.T) {
	inactive := member("2", "old@lab.org", "Old", "Timer")
	tbl := NewTable([]Collaborator{
		principalInvestigator("1", "smith@lab.org", "Ann", "Smith"),
		inactive,
	}, 0)

	cases := []struct {
		name  string
		email string
		admin bool
		want  Authorization
	}{
		{
			name:  "admin without record",
			email: "root@lab.org",
			admin: true,
			want: Authorization{
				Authorized: true, IsAdmin: true, CanAccessCollaboratorsConsole: true,
				CanAccessDataRequest: true, IsActive: true, Role: RoleAdmin,
			},
		},
		{
			name:  "inactive collaborator",
			email: "old@lab.org",
			want:  Authorization{IsCollaborator: true, Role: RoleMember},
		},
		{
			name:  "stranger",
			email: "nobody@lab.org",
			want:  Authorization{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Authorize(tc.email, tc.admin, tbl)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("authorization mismatch (-want +got):\n%s", diff)
			}
		})
	}

	active := Authorize("SMITH@lab.org", false, tbl)
	if !active.Authorized || active.Role != RolePI || active.UserDetails == nil || active.UserDetails.Index != "1" {
		t.Fatalf("expected active PI authorized with details, got %+v", active)
	}
	active.UserDetails.FirstName = "changed"
	if tbl.FindByEmail("smith@lab.org").FirstName != "Ann" {
		t.Fatalf("authorization details must not alias the table")
	}
}

func TestCanView(t *testing.T) {
	jane := member("2", "jane@lab.org", "Jane", "Roe", "Smith")
	bob := member("3", "bob@lab.org", "Bob", "Poe")
	carl := member("4", "carl@lab.org", "Carl", "Coe", "Doe")
	pi := principalInvestigator("1", "smith@lab.org", "Ann", "Smith")
	pi.FormerMembers = MemberList{refOf(bob)}
	tbl := NewTable([]Collaborator{pi, jane, bob, carl}, 0)
	smith := tbl.FindByEmail("smith@lab.org")

	cases := []struct {
		viewer *Collaborator
		target string
		want   bool
	}{
		{viewer: smith, target: "smith@lab.org", want: true},
		{viewer: smith, target: "jane@lab.org", want: true},
		{viewer: smith, target: "bob@lab.org", want: true},
		{viewer: smith, target: "carl@lab.org", want: false},
		{viewer: tbl.FindByEmail("jane@lab.org"), target: "jane@lab.org", want: true},
		{viewer: tbl.FindByEmail("jane@lab.org"), target: "bob@lab.org", want: false},
		{viewer: nil, target: "jane@lab.org", want: false},
	}
	for _, tc := range cases {
		if got := CanView(tc.viewer, tbl.FindByEmail(tc.target)); got != tc.want {
			name := "<nil>"
			if tc.viewer != nil {
				name = tc.viewer.PrimaryEmail
			}
			t.Fatalf("CanView(%s, %s) = %t, want %t", name, tc.target, got, tc.want)
		}
	}
}

func TestListCollaboratorsProjection(t *testing.T) {
	jane := member("2", "jane@lab.org", "Jane", "Roe", "Smith")
	jane.UniversityList = StringList{"USC", "UCLA"}
	bob := member("10", "bob@lab.org", "Bob", "Poe", "Smith")
	bob.Role = ""
	carl := member("3", "carl@lab.org", "Carl", "Coe", "Doe")
	store := newMemoryTables(principalInvestigator("1", "smith@lab.org", "Ann", "Smith"), jane, bob, carl)
	svc := newTestService(store)
	ctx := context.Background()

	rows, err := svc.ListCollaborators(ctx, Principal{Email: "smith@lab.org"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var indices []string
	for _, row := range rows {
		indices = append(indices, row.Index)
	}
	if diff := cmp.Diff([]string{"10", "2", "1"}, indices); diff != "" {
		t.Fatalf("expected newest first without carl (-want +got):\n%s", diff)
	}
	if rows[0].Role != RoleMember || rows[0].Email != "bob@lab.org" || rows[0].IsActive != "true" {
		t.Fatalf("unexpected projection: %+v", rows[0])
	}
	if rows[1].University != "USC" {
		t.Fatalf("expected first university, got %q", rows[1].University)
	}

	rows, err = svc.ListCollaborators(ctx, Principal{Email: "jane@lab.org"})
	if err != nil || len(rows) != 1 || rows[0].Email != "jane@lab.org" {
		t.Fatalf("expected member to see only themself, got %v (%v)", rows, err)
	}
	rows, err = svc.ListCollaborators(ctx, Principal{Email: adminEmail})
	if err != nil || len(rows) != 4 {
		t.Fatalf("expected admin to see every record, got %d (%v)", len(rows), err)
	}
	if _, err := svc.ListCollaborators(ctx, Principal{Email: "ghost@lab.org"}); !IsNotFound(err) {
		t.Fatalf("expected not found for unknown caller, got %v", err)
	}
}

func TestSortNewestFirstUnparsableLast(t *testing.T) {
	recs := []*Collaborator{{Index: "x"}, {Index: "3"}, {Index: ""}, {Index: "12"}}
	SortNewestFirst(recs)
	var got []string
	for _, rec := range recs {
		got = append(got, rec.Index)
	}
	if diff := cmp.Diff([]string{"12", "3", "x", ""}, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestGetUserByIndexVisibility(t *testing.T) {
	store := newMemoryTables(
		principalInvestigator("1", "smith@lab.org", "Ann", "Smith"),
		member("2", "jane@lab.org", "Jane", "Roe", "Smith"),
		member("3", "bob@lab.org", "Bob", "Poe"),
	)
	svc := newTestService(store)
	ctx := context.Background()

	rec, err := svc.GetUserByIndex(ctx, Principal{Email: "smith@lab.org"}, "1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff([]string{"jane@lab.org"}, emailsOf(rec.ActiveMembers)); diff != "" {
		t.Fatalf("expected materialized roster (-want +got):\n%s", diff)
	}
	if _, err := svc.GetUserByIndex(ctx, Principal{Email: "smith@lab.org"}, "2"); err != nil {
		t.Fatalf("expected PI to see affiliated member: %v", err)
	}
	if _, err := svc.GetUserByIndex(ctx, Principal{Email: "jane@lab.org"}, "3"); Classify(err) != KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.GetUserByIndex(ctx, Principal{Email: adminEmail}, "3"); err != nil {
		t.Fatalf("expected admin to see every record: %v", err)
	}
	if _, err := svc.GetUserByIndex(ctx, Principal{Email: adminEmail}, "99"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.GetUserByIndex(ctx, Principal{Email: adminEmail}, " "); Classify(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCheckAuthorizationDenials(t *testing.T) {
	store := newMemoryTables(member("1", "old@lab.org", "Old", "Timer"))
	notifier := &captureNotifier{}
	svc := newTestService(store, WithNotifier(notifier), WithInactiveNotices(true), WithContactEmail("help@lab.org"))
	ctx := context.Background()

	out, err := svc.CheckAuthorization(ctx, Principal{Email: "old@lab.org"})
	if Classify(err) != KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if !out.IsCollaborator || out.Authorized || !strings.Contains(out.Message, "inactive") || !strings.Contains(PublicMessage(err), "help@lab.org") {
		t.Fatalf("unexpected inactive outcome: %+v (%v)", out, err)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].To != "old@lab.org" || notifier.sent[0].Subject != "Account Inactive - NPNL Collaborator Console" {
		t.Fatalf("expected one inactive notice, got %+v", notifier.sent)
	}

	out, err = svc.CheckAuthorization(ctx, Principal{Email: "nobody@lab.org"})
	if Classify(err) != KindForbidden || !strings.Contains(out.Message, "not authorized") {
		t.Fatalf("unexpected stranger outcome: %+v (%v)", out, err)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected no notice for strangers, got %d", len(notifier.sent))
	}

	out, err = svc.CheckAuthorization(ctx, Principal{Email: adminEmail})
	if err != nil || !out.IsAdmin || !out.Authorized {
		t.Fatalf("expected admin authorized, got %+v (%v)", out, err)
	}
	if _, err := svc.CheckAuthorization(ctx, Principal{}); Classify(err) != KindValidation {
		t.Fatalf("expected validation error for missing email, got %v", err)
	}
}
