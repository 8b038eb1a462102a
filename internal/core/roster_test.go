package core

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMaterializeKeepsCuratedRoster(t *testing.T) {
	jane := member("2", "jane@lab.org", "Jane", "Roe", "Smith")
	bob := member("3", "bob@lab.org", "Bob", "Poe", "Smith")
	carl := member("4", "carl@lab.org", "Carl", "Coe", "Smith")
	admin := member("5", "ops@lab.org", "Ops", "Desk", "Smith")
	admin.Role = "Staff"
	pi := withRoster(principalInvestigator("1", "smith@lab.org", "Ann", "Smith"), []Collaborator{jane}, []Collaborator{bob})
	tbl := NewTable([]Collaborator{pi, jane, bob, carl, admin}, 0)
	r := newReconciler(tbl, nil)

	added := r.materialize(tbl.FindByEmail("smith@lab.org"))
	if added != 1 {
		t.Fatalf("expected one new entry, got %d", added)
	}
	got := tbl.FindByEmail("smith@lab.org")
	if diff := cmp.Diff([]string{"jane@lab.org", "carl@lab.org"}, emailsOf(got.ActiveMembers)); diff != "" {
		t.Fatalf("active roster mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"bob@lab.org"}, emailsOf(got.FormerMembers)); diff != "" {
		t.Fatalf("former roster mismatch (-want +got):\n%s", diff)
	}
}

func TestMaterializeSkipsSelfAndNonPIs(t *testing.T) {
	self := principalInvestigator("1", "smith@lab.org", "Ann", "Smith")
	self.PILastNames = StringList{"Smith"}
	jane := member("2", "jane@lab.org", "Jane", "Roe", "Smith")
	tbl := NewTable([]Collaborator{self, jane}, 0)
	r := newReconciler(tbl, nil)

	r.materialize(tbl.FindByEmail("smith@lab.org"))
	if diff := cmp.Diff([]string{"jane@lab.org"}, emailsOf(tbl.FindByEmail("smith@lab.org").ActiveMembers)); diff != "" {
		t.Fatalf("roster mismatch (-want +got):\n%s", diff)
	}
	if n := r.materialize(tbl.FindByEmail("jane@lab.org")); n != 0 {
		t.Fatalf("expected members not to materialize, got %d", n)
	}
}

func TestMaterializeIsStable(t *testing.T) {
	jane := member("2", "jane@lab.org", "Jane", "Roe", "Smith")
	bob := member("3", "bob@lab.org", "Bob", "Poe", "Smith")
	tbl := NewTable([]Collaborator{principalInvestigator("1", "smith@lab.org", "Ann", "Smith"), jane, bob}, 0)
	r := newReconciler(tbl, nil)
	pi := tbl.FindByEmail("smith@lab.org")

	r.materialize(pi)
	pi.MembersInitialized = true
	first := append(MemberList(nil), pi.ActiveMembers...)
	if n := r.materialize(pi); n != 0 {
		t.Fatalf("expected second pass to add nothing, got %d", n)
	}
	if diff := cmp.Diff(first, pi.ActiveMembers); diff != "" {
		t.Fatalf("roster changed on second pass (-first +second):\n%s", diff)
	}
}

func TestEnforceDisjointPrefersActive(t *testing.T) {
	jane := member("2", "jane@lab.org", "Jane", "Roe", "Smith")
	pi := principalInvestigator("1", "smith@lab.org", "Ann", "Smith")
	pi.ActiveMembers = MemberList{refOf(jane), {Email: "JANE@lab.org"}}
	pi.FormerMembers = MemberList{{Email: "jane@lab.org"}, {Email: "bob@lab.org"}, {Email: "bob@lab.org"}}
	tbl := NewTable([]Collaborator{pi, jane}, 0)

	newReconciler(tbl, nil).enforceDisjoint()
	got := tbl.FindByEmail("smith@lab.org")
	if diff := cmp.Diff([]string{"jane@lab.org"}, emailsOf(got.ActiveMembers)); diff != "" {
		t.Fatalf("active mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"bob@lab.org"}, emailsOf(got.FormerMembers)); diff != "" {
		t.Fatalf("former mismatch (-want +got):\n%s", diff)
	}
}

func TestAffiliationAddJoinsNewPIRoster(t *testing.T) {
	jane := member("3", "jane@lab.org", "Jane", "Roe", "Smith")
	store := newMemoryTables(
		withRoster(principalInvestigator("1", "smith@lab.org", "Ann", "Smith"), []Collaborator{jane}, nil),
		withRoster(principalInvestigator("2", "doe@lab.org", "Dan", "Doe"), nil, []Collaborator{jane}),
		jane,
	)
	svc := newTestService(store)

	_, err := svc.UpdateUserDetails(context.Background(), Principal{Email: "jane@lab.org"}, UpdateRequest{
		Index:       "3",
		PILastNames: Some(StringList{"Smith", " doe "}),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	doe := store.find(t, "doe@lab.org")
	if !doe.ActiveMembers.Contains("jane@lab.org") || doe.FormerMembers.Contains("jane@lab.org") {
		t.Fatalf("expected jane reactivated on doe, active=%v former=%v", emailsOf(doe.ActiveMembers), emailsOf(doe.FormerMembers))
	}
	smith := store.find(t, "smith@lab.org")
	if len(smith.ActiveMembers) != 1 {
		t.Fatalf("expected smith roster unchanged, got %v", emailsOf(smith.ActiveMembers))
	}
	stored := store.find(t, "jane@lab.org")
	if diff := cmp.Diff(StringList{"Smith", "doe"}, stored.PILastNames); diff != "" {
		t.Fatalf("pi names mismatch (-want +got):\n%s", diff)
	}
	if !stored.IsActive {
		t.Fatalf("expected member with PIs to be active")
	}
	assertRosterInvariants(t, store, true)
}

func rosterEditFixture() *memoryTables {
	jane := member("2", "jane@lab.org", "Jane", "Roe", "Smith")
	bob := member("3", "bob@lab.org", "Bob", "Poe", "Smith")
	carl := member("4", "carl@lab.org", "Carl", "Coe")
	dana := member("5", "dana@lab.org", "Dana", "Dee", "Smith", "Doe")
	pi := withRoster(principalInvestigator("1", "smith@lab.org", "Ann", "Smith"), []Collaborator{jane, bob, dana}, nil)
	return newMemoryTables(pi, jane, bob, carl, dana)
}

func TestPIRosterEditUpdatesMembers(t *testing.T) {
	cases := []struct {
		name      string
		baseline  RosterBaseline
		wantLoads int
	}{
		{name: "snapshot", baseline: BaselineSnapshot, wantLoads: 1},
		{name: "reload", baseline: BaselineReload, wantLoads: 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := rosterEditFixture()
			svc := newTestService(store, WithRosterBaseline(tc.baseline))
			smith := Principal{Email: "smith@lab.org"}

			_, err := svc.UpdateUserDetails(context.Background(), smith, UpdateRequest{
				Index: "1",
				ActiveMembers: Some(MemberList{
					{FirstName: "Jane", LastName: "Roe", Email: "jane@lab.org", Role: RoleMember},
					{FirstName: "Carl", LastName: "Coe", Email: "carl@lab.org", Role: RoleMember},
				}),
				FormerMembers: Some(MemberList{
					{FirstName: "Bob", LastName: "Poe", Email: "bob@lab.org", Role: RoleMember},
					{FirstName: "Dana", LastName: "Dee", Email: "dana@lab.org", Role: RoleMember},
				}),
			})
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if store.loads != tc.wantLoads || store.saves != 1 {
				t.Fatalf("expected %d loads and 1 save, got %d and %d", tc.wantLoads, store.loads, store.saves)
			}

			carl := store.find(t, "carl@lab.org")
			if diff := cmp.Diff(StringList{"Smith"}, carl.PILastNames); diff != "" || !carl.IsActive {
				t.Fatalf("expected carl affiliated and active, active=%t (-want +got):\n%s", carl.IsActive, diff)
			}
			bob := store.find(t, "bob@lab.org")
			if len(bob.PILastNames) != 0 || bob.IsActive {
				t.Fatalf("expected bob retired, pis=%v active=%t", bob.PILastNames, bob.IsActive)
			}
			dana := store.find(t, "dana@lab.org")
			if diff := cmp.Diff(StringList{"Doe"}, dana.PILastNames); diff != "" || !dana.IsActive {
				t.Fatalf("expected dana to keep doe and stay active, active=%t (-want +got):\n%s", dana.IsActive, diff)
			}
			jane := store.find(t, "jane@lab.org")
			if diff := cmp.Diff(StringList{"Smith"}, jane.PILastNames); diff != "" || !jane.IsActive {
				t.Fatalf("expected jane untouched (-want +got):\n%s", diff)
			}
			assertRosterInvariants(t, store, true)
		})
	}
}

func TestPIRosterEditReactivatesFormerMember(t *testing.T) {
	bob := member("2", "bob@lab.org", "Bob", "Poe")
	store := newMemoryTables(
		withRoster(principalInvestigator("1", "smith@lab.org", "Ann", "Smith"), nil, []Collaborator{bob}),
		bob,
	)
	svc := newTestService(store)

	_, err := svc.UpdateUserDetails(context.Background(), Principal{Email: "smith@lab.org"}, UpdateRequest{
		Index:         "1",
		ActiveMembers: Some(MemberList{refOf(bob)}),
		FormerMembers: Some(MemberList{}),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	stored := store.find(t, "bob@lab.org")
	if diff := cmp.Diff(StringList{"Smith"}, stored.PILastNames); diff != "" || !stored.IsActive {
		t.Fatalf("expected bob reactivated, active=%t (-want +got):\n%s", stored.IsActive, diff)
	}
	smith := store.find(t, "smith@lab.org")
	if len(smith.FormerMembers) != 0 {
		t.Fatalf("expected empty former roster, got %v", emailsOf(smith.FormerMembers))
	}
	assertRosterInvariants(t, store, true)
}

func TestPIRosterEditOverlapKeepsActive(t *testing.T) {
	jane := member("2", "jane@lab.org", "Jane", "Roe", "Smith")
	store := newMemoryTables(
		withRoster(principalInvestigator("1", "smith@lab.org", "Ann", "Smith"), []Collaborator{jane}, nil),
		jane,
	)
	svc := newTestService(store)

	_, err := svc.UpdateUserDetails(context.Background(), Principal{Email: adminEmail}, UpdateRequest{
		Index:         "1",
		ActiveMembers: Some(MemberList{refOf(jane)}),
		FormerMembers: Some(MemberList{refOf(jane)}),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	smith := store.find(t, "smith@lab.org")
	if !smith.ActiveMembers.Contains("jane@lab.org") || smith.FormerMembers.Contains("jane@lab.org") {
		t.Fatalf("expected overlap resolved in favour of active")
	}
	stored := store.find(t, "jane@lab.org")
	if !stored.AffiliatedWith("Smith") || !stored.IsActive {
		t.Fatalf("expected jane to keep her affiliation, pis=%v active=%t", stored.PILastNames, stored.IsActive)
	}
	assertRosterInvariants(t, store, true)
}

func TestIndicesAreNeverReused(t *testing.T) {
	store := newMemoryTables()
	svc := newTestService(store)
	ctx := context.Background()
	admin := Principal{Email: adminEmail}

	for i, email := range []string{"a@lab.org", "b@lab.org", "c@lab.org", "d@lab.org", "e@lab.org"} {
		rec, err := svc.AddCollaborator(ctx, admin, AddRequest{Emails: StringList{email}, Role: RolePI})
		if err != nil {
			t.Fatalf("add %s: %v", email, err)
		}
		if want := string(rune('1' + i)); rec.Index != want {
			t.Fatalf("expected index %s, got %s", want, rec.Index)
		}
	}
	for _, index := range []IndexValue{"5", "2"} {
		if err := svc.DeleteCollaborator(ctx, admin, DeleteRequest{Index: index}); err != nil {
			t.Fatalf("delete %s: %v", index, err)
		}
	}
	rec, err := svc.AddCollaborator(ctx, admin, AddRequest{Emails: StringList{"f@lab.org"}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if rec.Index != "6" {
		t.Fatalf("expected index 6 after deleting the highest index, got %s", rec.Index)
	}
	if _, err := svc.AddCollaborator(ctx, admin, AddRequest{Emails: StringList{"g@lab.org"}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := store.find(t, "g@lab.org").Index; got != "7" {
		t.Fatalf("expected index 7, got %s", got)
	}
}

func TestPIAddsAffiliatedMember(t *testing.T) {
	store := newMemoryTables(
		withRoster(principalInvestigator("1", "smith@lab.org", "Ann", "Smith"), nil, nil),
		withRoster(principalInvestigator("2", "doe@lab.org", "Dan", "Doe"), nil, nil),
	)
	svc := newTestService(store)

	rec, err := svc.AddCollaborator(context.Background(), Principal{Email: "smith@lab.org"}, AddRequest{
		Emails:           StringList{"new@lab.org", "alt@lab.org"},
		FirstName:        " New ",
		LastName:         "Person",
		Role:             RolePI,
		CohortEnigmaList: StringList{"ADNI"},
		PILastNames:      StringList{"Doe"},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if rec.Role != RoleMember || len(rec.CohortEnigmaList) != 0 || rec.Index != "3" || rec.FirstName != "New" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if diff := cmp.Diff(StringList{"Smith"}, rec.PILastNames); diff != "" {
		t.Fatalf("pi names mismatch (-want +got):\n%s", diff)
	}
	if !store.find(t, "smith@lab.org").ActiveMembers.Contains("new@lab.org") {
		t.Fatalf("expected new member on smith roster")
	}
	if store.find(t, "doe@lab.org").ActiveMembers.Contains("new@lab.org") {
		t.Fatalf("expected doe roster untouched")
	}
	assertRosterInvariants(t, store, true)
}

func TestAdminAddsMemberToEveryNamedPI(t *testing.T) {
	store := newMemoryTables(
		withRoster(principalInvestigator("1", "smith@lab.org", "Ann", "Smith"), nil, nil),
		principalInvestigator("2", "doe@lab.org", "Dan", "Doe"),
	)
	svc := newTestService(store)

	_, err := svc.AddCollaborator(context.Background(), Principal{Email: adminEmail}, AddRequest{
		Emails:      StringList{"new@lab.org"},
		Role:        RoleMember,
		PILastNames: StringList{"Smith", "Doe", " "},
		Institutions: Institutions{
			{University: "USC"},
		},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	for _, pi := range []string{"smith@lab.org", "doe@lab.org"} {
		rec := store.find(t, pi)
		if !rec.ActiveMembers.Contains("new@lab.org") || !rec.MembersInitialized {
			t.Fatalf("%s: expected new member on initialized roster", pi)
		}
	}
	stored := store.find(t, "new@lab.org")
	if diff := cmp.Diff(StringList{"USC"}, stored.UniversityList); diff != "" {
		t.Fatalf("university mismatch (-want +got):\n%s", diff)
	}
	assertRosterInvariants(t, store, true)
}

func TestMemberCannotAdd(t *testing.T) {
	store := newMemoryTables(member("1", "jane@lab.org", "Jane", "Roe"))
	svc := newTestService(store)

	_, err := svc.AddCollaborator(context.Background(), Principal{Email: "jane@lab.org"}, AddRequest{Emails: StringList{"new@lab.org"}})
	if PublicMessage(err) != "Only Admins and PIs can add collaborators" {
		t.Fatalf("expected forbidden message, got %v", err)
	}
	if store.saves != 0 {
		t.Fatalf("expected no save, got %d", store.saves)
	}
}

func TestBlankRoleRowsJoinRosters(t *testing.T) {
	legacy := member("2", "blank@lab.org", "Bo", "Lank", "Smith")
	legacy.Role = ""
	store := newMemoryTables(principalInvestigator("1", "smith@lab.org", "Ann", "Smith"), legacy)
	svc := newTestService(store)
	ctx := context.Background()

	rec, err := svc.GetUserDetails(ctx, Principal{Email: "smith@lab.org"})
	if err != nil {
		t.Fatalf("get user details: %v", err)
	}
	want := MemberList{{FirstName: "Bo", LastName: "Lank", Email: "blank@lab.org", Role: RoleMember}}
	if diff := cmp.Diff(want, rec.ActiveMembers); diff != "" {
		t.Fatalf("materialized roster mismatch (-want +got):\n%s", diff)
	}

	_, err = svc.UpdateUserDetails(ctx, Principal{Email: adminEmail}, UpdateRequest{Index: "2", PILastNames: Some(StringList{})})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	smith := store.find(t, "smith@lab.org")
	if smith.ActiveMembers.Contains("blank@lab.org") || !smith.FormerMembers.Contains("blank@lab.org") {
		t.Fatalf("expected blank-role row retired, active=%v former=%v", emailsOf(smith.ActiveMembers), emailsOf(smith.FormerMembers))
	}
	if store.find(t, "blank@lab.org").IsActive {
		t.Fatalf("expected blank-role row inactive without PIs")
	}
	assertRosterInvariants(t, store, true)
}
