package core

import (
	"context"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCheckTableReportsEveryRule(t *testing.T) {
	jane := member("2", "jane@lab.org", "Jane", "Roe", "Smith")
	ghost := member("3", "ghost@lab.org", "Gus", "Toe", "Doe")
	pi := principalInvestigator("1", "smith@lab.org", "Ann", "Smith")
	pi.MembersInitialized = true
	pi.ActiveMembers = MemberList{refOf(ghost)}
	pi.FormerMembers = MemberList{refOf(ghost)}
	lazy := member("4", "lazy@lab.org", "Lou", "Zee")
	lazy.IsActive = true
	dupIndex := member("4", "other@lab.org", "Oz", "Her")
	dupEmail := member("5", "JANE@lab.org", "Jane", "Again")

	report := CheckTable(NewTable([]Collaborator{pi, jane, ghost, lazy, dupIndex, dupEmail}, 0))
	if report.Records != 6 || report.OK() {
		t.Fatalf("unexpected report header: %+v", report)
	}
	var rules []string
	for _, v := range report.Violations {
		rules = append(rules, v.Rule)
	}
	sort.Strings(rules)
	want := []string{
		RuleRosterOverlap,
		RuleMissingRoster,
		RuleDuplicateEmail,
		RuleDuplicateIndex,
		RuleMemberActivity,
		RuleRosterAffiliation,
	}
	sort.Strings(want)
	if diff := cmp.Diff(want, rules); diff != "" {
		t.Fatalf("rules mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckTableCleanAfterMutations(t *testing.T) {
	store := newMemoryTables(
		principalInvestigator("1", "smith@lab.org", "Ann", "Smith"),
		member("2", "jane@lab.org", "Jane", "Roe", "Smith"),
	)
	svc := newTestService(store)
	ctx := context.Background()
	smith := Principal{Email: "smith@lab.org"}

	if _, err := svc.UpdateUserDetails(ctx, smith, UpdateRequest{Index: "1"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := svc.AddCollaborator(ctx, smith, AddRequest{Emails: StringList{"new@lab.org"}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	report, err := svc.Audit(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !report.OK() {
		t.Fatalf("expected clean table, got %+v", report.Violations)
	}
}

func TestNormalizeRewritesTable(t *testing.T) {
	store := newMemoryTables(member("1", "jane@lab.org", "Jane", "Roe"), member("2", "bob@lab.org", "Bob", "Poe"))
	svc := newTestService(store)

	n, err := svc.Normalize(context.Background())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if n != 2 || store.loads != 1 || store.saves != 1 {
		t.Fatalf("expected 2 records in one load and save, got %d (%d loads %d saves)", n, store.loads, store.saves)
	}
}
