package core

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// memoryTables is a TableStore fake that counts loads and saves.
type memoryTables struct {
	mu        sync.Mutex
	records   []Collaborator
	highWater int
	admins    map[AdminList][]string
	raw       []byte
	loads     int
	saves     int
	loadErr   error
	saveErr   error
}

func newMemoryTables(records ...Collaborator) *memoryTables {
	return &memoryTables{
		records: records,
		admins:  map[AdminList][]string{},
	}
}

func (m *memoryTables) LoadCollaborators(context.Context) (*Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return NewTable(m.records, m.highWater), nil
}

func (m *memoryTables) SaveCollaborators(_ context.Context, t *Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records = t.Records()
	m.highWater = t.HighWater()
	return nil
}

func (m *memoryTables) RawCollaborators(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.raw...), nil
}

func (m *memoryTables) LoadAdmins(_ context.Context, list AdminList) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.admins[list]...), nil
}

func (m *memoryTables) SaveAdmins(_ context.Context, list AdminList, emails []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admins[list] = append([]string(nil), emails...)
	return nil
}

func (m *memoryTables) find(t *testing.T, email string) Collaborator {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if strings.EqualFold(rec.PrimaryEmail, email) {
			return rec.Clone()
		}
	}
	t.Fatalf("no stored record for %s", email)
	return Collaborator{}
}

func (m *memoryTables) table() *Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	return NewTable(m.records, m.highWater)
}

// memoryObjects is an ObjectStore fake.
type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	times   map[string]time.Time
	seq     int
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}, times: map[string]time.Time{}}
}

func (m *memoryObjects) PutObject(_ context.Context, key string, body []byte, _ string) (ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.objects[key] = append([]byte(nil), body...)
	m.times[key] = time.Unix(int64(m.seq), 0).UTC()
	return ObjectInfo{Key: key, Size: int64(len(body)), LastModified: m.times[key], URL: "https://bucket.example/" + key}, nil
}

func (m *memoryObjects) GetObject(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound{Entity: EntityObject, Key: key}
	}
	return append([]byte(nil), body...), nil
}

func (m *memoryObjects) DeleteObject(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	delete(m.objects, key)
	return ok, nil
}

func (m *memoryObjects) ListObjects(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for key, body := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, Size: int64(len(body)), LastModified: m.times[key]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []Email
}

func (c *captureNotifier) Notify(_ context.Context, msg Email) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return true
}

func (c *captureNotifier) Send(ctx context.Context, msg Email) error {
	c.Notify(ctx, msg)
	return nil
}

type stubClock struct{ t time.Time }

func (s stubClock) Now() time.Time { return s.t }

var fixedTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

const adminEmail = "admin@lab.org"

func newTestService(store *memoryTables, opts ...ServiceOption) *Service {
	store.admins[DirectoryAdmins] = append(store.admins[DirectoryAdmins], adminEmail)
	opts = append([]ServiceOption{WithClock(stubClock{t: fixedTime})}, opts...)
	return NewService(store, newMemoryObjects(), opts...)
}

func member(index, email, first, last string, pis ...string) Collaborator {
	return Collaborator{
		Index:        index,
		PrimaryEmail: email,
		EmailList:    StringList{email},
		FirstName:    first,
		LastName:     last,
		Role:         RoleMember,
		PILastNames:  pis,
		IsActive:     len(pis) > 0,
	}
}

func principalInvestigator(index, email, first, last string) Collaborator {
	return Collaborator{
		Index:        index,
		PrimaryEmail: email,
		EmailList:    StringList{email},
		FirstName:    first,
		LastName:     last,
		Role:         RolePI,
		IsActive:     true,
	}
}

func refOf(c Collaborator) MemberRef {
	return c.Ref()
}

func emailsOf(list MemberList) []string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, m.Email)
	}
	return out
}

// assertRosterInvariants checks active/former disjointness on every PI and,
// when checkActivity is set, that every Member's activity follows its PI list.
func assertRosterInvariants(t *testing.T, store *memoryTables, checkActivity bool) {
	t.Helper()
	for _, v := range CheckTable(store.table()).Violations {
		switch v.Rule {
		case RuleRosterOverlap, RuleDuplicateIndex, RuleDuplicateEmail:
			t.Fatalf("violation %s on %s: %s", v.Rule, v.Email, v.Detail)
		case RuleMemberActivity:
			if checkActivity {
				t.Fatalf("violation %s on %s: %s", v.Rule, v.Email, v.Detail)
			}
		}
	}
}
