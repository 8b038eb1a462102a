package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"collabdir/internal/blob"
	"collabdir/internal/config"
	"collabdir/internal/core"
	"collabdir/internal/persistence/csvtable"
)

// writeConfig stores a filesystem-backed configuration under a temp dir and
// returns its path together with the storage root.
func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "blobs")
	content := fmt.Sprintf(`storage:
  driver: fs
  fs_root: %s
auth:
  driver: static
  static_tokens:
    admin-token: admin@lab.org
log:
  level: error
mail:
  driver: none
metrics:
  driver: none
%s`, root, extra)
	path := filepath.Join(dir, "collabdir.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, root
}

func openTables(t *testing.T, root string) *csvtable.Store {
	t.Helper()
	blobs, err := blob.Open(context.Background(), blob.Options{Driver: blob.DriverFilesystem, FSRoot: root})
	if err != nil {
		t.Fatalf("open blobs: %v", err)
	}
	return csvtable.New(blobs, csvtable.Keys{})
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestAdminsLifecycle(t *testing.T) {
	cfgPath, root := writeConfig(t, "")

	if code, out, errOut := run(t, "-c", cfgPath, "admins", "add", "lead@lab.org"); code != 0 || !strings.Contains(out, "added lead@lab.org") {
		t.Fatalf("add: code=%d out=%q err=%q", code, out, errOut)
	}
	if code, _, errOut := run(t, "-c", cfgPath, "admins", "add", "LEAD@lab.org"); code != 1 || !strings.Contains(errOut, "already an admin") {
		t.Fatalf("duplicate add: code=%d err=%q", code, errOut)
	}
	if code, _, errOut := run(t, "-c", cfgPath, "admins", "add", "nobody"); code != 1 || !strings.Contains(errOut, "invalid email") {
		t.Fatalf("invalid add: code=%d err=%q", code, errOut)
	}
	if code, out, _ := run(t, "-c", cfgPath, "admins", "add", "--list", "data_request", "data@lab.org"); code != 0 {
		t.Fatalf("data request add: code=%d out=%q", code, out)
	}
	if code, out, _ := run(t, "-c", cfgPath, "admins", "list"); code != 0 || out != "lead@lab.org\n" {
		t.Fatalf("list: code=%d out=%q", code, out)
	}

	store := openTables(t, root)
	admins, err := store.LoadAdmins(context.Background(), core.DataRequestAdmins)
	if err != nil || len(admins) != 1 || admins[0] != "data@lab.org" {
		t.Fatalf("data request admins = %v, %v", admins, err)
	}

	if code, _, _ := run(t, "-c", cfgPath, "admins", "rm", "Lead@lab.org"); code != 0 {
		t.Fatalf("remove failed")
	}
	if code, _, errOut := run(t, "-c", cfgPath, "admins", "remove", "lead@lab.org"); code != 1 || !strings.Contains(errOut, "not an admin") {
		t.Fatalf("second remove: code=%d err=%q", code, errOut)
	}
	if code, _, errOut := run(t, "-c", cfgPath, "admins", "list", "--list", "owners"); code != 1 || !strings.Contains(errOut, "unknown admin list") {
		t.Fatalf("bad list: code=%d err=%q", code, errOut)
	}
}

func TestAuditNormalizeAndExport(t *testing.T) {
	cfgPath, root := writeConfig(t, "")
	store := openTables(t, root)
	ctx := context.Background()
	tbl := core.NewTable([]core.Collaborator{
		{Index: "1", PrimaryEmail: "smith@lab.org", FirstName: "Ann", LastName: "Smith", Role: core.RolePI, IsActive: true},
		{Index: "2", PrimaryEmail: "SMITH@lab.org", FirstName: "Al", LastName: "Smithe", Role: core.RolePI, IsActive: true},
	}, 0)
	if err := store.SaveCollaborators(ctx, tbl); err != nil {
		t.Fatalf("seed: %v", err)
	}

	code, out, errOut := run(t, "-c", cfgPath, "audit")
	if code != 1 || !strings.Contains(out, core.RuleDuplicateEmail) || !strings.Contains(errOut, "audit found violations") {
		t.Fatalf("audit: code=%d out=%q err=%q", code, out, errOut)
	}

	code, out, _ = run(t, "-c", cfgPath, "audit", "--json")
	if code != 1 {
		t.Fatalf("json audit code %d", code)
	}
	var report core.AuditReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Records != 2 || len(report.Violations) != 1 || report.Violations[0].Index != "2" {
		t.Fatalf("unexpected report %+v", report)
	}

	if code, out, _ := run(t, "-c", cfgPath, "normalize"); code != 0 || out != "normalized 2 records\n" {
		t.Fatalf("normalize: code=%d out=%q", code, out)
	}

	if code, out, _ := run(t, "-c", cfgPath, "export"); code != 0 || !strings.Contains(out, "smith@lab.org") {
		t.Fatalf("export stdout: code=%d out=%q", code, out)
	}
	dest := filepath.Join(t.TempDir(), "out.csv")
	if code, _, errOut := run(t, "-c", cfgPath, "export", "-o", dest); code != 0 {
		t.Fatalf("export file: %s", errOut)
	}
	raw, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	stored, err := store.RawCollaborators(ctx)
	if err != nil || !bytes.Equal(raw, stored) {
		t.Fatalf("export differs from stored table: %v", err)
	}
}

func TestAuditCleanTable(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	code, out, _ := run(t, "-c", cfgPath, "audit")
	if code != 0 || !strings.Contains(out, "OK: 0 records") {
		t.Fatalf("audit of empty table: code=%d out=%q", code, out)
	}
}

func TestConfigErrorsExitNonZero(t *testing.T) {
	cfgPath, _ := writeConfig(t, "surprise: true\n")
	code, _, errOut := run(t, "-c", cfgPath, "normalize")
	if code != 1 || !strings.HasPrefix(errOut, "collabdir: ") {
		t.Fatalf("expected config failure, code=%d err=%q", code, errOut)
	}
	if code, _, _ := run(t, "no-such-command"); code != 1 {
		t.Fatalf("unknown command should fail")
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	var codes []int
	old := exitFunc
	exitFunc = func(code int) { codes = append(codes, code) }
	defer func() { exitFunc = old }()
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"collabdir", "--help"}
	main()
	os.Args = []string{"collabdir", "admins", "add"}
	main()
	if len(codes) != 2 || codes[0] != 0 || codes[1] == 0 {
		t.Fatalf("unexpected exit codes %v", codes)
	}
}

func TestNewVerifier(t *testing.T) {
	if _, err := newVerifier(config.AuthConfig{Driver: "firebase"}); err == nil {
		t.Fatalf("expected missing project error")
	}
	if _, err := newVerifier(config.AuthConfig{Driver: "firebase", ProjectID: "p", KeysURL: "http://127.0.0.1/keys"}); err != nil {
		t.Fatalf("firebase: %v", err)
	}
	v, err := newVerifier(config.AuthConfig{Driver: "static", StaticTokens: map[string]string{"t": "a@b.org"}})
	if err != nil {
		t.Fatalf("static: %v", err)
	}
	p, err := v.Verify(context.Background(), "t")
	if err != nil || p.Email != "a@b.org" {
		t.Fatalf("verify = %+v, %v", p, err)
	}
}

func TestSeparateAdminBucket(t *testing.T) {
	cases := []struct {
		storage config.StorageConfig
		want    bool
	}{
		{config.StorageConfig{Driver: "s3", Bucket: "a"}, false},
		{config.StorageConfig{Driver: "s3", Bucket: "a", AdminsBucket: "a"}, false},
		{config.StorageConfig{Driver: "s3", Bucket: "a", AdminsBucket: "b"}, true},
		{config.StorageConfig{Driver: "gcs", Bucket: "a", AdminsBucket: "b"}, true},
		{config.StorageConfig{Driver: "fs", Bucket: "a", AdminsBucket: "b"}, false},
	}
	for _, tc := range cases {
		if got := separateAdminBucket(tc.storage); got != tc.want {
			t.Fatalf("%+v: got %v", tc.storage, got)
		}
	}
}

func TestNewMailer(t *testing.T) {
	if m, err := newMailer(config.MailConfig{Driver: "none"}, nil); err != nil || m != nil {
		t.Fatalf("none driver = %v, %v", m, err)
	}
	if _, err := newMailer(config.MailConfig{Driver: "smtp"}, nil); err == nil {
		t.Fatalf("expected smtp config error")
	}
	if m, err := newMailer(config.MailConfig{Driver: "smtp", Host: "mail.lab.org", Port: 587, From: "dir@lab.org"}, nil); err != nil || m == nil {
		t.Fatalf("smtp = %v, %v", m, err)
	}
}

func loadTestConfig(t *testing.T, extra string) config.Config {
	t.Helper()
	path, _ := writeConfig(t, extra)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cfg
}

func TestServeAnswersUntilCancelled(t *testing.T) {
	cfg := loadTestConfig(t, "tracing:\n  driver: json\n")
	cfg.Metrics.Driver = "prometheus"
	cfg.Mail.Driver = "log"

	var traces bytes.Buffer
	a, err := newApp(context.Background(), cfg, &traces)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	get := func(path, token string) (int, string) {
		req, _ := http.NewRequest(http.MethodGet, base+path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	if status, _ := get("/healthz", ""); status != http.StatusOK {
		t.Fatalf("healthz status %d", status)
	}
	if status, _ := get("/collaborators/get_all_collaborators", ""); status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	if status, body := get("/collaborators/get_current_user_role", "admin-token"); status != http.StatusForbidden && status != http.StatusOK {
		t.Fatalf("role status %d: %s", status, body)
	}
	status, body := get("/metrics", "")
	if status != http.StatusOK || !strings.Contains(body, "collabdir_operations_total") {
		t.Fatalf("metrics status %d: %s", status, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
	if !strings.Contains(traces.String(), "get_current_user_role") {
		t.Fatalf("expected json trace entries, got %q", traces.String())
	}
}

func TestNewAppRejectsBadLogger(t *testing.T) {
	cfg := loadTestConfig(t, "")
	cfg.Log.Level = "loud"
	if _, err := newApp(context.Background(), cfg, io.Discard); err == nil || !strings.Contains(err.Error(), "log level") {
		t.Fatalf("expected log level error, got %v", err)
	}
}

func TestNewAppWithExpvarAndOTel(t *testing.T) {
	cfg := loadTestConfig(t, "")
	cfg.Metrics.Driver = "expvar"
	cfg.Tracing.Driver = "otel"
	var traces bytes.Buffer
	a, err := newApp(context.Background(), cfg, &traces)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := a.svc.Audit(context.Background()); err != nil {
		t.Fatalf("audit: %v", err)
	}
	if a.metrics == nil || a.tracing == nil {
		t.Fatalf("expected metrics handler and tracer provider")
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !strings.Contains(traces.String(), "audit") {
		t.Fatalf("expected exported span, got %q", traces.String())
	}
}
