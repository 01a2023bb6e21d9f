package services

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/asshm/asshm/internal/core/domain"
	"github.com/asshm/asshm/internal/core/ports"
)

type fakeSessionRepo struct {
	ports.SessionRepository
	sessions    map[string]domain.Session
	order       []string
	recordCalls []string
	batchCalls  int
}

func newFakeSessionRepo(seed ...domain.Session) *fakeSessionRepo {
	r := &fakeSessionRepo{sessions: make(map[string]domain.Session)}
	for _, s := range seed {
		r.sessions[s.Name] = s
		r.order = append(r.order, s.Name)
	}
	return r
}

func (r *fakeSessionRepo) List() ([]domain.Session, error) {
	out := make([]domain.Session, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sessions[name])
	}
	return out, nil
}

func (r *fakeSessionRepo) Get(name string) (domain.Session, error) {
	s, ok := r.sessions[name]
	if !ok {
		return domain.Session{}, &domain.NotFoundError{Kind: "session", Name: name}
	}
	return s, nil
}

func (r *fakeSessionRepo) Add(session domain.Session) error {
	if _, exists := r.sessions[session.Name]; exists {
		return domain.NewValidationError("name", "session %q already exists", session.Name)
	}
	r.sessions[session.Name] = session
	r.order = append(r.order, session.Name)
	return nil
}

func (r *fakeSessionRepo) AddBatch(sessions []domain.Session) error {
	r.batchCalls++
	for _, s := range sessions {
		if err := r.Add(s); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeSessionRepo) Update(name string, session domain.Session) error {
	if _, ok := r.sessions[name]; !ok {
		return &domain.NotFoundError{Kind: "session", Name: name}
	}
	delete(r.sessions, name)
	r.sessions[session.Name] = session
	for i, n := range r.order {
		if n == name {
			r.order[i] = session.Name
		}
	}
	return nil
}

func (r *fakeSessionRepo) Delete(name string) error {
	if _, ok := r.sessions[name]; !ok {
		return &domain.NotFoundError{Kind: "session", Name: name}
	}
	delete(r.sessions, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *fakeSessionRepo) RecordConnection(name string) error {
	r.recordCalls = append(r.recordCalls, name)
	return nil
}

type fakeIPAMRepo struct {
	ports.IPAMRepository
	entries map[string]domain.IPAMEntry
	subnets []domain.Subnet
	upserts []domain.IPAMEntry
	links   [][2]string
	unlinks []string
}

func newFakeIPAMRepo() *fakeIPAMRepo {
	return &fakeIPAMRepo{entries: make(map[string]domain.IPAMEntry)}
}

func (r *fakeIPAMRepo) Upsert(entry domain.IPAMEntry) error {
	r.upserts = append(r.upserts, entry)
	r.entries[entry.Address] = entry
	return nil
}

func (r *fakeIPAMRepo) Link(address, sessionName string) error {
	entry, ok := r.entries[address]
	if !ok {
		return &domain.NotFoundError{Kind: "address", Name: address}
	}
	entry.SessionName = sessionName
	r.entries[address] = entry
	r.links = append(r.links, [2]string{address, sessionName})
	return nil
}

func (r *fakeIPAMRepo) Unlink(address string) error {
	entry, ok := r.entries[address]
	if !ok {
		return &domain.NotFoundError{Kind: "address", Name: address}
	}
	entry.SessionName = ""
	r.entries[address] = entry
	r.unlinks = append(r.unlinks, address)
	return nil
}

func (r *fakeIPAMRepo) FindBySession(sessionName string) ([]domain.IPAMEntry, error) {
	var out []domain.IPAMEntry
	for _, entry := range r.entries {
		if entry.SessionName == sessionName {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *fakeIPAMRepo) Subnets() ([]domain.Subnet, error) {
	return r.subnets, nil
}

func newTestSessionService(t *testing.T, sessions *fakeSessionRepo, ipam *fakeIPAMRepo) *sessionService {
	t.Helper()
	return &sessionService{
		logger:        zaptest.NewLogger(t).Sugar(),
		sessions:      sessions,
		ipam:          ipam,
		registry:      testRegistry,
		tempDir:       t.TempDir(),
		savePasswords: true,
		newCommand:    exec.Command,
	}
}

func helperCommandFactory(scenario string) func(string, ...string) *exec.Cmd {
	return func(path string, args ...string) *exec.Cmd {
		cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess", "--", scenario)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	os.Exit(0)
}

func TestCreateSessionValidation(t *testing.T) {
	repo := newFakeSessionRepo()
	svc := newTestSessionService(t, repo, newFakeIPAMRepo())

	var validation *domain.ValidationError
	if err := svc.CreateSession(domain.Session{Name: "web"}); !errors.As(err, &validation) {
		t.Fatalf("CreateSession(no host) = %v, want *domain.ValidationError", err)
	}
	if err := svc.CreateSession(domain.Session{Host: "10.0.0.1"}); !errors.As(err, &validation) {
		t.Fatalf("CreateSession(no name) = %v, want *domain.ValidationError", err)
	}
	if err := svc.CreateSession(domain.Session{Name: "web", Host: "10.0.0.1", Port: 70000}); !errors.As(err, &validation) {
		t.Fatalf("CreateSession(bad port) = %v, want *domain.ValidationError", err)
	}
	if err := svc.CreateSession(domain.Session{Name: "web", Host: "10.0.0.1", Port: -1}); !errors.As(err, &validation) {
		t.Fatalf("CreateSession(negative port) = %v, want *domain.ValidationError", err)
	}
	if len(repo.sessions) != 0 {
		t.Fatal("rejected records must not be persisted")
	}

	// Port 0 is the documented "use the default" value, not an error.
	if err := svc.CreateSession(domain.Session{Name: "web", Host: "10.0.0.1", Port: 0}); err != nil {
		t.Fatalf("CreateSession(port 0) = %v, want nil", err)
	}
}

func TestCreateSessionAppliesDefaults(t *testing.T) {
	repo := newFakeSessionRepo()
	svc := newTestSessionService(t, repo, newFakeIPAMRepo())

	if err := svc.CreateSession(domain.Session{Name: " web ", Host: " example.com ", Tags: []string{"Prod", "prod"}}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, ok := repo.sessions["web"]
	if !ok {
		t.Fatalf("session not stored under trimmed name, have %v", repo.order)
	}
	if got.Host != "example.com" {
		t.Fatalf("Host = %q, want trimmed", got.Host)
	}
	if got.Group != domain.DefaultGroup {
		t.Fatalf("Group = %q, want default", got.Group)
	}
	if len(got.Tags) != 1 {
		t.Fatalf("Tags = %v, want deduplicated", got.Tags)
	}
}

func TestSavePasswordsDisabledStripsPasswords(t *testing.T) {
	repo := newFakeSessionRepo()
	svc := newTestSessionService(t, repo, newFakeIPAMRepo())
	svc.savePasswords = false

	if err := svc.CreateSession(domain.Session{Name: "web", Host: "10.0.0.1", Password: "hunter2"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if got := repo.sessions["web"].Password; got != "" {
		t.Fatalf("stored password = %q, want stripped", got)
	}

	if err := svc.UpdateSession("web", domain.Session{Name: "web", Host: "10.0.0.1", Password: "hunter2"}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if got := repo.sessions["web"].Password; got != "" {
		t.Fatalf("updated password = %q, want stripped", got)
	}

	report, err := svc.ImportSessions([]domain.Session{{Name: "db", Host: "10.0.0.2", Password: "hunter2"}})
	if err != nil {
		t.Fatalf("ImportSessions: %v", err)
	}
	if len(report.Accepted) != 1 || report.Accepted[0].Password != "" {
		t.Fatalf("imported record = %+v, want stripped password", report.Accepted)
	}
	if got := repo.sessions["db"].Password; got != "" {
		t.Fatalf("imported stored password = %q, want stripped", got)
	}
}

func TestCreateSessionSyncsAddressInventory(t *testing.T) {
	ipam := newFakeIPAMRepo()
	ipam.subnets = []domain.Subnet{{CIDR: "10.0.0.0/24"}}
	svc := newTestSessionService(t, newFakeSessionRepo(), ipam)

	if err := svc.CreateSession(domain.Session{Name: "web", Host: "10.0.0.5"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if len(ipam.upserts) != 1 {
		t.Fatalf("expected one inventory upsert, got %d", len(ipam.upserts))
	}
	entry := ipam.upserts[0]
	if entry.Address != "10.0.0.5" || entry.Status != domain.IPStatusInUse || entry.SessionName != "web" {
		t.Fatalf("inventory entry = %+v", entry)
	}
	if entry.Subnet != "10.0.0.0/24" {
		t.Fatalf("entry.Subnet = %q, want containing subnet", entry.Subnet)
	}
}

func TestCreateSessionSkipsHostnames(t *testing.T) {
	ipam := newFakeIPAMRepo()
	svc := newTestSessionService(t, newFakeSessionRepo(), ipam)

	if err := svc.CreateSession(domain.Session{Name: "web", Host: "example.com"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if len(ipam.upserts) != 0 {
		t.Fatalf("hostname host must not create inventory entries, got %v", ipam.upserts)
	}
}

func TestDeleteSessionClearsLinks(t *testing.T) {
	repo := newFakeSessionRepo(domain.Session{Name: "web", Host: "10.0.0.5"})
	ipam := newFakeIPAMRepo()
	ipam.entries["10.0.0.5"] = domain.IPAMEntry{Address: "10.0.0.5", Status: domain.IPStatusInUse, SessionName: "web"}
	svc := newTestSessionService(t, repo, ipam)

	if err := svc.DeleteSession("web"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	if len(ipam.unlinks) != 1 || ipam.unlinks[0] != "10.0.0.5" {
		t.Fatalf("unlinks = %v, want the linked address", ipam.unlinks)
	}
	if _, ok := ipam.entries["10.0.0.5"]; !ok {
		t.Fatal("inventory entry must survive session deletion")
	}
}

func TestUpdateSessionRenameRelinks(t *testing.T) {
	repo := newFakeSessionRepo(domain.Session{Name: "web", Host: "10.0.0.5"})
	ipam := newFakeIPAMRepo()
	ipam.entries["10.0.0.5"] = domain.IPAMEntry{Address: "10.0.0.5", SessionName: "web"}
	svc := newTestSessionService(t, repo, ipam)

	if err := svc.UpdateSession("web", domain.Session{Name: "web2", Host: "10.0.0.5"}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	if got := ipam.entries["10.0.0.5"].SessionName; got != "web2" {
		t.Fatalf("link after rename = %q, want web2", got)
	}
}

func TestListSessionsFilter(t *testing.T) {
	repo := newFakeSessionRepo(
		domain.Session{Name: "web-1", Host: "10.0.0.1", Group: "Prod", Tags: []string{"web"}},
		domain.Session{Name: "db-1", Host: "10.0.0.2", Group: "Prod", Description: "primary database"},
		domain.Session{Name: "dev", Host: "192.168.0.1", Group: "Lab"},
	)
	svc := newTestSessionService(t, repo, newFakeIPAMRepo())

	tests := []struct {
		name   string
		filter ListFilter
		want   []string
	}{
		{"all", ListFilter{}, []string{"web-1", "db-1", "dev"}},
		{"by group", ListFilter{Group: "Prod"}, []string{"web-1", "db-1"}},
		{"by tag", ListFilter{Tag: "WEB"}, []string{"web-1"}},
		{"by search in description", ListFilter{Search: "database"}, []string{"db-1"}},
		{"by search in host", ListFilter{Search: "192.168"}, []string{"dev"}},
		{"no match", ListFilter{Group: "Prod", Tag: "missing"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ListSessions(tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d sessions, want %d", len(got), len(tt.want))
			}
			for i, name := range tt.want {
				if got[i].Name != name {
					t.Fatalf("got[%d] = %q, want %q", i, got[i].Name, name)
				}
			}
		})
	}
}

func TestImportSessionsBestEffort(t *testing.T) {
	repo := newFakeSessionRepo(domain.Session{Name: "existing", Host: "10.0.0.9"})
	svc := newTestSessionService(t, repo, newFakeIPAMRepo())

	records := []domain.Session{
		{Name: "web", Host: "10.0.0.1"},
		{Name: "broken", Host: ""},
		{Name: "existing", Host: "10.0.0.2"},
		{Name: "web", Host: "10.0.0.3"},
	}

	report, err := svc.ImportSessions(records)
	if err != nil {
		t.Fatalf("ImportSessions: %v", err)
	}

	if len(report.Accepted) != 1 || report.Accepted[0].Name != "web" {
		t.Fatalf("Accepted = %v", report.Accepted)
	}
	if len(report.Rejected) != 3 {
		t.Fatalf("Rejected = %d records, want 3", len(report.Rejected))
	}
	if !strings.Contains(report.Rejected[0].Reason, "host") {
		t.Fatalf("empty-host rejection reason = %q", report.Rejected[0].Reason)
	}
	if !strings.Contains(report.Rejected[1].Reason, "already exists") {
		t.Fatalf("duplicate rejection reason = %q", report.Rejected[1].Reason)
	}
	if repo.batchCalls != 1 {
		t.Fatalf("AddBatch called %d times, want 1", repo.batchCalls)
	}
}

func TestImportedKeySessionLaunchesWithKey(t *testing.T) {
	repo := newFakeSessionRepo()
	svc := newTestSessionService(t, repo, newFakeIPAMRepo())
	svc.newCommand = helperCommandFactory("ok")

	report, err := svc.ImportSessions([]domain.Session{{
		Name:     "web-server",
		Host:     "192.168.1.10",
		Username: "webadmin",
		Group:    "Web Servers",
		Tags:     []string{"apache", "production"},
		KeyFile:  "C:/ssh_keys/web.ppk",
	}})
	if err != nil {
		t.Fatalf("ImportSessions: %v", err)
	}
	if len(report.Accepted) != 1 || len(report.Rejected) != 0 {
		t.Fatalf("report = %+v", report)
	}

	sessions, err := svc.ListSessions(ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].Name != "web-server" {
		t.Fatalf("sessions = %v", sessions)
	}

	inv, err := svc.Launch("web-server", domain.ToolTerminal)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	hasKeyFlag := false
	for _, arg := range inv.Args {
		if arg == "-i" {
			hasKeyFlag = true
		}
		if arg == "-pw" {
			t.Fatalf("key session must not use a password flag: %v", inv.Args)
		}
	}
	if !hasKeyFlag {
		t.Fatalf("expected key-file flag in %v", inv.Args)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	source := newFakeSessionRepo(
		domain.Session{Name: "web", Host: "10.0.0.1", Username: "alice", Group: "Prod"},
		domain.Session{Name: "db", Host: "10.0.0.2", Port: 2222},
	)
	exported, err := newTestSessionService(t, source, newFakeIPAMRepo()).ExportSessions(nil)
	if err != nil {
		t.Fatalf("ExportSessions: %v", err)
	}

	target := newFakeSessionRepo()
	report, err := newTestSessionService(t, target, newFakeIPAMRepo()).ImportSessions(exported)
	if err != nil {
		t.Fatalf("ImportSessions: %v", err)
	}
	if len(report.Rejected) != 0 {
		t.Fatalf("round trip rejected %v", report.Rejected)
	}
	if len(target.sessions) != 2 {
		t.Fatalf("target has %d sessions, want 2", len(target.sessions))
	}
	if target.sessions["db"].Port != 2222 {
		t.Fatalf("db = %+v", target.sessions["db"])
	}
}

func TestImportSessionsAsync(t *testing.T) {
	repo := newFakeSessionRepo()
	svc := newTestSessionService(t, repo, newFakeIPAMRepo())

	done := make(chan domain.ImportReport, 1)
	svc.ImportSessionsAsync([]domain.Session{{Name: "web", Host: "10.0.0.1"}}, func(report domain.ImportReport, err error) {
		if err != nil {
			t.Errorf("async import: %v", err)
		}
		done <- report
	})

	report := <-done
	if len(report.Accepted) != 1 {
		t.Fatalf("Accepted = %v", report.Accepted)
	}
	if _, ok := repo.sessions["web"]; !ok {
		t.Fatal("async import did not persist")
	}
}

func TestLaunchRecordsConnection(t *testing.T) {
	repo := newFakeSessionRepo(domain.Session{Name: "web", Host: "10.0.0.1", Username: "alice"})
	svc := newTestSessionService(t, repo, newFakeIPAMRepo())
	svc.newCommand = helperCommandFactory("ok")

	inv, err := svc.Launch("web", domain.ToolTerminal)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if inv.Tool != domain.ToolTerminal {
		t.Fatalf("Tool = %q", inv.Tool)
	}
	if len(repo.recordCalls) != 1 || repo.recordCalls[0] != "web" {
		t.Fatalf("recordCalls = %v, want one for web", repo.recordCalls)
	}
}

func TestLaunchUnknownSession(t *testing.T) {
	svc := newTestSessionService(t, newFakeSessionRepo(), newFakeIPAMRepo())

	var notFound *domain.NotFoundError
	if _, err := svc.Launch("ghost", domain.ToolTerminal); !errors.As(err, &notFound) {
		t.Fatalf("Launch(ghost) = %v, want *domain.NotFoundError", err)
	}
}

func TestLaunchMissingExecutable(t *testing.T) {
	repo := newFakeSessionRepo(domain.Session{Name: "web", Host: "10.0.0.1"})
	svc := newTestSessionService(t, repo, newFakeIPAMRepo())
	svc.registry = domain.ToolRegistry{}

	var launchErr *domain.LaunchError
	if _, err := svc.Launch("web", domain.ToolTerminal); !errors.As(err, &launchErr) {
		t.Fatalf("Launch with empty registry = %v, want *domain.LaunchError", err)
	}
	if len(repo.recordCalls) != 0 {
		t.Fatal("failed launch must not record a connection")
	}
}

func TestLaunchStartFailure(t *testing.T) {
	repo := newFakeSessionRepo(domain.Session{Name: "web", Host: "10.0.0.1"})
	svc := newTestSessionService(t, repo, newFakeIPAMRepo())
	svc.newCommand = func(path string, args ...string) *exec.Cmd {
		return exec.Command(filepath.Join(t.TempDir(), "missing-binary"))
	}

	var launchErr *domain.LaunchError
	if _, err := svc.Launch("web", domain.ToolTerminal); !errors.As(err, &launchErr) {
		t.Fatalf("Launch = %v, want *domain.LaunchError", err)
	}
	if len(repo.recordCalls) != 0 {
		t.Fatal("failed launch must not record a connection")
	}
}

func TestLaunchRemovesSettingsFile(t *testing.T) {
	repo := newFakeSessionRepo(domain.Session{Name: "win", Host: "10.0.0.9", Password: "pw"})
	svc := newTestSessionService(t, repo, newFakeIPAMRepo())
	svc.newCommand = helperCommandFactory("ok")

	if _, err := svc.Launch("win", domain.ToolRemoteDesktop); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	leftovers, err := filepath.Glob(filepath.Join(svc.tempDir, "asshm-*.rdp"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("settings file leaked: %v", leftovers)
	}
}

func TestLaunchRemovesSettingsFileOnFailure(t *testing.T) {
	repo := newFakeSessionRepo(domain.Session{Name: "win", Host: "10.0.0.9", Password: "pw"})
	svc := newTestSessionService(t, repo, newFakeIPAMRepo())
	svc.newCommand = func(path string, args ...string) *exec.Cmd {
		return exec.Command(filepath.Join(svc.tempDir, "missing-binary"))
	}

	if _, err := svc.Launch("win", domain.ToolRemoteDesktop); err == nil {
		t.Fatal("expected launch failure")
	}

	leftovers, err := filepath.Glob(filepath.Join(svc.tempDir, "asshm-*.rdp"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("settings file leaked on failure: %v", leftovers)
	}
}

func TestPreviewCommandRedacts(t *testing.T) {
	repo := newFakeSessionRepo(domain.Session{Name: "web", Host: "10.0.0.1", Username: "alice", Password: "hunter2"})
	svc := newTestSessionService(t, repo, newFakeIPAMRepo())

	line, err := svc.PreviewCommand("web", domain.ToolTerminal)
	if err != nil {
		t.Fatalf("PreviewCommand: %v", err)
	}
	if strings.Contains(line, "hunter2") {
		t.Fatalf("preview leaked the password: %q", line)
	}
	if !strings.Contains(line, "-pw ********") {
		t.Fatalf("preview = %q, want masked -pw value", line)
	}
}

func TestPreviewCommandCleansUpSettingsFile(t *testing.T) {
	repo := newFakeSessionRepo(domain.Session{Name: "win", Host: "10.0.0.9", Password: "pw"})
	svc := newTestSessionService(t, repo, newFakeIPAMRepo())

	if _, err := svc.PreviewCommand("win", domain.ToolRemoteDesktop); err != nil {
		t.Fatalf("PreviewCommand: %v", err)
	}

	leftovers, err := filepath.Glob(filepath.Join(svc.tempDir, "asshm-*.rdp"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("settings file leaked: %v", leftovers)
	}
}

func TestGroupsAndTagNames(t *testing.T) {
	repo := newFakeSessionRepo(
		domain.Session{Name: "a", Host: "1", Group: "Prod", Tags: []string{"Web"}},
		domain.Session{Name: "b", Host: "2", Tags: []string{"web", "db"}},
		domain.Session{Name: "c", Host: "3", Group: "Lab"},
	)
	svc := newTestSessionService(t, repo, newFakeIPAMRepo())

	groups, err := svc.Groups()
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 3 || groups[0] != "Lab" || groups[1] != "Prod" || groups[2] != domain.DefaultGroup {
		t.Fatalf("Groups = %v", groups)
	}

	tags, err := svc.TagNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 2 || tags[0] != "Web" || tags[1] != "db" {
		t.Fatalf("TagNames = %v", tags)
	}
}
