package services

import (
	"bytes"
	"errors"
	"sort"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/asshm/asshm/internal/core/domain"
)

func (r *fakeIPAMRepo) Entries() ([]domain.IPAMEntry, error) {
	out := make([]domain.IPAMEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (r *fakeIPAMRepo) ListByStatus(status domain.IPStatus) ([]domain.IPAMEntry, error) {
	var out []domain.IPAMEntry
	for _, entry := range r.entries {
		if entry.Status == status {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *fakeIPAMRepo) Release(address string) error {
	delete(r.entries, address)
	return nil
}

func (r *fakeIPAMRepo) GetSubnet(cidr string) (domain.Subnet, error) {
	for _, subnet := range r.subnets {
		if subnet.CIDR == cidr {
			return subnet, nil
		}
	}
	return domain.Subnet{}, &domain.NotFoundError{Kind: "subnet", Name: cidr}
}

func (r *fakeIPAMRepo) AddSubnet(subnet domain.Subnet) error {
	for _, existing := range r.subnets {
		if existing.CIDR == subnet.CIDR {
			return domain.NewValidationError("cidr", "subnet %q already exists", subnet.CIDR)
		}
	}
	r.subnets = append(r.subnets, subnet)
	return nil
}

func newTestIPAMService(t *testing.T, ipam *fakeIPAMRepo, sessions *fakeSessionRepo) *ipamService {
	t.Helper()
	return &ipamService{
		logger:   zaptest.NewLogger(t).Sugar(),
		ipam:     ipam,
		sessions: sessions,
		probe:    func(string) bool { return false },
	}
}

func TestIPAMServiceLinkRequiresSession(t *testing.T) {
	ipam := newFakeIPAMRepo()
	ipam.entries["10.0.0.1"] = domain.IPAMEntry{Address: "10.0.0.1"}
	svc := newTestIPAMService(t, ipam, newFakeSessionRepo(domain.Session{Name: "web", Host: "h"}))

	var notFound *domain.NotFoundError
	if err := svc.Link("10.0.0.1", "ghost"); !errors.As(err, &notFound) {
		t.Fatalf("Link to absent session = %v, want *domain.NotFoundError", err)
	}
	if err := svc.Link("10.0.0.1", "web"); err != nil {
		t.Fatalf("Link: %v", err)
	}
}

func TestIPAMServiceListByStatusValidation(t *testing.T) {
	svc := newTestIPAMService(t, newFakeIPAMRepo(), newFakeSessionRepo())

	var validation *domain.ValidationError
	if _, err := svc.ListByStatus("Active"); !errors.As(err, &validation) {
		t.Fatalf("ListByStatus(Active) = %v, want *domain.ValidationError", err)
	}
	if _, err := svc.ListByStatus(domain.IPStatusFree); err != nil {
		t.Fatalf("ListByStatus(Free): %v", err)
	}
}

func TestIPAMServiceFindSubnetForIP(t *testing.T) {
	ipam := newFakeIPAMRepo()
	ipam.subnets = []domain.Subnet{{CIDR: "10.0.0.0/24"}, {CIDR: "192.168.0.0/16"}}
	svc := newTestIPAMService(t, ipam, newFakeSessionRepo())

	subnet, err := svc.FindSubnetForIP("192.168.3.4")
	if err != nil {
		t.Fatalf("FindSubnetForIP: %v", err)
	}
	if subnet.CIDR != "192.168.0.0/16" {
		t.Fatalf("subnet = %q", subnet.CIDR)
	}

	var notFound *domain.NotFoundError
	if _, err := svc.FindSubnetForIP("172.16.0.1"); !errors.As(err, &notFound) {
		t.Fatalf("FindSubnetForIP(uncovered) = %v, want *domain.NotFoundError", err)
	}
}

func TestIPAMServiceSubnetUsage(t *testing.T) {
	ipam := newFakeIPAMRepo()
	ipam.subnets = []domain.Subnet{{CIDR: "192.168.1.0/29"}} // 6 usable hosts
	ipam.entries["192.168.1.1"] = domain.IPAMEntry{Address: "192.168.1.1"}
	ipam.entries["192.168.1.3"] = domain.IPAMEntry{Address: "192.168.1.3"}
	ipam.entries["10.0.0.1"] = domain.IPAMEntry{Address: "10.0.0.1"} // outside
	svc := newTestIPAMService(t, ipam, newFakeSessionRepo())

	usage, err := svc.SubnetUsage("192.168.1.0/29")
	if err != nil {
		t.Fatalf("SubnetUsage: %v", err)
	}
	if usage.Total != 6 || usage.Used != 2 || usage.Available != 4 {
		t.Fatalf("usage = %+v", usage)
	}
	if usage.Utilization < 33.3 || usage.Utilization > 33.4 {
		t.Fatalf("Utilization = %f", usage.Utilization)
	}
}

func TestIPAMServiceScanSubnet(t *testing.T) {
	ipam := newFakeIPAMRepo()
	ipam.subnets = []domain.Subnet{{CIDR: "192.168.1.0/29"}}
	svc := newTestIPAMService(t, ipam, newFakeSessionRepo())
	svc.probe = func(address string) bool {
		return address == "192.168.1.2" || address == "192.168.1.5"
	}

	active, err := svc.ScanSubnet("192.168.1.0/29")
	if err != nil {
		t.Fatalf("ScanSubnet: %v", err)
	}
	if len(active) != 2 || active[0] != "192.168.1.2" || active[1] != "192.168.1.5" {
		t.Fatalf("active = %v, want the two reachable hosts sorted", active)
	}

	entry, ok := ipam.entries["192.168.1.2"]
	if !ok {
		t.Fatal("reachable host not recorded")
	}
	if entry.Status != domain.IPStatusInUse || entry.Subnet != "192.168.1.0/29" {
		t.Fatalf("recorded entry = %+v", entry)
	}
	if entry.LastSeen.IsZero() {
		t.Fatal("LastSeen not stamped")
	}
	if _, ok := ipam.entries["192.168.1.1"]; ok {
		t.Fatal("unreachable host must not be recorded")
	}
}

func TestIPAMServiceScanSubnetAsync(t *testing.T) {
	ipam := newFakeIPAMRepo()
	ipam.subnets = []domain.Subnet{{CIDR: "192.168.1.0/30"}}
	svc := newTestIPAMService(t, ipam, newFakeSessionRepo())
	svc.probe = func(address string) bool { return address == "192.168.1.1" }

	done := make(chan []string, 1)
	svc.ScanSubnetAsync("192.168.1.0/30", func(active []string, err error) {
		if err != nil {
			t.Errorf("async scan: %v", err)
		}
		done <- active
	})

	if active := <-done; len(active) != 1 || active[0] != "192.168.1.1" {
		t.Fatalf("active = %v", active)
	}
}

func TestIPAMServiceScanSubnetUnknownCIDR(t *testing.T) {
	svc := newTestIPAMService(t, newFakeIPAMRepo(), newFakeSessionRepo())

	var notFound *domain.NotFoundError
	if _, err := svc.ScanSubnet("10.0.0.0/24"); !errors.As(err, &notFound) {
		t.Fatalf("ScanSubnet(unknown) = %v, want *domain.NotFoundError", err)
	}
}

func TestIPAMServiceCSVRoundTrip(t *testing.T) {
	source := newFakeIPAMRepo()
	source.subnets = []domain.Subnet{{CIDR: "10.0.0.0/24", Name: "lab", Description: "test lab"}}
	source.entries["10.0.0.1"] = domain.IPAMEntry{
		Address:     "10.0.0.1",
		Subnet:      "10.0.0.0/24",
		Hostname:    "web.lab",
		Status:      domain.IPStatusInUse,
		SessionName: "web",
	}
	source.entries["10.0.0.2"] = domain.IPAMEntry{Address: "10.0.0.2", Status: domain.IPStatusFree}

	var buf bytes.Buffer
	if err := newTestIPAMService(t, source, newFakeSessionRepo()).ExportCSV(&buf, true, true); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	if strings.Count(buf.String(), "\n") != 5 {
		t.Fatalf("unexpected CSV shape:\n%s", buf.String())
	}

	target := newFakeIPAMRepo()
	report, err := newTestIPAMService(t, target, newFakeSessionRepo()).ImportCSV(&buf)
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if report.AddedSubnets != 1 || report.AddedIPs != 2 || report.Errors != 0 {
		t.Fatalf("report = %+v", report)
	}

	entry := target.entries["10.0.0.1"]
	if entry.Hostname != "web.lab" || entry.Status != domain.IPStatusInUse || entry.SessionName != "web" {
		t.Fatalf("imported entry = %+v", entry)
	}
	if len(target.subnets) != 1 || target.subnets[0].Name != "lab" {
		t.Fatalf("imported subnets = %v", target.subnets)
	}
}

func TestIPAMServiceImportCSVCountsErrors(t *testing.T) {
	// Rows before any header are unattributable and counted as errors.
	input := `stray,row
ip,status
10.0.0.1,InUse
`
	target := newFakeIPAMRepo()
	svc := newTestIPAMService(t, target, newFakeSessionRepo())
	report, err := svc.ImportCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if report.AddedIPs != 1 {
		t.Fatalf("AddedIPs = %d, want 1", report.AddedIPs)
	}
	if report.Errors != 1 {
		t.Fatalf("Errors = %d, want 1", report.Errors)
	}
}
