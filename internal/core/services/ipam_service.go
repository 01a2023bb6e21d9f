// Copyright 2025.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package services

import (
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"os/exec"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/asshm/asshm/internal/core/domain"
	"github.com/asshm/asshm/internal/core/ports"
)

// scanWorkers bounds the number of concurrent reachability probes.
const scanWorkers = 50

// ipamService exposes the address inventory: explicit, idempotent mutation
// plus subnet bookkeeping, reachability sweeps, and CSV interchange.
type ipamService struct {
	logger   *zap.SugaredLogger
	ipam     ports.IPAMRepository
	sessions ports.SessionRepository

	probe func(address string) bool
}

// NewIPAMService creates a new instance of ipamService.
func NewIPAMService(logger *zap.SugaredLogger, ipam ports.IPAMRepository, sessions ports.SessionRepository) *ipamService {
	return &ipamService{
		logger:   logger,
		ipam:     ipam,
		sessions: sessions,
		probe:    pingProbe,
	}
}

func (s *ipamService) Entries() ([]domain.IPAMEntry, error) {
	return s.ipam.Entries()
}

func (s *ipamService) Upsert(entry domain.IPAMEntry) error {
	if err := s.ipam.Upsert(entry); err != nil {
		s.logger.Errorw("failed to upsert address", "error", err, "address", entry.Address)
		return err
	}
	return nil
}

func (s *ipamService) Release(address string) error {
	if err := s.ipam.Release(address); err != nil {
		s.logger.Errorw("failed to release address", "error", err, "address", address)
		return err
	}
	return nil
}

// Link sets the session back-reference on an existing entry. The session
// must exist at the time of the write; the link stays advisory afterwards.
func (s *ipamService) Link(address, sessionName string) error {
	if _, err := s.sessions.Get(sessionName); err != nil {
		return err
	}
	if err := s.ipam.Link(address, sessionName); err != nil {
		s.logger.Errorw("failed to link address", "error", err, "address", address, "session", sessionName)
		return err
	}
	return nil
}

func (s *ipamService) Unlink(address string) error {
	return s.ipam.Unlink(address)
}

func (s *ipamService) FindBySession(sessionName string) ([]domain.IPAMEntry, error) {
	return s.ipam.FindBySession(sessionName)
}

func (s *ipamService) ListByStatus(status domain.IPStatus) ([]domain.IPAMEntry, error) {
	if !domain.ValidIPStatus(status) {
		return nil, domain.NewValidationError("status", "unknown status %q", status)
	}
	return s.ipam.ListByStatus(status)
}

func (s *ipamService) Subnets() ([]domain.Subnet, error) {
	return s.ipam.Subnets()
}

func (s *ipamService) AddSubnet(subnet domain.Subnet) error {
	if err := s.ipam.AddSubnet(subnet); err != nil {
		s.logger.Errorw("failed to add subnet", "error", err, "cidr", subnet.CIDR)
		return err
	}
	return nil
}

func (s *ipamService) RemoveSubnet(cidr string) error {
	if err := s.ipam.RemoveSubnet(cidr); err != nil {
		s.logger.Errorw("failed to remove subnet", "error", err, "cidr", cidr)
		return err
	}
	return nil
}

// FindSubnetForIP returns the subnet containing the address.
func (s *ipamService) FindSubnetForIP(address string) (domain.Subnet, error) {
	subnets, err := s.ipam.Subnets()
	if err != nil {
		return domain.Subnet{}, err
	}
	for _, subnet := range subnets {
		if subnet.Contains(address) {
			return subnet, nil
		}
	}
	return domain.Subnet{}, &domain.NotFoundError{Kind: "subnet", Name: address}
}

// SubnetUsage summarizes how many usable addresses of the subnet are
// present in the inventory.
func (s *ipamService) SubnetUsage(cidr string) (domain.SubnetUsage, error) {
	subnet, err := s.ipam.GetSubnet(cidr)
	if err != nil {
		return domain.SubnetUsage{}, err
	}
	entries, err := s.ipam.Entries()
	if err != nil {
		return domain.SubnetUsage{}, err
	}

	known := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		known[entry.Address] = struct{}{}
	}

	hosts := subnet.Hosts()
	used := 0
	for _, host := range hosts {
		if _, ok := known[host]; ok {
			used++
		}
	}

	usage := domain.SubnetUsage{
		Total:     len(hosts),
		Used:      used,
		Available: len(hosts) - used,
	}
	if usage.Total > 0 {
		usage.Utilization = float64(used) / float64(usage.Total) * 100
	}
	return usage, nil
}

// ScanSubnet probes every usable address of the subnet with a bounded
// worker pool, records reachable hosts as in use, and returns them sorted.
func (s *ipamService) ScanSubnet(cidr string) ([]string, error) {
	subnet, err := s.ipam.GetSubnet(cidr)
	if err != nil {
		return nil, err
	}

	hosts := subnet.Hosts()
	jobs := make(chan string)
	var mu sync.Mutex
	var active []string

	var wg sync.WaitGroup
	for i := 0; i < scanWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for host := range jobs {
				if !s.probe(host) {
					continue
				}
				mu.Lock()
				active = append(active, host)
				mu.Unlock()
			}
		}()
	}
	for _, host := range hosts {
		jobs <- host
	}
	close(jobs)
	wg.Wait()

	sort.Strings(active)
	now := time.Now()
	for _, host := range active {
		entry := domain.IPAMEntry{
			Address:  host,
			Subnet:   cidr,
			Status:   domain.IPStatusInUse,
			LastSeen: now,
		}
		if names, err := net.LookupAddr(host); err == nil && len(names) > 0 {
			entry.Hostname = names[0]
		}
		if err := s.ipam.Upsert(entry); err != nil {
			s.logger.Warnw("failed to record scanned address", "error", err, "address", host)
		}
	}

	s.logger.Infow("subnet scan finished", "cidr", cidr, "probed", len(hosts), "active", len(active))
	return active, nil
}

// ScanSubnetAsync runs ScanSubnet on a background worker.
func (s *ipamService) ScanSubnetAsync(cidr string, done func([]string, error)) {
	go func() {
		active, err := s.ScanSubnet(cidr)
		done(active, err)
	}()
}

// pingProbe shells out to the system ping with a short timeout.
func pingProbe(address string) bool {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command("ping", "-n", "1", "-w", "500", address)
	} else {
		cmd = exec.Command("ping", "-c", "1", "-W", "1", address)
	}
	return cmd.Run() == nil
}

// CSVImportReport summarizes a CSV inventory import.
type CSVImportReport struct {
	AddedIPs     int
	AddedSubnets int
	Errors       int
}

// ImportCSV reads inventory rows. The document may contain a subnet
// section (header starting with "cidr") and an address section (header
// starting with "ip"), in either order; malformed rows are counted, not
// fatal.
func (s *ipamService) ImportCSV(r io.Reader) (CSVImportReport, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var report CSVImportReport
	var header []string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return report, fmt.Errorf("failed to read CSV: %w", err)
		}
		if len(row) == 0 || (len(row) == 1 && row[0] == "") {
			continue
		}
		if row[0] == "cidr" || row[0] == "ip" {
			header = row
			continue
		}
		if header == nil {
			report.Errors++
			continue
		}

		fields := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(row) {
				fields[name] = row[i]
			}
		}

		switch header[0] {
		case "cidr":
			subnet := domain.Subnet{
				CIDR:        fields["cidr"],
				Name:        fields["name"],
				Description: fields["description"],
			}
			if err := s.ipam.AddSubnet(subnet); err != nil {
				report.Errors++
				continue
			}
			report.AddedSubnets++
		case "ip":
			status := domain.IPStatus(fields["status"])
			if status == "" {
				status = domain.IPStatusUnknown
			}
			entry := domain.IPAMEntry{
				Address:     fields["ip"],
				Subnet:      fields["subnet"],
				Hostname:    fields["hostname"],
				Description: fields["description"],
				Status:      status,
				SessionName: fields["session_name"],
			}
			if err := s.ipam.Upsert(entry); err != nil {
				report.Errors++
				continue
			}
			report.AddedIPs++
		}
	}

	return report, nil
}

// ExportCSV writes the inventory as CSV, subnets first, then addresses.
func (s *ipamService) ExportCSV(w io.Writer, includeIPs, includeSubnets bool) error {
	writer := csv.NewWriter(w)

	if includeSubnets {
		subnets, err := s.ipam.Subnets()
		if err != nil {
			return err
		}
		if len(subnets) > 0 {
			if err := writer.Write([]string{"cidr", "name", "description"}); err != nil {
				return err
			}
			for _, subnet := range subnets {
				if err := writer.Write([]string{subnet.CIDR, subnet.Name, subnet.Description}); err != nil {
					return err
				}
			}
		}
	}

	if includeIPs {
		entries, err := s.ipam.Entries()
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			if err := writer.Write([]string{"ip", "subnet", "hostname", "description", "status", "session_name", "last_seen"}); err != nil {
				return err
			}
			for _, entry := range entries {
				lastSeen := ""
				if !entry.LastSeen.IsZero() {
					lastSeen = entry.LastSeen.Format(time.RFC3339)
				}
				row := []string{
					entry.Address, entry.Subnet, entry.Hostname,
					entry.Description, string(entry.Status), entry.SessionName, lastSeen,
				}
				if err := writer.Write(row); err != nil {
					return err
				}
			}
		}
	}

	writer.Flush()
	return writer.Error()
}
