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

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/asshm/asshm/internal/adapters/config"
	"github.com/asshm/asshm/internal/adapters/data/file"
	"github.com/asshm/asshm/internal/adapters/flags"
	"github.com/asshm/asshm/internal/core/domain"
	"github.com/asshm/asshm/internal/core/services"
	"github.com/asshm/asshm/internal/logger"
)

const appName = "asshm"

var (
	version   = "develop"
	gitCommit = "unknown"
)

func main() {
	// The profile directory decides every store path, so it has to be known
	// before cobra parses flags.
	osConfig := config.NewOSConfigWithProfile(profileDirArg(os.Args[1:]))

	log, logLevel, err := logger.New("ASSHM", osConfig.LogPath("asshm.log"))
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	//nolint:errcheck // log.Sync may return an error which is safe to ignore here
	defer log.Sync()

	configManager := file.NewConfigManager(osConfig.DataPath("config.yaml"))
	cfg, err := configManager.Load()
	if err != nil {
		log.Warnw("failed to load configuration, using defaults", "error", err)
		cfg = domain.DefaultConfig()
	}

	sessionRepo := file.NewSessionStore(log, osConfig.DataPath("sessions.json"), cfg.MaxBackups)
	if err := sessionRepo.Load(); err != nil {
		log.Errorw("failed to load session store", "error", err)
		fmt.Fprintln(os.Stderr, err)
		//nolint:gocritic // exitAfterDefer: ensure immediate exit on unrecoverable error
		os.Exit(1)
	}

	ipamRepo := file.NewIPAMStore(log, osConfig.DataPath("ipam"))
	if err := ipamRepo.Load(); err != nil {
		log.Errorw("failed to load address inventory", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	registry := services.ResolveToolRegistry(cfg)
	sessionService := services.NewSessionService(log, sessionRepo, ipamRepo, registry, cfg.SavePasswords)
	ipamService := services.NewIPAMService(log, ipamRepo, sessionRepo)

	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Session and address manager for external SSH/SFTP/RDP clients",
		Version:       fmt.Sprintf("%s (%s)", version, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	globalFlags := flags.NewCobraFlags(rootCmd)
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if globalFlags.IsDebug() {
			logLevel.SetLevel(zapcore.DebugLevel)
		}
	}

	rootCmd.AddCommand(
		newListCmd(sessionService),
		newAddCmd(sessionService),
		newEditCmd(sessionService),
		newRemoveCmd(sessionService),
		newGroupsCmd(sessionService),
		newTagsCmd(sessionService),
		newLaunchCmd(sessionService),
		newImportCmd(sessionService),
		newExportCmd(sessionService),
		newIPAMCmd(ipamService),
	)

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func profileDirArg(args []string) string {
	for i, arg := range args {
		if arg == "--profile-dir" && i+1 < len(args) {
			return args[i+1]
		}
		if value, ok := strings.CutPrefix(arg, "--profile-dir="); ok {
			return value
		}
	}
	return ""
}

type sessionFacade interface {
	CreateSession(session domain.Session) error
	DeleteSession(name string) error
	ListSessions(filter services.ListFilter) ([]domain.Session, error)
	GetSession(name string) (domain.Session, error)
	UpdateSession(name string, session domain.Session) error
	Groups() ([]string, error)
	TagNames() ([]string, error)
	ImportSessions(records []domain.Session) (domain.ImportReport, error)
	ExportSessions(filter *services.ListFilter) ([]domain.Session, error)
	Launch(name string, tool domain.Tool) (domain.Invocation, error)
	PreviewCommand(name string, tool domain.Tool) (string, error)
}

func newListCmd(svc sessionFacade) *cobra.Command {
	var group, tag, search string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := svc.ListSessions(services.ListFilter{Group: group, Tag: tag, Search: search})
			if err != nil {
				return err
			}
			for _, s := range sessions {
				fmt.Printf("%s\t%s\t%s\t%s\n", s.Name, s.Host, s.EffectiveGroup(), strings.Join(s.Tags, ","))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "Only sessions in this group")
	cmd.Flags().StringVar(&tag, "tag", "", "Only sessions carrying this tag")
	cmd.Flags().StringVar(&search, "search", "", "Match name, host or description")
	return cmd
}

func newAddCmd(svc sessionFacade) *cobra.Command {
	var session domain.Session
	var tags []string
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session.Name = args[0]
			session.Tags = tags
			return svc.CreateSession(session)
		},
	}
	cmd.Flags().StringVar(&session.Host, "host", "", "Hostname or IP address")
	cmd.Flags().StringVar(&session.Username, "user", "", "Username")
	cmd.Flags().StringVar(&session.Password, "password", "", "Password (stored in the session document)")
	cmd.Flags().IntVar(&session.Port, "port", 0, "Port (default 22)")
	cmd.Flags().StringVar(&session.KeyFile, "key", "", "Path to a .ppk private key")
	cmd.Flags().StringVar(&session.Group, "group", "", "Group name")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Tags")
	cmd.Flags().StringVar(&session.Description, "description", "", "Free-text description")
	cmd.Flags().StringVar(&session.Params, "params", "", "Extra arguments passed through to the tool")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

func newEditCmd(svc sessionFacade) *cobra.Command {
	var newName string
	var tags []string
	cmd := &cobra.Command{
		Use:   "edit <name>",
		Short: "Update a session, optionally renaming it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := svc.GetSession(args[0])
			if err != nil {
				return err
			}
			if newName != "" {
				session.Name = newName
			}
			applyStringFlag(cmd, "host", &session.Host)
			applyStringFlag(cmd, "user", &session.Username)
			applyStringFlag(cmd, "password", &session.Password)
			applyStringFlag(cmd, "key", &session.KeyFile)
			applyStringFlag(cmd, "group", &session.Group)
			applyStringFlag(cmd, "description", &session.Description)
			applyStringFlag(cmd, "params", &session.Params)
			if cmd.Flags().Changed("port") {
				session.Port, _ = cmd.Flags().GetInt("port")
			}
			if cmd.Flags().Changed("tags") {
				session.Tags = tags
			}
			return svc.UpdateSession(args[0], session)
		},
	}
	cmd.Flags().StringVar(&newName, "rename", "", "New session name")
	cmd.Flags().String("host", "", "Hostname or IP address")
	cmd.Flags().String("user", "", "Username")
	cmd.Flags().String("password", "", "Password")
	cmd.Flags().Int("port", 0, "Port")
	cmd.Flags().String("key", "", "Path to a .ppk private key")
	cmd.Flags().String("group", "", "Group name")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Tags")
	cmd.Flags().String("description", "", "Free-text description")
	cmd.Flags().String("params", "", "Extra arguments passed through to the tool")
	return cmd
}

func applyStringFlag(cmd *cobra.Command, name string, dst *string) {
	if cmd.Flags().Changed(name) {
		*dst, _ = cmd.Flags().GetString(name)
	}
}

func newRemoveCmd(svc sessionFacade) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.DeleteSession(args[0])
		},
	}
}

func newGroupsCmd(svc sessionFacade) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List groups in use",
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := svc.Groups()
			if err != nil {
				return err
			}
			for _, g := range groups {
				fmt.Println(g)
			}
			return nil
		},
	}
}

func newTagsCmd(svc sessionFacade) *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List tags in use",
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := svc.TagNames()
			if err != nil {
				return err
			}
			for _, t := range tags {
				fmt.Println(t)
			}
			return nil
		},
	}
}

func newLaunchCmd(svc sessionFacade) *cobra.Command {
	var toolName string
	var dryRun, copyCommand bool
	cmd := &cobra.Command{
		Use:   "launch <session>",
		Short: "Launch an external client for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tool, ok := domain.ParseTool(toolName)
			if !ok {
				return fmt.Errorf("unknown tool %q (terminal, sftp or rdp)", toolName)
			}

			if dryRun || copyCommand {
				line, err := svc.PreviewCommand(args[0], tool)
				if err != nil {
					return err
				}
				if copyCommand {
					if err := clipboard.WriteAll(line); err != nil {
						return fmt.Errorf("failed to copy command to clipboard: %w", err)
					}
				}
				fmt.Println(line)
				if dryRun {
					return nil
				}
			}

			inv, err := svc.Launch(args[0], tool)
			if err != nil {
				return err
			}
			fmt.Printf("launched %s for session %q\n", inv.Tool, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&toolName, "tool", "terminal", "Tool to launch: terminal, sftp or rdp")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the redacted command instead of launching")
	cmd.Flags().BoolVar(&copyCommand, "copy", false, "Copy the redacted command to the clipboard")
	return cmd
}

func newImportCmd(svc sessionFacade) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Bulk-import sessions from a JSON document or an OpenSSH config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var records []domain.Session
			switch format {
			case "json":
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &records); err != nil {
					return fmt.Errorf("failed to parse session document: %w", err)
				}
			case "sshconfig":
				codec := &file.SSHConfigCodec{}
				var err error
				records, err = codec.ParseFile(args[0])
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown format %q (json or sshconfig)", format)
			}

			report, err := svc.ImportSessions(records)
			if err != nil {
				return err
			}
			fmt.Printf("imported %d session(s), rejected %d\n", len(report.Accepted), len(report.Rejected))
			for _, rejection := range report.Rejected {
				fmt.Printf("  rejected %q: %s\n", rejection.Record.Name, rejection.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "Input format: json or sshconfig")
	return cmd
}

func newExportCmd(svc sessionFacade) *cobra.Command {
	var format, group string
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export sessions as a JSON document or OpenSSH config stanzas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *services.ListFilter
			if group != "" {
				filter = &services.ListFilter{Group: group}
			}
			sessions, err := svc.ExportSessions(filter)
			if err != nil {
				return err
			}

			out, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
			if err != nil {
				return err
			}
			defer func() { _ = out.Close() }()

			switch format {
			case "json":
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "    ")
				return encoder.Encode(sessions)
			case "sshconfig":
				codec := &file.SSHConfigCodec{}
				return codec.Write(out, sessions)
			}
			return fmt.Errorf("unknown format %q (json or sshconfig)", format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or sshconfig")
	cmd.Flags().StringVar(&group, "group", "", "Only sessions in this group")
	return cmd
}

type ipamFacade interface {
	Entries() ([]domain.IPAMEntry, error)
	Upsert(entry domain.IPAMEntry) error
	Release(address string) error
	Link(address, sessionName string) error
	Unlink(address string) error
	ListByStatus(status domain.IPStatus) ([]domain.IPAMEntry, error)
	AddSubnet(subnet domain.Subnet) error
	RemoveSubnet(cidr string) error
	Subnets() ([]domain.Subnet, error)
	SubnetUsage(cidr string) (domain.SubnetUsage, error)
	ScanSubnet(cidr string) ([]string, error)
	ImportCSV(r io.Reader) (services.CSVImportReport, error)
	ExportCSV(w io.Writer, includeIPs, includeSubnets bool) error
}

func newIPAMCmd(svc ipamFacade) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ipam",
		Short: "Manage the address inventory",
	}
	cmd.AddCommand(
		newIPAMListCmd(svc),
		newIPAMAddCmd(svc),
		newIPAMReleaseCmd(svc),
		newIPAMLinkCmd(svc),
		newIPAMUnlinkCmd(svc),
		newIPAMSubnetCmd(svc),
		newIPAMCSVCmd(svc),
	)
	return cmd
}

func newIPAMListCmd(svc ipamFacade) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List inventory entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []domain.IPAMEntry
			var err error
			if status != "" {
				entries, err = svc.ListByStatus(domain.IPStatus(status))
			} else {
				entries, err = svc.Entries()
			}
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s\t%s\t%s\t%s\n", e.Address, e.Status, e.SessionName, e.Hostname)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only entries with this status (Free, Reserved, InUse, Unknown)")
	return cmd
}

func newIPAMAddCmd(svc ipamFacade) *cobra.Command {
	var entry domain.IPAMEntry
	var status string
	cmd := &cobra.Command{
		Use:   "add <address>",
		Short: "Add or update an inventory entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry.Address = args[0]
			entry.Status = domain.IPStatus(status)
			return svc.Upsert(entry)
		},
	}
	cmd.Flags().StringVar(&status, "status", string(domain.IPStatusUnknown), "Status: Free, Reserved, InUse or Unknown")
	cmd.Flags().StringVar(&entry.Hostname, "hostname", "", "Hostname")
	cmd.Flags().StringVar(&entry.Subnet, "subnet", "", "Subnet CIDR the address belongs to")
	cmd.Flags().StringVar(&entry.Description, "description", "", "Free-text description")
	return cmd
}

func newIPAMReleaseCmd(svc ipamFacade) *cobra.Command {
	return &cobra.Command{
		Use:   "release <address>",
		Short: "Remove an inventory entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.Release(args[0])
		},
	}
}

func newIPAMLinkCmd(svc ipamFacade) *cobra.Command {
	return &cobra.Command{
		Use:   "link <address> <session>",
		Short: "Link an inventory entry to a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.Link(args[0], args[1])
		},
	}
}

func newIPAMUnlinkCmd(svc ipamFacade) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <address>",
		Short: "Clear the session link of an inventory entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.Unlink(args[0])
		},
	}
}

func newIPAMSubnetCmd(svc ipamFacade) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subnet",
		Short: "Manage subnets",
	}

	var name, description string
	addCmd := &cobra.Command{
		Use:   "add <cidr>",
		Short: "Add a subnet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.AddSubnet(domain.Subnet{CIDR: args[0], Name: name, Description: description})
		},
	}
	addCmd.Flags().StringVar(&name, "name", "", "Subnet name")
	addCmd.Flags().StringVar(&description, "description", "", "Free-text description")

	cmd.AddCommand(
		addCmd,
		&cobra.Command{
			Use:   "rm <cidr>",
			Short: "Remove a subnet and its entries",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return svc.RemoveSubnet(args[0])
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List subnets with usage",
			RunE: func(cmd *cobra.Command, args []string) error {
				subnets, err := svc.Subnets()
				if err != nil {
					return err
				}
				for _, subnet := range subnets {
					usage, err := svc.SubnetUsage(subnet.CIDR)
					if err != nil {
						return err
					}
					fmt.Printf("%s\t%s\t%d/%d used (%.1f%%)\n", subnet.CIDR, subnet.Name, usage.Used, usage.Total, usage.Utilization)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "scan <cidr>",
			Short: "Probe every address of a subnet and record reachable hosts",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				active, err := svc.ScanSubnet(args[0])
				if err != nil {
					return err
				}
				for _, host := range active {
					fmt.Println(host)
				}
				fmt.Printf("%d host(s) reachable\n", len(active))
				return nil
			},
		},
	)
	return cmd
}

func newIPAMCSVCmd(svc ipamFacade) *cobra.Command {
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import inventory entries and subnets from CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			report, err := svc.ImportCSV(f)
			if err != nil {
				return err
			}
			fmt.Printf("imported %d address(es), %d subnet(s), %d error(s)\n", report.AddedIPs, report.AddedSubnets, report.Errors)
			return nil
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export the inventory as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			return svc.ExportCSV(f, true, true)
		},
	}

	group := &cobra.Command{Use: "csv", Short: "CSV interchange"}
	group.AddCommand(importCmd, exportCmd)
	return group
}
