package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/estatedesk/crm/client"
)

// resourceKind names a resource command and the SDK service behind it.
type resourceKind struct {
	name    string
	plural  string
	service func(*client.Client) *client.ResourceService
}

var resourceKinds = []resourceKind{
	{"escrow", "escrows", func(c *client.Client) *client.ResourceService { return c.Escrows }},
	{"listing", "listings", func(c *client.Client) *client.ResourceService { return c.Listings }},
	{"client", "clients", func(c *client.Client) *client.ResourceService { return c.Clients }},
	{"lead", "leads", func(c *client.Client) *client.ResourceService { return c.Leads }},
	{"appointment", "appointments", func(c *client.Client) *client.ResourceService { return c.Appointments }},
}

func newResourceCmd(k resourceKind) *cobra.Command {
	cmd := &cobra.Command{
		Use:   k.name,
		Short: fmt.Sprintf("Manage %s", k.plural),
	}
	svc := func() *client.ResourceService { return k.service(apiClient) }
	cmd.AddCommand(resourceListCmd(k, svc))
	cmd.AddCommand(resourceGetCmd(k, svc))
	cmd.AddCommand(resourceCreateCmd(k, svc))
	cmd.AddCommand(resourceUpdateCmd(k, svc))
	for _, action := range []string{"archive", "restore", "delete"} {
		cmd.AddCommand(resourceLifecycleCmd(k, action, svc))
	}
	return cmd
}

func resourceListCmd(k resourceKind, svc func() *client.ResourceService) *cobra.Command {
	var opts client.ListOptions
	var from, to string
	cmd := &cobra.Command{
		Use:   "list",
		Short: fmt.Sprintf("List %s in a scope", k.plural),
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if opts.Page < 0 || opts.Limit < 0 {
				fmt.Fprintf(os.Stderr, "Error: --page and --limit must be non-negative\n")
				os.Exit(1)
			}
			var err error
			if opts.From, err = parseDateFlag(from); err != nil {
				fatal("parse --from", err)
			}
			if opts.To, err = parseDateFlag(to); err != nil {
				fatal("parse --to", err)
			}
			res, err := svc().List(context.Background(), &opts)
			if err != nil {
				fatal("list "+k.plural, err)
			}
			switch flagFmt {
			case "table":
				formatTable(recordHeaders, recordRows(res.Items))
				fmt.Printf("\npage %d/%d, %d total\n", res.Pagination.Page, res.Pagination.TotalPages, res.Pagination.Total)
			case "quiet":
				for _, r := range res.Items {
					fmt.Println(r.ID)
				}
			default:
				output(res, "")
			}
		},
	}
	cmd.Flags().StringVar(&opts.Scope, "scope", "", "Scope: user|team|brokerage|all (default depends on role)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&from, "from", "", "Earliest date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "Latest date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&opts.Search, "search", "", "Free-text search")
	cmd.Flags().BoolVar(&opts.Archived, "archived", false, "List archived records instead of active ones")
	cmd.Flags().IntVar(&opts.Page, "page", 0, "Page number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Page size")
	return cmd
}

func resourceGetCmd(k resourceKind, svc func() *client.ResourceService) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: fmt.Sprintf("Get a %s by ID", k.name),
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			rec, err := svc().Get(context.Background(), args[0])
			if err != nil {
				fatal("get "+k.name, err)
			}
			outputRecord(rec)
		},
	}
}

// mutationFlags registers the writable fields shared by create and update.
type mutationFlags struct {
	title, status, details, leadID, email, phone string
	startsAt, closingDate                        string
	private                                      bool
}

func (f *mutationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "Title")
	cmd.Flags().StringVar(&f.status, "status", "", "Status")
	cmd.Flags().StringVar(&f.details, "details", "", "Details as a JSON object")
	cmd.Flags().BoolVar(&f.private, "private", false, "Mark private (leads)")
	cmd.Flags().StringVar(&f.leadID, "lead", "", "Linked lead ID (appointments)")
	cmd.Flags().StringVar(&f.email, "email", "", "Email")
	cmd.Flags().StringVar(&f.phone, "phone", "", "Phone")
	cmd.Flags().StringVar(&f.startsAt, "starts-at", "", "Start time (appointments)")
	cmd.Flags().StringVar(&f.closingDate, "closing-date", "", "Closing date (escrows)")
}

// build turns the flags the user actually set into a Mutation.
func (f *mutationFlags) build(cmd *cobra.Command) (*client.Mutation, error) {
	m := &client.Mutation{}
	changed := cmd.Flags().Changed
	setStr := func(flag, v string, dst **string) {
		if changed(flag) {
			s := v
			*dst = &s
		}
	}
	setStr("title", f.title, &m.Title)
	setStr("status", f.status, &m.Status)
	setStr("lead", f.leadID, &m.LeadID)
	setStr("email", f.email, &m.Email)
	setStr("phone", f.phone, &m.Phone)
	if changed("private") {
		p := f.private
		m.IsPrivate = &p
	}
	if f.details != "" {
		if err := json.Unmarshal([]byte(f.details), &m.Details); err != nil {
			return nil, fmt.Errorf("parse --details: %w", err)
		}
	}
	var err error
	if m.StartsAt, err = parseDateFlag(f.startsAt); err != nil {
		return nil, fmt.Errorf("parse --starts-at: %w", err)
	}
	if m.ClosingDate, err = parseDateFlag(f.closingDate); err != nil {
		return nil, fmt.Errorf("parse --closing-date: %w", err)
	}
	return m, nil
}

func resourceCreateCmd(k resourceKind, svc func() *client.ResourceService) *cobra.Command {
	var f mutationFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: fmt.Sprintf("Create a %s", k.name),
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			m, err := f.build(cmd)
			if err != nil {
				fatal("create "+k.name, err)
			}
			rec, err := svc().Create(context.Background(), m)
			if err != nil {
				fatal("create "+k.name, err)
			}
			outputRecord(rec)
		},
	}
	f.register(cmd)
	return cmd
}

func resourceUpdateCmd(k resourceKind, svc func() *client.ResourceService) *cobra.Command {
	var f mutationFlags
	var version, retries int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: fmt.Sprintf("Update a %s", k.name),
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			m, err := f.build(cmd)
			if err != nil {
				fatal("update "+k.name, err)
			}
			ctx := context.Background()
			var rec *client.Record
			if retries > 0 {
				rec, err = svc().UpdateWithRetry(ctx, args[0], *m, retries)
			} else {
				m.Version = versionFlag(cmd, version)
				rec, err = svc().Update(ctx, args[0], m)
			}
			if err != nil {
				fatal("update "+k.name, err)
			}
			outputRecord(rec)
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&version, "version", 0, "Expected current version; the write fails on mismatch")
	cmd.Flags().IntVar(&retries, "retry", 0, "Refetch and retry up to N times on version conflict")
	cmd.MarkFlagsMutuallyExclusive("version", "retry")
	return cmd
}

func resourceLifecycleCmd(k resourceKind, action string, svc func() *client.ResourceService) *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   action + " <id>",
		Short: fmt.Sprintf("%s a %s", titleCase(action), k.name),
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := svc()
			write := map[string]func(context.Context, string, *int) (*client.Record, error){
				"archive": s.Archive,
				"restore": s.Restore,
				"delete":  s.Delete,
			}[action]
			rec, err := write(context.Background(), args[0], versionFlag(cmd, version))
			if err != nil {
				fatal(action+" "+k.name, err)
			}
			outputRecord(rec)
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "Expected current version; the write fails on mismatch")
	return cmd
}

// versionFlag returns the --version value only when the user set it.
func versionFlag(cmd *cobra.Command, v int) *int {
	if !cmd.Flags().Changed("version") {
		return nil
	}
	return &v
}

func parseDateFlag(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
