// Package cli implements the counselctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/counselhub/counselhub/internal/salary"
	"github.com/counselhub/counselhub/internal/shared"
	"github.com/counselhub/counselhub/internal/users"
	"github.com/counselhub/counselhub/jobs"
)

// SystemActorID is recorded as the actor of CLI initiated changes.
const SystemActorID int64 = 0

// JobQueue inspects and feeds the job queues.
type JobQueue interface {
	Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error)
	Queues(ctx context.Context) ([]jobs.QueueStat, error)
	Scheduled(ctx context.Context) ([]jobs.ScheduledEntry, error)
}

// SalaryRequester queues salary batches.
type SalaryRequester interface {
	Request(ctx context.Context, p *shared.Principal, in salary.RunInput) (salary.Batch, error)
}

// AccountCreator registers accounts.
type AccountCreator interface {
	Create(ctx context.Context, actor *shared.Principal, in users.CreateInput) (users.User, *users.TemporaryPassword, error)
}

// Backend is what the commands operate on.
type Backend struct {
	Jobs   JobQueue
	Salary SalaryRequester
	Users  AccountCreator
}

// Opener connects a Backend lazily so --help works without infrastructure.
// The returned func releases it.
type Opener func(ctx context.Context) (*Backend, func(), error)

// Commands builds the counselctl command tree.
type Commands struct {
	open Opener
}

// New returns the root command.
func New(open Opener) *cobra.Command {
	c := Commands{open: open}
	root := &cobra.Command{
		Use:           "counselctl",
		Short:         "CounselHub operator tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(c.newJobsCmd(), c.newSalaryCmd(), c.newUsersCmd())
	return root
}

func systemPrincipal() *shared.Principal {
	return &shared.Principal{UserID: SystemActorID, Name: "counselctl", Role: shared.RoleSuperAdmin}
}

func (c Commands) with(cmd *cobra.Command, fn func(b *Backend) error) error {
	b, release, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer release()
	return fn(b)
}

func (c Commands) newJobsCmd() *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}

	trigger := &cobra.Command{
		Use:       "trigger <name>",
		Short:     "Queue a maintenance task now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: taskNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.with(cmd, func(b *Backend) error {
				info, err := b.Jobs.Trigger(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("trigger %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
				return nil
			})
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue sizes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.with(cmd, func(b *Backend) error {
				queues, err := b.Jobs.Queues(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED\tFAILED TODAY")
				for _, q := range queues {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n", q.Queue, q.Pending, q.Active, q.Scheduled, q.Retry, q.Archived, q.Failed)
				}
				return tw.Flush()
			})
		},
	}

	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List cron entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.with(cmd, func(b *Backend) error {
				entries, err := b.Jobs.Scheduled(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SPEC\tTASK\tNEXT RUN")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Spec, e.Task, e.NextRun.In(shared.Seoul).Format("2006-01-02 15:04"))
				}
				return tw.Flush()
			})
		},
	}

	jobsCmd.AddCommand(trigger, stats, scheduled)
	return jobsCmd
}

func taskNames() []string {
	tasks := jobs.TriggerableTasks()
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Name)
	}
	return out
}

func (c Commands) newSalaryCmd() *cobra.Command {
	salaryCmd := &cobra.Command{
		Use:   "salary",
		Short: "Salary batch operations",
	}

	var (
		period   string
		branchID int64
	)
	run := &cobra.Command{
		Use:   "run",
		Short: "Queue the salary calculation of a period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := salary.RunInput{Period: strings.TrimSpace(period)}
			if branchID > 0 {
				in.BranchID = &branchID
			}
			return c.with(cmd, func(b *Backend) error {
				batch, err := b.Salary.Request(cmd.Context(), systemPrincipal(), in)
				if err != nil {
					return fmt.Errorf("request batch: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), batch)
			})
		},
	}
	run.Flags().StringVar(&period, "period", "", "settlement month (YYYY-MM)")
	run.Flags().Int64Var(&branchID, "branch", 0, "branch id, all branches when omitted")
	_ = run.MarkFlagRequired("period")

	salaryCmd.AddCommand(run)
	return salaryCmd
}

func (c Commands) newUsersCmd() *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Account operations",
	}

	var in users.CreateInput
	createAdmin := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an HQ or super admin account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Role = strings.ToUpper(in.Role)
			if in.Role != shared.RoleSuperAdmin && in.Role != shared.RoleHQAdmin {
				return fmt.Errorf("role must be %s or %s", shared.RoleSuperAdmin, shared.RoleHQAdmin)
			}
			return c.with(cmd, func(b *Backend) error {
				u, temp, err := b.Users.Create(cmd.Context(), systemPrincipal(), in)
				if err != nil {
					return fmt.Errorf("create admin: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created user id=%d email=%s role=%s\n", u.ID, u.Email, u.Role)
				if temp != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "temporary password: %s\n", temp.Password)
				}
				return nil
			})
		},
	}
	createAdmin.Flags().StringVar(&in.Email, "email", "", "login email")
	createAdmin.Flags().StringVar(&in.Name, "name", "", "display name")
	createAdmin.Flags().StringVar(&in.Password, "password", "", "initial password, generated when omitted")
	createAdmin.Flags().StringVar(&in.Role, "role", shared.RoleSuperAdmin, "SUPER_ADMIN or HQ_ADMIN")
	_ = createAdmin.MarkFlagRequired("email")
	_ = createAdmin.MarkFlagRequired("name")

	usersCmd.AddCommand(createAdmin)
	return usersCmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
