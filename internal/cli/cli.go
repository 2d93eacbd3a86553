package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Additional-Code/allot/internal/app"
	"github.com/Additional-Code/allot/internal/entity"
	"github.com/Additional-Code/allot/internal/migration"
	"github.com/Additional-Code/allot/internal/seeder"
	ordersvc "github.com/Additional-Code/allot/internal/service/order"
)

const stopTimeout = 10 * time.Second

// OrderService is the slice of the order service driven from the command line.
type OrderService interface {
	Ingest(ctx context.Context, file io.Reader, createdBy int64) (*entity.Order, error)
	Materialize(ctx context.Context, id int64) (*entity.Order, error)
	ProcessOrder(ctx context.Context, id int64) (*ordersvc.DispatchReport, error)
	Sweep(ctx context.Context) ([]ordersvc.DispatchReport, error)
}

// serviceRunner starts whatever the command needs and hands it an OrderService.
type serviceRunner func(ctx context.Context, fn func(context.Context, OrderService) error) error

// NewRootCommand builds the root allot CLI command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "allot",
		Short:        "Voucher batch allotment and dispatch",
		SilenceUsage: true,
	}

	root.AddCommand(newStartCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newOrderCmd(runOrderService))
	root.AddCommand(newWorkerCmd())

	return root
}

// Execute runs the allot CLI until the command finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "start",
		Aliases: []string{"run"},
		Short:   "Run the HTTP and gRPC service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), app.Module)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var mig *migration.Migrator
			opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := mig.Up(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Rollback migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			all, _ := cmd.Flags().GetBool("all")
			var mig *migration.Migrator
			opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := mig.Down(ctx, steps, all); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
				return nil
			})
		},
	}
	downCmd.Flags().Int("steps", 1, "Number of migration steps to rollback")
	downCmd.Flags().Bool("all", false, "Rollback all applied migrations")

	cmd.AddCommand(upCmd, downCmd)
	return cmd
}

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Ingest the demo batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			materialize, _ := cmd.Flags().GetBool("materialize")
			var seed *seeder.Seeder
			opts := fx.Options(app.Core, seeder.Module, fx.Populate(&seed))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				order, err := seed.Orders(ctx, materialize)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded order %d (%s)\n", order.ID, order.Status)
				return nil
			})
		},
	}
	cmd.Flags().Bool("materialize", false, "Allot vouchers for the seeded order")
	return cmd
}

func newOrderCmd(run serviceRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Operate on voucher orders",
	}

	ingestCmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Validate a batch file and create an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			principal, _ := cmd.Flags().GetInt64("principal")
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open batch file: %w", err)
			}
			defer f.Close()

			return run(cmd.Context(), func(ctx context.Context, svc OrderService) error {
				order, err := svc.Ingest(ctx, f, principal)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), order)
			})
		},
	}
	ingestCmd.Flags().Int64("principal", seeder.DemoPrincipal, "Principal recorded as the order creator")

	materializeCmd := &cobra.Command{
		Use:   "materialize [id]",
		Short: "Create and allot the vouchers of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			return run(cmd.Context(), func(ctx context.Context, svc OrderService) error {
				order, err := svc.Materialize(ctx, id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), order)
			})
		},
	}

	dispatchCmd := &cobra.Command{
		Use:   "dispatch [id]",
		Short: "Run one dispatch pass over an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			return run(cmd.Context(), func(ctx context.Context, svc OrderService) error {
				report, err := svc.ProcessOrder(ctx, id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Retry dispatch for every order still processing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), func(ctx context.Context, svc OrderService) error {
				reports, err := svc.Sweep(ctx)
				if writeErr := writeJSON(cmd.OutOrStdout(), reports); writeErr != nil {
					return writeErr
				}
				return err
			})
		},
	}

	cmd.AddCommand(ingestCmd, materializeCmd, dispatchCmd, sweepCmd)
	return cmd
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage background workers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run worker engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), app.Worker)
		},
	})
	return cmd
}

func runOrderService(ctx context.Context, fn func(context.Context, OrderService) error) error {
	var svc *ordersvc.Service
	opts := fx.Options(app.Core, fx.Populate(&svc))
	return runWithApp(ctx, opts, func(ctx context.Context) error {
		return fn(ctx, svc)
	})
}

func runUntilDone(ctx context.Context, opts fx.Option) error {
	application := fx.New(opts)
	if err := application.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return application.Stop(stopCtx)
}

func runWithApp(ctx context.Context, opts fx.Option, fn func(context.Context) error) error {
	application := fx.New(opts, fx.NopLogger)
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = application.Stop(stopCtx)
	}()
	return fn(ctx)
}

func parseOrderID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid order id %q", raw)
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
