package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/NavarchProject/drainwatch/pkg/drain"
	"github.com/NavarchProject/drainwatch/pkg/ecs"
	"github.com/NavarchProject/drainwatch/pkg/identity"
	"github.com/NavarchProject/drainwatch/pkg/retry"
)

// report is what a SIGTERM would wait on right now.
type report struct {
	Host     identity.Host      `json:"host"`
	Status   ecs.InstanceStatus `json:"status"`
	Draining bool               `json:"draining"`
	Daemons  []string           `json:"daemon_ids"`
	Tasks    []taskRow          `json:"tasks"`
}

type taskRow struct {
	ecs.Task
	Daemon   bool `json:"daemon"`
	Blocking bool `json:"blocking"`
}

func (r report) blocking() int {
	n := 0
	for _, t := range r.Tasks {
		if t.Blocking {
			n++
		}
	}
	return n
}

func checkCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Show what a SIGTERM would wait on right now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}

			ctx := context.Background()
			host, client, err := resolveHost(ctx, cfg, logger)
			if err != nil {
				return err
			}

			r, err := buildReport(ctx, client, host, cfg.RetryPolicy(), logger)
			if err != nil {
				return err
			}

			switch output {
			case "json":
				return renderJSON(cmd.OutOrStdout(), r)
			case "table":
				return renderTable(cmd.OutOrStdout(), r)
			default:
				return fmt.Errorf("unsupported output format: %s", output)
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	return cmd
}

// buildReport samples both drain phases once without waiting.
func buildReport(ctx context.Context, client ecs.ClusterClient, host identity.Host, policy retry.Config, logger *slog.Logger) (report, error) {
	r := report{Host: host}

	ci, err := drain.NewGate(client, logger).Status(ctx, host)
	if err != nil {
		return r, err
	}
	r.Status = ci.Status
	r.Draining = ci.Status == ecs.InstanceDraining

	daemons, err := drain.NewDaemonResolver(client, logger).Resolve(ctx, host.Cluster)
	if err != nil {
		return r, err
	}
	r.Daemons = daemons.IDs()

	w := drain.NewWaiter(client, drain.Options{Retry: policy}, logger)
	phases := []struct {
		phase   drain.Phase
		desired ecs.DesiredStatus
		pred    drain.Predicate
	}{
		{drain.PhaseAwaitRunningDrain, ecs.DesiredRunning, drain.RunningBlocks},
		{drain.PhaseAwaitStoppedConfirm, ecs.DesiredStopped, drain.StoppingBlocks},
	}
	for _, p := range phases {
		snap, err := w.Sample(ctx, host, daemons, p.phase, p.desired, p.pred)
		if err != nil {
			return r, err
		}
		blocking := make(map[string]bool, len(snap.Blocking))
		for _, t := range snap.Blocking {
			blocking[t.ARN] = true
		}
		for _, t := range snap.Tasks {
			r.Tasks = append(r.Tasks, taskRow{
				Task:     t,
				Daemon:   daemons.Contains(t.StartedBy),
				Blocking: blocking[t.ARN],
			})
		}
	}
	return r, nil
}

func renderJSON(w io.Writer, r report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func renderTable(w io.Writer, r report) error {
	fmt.Fprintf(w, "Cluster:            %s\n", r.Host.Cluster)
	fmt.Fprintf(w, "Container instance: %s\n", r.Host.ContainerInstance)
	fmt.Fprintf(w, "Status:             %s\n", r.Status)
	fmt.Fprintf(w, "Daemon deployments: %d\n\n", len(r.Daemons))

	if len(r.Tasks) > 0 {
		table := tablewriter.NewWriter(w)
		table.Append([]string{"Task", "Started By", "Desired", "Last", "Daemon", "Blocking"})
		for _, t := range r.Tasks {
			table.Append([]string{
				t.ARN,
				t.StartedBy,
				string(t.DesiredStatus),
				t.LastStatus,
				yesNo(t.Daemon),
				yesNo(t.Blocking),
			})
		}
		if err := table.Render(); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}

	switch n := r.blocking(); {
	case !r.Draining:
		pterm.Info.WithWriter(w).Printfln("instance is %s, not DRAINING: SIGTERM would exit immediately", r.Status)
	case n > 0:
		pterm.Warning.WithWriter(w).Printfln("%d task(s) would hold shutdown", n)
	default:
		pterm.Success.WithWriter(w).Println("nothing to wait for: SIGTERM would exit once polled")
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
