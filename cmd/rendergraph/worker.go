package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/rendergraph/pkg/rendergraph/supervisor"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/worker"
)

type workerStatusOptions struct {
	root *rootOptions

	url     string
	timeout time.Duration
}

func (o *workerStatusOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.url, "url", "", "worker base URL (default from worker.host and worker.port)")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 5*time.Second, "request timeout")
}

func (o *workerStatusOptions) baseURL() string {
	if o.url != "" {
		return o.url
	}
	w := o.root.settings.Worker
	return supervisor.Config{Host: w.Host, Port: w.Port}.BaseURL()
}

func (o *workerStatusOptions) run(ctx context.Context, out io.Writer) error {
	c := worker.NewClient(o.baseURL(), worker.WithLogger(o.root.logger), worker.WithTimeout(o.timeout))

	stats, err := c.SystemStats(ctx)
	if err != nil {
		fmt.Fprintf(out, "worker %s: unreachable\n", c.BaseURL())
		return err
	}
	q, err := c.Queue(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "worker %s: ready\n", c.BaseURL())
	if v, ok := stats.System["comfyui_version"]; ok {
		fmt.Fprintf(out, "version: %v\n", v)
	}
	for _, d := range stats.Devices {
		fmt.Fprintf(out, "device %d: %s\n", d.Index, d)
	}
	fmt.Fprintf(out, "queue: %d running, %d pending\n", len(q.Running), len(q.Pending))
	return nil
}

func newCmdWorker(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Inspect the image worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	o := &workerStatusOptions{root: root}
	status := &cobra.Command{
		Use:   "status",
		Short: "Show device and queue state of a running worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd.Context(), cmd.OutOrStdout())
		},
	}
	o.addFlags(status)
	cmd.AddCommand(status)
	return cmd
}
