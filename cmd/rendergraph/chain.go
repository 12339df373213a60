package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/rendergraph/pkg/rendergraph/chain"
	"github.com/randalmurphal/rendergraph/pkg/rendergraph/nodegraph"
)

type chainOptions struct {
	root *rootOptions

	modifiers []string
	prompt    string
	seed      int64
	output    string
	inspect   bool
}

func (o *chainOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&o.modifiers, "modifier", "m", nil, "modifier spec name[:model[:clip]], repeatable, in chain order")
	cmd.Flags().StringVar(&o.prompt, "prompt", "", "positive prompt to write into the graph")
	cmd.Flags().Int64Var(&o.seed, "seed", -1, "sampler seed (negative keeps the workflow's seed)")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "write the graph here instead of stdout")
	cmd.Flags().BoolVar(&o.inspect, "inspect", false, "print the current chain instead of rebuilding it")
}

func (o *chainOptions) run(out io.Writer, workflow string) error {
	g, err := nodegraph.FromFile(workflow)
	if err != nil {
		return err
	}

	if o.inspect {
		layout, err := chain.Inspect(g)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "base %s\n", layout.Base)
		for i, id := range layout.Modifiers {
			n, _ := g.Node(id)
			fmt.Fprintf(out, "%d. %s %s\n", i+1, id, n.Inputs[nodegraph.InputModifierName].Value())
		}
		return nil
	}

	specs, err := chain.ParseSpecs(o.modifiers)
	if err != nil {
		return err
	}
	if err := chain.NewBuilder(chain.WithLogger(o.root.logger)).Rebuild(g, specs); err != nil {
		return err
	}

	p := nodegraph.Params{Prompt: o.prompt}
	if o.seed >= 0 {
		p.Seed = &o.seed
	}
	if err := nodegraph.Apply(g, p); err != nil {
		return err
	}

	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if o.output == "" {
		_, err = out.Write(data)
		return err
	}
	return os.WriteFile(o.output, data, 0o644)
}

func newCmdChain(root *rootOptions) *cobra.Command {
	o := &chainOptions{root: root}

	cmd := &cobra.Command{
		Use:   "chain <workflow_api.json>",
		Short: "Rebuild the modifier chain of a workflow and print the graph",
		Example: `  rendergraph chain workflows/sd35_api.json -m film_grain:0.6 -m watercolor:1:0.8
  rendergraph chain workflows/sd35_api.json --inspect`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.OutOrStdout(), args[0])
		},
	}
	o.addFlags(cmd)
	return cmd
}
