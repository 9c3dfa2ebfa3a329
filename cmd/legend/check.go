package main

import (
	"fmt"

	"github.com/hanpama/legend/internal/plan"
	"github.com/hanpama/legend/internal/validation"
	"github.com/spf13/cobra"
)

func newCheckCmd(root *rootFlags) *cobra.Command {
	var pf planFlags
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Decode a plan, compile its units and validate parameters without executing it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			p, params, err := pf.load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			sources := p.Sources()
			if err := a.compiler.NewSession().Compile(sources...); err != nil {
				return fmt.Errorf("compile: %w", err)
			}
			if len(params) > 0 {
				if err := checkParams(a, p, params); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "plan ok: %d units\n", len(sources))
			for _, v := range p.Parameters() {
				fmt.Fprintf(out, "  %s\n", v)
			}
			return nil
		},
	}
	pf.register(cmd)
	return cmd
}

func checkParams(a *app, p *plan.SingleExecutionPlan, params map[string]any) error {
	v := validation.New(
		validation.WithStrictDateFormats(a.cfg.Validation.StrictDateFormats...),
		validation.WithDateTimeFormats(a.cfg.Validation.DateTimeFormats...),
	)
	state := a.exec.NewState(nil)
	for name, value := range params {
		state.Bind(name, value)
	}
	var err error
	plan.Walk(p.Root, func(n plan.Node) {
		node, ok := n.(*plan.FunctionParametersValidationNode)
		if !ok || err != nil {
			return
		}
		err = v.Validate(node.Parameters, state, node.Enums)
	})
	return err
}
