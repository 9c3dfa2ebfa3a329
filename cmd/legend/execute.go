package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/hanpama/legend/internal/plan"
	"github.com/hanpama/legend/internal/result"
	"github.com/hanpama/legend/internal/validation"
	"github.com/spf13/cobra"
)

type planFlags struct {
	plan   string
	params []string
}

func (f *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.plan, "plan", "", "Path to the execution plan JSON (required)")
	cmd.Flags().StringArrayVar(&f.params, "param", nil, "Parameter as name=value; value is JSON or a plain string, always a string for String parameters. Repeatable")
	_ = cmd.MarkFlagRequired("plan")
}

func (f *planFlags) load() (*plan.SingleExecutionPlan, map[string]any, error) {
	file, err := os.Open(f.plan)
	if err != nil {
		return nil, nil, fmt.Errorf("open plan: %w", err)
	}
	defer file.Close()
	p, err := plan.NewDecoder().Plan(file)
	if err != nil {
		return nil, nil, err
	}
	params, err := parseParams(f.params, p.Parameters())
	if err != nil {
		return nil, nil, err
	}
	return p, params, nil
}

// parseParams decodes name=value pairs. Values that are not valid JSON are
// taken as strings, as are JSON numbers and booleans given for parameters
// declared String. Repeating a name collects its values into a list.
func parseParams(pairs []string, declared []plan.Variable) (map[string]any, error) {
	text := map[string]bool{}
	for _, v := range declared {
		if v.Class == validation.TypeString {
			text[v.Name] = true
		}
	}
	out := make(map[string]any, len(pairs))
	repeated := map[string]bool{}
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q, want name=value", pair)
		}
		var v any = raw
		if decoded, err := plan.DecodeJSON([]byte(raw)); raw != "" && err == nil {
			switch decoded.(type) {
			case string, []any, nil:
				v = decoded
			default:
				if !text[name] {
					v = decoded
				}
			}
		}
		prev, seen := out[name]
		switch {
		case !seen:
			out[name] = v
		case repeated[name]:
			out[name] = append(prev.([]any), v)
		default:
			out[name] = []any{prev, v}
			repeated[name] = true
		}
	}
	return out, nil
}

func newExecuteCmd(root *rootFlags) *cobra.Command {
	var pf planFlags
	var user string
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute a plan and write its result as JSON",
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

			var identity any
			if user != "" {
				identity = user
			}
			r, err := a.exec.ExecutePlan(cmd.Context(), p, params, identity)
			if err != nil {
				return err
			}
			return result.Serialize(cmd.OutOrStdout(), r)
		},
	}
	pf.register(cmd)
	cmd.Flags().StringVar(&user, "user", "", "Identity the plan executes for")
	return cmd
}
