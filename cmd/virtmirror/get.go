package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/agent"
)

const kindsHelp = `Kinds:
  domains (vm), networks (net), storagepools (pool),
  nodedevices (nodedev), interfaces (iface)`

var listCmd = &cobra.Command{
	Use:   "list <kind>",
	Short: "List objects of a kind",
	Long: `List every object of a kind in the configured scopes.

` + kindsHelp + `

Output formats:
  -o table  Human-readable table (default)
  -o yaml   One YAML document per record
  -o json   JSON array of records`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := v1alpha1.ParseKind(args[0])
		if err != nil {
			return err
		}
		formatter, err := newFormatter()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a := openAgent(ctx)
		defer closeAgent(ctx, a)
		refresh(ctx, a, kind)

		result, err := formatter.FormatList(a.Store().List(kind, a.Scopes()))
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), result)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <kind> <name>",
	Short: "Get one object",
	Long: `Get a single object by name. With more than one scope configured the
first scope holding the name wins; use --scope to pick one.

` + kindsHelp,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := v1alpha1.ParseKind(args[0])
		if err != nil {
			return err
		}
		formatter, err := newFormatter()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a := openAgent(ctx)
		defer closeAgent(ctx, a)
		refresh(ctx, a, kind)

		record, err := find(a, kind, args[1])
		if err != nil {
			return err
		}
		result, err := formatter.FormatRecord(record)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), result)
		return nil
	},
}

// refresh loads kind into the agent's store. A scope that cannot be
// listed is reported and skipped.
func refresh(ctx context.Context, a *agent.Agent, kind v1alpha1.Kind) {
	if err := a.Refresh(ctx, kind); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("refresh incomplete")
	}
}

// find returns the record of kind named name in the first scope holding it.
func find(a *agent.Agent, kind v1alpha1.Kind, name string) (any, error) {
	for _, scope := range a.Scopes() {
		if record, ok := a.Store().ByName(kind, scope, name); ok {
			return record, nil
		}
	}
	return nil, fmt.Errorf("%s %q not found", kind.RecordKind(), name)
}
