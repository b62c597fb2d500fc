package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/agent"
	"github.com/jbweber/virtmirror/internal/store"
)

var actionCmd = &cobra.Command{
	Use:   "action <kind> <name> <action>",
	Short: "Run an action on a domain, network or storage pool",
	Long: `Run a lifecycle action and print the object afterwards.

Domain actions:       start, shutdown, forceoff, reboot, reset, pause,
                      resume, nmi, undefine
Network actions:      activate, deactivate
Storage pool actions: activate, deactivate, refresh

Actions the object's current state does not allow are refused.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := v1alpha1.ParseKind(args[0])
		if err != nil {
			return err
		}
		return withRecord(cmd, kind, args[1], func(ctx context.Context, a *agent.Agent, key v1alpha1.Key) error {
			actions := a.Operations().Actions(kind)
			if len(actions) == 0 {
				return fmt.Errorf("%s objects have no actions", kind.RecordKind())
			}
			op, ok := actions[args[2]]
			if !ok {
				return fmt.Errorf("unknown %s action %q (supported: %s)", kind.RecordKind(), args[2], actionNames(actions))
			}
			return op(ctx, key)
		})
	},
}

var autostartCmd = &cobra.Command{
	Use:   "autostart <domain> <on|off>",
	Short: "Enable or disable autostart of a persistent domain",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		enable, err := parseSwitch(args[1])
		if err != nil {
			return err
		}
		return withRecord(cmd, v1alpha1.KindDomain, args[0], func(ctx context.Context, a *agent.Agent, key v1alpha1.Key) error {
			return a.Operations().SetAutostart(ctx, key, enable)
		})
	},
}

var attachCmd = &cobra.Command{
	Use:   "attach <domain> <device.xml>",
	Short: "Attach a device to a domain",
	Long: `Attach the device described by an XML file to a domain. Running
domains get the device live and in their persistent configuration.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		xml, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read device XML: %w", err)
		}
		return withRecord(cmd, v1alpha1.KindDomain, args[0], func(ctx context.Context, a *agent.Agent, key v1alpha1.Key) error {
			return a.Operations().AttachDevice(ctx, key, string(xml))
		})
	},
}

var detachCmd = &cobra.Command{
	Use:   "detach <domain> <device.xml>",
	Short: "Detach a device from a domain",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		xml, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read device XML: %w", err)
		}
		return withRecord(cmd, v1alpha1.KindDomain, args[0], func(ctx context.Context, a *agent.Agent, key v1alpha1.Key) error {
			return a.Operations().DetachDevice(ctx, key, string(xml))
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <domain>",
	Short: "Delete a domain",
	Long: `Delete a persistent domain:
- Stop it if running, gracefully first
- Undefine it, including managed save images and snapshot metadata`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := openAgent(ctx)
		defer closeAgent(ctx, a)
		refresh(ctx, a, v1alpha1.KindDomain)

		record, err := find(a, v1alpha1.KindDomain, args[0])
		if err != nil {
			return err
		}
		if err := a.Operations().Delete(ctx, store.KeyOf(record)); err != nil {
			return fmt.Errorf("failed to delete %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Domain %s deleted\n", args[0])
		return nil
	},
}

// withRecord looks up the object of kind named name, runs op on it and
// prints the refreshed record.
func withRecord(cmd *cobra.Command, kind v1alpha1.Kind, name string, op func(context.Context, *agent.Agent, v1alpha1.Key) error) error {
	formatter, err := newFormatter()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a := openAgent(ctx)
	defer closeAgent(ctx, a)
	refresh(ctx, a, kind)

	record, err := find(a, kind, name)
	if err != nil {
		return err
	}
	key := store.KeyOf(record)
	if err := op(ctx, a, key); err != nil {
		return err
	}

	record, ok := a.Store().Get(kind, key)
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s is gone\n", kind.RecordKind(), name)
		return nil
	}
	result, err := formatter.FormatRecord(record)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), result)
	return nil
}

func actionNames[V any](m map[string]V) string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return strings.Join(names, ", ")
}

// parseSwitch accepts on/off in addition to strconv booleans.
func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
	return b, nil
}
