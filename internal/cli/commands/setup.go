package commands

import (
	"fmt"

	"github.com/cfnworks/cfnview/internal/cli/config"
	"github.com/cfnworks/cfnview/internal/settings"
	"github.com/spf13/cobra"
)

// NewSetupCommand creates the setup command.
func NewSetupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Synchronize editor settings for CloudFormation templates",
		Long: `Synchronize the global cfnview settings.

Merges the CloudFormation intrinsic function tags (!Ref, !GetAtt, ...) into
the autocomplete tag list, and resolves the overlap between the generic YAML
validator and the linter's schema validation with a one-time prompt.`,
		Args: cobra.NoArgs,
		RunE: runSetup,
	}
	return cmd
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg := config.FromContext(cmd.Context())
	out := cmd.OutOrStdout()

	store, err := settings.DefaultStore()
	if err != nil {
		return fmt.Errorf("locating settings: %w", err)
	}
	st, err := store.Load()
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	if settings.SyncTags(st) {
		if err := store.Save(st); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Fprintf(out, "Custom tag list updated (%d tags).\n", len(st.Autocomplete.CustomTags))
	} else if st.Autocomplete.Enabled {
		fmt.Fprintln(out, "Custom tag list already up to date.")
	} else {
		fmt.Fprintln(out, "Autocomplete is disabled; tag list left untouched.")
	}

	changed, err := settings.Reconcile(store, st, cfg.Validation.Schema)
	if err != nil {
		return err
	}
	switch {
	case changed && st.Validation.Schema != nil && *st.Validation.Schema:
		fmt.Fprintln(out, "Schema validation enabled; generic YAML validation disabled.")
	case changed:
		fmt.Fprintln(out, "Keeping generic YAML validation.")
	default:
		fmt.Fprintln(out, "Validation settings unchanged.")
	}

	fmt.Fprintf(out, "\nSettings file: %s\n", store.Path())
	return nil
}
