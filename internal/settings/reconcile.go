package settings

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
)

// The generic YAML validator and the linter's schema validation overlap: with
// both active every finding is reported twice. Reconciliation runs once, when
// the schema toggle is unset at every configuration scope, and persists the
// user's choice globally.

// NeedsReconcile reports whether the validator prompt should be shown:
// the generic validator is active and the schema toggle is unset at every
// scope (global settings, project config, flags).
func NeedsReconcile(st *Settings, projectSchema *bool) bool {
	generic := st.Validation.GenericYAML == nil || *st.Validation.GenericYAML
	if !generic {
		return false
	}
	return st.Validation.Schema == nil && projectSchema == nil
}

// ApplyChoice records the user's validation choice at global scope. Choosing
// schema validation disables the generic validator so diagnostics are not
// duplicated.
func ApplyChoice(st *Settings, useSchema bool) {
	st.Validation.Schema = &useSchema
	if useSchema {
		off := false
		st.Validation.GenericYAML = &off
	}
}

// PromptChoice asks the user which validator to use. answered is false when
// the prompt was dismissed, in which case nothing should change.
func PromptChoice() (useSchema, answered bool, err error) {
	confirm := huh.NewConfirm().
		Title("Use cfn-lint schema validation for CloudFormation templates?").
		Description("The generic YAML validator overlaps with cfn-lint's schema validation\nand would report every finding twice.").
		Affirmative("Use schema validation").
		Negative("Keep generic validation").
		Value(&useSchema)

	if err := huh.NewForm(huh.NewGroup(confirm)).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("validation prompt: %w", err)
	}
	return useSchema, true, nil
}

// Reconcile runs the one-time validator reconciliation when needed: prompt,
// persist the choice globally, and report what happened. Dismissing the
// prompt changes nothing.
func Reconcile(store *Store, st *Settings, projectSchema *bool) (changed bool, err error) {
	if !NeedsReconcile(st, projectSchema) {
		return false, nil
	}
	useSchema, answered, err := PromptChoice()
	if err != nil {
		return false, err
	}
	if !answered {
		return false, nil
	}
	ApplyChoice(st, useSchema)
	if err := store.Save(st); err != nil {
		return false, fmt.Errorf("persisting validation choice: %w", err)
	}
	return true, nil
}
