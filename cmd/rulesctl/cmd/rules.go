package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/liamcoop/fraudrules/rules"
)

func (a *app) listCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List rules",
		Example: `  rulesctl list
  rulesctl list --status active -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter rules.Status
			if status != "" {
				parsed, err := rules.ParseStatus(status)
				if err != nil {
					return err
				}
				filter = parsed
			}
			return a.withRepo(cmd, func(ctx context.Context, repo *rules.Repository) error {
				all, err := repo.List(ctx)
				if err != nil {
					return err
				}
				out := make([]*rules.Rule, 0, len(all))
				for _, r := range all {
					if filter == "" || r.Status == filter {
						out = append(out, r)
					}
				}
				if a.output == outputTable {
					return a.renderRules(cmd.OutOrStdout(), out...)
				}
				return a.render(cmd.OutOrStdout(), out, nil)
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only show rules in this status")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id|ruleId>",
		Short: "Show a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(cmd, func(ctx context.Context, repo *rules.Repository) error {
				rule, err := repo.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return a.renderRules(cmd.OutOrStdout(), rule)
			})
		},
	}
}

// ruleFlags are the scalar fields create and update accept on the command line
type ruleFlags struct {
	file        string
	ruleID      string
	name        string
	description string
	category    string
	severity    string
	status      string
	owner       string
	summary     string
	tags        []string
}

func (f *ruleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Read the rule from a YAML or JSON file")
	cmd.Flags().StringVar(&f.ruleID, "rule-id", "", "Human-facing rule code (e.g. RL-200)")
	cmd.Flags().StringVar(&f.name, "name", "", "Rule name")
	cmd.Flags().StringVar(&f.description, "description", "", "Rule description")
	cmd.Flags().StringVar(&f.category, "category", "", "Rule category")
	cmd.Flags().StringVar(&f.severity, "severity", "", "Severity: low, medium, high, critical")
	cmd.Flags().StringVar(&f.status, "status", "", "Status: draft, active, inactive, testing")
	cmd.Flags().StringVar(&f.owner, "owner", "", "Owner name")
	cmd.Flags().StringVar(&f.summary, "summary", "", "Condition summary")
	cmd.Flags().StringSliceVar(&f.tags, "tags", nil, "Comma-separated tags")
}

// input builds a RuleInput from the file (if any) overlaid with every flag
// the user actually set
func (f *ruleFlags) input(cmd *cobra.Command) (rules.RuleInput, error) {
	var in rules.RuleInput
	if f.file != "" {
		fromFile, err := readRuleFile(f.file)
		if err != nil {
			return rules.RuleInput{}, err
		}
		in = fromFile
	}

	set := func(name string, dst **string, value string) {
		if cmd.Flags().Changed(name) {
			v := value
			*dst = &v
		}
	}
	set("rule-id", &in.RuleID, f.ruleID)
	set("name", &in.Name, f.name)
	set("description", &in.Description, f.description)
	set("category", &in.Category, f.category)
	set("severity", &in.Severity, f.severity)
	set("owner", &in.OwnerName, f.owner)
	set("summary", &in.ConditionSummary, f.summary)

	if cmd.Flags().Changed("status") {
		status, err := rules.ParseStatus(f.status)
		if err != nil {
			return rules.RuleInput{}, err
		}
		in.Status = &status
	}
	if cmd.Flags().Changed("tags") {
		in.Tags = append([]string{}, f.tags...)
	}

	if err := rules.ValidateInput(in); err != nil {
		return rules.RuleInput{}, err
	}
	return in, nil
}

// readRuleFile decodes one rule from YAML or JSON. Documents go through JSON
// so the tolerant field decoders apply.
func readRuleFile(path string) (rules.RuleInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rules.RuleInput{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return rules.RuleInput{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return rules.RuleInput{}, fmt.Errorf("failed to re-encode %s: %w", path, err)
	}

	var in rules.RuleInput
	if err := json.Unmarshal(encoded, &in); err != nil {
		return rules.RuleInput{}, fmt.Errorf("failed to map %s: %w", path, err)
	}
	return in, nil
}

func (a *app) createCmd() *cobra.Command {
	var flags ruleFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a rule with a genesis version",
		Example: `  rulesctl create --name "Velocity Check" --severity high --tags velocity,card
  rulesctl create -f rule.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := flags.input(cmd)
			if err != nil {
				return err
			}
			return a.withRepo(cmd, func(ctx context.Context, repo *rules.Repository) error {
				rule, err := repo.Create(ctx, in)
				if err != nil {
					return err
				}
				return a.renderRules(cmd.OutOrStdout(), rule)
			})
		},
	}

	flags.register(cmd)
	return cmd
}

func (a *app) updateCmd() *cobra.Command {
	var flags ruleFlags

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Patch a rule's fields",
		Long:  "Only the flags given (or fields present in --file) are changed. Versions are never touched.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := flags.input(cmd)
			if err != nil {
				return err
			}
			return a.withRepo(cmd, func(ctx context.Context, repo *rules.Repository) error {
				rule, err := repo.Update(ctx, args[0], patch)
				if err != nil {
					return err
				}
				return a.renderRules(cmd.OutOrStdout(), rule)
			})
		},
	}

	flags.register(cmd)
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a rule",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(cmd, func(ctx context.Context, repo *rules.Repository) error {
				if err := repo.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted rule %s\n", args[0])
				return nil
			})
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <draft|active|inactive|testing>",
		Short: "Set a rule's lifecycle status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := rules.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return a.withRepo(cmd, func(ctx context.Context, repo *rules.Repository) error {
				rule, err := repo.SetStatus(ctx, args[0], status)
				if err != nil {
					return err
				}
				return a.renderRules(cmd.OutOrStdout(), rule)
			})
		},
	}
}

func (a *app) versionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions <id|ruleId>",
		Short: "List a rule's versions, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(cmd, func(ctx context.Context, repo *rules.Repository) error {
				versions, err := repo.ListVersions(ctx, args[0])
				if err != nil {
					return err
				}
				if a.output == outputTable {
					return a.renderVersions(cmd.OutOrStdout(), versions...)
				}
				return a.render(cmd.OutOrStdout(), versions, nil)
			})
		},
	}
}

func (a *app) notesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notes <versionId> <notes>",
		Short: "Replace the notes on a version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(cmd, func(ctx context.Context, repo *rules.Repository) error {
				version, err := repo.UpdateVersionNotes(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return a.renderVersions(cmd.OutOrStdout(), *version)
			})
		},
	}
}

func (a *app) cloneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clone <id|ruleId>",
		Short: "Copy a rule as a new draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(cmd, func(ctx context.Context, repo *rules.Repository) error {
				rule, err := repo.Clone(ctx, args[0])
				if err != nil {
					return err
				}
				return a.renderRules(cmd.OutOrStdout(), rule)
			})
		},
	}
}

func (a *app) publishCmd() *cobra.Command {
	var (
		version   string
		notes     string
		severity  string
		logicFile string
	)

	cmd := &cobra.Command{
		Use:   "publish <id|ruleId>",
		Short: "Publish a new active version of a rule",
		Example: `  rulesctl publish RL-100 --notes "raise threshold"
  rulesctl publish RL-100 --version v3.0 --logic logic.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload rules.PublishPayload
			if cmd.Flags().Changed("version") {
				if err := rules.ValidateVersionLabel(version); err != nil {
					return err
				}
				payload.Version = &version
			}
			if cmd.Flags().Changed("notes") {
				payload.Notes = &notes
			}
			if cmd.Flags().Changed("severity") {
				if !rules.IsValidSeverity(severity) {
					return fmt.Errorf("invalid severity %q (must be one of: low, medium, high, critical)", severity)
				}
				payload.Severity = &severity
			}
			if logicFile != "" {
				logic, err := readLogicFile(logicFile)
				if err != nil {
					return err
				}
				payload.Logic = logic
			}

			return a.withRepo(cmd, func(ctx context.Context, repo *rules.Repository) error {
				rule, err := repo.Publish(ctx, args[0], payload)
				if err != nil {
					return err
				}
				return a.renderRules(cmd.OutOrStdout(), rule)
			})
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Version label (default: next v<n>.0)")
	cmd.Flags().StringVar(&notes, "notes", "", "Release notes for the new version")
	cmd.Flags().StringVar(&severity, "severity", "", "New severity")
	cmd.Flags().StringVar(&logicFile, "logic", "", "YAML or JSON file holding the new logic tree")
	return cmd
}

func readLogicFile(path string) (*rules.Logic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode %s: %w", path, err)
	}
	var logic rules.Logic
	if err := json.Unmarshal(encoded, &logic); err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", path, err)
	}
	return &logic, nil
}

func (a *app) testCmd() *cobra.Command {
	var (
		amount  float64
		payload string
	)

	cmd := &cobra.Command{
		Use:   "test <id|ruleId>",
		Short: "Evaluate a rule against a sample transaction",
		Example: `  rulesctl test RL-100 --amount 1500
  rulesctl test RL-100 --payload '{"amount": 20, "country": "NG"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tx := map[string]any{}
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &tx); err != nil {
					return fmt.Errorf("invalid --payload: %w", err)
				}
			}
			if cmd.Flags().Changed("amount") {
				tx["amount"] = amount
			}

			evaluator, err := rules.NewEvaluator()
			if err != nil {
				return err
			}

			return a.withRepo(cmd, func(ctx context.Context, repo *rules.Repository) error {
				rule, err := repo.Get(ctx, args[0])
				if err != nil {
					return err
				}
				result, err := evaluator.Evaluate(rule, tx)
				if err != nil {
					return err
				}

				return a.render(cmd.OutOrStdout(), result, func(w io.Writer) error {
					verdict := "not triggered"
					if result.Triggered {
						verdict = "TRIGGERED"
					}
					label := "no active version"
					if active, ok := rule.ActiveVersion(); ok {
						label = active.Version
					}
					fmt.Fprintf(w, "%s (%s) @ %s: %s, severity %s\n", rule.RuleID, rule.Name, label, verdict, result.Severity)
					for _, reason := range result.Reasons {
						fmt.Fprintf(w, "  - %s\n", reason)
					}
					return nil
				})
			})
		},
	}

	cmd.Flags().Float64Var(&amount, "amount", 0, "Transaction amount")
	cmd.Flags().StringVar(&payload, "payload", "", "Transaction as a JSON object")
	return cmd
}
