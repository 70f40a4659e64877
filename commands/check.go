package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lebenslotse/lifeplan/workflow"
)

func newCheckCommand() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate workflow templates and run their regression cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(root)
		},
	}
	cmd.Flags().StringVar(&root, "workflows-root", "workflows", "Directory holding <event>/v<N>/compiled.json")
	return cmd
}

// runCheck validates every compiled template, then executes every tc_*.yaml
// regression case against the real engine. Any issue fails the command.
func runCheck(root string) error {
	failed := false

	issues := workflow.ValidateAll(root)
	for _, issue := range issues {
		failed = true
		fmt.Fprintf(os.Stderr, "INVALID  %s: %s\n", issue.File, issue.Message)
	}

	compiled, err := workflow.FindCompiled(root)
	if err != nil {
		return err
	}
	fmt.Printf("Validated %d templates, %d invalid\n", len(compiled), len(issues))

	cases, err := workflow.FindCases(root)
	if err != nil {
		return err
	}

	passed := 0
	for _, c := range cases {
		failures := workflow.RunCase(c)
		if len(failures) == 0 {
			passed++
			fmt.Printf("PASS  %s\n", c.ID())
			continue
		}
		failed = true
		fmt.Fprintf(os.Stderr, "FAIL  %s\n", c.ID())
		for _, failure := range failures {
			fmt.Fprintf(os.Stderr, "      %s\n", failure)
		}
	}
	fmt.Printf("Regression cases: %d passed, %d failed\n", passed, len(cases)-passed)

	if failed {
		return fmt.Errorf("workflow check failed")
	}
	return nil
}
