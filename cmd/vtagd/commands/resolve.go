package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vtagger/vtagger/pkg/dimensions"
	"github.com/vtagger/vtagger/pkg/engine"
)

func newResolveCommand() *cobra.Command {
	var (
		resourceID string
		accountID  string
		payer      string
		tags       []string
		dir        string
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve dimensions for a hypothetical resource",
		Long: `Resolve all dimensions for a resource described on the command line.

Useful for checking what virtual tags a resource would receive before
running a sync.`,
		Example: `  # Resolve a resource with two physical tags
  vtagd resolve --id arn:aws:ec2:us-east-1:123:instance/i-1 \
    --tag env=prod --tag team=payments

  # Resolve against a specific dimensions directory
  vtagd resolve --id i-1 --tag env=staging --dimensions ./dims`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if resourceID == "" {
				return fmt.Errorf("--id is required")
			}
			if dir == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				dir = cfg.Dimensions.Dir
			}

			tagMap := make(map[string]string, len(tags))
			for _, pair := range tags {
				key, value, found := strings.Cut(pair, "=")
				if !found || key == "" {
					return fmt.Errorf("invalid --tag %q: expected key=value", pair)
				}
				tagMap[key] = value
			}

			return runResolve(dir, engine.Resource{
				ID:           resourceID,
				AccountID:    accountID,
				PayerAccount: payer,
				Tags:         tagMap,
			})
		},
	}

	cmd.Flags().StringVar(&resourceID, "id", "", "resource identifier")
	cmd.Flags().StringVar(&accountID, "account-id", "", "owning account ID")
	cmd.Flags().StringVar(&payer, "payer", "", "payer account ID")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "physical tag as key=value (repeatable)")
	cmd.Flags().StringVar(&dir, "dimensions", "", "dimensions directory (default from config)")

	return cmd
}

func runResolve(dir string, res engine.Resource) error {
	loader, err := dimensions.NewLoader(dir)
	if err != nil {
		return err
	}
	dims, err := loader.LoadAll()
	if err != nil {
		return err
	}
	compiled, err := engine.NewCompiler().CompileAll(dims)
	if err != nil {
		return err
	}

	mapping, err := engine.NewResolver(compiled).Resolve(res)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(mapping)
	}

	fmt.Printf("Resource %s (matched: %v)\n", mapping.ResourceID, mapping.Matched)
	for _, dim := range compiled {
		fmt.Printf("  %s = %q (%s)\n", dim.Name, mapping.Values[dim.Name], mapping.Provenance[dim.Name])
	}
	return nil
}
