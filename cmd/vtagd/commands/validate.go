package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vtagger/vtagger/pkg/dimensions"
	"github.com/vtagger/vtagger/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [dir]",
		Short: "Validate dimension documents",
		Long: `Validate dimension documents against the schema and compile their
rules.

This command checks:
  - Document structure and required fields
  - Rule grammar in match and value expressions
  - Index uniqueness across the set
  - Dimension references and evaluation order`,
		Example: `  # Validate the configured dimensions directory
  vtagd validate

  # Validate a specific directory
  vtagd validate ./dimensions`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) > 0 {
				dir = args[0]
			} else {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				dir = cfg.Dimensions.Dir
			}
			return runValidate(dir)
		},
	}
	return cmd
}

func runValidate(dir string) error {
	loader, err := dimensions.NewLoader(dir)
	if err != nil {
		return err
	}

	dims, err := loader.LoadAll()
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	compiled, err := engine.NewCompiler().CompileAll(dims)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"dimensions":        dims,
			"required_tag_keys": engine.RequiredTagKeys(compiled),
		})
	}

	fmt.Printf("%d dimension(s) valid\n", len(compiled))
	for _, dim := range compiled {
		fmt.Printf("  [%d] %s (%d statements, default %q)\n",
			dim.Index, dim.Name, len(dim.Statements), dim.DefaultValue)
	}
	if keys := engine.RequiredTagKeys(compiled); len(keys) > 0 {
		fmt.Printf("required tag keys: %v\n", keys)
	}
	return nil
}
