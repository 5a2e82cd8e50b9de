package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/marmos91/stategc/pkg/config"
)

var schemaFile string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate JSON schema for configuration",
	Long: `Generate a JSON schema for the stategc configuration file.

The schema can be used for IDE autocompletion and for validating
configuration files outside of stategc.

Examples:
  # Print schema to stdout
  stategc config schema

  # Save schema to file
  stategc config schema --file config.schema.json`,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().StringVar(&schemaFile, "file", "", "Output file (default: stdout)")
}

// Schema returns the JSON schema of the configuration file.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "yaml",
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "stategc Configuration"
	schema.Description = "Configuration schema for the stategc garbage collector"
	return schema
}

func runSchema(cmd *cobra.Command, args []string) error {
	schemaJSON, err := json.MarshalIndent(Schema(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	if schemaFile != "" {
		if err := os.WriteFile(schemaFile, schemaJSON, 0644); err != nil {
			return fmt.Errorf("failed to write schema file: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", schemaFile)
		return nil
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(schemaJSON))
	return nil
}
