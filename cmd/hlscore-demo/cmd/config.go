package cmd

import (
	"fmt"
	"reflect"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/hlscore/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for inspecting hlscore-demo configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

Configuration can be set via:
  - Config file (config.yaml, .hlscore.yaml, /etc/hlscore/config.yaml)
  - Environment variables (HLSCORE_SERVER_PORT, HLSCORE_RETRY_LEVEL_LOADING_MAX_RETRY, etc.)

Environment variables use the HLSCORE_ prefix and underscores for nesting.
Example: retry.level_loading_max_retry -> HLSCORE_RETRY_LEVEL_LOADING_MAX_RETRY`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, rendering Stringer fields (config.Duration,
// config.ByteSize) in their human-readable form instead of raw integers.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		if field.Kind() == reflect.Ptr {
			if field.IsNil() {
				result[key] = nil
				continue
			}
			field = field.Elem()
		}

		if stringer, ok := field.Interface().(fmt.Stringer); ok {
			result[key] = stringer.String()
			continue
		}

		if field.Kind() == reflect.Struct {
			result[key] = toMap(field.Interface())
			continue
		}

		result[key] = field.Interface()
	}
	return result
}

func runConfigDump(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgMap := toMap(cfg)

	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# hlscore-demo configuration")
	fmt.Println("# ===========================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h")
	fmt.Println("# Size format: 5MB, 1GB")
	fmt.Println("#")
	fmt.Print(string(yamlData))

	return nil
}
