package main

import (
	"encoding/json"
	"fmt"

	"github.com/okian/glucoscore/internal/adapters/repository"
	"github.com/okian/glucoscore/internal/domain/model"
	"github.com/okian/glucoscore/pkg/logger"
	"github.com/spf13/cobra"
)

// fieldFlags maps CLI flag names to wire field names.
var fieldFlags = []struct {
	flag  string
	field string
	usage string
}{
	{"avg-glucose", model.FieldAvgGlucose, "average glucose (mg/dL), > 0"},
	{"glucose-sd", model.FieldGlucoseSD, "glucose standard deviation, >= 0"},
	{"difficulty", model.FieldDifficulty, "exam difficulty, 1-10"},
	{"score", model.FieldScore, "exam score, 0-100"},
}

// addFieldFlags registers string flags for the first n fields so the
// validator sees exactly what the user typed.
func addFieldFlags(cmd *cobra.Command, n int) {
	for _, f := range fieldFlags[:n] {
		cmd.Flags().String(f.flag, "", f.usage)
	}
}

// rawFields collects the flags the user set. Unset flags stay absent.
func rawFields(cmd *cobra.Command, n int) map[string]any {
	raw := make(map[string]any, n)
	for _, f := range fieldFlags[:n] {
		if cmd.Flags().Changed(f.flag) {
			v, _ := cmd.Flags().GetString(f.flag)
			raw[f.field] = v
		}
	}
	return raw
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Store one observation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			svc, cleanup, err := openService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			key, _ := cmd.Flags().GetString("key")
			o, _, err := svc.Record(cmd.Context(), rawFields(cmd, len(fieldFlags)), key)
			if err != nil {
				return err
			}
			return printJSON(cmd, o)
		},
	}
	addFieldFlags(cmd, len(fieldFlags))
	cmd.Flags().String("key", "", "idempotency key")
	return cmd
}

func newPredictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict a score from the stored observations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			svc, cleanup, err := openService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := svc.Predict(cmd.Context(), rawFields(cmd, len(fieldFlags)-1))
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	addFieldFlags(cmd, len(fieldFlags)-1)
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending sqlite schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.StoreDriver != repository.DriverSQLite {
				return fmt.Errorf("migrate needs the %s driver, got %q", repository.DriverSQLite, cfg.StoreDriver)
			}

			// Opening the store applies the embedded migrations.
			store, err := repository.OpenSQLite(cmd.Context(), cfg.StorePath,
				repository.WithLogger(logger.Get().Named("store")),
			)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date at %s (%d observations)\n", cfg.StorePath, n)
			return nil
		},
	}
}
