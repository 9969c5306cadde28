// Command opaudit ships the audit log migrations and validates operation
// catalogs.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	audit "github.com/kafeiih/go-opaudit"
	"github.com/kafeiih/go-opaudit/pgxaudit"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		slog.Error("failed executing command", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	v := viper.New()
	var logger *slog.Logger

	root := &cobra.Command{
		Use:           "opaudit",
		Short:         "operation audit log tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(v, cmd); err != nil {
				return err
			}
			var err error
			logger, err = newLogger(cmd.ErrOrStderr(), v.GetString("log-level"), v.GetString("log-format"))
			return err
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringP("config", "c", "", "alternative path to config file")
	root.PersistentFlags().String("log-level", "info", "the log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "the log format (text or json)")

	root.AddCommand(newMigrationsCmd(v, &logger), newCatalogCmd(&logger))
	return root
}

func initConfig(v *viper.Viper, cmd *cobra.Command) error {
	v.SetEnvPrefix("OPAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config file path set explicitly, but unreadable: %w", err)
		}
	}
	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("unparsable log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}

func newMigrationsCmd(v *viper.Viper, logger **slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrations",
		Short: "copy the audit log SQL migrations into a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outDir := v.GetString("out")
			written, err := pgxaudit.CopyMigrations(outDir, v.GetBool("overwrite"))
			if err != nil {
				return fmt.Errorf("copying migrations: %w", err)
			}
			for _, path := range written {
				(*logger).Debug("wrote migration", "path", path)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "copied %d migration files to %s\n", len(written), outDir)
			return nil
		},
	}
	cmd.Flags().String("out", "./migrations", "destination directory for migration files")
	cmd.Flags().Bool("overwrite", false, "replace migration files that already exist")
	return cmd
}

func newCatalogCmd(logger **slog.Logger) *cobra.Command {
	catalog := &cobra.Command{
		Use:   "catalog",
		Short: "work with operation catalogs",
	}

	catalog.AddCommand(&cobra.Command{
		Use:   "check FILE",
		Short: "validate an operation catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening catalog: %w", err)
			}
			defer f.Close()

			reg, err := audit.LoadCatalog(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			types := reg.Types()
			(*logger).Debug("catalog loaded", "file", args[0], "operations", len(types))
			for _, t := range types {
				d, _ := reg.Lookup(t)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", d.Type, d.OperationType, d.ObjectType)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d operations ok\n", args[0], len(types))
			return nil
		},
	})
	return catalog
}
