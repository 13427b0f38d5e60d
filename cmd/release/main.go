// Command release generates the build artefacts the gateway consumes:
// version strings, the version descriptor and the precache manifest.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/briangreenhill/bukudoa/internal/release"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := newRootCmd(logger).Execute(); err != nil {
		logger.Fatal().Err(err).Msg("release")
	}
}

func newRootCmd(log zerolog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "release",
		Short:         "Build-time helpers for the offline cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newVersionCmd(),
		newBumpCmd(),
		newCacheVersionCmd(),
		newDescriptorCmd(log),
		newManifestCmd(log),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	var pkgVersion string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print a timestamped build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), release.GenerateVersion(pkgVersion, time.Now()))
			return err
		},
	}
	cmd.Flags().StringVar(&pkgVersion, "package-version", "", "package version (default 1.0.0)")
	return cmd
}

func newBumpCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "bump <version>",
		Short: "Increment a major.minor.patch version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			next, err := release.Bump(args[0], kind)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), next)
			return err
		},
	}
	cmd.Flags().StringVar(&kind, "kind", release.BumpPatch, "major, minor or patch")
	return cmd
}

func newCacheVersionCmd() *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "cache-version <version>",
		Short: "Print the cache generation token for a deploy version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), release.CacheVersionFor(namespace, args[0]))
			return err
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "buku-doa-", "partition name prefix")
	return cmd
}

func newDescriptorCmd(log zerolog.Logger) *cobra.Command {
	var version, env, out string
	cmd := &cobra.Command{
		Use:   "descriptor",
		Short: "Write the version.json descriptor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if version == "" {
				version = release.GenerateVersion("", time.Now())
			}
			d := release.NewDescriptor(version, time.Now())
			d.Environment = env

			if out == "" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(d)
			}
			if err := release.WriteDescriptor(out, d); err != nil {
				return err
			}
			log.Info().Str("version", d.Version).Str("path", out).Msg("descriptor written")
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "version to publish (default: generated)")
	cmd.Flags().StringVar(&env, "env", "production", "deployment environment")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func newManifestCmd(log zerolog.Logger) *cobra.Command {
	var out string
	var exts, ignores []string
	cmd := &cobra.Command{
		Use:   "manifest <dist>",
		Short: "Build the precache manifest for a dist directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := release.BuildManifest(args[0], exts, ignores)
			if err != nil {
				return err
			}

			if out == "" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if err := release.WriteManifest(out, entries); err != nil {
				return err
			}
			log.Info().Int("entries", len(entries)).Str("path", out).Msg("manifest written")
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringSliceVar(&exts, "ext", release.DefaultExtensions, "asset extensions to include")
	cmd.Flags().StringSliceVar(&ignores, "ignore", release.DefaultIgnores, "glob patterns to skip")
	return cmd
}
