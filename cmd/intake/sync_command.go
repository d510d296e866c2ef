package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sydlexius/intake/internal/batchsync"
	"github.com/sydlexius/intake/internal/scanner"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var format string
	var inputPath string
	var apiKey string
	var batchSize int
	var flags *scanFlags

	cmd := &cobra.Command{
		Use:   "sync [path...]",
		Short: "Push vehicle-hinted files to the ingestion service",
		Long: "Scan the given directories (or read results written by `intake scan --out`) " +
			"and send every file with a vehicle hint to the ingestion service in batches. " +
			"Failed batches are reported and do not stop the run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, err := wantJSON(cmd, format)
			if err != nil {
				return err
			}

			key, err := resolveAPIKey(cmd, apiKey, ctx.config.Sync.APIKey)
			if err != nil {
				return err
			}
			size := ctx.config.Sync.BatchSize
			if cmd.Flags().Changed("batch-size") {
				size = batchSize
			}
			if err := batchsync.CheckArgs(key, size); err != nil {
				return err
			}

			var results []scanner.Result
			if inputPath != "" {
				if len(args) > 0 {
					return fmt.Errorf("--input cannot be combined with scan paths")
				}
				results, err = readResults(inputPath)
				if err != nil {
					return err
				}
			} else {
				cfg, err := ctx.scanConfig(flags, args)
				if err != nil {
					return err
				}
				results, err = ctx.scannerService(nil).Scan(cmd.Context(), cfg)
				if err != nil {
					return err
				}
			}

			report, syncErr := ctx.syncProcessor(nil).Sync(cmd.Context(), results, key, size)
			if report == nil {
				return syncErr
			}
			if asJSON {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				fmt.Fprint(cmd.OutOrStdout(), renderReport(report))
			}
			if syncErr != nil {
				return syncErr
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d of %d items failed to sync", report.Failed, report.Failed+report.Synced)
			}
			return nil
		},
	}

	flags = addScanFlags(cmd)
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Read scan results from a JSON file instead of scanning")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Ingestion API key (default sync.api_key / INTAKE_API_KEY; prompted on a terminal)")
	cmd.Flags().IntVar(&batchSize, "batch-size", batchsync.DefaultBatchSize, "Items per request")
	addFormatFlag(cmd, &format)
	return cmd
}

func readResults(path string) ([]scanner.Result, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path chosen by the local user
	if err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}
	var results []scanner.Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decoding results %s: %w", path, err)
	}
	return results, nil
}

// resolveAPIKey prefers the flag, then configuration, then an interactive
// prompt when stdin is a terminal. An empty result is left for the sync
// processor to reject.
func resolveAPIKey(cmd *cobra.Command, flagValue, configured string) (string, error) {
	if k := strings.TrimSpace(flagValue); k != "" {
		return k, nil
	}
	if k := strings.TrimSpace(configured); k != "" {
		return k, nil
	}
	return promptSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "API key: ")
}

func promptSecret(in io.Reader, prompt io.Writer, label string) (string, error) {
	f, ok := in.(*os.File)
	if !ok || !isTerminal(f) {
		return "", nil
	}
	fmt.Fprint(prompt, label)
	secret, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("reading API key: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}

func renderReport(r *batchsync.Report) string {
	var b strings.Builder
	b.WriteString(renderTable(
		[]string{"Synced", "Failed", "Skipped"},
		[][]string{{strconv.Itoa(r.Synced), strconv.Itoa(r.Failed), strconv.Itoa(r.Skipped)}},
		[]columnAlignment{alignRight, alignRight, alignRight},
	))
	b.WriteString("\n")
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "  %s\n", e)
	}
	return b.String()
}
