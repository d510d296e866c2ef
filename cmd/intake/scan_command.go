package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sydlexius/intake/internal/filesystem"
	"github.com/sydlexius/intake/internal/hint"
	"github.com/sydlexius/intake/internal/scanner"
)

// scanFlags are the scan options shared by the scan and sync commands. Only
// flags the user actually set override the configuration.
type scanFlags struct {
	cmd            *cobra.Command
	hidden         bool
	maxDepth       int
	noImages       bool
	noDocuments    bool
	noSpreadsheets bool
}

func addScanFlags(cmd *cobra.Command) *scanFlags {
	f := &scanFlags{cmd: cmd}
	flags := cmd.Flags()
	flags.BoolVar(&f.hidden, "hidden", false, "Descend into hidden files and directories")
	flags.IntVar(&f.maxDepth, "max-depth", scanner.DefaultMaxDepth, "Maximum directory depth below each root")
	flags.BoolVar(&f.noImages, "no-images", false, "Skip image files")
	flags.BoolVar(&f.noDocuments, "no-documents", false, "Skip document files")
	flags.BoolVar(&f.noSpreadsheets, "no-spreadsheets", false, "Skip spreadsheet files")
	return f
}

func (f *scanFlags) apply(cfg *scanner.Config) {
	flags := f.cmd.Flags()
	if flags.Changed("hidden") {
		cfg.IncludeHidden = f.hidden
	}
	if flags.Changed("max-depth") {
		depth := f.maxDepth
		cfg.MaxDepth = &depth
	}
	if f.noImages {
		cfg.IncludeImages = false
	}
	if f.noDocuments {
		cfg.IncludeDocuments = false
	}
	if f.noSpreadsheets {
		cfg.IncludeSpreadsheets = false
	}
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var format string
	var sortBy string
	var outPath string
	var hintedOnly bool
	var flags *scanFlags

	cmd := &cobra.Command{
		Use:   "scan [path...]",
		Short: "Scan directories for vehicle images, documents and spreadsheets",
		Long: "Walk each directory (or the configured scan.paths) and list admitted files " +
			"together with any vehicle year, make, model or VIN found in their paths.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sortBy != scanner.OrderPath && sortBy != scanner.OrderModified {
				return fmt.Errorf("unknown sort order %q (want path or modified)", sortBy)
			}
			asJSON, err := wantJSON(cmd, format)
			if err != nil {
				return err
			}
			cfg, err := ctx.scanConfig(flags, args)
			if err != nil {
				return err
			}

			results, err := ctx.scannerService(nil).Scan(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if hintedOnly {
				results = onlyHinted(results)
			}
			scanner.SortResults(results, sortBy)

			if outPath != "" {
				if err := filesystem.WriteJSON(outPath, results); err != nil {
					return fmt.Errorf("writing results: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d results to %s\n", len(results), outPath)
				return nil
			}
			if asJSON {
				return writeJSON(cmd, results)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderResults(results, time.Now()))
			return nil
		},
	}

	flags = addScanFlags(cmd)
	cmd.Flags().StringVar(&sortBy, "sort", scanner.OrderPath, "Result order: path or modified (newest first)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write results as JSON to this file instead of stdout")
	cmd.Flags().BoolVar(&hintedOnly, "hinted-only", false, "Only list files with a vehicle hint")
	addFormatFlag(cmd, &format)
	return cmd
}

func onlyHinted(results []scanner.Result) []scanner.Result {
	out := make([]scanner.Result, 0, len(results))
	for _, r := range results {
		if r.Hint != nil {
			out = append(out, r)
		}
	}
	return out
}

func renderResults(results []scanner.Result, now time.Time) string {
	if len(results) == 0 {
		return "No matching files found\n"
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.Path,
			string(r.Category),
			humanize.IBytes(uint64(max(r.Size, 0))),
			modifiedAgo(r.Modified, now),
			describeHint(r.Hint),
		})
	}
	var b strings.Builder
	b.WriteString(renderTable(
		[]string{"Path", "Category", "Size", "Modified", "Vehicle"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
	fmt.Fprintf(&b, "\n%d files, %d with vehicle hints\n", len(results), scanner.CountHinted(results))
	return b.String()
}

func modifiedAgo(unix string, now time.Time) string {
	sec, err := strconv.ParseInt(unix, 10, 64)
	if err != nil {
		return "-"
	}
	return humanize.RelTime(time.Unix(sec, 0), now, "ago", "from now")
}

func describeHint(h *hint.VehicleHint) string {
	if h == nil {
		return ""
	}
	parts := make([]string, 0, 4)
	for _, p := range []string{h.Year, h.Make, h.Model} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if h.VIN != "" {
		parts = append(parts, "VIN "+h.VIN)
	}
	return fmt.Sprintf("%s (%.0f%%)", strings.Join(parts, " "), h.Confidence*100)
}
