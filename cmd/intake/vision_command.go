package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sydlexius/intake/internal/provider/ollama"
)

var errVisionUnavailable = errors.New("vision service is not reachable")

func newVisionCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vision",
		Short: "Talk to the local vision model (Ollama)",
	}
	cmd.AddCommand(newVisionCheckCommand(ctx))
	cmd.AddCommand(newVisionModelsCommand(ctx))
	cmd.AddCommand(newVisionAnalyzeCommand(ctx))
	cmd.AddCommand(newVisionExtractCommand(ctx))
	return cmd
}

func newVisionCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report whether the vision service answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.visionClient()
			available := client.CheckAvailable(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "URL:       %s\nModel:     %s\nAvailable: %s\n",
				ctx.config.Vision.URL, client.Model(), yesNo(available))
			if !available {
				return errVisionUnavailable
			}
			return nil
		},
	}
}

func newVisionModelsCommand(ctx *commandContext) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models installed on the vision service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, err := wantJSON(cmd, format)
			if err != nil {
				return err
			}
			models, err := ctx.visionClient().ListModels(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing models: %w", err)
			}
			if asJSON {
				return writeJSON(cmd, models)
			}
			for _, m := range models {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
	addFormatFlag(cmd, &format)
	return cmd
}

func newVisionAnalyzeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <image>",
		Short: "Ask the vision model to describe an image and print its JSON answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := ctx.visionClient().Analyze(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("analyzing %s: %w", args[0], err)
			}
			var out bytes.Buffer
			if err := json.Indent(&out, raw, "", "  "); err != nil {
				out.Reset()
				out.Write(raw)
			}
			out.WriteByte('\n')
			_, err = cmd.OutOrStdout().Write(out.Bytes())
			return err
		},
	}
}

func newVisionExtractCommand(ctx *commandContext) *cobra.Command {
	var format string
	var model string
	cmd := &cobra.Command{
		Use:   "extract <image>",
		Short: "Read vehicle fields off a title, registration or receipt image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, err := wantJSON(cmd, format)
			if err != nil {
				return err
			}
			doc, err := ctx.visionClient().ExtractDocument(cmd.Context(), args[0], model)
			if err != nil {
				return fmt.Errorf("extracting %s: %w", args[0], err)
			}
			if asJSON {
				return writeJSON(cmd, doc)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderExtraction(doc))
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Model to use instead of vision.model")
	addFormatFlag(cmd, &format)
	return cmd
}

func renderExtraction(d *ollama.DocumentExtraction) string {
	e := d.Extracted
	rows := [][]string{
		{"Document type", d.DocumentType},
		{"Confidence", strconv.FormatFloat(d.Confidence, 'f', 2, 64)},
		{"VIN", str(e.VIN)},
		{"Year", intStr(e.Year)},
		{"Make", str(e.Make)},
		{"Model", str(e.Model)},
		{"Owner", str(e.OwnerName)},
		{"Mileage", intStr(e.Mileage)},
		{"Price", floatStr(e.Price)},
		{"Date", str(e.Date)},
	}
	var b strings.Builder
	b.WriteString(renderTable([]string{"Field", "Value"}, rows, nil))
	b.WriteString("\n")
	if !d.Parsed {
		b.WriteString("The model's answer contained no readable JSON; defaults shown.\n")
	}
	return b.String()
}

func str(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func intStr(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func floatStr(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
