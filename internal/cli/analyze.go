package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"Go2NetSentinel/internal/ai"
	"Go2NetSentinel/internal/alerter"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/pkg/pcap"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	analyzeWrite   bool
	analyzeAlert   bool
	analyzeExplain bool
	analyzeOutput  string
	analyzeCompact bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <pcap>",
	Short: "Analyze a capture file and print the report as JSON",
	Long: `Read a pcap or pcapng file, compute statistics, time series and findings,
and print the report as JSON.

Examples:
  ns-sentinel analyze capture.pcap
  ns-sentinel analyze capture.pcap -o report.json --write --alert
  ns-sentinel analyze capture.pcap --explain   # stream an AI analysis of the findings
`,
	Args: cobra.ExactArgs(1),
	RunE: analyzeCommand,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeWrite, "write", false, "Persist the report to the configured writers")
	analyzeCmd.Flags().BoolVar(&analyzeAlert, "alert", false, "Send alerts for qualifying findings")
	analyzeCmd.Flags().BoolVar(&analyzeExplain, "explain", false, "Stream an AI analysis of the findings to stderr")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "Write the report to a file instead of stdout")
	analyzeCmd.Flags().BoolVar(&analyzeCompact, "compact", false, "Print compact JSON")
}

func analyzeCommand(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Build the pipeline and the requested outputs
	c, err := build(ctx, buildOptions{writers: analyzeWrite, alerts: analyzeAlert})
	if err != nil {
		return err
	}
	defer c.Close()

	// 2. Read the capture
	packets, err := pcap.ReadFile(ctx, args[0], logger)
	if err != nil {
		return err
	}
	logger.Info("capture loaded", zap.String("path", args[0]), zap.Int("packets", len(packets)))

	// 3. Analyze
	report, err := c.pipeline.Analyze(ctx, packets)
	if err != nil {
		return err
	}
	c.deliver(ctx, report)

	// 4. Print
	if err := printReport(cmd.OutOrStdout(), report); err != nil {
		return err
	}

	if analyzeExplain {
		return explain(ctx, cmd.ErrOrStderr(), report.Findings)
	}
	return nil
}

func printReport(stdout io.Writer, report *model.Report) error {
	out := stdout
	if analyzeOutput != "" {
		f, err := os.Create(analyzeOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	if !analyzeCompact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

func explain(ctx context.Context, out io.Writer, findings []model.Finding) error {
	if len(findings) == 0 {
		fmt.Fprintln(out, "No findings to explain.")
		return nil
	}
	analyst, err := ai.NewAnalyst(&cfg.AI)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\n--- AI Analysis ---")
	err = analyst.AnalyzeStream(ctx, alerter.Summary(findings), func(chunk string) error {
		_, werr := io.WriteString(out, chunk)
		return werr
	})
	fmt.Fprintln(out)
	return err
}
