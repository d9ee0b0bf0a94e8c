package commands

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/plantai-go/internal/logging"
	"github.com/54b3r/plantai-go/internal/rag"
)

// NewAskCmd constructs the `plantai ask` command, which answers a single
// question from the command line.
func NewAskCmd() *cobra.Command {
	var topK int
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the ingested documents",
		Long: `Retrieve the chunks nearest to the question and answer it with the
configured chat model. The answer cites its sources as [filename p.X].

Examples:
  plantai ask "how do I isolate pump P-101 for maintenance?"
  plantai ask --top-k 4 --sources "what is the torque rating of the V7 flange?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			st, err := buildStack(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer st.close(log)

			retriever, err := st.retriever(topK)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			answerer, err := st.answerer(ctx)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			question := strings.Join(args, " ")
			hits, err := retriever.Retrieve(ctx, question)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			answer, err := answerer.Answer(ctx, question, hits)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, answer)
			if showSources && len(hits) > 0 {
				fmt.Fprintln(out)
				return writeSources(out, hits)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (default: RETRIEVER_TOP_K or 8)")
	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "Print the retrieved chunks after the answer")

	return cmd
}

// writeSources prints one aligned row per hit.
func writeSources(w io.Writer, hits []rag.Hit) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSCORE\tFILE\tPAGE\tSOURCE")
	for i, h := range hits {
		fmt.Fprintf(tw, "%d\t%.3f\t%s\t%d\t%s\n", i+1, h.Score, filepath.Base(h.URI), h.Page, h.SourceLabel)
	}
	return tw.Flush()
}
