package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vretrieve/engine/internal/generational"
	"github.com/vretrieve/engine/internal/retrieval"
)

func newSearchCmd() *cobra.Command {
	var (
		k          int
		strategy   string
		jsonOutput bool
		useRerank  bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a retrieval query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			opts := generational.SearchOptions{}
			if cmd.Flags().Changed("rerank") {
				opts.UseRerank = &useRerank
			}
			resp, err := eng.retriever.Retrieve(cmd.Context(), retrieval.ParseStrategy(strategy), args[0], k, opts)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(resp)
			}
			for _, adv := range resp.Advisories {
				fmt.Fprintf(os.Stderr, "advisory: %s\n", adv)
			}
			for i, r := range resp.Results {
				fmt.Printf("%2d. [%s] %s  score=%.4f file=%s\n", i+1, r.Tier, r.ChunkID, r.Score, r.FileID)
				fmt.Printf("    %s\n", truncate(r.Content, 160))
			}
			if len(resp.Results) == 0 {
				fmt.Println("no results")
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "limit", "k", 10, "number of results")
	cmd.Flags().StringVar(&strategy, "strategy", "hybrid", "retrieval strategy (vector|hybrid|hyde|query2doc|decomposition|parentchild)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&useRerank, "rerank", false, "override the configured reranking toggle")

	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func newAddCmd() *cobra.Command {
	var fileID string

	cmd := &cobra.Command{
		Use:   "add <text>...",
		Short: "Ingest one or more text chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			docs := make([]generational.DocumentInput, len(args))
			for i, text := range args {
				docs[i] = generational.DocumentInput{Content: text}
			}
			ids, err := eng.store.AddDocuments(cmd.Context(), fileID, docs)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fileID, "file-id", "cli", "file identifier to group the chunks under")
	return cmd
}
