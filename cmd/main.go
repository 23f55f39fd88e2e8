package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"grounded-rag/internal/chromemdb"
	"grounded-rag/internal/config"
	"grounded-rag/internal/db"
	"grounded-rag/internal/embedding"
	"grounded-rag/internal/helper"
	"grounded-rag/internal/llmservice"
	"grounded-rag/internal/models"
	"grounded-rag/internal/rag"
)

var configFilePath string

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	root := &cobra.Command{
		Use:          "grounded-rag",
		Short:        "Document question answering with verifiable citations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFilePath, "config", "c", "./configs/config.yaml", "Path to the config file")
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
	}

	root.AddCommand(ingestCmd(), queryCmd(), verifyCmd(), listCmd(), deleteCmd(), dropCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Parse, chunk, embed and index one or more documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pipeline, registry, err := buildPipeline(ctx, false)
			if err != nil {
				return err
			}
			defer closeRegistry(registry)

			// Files are independent; each document's chunks are still
			// ordered within its own ingest.
			g, gctx := errgroup.WithContext(ctx)
			for _, path := range args {
				path := path
				g.Go(func() error {
					res, err := pipeline.Ingest(gctx, path)
					if err != nil {
						return err
					}
					fmt.Printf("%s  %s  (%d chunks, %d pages)\n", res.DocumentID, res.Title, res.Chunks, res.Pages)
					return nil
				})
			}
			return g.Wait()
		},
	}
}

func queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question from the indexed documents, with citations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pipeline, registry, err := buildPipeline(ctx, true)
			if err != nil {
				return err
			}
			defer closeRegistry(registry)

			resp, err := pipeline.Query(ctx, args[0])
			if err != nil {
				return err
			}
			if zerolog.GlobalLevel() <= zerolog.DebugLevel {
				helper.PrettyPrint(resp.Selected)
			}
			printResponse(args[0], resp)
			return nil
		},
	}
}

func verifyCmd() *cobra.Command {
	var req models.VerificationRequest
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a citation's claim against its source chunk",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pipeline, registry, err := buildPipeline(ctx, false)
			if err != nil {
				return err
			}
			defer closeRegistry(registry)

			resp, err := pipeline.Verify(ctx, req)
			if err != nil {
				return err
			}
			printVerification(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.DocumentID, "document", "", "Document id the citation references")
	cmd.Flags().IntVar(&req.ChunkIndex, "chunk", 0, "Chunk ordinal within the document")
	cmd.Flags().StringVar(&req.ClaimText, "claim", "", "The claim to verify")
	cmd.Flags().StringVar(&req.ExpectedTextSpan, "span", "", "Text span the citation quotes")
	cmd.MarkFlagRequired("document")
	cmd.MarkFlagRequired("claim")
	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			registry, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			if registry == nil {
				return fmt.Errorf("no document registry configured")
			}
			defer registry.Close()

			docs, err := db.ListDocuments(ctx, registry)
			if err != nil {
				return err
			}
			for _, d := range docs {
				fmt.Printf("%s  %-10s  %4d chunks  %s\n", d.ID, d.Status, d.ChunkCount, d.Title)
			}
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Remove a document from the index and registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pipeline, registry, err := buildPipeline(ctx, false)
			if err != nil {
				return err
			}
			defer closeRegistry(registry)
			return pipeline.DeleteDocument(ctx, args[0])
		},
	}
}

func dropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop",
		Short: "Drop the documents table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			registry, err := openRegistry(ctx)
			if err != nil {
				return err
			}
			if registry == nil {
				return fmt.Errorf("no document registry configured")
			}
			defer registry.Close()
			return db.DropDocuments(ctx, registry)
		},
	}
}

// buildPipeline constructs the full pipeline from the config file. The
// inference model is only dialed for commands that need it.
func buildPipeline(ctx context.Context, withLLM bool) (*rag.RAG, *bun.DB, error) {
	cfg, err := config.Load(configFilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log.Debug().Interface("config", cfg).Msg("Loaded config")

	if !cfg.Vector.InMemory {
		if err := helper.CreateFolder(cfg.Vector.Path); err != nil {
			return nil, nil, fmt.Errorf("failed to create vector store path: %w", err)
		}
	}
	vectors, err := chromemdb.NewVectorDBManager(cfg.Vector)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	var llm *llmservice.Client
	if withLLM {
		llm, err = llmservice.NewClient(&cfg.InferLLM)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize inference model: %w", err)
		}
	}

	registry, err := openRegistryWith(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	pipeline, err := rag.New(cfg, registry, vectors, embedder, llm)
	if err != nil {
		closeRegistry(registry)
		return nil, nil, err
	}
	return pipeline, registry, nil
}

func openRegistry(ctx context.Context) (*bun.DB, error) {
	cfg, err := config.Load(configFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return openRegistryWith(ctx, cfg)
}

// openRegistryWith connects to the document registry when one is
// configured; a blank URL runs the pipeline index-only.
func openRegistryWith(ctx context.Context, cfg *config.Config) (*bun.DB, error) {
	if cfg.Database.SupabaseURL == "" {
		return nil, nil
	}
	sqldb, err := db.ConnectDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	registry := db.NewDB(sqldb, cfg.Database.Debug)
	if err := db.InitDB(ctx, registry); err != nil {
		registry.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return registry, nil
}

func closeRegistry(registry *bun.DB) {
	if registry != nil {
		registry.Close()
	}
}

func printResponse(query string, resp *rag.QueryResponse) {
	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", resp.Answer)

	if len(resp.Sources) > 0 {
		log.Info().Msg("Sources: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		for _, s := range resp.Sources {
			fmt.Printf("  %s\n", s)
		}
		fmt.Println()
	}

	if len(resp.Citations) > 0 {
		log.Info().Msg("Citations: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		for i, c := range resp.Citations {
			fmt.Printf("[%d] %s (%s, page %d, chunk %d) confidence %.2f\n", i+1, c.DocumentName, c.CitationType, c.PageNumber, c.ChunkIndex, c.ConfidenceScore)
			fmt.Printf("    claim: %s\n", c.ClaimText)
			fmt.Printf("    span:  %q\n", c.TextSpan)
			if len(c.Issues) > 0 {
				fmt.Printf("    issues: %v\n", c.Issues)
			}
		}
	}
}

func printVerification(resp *models.VerificationResponse) {
	fmt.Printf("accurate:   %t\n", resp.IsAccurate)
	fmt.Printf("confidence: %.2f\n", resp.ConfidenceScore)
	if len(resp.Issues) > 0 {
		fmt.Printf("issues:     %v\n", resp.Issues)
	}
	fmt.Printf("source:     %s\n", resp.SourceText)
}
