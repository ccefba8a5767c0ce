package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-entities/pkg/domain"
	"github.com/polisai/polis-entities/pkg/flow"
	"github.com/polisai/polis-entities/pkg/storage"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [files...]",
		Short: "Process files as records and write them out by relationship",
		Long: `Run treats every file as one record, processes them with a pool of workers and
writes each result to <out>/<relationship>/<name>. With no files, standard input
is read as a single record named "stdin".`,
		RunE: runBatch,
	}
	cmd.Flags().String("out", "", "Output directory (overrides runner.out_dir)")
	cmd.Flags().Int("workers", 0, "Concurrent workers (overrides runner.workers)")
	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	_, cfg, logger, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	if out, _ := cmd.Flags().GetString("out"); out != "" {
		cfg.Runner.OutDir = out
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		cfg.Runner.Workers = workers
	}

	ctx := cmd.Context()
	store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	processor, err := newProcessorBuilder(store, logger).Build(cfg)
	if err != nil {
		return err
	}

	records, err := readRecords(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	queue := flow.NewQueue(flow.QueueOptions{Journal: store, Logger: logger})
	queue.Enqueue(records...)

	stats, err := flow.Run(ctx, processor, queue, cfg.Runner.Workers)
	if err != nil {
		return err
	}

	for _, rel := range []domain.Relationship{domain.RelationshipSuccess, domain.RelationshipMatches, domain.RelationshipFailure} {
		for _, rec := range queue.Transferred(rel) {
			if err := writeRecord(cfg.Runner.OutDir, rel, rec); err != nil {
				return err
			}
		}
	}

	return printStats(cmd.OutOrStdout(), stats)
}

// readRecords loads one record per file, named after the file.
func readRecords(paths []string, stdin io.Reader) ([]*domain.Record, error) {
	if len(paths) == 0 {
		body, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return []*domain.Record{newFileRecord("stdin", "-", body)}, nil
	}

	records := make([]*domain.Record, 0, len(paths))
	seen := make(map[string]int, len(paths))
	for _, path := range paths {
		//nolint:gosec // Paths are supplied by the operator
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		name := filepath.Base(path)
		if n := seen[name]; n > 0 {
			name = fmt.Sprintf("%s.%d", name, n)
		}
		seen[filepath.Base(path)]++
		records = append(records, newFileRecord(name, path, body))
	}
	return records, nil
}

func newFileRecord(name, path string, body []byte) *domain.Record {
	return domain.NewRecord(name, body, map[string]string{
		"filename": name,
		"path":     path,
	})
}

// writeRecord stores the body at <out>/<rel>/<id> and its attributes next to it.
func writeRecord(outDir string, rel domain.Relationship, rec *domain.Record) error {
	dir := filepath.Join(outDir, string(rel))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	target := filepath.Join(dir, rec.ID)
	if err := os.WriteFile(target, rec.Body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}

	attrs, err := json.MarshalIndent(rec.Attributes, "", "  ")
	if err != nil {
		return fmt.Errorf("encode attributes for %s: %w", rec.ID, err)
	}
	if err := os.WriteFile(target+".attributes.json", attrs, 0o644); err != nil {
		return fmt.Errorf("write attributes for %s: %w", rec.ID, err)
	}
	return nil
}

func printStats(w io.Writer, stats flow.Stats) error {
	rels := make([]string, 0, len(stats.Relationships))
	for rel := range stats.Relationships {
		rels = append(rels, string(rel))
	}
	sort.Strings(rels)

	if _, err := fmt.Fprintf(w, "processed %d record(s)\n", stats.Processed); err != nil {
		return err
	}
	for _, rel := range rels {
		if _, err := fmt.Fprintf(w, "  %-8s %d\n", rel, stats.Relationships[domain.Relationship(rel)]); err != nil {
			return err
		}
	}
	return nil
}
