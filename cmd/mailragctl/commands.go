package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mailrag/internal/app"
	"github.com/kailas-cloud/mailrag/internal/config"
	domdoc "github.com/kailas-cloud/mailrag/internal/domain/document"
	"github.com/kailas-cloud/mailrag/internal/domain/search/request"
	logpkg "github.com/kailas-cloud/mailrag/internal/logger"
	"github.com/kailas-cloud/mailrag/internal/usecase/retrieval"
)

// seedDocument is one record of a seed file.
type seedDocument struct {
	ID        string             `json:"id"`
	Sender    string             `json:"sender"`
	Subject   string             `json:"subject"`
	Summary   string             `json:"summary"`
	Category  string             `json:"category"`
	Priority  string             `json:"priority"`
	Status    string             `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
	Entities  map[string]*string `json:"entities"`
	Deleted   bool               `json:"deleted"`
}

func readSeedFile(path string) ([]domdoc.Document, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var raw []seedDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	docs := make([]domdoc.Document, 0, len(raw))
	for i, r := range raw {
		doc, err := domdoc.New(domdoc.Params{
			ID:        r.ID,
			Sender:    r.Sender,
			Subject:   r.Subject,
			Summary:   r.Summary,
			Category:  r.Category,
			Priority:  r.Priority,
			Status:    r.Status,
			Timestamp: r.Timestamp,
			Entities:  r.Entities,
			Deleted:   r.Deleted,
		})
		if err != nil {
			return nil, fmt.Errorf("document %d (%q): %w", i, r.ID, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// withApp loads configuration, wires the application and runs fn with a
// request-scoped logger in the context.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	env := c.String("env")
	var (
		cfg config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if l := c.String("log-level"); l != "" {
		level = l
	}
	logger, err := logpkg.NewLogger(env, level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, reqLogger := logpkg.WithRequest(c.Context, logger, uuid.NewString(), zap.String("command", c.Command.Name))

	a, err := app.New(ctx, &cfg, reqLogger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func seedCommand(c *cli.Context) error {
	docs, err := readSeedFile(c.String("file"))
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		if err := a.Docs.SaveBatch(ctx, docs); err != nil {
			return fmt.Errorf("save documents: %w", err)
		}
		fmt.Fprintf(c.App.Writer, "seeded %d documents\n", len(docs))
		return nil
	})
}

func buildCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		status, err := a.Retrieval.BuildIndex(ctx, true)
		if err != nil {
			return fmt.Errorf("build index: %w", err)
		}
		return printJSON(c, toStatusOutput(status))
	})
}

type statusOutput struct {
	State        string  `json:"state"`
	Version      uint64  `json:"version"`
	Size         int     `json:"size"`
	DegradedRows int     `json:"degraded_rows"`
	AgeSeconds   float64 `json:"age_seconds"`
}

func toStatusOutput(st retrieval.Status) statusOutput {
	return statusOutput{
		State:        string(st.State),
		Version:      st.Version,
		Size:         st.Size,
		DegradedRows: st.DegradedRows,
		AgeSeconds:   st.Age.Seconds(),
	}
}

func parseAsOf(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errors.New("as-of must be YYYY-MM-DD or RFC3339")
	}
	return t, nil
}

type queryOutput struct {
	Query         string   `json:"query"`
	ResultsCount  int      `json:"results_count"`
	ExecutionTime float64  `json:"execution_time"`
	IndexVersion  uint64   `json:"index_version"`
	Mode          string   `json:"mode"`
	Degradations  []string `json:"degradations,omitempty"`
	IDs           []string `json:"ids"`
}

func queryCommand(c *cli.Context) error {
	text := strings.Join(c.Args().Slice(), " ")
	asOf, err := parseAsOf(c.String("as-of"))
	if err != nil {
		return err
	}
	req, err := request.New(text, asOf)
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		res, err := a.Retrieval.Query(ctx, &req)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		out := queryOutput{
			Query:         res.Query(),
			ResultsCount:  len(res.Documents()),
			ExecutionTime: res.Elapsed().Seconds(),
			IndexVersion:  res.IndexVersion(),
			Mode:          string(res.Mode()),
			IDs:           make([]string, 0, len(res.Documents())),
		}
		for _, d := range res.Degradations() {
			out.Degradations = append(out.Degradations, d.Stage+": "+d.Reason)
		}
		for _, d := range res.Documents() {
			out.IDs = append(out.IDs, d.ID())
		}
		return printJSON(c, out)
	})
}

func historyCommand(c *cli.Context) error {
	limit := c.Int("limit")
	if limit <= 0 {
		return errors.New("limit must be positive")
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		if a.History == nil {
			return errors.New("query history is disabled")
		}
		entries, err := a.History.Recent(ctx, limit)
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		for _, e := range entries {
			fmt.Fprintf(c.App.Writer, "%s\t%d\t%.3fs\t%s\n",
				e.CreatedAt.Format(time.RFC3339), e.ResultsCount, e.Elapsed.Seconds(), e.Query)
		}
		return nil
	})
}

func indexStatusCommand(c *cli.Context) error {
	return withApp(c, func(_ context.Context, a *app.App) error {
		return printJSON(c, toStatusOutput(a.Retrieval.Status()))
	})
}
