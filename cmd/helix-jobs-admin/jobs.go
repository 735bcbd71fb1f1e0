package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Streamweaver/helix-jobs/internal/core"
	"github.com/Streamweaver/helix-jobs/internal/data"
	"github.com/Streamweaver/helix-jobs/internal/domain/model"
	"github.com/Streamweaver/helix-jobs/internal/service"
	"github.com/Streamweaver/helix-jobs/internal/util"
)

func runStats(cmdCtx *commandContext, args []string) error {
	timeout, err := parseTimeoutFlags("stats", args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, timeout, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger})

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if _, werr := fmt.Fprintln(w, "KIND\tPENDING\tIN_PROGRESS\tCOMPLETED\tFAILED\tKILLED"); werr != nil {
			return fmt.Errorf("write stats header: %w", werr)
		}

		for _, kind := range model.AllJobKinds() {
			stats, statsErr := repo.Stats(ctx, kind)
			if statsErr != nil {
				return fmt.Errorf("stats for %s: %w", kind, statsErr)
			}
			if _, werr := fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n",
				kind, stats.Pending, stats.InProgress,
				stats.Completed, stats.Failed, stats.Killed); werr != nil {
				return fmt.Errorf("write stats row: %w", werr)
			}
		}

		if flushErr := w.Flush(); flushErr != nil {
			return fmt.Errorf("flush stats table: %w", flushErr)
		}
		return nil
	})
}

type listJobsOptions struct {
	Kind    model.JobKind
	Owner   string
	Limit   int
	Timeout time.Duration
}

func parseListJobsFlags(args []string) (listJobsOptions, error) {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	kind := fs.String("kind", string(model.JobKindExport), "job kind to list")
	owner := fs.String("owner", "", "filter by owner")
	limit := fs.Int("limit", 20, "maximum rows to list")
	timeout := fs.Duration("timeout", defaultCommandTimeout, "command timeout")
	if err := fs.Parse(args); err != nil {
		return listJobsOptions{}, fmt.Errorf("parse jobs flags: %w", err)
	}

	parsed := model.JobKind(*kind)
	if !parsed.Valid() {
		return listJobsOptions{}, fmt.Errorf("invalid job kind: %q", *kind)
	}

	return listJobsOptions{
		Kind:    parsed,
		Owner:   *owner,
		Limit:   *limit,
		Timeout: *timeout,
	}, nil
}

func runListJobs(cmdCtx *commandContext, args []string) error {
	opts, err := parseListJobsFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger})

		params := core.ListRecentParams{Kind: opts.Kind, Limit: opts.Limit}
		if opts.Owner != "" {
			params.Owner = &opts.Owner
		}

		jobs, listErr := repo.ListRecentByKind(ctx, params)
		if listErr != nil {
			return fmt.Errorf("list %s jobs: %w", opts.Kind, listErr)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if _, werr := fmt.Fprintln(w, "ID\tSTATE\tOWNER\tSUBMITTED\tRUNTIME\tFAILURE"); werr != nil {
			return fmt.Errorf("write jobs header: %w", werr)
		}
		for _, job := range jobs {
			failure := ""
			if job.FailureReason != nil {
				failure = *job.FailureReason
			}
			if _, werr := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				job.ID, job.State, job.Owner,
				job.SubmittedAt.Format(time.RFC3339),
				util.FormatRuntime(job.StartedAt, job.CompletedAt),
				failure); werr != nil {
				return fmt.Errorf("write jobs row: %w", werr)
			}
		}
		if flushErr := w.Flush(); flushErr != nil {
			return fmt.Errorf("flush jobs table: %w", flushErr)
		}
		return nil
	})
}

func runReapOnce(cmdCtx *commandContext, args []string) error {
	timeout, err := parseTimeoutFlags("reap", args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, timeout, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger})
		reaper, reaperErr := service.NewReaperService(service.ReaperServiceOptions{
			Repo:   repo,
			Config: cmdCtx.Config.Reaper,
			Logger: cmdCtx.Logger,
		})
		if reaperErr != nil {
			return fmt.Errorf("create reaper service: %w", reaperErr)
		}

		summary, sweepErr := reaper.Reap(ctx, time.Now())
		if sweepErr != nil {
			return fmt.Errorf("reaper sweep: %w", sweepErr)
		}

		if werr := writef(os.Stdout, "Sweep finished in %s\n", util.FormatProcessingDuration(summary.Elapsed)); werr != nil {
			return werr
		}
		for _, kind := range model.AllJobKinds() {
			if werr := writef(os.Stdout, "  %-18s killed_pending=%d killed_in_progress=%d\n",
				kind, summary.KilledPending[kind], summary.KilledInProgress[kind]); werr != nil {
				return werr
			}
		}
		return writef(os.Stdout, "Total killed: %d, terminal rows deleted: %d\n",
			summary.TotalKilled(), summary.Deleted)
	})
}
