package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"photo-restyler/internal/domain"
	"photo-restyler/internal/infra/sched"
	"photo-restyler/internal/infra/web"
	"photo-restyler/internal/usecase"
)

var errUsage = errors.New("usage")

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "create":
		return a.cmdCreate(ctx, args)
	case "preview":
		return a.cmdPreview(ctx, args)
	case "retry":
		return a.cmdRetry(ctx, args)
	case "approve":
		return a.cmdApprove(ctx, args)
	case "reject":
		return a.cmdReject(ctx, args)
	case "submit", "poll", "wait", "fetch":
		return a.cmdBatch(ctx, cmd, args)
	case "export":
		return a.cmdExport(ctx, args)
	case "show":
		return a.cmdShow(ctx, args)
	case "list":
		return a.cmdList(ctx)
	case "serve":
		return a.cmdServe(ctx)
	default:
		return errUsage
	}
}

// runFlags parses "-run ID" plus any extra flags registered by setup and
// returns the positional remainder.
func runFlags(name string, args []string, setup func(fs *flag.FlagSet)) (string, []string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	runID := fs.String("run", "", "run id")
	if setup != nil {
		setup(fs)
	}
	if err := fs.Parse(args); err != nil {
		return "", nil, errUsage
	}
	if *runID == "" {
		return "", nil, fmt.Errorf("%w: -run is required", domain.ErrInvalidArgument)
	}
	return *runID, fs.Args(), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) cmdCreate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	var in usecase.CreateRunInput
	fs.StringVar(&in.Folder, "folder", "", "folder with source photos")
	fs.StringVar(&in.Label, "label", "", "run label (defaults to folder name)")
	fs.StringVar(&in.PresetID, "preset", "", "default preset id")
	fs.StringVar(&in.Lighting, "lighting", "", "lighting modifier id or text")
	fs.StringVar(&in.FreeText, "text", "", "free-text instructions")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if in.PresetID == "" {
		if ids := a.cfg.Catalog().IDs(); len(ids) > 0 {
			in.PresetID = ids[0]
		}
	}
	run, err := a.runUC.CreateFromFolder(ctx, in)
	if err != nil {
		return err
	}
	return printJSON(run)
}

func (a *app) progress(p usecase.PreviewProgress) {
	ev := a.log.Info()
	if p.Stage != usecase.StageResult {
		ev = a.log.Debug()
	}
	ev = ev.Str("run_id", p.RunID).Str("image", p.Name).Int("index", p.Index+1).Int("total", p.Total).Str("stage", string(p.Stage))
	if p.Result != nil {
		ev = ev.Str("status", string(p.Result.Status))
		if p.Result.Error != "" {
			ev = ev.Str("error", p.Result.Error)
		}
	}
	ev.Msg("preview")
}

func (a *app) cmdPreview(ctx context.Context, args []string) error {
	var preset string
	runID, names, err := runFlags("preview", args, func(fs *flag.FlagSet) {
		fs.StringVar(&preset, "preset", "", "preset override for the listed images")
	})
	if err != nil {
		return err
	}
	var results []usecase.PreviewItemResult
	if len(names) == 0 {
		results, err = a.previewUC.RunPending(ctx, runID, a.progress)
	} else {
		run, gerr := a.runUC.Get(ctx, runID)
		if gerr != nil {
			return gerr
		}
		items := make([]usecase.PreviewItem, 0, len(names))
		for _, n := range names {
			e := run.Entry(n)
			if e == nil {
				return fmt.Errorf("%w: image %q", domain.ErrNotFound, n)
			}
			items = append(items, usecase.PreviewItem{SourcePath: e.SourcePath, PresetID: preset})
		}
		results, err = a.previewUC.Run(ctx, runID, items, a.progress)
	}
	if perr := printJSON(results); perr != nil {
		return perr
	}
	return err
}

func (a *app) cmdRetry(ctx context.Context, args []string) error {
	runID, names, err := runFlags("retry", args, nil)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("%w: name at least one image", domain.ErrInvalidArgument)
	}
	results, err := a.previewUC.Retry(ctx, runID, names, a.progress)
	if perr := printJSON(results); perr != nil {
		return perr
	}
	return err
}

func (a *app) cmdApprove(ctx context.Context, args []string) error {
	var override string
	runID, names, err := runFlags("approve", args, func(fs *flag.FlagSet) {
		fs.StringVar(&override, "override", "", "comma separated name=preset pairs")
	})
	if err != nil {
		return err
	}
	overrides, err := parseOverrides(override)
	if err != nil {
		return err
	}
	run, err := a.runUC.Approve(ctx, runID, names, overrides)
	if err != nil {
		return err
	}
	return printJSON(run)
}

func parseOverrides(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, preset, ok := strings.Cut(pair, "=")
		if !ok || name == "" || preset == "" {
			return nil, fmt.Errorf("%w: override %q, want name=preset", domain.ErrInvalidArgument, pair)
		}
		out[name] = preset
	}
	return out, nil
}

func (a *app) cmdReject(ctx context.Context, args []string) error {
	runID, names, err := runFlags("reject", args, nil)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("%w: name at least one image", domain.ErrInvalidArgument)
	}
	run, err := a.runUC.Reject(ctx, runID, names)
	if err != nil {
		return err
	}
	return printJSON(run)
}

// cmdBatch prints the structured phase result even when the phase failed.
func (a *app) cmdBatch(ctx context.Context, cmd string, args []string) error {
	runID, _, err := runFlags(cmd, args, nil)
	if err != nil {
		return err
	}
	var res any
	switch cmd {
	case "submit":
		res, err = a.batchUC.Submit(ctx, runID)
	case "poll":
		res, err = a.batchUC.Poll(ctx, runID)
	case "wait":
		res, err = a.batchUC.PollUntilComplete(ctx, runID)
	case "fetch":
		res, err = a.batchUC.Fetch(ctx, runID)
	}
	if perr := printJSON(res); perr != nil {
		return perr
	}
	return err
}

func (a *app) cmdExport(ctx context.Context, args []string) error {
	runID, _, err := runFlags("export", args, nil)
	if err != nil {
		return err
	}
	path, err := a.runUC.Export(ctx, runID)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func (a *app) cmdShow(ctx context.Context, args []string) error {
	runID, _, err := runFlags("show", args, nil)
	if err != nil {
		return err
	}
	run, err := a.runUC.Get(ctx, runID)
	if err != nil {
		return err
	}
	return printJSON(run)
}

func (a *app) cmdList(ctx context.Context) error {
	runs, err := a.runUC.List(ctx)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%s\t%s\t%d images\t%s\n", r.ID, r.Mode, len(r.Images), r.BatchStatus)
	}
	return nil
}

// cmdServe runs the status server and the batch watcher until ctx is done.
func (a *app) cmdServe(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	watcher := sched.NewBatchWatcher(a.cfg.Batch.WatchInterval, a.runUC, a.batchUC, a.log)
	g.Go(func() error {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if a.cfg.Admin.Port > 0 {
		srv := web.NewServer(a.runUC, a.runs, a.cfg.Admin.APIKey, a.log)
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Admin.Port),
			Handler:           srv.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.log.Info().Str("addr", server.Addr).Msg("status server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	a.log.Info().Msg("shutdown complete")
	return err
}
