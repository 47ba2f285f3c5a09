package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dkoren/tagsmith/internal/tagstore"
	"github.com/dkoren/tagsmith/internal/tools"
)

// TagWriter applies one field write to one file.
type TagWriter interface {
	WriteField(path string, field tagstore.Field, value string) tagstore.WriteResult
}

// IndexUpdater keeps the retrieval index consistent after writes.
type IndexUpdater interface {
	UpdateField(ctx context.Context, path string, field tagstore.Field, value string) error
}

// ExecutionOutcome is the aggregate result of applying one invocation
// across its batch. Items always has one entry per target path, in the
// requested order, regardless of individual failures.
type ExecutionOutcome struct {
	Tool      string                 `json:"tool"`
	Succeeded int                    `json:"succeeded"`
	Items     []tagstore.WriteResult `json:"items"`
}

// Summary renders the outcome for the conversation log.
func (o *ExecutionOutcome) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d files updated", o.Succeeded, len(o.Items))
	for _, item := range o.Items {
		fmt.Fprintf(&b, "\n- %s: %s", item.Filepath, item.Status)
		if item.Detail != "" {
			fmt.Fprintf(&b, " (%s)", item.Detail)
		}
	}
	return b.String()
}

// Executor applies validated invocations to the tag store and index.
// Writes to distinct files may run in parallel; writes to the same file
// are serialized process-wide so the tag write and the index update
// stay paired.
type Executor struct {
	store       TagWriter
	index       IndexUpdater
	parallelism int
	log         *slog.Logger

	pathLocks sync.Map // filepath -> *sync.Mutex
}

// NewExecutor creates a mutation executor. parallelism caps concurrent
// per-file writes within one batch; values below 2 mean sequential.
func NewExecutor(store TagWriter, index IndexUpdater, parallelism int, log *slog.Logger) *Executor {
	return &Executor{
		store:       store,
		index:       index,
		parallelism: parallelism,
		log:         log,
	}
}

func (e *Executor) lockPath(path string) *sync.Mutex {
	mu, _ := e.pathLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Execute applies one invocation. Each target path is independent: a
// failed write is recorded and execution continues. Re-running the same
// invocation is safe because tag writes are last-write-wins.
func (e *Executor) Execute(ctx context.Context, inv *tools.Invocation) *ExecutionOutcome {
	outcome := &ExecutionOutcome{
		Tool:  inv.Spec.Name,
		Items: make([]tagstore.WriteResult, len(inv.Filepaths)),
	}

	if e.parallelism > 1 && len(inv.Filepaths) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.parallelism)
		for i := range inv.Filepaths {
			g.Go(func() error {
				outcome.Items[i] = e.applyOne(gctx, inv.Spec.Field, inv.Filepaths[i], inv.Values[i])
				return nil
			})
		}
		g.Wait() // workers never return errors; failures live in Items
	} else {
		for i := range inv.Filepaths {
			outcome.Items[i] = e.applyOne(ctx, inv.Spec.Field, inv.Filepaths[i], inv.Values[i])
		}
	}

	for _, item := range outcome.Items {
		if item.Status == tagstore.StatusUpdated {
			outcome.Succeeded++
		}
	}

	e.log.Info("invocation executed",
		"tool", inv.Spec.Name,
		"field", inv.Spec.Field,
		"targets", len(inv.Filepaths),
		"succeeded", outcome.Succeeded,
	)
	return outcome
}

// applyOne performs the tag write and, only on success, the matching
// index update. The per-path lock serializes mutations of the same file
// across sessions.
func (e *Executor) applyOne(ctx context.Context, field tagstore.Field, path, value string) tagstore.WriteResult {
	mu := e.lockPath(path)
	mu.Lock()
	defer mu.Unlock()

	res := e.store.WriteField(path, field, value)
	if res.Status != tagstore.StatusUpdated {
		return res
	}

	if err := e.index.UpdateField(ctx, path, field, value); err != nil {
		// The file write already landed; the index is stale until the
		// next rebuild. Report the write as updated but keep the trace.
		e.log.Warn("index update failed after tag write", "path", path, "field", field, "error", err)
		res.Detail = fmt.Sprintf("index update failed: %v", err)
	}
	return res
}
