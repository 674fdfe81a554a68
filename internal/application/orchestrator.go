package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/bnema/upsample-dispatch/internal/fsutil"
	"github.com/bnema/upsample-dispatch/internal/logging"
	"github.com/bnema/upsample-dispatch/internal/ports"
	"github.com/google/uuid"
)

const (
	payloadName = "prompt.json"
	outputDir   = "output"
)

type Options struct {
	Budget      domain.TokenBudget
	Workers     int
	StagingDir  string
	ResultsDir  string
	Command     domain.CommandTemplate
	ResultFiles []string
	ExecTimeout time.Duration
	// DrainOnCancel lets the running remote command finish and be recorded
	// when the batch context is cancelled, instead of terminating it.
	DrainOnCancel bool
}

// Event reports one item state change.
type Event struct {
	RunID  string
	ID     string
	State  domain.ItemState
	Tokens int64
	Err    error
}

type Orchestrator struct {
	store  ports.CheckpointStore
	remote *RemoteClient
	media  ports.MediaTool
	hints  *HintGenerator
	clock  ports.Clock
	opts   Options
	logger *slog.Logger

	eventMu  sync.Mutex
	onEvent  func(Event)
	newRunID func() string
}

func NewOrchestrator(store ports.CheckpointStore, remote *RemoteClient, media ports.MediaTool, hints *HintGenerator, clock ports.Clock, opts Options, logger *slog.Logger) *Orchestrator {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	return &Orchestrator{
		store:    store,
		remote:   remote,
		media:    media,
		hints:    hints,
		clock:    clock,
		opts:     opts,
		logger:   logging.OrDiscard(logger),
		newRunID: newRunID,
	}
}

// OnEvent registers fn to receive item state changes. Calls are serialized.
func (o *Orchestrator) OnEvent(fn func(Event)) {
	o.eventMu.Lock()
	defer o.eventMu.Unlock()

	o.onEvent = fn
}

type batchItem struct {
	spec     domain.PromptSpec
	asset    string
	res      domain.Resolution
	payload  string
	jobDir   string
	video    string
	err      error
	record   domain.CheckpointRecord
	recorded bool
	resumed  bool
}

// RunBatch drives every item not yet in the checkpoint through estimate,
// hint, upload, execute, download and record. Per-item failures are recorded
// and the batch goes on. Connection and checkpoint failures abort the pass
// and are returned; items they interrupt are reported as unprocessed and
// will be retried by the next run.
func (o *Orchestrator) RunBatch(ctx context.Context, specs []domain.PromptSpec) (domain.BatchResult, error) {
	runID := o.newRunID()
	result := domain.BatchResult{RunID: runID}
	logger := o.logger.With("run_id", runID)

	if err := domain.ValidateBatch(specs); err != nil {
		result.Unprocessed = specIDs(specs)
		return result, err
	}

	records, err := o.store.Load(ctx)
	if err != nil {
		result.Unprocessed = specIDs(specs)
		return result, checkpointError("load checkpoint", err)
	}

	items := make([]*batchItem, 0, len(specs))
	pending := make([]*batchItem, 0, len(specs))
	for _, spec := range specs {
		spec.State = ""
		spec.LastError = nil
		if err := spec.Transition(domain.StatePending); err != nil {
			return result, err
		}

		item := &batchItem{spec: spec}
		if record, ok := records[spec.ID]; ok {
			item.record = record
			item.recorded = true
			item.resumed = true
		} else {
			pending = append(pending, item)
		}
		items = append(items, item)
	}
	logger.Info("batch loaded", "items", len(items), "pending", len(pending), "skipped", len(items)-len(pending))

	var runErr error
	if len(pending) > 0 {
		runErr = o.dispatch(ctx, runID, pending, logger)
	}

	for _, item := range items {
		if !item.recorded {
			result.Unprocessed = append(result.Unprocessed, item.spec.ID)
			continue
		}

		outcome := domain.OutcomeFromRecord(item.record)
		outcome.Resumed = item.resumed
		outcome.Tokens = item.spec.TokenEstimate
		if item.resumed {
			result.Skipped = append(result.Skipped, item.spec.ID)
		}
		if outcome.State == domain.StateCompleted {
			result.Completed = append(result.Completed, outcome)
		} else {
			result.Failed = append(result.Failed, outcome)
		}
	}

	logger.Info("batch finished",
		"completed", len(result.Completed),
		"failed", len(result.Failed),
		"skipped", len(result.Skipped),
		"unprocessed", len(result.Unprocessed),
	)
	return result, runErr
}

func (o *Orchestrator) dispatch(ctx context.Context, runID string, pending []*batchItem, logger *slog.Logger) error {
	session, err := o.remote.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("close remote session", "error", err)
		}
	}()

	stop, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	p := &pass{
		Orchestrator: o,
		ctx:          ctx,
		stop:         stop,
		abort:        abort,
		session:      session,
		runID:        runID,
		logger:       logger,
	}
	p.run(pending)

	if err := p.fatalErr(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("batch interrupted: %w", err)
	}
	return nil
}

// pass is one dispatch of the pending items over an open session. Items
// flow through prepare workers, a single uploader, a single executor and a
// single finisher, which is the only writer to the checkpoint.
type pass struct {
	*Orchestrator

	ctx     context.Context
	stop    context.Context
	abort   context.CancelCauseFunc
	session *RemoteSession
	runID   string
	logger  *slog.Logger

	mu    sync.Mutex
	fatal error
}

func (p *pass) run(pending []*batchItem) {
	prepCh := make(chan *batchItem)
	uploadCh := make(chan *batchItem)
	execCh := make(chan *batchItem)
	finishCh := make(chan *batchItem)

	go func() {
		defer close(prepCh)
		for _, item := range pending {
			select {
			case prepCh <- item:
			case <-p.stop.Done():
				return
			}
		}
	}()

	var prepWG sync.WaitGroup
	for w := 0; w < p.opts.Workers; w++ {
		prepWG.Add(1)
		go func() {
			defer prepWG.Done()
			for item := range prepCh {
				if p.stopped() {
					continue
				}
				if err := p.prepare(item); err != nil {
					if p.stopped() {
						continue
					}
					item.err = err
					finishCh <- item
					continue
				}
				uploadCh <- item
			}
		}()
	}
	go func() {
		prepWG.Wait()
		close(uploadCh)
	}()

	var stageWG sync.WaitGroup
	stageWG.Add(2)
	go func() {
		defer stageWG.Done()
		defer close(execCh)
		for item := range uploadCh {
			if p.stopped() {
				continue
			}
			if err := p.upload(item); err != nil {
				if domain.IsFatal(err) {
					p.fail(err)
				}
				if p.stopped() {
					continue
				}
				item.err = err
				finishCh <- item
				continue
			}
			execCh <- item
		}
	}()
	go func() {
		defer stageWG.Done()
		for item := range execCh {
			if p.stopped() {
				continue
			}
			if err := p.execute(item); err != nil {
				if domain.IsFatal(err) {
					p.fail(err)
					continue
				}
				if p.fatalErr() != nil {
					continue
				}
				item.err = err
			}
			finishCh <- item
		}
	}()
	go func() {
		prepWG.Wait()
		stageWG.Wait()
		close(finishCh)
	}()

	for item := range finishCh {
		if p.fatalErr() != nil {
			continue
		}
		p.finish(item)
	}
}

func (p *pass) stopped() bool {
	return p.stop.Err() != nil
}

func (p *pass) fail(err error) {
	p.mu.Lock()
	if p.fatal == nil {
		p.fatal = err
		p.logger.Error("batch pass aborted", "error", err, "error_kind", kindString(err))
	}
	p.mu.Unlock()
	p.abort(err)
}

func (p *pass) fatalErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.fatal
}

func (p *pass) prepare(item *batchItem) error {
	ctx := p.stop
	spec := &item.spec
	budget := p.opts.Budget

	if err := checkReadable(spec.Source); err != nil {
		return domain.NewError(domain.KindMediaProcessing, "read source", domain.ReasonUnreadableSource, err)
	}
	if spec.NeedsProbe() {
		if err := probeInto(ctx, p.media, spec); err != nil {
			return err
		}
	}
	if err := p.transition(item, domain.StateValidated); err != nil {
		return err
	}

	decision := budget.Decide(*spec)
	spec.TokenEstimate = decision.Estimate
	item.asset = spec.Source
	item.res = spec.Resolution

	if decision.Action == domain.ActionDownsample {
		if !budget.Feasible(decision) {
			return stillExceeds(decision.Target, decision.TargetEstimate, budget.MaxTokens)
		}
		if err := p.transition(item, domain.StateNeedsHint); err != nil {
			return err
		}

		hint, err := p.hints.Generate(ctx, *spec, decision.Target, budget.Policy == domain.PolicyPreset)
		if err != nil {
			return err
		}
		if err := p.transition(item, domain.StateHintGenerated); err != nil {
			return err
		}

		tokens := budget.Estimate(hint.Resolution, spec.Frames)
		if budget.Validate(tokens) != domain.VerdictOK {
			return stillExceeds(hint.Resolution, tokens, budget.MaxTokens)
		}
		spec.TokenEstimate = tokens
		item.asset = hint.Path
		item.res = hint.Resolution
	}

	item.jobDir = path.Join(p.session.WorkDir(), "jobs", spec.ID)
	item.video = path.Join(item.jobDir, "input"+filepath.Ext(item.asset))
	return p.writePayload(item)
}

type jobPayload struct {
	RunID  string `json:"run_id"`
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Video  string `json:"video"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Frames int    `json:"frames"`
	Tokens int64  `json:"tokens"`
}

func (p *pass) writePayload(item *batchItem) error {
	data, err := json.MarshalIndent(jobPayload{
		RunID:  p.runID,
		ID:     item.spec.ID,
		Prompt: item.spec.Prompt,
		Video:  item.video,
		Width:  item.res.Width,
		Height: item.res.Height,
		Frames: item.spec.Frames,
		Tokens: item.spec.TokenEstimate,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	dir := filepath.Join(p.opts.StagingDir, item.spec.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.NewError(domain.KindTransfer, "stage payload", domain.ReasonTransferFailed, err)
	}
	item.payload = filepath.Join(dir, payloadName)
	if err := fsutil.WriteFile(item.payload, append(data, '\n'), 0o644); err != nil {
		return domain.NewError(domain.KindTransfer, "stage payload", domain.ReasonTransferFailed, err)
	}
	return nil
}

func (p *pass) upload(item *batchItem) error {
	ctx := p.stop

	if err := p.session.MkdirAll(ctx, path.Join(item.jobDir, outputDir)); err != nil {
		return err
	}
	if err := p.session.Upload(ctx, item.asset, item.video); err != nil {
		return err
	}
	if err := p.session.Upload(ctx, item.payload, path.Join(item.jobDir, payloadName)); err != nil {
		return err
	}
	return p.transition(item, domain.StateUploaded)
}

func (p *pass) execute(item *batchItem) error {
	ctx := p.ctx
	if p.opts.DrainOnCancel {
		ctx = context.WithoutCancel(p.ctx)
	}

	command := p.opts.Command.Render(map[string]string{
		domain.PlaceholderID:        item.spec.ID,
		domain.PlaceholderJobDir:    item.jobDir,
		domain.PlaceholderVideo:     item.video,
		domain.PlaceholderPrompt:    path.Join(item.jobDir, payloadName),
		domain.PlaceholderOutputDir: path.Join(item.jobDir, outputDir),
	})

	p.logger.Debug("executing remote job", "id", item.spec.ID, "command", command)
	if _, err := p.session.Execute(ctx, RemoteCommand{
		Command: command,
		Dir:     item.jobDir,
		Timeout: p.opts.ExecTimeout,
	}); err != nil {
		return err
	}
	return p.transition(item, domain.StateExecuted)
}

// finish downloads results and writes the checkpoint record. It ignores
// cancellation of the batch context: an item that got this far is always
// recorded unless the pass failed.
func (p *pass) finish(item *batchItem) {
	ctx := context.WithoutCancel(p.ctx)
	id := item.spec.ID
	resultDir := filepath.Join(p.opts.ResultsDir, id)

	if item.err == nil {
		if err := p.download(ctx, item, resultDir); err != nil {
			if domain.IsFatal(err) {
				p.fail(err)
				return
			}
			item.err = err
		}
	}

	var record domain.CheckpointRecord
	if item.err == nil {
		record = domain.NewCompletedRecord(id, p.clock.Now(), resultDir)
	} else {
		record = domain.NewFailedRecord(id, p.clock.Now(), item.err)
	}
	if err := p.store.Record(ctx, record); err != nil {
		p.fail(checkpointError("record "+id, err))
		return
	}
	item.record = record
	item.recorded = true

	if item.err == nil {
		_ = p.transition(item, domain.StateCompleted)
		return
	}
	if err := item.spec.Fail(item.err); err != nil {
		p.logger.Warn("mark item failed", "id", id, "error", err)
	}
	p.emit(item, item.err)
}

func (p *pass) download(ctx context.Context, item *batchItem, resultDir string) error {
	if err := os.MkdirAll(resultDir, 0o755); err != nil {
		return domain.NewError(domain.KindTransfer, "download", domain.ReasonTransferFailed, err)
	}
	for _, name := range p.opts.ResultFiles {
		remote := path.Join(item.jobDir, outputDir, name)
		if err := p.session.Download(ctx, remote, filepath.Join(resultDir, filepath.FromSlash(name))); err != nil {
			return err
		}
	}
	return p.transition(item, domain.StateDownloaded)
}

func (p *pass) transition(item *batchItem, to domain.ItemState) error {
	if err := item.spec.Transition(to); err != nil {
		return err
	}
	p.emit(item, nil)
	return nil
}

func (p *pass) emit(item *batchItem, err error) {
	attrs := []any{"id", item.spec.ID, "state", string(item.spec.State), "tokens", item.spec.TokenEstimate}
	if err != nil {
		attrs = append(attrs, "error_kind", kindString(err), "reason", domain.ReasonOf(err), "error", err)
		p.logger.Warn("item failed", attrs...)
	} else {
		p.logger.Info("item state", attrs...)
	}

	p.eventMu.Lock()
	defer p.eventMu.Unlock()
	if p.onEvent != nil {
		p.onEvent(Event{RunID: p.runID, ID: item.spec.ID, State: item.spec.State, Tokens: item.spec.TokenEstimate, Err: err})
	}
}

func stillExceeds(res domain.Resolution, tokens, limit int64) error {
	return domain.NewError(domain.KindValidation, "check budget", domain.ReasonStillExceedsBudget,
		fmt.Errorf("%s needs %d tokens, budget is %d", res, tokens, limit))
}

func checkpointError(op string, err error) error {
	if errors.Is(err, domain.ErrCheckpoint) {
		return err
	}
	return domain.NewError(domain.KindCheckpoint, op, domain.ReasonStorage, err)
}

func kindString(err error) string {
	kind, _ := domain.KindOf(err)
	return string(kind)
}

func specIDs(specs []domain.PromptSpec) []string {
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		ids = append(ids, spec.ID)
	}
	return ids
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
