// Package worker implements the per-task state machine: proxy
// acquisition, browser launch, catalog traversal, validation, detail
// enrichment, completion or retry.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/avitosentry/internal/telemetry"
	"github.com/wisbric/avitosentry/pkg/browsersession"
	"github.com/wisbric/avitosentry/pkg/captcha"
	"github.com/wisbric/avitosentry/pkg/cardparser"
	"github.com/wisbric/avitosentry/pkg/catalog"
	"github.com/wisbric/avitosentry/pkg/coordinator"
	"github.com/wisbric/avitosentry/pkg/dedup"
	"github.com/wisbric/avitosentry/pkg/detail"
	"github.com/wisbric/avitosentry/pkg/opsalert"
	"github.com/wisbric/avitosentry/pkg/pagestate"
	"github.com/wisbric/avitosentry/pkg/queue"
	"github.com/wisbric/avitosentry/pkg/validation"
)

// Config holds the tunables that govern one Worker's pacing.
type Config struct {
	WorkerID                  string
	Display                   string
	NoTasksWait               time.Duration
	NoProxiesWait             time.Duration
	HeartbeatInterval         time.Duration
	StuckTaskTimeout          time.Duration
	MaxRetryAttempts          int
	PageRequestTimeout        time.Duration
	CatalogProxyRotationLimit int
	DetailPageTimeout         time.Duration
	GeminiAPIKey              string
}

// Deps bundles the external collaborators a Worker drives.
type Deps struct {
	Store    *queue.Store
	Launcher *browsersession.Launcher
	Detector pagestate.Detector
	Solver   captcha.Solver
	Orch     catalog.Orchestrator
	Parser   cardparser.Parser
	Logger   *slog.Logger
	Alerter  *opsalert.Notifier
	Dedup    *dedup.Cache
}

// Worker is one process's worth of state: its leased task, its leased
// proxy, its browser session, and the heartbeat goroutine over the
// current task. The fields guarded by mu are the shared mutable tuple
// the worker's main loop and its coordinator may both touch.
type Worker struct {
	cfg          Config
	store        *queue.Store
	launcher     *browsersession.Launcher
	detector     pagestate.Detector
	solver       captcha.Solver
	orch         catalog.Orchestrator
	detailParser cardparser.Parser
	logger       *slog.Logger
	alerter      *opsalert.Notifier
	dedup        *dedup.Cache

	mu               sync.Mutex
	currentProxyID   int64
	currentProxyAddr string
	session          *browsersession.Session

	currentTaskID   int64
	heartbeatCancel context.CancelFunc
	heartbeatDone   chan struct{}
}

// New constructs a Worker.
func New(cfg Config, deps Deps) *Worker {
	return &Worker{
		cfg:          cfg,
		store:        deps.Store,
		launcher:     deps.Launcher,
		detector:     deps.Detector,
		solver:       deps.Solver,
		orch:         deps.Orch,
		detailParser: deps.Parser,
		logger:       deps.Logger,
		alerter:      deps.Alerter,
		dedup:        deps.Dedup,
	}
}

// Current implements coordinator.Handle.
func (w *Worker) Current() (int64, *browsersession.Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentProxyID, w.session
}

// Swap implements coordinator.Handle. Only the pointer/id assignment
// happens under the lock; callers tear down the returned old session
// outside of it.
func (w *Worker) Swap(newProxyID int64, newSession *browsersession.Session) (int64, *browsersession.Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	oldProxyID, oldSession := w.currentProxyID, w.session
	w.currentProxyID = newProxyID
	w.session = newSession
	if newSession != nil {
		w.currentProxyAddr = newSession.ProxyAddress()
	} else {
		w.currentProxyAddr = ""
	}
	return oldProxyID, oldSession
}

// setProxy records a leased proxy's id and address before a browser
// session exists for it yet (state HAVE_TASK → HAVE_PROXY).
func (w *Worker) setProxy(proxyID int64, address string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentProxyID = proxyID
	w.currentProxyAddr = address
}

func (w *Worker) proxyAddress() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentProxyAddr
}

// Run executes the state-machine loop until ctx is cancelled. Each iteration processes at most one task.
func (w *Worker) Run(ctx context.Context) {
	if _, err := w.store.ReturnStuckTasks(ctx, w.cfg.StuckTaskTimeout, w.cfg.MaxRetryAttempts); err != nil {
		w.logger.Error("initial stuck-task sweep failed", "error", err)
	}

	for {
		if ctx.Err() != nil {
			w.shutdown(ctx)
			return
		}
		w.runOnce(ctx)
	}
}

// runOnce drives one pass of IDLE → ... → FINALIZING → IDLE. Recoverable
// errors are logged and absorbed here; the loop always returns to let Run
// re-check ctx between iterations.
func (w *Worker) runOnce(ctx context.Context) {
	taskID, article, ok := w.lease(ctx)
	if !ok {
		return
	}

	runID := uuid.New().String()
	w.logger.Info("starting task run", "run_id", runID, "task_id", taskID, "article", article)

	proxyID, ok := w.acquireProxy(ctx, taskID)
	if !ok {
		return
	}

	if ok := w.ensureBrowser(ctx, taskID, proxyID); !ok {
		return
	}

	result, ok := w.runCatalogPhase(ctx, taskID, article)
	if !ok {
		return
	}

	w.startHeartbeat(ctx, taskID)
	itemsFound := len(result.Listings)
	w.persistCatalogListings(ctx, article, result.Listings)
	itemsPassed := w.validateListings(ctx, article, result.Listings)
	w.enrichDetails(ctx, taskID, article)
	w.stopHeartbeat()

	status := queue.ProcessingStatusSuccess
	if itemsFound == 0 {
		status = queue.ProcessingStatusNoResults
	}
	if err := w.store.CompleteTask(ctx, taskID, article, w.cfg.WorkerID, status, itemsFound, itemsPassed); err != nil {
		w.logger.Error("complete task failed", "task_id", taskID, "error", err)
	}
}

// lease implements state IDLE.
func (w *Worker) lease(ctx context.Context) (taskID int64, article string, ok bool) {
	leased, err := w.store.LeaseNextTask(ctx, w.cfg.WorkerID)
	if err != nil {
		w.logger.Error("lease task failed", "error", err)
		sleep(ctx, w.cfg.NoTasksWait)
		return 0, "", false
	}
	if leased == nil {
		sleep(ctx, w.cfg.NoTasksWait)
		return 0, "", false
	}
	w.currentTaskID = leased.ID
	return leased.ID, leased.Article, true
}

// acquireProxy implements state HAVE_TASK.
func (w *Worker) acquireProxy(ctx context.Context, taskID int64) (proxyID int64, ok bool) {
	if id, _ := w.Current(); id != 0 {
		return id, true
	}

	leased, err := w.store.LeaseFreeProxy(ctx, w.cfg.WorkerID)
	if err != nil {
		w.logger.Error("lease proxy failed", "task_id", taskID, "error", err)
		_ = w.store.ReturnTaskToQueue(ctx, taskID, err.Error(), false)
		w.alerter.ProxyPoolExhausted(ctx, w.cfg.WorkerID)
		sleep(ctx, w.cfg.NoProxiesWait)
		return 0, false
	}
	if leased == nil {
		_ = w.store.ReturnTaskToQueue(ctx, taskID, "no free proxies", false)
		w.alerter.ProxyPoolExhausted(ctx, w.cfg.WorkerID)
		sleep(ctx, w.cfg.NoProxiesWait)
		return 0, false
	}
	w.setProxy(leased.ID, leased.Address)
	return leased.ID, true
}

// ensureBrowser implements state HAVE_PROXY.
func (w *Worker) ensureBrowser(ctx context.Context, taskID, proxyID int64) bool {
	if _, session := w.Current(); session != nil {
		return true
	}

	address := w.proxyAddress()
	session, err := w.launcher.Launch(w.cfg.Display, address)
	if err != nil {
		w.logger.Error("browser launch failed", "task_id", taskID, "proxy_id", proxyID, "error", err)
		_ = w.store.BlockProxy(ctx, proxyID, "launch error")
		_ = w.store.ReturnTaskToQueue(ctx, taskID, err.Error(), true)
		w.clearHandles()
		return false
	}
	w.Swap(proxyID, session)
	return true
}

// runCatalogPhase implements states CATALOG_ENTRY and RUNNING.
func (w *Worker) runCatalogPhase(ctx context.Context, taskID int64, article string) (catalog.Result, bool) {
	_, session := w.Current()
	catalogURL := catalogURLForArticle(article)
	if err := session.Navigate(catalogURL, 30*time.Second); err != nil {
		w.recoverFromCatalogFailure(ctx, taskID, err)
		return catalog.Result{}, false
	}

	state, err := w.detector.Detect(ctx, session)
	if err != nil {
		w.recoverFromCatalogFailure(ctx, taskID, err)
		return catalog.Result{}, false
	}

	switch state {
	case pagestate.Captcha, pagestate.ContinueButton, pagestate.RateLimit429:
		solved, err := w.solver.Solve(ctx, session, state)
		if err != nil || !solved {
			w.releaseOnCaptchaFailure(ctx, taskID)
			return catalog.Result{}, false
		}
	case pagestate.ProxyBlock403, pagestate.ProxyAuth407:
		if !w.rotateForEntryBlock(ctx, taskID, article) {
			return catalog.Result{}, false
		}
	}

	coord := &coordinator.Coordinator{
		Store:              w.store,
		Detector:           w.detector,
		Solver:             w.solver,
		Launcher:           w.launcher,
		Display:            w.cfg.Display,
		WorkerID:           w.cfg.WorkerID,
		PageRequestTimeout: w.cfg.PageRequestTimeout,
		ProxyRotationLimit: w.cfg.CatalogProxyRotationLimit,
	}
	_, currentSession := w.Current()
	result, err := coord.Run(ctx, w, w.orch, currentSession, catalogURL)
	if err != nil {
		w.handleRunFailure(ctx, taskID, err)
		return catalog.Result{}, false
	}
	if result.Status != catalog.ResultSuccess || result.AttemptsExhausted {
		w.handleRunFailure(ctx, taskID, fmt.Errorf("catalog traversal did not succeed: status=%s exhausted=%v", result.Status, result.AttemptsExhausted))
		return catalog.Result{}, false
	}
	return result, true
}

// rotateForEntryBlock implements the bounded PROXY_BLOCKED retry at catalog
// entry: lease a new proxy, relaunch, navigate, and re-detect, looping back
// to another rotation as long as the new page is still blocked, up to
// CatalogProxyRotationLimit rotations. Exceeding the limit returns the task
// to the queue without incrementing retry_count.
func (w *Worker) rotateForEntryBlock(ctx context.Context, taskID int64, article string) bool {
	rotations := 0
	for {
		rotations++
		if rotations > w.cfg.CatalogProxyRotationLimit {
			proxyID, session := w.Current()
			_ = w.store.BlockProxy(ctx, proxyID, "proxy blocked at entry")
			_ = w.store.ReturnTaskToQueue(ctx, taskID, "catalog entry proxy rotation limit exceeded", false)
			w.teardown(session)
			w.clearHandles()
			return false
		}

		oldProxyID, oldSession := w.Current()
		leased, err := w.store.LeaseFreeProxy(ctx, w.cfg.WorkerID)
		if err != nil || leased == nil {
			_ = w.store.BlockProxy(ctx, oldProxyID, "proxy blocked at entry")
			_ = w.store.ReturnTaskToQueue(ctx, taskID, "no free proxies after rotation", false)
			w.teardown(oldSession)
			w.clearHandles()
			return false
		}
		newSession, err := w.launcher.Launch(w.cfg.Display, leased.Address)
		if err != nil {
			_ = w.store.BlockProxy(ctx, oldProxyID, "proxy blocked at entry")
			_ = w.store.ReleaseProxy(ctx, leased.ID)
			_ = w.store.ReturnTaskToQueue(ctx, taskID, err.Error(), true)
			w.teardown(oldSession)
			w.clearHandles()
			return false
		}
		w.Swap(leased.ID, newSession)
		_ = w.store.BlockProxy(ctx, oldProxyID, "proxy blocked at entry")
		w.teardown(oldSession)
		telemetry.CatalogProxyRotationsTotal.Inc()

		if err := newSession.Navigate(catalogURLForArticle(article), 30*time.Second); err != nil {
			w.recoverFromCatalogFailure(ctx, taskID, err)
			return false
		}

		state, err := w.detector.Detect(ctx, newSession)
		if err != nil {
			w.recoverFromCatalogFailure(ctx, taskID, err)
			return false
		}
		if state != pagestate.ProxyBlock403 && state != pagestate.ProxyAuth407 {
			return true
		}
	}
}

func (w *Worker) recoverFromCatalogFailure(ctx context.Context, taskID int64, err error) {
	proxyID, session := w.Current()
	w.launcher.DebugScreenshot(session, "catalog-entry-failure")
	_ = w.store.BlockProxy(ctx, proxyID, err.Error())
	_ = w.store.ReturnTaskToQueue(ctx, taskID, err.Error(), true)
	w.teardown(session)
	w.clearHandles()
}

func (w *Worker) releaseOnCaptchaFailure(ctx context.Context, taskID int64) {
	proxyID, session := w.Current()
	w.launcher.DebugScreenshot(session, "catalog-entry-captcha-unsolved")
	_ = w.store.ReleaseProxy(ctx, proxyID)
	_ = w.store.ReturnTaskToQueue(ctx, taskID, "captcha not solved at catalog entry", true)
	w.teardown(session)
	w.clearHandles()
}

// handleRunFailure implements state RUNNING's failure branch: consult retry_count, either error out or return with
// retry, then teardown browser and proxy.
func (w *Worker) handleRunFailure(ctx context.Context, taskID int64, cause error) {
	retryCount, err := w.store.GetTaskRetryCount(ctx, taskID)
	if err != nil {
		w.logger.Error("reading retry count failed", "task_id", taskID, "error", err)
	}
	if retryCount >= w.cfg.MaxRetryAttempts {
		_ = w.store.MarkTaskAsError(ctx, taskID, cause.Error())
		w.alerter.TaskErrored(ctx, fmt.Sprintf("task_id=%d", taskID), w.cfg.WorkerID, cause.Error())
	} else {
		_ = w.store.ReturnTaskToQueue(ctx, taskID, cause.Error(), true)
	}

	proxyID, session := w.Current()
	_ = w.store.ReleaseProxy(ctx, proxyID)
	w.teardown(session)
	w.clearHandles()
}

// persistCatalogListings upserts every catalog listing into parsed_cards
// before validation runs. The Redis dedup
// cache, when enabled, skips listings another worker already claimed for
// some other article this pass, since a card shared across two search
// queries only needs to be written and later enriched once.
func (w *Worker) persistCatalogListings(ctx context.Context, article string, listings []catalog.Listing) {
	for _, l := range listings {
		if !w.dedup.ClaimFirst(ctx, article, l.AvitoItemID) {
			continue
		}
		err := w.store.SaveParsedCard(ctx, article, queue.CatalogListing{
			AvitoItemID: l.AvitoItemID,
			Title:       l.Title,
			Description: l.Description,
			Price:       l.Price,
			Seller:      l.Seller,
		})
		if err != nil {
			w.logger.Error("save parsed card failed", "article", article, "avito_item_id", l.AvitoItemID, "error", err)
		}
	}
}

// validateListings implements state VALIDATING.
func (w *Worker) validateListings(ctx context.Context, article string, listings []catalog.Listing) int {
	pipeline := &validation.Pipeline{
		Mechanical: validation.NewMechanical(),
		AI:         w.aiValidator(),
		Store:      w.store,
	}
	passed, err := pipeline.Run(ctx, article, listings)
	if err != nil {
		w.logger.Error("validation pipeline failed", "article", article, "error", err)
		return 0
	}
	return passed
}

func (w *Worker) aiValidator() *validation.AI {
	return validation.NewAI(w.cfg.GeminiAPIKey)
}

// enrichDetails implements state ENRICHING. CaptchaNotSolvedError and
// ProxyBlockedError teardown browser+proxy and return the task with
// retry.
func (w *Worker) enrichDetails(ctx context.Context, taskID int64, article string) {
	_, session := w.Current()
	enricher := &detail.Enricher{
		Detector:    w.detector,
		Solver:      w.solver,
		Parser:      w.detailParser,
		Store:       w.store,
		PageTimeout: w.cfg.DetailPageTimeout,
	}
	if _, err := enricher.Enrich(ctx, session, article); err != nil {
		var captchaErr *detail.CaptchaNotSolvedError
		var proxyErr *detail.ProxyBlockedError
		if errors.As(err, &captchaErr) || errors.As(err, &proxyErr) {
			proxyID, sess := w.Current()
			w.launcher.DebugScreenshot(sess, "detail-enrichment-failure")
			_ = w.store.BlockProxy(ctx, proxyID, err.Error())
			_ = w.store.ReturnTaskToQueue(ctx, taskID, err.Error(), true)
			w.teardown(sess)
			w.clearHandles()
			return
		}
		w.logger.Error("detail enrichment error", "article", article, "error", err)
	}
}

func (w *Worker) startHeartbeat(ctx context.Context, taskID int64) {
	hbCtx, cancel := context.WithCancel(ctx)
	w.heartbeatCancel = cancel
	w.heartbeatDone = make(chan struct{})

	go func() {
		defer close(w.heartbeatDone)
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := w.store.Heartbeat(hbCtx, taskID); err != nil {
					if !errors.Is(err, queue.ErrPoolClosed) {
						w.logger.Error("heartbeat failed", "task_id", taskID, "error", err)
					}
				} else {
					telemetry.HeartbeatsSentTotal.Inc()
				}
			}
		}
	}()
}

func (w *Worker) stopHeartbeat() {
	if w.heartbeatCancel != nil {
		w.heartbeatCancel()
		<-w.heartbeatDone
		w.heartbeatCancel = nil
		w.heartbeatDone = nil
	}
}

// shutdown runs on context cancellation: returns an in-flight task
// without incrementing retry and releases (not blocks) the proxy.
func (w *Worker) shutdown(ctx context.Context) {
	w.stopHeartbeat()
	proxyID, session := w.Current()
	if w.currentTaskID != 0 {
		_ = w.store.ReturnTaskToQueue(context.Background(), w.currentTaskID, "worker shutdown", false)
	}
	if proxyID != 0 {
		_ = w.store.ReleaseProxy(context.Background(), proxyID)
	}
	w.teardown(session)
	w.clearHandles()
}

func (w *Worker) teardown(session *browsersession.Session) {
	_ = session.Close()
}

func (w *Worker) clearHandles() {
	w.Swap(0, nil)
	w.currentTaskID = 0
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// catalogURLForArticle builds the search URL the worker navigates to at
// catalog entry.
func catalogURLForArticle(article string) string {
	return fmt.Sprintf("https://www.avito.ru/rossiya?q=%s&s=104", url.QueryEscape(article))
}
