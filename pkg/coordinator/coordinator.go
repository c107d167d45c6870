// Package coordinator implements the in-worker activity that services a
// running catalog traversal's page-requests. It pairs with
// an external catalog.Orchestrator through a strict request/supply
// rendezvous and owns the block-current/lease-new/relaunch-browser
// "rotation" triad on PROXY_BLOCKED.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wisbric/avitosentry/internal/telemetry"
	"github.com/wisbric/avitosentry/pkg/browsersession"
	"github.com/wisbric/avitosentry/pkg/captcha"
	"github.com/wisbric/avitosentry/pkg/catalog"
	"github.com/wisbric/avitosentry/pkg/pagestate"
	"github.com/wisbric/avitosentry/pkg/queue"
)

// ErrNoProxiesAvailable is returned when a PROXY_BLOCKED rendezvous
// cannot lease a replacement proxy.
var ErrNoProxiesAvailable = errors.New("coordinator: no free proxies available for rotation")

// CaptchaNotSolvedError is raised when the solver cannot clear a
// challenge encountered mid-traversal.
type CaptchaNotSolvedError struct {
	State pagestate.State
}

func (e *CaptchaNotSolvedError) Error() string {
	return fmt.Sprintf("coordinator: captcha not solved (state=%s)", e.State)
}

// Handle is the minimal worker-state surface the coordinator needs to
// safely mutate the shared (proxy, browser) tuple while the worker's main
// loop may also be observing it. pkg/worker implements
// this interface; coordinator never imports pkg/worker directly, which
// keeps the two packages free of an import cycle.
type Handle interface {
	// Current takes the worker mutex just long enough to read back the
	// currently held proxy id and browser session.
	Current() (proxyID int64, session *browsersession.Session)

	// Swap takes the worker mutex, records newProxyID and newSession as
	// the worker's current handles, and returns the handles that were
	// current before the swap so the caller can tear them down outside
	// the lock.
	Swap(newProxyID int64, newSession *browsersession.Session) (oldProxyID int64, oldSession *browsersession.Session)
}

// Coordinator services one traversal's page-requests.
type Coordinator struct {
	Store              *queue.Store
	Detector           pagestate.Detector
	Solver             captcha.Solver
	Launcher           *browsersession.Launcher
	Display            string
	WorkerID           string
	PageRequestTimeout time.Duration
	ProxyRotationLimit int
}

// Run launches orch against initialPage and catalogURL, servicing its
// page-requests until it returns a Result or the PageRequestTimeout
// elapses without one (treated as the orchestrator having finished
// cleanly).
func (c *Coordinator) Run(ctx context.Context, handle Handle, orch catalog.Orchestrator, initialPage pagestate.Page, catalogURL string) (catalog.Result, error) {
	requests := make(chan catalog.PageRequest, 1)
	responses := make(chan catalog.PageResponse, 1)
	type outcome struct {
		result catalog.Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		res, err := orch.Run(ctx, initialPage, catalogURL, requests, responses)
		done <- outcome{res, err}
	}()

	rotations := 0
	timer := time.NewTimer(c.PageRequestTimeout)
	defer timer.Stop()

	for {
		select {
		case o := <-done:
			return o.result, o.err

		case req := <-requests:
			if !timer.Stop() {
				<-timer.C
			}
			page, rotateErr := c.handleRequest(ctx, handle, req, &rotations)
			resp := catalog.PageResponse{Page: page, Err: rotateErr}
			select {
			case responses <- resp:
			case <-ctx.Done():
				return catalog.Result{}, ctx.Err()
			}
			if rotateErr != nil {
				return catalog.Result{}, rotateErr
			}
			timer.Reset(c.PageRequestTimeout)

		case <-timer.C:
			return catalog.Result{}, nil

		case <-ctx.Done():
			return catalog.Result{}, ctx.Err()
		}
	}
}

// handleRequest implements the per-status branches of page-request handling.
func (c *Coordinator) handleRequest(ctx context.Context, handle Handle, req catalog.PageRequest, rotations *int) (pagestate.Page, error) {
	switch req.Status {
	case catalog.StatusProxyBlocked:
		return c.rotate(ctx, handle, req, rotations)

	case catalog.StatusCaptchaUnsolved, catalog.StatusContinueButton, catalog.StatusRateLimit:
		return c.resolveChallenge(ctx, handle, req)

	case catalog.StatusNotDetected:
		return c.currentPage(handle), nil

	default:
		return nil, fmt.Errorf("coordinator: unknown page-request status %q", req.Status)
	}
}

func (c *Coordinator) currentPage(handle Handle) pagestate.Page {
	_, session := handle.Current()
	if session == nil {
		return nil
	}
	return session
}

func (c *Coordinator) resolveChallenge(ctx context.Context, handle Handle, req catalog.PageRequest) (pagestate.Page, error) {
	session := c.currentPage(handle)
	if session == nil {
		return nil, errors.New("coordinator: no active session to resolve challenge on")
	}
	pwSession := session.(*browsersession.Session)

	solved, err := c.Solver.Solve(ctx, pwSession, stateFor(req.Status))
	if err != nil {
		return nil, err
	}
	if !solved {
		oldProxyID, oldSession := handle.Swap(0, nil)
		if oldProxyID > 0 {
			_ = c.Store.ReleaseProxy(ctx, oldProxyID)
		}
		_ = oldSession.Close()
		return nil, &CaptchaNotSolvedError{State: stateFor(req.Status)}
	}
	return pwSession, nil
}

func stateFor(status catalog.RequestStatus) pagestate.State {
	switch status {
	case catalog.StatusCaptchaUnsolved:
		return pagestate.Captcha
	case catalog.StatusContinueButton:
		return pagestate.ContinueButton
	case catalog.StatusRateLimit:
		return pagestate.RateLimit429
	default:
		return pagestate.NotDetected
	}
}

func (c *Coordinator) rotate(ctx context.Context, handle Handle, req catalog.PageRequest, rotations *int) (pagestate.Page, error) {
	*rotations++
	if *rotations > c.ProxyRotationLimit {
		return nil, fmt.Errorf("coordinator: proxy rotation limit (%d) exceeded", c.ProxyRotationLimit)
	}

	leased, err := c.Store.LeaseFreeProxy(ctx, c.WorkerID)
	if err != nil {
		return nil, err
	}
	if leased == nil {
		return nil, ErrNoProxiesAvailable
	}

	newSession, err := c.Launcher.Launch(c.Display, leased.Address)
	if err != nil {
		_ = c.Store.ReleaseProxy(ctx, leased.ID)
		return nil, fmt.Errorf("coordinator: relaunching browser after rotation: %w", err)
	}

	oldProxyID, oldSession := handle.Swap(leased.ID, newSession)
	if oldProxyID > 0 {
		_ = c.Store.BlockProxy(ctx, oldProxyID, "proxy blocked mid-traversal")
	}
	_ = oldSession.Close()
	telemetry.CatalogProxyRotationsTotal.Inc()

	catalogURL := avitoCatalogURLFromStartPage(req.NextStartPage)
	if err := newSession.Navigate(catalogURL, 30*time.Second); err != nil {
		return nil, fmt.Errorf("coordinator: navigating after rotation: %w", err)
	}

	state, err := c.Detector.Detect(ctx, newSession)
	if err != nil {
		return nil, err
	}
	if state == pagestate.Captcha || state == pagestate.ContinueButton || state == pagestate.RateLimit429 {
		solved, err := c.Solver.Solve(ctx, newSession, state)
		if err != nil {
			return nil, err
		}
		if !solved {
			return nil, &CaptchaNotSolvedError{State: state}
		}
	}

	return newSession, nil
}

// avitoCatalogURLFromStartPage is a placeholder hook for paginated
// catalog URLs; the orchestrator (component F) owns pagination semantics
// end to end, so the coordinator only needs a URL to resume navigation
// on after a rotation and defers to whatever start-page convention F
// communicated in the page-request.
func avitoCatalogURLFromStartPage(startPage int) string {
	return fmt.Sprintf("https://www.avito.ru/rossiya?s=104&p=%d", startPage)
}
