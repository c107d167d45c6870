package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/wisbric/avitosentry/pkg/browsersession"
	"github.com/wisbric/avitosentry/pkg/catalog"
	"github.com/wisbric/avitosentry/pkg/pagestate"
)

type fakeHandle struct {
	proxyID int64
	session *browsersession.Session
}

func (f *fakeHandle) Current() (int64, *browsersession.Session) {
	return f.proxyID, f.session
}

func (f *fakeHandle) Swap(newProxyID int64, newSession *browsersession.Session) (int64, *browsersession.Session) {
	old, oldSession := f.proxyID, f.session
	f.proxyID, f.session = newProxyID, newSession
	return old, oldSession
}

type neverRequestingOrchestrator struct{}

func (neverRequestingOrchestrator) Run(ctx context.Context, page pagestate.Page, catalogURL string, requests chan<- catalog.PageRequest, responses <-chan catalog.PageResponse) (catalog.Result, error) {
	<-ctx.Done()
	return catalog.Result{}, ctx.Err()
}

type immediateSuccessOrchestrator struct{}

func (immediateSuccessOrchestrator) Run(ctx context.Context, page pagestate.Page, catalogURL string, requests chan<- catalog.PageRequest, responses <-chan catalog.PageResponse) (catalog.Result, error) {
	return catalog.Result{Status: catalog.ResultSuccess, Listings: []catalog.Listing{{AvitoItemID: 1}}}, nil
}

func TestRun_TimeoutTreatedAsFinished(t *testing.T) {
	c := &Coordinator{PageRequestTimeout: 50 * time.Millisecond}
	handle := &fakeHandle{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := c.Run(ctx, handle, neverRequestingOrchestrator{}, nil, "https://www.avito.ru/rossiya")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Status != "" {
		t.Errorf("result.Status = %q, want empty on timeout", result.Status)
	}
}

func TestRun_OrchestratorFinishesImmediately(t *testing.T) {
	c := &Coordinator{PageRequestTimeout: time.Second}
	handle := &fakeHandle{}

	ctx := context.Background()
	result, err := c.Run(ctx, handle, immediateSuccessOrchestrator{}, nil, "https://www.avito.ru/rossiya")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Status != catalog.ResultSuccess {
		t.Errorf("result.Status = %q, want %q", result.Status, catalog.ResultSuccess)
	}
	if len(result.Listings) != 1 {
		t.Errorf("got %d listings, want 1", len(result.Listings))
	}
}

func TestRotate_LimitExceeded(t *testing.T) {
	c := &Coordinator{ProxyRotationLimit: 2}
	handle := &fakeHandle{}
	rotations := 2

	_, err := c.rotate(context.Background(), handle, catalog.PageRequest{Status: catalog.StatusProxyBlocked}, &rotations)
	if err == nil {
		t.Fatal("expected an error once the rotation limit is exceeded")
	}
}

func TestCurrentPage_NilSession(t *testing.T) {
	c := &Coordinator{}
	handle := &fakeHandle{proxyID: 0, session: nil}

	page := c.currentPage(handle)
	if page != nil {
		t.Errorf("currentPage() = %v, want nil for an empty handle", page)
	}
}

func TestStateFor(t *testing.T) {
	tests := []struct {
		status catalog.RequestStatus
		want   pagestate.State
	}{
		{catalog.StatusCaptchaUnsolved, pagestate.Captcha},
		{catalog.StatusContinueButton, pagestate.ContinueButton},
		{catalog.StatusRateLimit, pagestate.RateLimit429},
		{catalog.StatusNotDetected, pagestate.NotDetected},
	}
	for _, tt := range tests {
		if got := stateFor(tt.status); got != tt.want {
			t.Errorf("stateFor(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestHandleRequest_UnknownStatus(t *testing.T) {
	c := &Coordinator{}
	handle := &fakeHandle{}
	rotations := 0

	_, err := c.handleRequest(context.Background(), handle, catalog.PageRequest{Status: "BOGUS"}, &rotations)
	if err == nil {
		t.Fatal("expected an error for an unrecognized page-request status")
	}
}

func TestAvitoCatalogURLFromStartPage(t *testing.T) {
	got := avitoCatalogURLFromStartPage(3)
	want := "https://www.avito.ru/rossiya?s=104&p=3"
	if got != want {
		t.Errorf("avitoCatalogURLFromStartPage(3) = %q, want %q", got, want)
	}
}
