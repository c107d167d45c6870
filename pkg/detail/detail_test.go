package detail

import (
	"testing"
	"time"
)

func TestEnricher_PageTimeout_Default(t *testing.T) {
	e := &Enricher{}
	if got := e.pageTimeout(); got != defaultPageTimeout {
		t.Errorf("pageTimeout() = %v, want default %v", got, defaultPageTimeout)
	}
}

func TestEnricher_PageTimeout_Override(t *testing.T) {
	e := &Enricher{PageTimeout: 5 * time.Second}
	if got := e.pageTimeout(); got != 5*time.Second {
		t.Errorf("pageTimeout() = %v, want 5s", got)
	}
}

func TestCaptchaNotSolvedError_Error(t *testing.T) {
	err := &CaptchaNotSolvedError{}
	if err.Error() != "detail: captcha not solved" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestProxyBlockedError_Error(t *testing.T) {
	err := &ProxyBlockedError{State: "proxy-block-403"}
	want := "detail: proxy blocked (state=proxy-block-403)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
