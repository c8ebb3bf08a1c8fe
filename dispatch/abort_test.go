package dispatch_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/eringen/starch/dispatch"
)

func newContext(target string, header map[string]string) echo.Context {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	return echo.New().NewContext(req, httptest.NewRecorder())
}

func asAbort(t *testing.T, err error) *dispatch.Abort {
	t.Helper()
	var a *dispatch.Abort
	if !errors.As(err, &a) {
		t.Fatalf("error = %v, want *Abort", err)
	}
	return a
}

func TestRedirectPrimitives(t *testing.T) {
	a := asAbort(t, dispatch.Redirect("/elsewhere"))
	if a.Code != http.StatusFound || a.Location != "/elsewhere" {
		t.Errorf("Redirect = %+v", a)
	}

	a = asAbort(t, dispatch.Reload(newContext("/blog/1?x=2", nil)))
	if a.Location != "/blog/1?x=2" {
		t.Errorf("Reload location = %q", a.Location)
	}

	if err := dispatch.Previous(newContext("/", nil)); err != nil {
		t.Errorf("Previous without referer = %v, want nil", err)
	}
	a = asAbort(t, dispatch.Previous(newContext("/", map[string]string{"Referer": "http://example.com/from"})))
	if a.Location != "http://example.com/from" {
		t.Errorf("Previous location = %q", a.Location)
	}

	a = asAbort(t, dispatch.HTTPS(newContext("http://example.com/secure?a=1", nil)))
	if a.Code != http.StatusMovedPermanently || a.Location != "https://example.com/secure?a=1" {
		t.Errorf("HTTPS = %+v", a)
	}
	if err := dispatch.HTTP(newContext("http://example.com/plain", nil)); err != nil {
		t.Errorf("HTTP on plain request = %v, want nil", err)
	}
	a = asAbort(t, dispatch.HTTP(newContext("/x", map[string]string{echo.HeaderXForwardedProto: "https"})))
	if a.Location != "http://example.com/x" {
		t.Errorf("HTTP location = %q", a.Location)
	}
}
