package dispatch

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
)

// Abort ends a dispatch early with a redirect. Hooks return it as an error;
// the dispatcher writes the Location header and runs nothing further.
type Abort struct {
	Code     int
	Location string
}

func (a *Abort) Error() string {
	return fmt.Sprintf("redirect %d to %s", a.Code, a.Location)
}

// Redirect sends the visitor to url with a 302.
func Redirect(url string) error {
	return &Abort{Code: http.StatusFound, Location: url}
}

// Reload redirects to the current request URI.
func Reload(c echo.Context) error {
	return &Abort{Code: http.StatusFound, Location: c.Request().URL.RequestURI()}
}

// Previous redirects to the referring page. It returns nil when the request
// carries no Referer, so callers can fall through.
func Previous(c echo.Context) error {
	ref := c.Request().Referer()
	if ref == "" {
		return nil
	}
	return &Abort{Code: http.StatusFound, Location: ref}
}

// HTTP redirects an https request to its http:// equivalent with a 301. It
// returns nil when the request is already plain http.
func HTTP(c echo.Context) error {
	if c.Scheme() != "https" {
		return nil
	}
	return &Abort{Code: http.StatusMovedPermanently, Location: "http://" + c.Request().Host + c.Request().URL.RequestURI()}
}

// HTTPS redirects a plain http request to https:// with a 301. It returns
// nil when the request is already secure.
func HTTPS(c echo.Context) error {
	if c.Scheme() == "https" {
		return nil
	}
	return &Abort{Code: http.StatusMovedPermanently, Location: "https://" + c.Request().Host + c.Request().URL.RequestURI()}
}

// ConfigError reports a handler, action or model that configuration names
// but code never registered. It carries the stack where it was raised.
type ConfigError struct {
	Message string
	Stack   string
}

func (e *ConfigError) Error() string { return e.Message }

func configError(format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...), Stack: string(debug.Stack())}
}
