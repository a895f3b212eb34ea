// Package echoutil adapts echo's logger to configuration.
package echoutil

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// SetLevel applies a configured log level name to the echo logger.
// Unknown names fall back to info.
func SetLevel(e *echo.Echo, loglevel string) {
	switch strings.ToLower(loglevel) {
	case "debug":
		e.Logger.SetLevel(log.DEBUG)
	case "", "info":
		e.Logger.SetLevel(log.INFO)
	case "warn":
		e.Logger.SetLevel(log.WARN)
	case "error":
		e.Logger.SetLevel(log.ERROR)
	case "off":
		e.Logger.SetLevel(log.OFF)
	default:
		e.Logger.SetLevel(log.INFO)
		e.Logger.Warnf("unknown log level %q, using info", loglevel)
	}
}
