package api

import "github.com/labstack/echo/v4"

// IPExtractor returns how the client IP bound into launch tokens is read.
// Forwarding headers are spoofable unless a trusted proxy sets them, so they
// are only honored when trust is true.
func IPExtractor(trust bool) echo.IPExtractor {
	if trust {
		return echo.ExtractIPFromXFFHeader()
	}
	return echo.ExtractIPDirect()
}
