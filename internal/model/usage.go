package model

import "fmt"

// Window selects the time range a usage aggregate covers.
type Window string

const (
	WindowTrailingDay   Window = "trailing_day"
	WindowTrailingMonth Window = "trailing_month"
	WindowAllTime       Window = "all_time"
)

// Window lengths in seconds. A "month" is a fixed 30 days.
const (
	DaySeconds   int64 = 86400
	MonthSeconds int64 = 30 * DaySeconds
)

// ParseWindow converts a query/flag value into a Window. The empty string
// maps to all_time.
func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case "", WindowAllTime:
		return WindowAllTime, nil
	case WindowTrailingDay, "daily", "day":
		return WindowTrailingDay, nil
	case WindowTrailingMonth, "monthly", "month":
		return WindowTrailingMonth, nil
	}
	return "", fmt.Errorf("unknown window %q (want trailing_day, trailing_month or all_time)", s)
}

// Since returns the inclusive lower timestamp bound of the window relative
// to now. all_time returns 0.
func (w Window) Since(now int64) int64 {
	switch w {
	case WindowTrailingDay:
		return now - DaySeconds
	case WindowTrailingMonth:
		return now - MonthSeconds
	default:
		return 0
	}
}

// EndpointUsage is the per-endpoint slice of a usage aggregate.
type EndpointUsage struct {
	Endpoint string `json:"endpoint" db:"endpoint"`
	Requests int64  `json:"requests" db:"requests"`
	Cost     int64  `json:"cost" db:"cost"`
}

// UsageStats aggregates the ledger for one key over one window.
type UsageStats struct {
	KeyID         string          `json:"key_id"`
	Window        Window          `json:"window"`
	TotalRequests int64           `json:"total_requests"`
	TotalCost     int64           `json:"total_cost"`
	Endpoints     []EndpointUsage `json:"endpoints"`
}

// UsageSummary is a ledger-wide overview used by the admin API.
type UsageSummary struct {
	Window        Window `json:"window"`
	TotalKeys     int64  `json:"total_keys"`
	EnabledKeys   int64  `json:"enabled_keys"`
	TotalRequests int64  `json:"total_requests"`
	TotalCost     int64  `json:"total_cost"`
}
