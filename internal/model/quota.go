package model

// QuotaWindow names one of the two enforced budgets.
type QuotaWindow string

const (
	QuotaDaily   QuotaWindow = "daily"
	QuotaMonthly QuotaWindow = "monthly"
)

// WindowUsage reports consumption against one budget.
type WindowUsage struct {
	Used      int64 `json:"used"`
	Quota     int64 `json:"quota"`
	Remaining int64 `json:"remaining"`
}

// NewWindowUsage builds a WindowUsage, flooring Remaining at zero.
func NewWindowUsage(used, quota int64) WindowUsage {
	remaining := quota - used
	if remaining < 0 {
		remaining = 0
	}
	return WindowUsage{Used: used, Quota: quota, Remaining: remaining}
}

// QuotaDetail is the per-window breakdown returned by peek and admission.
type QuotaDetail struct {
	KeyID   string      `json:"key_id"`
	Daily   WindowUsage `json:"daily"`
	Monthly WindowUsage `json:"monthly"`
}

// WithinQuota reports whether both windows are strictly below their quota.
func (d QuotaDetail) WithinQuota() bool {
	return d.Daily.Used < d.Daily.Quota && d.Monthly.Used < d.Monthly.Quota
}

// Refusal names a key state that forbids spending regardless of budget.
type Refusal string

const (
	RefusedDisabled Refusal = "disabled"
	RefusedExpired  Refusal = "expired"
)

// Admission is the outcome of an atomic check-and-record. When Accepted is
// false, either Refused names the key state that blocked the call or
// Exceeded names the first window that could not absorb the cost. In both
// cases no usage record was written.
type Admission struct {
	Accepted bool        `json:"accepted"`
	Refused  Refusal     `json:"refused,omitempty"`
	Exceeded QuotaWindow `json:"exceeded,omitempty"`
	RecordID int64       `json:"record_id,omitempty"`
	Detail   QuotaDetail `json:"detail"`
}
