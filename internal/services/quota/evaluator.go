package quota

import "fmt"

// Status is the severity band a usage snapshot falls in.
type Status string

const (
	StatusOK       Status = "OK"
	StatusWarning  Status = "WARNING"
	StatusCritical Status = "CRITICAL"
)

// Usage is a point-in-time snapshot of a subject's request counts.
type Usage struct {
	Daily   int64 `json:"daily"`
	Monthly int64 `json:"monthly"`
}

// Evaluation is the outcome of comparing usage against resolved limits.
type Evaluation struct {
	DailyPct   float64 `json:"daily_pct"`
	MonthlyPct float64 `json:"monthly_pct"`
	Status     Status  `json:"status"`

	// RecommendBlock is set only when daily usage has reached or passed the
	// daily limit. A monthly overrun alone never recommends blocking.
	RecommendBlock bool `json:"recommend_block"`

	// ConfigWarnings lists dimensions whose configured limit was not
	// positive; such dimensions evaluate as 0% and never block.
	ConfigWarnings []string `json:"config_warnings,omitempty"`
}

// Evaluate compares a usage snapshot against resolved limits. It is pure:
// comparisons use full float precision, formatting is left to callers.
func Evaluate(usage Usage, limits Limits) Evaluation {
	var ev Evaluation

	ev.DailyPct, ev.ConfigWarnings = pct(usage.Daily, limits.Daily, "daily", ev.ConfigWarnings)
	ev.MonthlyPct, ev.ConfigWarnings = pct(usage.Monthly, limits.Monthly, "monthly", ev.ConfigWarnings)

	warn := limits.WarningThreshold * 100
	crit := limits.CriticalThreshold * 100

	switch {
	case ev.DailyPct > crit || ev.MonthlyPct > crit:
		ev.Status = StatusCritical
	case ev.DailyPct > warn || ev.MonthlyPct > warn:
		ev.Status = StatusWarning
	default:
		ev.Status = StatusOK
	}

	ev.RecommendBlock = limits.Daily > 0 && ev.DailyPct >= 100
	return ev
}

func pct(used int64, limit int32, dimension string, warnings []string) (float64, []string) {
	if limit <= 0 {
		return 0, append(warnings, fmt.Sprintf("%s limit is not positive (%d)", dimension, limit))
	}
	return float64(used) / float64(limit) * 100, warnings
}
