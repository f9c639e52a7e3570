package quota

import "testing"

func defaultLimits() Limits {
	return Limits{
		Daily:             350,
		Monthly:           5000,
		WarningThreshold:  0.60,
		CriticalThreshold: 0.85,
	}
}

func TestEvaluateStatusBands(t *testing.T) {
	cases := []struct {
		name  string
		usage Usage
		want  Status
	}{
		{"idle", Usage{Daily: 0, Monthly: 0}, StatusOK},
		{"below warning", Usage{Daily: 200, Monthly: 2000}, StatusOK},
		{"daily warning", Usage{Daily: 250, Monthly: 100}, StatusWarning},
		{"monthly warning", Usage{Daily: 10, Monthly: 3500}, StatusWarning},
		{"daily critical", Usage{Daily: 300, Monthly: 100}, StatusCritical},
		{"monthly critical", Usage{Daily: 10, Monthly: 4900}, StatusCritical},
		{"over daily limit", Usage{Daily: 400, Monthly: 400}, StatusCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := Evaluate(tc.usage, defaultLimits())
			if ev.Status != tc.want {
				t.Fatalf("status = %s, want %s (daily %.1f%%, monthly %.1f%%)",
					ev.Status, tc.want, ev.DailyPct, ev.MonthlyPct)
			}
		})
	}
}

func TestEvaluateBlockBoundary(t *testing.T) {
	limits := defaultLimits()

	if ev := Evaluate(Usage{Daily: 349}, limits); ev.RecommendBlock {
		t.Fatalf("349/350 recommended block (%.4f%%)", ev.DailyPct)
	}
	if ev := Evaluate(Usage{Daily: 350}, limits); !ev.RecommendBlock {
		t.Fatalf("350/350 did not recommend block (%.4f%%)", ev.DailyPct)
	}
	if ev := Evaluate(Usage{Daily: 351}, limits); !ev.RecommendBlock {
		t.Fatal("351/350 did not recommend block")
	}
}

func TestEvaluateMonthlyIsAdvisory(t *testing.T) {
	ev := Evaluate(Usage{Daily: 10, Monthly: 9000}, defaultLimits())
	if ev.RecommendBlock {
		t.Fatal("monthly overrun alone must not recommend block")
	}
	if ev.Status != StatusCritical {
		t.Fatalf("status = %s, want CRITICAL", ev.Status)
	}
}

func TestEvaluateNonPositiveLimit(t *testing.T) {
	limits := defaultLimits()
	limits.Daily = 0

	ev := Evaluate(Usage{Daily: 1000, Monthly: 10}, limits)
	if ev.DailyPct != 0 {
		t.Fatalf("daily pct = %.2f, want 0 for disabled limit", ev.DailyPct)
	}
	if ev.RecommendBlock {
		t.Fatal("disabled daily limit must never block")
	}
	if len(ev.ConfigWarnings) != 1 {
		t.Fatalf("config warnings = %v, want one entry", ev.ConfigWarnings)
	}
	if ev.Status != StatusOK {
		t.Fatalf("status = %s, want OK", ev.Status)
	}
}
