package health

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestCheckReportsSelf(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 2, 6, 14, 30, 0, 0, time.UTC))
	probe := NewProbe(clk)
	clk.Add(90 * time.Second)

	st := probe.Check()
	if st.Status != "ok" {
		t.Errorf("status = %q", st.Status)
	}
	if st.UptimeSeconds != 90 {
		t.Errorf("uptime = %d, want 90", st.UptimeSeconds)
	}
	if st.Observer.PID != os.Getpid() {
		t.Errorf("pid = %d, want %d", st.Observer.PID, os.Getpid())
	}
	if st.Observer.Goroutines < 1 {
		t.Errorf("goroutines = %d", st.Observer.Goroutines)
	}
	if st.Observer.MemMB < 0 {
		t.Errorf("mem_mb = %v", st.Observer.MemMB)
	}
}

func TestStatusWireNames(t *testing.T) {
	data, err := json.Marshal(Status{Status: "ok"})
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"status"`, `"uptime_seconds"`, `"observer"`, `"pid"`, `"cpu_percent"`, `"mem_mb"`, `"goroutines"`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("payload missing %s: %s", field, data)
		}
	}
}
