package report

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func sampleReport() *RunReport {
	r := New("agentspec", "test", "generate", false)
	r.Add(
		Entry{File: "b.py", Unit: "g", Line: 9, Outcome: OutcomeInserted},
		Entry{File: "a.py", Unit: "f", Line: 3, Outcome: OutcomeFailed, Reason: "narrative: schema | retry"},
		Entry{File: "a.py", Unit: "e", Line: 1, Outcome: OutcomeSkipped},
		Entry{File: "c.rs", Outcome: OutcomeUnsupported, Reason: "no adapter for rust"},
		Entry{File: "b.py", Unit: "h", Line: 20, Outcome: OutcomeUpdated},
	)
	r.Finalize()
	return r
}

func TestFinalizeCountsAndOrders(t *testing.T) {
	r := sampleReport()
	want := Summary{Processed: 2, Skipped: 1, Unsupported: 1, Failed: 1}
	if r.Summary != want {
		t.Errorf("Summary = %+v, want %+v", r.Summary, want)
	}
	var order []string
	for _, e := range r.Entries {
		order = append(order, e.File+":"+e.Unit)
	}
	if got := strings.Join(order, ","); got != "a.py:e,a.py:f,b.py:g,b.py:h,c.rs:" {
		t.Errorf("order = %s", got)
	}
	if _, err := uuid.Parse(r.RunID); err != nil {
		t.Errorf("run id %q is not a uuid: %v", r.RunID, err)
	}
}

func TestAddIsConcurrencySafe(t *testing.T) {
	r := New("agentspec", "test", "update", false)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Add(Entry{File: "x.py", Outcome: OutcomeUpdated})
		}()
	}
	wg.Wait()
	r.Finalize()
	if r.Summary.Processed != 50 {
		t.Errorf("Processed = %d, want 50", r.Summary.Processed)
	}
}

func TestRenderJSON(t *testing.T) {
	data, err := RenderJSON(sampleReport())
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back["mode"] != "generate" || back["summary"].(map[string]any)["failed"].(float64) != 1 {
		t.Errorf("unexpected JSON: %s", data)
	}
	if _, err := RenderJSON(nil); err == nil {
		t.Error("expected error for nil report")
	}
}

func TestRenderMarkdown(t *testing.T) {
	md := RenderMarkdown(sampleReport())
	for _, want := range []string{
		"## agentspec generate",
		"**Failed:** 1",
		"| a.py:3 | f | failed | narrative: schema \\| retry |",
		"| c.rs |  | unsupported | no adapter for rust |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	if strings.Contains(md, "| a.py:1 | e |") {
		t.Errorf("skipped units should not be listed:\n%s", md)
	}

	dry := New("agentspec", "test", "strip", true)
	dry.Finalize()
	if !strings.Contains(RenderMarkdown(dry), "Dry run") {
		t.Error("dry run notice missing")
	}
}
