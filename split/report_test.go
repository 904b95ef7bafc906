package split

import (
	"reflect"
	"strings"
	"testing"

	"github.com/wippyai/wasm-split/split/internal/fixture"
)

func TestReport(t *testing.T) {
	out := runSplit(t, scenarioB(), fixture.Options{}, DefaultConfig())
	r, err := NewReport(out)
	if err != nil {
		t.Fatalf("NewReport: %v", err)
	}

	want := []Target{MainTarget(), SplitTarget(0), SplitTarget(1), ChunkTarget(0)}
	if len(r.Modules) != len(want) {
		t.Fatalf("report has %d modules, want %d", len(r.Modules), len(want))
	}
	for i, m := range r.Modules {
		if m.Target != want[i] {
			t.Errorf("module %d target = %s, want %s", i, m.Target, want[i])
		}
		if m.Bytes == 0 {
			t.Errorf("module %d has no bytes", i)
		}
	}
	if r.Modules[1].Name != "X" || r.Modules[2].Name != "Y" {
		t.Errorf("split names = %q, %q", r.Modules[1].Name, r.Modules[2].Name)
	}
	if got := r.Modules[3]; got.Funcs != 1 || got.Exports != 1 || got.DataBytes != len(sample) {
		t.Errorf("chunk stats = %+v", got)
	}
	if !reflect.DeepEqual(r.Modules[1].ReliesOnChunks, []int{0}) {
		t.Errorf("split X relies on %v", r.Modules[1].ReliesOnChunks)
	}

	if len(r.Chunks) != 1 {
		t.Fatalf("chunks = %+v", r.Chunks)
	}
	c := r.Chunks[0]
	if len(c.Members) != len(out.Plan.Chunks[0]) || c.Members[0] != "Shared" {
		t.Errorf("chunk members = %v", c.Members)
	}
	if !reflect.DeepEqual(c.Users, []int{0, 1}) {
		t.Errorf("chunk users = %v", c.Users)
	}

	var b strings.Builder
	if err := r.WriteText(&b); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	text := b.String()
	for _, s := range []string{
		"TARGET",
		"chunk 0 (",
		"used by splits 0,1",
		"  Shared\n",
	} {
		if !strings.Contains(text, s) {
			t.Errorf("report missing %q:\n%s", s, text)
		}
	}
	if strings.Contains(text, "missing from the bindgened module") {
		t.Errorf("report mentions untranslated symbols:\n%s", text)
	}
}
