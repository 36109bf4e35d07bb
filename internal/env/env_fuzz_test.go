package env

import (
	"strconv"
	"strings"
	"testing"

	"github.com/loykin/webvisor/internal/process"
)

// FuzzWorkerEnv feeds arbitrary global and per-app variables through
// Worker. The worker identity must survive any input and no pair may come
// out without a key.
func FuzzWorkerEnv(f *testing.F) {
	f.Add("A=1\nB=${A}-x", "C=${B}-y", 2)
	f.Add("WEBVISOR_APP=spoof", "WEBVISOR_SLOT=${WEBVISOR_APP}", 1)
	f.Add("X=$Y", "Y=${X}\n=broken\nnoequals", 7)

	f.Fuzz(func(t *testing.T, global, perApp string, slot int) {
		spec := process.Spec{Name: "edge", Env: lines(perApp, 20)}
		out := FromList(lines(global, 20)).Worker(spec, slot, "qa")

		for _, kv := range out {
			k, _, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				t.Fatalf("bad pair: %q", kv)
			}
		}
		want := map[string]string{VarApp: "edge", VarSlot: strconv.Itoa(slot), VarEnv: "qa"}
		for k, v := range want {
			if got, _ := Lookup(out, k); got != v {
				t.Fatalf("%s = %q, want %q", k, got, v)
			}
		}
	})
}

// lines splits s by newlines, keeping at most n non-empty trimmed lines.
func lines(s string, n int) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" && len(out) < n {
			out = append(out, ln)
		}
	}
	return out
}
