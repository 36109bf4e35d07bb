package env

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/loykin/webvisor/internal/process"
)

// Variables every worker receives.
const (
	VarApp  = "WEBVISOR_APP"
	VarSlot = "WEBVISOR_SLOT"
	VarEnv  = "WEBVISOR_ENV"
)

type Var map[string]string

type Env struct {
	Var Var // global variables (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromList builds an Env whose globals are the "K=V" entries of kvs.
func FromList(kvs []string) *Env {
	e := New()
	for k, v := range parse(kvs) {
		e.Var[k] = v
	}
	return e
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.env = parse(os.Environ())
}

// WithSet returns a copy of e with K=V added to the globals.
func (e *Env) WithSet(k, v string) *Env {
	out := &Env{Var: make(Var, len(e.Var)+1), env: e.env}
	for key, val := range e.Var {
		out.Var[key] = val
	}
	out.Var[k] = v
	return out
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Unset removes a global variable.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Merge composes the final environment list applying order:
// base = OS env (or cached)
// then apply global e.Var overrides
// then apply perProc (slice of "K=V") overrides
// Returns the sorted environment slice in "K=V" form, with ${VAR} expansion
// performed using the composed map (simple expansion, no recursion).
func (e *Env) Merge(perProc []string) []string {
	// start from OS or cached
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var)
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for k, v := range parse(perProc) {
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// Worker returns the environment of one worker slot: the merged
// environment plus the application's variables and the webvisor ones, which
// cannot be overridden.
func (e *Env) Worker(spec process.Spec, slot int, environment string) []string {
	per := make([]string, 0, len(spec.Env)+3)
	per = append(per, spec.Env...)
	per = append(per,
		VarApp+"="+spec.Name,
		VarSlot+"="+strconv.Itoa(slot),
		VarEnv+"="+environment,
	)
	return e.Merge(per)
}

// Lookup returns the value of key in a "K=V" list; the last entry wins.
func Lookup(kvs []string, key string) (string, bool) {
	v, ok := parse(kvs)[key]
	return v, ok
}

func parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" { // skip malformed entries with empty key
				continue
			}
			m[k] = kv[i+1:]
		}
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	// simple ${VAR} expansion; iterate over keys present
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
