package annotations

// Fragment is the parsed, per-unit intermediate representation of routing
// intent, before validation and defaulting. Invalid entries never make it
// in here; the parser reports them as diagnostics instead.
type Fragment struct {
	Routers     map[string]*Router
	Services    map[string]*Service
	Middlewares map[string]map[string]interface{}

	// Port is the unit-level declared port (route.port). It is used to
	// synthesize a default service when no service is declared.
	// 0 means not declared.
	Port int
}

func NewFragment() *Fragment {
	return &Fragment{
		Routers:     make(map[string]*Router),
		Services:    make(map[string]*Service),
		Middlewares: make(map[string]map[string]interface{}),
	}
}

// Empty reports whether the fragment carries no routing intent at all.
// An empty fragment means: no output file for this unit.
func (f *Fragment) Empty() bool {
	return len(f.Routers) == 0 && len(f.Services) == 0 && len(f.Middlewares) == 0
}

// Router is a declared router before defaulting. Service may be empty,
// in which case the builder binds or synthesizes one.
type Router struct {
	Rule         string
	EntryPoints  []string
	Middlewares  []string
	Service      string
	Priority     int
	TLS          bool
	CertResolver string
}

// Service is a declared backend. Either URL is set, or the target is
// assembled from Scheme/Address/Port with documented defaults.
type Service struct {
	URL     string
	Address string
	Scheme  string
	Port    int
}

// Diagnostic records a single dropped annotation entry. Diagnostics are
// surfaced out-of-band (warn logs); they never fail the unit.
type Diagnostic struct {
	Key    string
	Reason string
}
