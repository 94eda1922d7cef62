package dynamic

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/unitroute/unitroute/internal/annotations"
	"github.com/unitroute/unitroute/internal/domain"
)

// Build assembles a unit's parsed fragment into a schema-valid document.
//
// A nil document signals deletion: the unit is not active, declared no
// routing intent, or everything it declared was invalid. Defaulting rules:
//
//   - a router with an explicit service reference keeps it, but only when
//     the referenced service is declared (and valid) in the same fragment
//   - with exactly one declared service, routers bind to it implicitly
//   - with no declared service, one is synthesized from the unit name,
//     targeting localhost on the unit's declared port (route.port); a
//     router is dropped when no port can be determined
//   - with two or more declared services an unbound router is ambiguous
//     and is dropped, never guessed
func Build(f *annotations.Fragment, snap *domain.UnitSnapshot) (*Document, []annotations.Diagnostic) {
	if snap == nil || !snap.ActiveState.Routable() {
		return nil, nil
	}
	if f == nil || f.Empty() {
		return nil, nil
	}

	var diags []annotations.Diagnostic

	services := make(map[string]*Service, len(f.Services))
	for name, spec := range f.Services {
		target, err := serverURL(spec)
		if err != nil {
			diags = append(diags, annotations.Diagnostic{
				Key:    "http.services." + name,
				Reason: err.Error(),
			})
			continue
		}
		services[name] = &Service{
			LoadBalancer: &LoadBalancer{Servers: []Server{{URL: target}}},
		}
	}
	declared := len(services)

	routers := make(map[string]*Router, len(f.Routers))
	for name, spec := range f.Routers {
		if spec.Rule == "" {
			diags = append(diags, annotations.Diagnostic{
				Key:    "http.routers." + name,
				Reason: "missing rule",
			})
			continue
		}

		ref := spec.Service
		switch {
		case ref != "":
			if _, ok := services[ref]; !ok {
				diags = append(diags, annotations.Diagnostic{
					Key:    "http.routers." + name,
					Reason: fmt.Sprintf("service %q not declared by this unit", ref),
				})
				continue
			}
		case declared == 1:
			for svcName := range services {
				ref = svcName
			}
		case declared == 0:
			if f.Port == 0 {
				diags = append(diags, annotations.Diagnostic{
					Key:    "http.routers." + name,
					Reason: "no service declared and no route.port to synthesize one",
				})
				continue
			}
			ref = defaultServiceName(snap.Name)
			if _, ok := services[ref]; !ok {
				services[ref] = &Service{
					LoadBalancer: &LoadBalancer{Servers: []Server{{
						URL: fmt.Sprintf("http://localhost:%d", f.Port),
					}}},
				}
			}
		default:
			diags = append(diags, annotations.Diagnostic{
				Key:    "http.routers." + name,
				Reason: fmt.Sprintf("ambiguous: %d services declared and no explicit reference", declared),
			})
			continue
		}

		r := &Router{
			Rule:        spec.Rule,
			EntryPoints: spec.EntryPoints,
			Middlewares: spec.Middlewares,
			Priority:    spec.Priority,
			Service:     ref,
		}
		if spec.TLS {
			r.TLS = &RouterTLS{CertResolver: spec.CertResolver}
		}
		routers[name] = r
	}

	if len(routers) == 0 && len(services) == 0 && len(f.Middlewares) == 0 {
		return nil, diags
	}

	doc := &Document{HTTP: &HTTPConfiguration{}}
	if len(routers) > 0 {
		doc.HTTP.Routers = routers
	}
	if len(services) > 0 {
		doc.HTTP.Services = services
	}
	if len(f.Middlewares) > 0 {
		doc.HTTP.Middlewares = f.Middlewares
	}
	return doc, diags
}

// serverURL resolves a declared service to its target URL. An explicit
// url wins; otherwise the target is assembled from scheme/address/port
// with scheme defaulting to http and address to localhost.
func serverURL(spec *annotations.Service) (string, error) {
	if spec.URL != "" {
		u, err := url.Parse(spec.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "", fmt.Errorf("invalid url %q", spec.URL)
		}
		return spec.URL, nil
	}
	if spec.Port == 0 {
		return "", fmt.Errorf("neither url nor port declared")
	}
	scheme := spec.Scheme
	if scheme == "" {
		scheme = "http"
	}
	address := spec.Address
	if address == "" {
		address = "localhost"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, address, spec.Port), nil
}

// defaultServiceName derives the synthesized service name from the unit
// name. Example: "sleep.service" -> "sleep".
func defaultServiceName(unit string) string {
	name := strings.TrimSuffix(unit, ".service")
	var b strings.Builder
	for _, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9',
			ch == '-', ch == '_', ch == '.':
			b.WriteRune(ch)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}
