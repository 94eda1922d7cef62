package dynamic

import "gopkg.in/yaml.v3"

// Document is one unit's finalized dynamic configuration, shaped for the
// reverse proxy's file provider: top-level http section with routers,
// services and middlewares keyed by name.
type Document struct {
	HTTP *HTTPConfiguration `yaml:"http"`
}

type HTTPConfiguration struct {
	Routers     map[string]*Router                `yaml:"routers,omitempty"`
	Services    map[string]*Service               `yaml:"services,omitempty"`
	Middlewares map[string]map[string]interface{} `yaml:"middlewares,omitempty"`
}

type Router struct {
	EntryPoints []string   `yaml:"entryPoints,omitempty"`
	Middlewares []string   `yaml:"middlewares,omitempty"`
	Rule        string     `yaml:"rule"`
	Priority    int        `yaml:"priority,omitempty"`
	Service     string     `yaml:"service"`
	TLS         *RouterTLS `yaml:"tls,omitempty"`
}

type RouterTLS struct {
	CertResolver string `yaml:"certResolver,omitempty"`
}

type Service struct {
	LoadBalancer *LoadBalancer `yaml:"loadBalancer"`
}

type LoadBalancer struct {
	Servers []Server `yaml:"servers"`
}

type Server struct {
	URL string `yaml:"url"`
}

// Marshal serializes the document to YAML. Output is deterministic for a
// given document: yaml.v3 sorts map keys, which keeps content hashes
// stable across rebuilds.
func (d *Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}
