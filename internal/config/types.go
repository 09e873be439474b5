package config

// Descriptor is the dev server configuration: the plugins to register and
// the network behavior of the development server.
type Descriptor struct {
	Plugins []PluginSpec `yaml:"plugins,omitempty" json:"plugins,omitempty"`
	Root    string       `yaml:"root,omitempty"    json:"root,omitempty"`
	Base    string       `yaml:"base,omitempty"    json:"base,omitempty"`
	Server  ServerConfig `yaml:"server"            json:"server"`
}

// PluginSpec identifies a plugin and its options. Plugins run in list order.
type PluginSpec struct {
	Name    string            `yaml:"name"              json:"name"`
	Options map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

// ServerConfig controls the development server.
type ServerConfig struct {
	Host       string               `yaml:"host,omitempty"       json:"host,omitempty"`
	Port       int                  `yaml:"port,omitempty"       json:"port,omitempty"`
	Frontend   string               `yaml:"frontend,omitempty"   json:"frontend,omitempty"`
	Proxy      map[string]ProxyRule `yaml:"proxy,omitempty"      json:"proxy,omitempty"`
	Health     HealthConfig         `yaml:"health,omitempty"     json:"health,omitempty"`
	Kubernetes *KubernetesConfig    `yaml:"kubernetes,omitempty" json:"kubernetes,omitempty"`
}

// ProxyRule forwards requests whose path starts with the rule's key.
type ProxyRule struct {
	Target       string            `yaml:"target"                json:"target"`
	ChangeOrigin bool              `yaml:"changeOrigin"          json:"changeOrigin"`
	StripPrefix  bool              `yaml:"stripPrefix,omitempty" json:"stripPrefix,omitempty"`
	WS           bool              `yaml:"ws,omitempty"          json:"ws,omitempty"`
	Timeout      string            `yaml:"timeout,omitempty"     json:"timeout,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"     json:"headers,omitempty"`
}

// HealthConfig controls upstream reachability probes.
type HealthConfig struct {
	Interval string `yaml:"interval,omitempty" json:"interval,omitempty"`
	Path     string `yaml:"path,omitempty"     json:"path,omitempty"`
}

// KubernetesConfig enables EndpointSlice readiness tracking for proxy
// targets that name in-cluster services.
type KubernetesConfig struct {
	Namespace string `yaml:"namespace" json:"namespace"`
}
