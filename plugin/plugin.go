package plugin

// Type is the type of plugin supported by the system.
type Type string

const (
	// Log sets up the process logger.
	Log Type = "log"
	// Metrics reporters.
	Metrics Type = "metrics"
	// Transport dialers and listeners.
	Transport Type = "transport"
)

// Factory is the interface for plugin factories.
type Factory interface {
	// Type returns the plugin type.
	Type() Type
	// Name returns the name of the plugin implementation.
	Name() string
	// ConfigType returns an empty struct that represents the plugin's configuration.
	// This struct will be populated by the manager using mapstructure.
	ConfigType() any
	// Setup initializes a plugin instance based on the configuration.
	Setup(any) (Plugin, error)

	Destroy(Plugin)
}

type Plugin interface {
	FactoryName() string
}

// Validator is implemented by config types that can check themselves.
// The manager validates a decoded config before calling Setup.
type Validator interface {
	Validate() error
}
