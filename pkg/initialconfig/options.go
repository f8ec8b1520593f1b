package initialconfig

type ConfigOptions struct {
	// Validation - call Validate after loading, default true
	Validation bool
	// EnvPath - directory of the .env file, default working directory
	EnvPath string
}

type ConfigOption func(*ConfigOptions)

func WithValidation(v bool) ConfigOption {
	return func(o *ConfigOptions) {
		o.Validation = v
	}
}

func WithEnvPath(p string) ConfigOption {
	return func(o *ConfigOptions) {
		o.EnvPath = p
	}
}
