package config

// fileSchema is the on-disk shape. Durations are kept as strings so the file
// stays readable ("100ms" rather than 100000000).
type fileSchema struct {
	Version   int           `toml:"version"`
	ServerURL string        `toml:"server_url"`
	Model     string        `toml:"model"`
	Workdir   string        `toml:"workdir,omitempty"`
	Aider     aiderSchema   `toml:"aider"`
	Auth      authSchema    `toml:"auth"`
	Secrets   SecretsConfig `toml:"secrets"`
	Log       LogConfig     `toml:"log"`
}

type aiderSchema struct {
	Candidates   []string `toml:"candidates"`
	Flags        []string `toml:"flags"`
	PollInterval string   `toml:"poll_interval"`
	ProbeTimeout string   `toml:"probe_timeout"`
}

type authSchema struct {
	RefreshSkew string `toml:"refresh_skew"`
}

func toFile(c Config) fileSchema {
	version := c.Version
	if version == 0 {
		version = currentSchemaVersion
	}

	return fileSchema{
		Version:   version,
		ServerURL: c.ServerURL,
		Model:     c.Model,
		Workdir:   c.Workdir,
		Aider: aiderSchema{
			Candidates:   c.Aider.Candidates,
			Flags:        c.Aider.Flags,
			PollInterval: c.Aider.PollInterval.String(),
			ProbeTimeout: c.Aider.ProbeTimeout.String(),
		},
		Auth:    authSchema{RefreshSkew: c.Auth.RefreshSkew.String()},
		Secrets: c.Secrets,
		Log:     c.Log,
	}
}
