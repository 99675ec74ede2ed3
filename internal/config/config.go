// Package config handles input from etc/*.toml files
package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// EnvConfigJSON names the environment variable holding a JSON config override.
const EnvConfigJSON = "DIRSYNC_CONFIG_JSON"

// ReadConfig from config file.
func ReadConfig(path string) (Config, error) {
	var (
		c             Config
		JSONConfigEnv string
		err           error
	)

	// Read main configuration
	if path == "" {
		path = "./etc/"
	}

	if _, err = toml.DecodeFile(path+"main.toml", &c); err != nil {
		return Config{}, errors.Wrap(err, "failed to read main config file")
	}

	// override it from env
	JSONConfigEnv = os.Getenv(EnvConfigJSON)

	if JSONConfigEnv != "" {
		c, err = decodeAndMergeConfig(c, JSONConfigEnv)
		if err != nil {
			return c, err
		}
	}

	applyDefaults(&c)

	return c, validate(&c)
}

func decodeAndMergeConfig(c Config, configAsJSON string) (Config, error) {
	err := json.Unmarshal([]byte(configAsJSON), &c)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read json config override")
	}

	return c, nil
}

// DumpConfig config as TOML String.
func DumpConfig(c Config) (string, error) {
	var buffer bytes.Buffer
	t := toml.NewEncoder(&buffer)

	if err := t.Encode(c); err != nil {
		return "", err //nolint: wrapcheck
	}

	return buffer.String(), nil
}

// DumpConfigJSON config as JSON String.
func DumpConfigJSON(c Config) (string, error) {
	var buffer bytes.Buffer
	j := json.NewEncoder(&buffer)
	j.SetIndent("", "  ")

	if err := j.Encode(c); err != nil {
		return "", err //nolint: wrapcheck
	}

	return buffer.String(), nil
}

// Subsystem returns the configured subsystem with the given name.
func (c *Config) Subsystem(name string) (Subsystem, bool) {
	for _, s := range c.Subsystems {
		if s.Name == name {
			return s, true
		}
	}

	return Subsystem{}, false
}

func applyDefaults(c *Config) {
	if c.Webserver.ShutDownTime == 0 {
		c.Webserver.ShutDownTime = 5 // set default of 5 seconds
	}

	setDefault(&c.Webserver.CheckAliveURI, "/checkalive")
	setDefault(&c.Webserver.MetricsURI, "/metrics")
	setDefault(&c.DB.GormEngine, "mysql")

	c.Directory.ApplyDefaults()

	for i := range c.Subsystems {
		c.Subsystems[i].ApplyDefaults()
	}

	if c.Jobs.Workers == 0 {
		c.Jobs.Workers = 4
	}

	if c.Jobs.PollInterval == 0 {
		c.Jobs.PollInterval = 5
	}

	if c.Jobs.BatchSize == 0 {
		c.Jobs.BatchSize = 50
	}

	if c.Jobs.MaxAttempts == 0 {
		c.Jobs.MaxAttempts = 5
	}

	if c.Jobs.RetryDelay == 0 {
		c.Jobs.RetryDelay = 30
	}

	if c.Jobs.SweepBatch == 0 {
		c.Jobs.SweepBatch = 100
	}

	if c.Permissions.ExpireAfterDays == 0 {
		c.Permissions.ExpireAfterDays = 30
	}
}

// validate checks struct tags first and the cross field rules afterwards.
func validate(c *Config) error {
	invalidErrMessage := "invalid config"

	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, invalidErrMessage)
	}

	if c.Webserver.Enabled && c.Webserver.Port == 0 {
		return errors.Wrap(ErrWebServerPortCanNotBeZero, invalidErrMessage)
	}

	switch c.DB.GormEngine {
	case "mysql", "postgres", "sqlite":
	default:
		return errors.Wrap(ErrUnsupportedGormEngine, invalidErrMessage)
	}

	if len(c.Subsystems) == 0 {
		return errors.Wrap(ErrNoSubsystems, invalidErrMessage)
	}

	names := make(map[string]struct{}, len(c.Subsystems))

	for _, s := range c.Subsystems {
		if _, ok := names[s.Name]; ok {
			return errors.Wrapf(ErrDuplicateSubsystem, "%s: %s", invalidErrMessage, s.Name)
		}

		names[s.Name] = struct{}{}
	}

	for _, r := range c.Permissions.Rules {
		if _, ok := names[r.Subsystem]; !ok {
			return errors.Wrapf(ErrUnknownRuleSubsystem, "%s: %s", invalidErrMessage, r.Subsystem)
		}
	}

	return nil
}
