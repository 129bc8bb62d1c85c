// Package deploy pushes the local git revision to every app server of an
// app, one server after another.
package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/onepush/onepush/pkg/engine"
)

// Config describes where an app is deployed.
type Config struct {
	AppID              string   `json:"app_id" yaml:"app_id" validate:"required"`
	User               string   `json:"user,omitempty" yaml:"user,omitempty"`
	AppServerAddresses []string `json:"app_server_addresses" yaml:"app_server_addresses" validate:"required,min=1,dive,required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads the push configuration from a file, an inline JSON
// document or both. Keys from the inline document override the file.
// The deploy user defaults to the app id.
func LoadConfig(file, inline string) (*Config, error) {
	if file == "" && inline == "" {
		return nil, engine.NewConfigurationError("please pass a config file with --config or --config-json", nil).
			WithCode(engine.ErrCodeNoConfig)
	}

	var cfg Config
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read config %s", file), err).
				WithCode(engine.ErrCodeNoConfig)
		}
		switch strings.ToLower(filepath.Ext(file)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &cfg)
		default:
			err = json.Unmarshal(data, &cfg)
		}
		if err != nil {
			return nil, engine.NewConfigurationError(fmt.Sprintf("failed to parse config %s", file), err).
				WithCode(engine.ErrCodeValidation)
		}
	}
	if inline != "" {
		if err := json.Unmarshal([]byte(inline), &cfg); err != nil {
			return nil, engine.NewConfigurationError("failed to parse --config-json", err).
				WithCode(engine.ErrCodeValidation)
		}
	}

	if cfg.User == "" {
		cfg.User = cfg.AppID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the app id and at least one server are set.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return engine.NewInternalError("push config validation failed", err)
	}

	var msgs []string
	for _, fe := range fieldErrs {
		switch {
		case fe.StructNamespace() == "Config.AppID":
			msgs = append(msgs, "The 'app_id' option must be set")
		case strings.HasPrefix(fe.StructNamespace(), "Config.AppServerAddresses"):
			msgs = append(msgs, "The 'app_server_addresses' option must list at least one server")
		default:
			msgs = append(msgs, fmt.Sprintf("invalid config field %s (%s)", fe.Namespace(), fe.Tag()))
		}
	}
	return engine.NewConfigurationError(strings.Join(msgs, "\n"), nil).
		WithCode(engine.ErrCodeValidation).
		WithDetail("violations", msgs)
}
