package configuration

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/bartossh/Ledgerlink/client"
	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/signshare"
	"github.com/bartossh/Ledgerlink/txstore"
)

// Environment variables overriding the operator set in the yaml file.
const (
	EnvOperatorID      = "LEDGERLINK_OPERATOR_ID"
	EnvOperatorKey     = "LEDGERLINK_OPERATOR_KEY"
	EnvOperatorKeyFile = "LEDGERLINK_OPERATOR_KEY_FILE"
	EnvSignShareToken  = "LEDGERLINK_NATS_TOKEN"
)

// Log configures the logger.
type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Telemetry configures the prometheus endpoint, a zero port disables it.
type Telemetry struct {
	Port int `yaml:"port"`
}

// Configuration is the main configuration of the application that corresponds to the *.yaml file
// that holds the configuration.
type Configuration struct {
	Client    client.Config    `yaml:"client"`
	Store     txstore.Config   `yaml:"store"`
	SignShare signshare.Config `yaml:"sign_share"`
	Telemetry Telemetry        `yaml:"telemetry"`
	Log       Log              `yaml:"log"`
}

// Read reads the configuration from the file and returns the Configuration with set fields according to the yaml setup.
func Read(path string) (Configuration, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, err
	}

	var main Configuration
	err = yaml.Unmarshal(buf, &main)
	if err != nil {
		return Configuration{}, fmt.Errorf("in file %q: %w", path, err)
	}

	return main, err
}

// LoadEnv reads the .env files, when given, and applies the operator overrides found there or
// in the process environment. Variables already set in the process environment take precedence.
func (c *Configuration) LoadEnv(files ...string) error {
	env := make(map[string]string)
	if len(files) > 0 {
		read, err := godotenv.Read(files...)
		if err != nil {
			return err
		}
		env = read
	}
	lookup := func(name string) (string, bool) {
		if v, ok := os.LookupEnv(name); ok {
			return v, true
		}
		v, ok := env[name]
		return v, ok
	}

	if v, ok := lookup(EnvOperatorID); ok {
		id, err := ids.ParseAccountID(v)
		if err != nil {
			return errors.Join(fmt.Errorf("variable %s", EnvOperatorID), err)
		}
		c.Client.OperatorAccountID = id
	}
	if v, ok := lookup(EnvOperatorKey); ok {
		c.Client.OperatorKey = v
		c.Client.OperatorKeyFile = ""
	}
	if v, ok := lookup(EnvOperatorKeyFile); ok && c.Client.OperatorKey == "" {
		c.Client.OperatorKeyFile = v
	}
	if v, ok := lookup(EnvSignShareToken); ok {
		c.SignShare.Token = v
	}
	return nil
}
