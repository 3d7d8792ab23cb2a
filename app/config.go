package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/freesocial/lia"
)

// coreServiceSuffix is appended to the base service name to form the
// core service name, when none is configured.
const coreServiceSuffix = ".Lia.Core"

// Config is the configuration of an Application.
type Config struct {
	// ServiceName is the well-known name the application owns on
	// each of its buses. If empty, no name is requested.
	ServiceName string `toml:"service_name" envconfig:"LIA_SERVICE_NAME"`
	// BaseServiceName is the name prefix shared by the services of
	// one deployment, such as "org.example".
	BaseServiceName string `toml:"base_service_name" envconfig:"LIA_BASE_SERVICE_NAME"`
	// CoreServiceName is the name of the core service. It defaults
	// to BaseServiceName + ".Lia.Core".
	CoreServiceName string `toml:"core_service_name" envconfig:"LIA_CORE_SERVICE_NAME"`

	PrivateBusAddress   string `toml:"private_bus_address" envconfig:"LIA_PRIVATE_BUS_ADDRESS"`
	ProtectedBusAddress string `toml:"protected_bus_address" envconfig:"LIA_PROTECTED_BUS_ADDRESS"`
	PublicBusAddress    string `toml:"public_bus_address" envconfig:"LIA_PUBLIC_BUS_ADDRESS"`
}

// LoadConfig reads the TOML file at path, if path is not empty, and
// then applies overrides from LIA_* environment variables.
func LoadConfig(path string) (*Config, error) {
	var c Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &c); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}
	c.ServiceName = strings.TrimSpace(c.ServiceName)
	c.BaseServiceName = strings.TrimSpace(c.BaseServiceName)
	c.CoreServiceName = strings.TrimSpace(c.CoreServiceName)
	if c.CoreServiceName == "" && c.BaseServiceName != "" {
		c.CoreServiceName = c.BaseServiceName + coreServiceSuffix
	}
	return &c, nil
}

// Address returns the configured address of the given bus, or the
// empty string if that bus is not used.
func (c *Config) Address(bus BusType) string {
	switch bus {
	case Private:
		return c.PrivateBusAddress
	case Protected:
		return c.ProtectedBusAddress
	case Public:
		return c.PublicBusAddress
	default:
		return ""
	}
}

// Validate checks that the configuration can be used to run an
// Application.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseServiceName == "" {
		errs = append(errs, errors.New("LIA_BASE_SERVICE_NAME is required"))
	}
	names := []struct {
		key, val string
	}{
		{"LIA_SERVICE_NAME", c.ServiceName},
		{"LIA_BASE_SERVICE_NAME", c.BaseServiceName},
		{"LIA_CORE_SERVICE_NAME", c.CoreServiceName},
	}
	for _, n := range names {
		if n.val == "" {
			continue
		}
		if strings.HasPrefix(n.val, ":") {
			errs = append(errs, fmt.Errorf("%s must be a well-known name, got %q", n.key, n.val))
		} else if err := lia.ValidBusName(n.val); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.key, err))
		}
	}
	configured := 0
	for _, bus := range AllBuses {
		if c.Address(bus) != "" {
			configured++
		}
	}
	if configured == 0 {
		errs = append(errs, errors.New("no bus address configured"))
	}
	return errors.Join(errs...)
}
