// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/netascode/go-pnp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix prefixes every environment override (PNP_PASSWORD, PNP_PROJECT_SITE_NAME, ...)
const envPrefix = "PNP"

// Plan describes one provisioning run
type Plan struct {
	Server            string        `mapstructure:"server"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	TLS               bool          `mapstructure:"tls"`
	VerifyCertificate bool          `mapstructure:"verify_certificate"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UploadTimeout     time.Duration `mapstructure:"upload_timeout"`

	Task    TaskConfig    `mapstructure:"task"`
	Log     LogConfig     `mapstructure:"log"`
	Project ProjectConfig `mapstructure:"project"`
	Image   ImageConfig   `mapstructure:"image"`

	// PlatformID is used for every device that does not name its own
	PlatformID string `mapstructure:"platform_id"`

	// ConfigDir holds one configuration file per device
	ConfigDir string `mapstructure:"config_dir"`

	// ConfigExtension is appended to a host name to find its configuration file
	ConfigExtension string `mapstructure:"config_extension"`

	Devices []DeviceConfig `mapstructure:"devices"`
}

// TaskConfig tunes the task poller
type TaskConfig struct {
	PollRetries   int           `mapstructure:"poll_retries"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	MaxInterval   time.Duration `mapstructure:"max_interval"`
}

// LogConfig selects the logrus level and formatter
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ProjectConfig is the project to get or create
type ProjectConfig struct {
	SiteName        string `mapstructure:"site_name"`
	TFTPServer      string `mapstructure:"tftp_server"`
	TFTPPath        string `mapstructure:"tftp_path"`
	Note            string `mapstructure:"note"`
	InstallerUserID string `mapstructure:"installer_user_id"`
}

// ImageConfig is the software image assigned to every device
//
// Path is only needed when the image is not yet on the controller.
type ImageConfig struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
}

// DeviceConfig is one explicitly listed device
type DeviceConfig struct {
	HostName     string `mapstructure:"host_name"`
	SerialNumber string `mapstructure:"serial_number"`
	PlatformID   string `mapstructure:"platform_id"`
	Site         string `mapstructure:"site"`
	// Config is the configuration file name, host name plus ConfigExtension when empty
	Config string `mapstructure:"config"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server", "")
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("tls", pnp.DefaultUseTLS)
	v.SetDefault("verify_certificate", pnp.DefaultVerifyCertificate)
	v.SetDefault("request_timeout", pnp.DefaultRequestTimeout)
	v.SetDefault("upload_timeout", 10*time.Minute)

	v.SetDefault("task.poll_retries", pnp.DefaultTaskPollRetries)
	v.SetDefault("task.poll_interval", pnp.DefaultTaskPollInterval)
	v.SetDefault("task.backoff_factor", pnp.DefaultTaskPollBackoffFactor)
	v.SetDefault("task.max_interval", pnp.DefaultTaskPollMaxInterval)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("project.site_name", "")
	v.SetDefault("project.tftp_server", "")
	v.SetDefault("project.tftp_path", "")
	v.SetDefault("project.note", "")
	v.SetDefault("project.installer_user_id", "")

	v.SetDefault("image.name", "")
	v.SetDefault("image.path", "")

	v.SetDefault("platform_id", "")
	v.SetDefault("config_dir", "")
	v.SetDefault("config_extension", ".txt")
}

// loadPlan reads the plan from file, environment and flags, in increasing priority
//
// The file is optional when everything is given through the environment.
func loadPlan(v *viper.Viper, file string, flags *pflag.FlagSet) (Plan, error) {
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, flag := range map[string]string{
			"server":    "server",
			"log.level": "log-level",
		} {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Plan{}, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Plan{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var plan Plan
	if err := v.Unmarshal(&plan); err != nil {
		return Plan{}, fmt.Errorf("decode config: %w", err)
	}
	if err := plan.validate(); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func (p Plan) validate() error {
	var errs []error
	if strings.TrimSpace(p.Server) == "" {
		errs = append(errs, errors.New("server is required"))
	}
	if p.Username == "" || p.Password == "" {
		errs = append(errs, errors.New("username and password are required"))
	}
	if strings.TrimSpace(p.Project.SiteName) == "" {
		errs = append(errs, errors.New("project.site_name is required"))
	}
	if len(p.Devices) == 0 && p.ConfigDir == "" {
		errs = append(errs, errors.New("devices or config_dir is required"))
	}
	for i, d := range p.Devices {
		if strings.TrimSpace(d.HostName) == "" {
			errs = append(errs, fmt.Errorf("devices[%d].host_name is required", i))
		}
	}
	return errors.Join(errs...)
}

// clientOptions maps the plan onto client options
func (p Plan) clientOptions(logger pnp.Logger) []func(*pnp.Client) {
	return []func(*pnp.Client){
		pnp.Username(p.Username),
		pnp.Password(p.Password),
		pnp.TLS(p.TLS),
		pnp.VerifyCertificate(p.VerifyCertificate),
		pnp.RequestTimeout(p.RequestTimeout),
		pnp.TaskPollRetries(p.Task.PollRetries),
		pnp.TaskPollInterval(p.Task.PollInterval),
		pnp.TaskPollBackoffFactor(p.Task.BackoffFactor),
		pnp.TaskPollMaxInterval(p.Task.MaxInterval),
		pnp.WithLogger(logger),
	}
}
