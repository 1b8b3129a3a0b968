// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

// Command pnp-provision provisions an APIC-EM Plug-and-Play project from a plan.
//
// The plan is read from a YAML file and may be overridden through PNP_ prefixed
// environment variables (PNP_PASSWORD, PNP_PROJECT_SITE_NAME, ...):
//
//	server: apic-em.example.com
//	username: admin
//	verify_certificate: false
//	project:
//	  site_name: Site1
//	image:
//	  name: cat3k_caa-universalk9.SPA.03.07.04.E.152-3.E4.bin
//	  path: /images/cat3k_caa-universalk9.SPA.03.07.04.E.152-3.E4.bin
//	platform_id: WS-C3650-48P
//	config_dir: /configs
//
// The project is created when missing and the image uploaded when missing. Every
// file in config_dir becomes a device named after the file, with the extension
// removed and dots replaced by dashes. Explicit devices may be listed as well.
//
// Exit codes: 0 on success, 1 when the run was aborted (configuration, login,
// project or image), 2 when at least one device could not be added.
//
// Usage:
//
//	pnp-provision --config plan.yaml
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/netascode/go-pnp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	exitOK            = 0
	exitAborted       = 1
	exitDeviceFailure = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	flags := pflag.NewFlagSet("pnp-provision", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	configFile := flags.StringP("config", "c", "", "provisioning plan (YAML)")
	flags.String("server", "", "APIC-EM controller, overrides the plan")
	flags.String("log-level", "", "log level (debug, info, warn, error), overrides the plan")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitAborted
	}

	// used until the plan's logger is configured
	bootstrap := logrus.New()
	bootstrap.SetOutput(stderr)

	plan, err := loadPlan(viper.New(), *configFile, flags)
	if err != nil {
		bootstrap.WithError(err).Error("invalid plan")
		return exitAborted
	}

	logger, err := newLogger(plan.Log, stderr)
	if err != nil {
		bootstrap.WithError(err).Error("invalid log configuration")
		return exitAborted
	}

	client, err := pnp.NewClient(plan.Server, plan.clientOptions(newLogrusAdapter(logger))...)
	if err != nil {
		logger.WithError(err).Error("invalid client configuration")
		return exitAborted
	}

	summary, err := newProvisioner(client, plan, logger).Run(ctx)
	fields := logrus.Fields{
		"added":     summary.Added,
		"existing":  summary.Existing,
		"failed":    summary.Failed,
		"no_config": summary.NoConfig,
	}
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("provisioning aborted")
		return exitAborted
	}

	logger.WithFields(fields).Info("provisioning finished")
	if summary.Failed > 0 {
		return exitDeviceFailure
	}
	return exitOK
}
