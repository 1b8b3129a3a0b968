// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/netascode/go-pnp"
	"github.com/sirupsen/logrus"
)

// Summary counts the outcome of a provisioning run
type Summary struct {
	Added    int
	Existing int
	Failed   int
	// NoConfig counts devices added without a configuration file
	NoConfig int
}

// deviceEntry is one device to add, resolved from the plan
type deviceEntry struct {
	hostName   string
	configName string
	configPath string
	device     pnp.Device
}

type provisioner struct {
	client *pnp.Client
	files  *pnp.FileHandler
	plan   Plan
	log    *logrus.Entry
}

func newProvisioner(client *pnp.Client, plan Plan, logger *logrus.Logger) *provisioner {
	return &provisioner{
		client: client,
		files:  pnp.NewFileHandler(client),
		plan:   plan,
		log:    logger.WithField("site_name", plan.Project.SiteName),
	}
}

// Run provisions the project
//
// A returned error means the run was aborted before devices were processed, or
// the context was canceled. Device failures are only counted.
func (p *provisioner) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	if _, err := p.client.Login(ctx); err != nil {
		return summary, fmt.Errorf("login: %w", err)
	}

	project, err := p.ensureProject(ctx)
	if err != nil {
		return summary, err
	}

	imageID, err := p.ensureImage(ctx)
	if err != nil {
		return summary, err
	}

	entries, err := p.deviceEntries()
	if err != nil {
		return summary, err
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		log := p.log.WithField("host_name", e.hostName)

		if existing, err := project.DeviceByName(e.hostName); err == nil {
			log.WithField("device_id", existing.ID).Info("device already in project")
			summary.Existing++
			continue
		}

		configID, err := p.resolveConfig(ctx, e)
		if err != nil {
			log.WithError(err).Error("cannot resolve configuration file")
			summary.Failed++
			continue
		}
		if configID == "" {
			log.WithField("config", e.configName).Warn("creating device without a config file")
			summary.NoConfig++
		}

		device := e.device
		device.ImageID = imageID
		device.ConfigID = configID

		added, err := p.client.AddDevice(ctx, project.ID, device)
		if err != nil {
			log.WithError(err).Error("cannot add device")
			summary.Failed++
			continue
		}
		log.WithField("device_id", added.ID).Info("device added")
		summary.Added++
	}

	return summary, nil
}

// ensureProject returns the project of the plan, creating it when it does not exist
func (p *provisioner) ensureProject(ctx context.Context) (pnp.Project, error) {
	cfg := p.plan.Project

	project, err := p.client.GetProjectByName(ctx, cfg.SiteName)
	if err == nil {
		p.log.WithFields(logrus.Fields{
			"project_id": project.ID,
			"devices":    len(project.Devices),
		}).Info("using existing project")
		return project, nil
	}
	if !pnp.IsKind(err, pnp.KindNotFound) {
		return pnp.Project{}, fmt.Errorf("look up project: %w", err)
	}

	project, err = p.client.CreateProject(ctx, pnp.Project{
		SiteName:        cfg.SiteName,
		TFTPServer:      cfg.TFTPServer,
		TFTPPath:        cfg.TFTPPath,
		Note:            cfg.Note,
		InstallerUserID: cfg.InstallerUserID,
	})
	if err != nil {
		return pnp.Project{}, fmt.Errorf("create project: %w", err)
	}
	p.log.WithField("project_id", project.ID).Info("project created")
	return project, nil
}

// ensureImage resolves the image id, uploading the image when a path is configured
func (p *provisioner) ensureImage(ctx context.Context) (string, error) {
	img := p.plan.Image
	if img.Name == "" {
		return "", nil
	}

	if img.Path == "" {
		id, err := p.files.FileIDByName(ctx, img.Name, pnp.NamespaceImage)
		if err != nil {
			return "", fmt.Errorf("look up image: %w", err)
		}
		return id, nil
	}

	id, uploaded, err := p.files.EnsureFile(ctx, img.Name, img.Path, pnp.NamespaceImage,
		pnp.Timeout(p.plan.UploadTimeout))
	if err != nil {
		return "", fmt.Errorf("ensure image: %w", err)
	}
	if uploaded {
		p.log.WithFields(logrus.Fields{"image": img.Name, "image_id": id}).Info("image uploaded")
	}
	return id, nil
}

// deviceEntries lists the listed devices followed by one device per file in ConfigDir
//
// Files already referenced by a listed device are not added twice, and the first
// entry wins when two map to the same host name. Hidden files and directories
// are skipped.
func (p *provisioner) deviceEntries() ([]deviceEntry, error) {
	ext := p.plan.ConfigExtension
	var entries []deviceEntry
	seen := make(map[string]bool)
	hosts := make(map[string]string)

	for _, d := range p.plan.Devices {
		configName := d.Config
		if configName == "" {
			configName = d.HostName + ext
		}
		platform := d.PlatformID
		if platform == "" {
			platform = p.plan.PlatformID
		}

		host := deviceName(d.HostName)
		if first, dup := hosts[host]; dup {
			p.log.WithFields(logrus.Fields{"host_name": host, "device": d.HostName, "first": first}).
				Warn("skipping device with duplicate host name")
			continue
		}
		hosts[host] = d.HostName

		e := deviceEntry{
			hostName:   host,
			configName: configName,
			device: pnp.Device{
				HostName:     host,
				SerialNumber: d.SerialNumber,
				PlatformID:   platform,
				Site:         d.Site,
			},
		}
		if p.plan.ConfigDir != "" {
			e.configPath = filepath.Join(p.plan.ConfigDir, configName)
		}
		entries = append(entries, e)
		seen[configName] = true
	}

	if p.plan.ConfigDir == "" {
		return entries, nil
	}

	dir, err := os.ReadDir(p.plan.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("read config_dir: %w", err)
	}
	names := make([]string, 0, len(dir))
	for _, f := range dir {
		if f.IsDir() || strings.HasPrefix(f.Name(), ".") || seen[f.Name()] {
			continue
		}
		names = append(names, f.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		host := deviceName(strings.TrimSuffix(name, ext))
		if first, dup := hosts[host]; dup {
			p.log.WithFields(logrus.Fields{"host_name": host, "config": name, "first": first}).
				Warn("skipping config file with duplicate host name")
			continue
		}
		hosts[host] = name

		entries = append(entries, deviceEntry{
			hostName:   host,
			configName: name,
			configPath: filepath.Join(p.plan.ConfigDir, name),
			device: pnp.Device{
				HostName:   host,
				PlatformID: p.plan.PlatformID,
			},
		})
	}
	return entries, nil
}

// resolveConfig returns the id of the entry's configuration file, uploading it
// when it only exists locally
//
// An empty id without error means no configuration file exists anywhere.
func (p *provisioner) resolveConfig(ctx context.Context, e deviceEntry) (string, error) {
	id, err := p.files.FileIDByName(ctx, e.configName, pnp.NamespaceConfig)
	if err == nil {
		return id, nil
	}
	if !pnp.IsKind(err, pnp.KindNotFound) {
		return "", err
	}

	if e.configPath == "" {
		return "", nil
	}
	if _, statErr := os.Stat(e.configPath); errors.Is(statErr, os.ErrNotExist) {
		return "", nil
	}

	info, err := p.files.Upload(ctx, e.configPath, pnp.NamespaceConfig)
	if err != nil {
		return "", err
	}
	p.log.WithFields(logrus.Fields{"config": info.Name, "config_id": info.ID}).Info("config uploaded")
	return info.ID, nil
}

// deviceName turns a file or host name into a valid device host name
func deviceName(name string) string {
	return strings.ReplaceAll(name, ".", "-")
}
