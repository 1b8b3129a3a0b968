// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package pnp

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// Project is a PnP provisioning site
//
// Every field is a copy of controller state; the last response read wins.
// Devices is keyed by host name and only filled by GetProject.
type Project struct {
	ID                 string
	State              string
	ProvisionedBy      string
	ProvisionedOn      string
	SiteName           string
	TFTPServer         string
	TFTPPath           string
	Note               string
	DeviceCount        int64
	PendingDeviceCount int64
	DeviceLastUpdate   string
	InstallerUserID    string

	Devices map[string]Device
}

var projectStringFields = []struct {
	key   string
	field func(*Project) *string
}{
	{"id", func(p *Project) *string { return &p.ID }},
	{"state", func(p *Project) *string { return &p.State }},
	{"provisionedBy", func(p *Project) *string { return &p.ProvisionedBy }},
	{"provisionedOn", func(p *Project) *string { return &p.ProvisionedOn }},
	{"siteName", func(p *Project) *string { return &p.SiteName }},
	{"tftpServer", func(p *Project) *string { return &p.TFTPServer }},
	{"tftpPath", func(p *Project) *string { return &p.TFTPPath }},
	{"note", func(p *Project) *string { return &p.Note }},
	{"deviceLastUpdate", func(p *Project) *string { return &p.DeviceLastUpdate }},
	{"installerUserID", func(p *Project) *string { return &p.InstallerUserID }},
}

var projectIntFields = []struct {
	key   string
	field func(*Project) *int64
}{
	{"deviceCount", func(p *Project) *int64 { return &p.DeviceCount }},
	{"pendingDeviceCount", func(p *Project) *int64 { return &p.PendingDeviceCount }},
}

// merge copies the keys present in doc into the project
func (p *Project) merge(doc gjson.Result) {
	for _, f := range projectStringFields {
		if v := doc.Get(f.key); v.Exists() {
			*f.field(p) = v.String()
		}
	}
	for _, f := range projectIntFields {
		if v := doc.Get(f.key); v.Exists() {
			*f.field(p) = v.Int()
		}
	}
}

// Body returns the project as a request payload holding only the set fields
func (p Project) Body() Body {
	body := Body{}
	for _, f := range projectStringFields {
		if v := *f.field(&p); v != "" {
			body = body.Set(f.key, v)
		}
	}
	for _, f := range projectIntFields {
		if v := *f.field(&p); v != 0 {
			body = body.Set(f.key, v)
		}
	}
	return body
}

// DeviceByName returns the loaded device with the given host name
func (p Project) DeviceByName(name string) (Device, error) {
	if d, ok := p.Devices[name]; ok {
		return d, nil
	}
	return Device{}, &PnpError{
		Operation: "DeviceByName",
		Kind:      KindNotFound,
		Message:   fmt.Sprintf("device %q not in project %s", name, p.SiteName),
	}
}

// DeviceByID returns the loaded device with the given id
func (p Project) DeviceByID(id string) (Device, error) {
	for _, d := range p.Devices {
		if d.ID == id {
			return d, nil
		}
	}
	return Device{}, &PnpError{
		Operation: "DeviceByID",
		Kind:      KindNotFound,
		Message:   fmt.Sprintf("device with id %s not in project %s", id, p.SiteName),
	}
}

// CreateProject creates a provisioning site and returns it as stored by the controller
//
// SiteName is required. The creation task is awaited, the new id is read from the
// siteId of the task progress and the project is read back.
//
// Example:
//
//	project, err := client.CreateProject(ctx, pnp.Project{
//	    SiteName:   "branch-42",
//	    TFTPServer: "10.0.0.5",
//	})
//	if err != nil {
//	    return err
//	}
//	fmt.Println("created project", project.ID)
func (c *Client) CreateProject(ctx context.Context, project Project) (Project, error) {
	if strings.TrimSpace(project.SiteName) == "" {
		return Project{}, &PnpError{Operation: "CreateProject", Kind: KindValidation, Message: "site name cannot be empty"}
	}

	status, err := c.runTask(ctx, "CreateProject", MethodPost, projectPath, project.Body().Array())
	if err != nil {
		return Project{}, err
	}

	siteID, err := status.ResultID("siteId")
	if err != nil {
		return Project{}, withOperation("CreateProject", err)
	}

	c.logger.Info(ctx, "APIC-EM project created",
		"site_name", project.SiteName,
		"project_id", siteID)

	created, err := c.GetProject(ctx, siteID)
	if err != nil {
		return Project{}, withOperation("CreateProject", err)
	}
	return created, nil
}

// UpdateProject replaces the settable fields of an existing project
//
// ID is required. The update task is awaited and the project is read back.
func (c *Client) UpdateProject(ctx context.Context, project Project) (Project, error) {
	if strings.TrimSpace(project.ID) == "" {
		return Project{}, &PnpError{Operation: "UpdateProject", Kind: KindValidation, Message: "project id cannot be empty"}
	}

	if _, err := c.runTask(ctx, "UpdateProject", MethodPut, projectPath, project.Body().Array()); err != nil {
		return Project{}, err
	}

	updated, err := c.GetProject(ctx, project.ID)
	if err != nil {
		return Project{}, withOperation("UpdateProject", err)
	}
	return updated, nil
}

// GetProject reads a project by id
//
// Devices are listed as well when the controller reports a non-zero device count.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	if strings.TrimSpace(id) == "" {
		return Project{}, &PnpError{Operation: "GetProject", Kind: KindValidation, Message: "project id cannot be empty"}
	}

	res, err := c.Get(ctx, projectPath+"/"+url.PathEscape(id))
	if err != nil {
		return Project{}, withOperation("GetProject", err)
	}

	doc := res.Response()
	if !doc.IsObject() {
		return Project{}, &PnpError{
			Operation:   "GetProject",
			Kind:        KindDecode,
			StatusCode:  res.StatusCode,
			Message:     "response has no project",
			InternalMsg: truncateBody(res.Body),
		}
	}

	project := Project{ID: id, Devices: make(map[string]Device)}
	project.merge(doc)

	if project.DeviceCount > 0 {
		devices, err := c.ListDevices(ctx, project.ID)
		if err != nil {
			return Project{}, withOperation("GetProject", err)
		}
		for _, d := range devices {
			project.Devices[d.HostName] = d
		}
	}
	return project, nil
}

// GetProjectByName finds a project by site name and reads it with its devices
//
// Returns a KindNotFound error if no project has that site name.
func (c *Client) GetProjectByName(ctx context.Context, name string) (Project, error) {
	projects, err := c.ListProjects(ctx)
	if err != nil {
		return Project{}, withOperation("GetProjectByName", err)
	}

	for _, p := range projects {
		if p.SiteName == name {
			project, err := c.GetProject(ctx, p.ID)
			if err != nil {
				return Project{}, withOperation("GetProjectByName", err)
			}
			return project, nil
		}
	}

	return Project{}, &PnpError{
		Operation: "GetProjectByName",
		Kind:      KindNotFound,
		Message:   fmt.Sprintf("project %q not found", name),
	}
}

// ListProjects returns every project known to the controller, without devices
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	entries, err := c.list(ctx, "ListProjects", projectPath)
	if err != nil {
		return nil, err
	}

	projects := make([]Project, 0, len(entries))
	for _, entry := range entries {
		var p Project
		p.merge(entry)
		projects = append(projects, p)
	}
	return projects, nil
}

// DeleteProject deletes a project and waits for the controller task
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return &PnpError{Operation: "DeleteProject", Kind: KindValidation, Message: "project id cannot be empty"}
	}

	if _, err := c.runTask(ctx, "DeleteProject", MethodDelete, projectPath+"/"+url.PathEscape(id), nil); err != nil {
		return err
	}

	c.logger.Info(ctx, "APIC-EM project deleted",
		"project_id", id)
	return nil
}
