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

// Device is a PnP device rule inside a project
//
// ProjectID ties the device to its project; a device has no lifecycle of its
// own. State, StateDisplay, AuthStatus, LastContact, DeviceID,
// LastStateTransitionTime and AttributeInfo are reported by the controller and
// never sent. PKIEnabled and SudiRequired are pointers so that false can be sent
// explicitly.
type Device struct {
	ID        string
	ProjectID string

	SerialNumber         string
	HostName             string
	PlatformID           string
	ImageID              string
	ConfigID             string
	BootStrapID          string
	Site                 string
	Tag                  string
	LicenseString        string
	APCount              string
	IsMobilityController string
	PKIEnabled           *bool
	SudiRequired         *bool
	ImagePreference      string
	ConfigPreference     string

	ConnectedToDeviceID          string
	ConnectedToDeviceHostName    string
	ConnectedToPortID            string
	ConnectedToPortName          string
	ConnectedToLocationCivicAddr string
	ConnectedToLocationGeoAddr   string

	State                   string
	StateDisplay            string
	AuthStatus              string
	LastContact             string
	DeviceID                string
	LastStateTransitionTime string

	// AttributeInfo is the raw JSON of the attributeInfo member
	AttributeInfo string
}

// deviceStringFields maps controller keys to device fields. The controller
// spells the location keys "conneted".
var deviceStringFields = []struct {
	key      string
	writable bool
	field    func(*Device) *string
}{
	{"id", true, func(d *Device) *string { return &d.ID }},
	{"serialNumber", true, func(d *Device) *string { return &d.SerialNumber }},
	{"hostName", true, func(d *Device) *string { return &d.HostName }},
	{"platformId", true, func(d *Device) *string { return &d.PlatformID }},
	{"imageId", true, func(d *Device) *string { return &d.ImageID }},
	{"configId", true, func(d *Device) *string { return &d.ConfigID }},
	{"bootStrapId", true, func(d *Device) *string { return &d.BootStrapID }},
	{"site", true, func(d *Device) *string { return &d.Site }},
	{"tag", true, func(d *Device) *string { return &d.Tag }},
	{"licenseString", true, func(d *Device) *string { return &d.LicenseString }},
	{"apCount", true, func(d *Device) *string { return &d.APCount }},
	{"isMobilityController", true, func(d *Device) *string { return &d.IsMobilityController }},
	{"imagePreference", true, func(d *Device) *string { return &d.ImagePreference }},
	{"configPreference", true, func(d *Device) *string { return &d.ConfigPreference }},
	{"connectedToDeviceId", true, func(d *Device) *string { return &d.ConnectedToDeviceID }},
	{"connectedToDeviceHostName", true, func(d *Device) *string { return &d.ConnectedToDeviceHostName }},
	{"connectedToPortId", true, func(d *Device) *string { return &d.ConnectedToPortID }},
	{"connectedToPortName", true, func(d *Device) *string { return &d.ConnectedToPortName }},
	{"connetedToLocationCivicAddr", true, func(d *Device) *string { return &d.ConnectedToLocationCivicAddr }},
	{"connetedToLocationGeoAddr", true, func(d *Device) *string { return &d.ConnectedToLocationGeoAddr }},
	{"state", false, func(d *Device) *string { return &d.State }},
	{"stateDisplay", false, func(d *Device) *string { return &d.StateDisplay }},
	{"authStatus", false, func(d *Device) *string { return &d.AuthStatus }},
	{"lastContact", false, func(d *Device) *string { return &d.LastContact }},
	{"deviceId", false, func(d *Device) *string { return &d.DeviceID }},
	{"lastStateTransitionTime", false, func(d *Device) *string { return &d.LastStateTransitionTime }},
}

var deviceBoolFields = []struct {
	key   string
	field func(*Device) **bool
}{
	{"pkiEnabled", func(d *Device) **bool { return &d.PKIEnabled }},
	{"sudiRequired", func(d *Device) **bool { return &d.SudiRequired }},
}

// merge copies the keys present in doc into the device
func (d *Device) merge(doc gjson.Result) {
	for _, f := range deviceStringFields {
		if v := doc.Get(f.key); v.Exists() {
			*f.field(d) = v.String()
		}
	}
	for _, f := range deviceBoolFields {
		if v := doc.Get(f.key); v.Exists() {
			b := v.Bool()
			*f.field(d) = &b
		}
	}
	if v := doc.Get("attributeInfo"); v.Exists() {
		d.AttributeInfo = v.Raw
	}
}

// Body returns the device as a request payload holding only the set, writable fields
func (d Device) Body() Body {
	body := Body{}
	for _, f := range deviceStringFields {
		if !f.writable {
			continue
		}
		if v := *f.field(&d); v != "" {
			body = body.Set(f.key, v)
		}
	}
	for _, f := range deviceBoolFields {
		if v := *f.field(&d); v != nil {
			body = body.Set(f.key, *v)
		}
	}
	return body
}

func devicePath(projectID string) string {
	return projectPath + "/" + url.PathEscape(projectID) + "/device"
}

// AddDevice adds a device rule to a project and returns it as stored by the controller
//
// HostName is required. The task is awaited, the new id is read from the ruleId of
// the task progress and the device is read back from the project's device listing.
//
// Example:
//
//	device, err := client.AddDevice(ctx, project.ID, pnp.Device{
//	    HostName:   "switch1",
//	    PlatformID: "WS-C3650-48P",
//	    ImageID:    imageID,
//	    ConfigID:   configID,
//	})
func (c *Client) AddDevice(ctx context.Context, projectID string, device Device) (Device, error) {
	if strings.TrimSpace(projectID) == "" {
		return Device{}, &PnpError{Operation: "AddDevice", Kind: KindValidation, Message: "project id cannot be empty"}
	}
	if strings.TrimSpace(device.HostName) == "" {
		return Device{}, &PnpError{Operation: "AddDevice", Kind: KindValidation, Message: "host name cannot be empty"}
	}

	status, err := c.runTask(ctx, "AddDevice", MethodPost, devicePath(projectID), device.Body().Array())
	if err != nil {
		return Device{}, err
	}

	ruleID, err := status.ResultID("ruleId")
	if err != nil {
		return Device{}, withOperation("AddDevice", err)
	}

	added, err := c.GetDevice(ctx, projectID, ruleID)
	if err != nil {
		return Device{}, withOperation("AddDevice", err)
	}

	c.logger.Info(ctx, "APIC-EM device added",
		"host_name", added.HostName,
		"device_id", added.ID,
		"project_id", projectID)

	return added, nil
}

// UpdateDevice replaces the settable fields of a device rule
//
// ID is required. The task is awaited and the device is read back.
func (c *Client) UpdateDevice(ctx context.Context, projectID string, device Device) (Device, error) {
	if strings.TrimSpace(projectID) == "" {
		return Device{}, &PnpError{Operation: "UpdateDevice", Kind: KindValidation, Message: "project id cannot be empty"}
	}
	if strings.TrimSpace(device.ID) == "" {
		return Device{}, &PnpError{Operation: "UpdateDevice", Kind: KindValidation, Message: "device id cannot be empty"}
	}

	if _, err := c.runTask(ctx, "UpdateDevice", MethodPut, devicePath(projectID), device.Body().Array()); err != nil {
		return Device{}, err
	}

	updated, err := c.GetDevice(ctx, projectID, device.ID)
	if err != nil {
		return Device{}, withOperation("UpdateDevice", err)
	}
	return updated, nil
}

// ListDevices returns every device rule of a project
func (c *Client) ListDevices(ctx context.Context, projectID string) ([]Device, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, &PnpError{Operation: "ListDevices", Kind: KindValidation, Message: "project id cannot be empty"}
	}

	entries, err := c.list(ctx, "ListDevices", devicePath(projectID))
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(entries))
	for _, entry := range entries {
		d := Device{ProjectID: projectID}
		d.merge(entry)
		devices = append(devices, d)
	}
	return devices, nil
}

// GetDevice reads a device rule of a project by id
//
// Returns a KindNotFound error if the project has no device with that id.
func (c *Client) GetDevice(ctx context.Context, projectID, deviceID string) (Device, error) {
	devices, err := c.ListDevices(ctx, projectID)
	if err != nil {
		return Device{}, withOperation("GetDevice", err)
	}

	for _, d := range devices {
		if d.ID == deviceID {
			return d, nil
		}
	}
	return Device{}, &PnpError{
		Operation: "GetDevice",
		Kind:      KindNotFound,
		Message:   fmt.Sprintf("device with id %s not in project %s", deviceID, projectID),
	}
}

// DeleteDevice removes a device rule from a project and waits for the controller task
func (c *Client) DeleteDevice(ctx context.Context, projectID, deviceID string) error {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(deviceID) == "" {
		return &PnpError{Operation: "DeleteDevice", Kind: KindValidation, Message: "project id and device id are required"}
	}

	path := devicePath(projectID) + "/" + url.PathEscape(deviceID)
	if _, err := c.runTask(ctx, "DeleteDevice", MethodDelete, path, nil); err != nil {
		return err
	}

	c.logger.Info(ctx, "APIC-EM device deleted",
		"device_id", deviceID,
		"project_id", projectID)
	return nil
}
