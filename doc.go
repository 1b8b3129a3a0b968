// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

// Package pnp provides a client for the Plug-and-Play (PnP) provisioning API of
// Cisco APIC-EM.
//
// The library handles the service ticket, JSON payloads, error classification,
// retries of transient failures and the asynchronous task protocol the controller
// uses for every mutation.
//
// # Quick Start
//
//	client, err := pnp.NewClient(
//	    "apic-em.example.com",
//	    pnp.Username("admin"),
//	    pnp.Password("secret"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx := context.Background()
//	project, err := client.CreateProject(ctx, pnp.Project{SiteName: "branch-42"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	device, err := client.AddDevice(ctx, project.ID, pnp.Device{
//	    HostName:   "switch1",
//	    PlatformID: "WS-C3650-48P",
//	})
//
// # Asynchronous Tasks
//
// Project, device and file mutations return a task id. The client polls
// /api/v1/task/{id} until the task reports an end time: one fetch, then up to
// TaskPollRetries re-polls TaskPollInterval apart (10 x 2s by default). The wait
// ends with a typed error of kind KindTaskUnavailable, KindTaskTimeout or
// KindTaskFailed when the task cannot be read, does not finish in time, or
// finishes with an error. The id of the created entity is parsed strictly from
// the JSON object in the task progress:
//
//	res, err := client.WaitForTask(ctx, taskID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	siteID, err := res.Status.ResultID("siteId")
//
// # Files
//
// FileHandler resolves config and image files by name or id and uploads missing ones:
//
//	files := pnp.NewFileHandler(client)
//	imageID, _, err := files.EnsureFile(ctx, "cat3k.bin", "/images/cat3k.bin", pnp.NamespaceImage)
//
// # Error Handling
//
// All errors are *PnpError values. Use IsKind to branch on the failure class:
//
//	_, err := client.GetProjectByName(ctx, "branch-42")
//	switch {
//	case pnp.IsKind(err, pnp.KindNotFound):
//	    // create it
//	case pnp.IsKind(err, pnp.KindServer):
//	    // controller rejected the request, see PnpError.Errors
//	}
//
// Transport errors and HTTP 429/502/503/504 are retried with exponential backoff.
// A rejected ticket (HTTP 401) triggers one new login.
//
// # Raw Requests
//
// Endpoints without a typed wrapper can be called directly; responses are queried
// with gjson paths:
//
//	res, err := client.Get(ctx, "/api/v1/pnp-device", pnp.Query("limit", "10"))
//	for _, d := range res.Get("response").Array() {
//	    fmt.Println(d.Get("serialNumber").String())
//	}
//
// # Thread Safety
//
// Client and FileHandler are safe for concurrent use. The ticket is guarded by
// a read/write mutex and renewed at most once per rejection.
//
// # References
//
//   - gjson: https://github.com/tidwall/gjson
//   - sjson: https://github.com/tidwall/sjson
package pnp
