// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

// Package apicemtest provides an in-memory APIC-EM controller for tests.
//
// The server implements the ticket, task, file and PnP project/device endpoints
// with the controller's envelope and asynchronous task semantics. Hooks allow
// tests to delay task completion, fail tasks, inject transient errors and expire
// the service ticket.
package apicemtest

import (
	"crypto/md5"  //nolint:gosec // checksum reported by the controller
	"crypto/sha1" //nolint:gosec // checksum reported by the controller
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Default credentials accepted by the ticket endpoint
const (
	DefaultUsername = "admin"
	DefaultPassword = "secret"
)

type task struct {
	id            string
	serviceType   string
	progress      string
	failureReason string
	polls         int
	pending       int
}

// Server is a fake APIC-EM controller listening on a local httptest server
type Server struct {
	*httptest.Server

	mu sync.Mutex

	username string
	password string
	ticket   string
	logins   int

	// pendingPolls is the number of status polls a new task answers without endTime
	pendingPolls int
	// failNext makes the next mutation task complete with isError
	failNext string
	// transient answers the next requests with a transient HTTP status
	transient       int
	transientStatus int
	// brokenTasks answers task polls with an error document
	brokenTasks bool

	projects     map[string]string
	projectOrder []string
	devices      map[string][]string
	files        map[string][]string
	tasks        map[string]*task
	hits         map[string]int
}

// NewServer starts a fake controller accepting DefaultUsername/DefaultPassword
//
// Callers must Close the server.
func NewServer() *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		username: DefaultUsername,
		password: DefaultPassword,
		projects: make(map[string]string),
		devices:  make(map[string][]string),
		files:    map[string][]string{"config": nil, "image": nil},
		tasks:    make(map[string]*task),
		hits:     make(map[string]int),
	}

	router := gin.New()
	router.Use(s.record, s.injectTransient)
	s.registerRoutes(router)

	s.Server = httptest.NewServer(router)
	return s
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.POST("/api/v1/ticket", s.createTicket)

	api := r.Group("/api/v1", s.authenticate)
	api.GET("/task/:id", s.getTask)

	api.GET("/file/namespace/:ns", s.listFiles)
	api.POST("/file/:ns", s.uploadFile)
	api.DELETE("/pnp-file/:ns/:id", s.deleteFile)

	api.GET("/pnp-project", s.listProjects)
	api.POST("/pnp-project", s.createProject)
	api.PUT("/pnp-project", s.updateProject)
	api.GET("/pnp-project/:id", s.getProject)
	api.DELETE("/pnp-project/:id", s.deleteProject)

	api.GET("/pnp-project/:id/device", s.listDevices)
	api.POST("/pnp-project/:id/device", s.addDevice)
	api.PUT("/pnp-project/:id/device", s.updateDevice)
	api.DELETE("/pnp-project/:id/device/:deviceId", s.deleteDevice)
}

// SetCredentials changes the username and password the ticket endpoint accepts
func (s *Server) SetCredentials(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username, s.password = username, password
}

// SetPendingPolls sets how many status polls new tasks answer without an end time
//
// A negative value makes tasks never complete.
func (s *Server) SetPendingPolls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingPolls = n
}

// FailNextTask makes the next mutation complete with isError and the given reason
func (s *Server) FailNextTask(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = reason
}

// FailTransient answers the next n requests with the given HTTP status
func (s *Server) FailTransient(status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transientStatus, s.transient = status, n
}

// BreakTasks makes task status polls answer with an error document
func (s *Server) BreakTasks(broken bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokenTasks = broken
}

// ExpireTicket invalidates the issued service ticket
func (s *Server) ExpireTicket() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticket = ""
}

// Logins returns how many tickets were issued
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Hits returns how many requests were received for method and path
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+path]
}

// TaskPolls returns how many times the status of a task was requested
func (s *Server) TaskPolls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.polls
	}
	return 0
}

// AddFile stores a file in a namespace and returns its id
func (s *Server) AddFile(ns, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeFile(ns, name, nil)
}

// AddTask registers a task that completes with the given progress
func (s *Server) AddTask(progress string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newTask("fake-service", progress)
}

// Project returns the stored JSON document of a project
func (s *Server) Project(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.projects[id]
	return doc, ok
}

func (s *Server) record(c *gin.Context) {
	s.mu.Lock()
	s.hits[c.Request.Method+" "+c.Request.URL.Path]++
	s.mu.Unlock()
	c.Next()
}

func (s *Server) injectTransient(c *gin.Context) {
	s.mu.Lock()
	status := 0
	if s.transient > 0 {
		s.transient--
		status = s.transientStatus
	}
	s.mu.Unlock()

	if status != 0 {
		c.AbortWithStatus(status)
		return
	}
	c.Next()
}

func (s *Server) authenticate(c *gin.Context) {
	s.mu.Lock()
	valid := s.ticket != "" && c.GetHeader("X-Auth-Token") == s.ticket
	s.mu.Unlock()

	if !valid {
		respondError(c, http.StatusUnauthorized, "RBAC", "Invalid or expired service ticket", "")
		c.Abort()
		return
	}
	c.Next()
}

func (s *Server) createTicket(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil || !gjson.ValidBytes(body) {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "Malformed request body", "")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gjson.GetBytes(body, "username").String() != s.username ||
		gjson.GetBytes(body, "password").String() != s.password {
		respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials", "Authentication failed")
		return
	}

	s.ticket = "ST-" + uuid.NewString()
	s.logins++

	doc, _ := sjson.Set("", "serviceTicket", s.ticket)
	doc, _ = sjson.Set(doc, "idleTimeout", 1800)
	doc, _ = sjson.Set(doc, "sessionTimeout", 21600)
	respond(c, http.StatusOK, doc)
}

// newTask registers a task.
//
// PRECONDITION: Caller must hold s.mu.
func (s *Server) newTask(serviceType, progress string) string {
	t := &task{
		id:          uuid.NewString(),
		serviceType: serviceType,
		progress:    progress,
		pending:     s.pendingPolls,
	}
	if s.failNext != "" {
		t.failureReason = s.failNext
		s.failNext = ""
	}
	s.tasks[t.id] = t
	return t.id
}

// respondTask answers a mutation with its task id.
//
// PRECONDITION: Caller must hold s.mu.
func (s *Server) respondTask(c *gin.Context, serviceType, progress string) string {
	id := s.newTask(serviceType, progress)
	doc, _ := sjson.Set("", "taskId", id)
	doc, _ = sjson.Set(doc, "url", "/api/v1/task/"+id)
	respond(c, http.StatusAccepted, doc)
	return id
}

// failTask answers a mutation with a task that fails with reason.
//
// PRECONDITION: Caller must hold s.mu.
func (s *Server) failTask(c *gin.Context, serviceType, reason string) {
	s.failNext = reason
	s.respondTask(c, serviceType, "")
}

func (s *Server) getTask(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.brokenTasks {
		respondError(c, http.StatusInternalServerError, "TASK_SERVICE", "Task service unavailable", "")
		return
	}

	t, ok := s.tasks[c.Param("id")]
	if !ok {
		respondError(c, http.StatusNotFound, "NCTS00001", "Task not found", c.Param("id"))
		return
	}
	t.polls++

	now := time.Now().UnixMilli()
	doc, _ := sjson.Set("", "id", t.id)
	doc, _ = sjson.Set(doc, "serviceType", t.serviceType)
	doc, _ = sjson.Set(doc, "startTime", now)
	doc, _ = sjson.Set(doc, "version", t.polls)
	doc, _ = sjson.Set(doc, "rootId", t.id)

	done := t.pending >= 0 && t.polls > t.pending
	switch {
	case !done:
		doc, _ = sjson.Set(doc, "isError", false)
		doc, _ = sjson.Set(doc, "progress", "In progress")
	case t.failureReason != "":
		doc, _ = sjson.Set(doc, "isError", true)
		doc, _ = sjson.Set(doc, "failureReason", t.failureReason)
		doc, _ = sjson.Set(doc, "errorCode", "NCND00050")
		doc, _ = sjson.Set(doc, "progress", "Failed")
		doc, _ = sjson.Set(doc, "endTime", now)
	default:
		doc, _ = sjson.Set(doc, "isError", false)
		doc, _ = sjson.Set(doc, "progress", t.progress)
		doc, _ = sjson.Set(doc, "endTime", now)
	}
	respond(c, http.StatusOK, doc)
}

func validNamespace(ns string) bool {
	return ns == "config" || ns == "image"
}

// storeFile adds a file document to a namespace.
//
// PRECONDITION: Caller must hold s.mu.
func (s *Server) storeFile(ns, name string, content []byte) string {
	id := uuid.NewString()
	md5sum := md5.Sum(content)   //nolint:gosec // checksum reported by the controller
	sha1sum := sha1.Sum(content) //nolint:gosec // checksum reported by the controller

	format := strings.TrimPrefix(path.Ext(name), ".")
	if format == "" {
		format = "text/plain"
	}

	doc, _ := sjson.Set("", "id", id)
	doc, _ = sjson.Set(doc, "name", name)
	doc, _ = sjson.Set(doc, "nameSpace", ns)
	doc, _ = sjson.Set(doc, "fileFormat", format)
	doc, _ = sjson.Set(doc, "fileSize", strconv.Itoa(len(content)))
	doc, _ = sjson.Set(doc, "md5Checksum", hex.EncodeToString(md5sum[:]))
	doc, _ = sjson.Set(doc, "sha1Checksum", hex.EncodeToString(sha1sum[:]))
	doc, _ = sjson.Set(doc, "downloadPath", "/file/"+id)

	s.files[ns] = append(s.files[ns], doc)
	return id
}

func (s *Server) listFiles(c *gin.Context) {
	ns := c.Param("ns")
	if !validNamespace(ns) {
		respondError(c, http.StatusBadRequest, "NCFS00001", "Invalid namespace", ns)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	respond(c, http.StatusOK, rawArray(s.files[ns]))
}

func (s *Server) uploadFile(c *gin.Context) {
	ns := c.Param("ns")
	if !validNamespace(ns) {
		respondError(c, http.StatusBadRequest, "NCFS00001", "Invalid namespace", ns)
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "NCFS00002", "Missing file part", err.Error())
		return
	}
	f, err := header.Open()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "NCFS00003", "Cannot read upload", err.Error())
		return
	}
	defer f.Close() //nolint:errcheck // multipart part
	content, err := io.ReadAll(f)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "NCFS00003", "Cannot read upload", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range s.files[ns] {
		if gjson.Get(doc, "name").String() == header.Filename {
			respondError(c, http.StatusConflict, "NCFS00004", "File already exists", header.Filename)
			return
		}
	}

	s.storeFile(ns, header.Filename, content)
	files := s.files[ns]
	respond(c, http.StatusOK, files[len(files)-1])
}

func (s *Server) deleteFile(c *gin.Context) {
	ns, id := c.Param("ns"), c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.files[ns][:0]
	found := false
	for _, doc := range s.files[ns] {
		if gjson.Get(doc, "id").String() == id {
			found = true
			continue
		}
		kept = append(kept, doc)
	}
	if !found {
		s.failTask(c, "file-service", "File not found: "+id)
		return
	}
	s.files[ns] = kept
	s.respondTask(c, "file-service", "File deleted")
}

// firstElement returns the single object of a one-element array payload
func firstElement(c *gin.Context) (gjson.Result, bool) {
	body, err := c.GetRawData()
	if err != nil || !gjson.ValidBytes(body) {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "Malformed request body", "")
		return gjson.Result{}, false
	}
	payload := gjson.ParseBytes(body)
	if !payload.IsArray() || len(payload.Array()) != 1 || !payload.Array()[0].IsObject() {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "Expected a one-element array", "")
		return gjson.Result{}, false
	}
	return payload.Array()[0], true
}

// mergeObject copies every key of src into doc
func mergeObject(doc string, src gjson.Result) string {
	src.ForEach(func(key, value gjson.Result) bool {
		doc, _ = sjson.SetRaw(doc, gjson.Escape(key.String()), value.Raw)
		return true
	})
	return doc
}

func (s *Server) createProject(c *gin.Context) {
	params, ok := firstElement(c)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	siteName := params.Get("siteName").String()
	for _, doc := range s.projects {
		if gjson.Get(doc, "siteName").String() == siteName {
			s.failTask(c, "pnp-project", "Site name already exists: "+siteName)
			return
		}
	}

	id := uuid.NewString()
	doc := mergeObject(`{}`, params)
	doc, _ = sjson.Set(doc, "id", id)
	doc, _ = sjson.Set(doc, "state", "PRE_PROVISIONED")
	doc, _ = sjson.Set(doc, "provisionedBy", s.username)
	doc, _ = sjson.Set(doc, "provisionedOn", time.Now().UTC().Format(time.RFC3339))
	doc, _ = sjson.Set(doc, "deviceCount", 0)
	doc, _ = sjson.Set(doc, "pendingDeviceCount", 0)

	s.projects[id] = doc
	s.projectOrder = append(s.projectOrder, id)

	progress, _ := sjson.Set(`{"message":"Success creating new site"}`, "siteId", id)
	s.respondTask(c, "pnp-project", progress)
}

func (s *Server) updateProject(c *gin.Context) {
	params, ok := firstElement(c)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := params.Get("id").String()
	doc, exists := s.projects[id]
	if !exists {
		s.failTask(c, "pnp-project", "Project not found: "+id)
		return
	}
	s.projects[id] = mergeObject(doc, params)

	progress, _ := sjson.Set(`{"message":"Success updating site"}`, "siteId", id)
	s.respondTask(c, "pnp-project", progress)
}

func (s *Server) getProject(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.projects[c.Param("id")]
	if !ok {
		respondError(c, http.StatusNotFound, "NCND00002", "Project not found", "No project with id "+c.Param("id"))
		return
	}
	respond(c, http.StatusOK, doc)
}

func (s *Server) listProjects(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]string, 0, len(s.projectOrder))
	for _, id := range s.projectOrder {
		docs = append(docs, s.projects[id])
	}
	respond(c, http.StatusOK, rawArray(page(c, docs)))
}

func (s *Server) deleteProject(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := c.Param("id")
	if _, ok := s.projects[id]; !ok {
		s.failTask(c, "pnp-project", "Project not found: "+id)
		return
	}
	delete(s.projects, id)
	delete(s.devices, id)
	for i, pid := range s.projectOrder {
		if pid == id {
			s.projectOrder = append(s.projectOrder[:i], s.projectOrder[i+1:]...)
			break
		}
	}
	s.respondTask(c, "pnp-project", `{"message":"Success deleting site"}`)
}

func (s *Server) listDevices(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := c.Param("id")
	if _, ok := s.projects[id]; !ok {
		respondError(c, http.StatusNotFound, "NCND00002", "Project not found", "No project with id "+id)
		return
	}
	respond(c, http.StatusOK, rawArray(page(c, s.devices[id])))
}

// syncDeviceCount stores the device count of a project.
//
// PRECONDITION: Caller must hold s.mu.
func (s *Server) syncDeviceCount(projectID string) {
	doc := s.projects[projectID]
	doc, _ = sjson.Set(doc, "deviceCount", len(s.devices[projectID]))
	doc, _ = sjson.Set(doc, "pendingDeviceCount", len(s.devices[projectID]))
	doc, _ = sjson.Set(doc, "deviceLastUpdate", time.Now().UTC().Format(time.RFC3339))
	s.projects[projectID] = doc
}

func (s *Server) addDevice(c *gin.Context) {
	params, ok := firstElement(c)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	projectID := c.Param("id")
	if _, exists := s.projects[projectID]; !exists {
		s.failTask(c, "pnp-project", "Project not found: "+projectID)
		return
	}
	hostName := params.Get("hostName").String()
	for _, doc := range s.devices[projectID] {
		if gjson.Get(doc, "hostName").String() == hostName {
			s.failTask(c, "pnp-project", "Device with hostName "+hostName+" already exists")
			return
		}
	}

	id := uuid.NewString()
	doc := mergeObject(`{}`, params)
	doc, _ = sjson.Set(doc, "id", id)
	doc, _ = sjson.Set(doc, "state", "PENDING")
	doc, _ = sjson.Set(doc, "stateDisplay", "Pending")
	doc, _ = sjson.Set(doc, "authStatus", "Unauthenticated")
	doc, _ = sjson.SetRaw(doc, "attributeInfo", `{}`)

	s.devices[projectID] = append(s.devices[projectID], doc)
	s.syncDeviceCount(projectID)

	progress, _ := sjson.Set(`{"message":"Success creating new Rule"}`, "ruleId", id)
	s.respondTask(c, "pnp-project", progress)
}

func (s *Server) updateDevice(c *gin.Context) {
	params, ok := firstElement(c)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	projectID, id := c.Param("id"), params.Get("id").String()
	for i, doc := range s.devices[projectID] {
		if gjson.Get(doc, "id").String() == id {
			s.devices[projectID][i] = mergeObject(doc, params)
			progress, _ := sjson.Set(`{"message":"Success updating Rule"}`, "ruleId", id)
			s.respondTask(c, "pnp-project", progress)
			return
		}
	}
	s.failTask(c, "pnp-project", "Device not found: "+id)
}

func (s *Server) deleteDevice(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	projectID, id := c.Param("id"), c.Param("deviceId")
	devices := s.devices[projectID]
	for i, doc := range devices {
		if gjson.Get(doc, "id").String() == id {
			s.devices[projectID] = append(devices[:i], devices[i+1:]...)
			s.syncDeviceCount(projectID)
			s.respondTask(c, "pnp-project", `{"message":"Success deleting Rule"}`)
			return
		}
	}
	s.failTask(c, "pnp-project", "Device not found: "+id)
}

// page applies the 1-based offset and limit query parameters
func page(c *gin.Context, docs []string) []string {
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "1"))
	if err != nil || offset < 1 {
		offset = 1
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "500"))
	if err != nil || limit < 1 {
		limit = 500
	}

	start := offset - 1
	if start >= len(docs) {
		return nil
	}
	end := start + limit
	if end > len(docs) {
		end = len(docs)
	}
	return docs[start:end]
}

func rawArray(docs []string) string {
	return "[" + strings.Join(docs, ",") + "]"
}

func respond(c *gin.Context, status int, raw string) {
	body, _ := sjson.SetRaw(`{"version":"1.0"}`, "response", raw)
	c.Data(status, "application/json", []byte(body))
}

func respondError(c *gin.Context, status int, code, message, detail string) {
	doc, _ := sjson.Set("", "errorCode", code)
	doc, _ = sjson.Set(doc, "message", message)
	doc, _ = sjson.Set(doc, "detail", detail)
	respond(c, status, doc)
}

// String describes the server state for test failure messages
func (s *Server) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("apicemtest(%s projects=%d tasks=%d logins=%d)",
		s.URL, len(s.projects), len(s.tasks), s.logins)
}
