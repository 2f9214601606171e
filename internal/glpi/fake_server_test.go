package glpi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/breeze-rmm/glpi-register/internal/secmem"
	"github.com/stretchr/testify/require"
)

const (
	testAppToken = "app-token"
	testUser     = "tech"
	testPassword = "s3cret"
)

type fakeComputer struct {
	id           int
	name         string
	serial       string
	manufacturer string
	model        string
	location     string
	comment      string
}

type cannedResponse struct {
	status int
	body   string
}

// fakeGLPI is a minimal apirest.php with in-memory sessions and items.
type fakeGLPI struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	appToken   string
	sessions   map[string]string // token -> username
	nextToken  int
	computers  []fakeComputer
	nextID     int
	dropdowns  map[string]map[string]int // itemtype -> name -> id
	calls      map[string]int
	total      int
	initDelay  time.Duration
	searchCode int
	createResp []cannedResponse // consumed before normal handling
	initResp   []cannedResponse
	lastInput  map[string]any
	relations  map[string][]map[string]any
}

func newFakeGLPI(t *testing.T) *fakeGLPI {
	t.Helper()
	f := &fakeGLPI{
		t:         t,
		appToken:  testAppToken,
		sessions:  map[string]string{},
		nextID:    100,
		dropdowns: map[string]map[string]int{},
		calls:     map[string]int{},
		relations: map[string][]map[string]any{},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGLPI) config() Config {
	return Config{
		BaseURL:        f.srv.URL,
		AppToken:       testAppToken,
		VerifySSL:      true,
		RequestTimeout: 2 * time.Second,
		SessionTimeout: time.Hour,
	}
}

func (f *fakeGLPI) manager(cfg Config) *SessionManager {
	f.t.Helper()
	m, err := NewSessionManager(cfg)
	require.NoError(f.t, err)
	return m
}

func creds() Credentials {
	return Credentials{Username: testUser, Password: secmem.NewSecureString(testPassword)}
}

func (f *fakeGLPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeGLPI) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func (f *fakeGLPI) addComputer(c fakeComputer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.id == 0 {
		f.nextID++
		c.id = f.nextID
	}
	f.computers = append(f.computers, c)
}

func (f *fakeGLPI) addDropdown(itemtype, name string, id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropdowns[itemtype] == nil {
		f.dropdowns[itemtype] = map[string]int{}
	}
	f.dropdowns[itemtype][name] = id
}

func (f *fakeGLPI) queueCreate(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createResp = append(f.createResp, cannedResponse{status, body})
}

func (f *fakeGLPI) queueInit(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initResp = append(f.initResp, cannedResponse{status, body})
}

func (f *fakeGLPI) dropSessions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = map[string]string{}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, c cannedResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(c.status)
	_, _ = w.Write([]byte(c.body))
}

func (f *fakeGLPI) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, apiPath+"/")
	name := path
	if strings.HasPrefix(path, "search/") {
		name = "search"
	}

	f.mu.Lock()
	f.calls[path]++
	if name != path {
		f.calls[name]++
	}
	f.total++
	delay := f.initDelay
	f.mu.Unlock()

	if r.Header.Get(headerAppToken) != f.appToken {
		writeJSON(w, http.StatusBadRequest, []string{codeWrongAppToken, "app_token seems invalid"})
		return
	}

	if path == "initSession" {
		if delay > 0 {
			time.Sleep(delay)
		}
		f.initSession(w, r)
		return
	}

	if r.Header.Get(headerSessionToken) == "" {
		writeJSON(w, http.StatusBadRequest, []string{"ERROR_SESSION_TOKEN_MISSING", "parameter session_token is missing or empty"})
		return
	}

	f.mu.Lock()
	user, ok := f.sessions[r.Header.Get(headerSessionToken)]
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, []string{codeSessionTokenInvalid, "session_token seems invalid"})
		return
	}

	switch {
	case path == "killSession":
		f.mu.Lock()
		delete(f.sessions, r.Header.Get(headerSessionToken))
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{})
	case path == "getFullSession":
		writeJSON(w, http.StatusOK, map[string]any{"session": map[string]any{"glpiname": user}})
	case path == "search/Computer":
		f.searchComputers(w, r)
	case strings.HasPrefix(path, "search/"):
		f.searchDropdown(w, r, strings.TrimPrefix(path, "search/"))
	case path == "Computer/" && r.Method == http.MethodPost:
		f.createComputer(w, r)
	case strings.HasPrefix(path, "Item_") && r.Method == http.MethodPost:
		var body struct {
			Input map[string]any `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.relations[path] = append(f.relations[path], body.Input)
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]any{"id": 1, "message": ""})
	default:
		writeJSON(w, http.StatusBadRequest, []string{"ERROR_RESOURCE_NOT_FOUND_NOR_COMMONDBTM", "resource not found"})
	}
}

func (f *fakeGLPI) initSession(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	if len(f.initResp) > 0 {
		c := f.initResp[0]
		f.initResp = f.initResp[1:]
		f.mu.Unlock()
		writeRaw(w, c)
		return
	}
	f.mu.Unlock()

	user, pass, ok := r.BasicAuth()
	if !ok || user != testUser || pass != testPassword {
		writeJSON(w, http.StatusUnauthorized, []string{"ERROR_GLPI_LOGIN", "Incorrect username or password"})
		return
	}

	f.mu.Lock()
	f.nextToken++
	token := fmt.Sprintf("tok-%d", f.nextToken)
	f.sessions[token] = user
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"session_token": token})
}

func (f *fakeGLPI) searchComputers(w http.ResponseWriter, r *http.Request) {
	value := strings.ToLower(r.URL.Query().Get("criteria[0][value]"))

	f.mu.Lock()
	var rows []map[string]any
	for _, c := range f.computers {
		if strings.Contains(strings.ToLower(c.serial), value) {
			rows = append(rows, map[string]any{
				"1": c.name, "2": c.id, "5": c.serial, "23": c.manufacturer,
				"40": c.model, "3": c.location, "16": c.comment,
			})
		}
	}
	status := f.searchCode
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"totalcount": len(rows), "count": len(rows), "data": rows})
}

func (f *fakeGLPI) searchDropdown(w http.ResponseWriter, r *http.Request, itemtype string) {
	value := strings.ToLower(r.URL.Query().Get("criteria[0][value]"))

	f.mu.Lock()
	var rows []map[string]any
	for name, id := range f.dropdowns[itemtype] {
		if strings.Contains(strings.ToLower(name), value) {
			rows = append(rows, map[string]any{"1": name, "2": id})
		}
	}
	f.mu.Unlock()

	if len(rows) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"totalcount": 0, "count": 0})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"totalcount": len(rows), "count": len(rows), "data": rows})
}

func (f *fakeGLPI) createComputer(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	if len(f.createResp) > 0 {
		c := f.createResp[0]
		f.createResp = f.createResp[1:]
		f.mu.Unlock()
		writeRaw(w, c)
		return
	}
	f.mu.Unlock()

	var body struct {
		Input map[string]any `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, []string{"ERROR_JSON_PAYLOAD_INVALID", err.Error()})
		return
	}

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	name, _ := body.Input["name"].(string)
	serial, _ := body.Input["serial"].(string)
	f.computers = append(f.computers, fakeComputer{id: id, name: name, serial: serial})
	f.lastInput = body.Input
	f.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "message": ""})
}
