package glpi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/breeze-rmm/glpi-register/internal/logging"
	"go.uber.org/zap"
)

// Search option IDs of the Computer itemtype.
const (
	searchFieldName         = "1"
	searchFieldID           = "2"
	searchFieldLocation     = "3"
	searchFieldSerial       = "5"
	searchFieldComment      = "16"
	searchFieldManufacturer = "23"
	searchFieldModel        = "40"
	searchRange             = "0-999"
)

var computerDisplayFields = []string{
	searchFieldName,
	searchFieldID,
	searchFieldSerial,
	searchFieldManufacturer,
	searchFieldModel,
	searchFieldLocation,
	searchFieldComment,
}

// ComputerAsset is a Computer item as registered in GLPI.
type ComputerAsset struct {
	ID           int    `json:"id,omitempty" yaml:"id,omitempty"`
	Name         string `json:"name,omitempty" yaml:"name,omitempty"`
	Serial       string `json:"serial,omitempty" yaml:"serial,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty" yaml:"model,omitempty"`
	Location     string `json:"location,omitempty" yaml:"location,omitempty"`
	Comment      string `json:"comment,omitempty" yaml:"comment,omitempty"`

	// Hardware description, linked as components after creation.
	Processor       string   `json:"processor,omitempty" yaml:"processor,omitempty"`
	GraphicCards    []string `json:"graphicCards,omitempty" yaml:"graphic_cards,omitempty"`
	Memory          string   `json:"memory,omitempty" yaml:"memory,omitempty"`
	HardDrives      []string `json:"hardDrives,omitempty" yaml:"hard_drives,omitempty"`
	OperatingSystem string   `json:"operatingSystem,omitempty" yaml:"operating_system,omitempty"`
	OSVersion       string   `json:"osVersion,omitempty" yaml:"os_version,omitempty"`

	// Unresolved is filled by Create with the names GLPI had no record
	// of. They were left out of the computer and its components.
	Unresolved []UnresolvedName `json:"-" yaml:"-"`
}

// UnresolvedName is a dropdown or device name GLPI did not know.
type UnresolvedName struct {
	ItemType string `json:"itemtype" yaml:"itemtype"`
	Name     string `json:"name" yaml:"name"`
}

// Persisted reports whether the asset carries a GLPI ID.
func (a ComputerAsset) Persisted() bool { return a.ID > 0 }

// AssetClient searches and creates Computer items using the sessions of
// one SessionManager.
type AssetClient struct {
	sessions       *SessionManager
	tr             *transport
	linkComponents bool
}

// AssetOption configures an AssetClient.
type AssetOption func(*AssetClient)

// WithComponentLinking turns best-effort component linking after Create
// on or off. It is on by default.
func WithComponentLinking(enabled bool) AssetOption {
	return func(c *AssetClient) { c.linkComponents = enabled }
}

// NewAssetClient returns a client bound to sessions.
func NewAssetClient(sessions *SessionManager, opts ...AssetOption) *AssetClient {
	c := &AssetClient{sessions: sessions, tr: sessions.tr, linkComponents: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// send runs c with the current session. A rejected session token is
// dropped from the SessionManager and reported as APIUnauthorized.
func (c *AssetClient) send(ctx context.Context, s *Session, req call) (*response, failure, error) {
	req.sessionToken = s.token
	resp, err := c.tr.do(ctx, req)
	if err != nil {
		return nil, failure{}, &APIError{Kind: APITransport, Message: "request failed", cause: err}
	}
	if resp.ok() {
		return resp, failure{}, nil
	}

	f := parseFailure(resp.body)
	if sessionRejected(resp.status, f) {
		c.sessions.Invalidate(s)
		return resp, f, &APIError{Kind: APIUnauthorized, Status: resp.status, Code: f.Code, Message: f.text(resp.status)}
	}
	return resp, f, nil
}

// FindBySerial returns every Computer whose serial equals serial, ignoring
// case and surrounding space. No match is an empty result, not an error.
func (c *AssetClient) FindBySerial(ctx context.Context, serial string) ([]ComputerAsset, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, &APIError{Kind: APIValidation, Message: "serial is required for a search"}
	}

	s, err := c.sessions.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("criteria[0][field]", searchFieldSerial)
	query.Set("criteria[0][searchtype]", "contains")
	query.Set("criteria[0][value]", serial)
	for i, field := range computerDisplayFields {
		query.Set(fmt.Sprintf("forcedisplay[%d]", i), field)
	}
	query.Set("range", searchRange)

	resp, f, err := c.send(ctx, s, call{method: http.MethodGet, path: "search/Computer", query: query})
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK && resp.status != http.StatusPartialContent {
		return nil, classifyAPI(resp.status, f)
	}

	rows, err := decodeSearch(resp.body)
	if err != nil {
		return nil, &APIError{Kind: APITransport, Status: resp.status, Message: "undecodable search response", cause: err}
	}

	var matches []ComputerAsset
	for _, row := range rows {
		asset := ComputerAsset{
			ID:           row.int(searchFieldID),
			Name:         row.string(searchFieldName),
			Serial:       row.string(searchFieldSerial),
			Manufacturer: row.string(searchFieldManufacturer),
			Model:        row.string(searchFieldModel),
			Location:     row.string(searchFieldLocation),
			Comment:      row.string(searchFieldComment),
		}
		if strings.EqualFold(strings.TrimSpace(asset.Serial), serial) {
			matches = append(matches, asset)
		}
	}

	log.Debug("serial search",
		zap.String("serial", serial),
		zap.Int("rows", len(rows)),
		zap.Int("matches", len(matches)))
	return matches, nil
}

// Create registers asset as a new Computer and returns it with its ID.
// Location, manufacturer, model and the technician are sent as dropdown
// IDs; names GLPI does not know are left out of the payload and listed in
// the returned asset's Unresolved.
func (c *AssetClient) Create(ctx context.Context, asset ComputerAsset) (ComputerAsset, error) {
	asset.Name = strings.TrimSpace(asset.Name)
	if asset.Name == "" {
		return asset, &APIError{Kind: APIValidation, Message: "asset name is required"}
	}
	if asset.Persisted() {
		return asset, &APIError{Kind: APIValidation, Message: fmt.Sprintf("asset already has id %d", asset.ID)}
	}

	s, err := c.sessions.EnsureValid(ctx)
	if err != nil {
		return asset, err
	}
	asset.Unresolved = nil

	input := map[string]any{"name": asset.Name}
	if asset.Serial != "" {
		input["serial"] = asset.Serial
	}
	if asset.Comment != "" {
		input["comment"] = asset.Comment
	}

	// The technician is the logged-in account, not a described value.
	dropdowns := []struct {
		itemtype, name, key string
		report              bool
	}{
		{"Location", asset.Location, "locations_id", true},
		{"Manufacturer", asset.Manufacturer, "manufacturers_id", true},
		{"ComputerModel", asset.Model, "computermodels_id", true},
		{"User", s.Username(), "users_id_tech", false},
	}
	for _, d := range dropdowns {
		if d.name == "" {
			continue
		}
		id, err := c.lookupID(ctx, s, d.itemtype, d.name)
		if err != nil {
			if IsUnauthorized(err) {
				return asset, err
			}
			if d.report && isNotFound(err) {
				asset.Unresolved = append(asset.Unresolved, UnresolvedName{ItemType: d.itemtype, Name: d.name})
			}
			log.Warn("dropdown not resolved, omitting",
				zap.String(logging.KeyItemType, d.itemtype),
				zap.String("name", d.name),
				zap.Error(err))
			continue
		}
		input[d.key] = id
	}

	resp, f, err := c.send(ctx, s, call{
		method: http.MethodPost,
		path:   "Computer/",
		body:   map[string]any{"input": input},
	})
	if err != nil {
		return asset, err
	}
	if !resp.ok() {
		return asset, classifyCreate(resp.status, f)
	}

	var created struct {
		ID      json.Number `json:"id"`
		Message string      `json:"message"`
	}
	if err := json.Unmarshal(resp.body, &created); err != nil {
		return asset, &APIError{Kind: APITransport, Status: resp.status, Message: "undecodable create response", cause: err}
	}
	id, err := strconv.Atoi(created.ID.String())
	if err != nil || id <= 0 {
		return asset, &APIError{Kind: APITransport, Status: resp.status, Message: "create response carried no id"}
	}
	asset.ID = id

	log.Info("computer created",
		zap.Int("id", asset.ID),
		zap.String("name", asset.Name),
		zap.String("serial", asset.Serial))

	if c.linkComponents {
		asset.Unresolved = append(asset.Unresolved, c.link(ctx, s, asset)...)
	}
	return asset, nil
}

// ResourceLocator returns the browser link of a persisted asset.
func (c *AssetClient) ResourceLocator(asset ComputerAsset) (string, error) {
	return computerFormURL(c.tr.root, asset)
}

func computerFormURL(root string, asset ComputerAsset) (string, error) {
	if !asset.Persisted() {
		return "", &APIError{Kind: APIValidation, Message: "asset has no GLPI id yet"}
	}
	return root + "/front/computer.form.php?id=" + strconv.Itoa(asset.ID), nil
}

// LookupID resolves a dropdown or device name to its GLPI ID. An exact
// (case- and space-insensitive) match wins over the first partial one.
func (c *AssetClient) LookupID(ctx context.Context, itemtype, name string) (int, error) {
	s, err := c.sessions.EnsureValid(ctx)
	if err != nil {
		return 0, err
	}
	return c.lookupID(ctx, s, itemtype, name)
}

func (c *AssetClient) lookupID(ctx context.Context, s *Session, itemtype, name string) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrNotFound
	}

	query := url.Values{}
	query.Set("criteria[0][link]", "AND")
	query.Set("criteria[0][field]", searchFieldName)
	query.Set("criteria[0][searchtype]", "contains")
	query.Set("criteria[0][value]", name)
	query.Set("forcedisplay[0]", searchFieldName)
	query.Set("forcedisplay[1]", searchFieldID)
	query.Set("range", searchRange)

	resp, f, err := c.send(ctx, s, call{method: http.MethodGet, path: "search/" + itemtype, query: query})
	if err != nil {
		return 0, err
	}
	if resp.status != http.StatusOK && resp.status != http.StatusPartialContent {
		return 0, classifyAPI(resp.status, f)
	}

	rows, err := decodeSearch(resp.body)
	if err != nil {
		return 0, &APIError{Kind: APITransport, Status: resp.status, Message: "undecodable search response", cause: err}
	}

	want := normalizeName(name)
	first := 0
	for _, row := range rows {
		id := row.int(searchFieldID)
		if id <= 0 {
			continue
		}
		if normalizeName(row.string(searchFieldName)) == want {
			return id, nil
		}
		if first == 0 {
			first = id
		}
	}
	if first == 0 {
		return 0, ErrNotFound
	}
	return first, nil
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// searchRow is one entry of a search "data" array, keyed by search option ID.
type searchRow map[string]any

func decodeSearch(body []byte) ([]searchRow, error) {
	var result struct {
		TotalCount int         `json:"totalcount"`
		Data       []searchRow `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	return result.Data, nil
}

func (r searchRow) string(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (r searchRow) int(key string) int {
	switch v := r[key].(type) {
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

var duplicateMarkers = []string{"already exist", "unicity", "unique", "duplicate", "impossible record"}

func classifyCreate(status int, f failure) *APIError {
	msg := f.text(status)
	if status == http.StatusConflict || containsAny(strings.ToLower(msg), duplicateMarkers) {
		return &APIError{Kind: APIDuplicate, Status: status, Code: f.Code, Message: msg}
	}
	return classifyAPI(status, f)
}

func classifyAPI(status int, f failure) *APIError {
	msg := f.text(status)
	switch {
	case sessionRejected(status, f):
		return &APIError{Kind: APIUnauthorized, Status: status, Code: f.Code, Message: msg}
	case status >= 500:
		return &APIError{Kind: APITransport, Status: status, Code: f.Code, Message: msg}
	default:
		return &APIError{Kind: APIValidation, Status: status, Code: f.Code, Message: msg}
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// isNotFound reports a dropdown lookup that found nothing.
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
