package submission

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/breeze-rmm/glpi-register/internal/glpi"
	"github.com/breeze-rmm/glpi-register/internal/hardware"
	"github.com/breeze-rmm/glpi-register/internal/secmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAssets struct {
	existing  []glpi.ComputerAsset
	findErrs  []error
	createErr []error

	findCalls   int
	createCalls int
	created     []glpi.ComputerAsset
}

func next(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *fakeAssets) FindBySerial(_ context.Context, serial string) ([]glpi.ComputerAsset, error) {
	f.findCalls++
	if err := next(&f.findErrs); err != nil {
		return nil, err
	}
	var out []glpi.ComputerAsset
	for _, a := range f.existing {
		if a.Serial == serial {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAssets) Create(_ context.Context, asset glpi.ComputerAsset) (glpi.ComputerAsset, error) {
	f.createCalls++
	if err := next(&f.createErr); err != nil {
		return asset, err
	}
	asset.ID = 100 + f.createCalls
	f.created = append(f.created, asset)
	f.existing = append(f.existing, asset)
	return asset, nil
}

func (f *fakeAssets) ResourceLocator(asset glpi.ComputerAsset) (string, error) {
	if !asset.Persisted() {
		return "", errors.New("not persisted")
	}
	return "https://glpi.example.com/front/computer.form.php?id=" + strconv.Itoa(asset.ID), nil
}

type fakeSessions struct {
	calls int
	err   error
}

func (f *fakeSessions) EnsureValid(context.Context) (*glpi.Session, error) {
	f.calls++
	return nil, f.err
}

func unauthorized() error {
	return &glpi.APIError{Kind: glpi.APIUnauthorized, Status: http.StatusUnauthorized, Message: "session_token seems invalid"}
}

func ram(n uint64) *uint64 { return &n }

func workstation() hardware.Facts {
	return hardware.Facts{
		OS:           hardware.OSLinux,
		Hostname:     "ws-042",
		OSVersion:    "ubuntu 24.04",
		Manufacturer: "LENOVO",
		Model:        "20L8S02D00",
		Serial:       "SN-12345",
		CPU:          "Intel(R) Core(TM) i7-8650U CPU @ 1.90GHz",
		GPUs:         []string{"Intel(R) UHD Graphics 620"},
		RAMBytes:     ram(16 << 30),
		Storage:      []hardware.StorageDevice{{Label: "/", CapacityBytes: 256060514304}},
	}
}

func TestFromFactsNormalisesHardware(t *testing.T) {
	asset := FromFacts(workstation())

	assert.Equal(t, "ws-042", asset.Name)
	assert.Equal(t, "SN-12345", asset.Serial)
	assert.Equal(t, "i7-8650U", asset.Processor)
	assert.Equal(t, []string{"UHD Graphics 620"}, asset.GraphicCards)
	assert.Equal(t, "16 GB", asset.Memory)
	assert.Equal(t, []string{"/ 256 GB"}, asset.HardDrives)
	assert.Equal(t, "Linux", asset.OperatingSystem)
	assert.Equal(t, "ubuntu 24.04", asset.OSVersion)
	assert.Equal(t, "i7-8650U, 16 GB RAM, / 256 GB, UHD Graphics 620", asset.Comment)
	assert.False(t, asset.Persisted())
}

func TestFromFactsLeavesAbsentFieldsEmpty(t *testing.T) {
	asset := FromFacts(hardware.Facts{OS: hardware.OSWindows})
	assert.Equal(t, glpi.ComputerAsset{}, asset)
}

func TestMergeOverrideWinsWhenNonEmpty(t *testing.T) {
	merged := Merge(workstation(), Overrides{
		Name:         "  reception-01 ",
		Serial:       "   ",
		Location:     "HQ",
		GraphicCards: []string{" ", ""},
		HardDrives:   []string{"1000 GB"},
	})

	assert.Equal(t, "reception-01", merged.Name)
	assert.Equal(t, "SN-12345", merged.Serial, "blank override keeps the fact")
	assert.Equal(t, "HQ", merged.Location)
	assert.Equal(t, []string{"UHD Graphics 620"}, merged.GraphicCards)
	assert.Equal(t, []string{"1000 GB"}, merged.HardDrives)
	assert.Equal(t, "LENOVO", merged.Manufacturer)
}

func TestMergeSummaryDescribesOverriddenHardware(t *testing.T) {
	merged := Merge(workstation(), Overrides{Processor: "Core i5-1235U", Memory: "32 GB"})
	assert.Contains(t, merged.Comment, "Core i5-1235U")
	assert.Contains(t, merged.Comment, "32 GB RAM")
	assert.NotContains(t, merged.Comment, FromFacts(workstation()).Processor)

	merged = Merge(workstation(), Overrides{Processor: "Core i5-1235U", Comment: "spare unit"})
	assert.Equal(t, "spare unit", merged.Comment)
}

func TestMergeWithEmptyOverridesIsIdentity(t *testing.T) {
	for _, facts := range []hardware.Facts{workstation(), {OS: hardware.OSMacOS}, {OS: hardware.OSLinux, Hostname: "x"}} {
		assert.Equal(t, FromFacts(facts), Merge(facts, Overrides{}))
	}
}

func TestPipelineAppliesDefaultLocation(t *testing.T) {
	p := New(&fakeAssets{}, &fakeSessions{}, WithDefaultLocation(" Akademie "))

	assert.Equal(t, "Akademie", p.Asset(workstation(), Overrides{}).Location)
	assert.Equal(t, "HQ", p.Asset(workstation(), Overrides{Location: "HQ"}).Location)
}

func TestSubmitCreatesNewAsset(t *testing.T) {
	assets := &fakeAssets{}
	p := New(assets, &fakeSessions{})

	res, err := p.Submit(context.Background(), workstation(), Overrides{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, res.Status)
	assert.Equal(t, 101, res.Asset.ID)
	assert.Equal(t, "https://glpi.example.com/front/computer.form.php?id=101", res.Locator)
	assert.Equal(t, 1, assets.findCalls)
	assert.Equal(t, 1, assets.createCalls)
}

func TestSubmitTwiceReportsExisting(t *testing.T) {
	assets := &fakeAssets{}
	p := New(assets, &fakeSessions{})

	_, err := p.Submit(context.Background(), workstation(), Overrides{}, Options{})
	require.NoError(t, err)

	res, err := p.Submit(context.Background(), workstation(), Overrides{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyExists, res.Status)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, 101, res.Matches[0].ID)
	assert.Empty(t, res.Locator)
	assert.Equal(t, 1, assets.createCalls, "no second create")
}

func TestSubmitReturnsEveryMatch(t *testing.T) {
	assets := &fakeAssets{existing: []glpi.ComputerAsset{
		{ID: 7, Name: "old-a", Serial: "SN-12345"},
		{ID: 9, Name: "old-b", Serial: "SN-12345"},
	}}
	p := New(assets, &fakeSessions{})

	res, err := p.Submit(context.Background(), workstation(), Overrides{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyExists, res.Status)
	assert.Len(t, res.Matches, 2)
	assert.Zero(t, assets.createCalls)
}

func TestSubmitForceCreatesDespiteMatch(t *testing.T) {
	assets := &fakeAssets{existing: []glpi.ComputerAsset{{ID: 7, Serial: "SN-12345"}}}
	p := New(assets, &fakeSessions{})

	res, err := p.Submit(context.Background(), workstation(), Overrides{}, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, res.Status)
	assert.Equal(t, 1, assets.createCalls)
}

func TestSubmitWithoutSerialSkipsSearch(t *testing.T) {
	facts := workstation()
	facts.Serial = ""
	assets := &fakeAssets{}
	p := New(assets, &fakeSessions{})

	res, err := p.Submit(context.Background(), facts, Overrides{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, res.Status)
	assert.Zero(t, assets.findCalls)
}

func TestSubmitRequiresName(t *testing.T) {
	facts := workstation()
	facts.Hostname = ""
	assets := &fakeAssets{}
	p := New(assets, &fakeSessions{})

	_, err := p.Submit(context.Background(), facts, Overrides{}, Options{})
	assert.ErrorIs(t, err, glpi.ErrValidation)
	assert.Zero(t, assets.findCalls)
	assert.Zero(t, assets.createCalls)
}

func TestSubmitRefreshesOnceOnUnauthorized(t *testing.T) {
	tests := []struct {
		name   string
		assets *fakeAssets
	}{
		{"during search", &fakeAssets{findErrs: []error{unauthorized()}}},
		{"during create", &fakeAssets{createErr: []error{unauthorized()}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &fakeSessions{}
			p := New(tt.assets, sessions)

			res, err := p.Submit(context.Background(), workstation(), Overrides{}, Options{})
			require.NoError(t, err)
			assert.Equal(t, StatusCreated, res.Status)
			assert.Equal(t, 1, sessions.calls)
		})
	}
}

func TestSubmitSurfacesSecondUnauthorized(t *testing.T) {
	assets := &fakeAssets{createErr: []error{unauthorized(), unauthorized(), nil}}
	sessions := &fakeSessions{}
	p := New(assets, sessions)

	_, err := p.Submit(context.Background(), workstation(), Overrides{}, Options{})
	assert.ErrorIs(t, err, glpi.ErrUnauthorized)
	assert.Equal(t, 1, sessions.calls)
	assert.Equal(t, 2, assets.createCalls, "no third attempt")
}

func TestSubmitSurfacesRefreshFailure(t *testing.T) {
	assets := &fakeAssets{findErrs: []error{unauthorized()}}
	sessions := &fakeSessions{err: &glpi.AuthError{Kind: glpi.AuthSessionExpired, Message: "log in again"}}
	p := New(assets, sessions)

	_, err := p.Submit(context.Background(), workstation(), Overrides{}, Options{})
	assert.ErrorIs(t, err, glpi.ErrSessionExpired)
	assert.Equal(t, 1, assets.findCalls)
	assert.Zero(t, assets.createCalls)
}

func TestSubmitDoesNotRetryOtherErrors(t *testing.T) {
	dup := &glpi.APIError{Kind: glpi.APIDuplicate, Status: http.StatusConflict, Message: "exists"}
	assets := &fakeAssets{createErr: []error{dup}}
	sessions := &fakeSessions{}
	p := New(assets, sessions)

	_, err := p.Submit(context.Background(), workstation(), Overrides{}, Options{})
	assert.ErrorIs(t, err, glpi.ErrDuplicate)
	assert.Zero(t, sessions.calls)
	assert.Equal(t, 1, assets.createCalls)
}

// TestSubmitAgainstServer drives the real client through a minimal apirest.php.
func TestSubmitAgainstServer(t *testing.T) {
	var (
		mu      sync.Mutex
		created map[string]any
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/apirest.php/initSession", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"session_token": "tok-1"})
	})
	mux.HandleFunc("/apirest.php/search/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"totalcount": 0, "count": 0})
	})
	mux.HandleFunc("/apirest.php/Computer/", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input map[string]any `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		created = body.Input
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 42, "message": ""})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sessions, err := glpi.NewSessionManager(glpi.Config{
		BaseURL:        srv.URL,
		AppToken:       "app-token",
		VerifySSL:      true,
		RequestTimeout: 2 * time.Second,
		SessionTimeout: time.Hour,
	})
	require.NoError(t, err)
	_, err = sessions.Login(context.Background(), glpi.Credentials{Username: "tech", Password: secmem.NewSecureString("pw")})
	require.NoError(t, err)

	assets := glpi.NewAssetClient(sessions, glpi.WithComponentLinking(false))
	p := New(assets, sessions)

	res, err := p.Submit(context.Background(), workstation(), Overrides{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, res.Status)
	assert.Equal(t, 42, res.Asset.ID)
	assert.Equal(t, srv.URL+"/front/computer.form.php?id=42", res.Locator)
	assert.Equal(t, []glpi.UnresolvedName{
		{ItemType: "Manufacturer", Name: "LENOVO"},
		{ItemType: "ComputerModel", Name: "20L8S02D00"},
	}, res.Unresolved)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "SN-12345", created["serial"])
	assert.Equal(t, "ws-042", created["name"])
	assert.NotContains(t, created, "manufacturers_id")
}
