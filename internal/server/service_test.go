package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ThiagoRGoveia/desvios/internal/auth"
	"github.com/ThiagoRGoveia/desvios/internal/database"
	"github.com/ThiagoRGoveia/desvios/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// MockRecordStore is a mock implementation of the RecordStore interface.
type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) EnsureInitialized(ctx context.Context, storeID string) error {
	args := m.Called(ctx, storeID)
	return args.Error(0)
}

func (m *MockRecordStore) Append(ctx context.Context, storeID string, record models.Deviation) error {
	args := m.Called(ctx, storeID, record)
	return args.Error(0)
}

func (m *MockRecordStore) AppendBatch(ctx context.Context, storeID string, records []models.Deviation) error {
	args := m.Called(ctx, storeID, records)
	return args.Error(0)
}

func (m *MockRecordStore) ReadAll(ctx context.Context, storeID string) ([]models.Deviation, error) {
	args := m.Called(ctx, storeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Deviation), args.Error(1)
}

func (m *MockRecordStore) Close() error {
	return nil
}

const (
	testUser     = "gestao"
	testPassword = "senha-do-teste"
)

var fixedNow = time.Date(2025, 6, 3, 14, 30, 5, 0, time.Local)

func newTestHandler(t *testing.T, store database.RecordStore, warehouses ...string) http.Handler {
	t.Helper()

	originalTimeNow := timeNow
	timeNow = func() time.Time { return fixedNow }
	t.Cleanup(func() { timeNow = originalTimeNow })

	if len(warehouses) == 0 {
		warehouses = []string{"HB3", "HB1/HB2"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	authenticator, err := auth.NewAuthenticator(map[string]string{testUser: string(hash)})
	require.NoError(t, err)

	sessionStore := auth.NewSessionStore(strings.Repeat("x", 32), auth.SessionOptions{MaxAge: 3600})
	service := NewDeviationService(store, authenticator, sessionStore, models.ParseWarehouses(warehouses), zap.NewNop())
	return SetupRoutes(service, zap.NewNop())
}

func postForm(handler http.Handler, path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func get(handler http.Handler, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func login(t *testing.T, handler http.Handler, warehouse string) []*http.Cookie {
	t.Helper()
	rr := postForm(handler, "/login", url.Values{
		"username":     {testUser},
		"password":     {testPassword},
		"galpao_login": {warehouse},
	})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	require.Equal(t, "/dashboard", rr.Header().Get("Location"))
	cookies := rr.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies
}

func TestDeviationService_ShowForm(t *testing.T) {
	t.Run("should render the warehouse select", func(t *testing.T) {
		handler := newTestHandler(t, new(MockRecordStore))

		rr := get(handler, "/")

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `name="galpao"`)
		assert.Contains(t, rr.Body.String(), `value="HB1/HB2"`)
		assert.NotEmpty(t, rr.Header().Get(requestIDHeader))
	})

	t.Run("should hide the select for single site deployments", func(t *testing.T) {
		handler := newTestHandler(t, new(MockRecordStore), "HB3")

		rr := get(handler, "/")

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.NotContains(t, rr.Body.String(), `name="galpao"`)
	})

	t.Run("should return 404 for unknown paths", func(t *testing.T) {
		handler := newTestHandler(t, new(MockRecordStore))

		assert.Equal(t, http.StatusNotFound, get(handler, "/nope").Code)
	})
}

func TestDeviationService_SubmitDeviation(t *testing.T) {
	t.Run("should append the record with a server timestamp", func(t *testing.T) {
		store := new(MockRecordStore)
		handler := newTestHandler(t, store)
		expected := models.Deviation{
			Timestamp:   "2025-06-03 14:30:05",
			Type:        "EPI",
			Description: "operador sem luvas",
			Warehouse:   "HB1/HB2",
		}
		store.On("Append", mock.Anything, "hb1hb2", expected).Return(nil).Once()

		rr := postForm(handler, "/", url.Values{
			"desvio_tipo": {"EPI"},
			"descricao":   {"operador sem luvas"},
			"galpao":      {"HB1/HB2"},
			"timestamp":   {"1999-01-01 00:00:00"},
		})

		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, "/", rr.Header().Get("Location"))
		store.AssertExpectations(t)

		followUp := get(handler, "/", rr.Result().Cookies()...)
		assert.Contains(t, followUp.Body.String(), msgSaved)
	})

	t.Run("should reject a missing warehouse without writing", func(t *testing.T) {
		store := new(MockRecordStore)
		handler := newTestHandler(t, store)

		rr := postForm(handler, "/", url.Values{"desvio_tipo": {"EPI"}, "descricao": {"x"}})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), msgWarehouseMissing)
		assert.Contains(t, rr.Body.String(), `value="EPI"`)
		store.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("should reject an unknown warehouse without writing", func(t *testing.T) {
		store := new(MockRecordStore)
		handler := newTestHandler(t, store)

		rr := postForm(handler, "/", url.Values{"desvio_tipo": {"EPI"}, "galpao": {"HB9"}})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), msgWarehouseInvalid)
		store.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("should use the only warehouse of a single site deployment", func(t *testing.T) {
		store := new(MockRecordStore)
		handler := newTestHandler(t, store, "HB3")
		store.On("Append", mock.Anything, "hb3", mock.MatchedBy(func(d models.Deviation) bool {
			return d.Warehouse == "HB3" && d.Type == "Limpeza"
		})).Return(nil).Once()

		rr := postForm(handler, "/", url.Values{"desvio_tipo": {"Limpeza"}})

		assert.Equal(t, http.StatusSeeOther, rr.Code)
		store.AssertExpectations(t)
	})

	t.Run("should report storage failures generically", func(t *testing.T) {
		store := new(MockRecordStore)
		handler := newTestHandler(t, store)
		store.On("Append", mock.Anything, "hb3", mock.Anything).Return(errors.New("disk full")).Once()

		rr := postForm(handler, "/", url.Values{"desvio_tipo": {"EPI"}, "galpao": {"HB3"}})

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Contains(t, rr.Body.String(), msgSaveFailed)
		assert.NotContains(t, rr.Body.String(), "disk full")
	})
}

func TestDeviationService_SubmitDeviation_CSVStore(t *testing.T) {
	dir := t.TempDir()
	store := database.NewCSVStore(dir)
	handler := newTestHandler(t, store)

	rr := postForm(handler, "/", url.Values{"desvio_tipo": {"EPI"}, "galpao": {"HB3"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)

	before, err := os.ReadFile(store.Path("hb3"))
	require.NoError(t, err)

	rr = postForm(handler, "/", url.Values{"desvio_tipo": {"EPI"}, "descricao": {"sem galpão"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	after, err := os.ReadFile(store.Path("hb3"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 2, bytes.Count(after, []byte("\n")), "header plus one record")
}

func TestDeviationService_SubmitDeviation_MultilineDescription(t *testing.T) {
	t.Run("should store textarea line breaks as LF", func(t *testing.T) {
		store := new(MockRecordStore)
		handler := newTestHandler(t, store)
		store.On("Append", mock.Anything, "hb3", mock.MatchedBy(func(d models.Deviation) bool {
			return d.Description == "linha1\nlinha2\nlinha3"
		})).Return(nil).Once()

		rr := postForm(handler, "/", url.Values{
			"desvio_tipo": {"EPI"},
			"descricao":   {"linha1\r\nlinha2\rlinha3"},
			"galpao":      {"HB3"},
		})

		assert.Equal(t, http.StatusSeeOther, rr.Code)
		store.AssertExpectations(t)
	})

	t.Run("should read back the stored description unchanged", func(t *testing.T) {
		ctx := context.Background()
		store := database.NewCSVStore(t.TempDir())
		handler := newTestHandler(t, store)

		rr := postForm(handler, "/", url.Values{
			"desvio_tipo": {"EPI"},
			"descricao":   {"linha1\r\nlinha2"},
			"galpao":      {"HB3"},
		})
		require.Equal(t, http.StatusSeeOther, rr.Code)

		records, err := store.ReadAll(ctx, "hb3")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "linha1\nlinha2", records[0].Description)

		require.NoError(t, store.Append(ctx, "hb3", records[0]))
		again, err := store.ReadAll(ctx, "hb3")
		require.NoError(t, err)
		assert.Equal(t, records[0], again[1])
	})
}

func TestDeviationService_Login(t *testing.T) {
	t.Run("should use the same message for wrong password and unknown user", func(t *testing.T) {
		handler := newTestHandler(t, new(MockRecordStore))

		wrongPassword := postForm(handler, "/login", url.Values{"username": {testUser}, "password": {"x"}, "galpao_login": {"HB3"}})
		unknownUser := postForm(handler, "/login", url.Values{"username": {"outro"}, "password": {testPassword}, "galpao_login": {"HB3"}})

		for _, rr := range []*httptest.ResponseRecorder{wrongPassword, unknownUser} {
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Contains(t, rr.Body.String(), "Usuário ou senha inválidos.")
			assert.Empty(t, rr.Result().Cookies())
		}
	})

	t.Run("should not start a session without a valid warehouse", func(t *testing.T) {
		handler := newTestHandler(t, new(MockRecordStore))

		for _, warehouse := range []string{"", "HB9"} {
			rr := postForm(handler, "/login", url.Values{"username": {testUser}, "password": {testPassword}, "galpao_login": {warehouse}})

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, rr.Body.String(), msgLoginWarehouse)
			assert.Empty(t, rr.Result().Cookies())
		}
	})

	t.Run("should start a session for the chosen warehouse", func(t *testing.T) {
		store := new(MockRecordStore)
		handler := newTestHandler(t, store)
		store.On("ReadAll", mock.Anything, "hb1hb2").Return([]models.Deviation{}, nil).Once()

		cookies := login(t, handler, "HB1/HB2")
		rr := get(handler, "/dashboard", cookies...)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "HB1/HB2")
		store.AssertExpectations(t)
	})

	t.Run("should default the warehouse for single site deployments", func(t *testing.T) {
		handler := newTestHandler(t, new(MockRecordStore), "HB3")
		login(t, handler, "")
	})
}

func TestDeviationService_Logout(t *testing.T) {
	handler := newTestHandler(t, new(MockRecordStore))
	cookies := login(t, handler, "HB3")

	rr := get(handler, "/logout", cookies...)

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))
	expired := rr.Result().Cookies()
	require.Len(t, expired, 1)
	assert.Equal(t, auth.SessionName, expired[0].Name)
	assert.Less(t, expired[0].MaxAge, 0)
}

func TestDeviationService_Dashboard(t *testing.T) {
	t.Run("should redirect anonymous users to login", func(t *testing.T) {
		rr := get(newTestHandler(t, new(MockRecordStore)), "/dashboard")

		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, "/login", rr.Header().Get("Location"))
	})

	t.Run("should render top and bottom frequencies", func(t *testing.T) {
		store := new(MockRecordStore)
		handler := newTestHandler(t, store)
		var records []models.Deviation
		for _, label := range []string{"EPI", " EPI", "Limpeza", "EPI", "Ruído", "Ruído", "Ruído"} {
			records = append(records, models.Deviation{Type: label, Warehouse: "HB3"})
		}
		store.On("ReadAll", mock.Anything, "hb3").Return(records, nil).Once()

		rr := get(handler, "/dashboard", login(t, handler, "HB3")...)

		assert.Equal(t, http.StatusOK, rr.Code)
		body := rr.Body.String()
		assert.Contains(t, body, "<strong>7</strong>")
		assert.Less(t, strings.Index(body, "EPI"), strings.Index(body, "Ruído"), "equal counts keep first seen order")
		assert.Less(t, strings.Index(body, "Ruído"), strings.Index(body, "Limpeza"))
		assert.Contains(t, body, "Nenhum outro tipo de desvio.")
	})

	t.Run("should render an empty store as an empty dashboard", func(t *testing.T) {
		store := new(MockRecordStore)
		handler := newTestHandler(t, store)
		store.On("ReadAll", mock.Anything, "hb3").Return([]models.Deviation{}, nil).Once()

		rr := get(handler, "/dashboard", login(t, handler, "HB3")...)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "Nenhum desvio registrado.")
	})

	t.Run("should fail when the store cannot be read", func(t *testing.T) {
		store := new(MockRecordStore)
		handler := newTestHandler(t, store)
		store.On("ReadAll", mock.Anything, "hb3").Return(nil, errors.New("io error")).Once()

		rr := get(handler, "/dashboard", login(t, handler, "HB3")...)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("should drop sessions for warehouses no longer configured", func(t *testing.T) {
		cookies := login(t, newTestHandler(t, new(MockRecordStore)), "HB3")
		handler := newTestHandler(t, new(MockRecordStore), "HB1/HB2")

		rr := get(handler, "/dashboard", cookies...)

		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, "/login", rr.Header().Get("Location"))
	})
}

func TestDeviationService_Download(t *testing.T) {
	records := []models.Deviation{
		{Timestamp: "2025-06-01 08:00:00", Type: "EPI", Description: "capacete", Warehouse: "HB1/HB2"},
		{Timestamp: "2025-06-01 09:00:00", Type: "Limpeza", Description: "óleo", Warehouse: "HB1/HB2"},
	}

	t.Run("should redirect anonymous users to login", func(t *testing.T) {
		rr := get(newTestHandler(t, new(MockRecordStore)), "/download")

		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, "/login", rr.Header().Get("Location"))
	})

	t.Run("should answer 404 in plain text for empty stores", func(t *testing.T) {
		store := new(MockRecordStore)
		handler := newTestHandler(t, store)
		store.On("ReadAll", mock.Anything, "hb3").Return([]models.Deviation{}, nil).Once()

		rr := get(handler, "/download", login(t, handler, "HB3")...)

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, msgNothingToExport+"\n", rr.Body.String())
		assert.Contains(t, rr.Header().Get("Content-Type"), "text/plain")
	})

	t.Run("should stream the workbook as an attachment", func(t *testing.T) {
		store := new(MockRecordStore)
		handler := newTestHandler(t, store)
		store.On("ReadAll", mock.Anything, "hb1hb2").Return(records, nil).Once()

		rr := get(handler, "/download", login(t, handler, "HB1/HB2")...)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rr.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename=relatorio_desvios_HB1_HB2.xlsx`, rr.Header().Get("Content-Disposition"))
		assert.NotEmpty(t, rr.Header().Get("ETag"))

		f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
		require.NoError(t, err)
		defer f.Close()
		rows, err := f.GetRows("Relatorio_Desvios_HB1_HB2")
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})

	t.Run("should answer 304 when the store did not change", func(t *testing.T) {
		store := new(MockRecordStore)
		handler := newTestHandler(t, store)
		store.On("ReadAll", mock.Anything, "hb1hb2").Return(records, nil).Twice()
		cookies := login(t, handler, "HB1/HB2")

		first := get(handler, "/download", cookies...)
		require.Equal(t, http.StatusOK, first.Code)

		req := httptest.NewRequest(http.MethodGet, "/download", nil)
		req.Header.Set("If-None-Match", first.Header().Get("ETag"))
		for _, c := range cookies {
			req.AddCookie(c)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotModified, rr.Code)
		assert.Empty(t, rr.Body.Bytes())
		store.AssertExpectations(t)
	})

	t.Run("should reject sessions without a configured warehouse", func(t *testing.T) {
		cookies := login(t, newTestHandler(t, new(MockRecordStore)), "HB3")
		handler := newTestHandler(t, new(MockRecordStore), "HB1/HB2")

		rr := get(handler, "/download", cookies...)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, msgSessionWarehouse+"\n", rr.Body.String())
	})
}

func TestDeviationService_Health(t *testing.T) {
	rr := get(newTestHandler(t, new(MockRecordStore)), "/healthz")

	assert.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, fixedNow.UTC().Format(time.RFC3339), body["time"])
}
