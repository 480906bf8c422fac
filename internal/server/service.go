package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ThiagoRGoveia/desvios/internal/analysis"
	"github.com/ThiagoRGoveia/desvios/internal/auth"
	"github.com/ThiagoRGoveia/desvios/internal/database"
	"github.com/ThiagoRGoveia/desvios/internal/export"
	"github.com/ThiagoRGoveia/desvios/internal/models"
	"github.com/ThiagoRGoveia/desvios/pkg/checksum"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

// User facing messages.
const (
	msgWarehouseMissing   = "Selecione o galpão para o desvio."
	msgWarehouseInvalid   = "Galpão inválido selecionado."
	msgSaveFailed         = "Erro ao registrar o desvio."
	msgSaved              = "Desvio registrado com sucesso."
	msgInvalidForm        = "Formulário inválido."
	msgInvalidCredentials = "Usuário ou senha inválidos."
	msgLoginWarehouse     = "Selecione o galpão para acesso."
	msgLoadFailed         = "Falha ao carregar os desvios."
	msgSessionWarehouse   = "Erro: Galpão de acesso não definido na sessão."
	msgNothingToExport    = "Nenhum dado para exportar."
	msgExportFailed       = "Falha ao gerar a planilha."
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// overridden in tests
var timeNow = time.Now

type DeviationService struct {
	Store      database.RecordStore
	Auth       *auth.Authenticator
	Sessions   sessions.Store
	Warehouses models.Warehouses
	logger     *zap.Logger
}

func NewDeviationService(store database.RecordStore, authenticator *auth.Authenticator, sessionStore sessions.Store, warehouses models.Warehouses, logger *zap.Logger) *DeviationService {
	return &DeviationService{
		Store:      store,
		Auth:       authenticator,
		Sessions:   sessionStore,
		Warehouses: warehouses,
		logger:     logger,
	}
}

type formValues struct {
	Type        string
	Description string
	Warehouse   string
}

type warehouseOptions struct {
	Warehouses models.Warehouses
	Selected   string
}

type indexPage struct {
	SingleSite bool
	Options    warehouseOptions
	Form       formValues
	Error      string
	Flash      string
}

type loginPage struct {
	SingleSite bool
	Options    warehouseOptions
	Username   string
	Error      string
}

type dashboardPage struct {
	Warehouse string
	Analysis  models.FrequencyAnalysis
}

func (h *DeviationService) ShowForm(w http.ResponseWriter, r *http.Request) {
	page := h.newIndexPage(formValues{})

	session := h.session(r)
	if flashes := session.Flashes(); len(flashes) > 0 {
		page.Flash, _ = flashes[0].(string)
		if err := session.Save(r, w); err != nil {
			h.logger.Warn("failed to clear flash", zap.Error(err))
		}
	}

	h.render(w, http.StatusOK, "index.html", page)
}

func (h *DeviationService) SubmitDeviation(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderForm(w, http.StatusBadRequest, formValues{}, msgInvalidForm)
		return
	}

	form := formValues{
		Type:        normalizeNewlines(r.PostFormValue("desvio_tipo")),
		Description: normalizeNewlines(r.PostFormValue("descricao")),
		Warehouse:   strings.TrimSpace(r.PostFormValue("galpao")),
	}

	if form.Warehouse == "" && !h.Warehouses.SingleSite() {
		h.renderForm(w, http.StatusBadRequest, form, msgWarehouseMissing)
		return
	}
	warehouse, ok := h.Warehouses.Resolve(form.Warehouse)
	if !ok {
		h.renderForm(w, http.StatusBadRequest, form, msgWarehouseInvalid)
		return
	}

	record := models.Deviation{
		Timestamp:   timeNow().Format(models.TimestampLayout),
		Type:        form.Type,
		Description: form.Description,
		Warehouse:   warehouse.Name,
	}

	if err := h.Store.Append(r.Context(), warehouse.StoreID, record); err != nil {
		h.logger.Error("failed to record deviation",
			zap.String("warehouse", warehouse.Name),
			zap.Error(err))
		h.renderForm(w, http.StatusInternalServerError, form, msgSaveFailed)
		return
	}

	h.logger.Info("deviation recorded",
		zap.String("warehouse", warehouse.Name),
		zap.String("desvio_tipo", strings.TrimSpace(record.Type)))

	session := h.session(r)
	session.AddFlash(msgSaved)
	if err := session.Save(r, w); err != nil {
		h.logger.Warn("failed to save flash", zap.Error(err))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *DeviationService) ShowLogin(w http.ResponseWriter, r *http.Request) {
	h.renderLogin(w, http.StatusOK, "", "", "")
}

func (h *DeviationService) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderLogin(w, http.StatusBadRequest, "", "", msgInvalidForm)
		return
	}

	username := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")
	selected := strings.TrimSpace(r.PostFormValue("galpao_login"))

	if err := h.Auth.Verify(username, password); err != nil {
		h.logger.Warn("login failed", zap.String("username", username))
		h.renderLogin(w, http.StatusUnauthorized, username, selected, msgInvalidCredentials)
		return
	}

	warehouse, ok := h.Warehouses.Resolve(selected)
	if !ok {
		h.renderLogin(w, http.StatusBadRequest, username, selected, msgLoginWarehouse)
		return
	}

	session := h.session(r)
	auth.LogIn(session, warehouse.Name)
	if err := session.Save(r, w); err != nil {
		h.logger.Error("failed to save session", zap.Error(err))
		http.Error(w, "Failed to start session", http.StatusInternalServerError)
		return
	}

	h.logger.Info("login", zap.String("username", username), zap.String("warehouse", warehouse.Name))
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *DeviationService) Logout(w http.ResponseWriter, r *http.Request) {
	session := h.session(r)
	auth.LogOut(session)
	if err := session.Save(r, w); err != nil {
		h.logger.Warn("failed to clear session", zap.Error(err))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *DeviationService) Dashboard(w http.ResponseWriter, r *http.Request) {
	session := h.session(r)
	name, loggedIn := auth.SessionWarehouse(session)
	if !loggedIn {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	warehouse, ok := h.Warehouses.Lookup(name)
	if !ok {
		auth.LogOut(session)
		if err := session.Save(r, w); err != nil {
			h.logger.Warn("failed to clear session", zap.Error(err))
		}
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	records, err := h.Store.ReadAll(r.Context(), warehouse.StoreID)
	if err != nil {
		h.logger.Error("failed to read deviations", zap.String("warehouse", warehouse.Name), zap.Error(err))
		http.Error(w, msgLoadFailed, http.StatusInternalServerError)
		return
	}

	h.render(w, http.StatusOK, "dashboard.html", dashboardPage{
		Warehouse: warehouse.Name,
		Analysis:  analysis.Analyze(records),
	})
}

func (h *DeviationService) Download(w http.ResponseWriter, r *http.Request) {
	name, loggedIn := auth.SessionWarehouse(h.session(r))
	if !loggedIn {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	warehouse, ok := h.Warehouses.Lookup(name)
	if !ok {
		http.Error(w, msgSessionWarehouse, http.StatusBadRequest)
		return
	}

	records, err := h.Store.ReadAll(r.Context(), warehouse.StoreID)
	if err != nil {
		h.logger.Error("failed to read deviations", zap.String("warehouse", warehouse.Name), zap.Error(err))
		http.Error(w, msgLoadFailed, http.StatusInternalServerError)
		return
	}

	rows := make([][]string, len(records))
	for i, record := range records {
		rows[i] = record.Columns()
	}
	etag := strconv.Quote(checksum.CalculateHash(rows))
	if len(records) > 0 && r.Header.Get("If-None-Match") == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	data, err := export.Workbook(records, warehouse.Name)
	if errors.Is(err, export.ErrNothingToExport) {
		http.Error(w, msgNothingToExport, http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to build workbook", zap.String("warehouse", warehouse.Name), zap.Error(err))
		http.Error(w, msgExportFailed, http.StatusInternalServerError)
		return
	}

	if export.ExceedsCellLimit(records) {
		h.logger.Warn("workbook cells truncated to the Excel limit",
			zap.String("warehouse", warehouse.Name),
			zap.Int("max_cell_length", export.MaxCellLength))
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": export.FileName(warehouse.Name),
	}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, no-cache")
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("failed to stream workbook", zap.Error(err))
	}
}

func (h *DeviationService) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"time":   timeNow().UTC().Format(time.RFC3339),
	}); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// Browsers submit textarea line breaks as CRLF, which the store reader folds
// to LF. Storing LF keeps what is read back equal to what was written.
var newlineReplacer = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func normalizeNewlines(s string) string {
	return newlineReplacer.Replace(s)
}

// session never fails: an unreadable cookie yields a fresh anonymous session.
func (h *DeviationService) session(r *http.Request) *sessions.Session {
	session, err := h.Sessions.Get(r, auth.SessionName)
	if err != nil {
		h.logger.Debug("discarding unreadable session", zap.Error(err))
	}
	return session
}

func (h *DeviationService) newIndexPage(form formValues) indexPage {
	return indexPage{
		SingleSite: h.Warehouses.SingleSite(),
		Options:    warehouseOptions{Warehouses: h.Warehouses, Selected: form.Warehouse},
		Form:       form,
	}
}

func (h *DeviationService) renderForm(w http.ResponseWriter, status int, form formValues, message string) {
	page := h.newIndexPage(form)
	page.Error = message
	h.render(w, status, "index.html", page)
}

func (h *DeviationService) renderLogin(w http.ResponseWriter, status int, username, selected, message string) {
	h.render(w, status, "login.html", loginPage{
		SingleSite: h.Warehouses.SingleSite(),
		Options:    warehouseOptions{Warehouses: h.Warehouses, Selected: selected},
		Username:   username,
		Error:      message,
	})
}

func (h *DeviationService) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		h.logger.Error("failed to render template", zap.String("template", name), zap.Error(err))
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
