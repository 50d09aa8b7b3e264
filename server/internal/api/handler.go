package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/nasalert/nasalert/pkg/types"
	"github.com/nasalert/nasalert/server/internal/alerts"
	"github.com/nasalert/nasalert/server/internal/identity"
)

// Prefix is the path every API route lives under.
const Prefix = "/api/v2.0"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// AlertService is the alert manager as seen by the API. *alerts.Manager
// implements it.
type AlertService interface {
	List(ctx context.Context) []*alerts.Alert
	Dismiss(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) error
	OneShotCreate(ctx context.Context, klass string, args map[string]any) (*alerts.Alert, error)
	OneShotDelete(ctx context.Context, klass string, query any) error
	Effective(c *alerts.Class) (alerts.Level, alerts.Policy)
}

// IdentityService resolves users and groups. *identity.Chain implements it.
type IdentityService interface {
	LookupUser(ctx context.Context, id string) (*identity.User, error)
	LookupGroup(ctx context.Context, id string) (*identity.Group, error)
	Users(ctx context.Context) ([]*identity.User, error)
	Groups(ctx context.Context) ([]*identity.Group, error)
}

// Handler is the HTTP handler for all /api/v2.0/* endpoints.
type Handler struct {
	alerts AlertService
	ids    IdentityService
	mux    *http.ServeMux
}

// New creates a Handler and registers all routes. ids may be nil, in which
// case the identity routes are not served.
func New(as AlertService, ids IdentityService) http.Handler {
	h := &Handler{alerts: as, ids: ids, mux: http.NewServeMux()}

	h.mux.HandleFunc(Prefix+"/alert/list/", h.list)
	h.mux.HandleFunc(Prefix+"/alert/list_categories/", h.listCategories)
	h.mux.HandleFunc(Prefix+"/alert/list_policies/", h.listPolicies)
	h.mux.HandleFunc(Prefix+"/alert/dismiss/", h.dismiss)
	h.mux.HandleFunc(Prefix+"/alert/restore/", h.restore)
	h.mux.HandleFunc(Prefix+"/alert/oneshot_create/", h.oneshotCreate)
	h.mux.HandleFunc(Prefix+"/alert/oneshot_delete/", h.oneshotDelete)
	h.mux.HandleFunc(Prefix+"/alert/classes/", h.classes)
	if ids != nil {
		h.mux.HandleFunc(Prefix+"/user/", h.user) // subtree, extracts {id}
		h.mux.HandleFunc(Prefix+"/group/", h.group)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- alert routes -------------------------------------------------------------

// list returns GET /alert/list/ with an optional ?id= filter.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	out := BuildAlerts(h.alerts.List(r.Context()))
	if id := r.URL.Query().Get("id"); id != "" {
		filtered := make([]types.Alert, 0, 1)
		for _, a := range out {
			if a.ID == id {
				filtered = append(filtered, a)
			}
		}
		out = filtered
	}
	jsonResp(w, http.StatusOK, out)
}

// listCategories returns every category with at least one registered class.
func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	byCat := make(map[alerts.Category][]types.ClassRef)
	for _, c := range alerts.Classes() {
		level, _ := h.alerts.Effective(c)
		byCat[c.Category] = append(byCat[c.Category], types.ClassRef{
			ID:    c.Name,
			Title: c.Title,
			Level: level.String(),
		})
	}
	out := make([]types.Category, 0, len(byCat))
	for _, cat := range alerts.Categories() {
		refs, ok := byCat[cat]
		if !ok {
			continue
		}
		out = append(out, types.Category{ID: string(cat), Title: cat.Title(), Classes: refs})
	}
	jsonResp(w, http.StatusOK, out)
}

func (h *Handler) listPolicies(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	ps := alerts.Policies()
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, string(p))
	}
	jsonResp(w, http.StatusOK, out)
}

// dismiss handles POST /alert/dismiss/ with a JSON string id body.
func (h *Handler) dismiss(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.alerts.Dismiss)
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.alerts.Restore)
}

func (h *Handler) byID(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var id string
	if err := decode(r, &id); err != nil {
		jsonErr(w, http.StatusBadRequest, "body must be a JSON string alert id")
		return
	}
	if err := op(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, nil)
}

func (h *Handler) oneshotCreate(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req types.OneShotCreateRequest
	if err := decode(r, &req); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := h.alerts.OneShotCreate(r.Context(), req.Klass, req.Args)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, BuildAlert(a))
}

func (h *Handler) oneshotDelete(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req types.OneShotDeleteRequest
	if err := decode(r, &req); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.alerts.OneShotDelete(r.Context(), req.Klass, req.Query); err != nil {
		writeError(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, nil)
}

// classes returns every registered class with its effective level and policy.
func (h *Handler) classes(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	cs := alerts.Classes()
	out := make([]types.Class, 0, len(cs))
	for _, c := range cs {
		level, policy := h.alerts.Effective(c)
		out = append(out, types.Class{
			ID:                   c.Name,
			Category:             string(c.Category),
			Title:                c.Title,
			Level:                level.String(),
			Policy:               string(policy),
			OneShot:              c.OneShot,
			DeletedAutomatically: c.DeletedAutomatically,
		})
	}
	jsonResp(w, http.StatusOK, out)
}

// --- identity routes ----------------------------------------------------------

// user returns GET /user/ (all users) or GET /user/{id}/ (one user by name or uid).
func (h *Handler) user(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	id := pathID(r.URL.Path, Prefix+"/user/")
	if id == "" {
		users, err := h.ids.Users(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if users == nil {
			users = []*identity.User{}
		}
		jsonResp(w, http.StatusOK, users)
		return
	}
	u, err := h.ids.LookupUser(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, u)
}

func (h *Handler) group(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	id := pathID(r.URL.Path, Prefix+"/group/")
	if id == "" {
		groups, err := h.ids.Groups(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if groups == nil {
			groups = []*identity.Group{}
		}
		jsonResp(w, http.StatusOK, groups)
		return
	}
	g, err := h.ids.LookupGroup(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, g)
}

// --- helpers ----------------------------------------------------------------

// allow answers 405 unless r uses method.
func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}

// pathID extracts {id} from prefix + "{id}/". Percent-encoded names are
// already decoded in URL.Path.
func pathID(path, prefix string) string {
	return strings.Trim(strings.TrimPrefix(path, prefix), "/")
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, alerts.ErrNotFound), errors.Is(err, identity.ErrNotFound):
		jsonErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, alerts.ErrUnknownClass), errors.Is(err, alerts.ErrInvalid):
		jsonErr(w, http.StatusBadRequest, err.Error())
	default:
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		jsonErr(w, http.StatusInternalServerError, "internal error")
	}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, types.ErrorResponse{Error: msg})
}
