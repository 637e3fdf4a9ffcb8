// Package chi wires the query core to its HTTP surface: search, key
// management, curation and synonym administration, and cache control.
package chi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/textdex/internal/cache"
	"github.com/kailas-cloud/textdex/internal/domain"
	"github.com/kailas-cloud/textdex/internal/domain/apikey"
	"github.com/kailas-cloud/textdex/internal/domain/collection"
	"github.com/kailas-cloud/textdex/internal/domain/collection/field"
	"github.com/kailas-cloud/textdex/internal/domain/override"
	"github.com/kailas-cloud/textdex/internal/domain/search/param"
	"github.com/kailas-cloud/textdex/internal/domain/synonym"
	"github.com/kailas-cloud/textdex/internal/index"
	"github.com/kailas-cloud/textdex/internal/metrics"
	authuc "github.com/kailas-cloud/textdex/internal/usecase/auth"
	curationuc "github.com/kailas-cloud/textdex/internal/usecase/curation"
	searchuc "github.com/kailas-cloud/textdex/internal/usecase/search"
	synonymuc "github.com/kailas-cloud/textdex/internal/usecase/synonym"
)

// APIKeyHeader carries the API key on every authenticated request.
const APIKeyHeader = "X-TEXTDEX-API-KEY"

// Server exposes the query core over HTTP.
type Server struct {
	colls     *index.Manager
	auth      *authuc.Service
	search    *searchuc.Service
	synonyms  *synonymuc.Service
	overrides *curationuc.Service
	respCache *cache.ResponseCache
	logger    *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(
	colls *index.Manager,
	auth *authuc.Service,
	search *searchuc.Service,
	synonyms *synonymuc.Service,
	overrides *curationuc.Service,
	respCache *cache.ResponseCache,
	logger *zap.Logger,
) *Server {
	return &Server{
		colls:     colls,
		auth:      auth,
		search:    search,
		synonyms:  synonyms,
		overrides: overrides,
		respCache: respCache,
		logger:    logger,
	}
}

// Mount registers all routes on the router.
func (s *Server) Mount(r chi.Router) {
	r.Get("/health", s.healthCheck)
	r.Get("/metrics", s.metricsHandler)

	r.Post("/collections", s.createCollection)
	r.Get("/collections", s.listCollections)
	r.Delete("/collections/{collection}", s.deleteCollection)

	r.Post("/collections/{collection}/documents", s.addDocument)
	r.Get("/collections/{collection}/search", s.searchCollection)

	r.Post("/keys", s.createKey)
	r.Get("/keys", s.listKeys)
	r.Get("/keys/{id}", s.getKey)
	r.Delete("/keys/{id}", s.deleteKey)

	r.Put("/collections/{collection}/overrides/{id}", s.upsertOverride)
	r.Get("/collections/{collection}/overrides", s.listOverrides)
	r.Get("/collections/{collection}/overrides/{id}", s.getOverride)
	r.Delete("/collections/{collection}/overrides/{id}", s.deleteOverride)

	r.Put("/collections/{collection}/synonyms/{id}", s.upsertSynonym)
	r.Get("/collections/{collection}/synonyms", s.listSynonyms)
	r.Get("/collections/{collection}/synonyms/{id}", s.getSynonym)
	r.Delete("/collections/{collection}/synonyms/{id}", s.deleteSynonym)

	r.Post("/cache/clear", s.clearCache)
}

// authorize authenticates the presented key for an action over collections,
// merging any scoped-key embedded parameters into params.
func (s *Server) authorize(
	w http.ResponseWriter, r *http.Request, action string, collections []string, params param.Params,
) bool {
	key := r.Header.Get(APIKeyHeader)
	if params == nil {
		params = param.Params{}
	}
	if !s.auth.Authenticate(r.Context(), key, action, collections, params) {
		writeError(w, http.StatusForbidden, "Forbidden - a valid `"+APIKeyHeader+"` header must be sent.")
		return false
	}
	return true
}

func (s *Server) healthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

type fieldPayload struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Facet    bool   `json:"facet"`
	Optional bool   `json:"optional"`
}

type collectionPayload struct {
	Name                string         `json:"name"`
	Fields              []fieldPayload `json:"fields"`
	DefaultSortingField string         `json:"default_sorting_field"`
}

func (s *Server) createCollection(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, "collections:create", nil, nil) {
		return
	}

	var req collectionPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	fields := make([]field.Field, 0, len(req.Fields))
	for _, f := range req.Fields {
		fld, err := field.New(f.Name, field.Type(f.Type), f.Facet, f.Optional)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		fields = append(fields, fld)
	}

	schema, err := collection.New(req.Name, fields, req.DefaultSortingField)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	col, err := s.colls.Create(schema)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, collectionToPayload(col.Schema()))
}

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, "collections:list", nil, nil) {
		return
	}

	names := s.colls.Names()
	payloads := make([]collectionPayload, 0, len(names))
	for _, name := range names {
		col, err := s.colls.Get(name)
		if err != nil {
			continue
		}
		payloads = append(payloads, collectionToPayload(col.Schema()))
	}
	writeJSON(w, http.StatusOK, payloads)
}

func (s *Server) deleteCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	if !s.authorize(w, r, "collections:delete", []string{name}, nil) {
		return
	}
	if err := s.colls.Drop(name); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	if !s.authorize(w, r, "documents:create", []string{name}, nil) {
		return
	}

	col, err := s.colls.Get(name)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if _, err := col.Add(doc); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) searchCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")

	params := param.Params{}
	for k, values := range r.URL.Query() {
		if len(values) > 0 {
			params[k] = values[0]
		}
	}

	if !s.authorize(w, r, apikey.ActionDocumentsSearch, []string{name}, params) {
		return
	}

	useCache := params.GetBool(param.UseCache, false)
	fingerprint := cache.Fingerprint("GET /collections/search/"+name, nil, params)

	if useCache {
		if cached, ok := s.respCache.Find(fingerprint); ok {
			metrics.CacheHitsTotal.Inc()
			w.Header().Set("Content-Type", cached.ContentType)
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		}
		metrics.CacheMissesTotal.Inc()
	}

	res, err := s.search.Search(r.Context(), name, params)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	body, err := json.Marshal(res)
	if err != nil {
		s.handleDomainError(w, domain.NewInternal("could not serialize search result: %v", err))
		return
	}

	if useCache {
		ttl := time.Duration(params.GetInt(param.CacheTTL, int(cache.DefaultTTL/time.Second))) * time.Second
		s.respCache.Insert(fingerprint, cache.Response{
			StatusCode:  http.StatusOK,
			ContentType: "application/json",
			Body:        body,
			TTL:         ttl,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) createKey(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, "keys:create", nil, nil) {
		return
	}

	var key apikey.Key
	if err := json.NewDecoder(r.Body).Decode(&key); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	created, err := s.auth.CreateKey(r.Context(), key)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, "keys:list", nil, nil) {
		return
	}
	keys, err := s.auth.ListKeys(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) getKey(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, "keys:get", nil, nil) {
		return
	}
	id, err := keyID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key, err := s.auth.GetKey(r.Context(), id, true)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (s *Server) deleteKey(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, "keys:delete", nil, nil) {
		return
	}
	id, err := keyID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	removed, err := s.auth.RemoveKey(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

func (s *Server) upsertOverride(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	if !s.authorize(w, r, "overrides:upsert", []string{name}, nil) {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	o, err := override.Parse(chi.URLParam(r, "id"), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.overrides.Upsert(r.Context(), name, o); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) listOverrides(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	if !s.authorize(w, r, "overrides:list", []string{name}, nil) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"overrides": s.overrides.List(name)})
}

func (s *Server) getOverride(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	if !s.authorize(w, r, "overrides:get", []string{name}, nil) {
		return
	}
	o, err := s.overrides.Get(name, chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) deleteOverride(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	if !s.authorize(w, r, "overrides:delete", []string{name}, nil) {
		return
	}
	if err := s.overrides.Remove(r.Context(), name, chi.URLParam(r, "id")); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) upsertSynonym(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	if !s.authorize(w, r, "synonyms:upsert", []string{name}, nil) {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	syn, err := synonym.Parse(withID(body, chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.synonyms.Upsert(r.Context(), name, syn); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, syn)
}

func (s *Server) listSynonyms(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	if !s.authorize(w, r, "synonyms:list", []string{name}, nil) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"synonyms": s.synonyms.List(name)})
}

func (s *Server) getSynonym(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	if !s.authorize(w, r, "synonyms:get", []string{name}, nil) {
		return
	}
	syn, err := s.synonyms.Get(name, chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, syn)
}

func (s *Server) deleteSynonym(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	if !s.authorize(w, r, "synonyms:delete", []string{name}, nil) {
		return
	}
	if err := s.synonyms.Remove(r.Context(), name, chi.URLParam(r, "id")); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, "cache:clear", nil, nil) {
		return
	}
	s.respCache.Clear()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	status := domain.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("internal error", zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	s.logger.Warn("domain error", zap.Error(err))

	var de *domain.Error
	if errors.As(err, &de) {
		writeError(w, status, de.Message)
		return
	}
	writeError(w, status, err.Error())
}

func keyID(r *http.Request) (uint32, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, errors.New("key id must be an unsigned integer")
	}
	return uint32(id), nil
}

// withID injects the URL id into a JSON body so the domain parser sees one
// consistent payload.
func withID(body []byte, id string) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return body
	}
	idJSON, _ := json.Marshal(id)
	obj["id"] = idJSON
	out, err := json.Marshal(obj)
	if err != nil {
		return body
	}
	return out
}

func collectionToPayload(schema collection.Schema) collectionPayload {
	fields := make([]fieldPayload, 0, len(schema.Fields()))
	for _, f := range schema.Fields() {
		fields = append(fields, fieldPayload{
			Name:     f.Name(),
			Type:     string(f.FieldType()),
			Facet:    f.Facet(),
			Optional: f.Optional(),
		})
	}
	return collectionPayload{
		Name:                schema.Name(),
		Fields:              fields,
		DefaultSortingField: schema.DefaultSortingField(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
