package livepreview

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/livepick/idgen"
	"github.com/hazyhaar/livepick/kit"
	"github.com/hazyhaar/livepick/shield"
)

// RegisterHTTP registers the preview endpoints on a chi router.
//
//	POST   /api/source         render {raw_code, stylesheet}
//	GET    /preview            the preview document
//	POST   /api/edit-mode      {enabled}
//	POST   /api/pick           {identity_tag | selector}
//	POST   /api/pick/{tag}     pick by identity tag
//	POST   /api/dispatch       {identity_tag, event}
//	GET    /api/selection      selection and edit-request context
//	POST   /api/validate       manual validation
//	DELETE /api/selection      clear the selection
func (s *Session) RegisterHTTP(r chi.Router) {
	ep := s.endpoints()

	r.Get("/preview", s.handlePreview)
	r.Post("/api/source", serveJSON[renderRequest](ep.render))
	r.Post("/api/edit-mode", serveJSON[editModeRequest](ep.editMode))
	r.Post("/api/pick", serveJSON[pickRequest](ep.pick))
	r.Post("/api/pick/{tag}", func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, ep.pick, &pickRequest{IdentityTag: chi.URLParam(r, "tag")})
	})
	r.Post("/api/dispatch", serveJSON[dispatchRequest](ep.dispatch))
	r.Get("/api/selection", serveEmpty(ep.selection))
	r.Post("/api/validate", serveEmpty(ep.validate))
	r.Delete("/api/selection", serveEmpty(ep.clear))
}

// Handler returns a router serving RegisterHTTP's routes behind the
// shield middleware stack.
func (s *Session) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.Stack(s.logger) {
		r.Use(mw)
	}
	s.RegisterHTTP(r)
	return r
}

func (s *Session) handlePreview(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(s.HTML()))
}

func serveJSON[T any](ep kit.Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req T
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		serve(w, r, ep, &req)
	}
}

func serveEmpty(ep kit.Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, ep, &emptyRequest{})
	}
}

func serve(w http.ResponseWriter, r *http.Request, ep kit.Endpoint, req any) {
	ctx := r.Context()
	if kit.GetRequestID(ctx) == "" {
		// Routes mounted on a router without the shield stack.
		id := idgen.New()
		ctx = kit.WithRequestID(kit.WithTransport(ctx, "http"), id)
		w.Header().Set("X-Request-ID", id)
	}

	resp, err := ep(ctx, req)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoSelection):
		return http.StatusNotFound
	case errors.Is(err, ErrNotEditing), errors.Is(err, ErrNotRendered):
		return http.StatusConflict
	case errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, errBadRequest), errors.Is(err, ErrInvalidSelector):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
