package livepreview

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/livepick/kit"
	"github.com/hazyhaar/livepick/livepreview/selection"
)

// Requests and responses shared by the MCP tools and the HTTP server.

type renderRequest struct {
	RawCode    string `json:"raw_code"`
	Stylesheet string `json:"stylesheet,omitempty"`
}

type editModeRequest struct {
	Enabled bool `json:"enabled"`
}

type pickRequest struct {
	IdentityTag string `json:"identity_tag,omitempty"`
	Selector    string `json:"selector,omitempty"`
}

type dispatchRequest struct {
	IdentityTag string `json:"identity_tag"`
	Event       string `json:"event"`
}

type emptyRequest struct{}

// SelectionResponse is the current selection with its edit-request
// context. Target is nil when nothing is selected.
type SelectionResponse struct {
	State  State   `json:"state"`
	Target *Target `json:"target,omitempty"`
}

// ValidateResponse reports the outcome of a manual validation.
type ValidateResponse struct {
	Valid     bool                `json:"valid"`
	Selection *selection.Snapshot `json:"selection,omitempty"`
}

var errBadRequest = errors.New("livepreview: bad request")

// endpoints are built once per transport; every call goes through the
// logging and recovery middleware.
type endpoints struct {
	render, editMode, pick, dispatch, selection, validate, clear kit.Endpoint
}

func (s *Session) endpoints() endpoints {
	wrap := func(op string, ep kit.Endpoint) kit.Endpoint {
		mws := []kit.Middleware{s.sessionScope, kit.Logging(s.logger, op)}
		if s.audit != nil {
			mws = append(mws, s.audit.Middleware("livepreview", op))
		}
		mws = append(mws, kit.Recovery(s.logger))
		return kit.Chain(mws...)(ep)
	}
	return endpoints{
		render:    wrap("render", s.renderEndpoint),
		editMode:  wrap("edit_mode", s.editModeEndpoint),
		pick:      wrap("pick", s.pickEndpoint),
		dispatch:  wrap("dispatch", s.dispatchEndpoint),
		selection: wrap("selection", s.selectionEndpoint),
		validate:  wrap("validate", s.validateEndpoint),
		clear:     wrap("clear", s.clearEndpoint),
	}
}

// sessionScope stamps the session id on the call context.
func (s *Session) sessionScope(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		return next(kit.WithSessionID(ctx, s.id), req)
	}
}

func (s *Session) renderEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*renderRequest)
	return s.Render(ctx, SourceDocument{RawCode: r.RawCode, Stylesheet: r.Stylesheet})
}

func (s *Session) editModeEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*editModeRequest)
	if err := s.SetEditMode(ctx, r.Enabled); err != nil {
		return nil, err
	}
	return s.State(), nil
}

func (s *Session) pickEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*pickRequest)
	switch {
	case r.IdentityTag != "":
		return s.Pick(ctx, r.IdentityTag)
	case r.Selector != "":
		return s.PickSelector(ctx, r.Selector)
	}
	return nil, fmt.Errorf("%w: identity_tag or selector required", errBadRequest)
}

func (s *Session) dispatchEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*dispatchRequest)
	if r.IdentityTag == "" || r.Event == "" {
		return nil, fmt.Errorf("%w: identity_tag and event required", errBadRequest)
	}
	return s.Dispatch(ctx, r.IdentityTag, r.Event)
}

func (s *Session) selectionEndpoint(_ context.Context, _ any) (any, error) {
	resp := SelectionResponse{State: s.State()}
	if t, err := s.Target(); err == nil {
		resp.Target = &t
	}
	return resp, nil
}

func (s *Session) validateEndpoint(ctx context.Context, _ any) (any, error) {
	valid, err := s.Validate(ctx)
	if err != nil {
		return nil, err
	}
	return ValidateResponse{Valid: valid, Selection: s.State().Selection}, nil
}

func (s *Session) clearEndpoint(ctx context.Context, _ any) (any, error) {
	if err := s.ClearSelection(ctx); err != nil {
		return nil, err
	}
	return s.State(), nil
}
