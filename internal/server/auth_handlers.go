package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dgellow/mcp-workers/internal/crypto"
	"github.com/dgellow/mcp-workers/internal/envutil"
	"github.com/dgellow/mcp-workers/internal/instrumentation"
	"github.com/dgellow/mcp-workers/internal/ioutil"
	jsonwriter "github.com/dgellow/mcp-workers/internal/json"
	"github.com/dgellow/mcp-workers/internal/log"
	"github.com/dgellow/mcp-workers/internal/oauth"
	"github.com/dgellow/mcp-workers/internal/urlutil"
)

// maxBodyBytes bounds registration, approval and token request bodies.
const maxBodyBytes = 1 << 20

// AuthHandlersConfig carries the collaborators of AuthHandlers
type AuthHandlersConfig struct {
	Issuer    string
	Registrar *oauth.Registrar
	Flow      *oauth.AuthorizationFlow
	Exchange  *oauth.TokenExchange
	CSRF      *crypto.CSRFProtection
	Tracer    trace.Tracer
}

// AuthHandlers provides OAuth HTTP handlers with dependency injection
type AuthHandlers struct {
	issuer            string
	authorizeEndpoint string
	approveEndpoint   string
	metadata          []byte
	registrar         *oauth.Registrar
	flow              *oauth.AuthorizationFlow
	exchange          *oauth.TokenExchange
	csrf              *crypto.CSRFProtection
	tracer            trace.Tracer
}

// NewAuthHandlers creates new auth handlers with dependency injection. The
// discovery document is built once here since it depends only on the issuer.
func NewAuthHandlers(cfg AuthHandlersConfig) (*AuthHandlers, error) {
	metadata, err := oauth.AuthorizationServerMetadata(cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("building authorization server metadata: %w", err)
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding authorization server metadata: %w", err)
	}
	approveEndpoint, err := urlutil.JoinPath(cfg.Issuer, oauth.ApprovePath)
	if err != nil {
		return nil, err
	}
	if cfg.CSRF == nil {
		return nil, errors.New("csrf protection is required")
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = instrumentation.NewNoop().Tracer("server")
	}

	return &AuthHandlers{
		issuer:            cfg.Issuer,
		authorizeEndpoint: metadata.AuthorizationEndpoint,
		approveEndpoint:   approveEndpoint,
		metadata:          encoded,
		registrar:         cfg.Registrar,
		flow:              cfg.Flow,
		exchange:          cfg.Exchange,
		csrf:              cfg.CSRF,
		tracer:            tracer,
	}, nil
}

// WellKnownHandler serves OAuth 2.0 Authorization Server Metadata (RFC 8414)
func (h *AuthHandlers) WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		jsonwriter.WriteMethodNotAllowed(w, "GET, HEAD, OPTIONS")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.metadata)
}

// RegisterHandler implements dynamic client registration (RFC 7591)
func (h *AuthHandlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonwriter.WriteMethodNotAllowed(w, "POST, OPTIONS")
		return
	}
	ctx, span := h.tracer.Start(r.Context(), "oauth.register")
	defer span.End()

	body, err := ioutil.ReadAtMost(r.Body, maxBodyBytes)
	if err != nil {
		h.writeOAuthError(w, span, oauth.NewError(oauth.ErrInvalidClientMetadata, "request body too large or unreadable"))
		return
	}

	req, err := oauth.ParseRegistrationRequest(body)
	if err != nil {
		h.writeOAuthError(w, span, oauth.AsError(err))
		return
	}

	client, err := h.registrar.Register(ctx, req)
	if err != nil {
		h.writeOAuthError(w, span, oauth.AsError(err))
		return
	}
	span.SetAttributes(attribute.String(instrumentation.AttrClientID, client.ClientID))
	instrumentation.SetOK(span)

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	if err := jsonwriter.WriteResponse(w, http.StatusCreated, oauth.NewRegistrationResponse(client)); err != nil {
		log.LogError("Failed to encode registration response: %v", err)
	}
}

// AuthorizeHandler renders the consent page for a valid authorization request
func (h *AuthHandlers) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteMethodNotAllowed(w, "GET")
		return
	}
	ctx := r.Context()
	query := r.URL.Query()
	params := oauth.ParseAuthorizeParams(query)

	// Some clients omit state; in development mode mint one instead of failing their flow later.
	if envutil.IsDev() && params.State == "" {
		state, err := crypto.GenerateSecureToken()
		if err != nil {
			jsonwriter.WriteInternalServerError(w, "Internal server error")
			return
		}
		params.State = state
		log.LogWarnWithFields("authorize", "Development mode: generated missing state parameter", map[string]any{
			"client_id": params.ClientID,
		})
	}

	valid, err := oauth.ValidateAuthorizeParams(params)
	if err != nil {
		renderErrorPage(w, http.StatusBadRequest, "Invalid authorization request", oauth.AsError(err))
		return
	}

	clientName := valid.ClientID
	client, err := h.flow.LookupClient(ctx, valid.ClientID)
	if err != nil {
		oerr := oauth.AsError(err)
		renderErrorPage(w, oerr.Status(), "Invalid authorization request", oerr)
		return
	}
	if client.ClientName != "" {
		clientName = client.ClientName
	}

	csrfToken, err := h.csrf.Generate()
	if err != nil {
		log.LogError("Failed to generate CSRF token: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal server error")
		return
	}

	data := ConsentPageData{
		ClientID:         valid.ClientID,
		ClientName:       clientName,
		RedirectURI:      valid.RedirectURI,
		Resource:         valid.Resource,
		Scope:            valid.Scope,
		ApproveURL:       h.approveEndpoint,
		CSRFToken:        csrfToken,
		PasswordRequired: h.flow.PasswordRequired(),
		InvalidPassword:  query.Get("error") == oauth.ErrInvalidPassword.Error(),
		Hidden:           hiddenFields(params),
	}
	renderPage(w, http.StatusOK, consentPageTemplate, data)
}

// ApproveHandler handles the consent form submission
func (h *AuthHandlers) ApproveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonwriter.WriteMethodNotAllowed(w, "POST")
		return
	}
	ctx, span := h.tracer.Start(r.Context(), "oauth.approve")
	defer span.End()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, span, oauth.NewError(oauth.ErrInvalidRequest, "malformed form body"))
		return
	}

	if !h.csrf.Validate(r.PostForm.Get("csrf_token")) {
		h.writeOAuthError(w, span, oauth.NewError(oauth.ErrInvalidRequest, "consent form expired, please retry the authorization"))
		return
	}

	params := oauth.ParseAuthorizeParams(r.PostForm)
	valid, err := oauth.ValidateAuthorizeParams(params)
	if err != nil {
		h.writeOAuthError(w, span, oauth.AsError(err))
		return
	}

	target, err := h.flow.Approve(ctx, valid, r.PostForm.Get("password"))
	if errors.Is(err, oauth.ErrInvalidPassword) {
		back, berr := oauth.InvalidPasswordRedirect(h.authorizeEndpoint, params)
		if berr != nil {
			h.writeOAuthError(w, span, oauth.AsError(berr))
			return
		}
		span.SetAttributes(attribute.String(instrumentation.AttrOutcome, "invalid_password"))
		http.Redirect(w, r, back, http.StatusSeeOther)
		return
	}
	if err != nil {
		h.writeOAuthError(w, span, oauth.AsError(err))
		return
	}

	instrumentation.SetOK(span)
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// TokenHandler exchanges an authorization code for an access token
func (h *AuthHandlers) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonwriter.WriteMethodNotAllowed(w, "POST, OPTIONS")
		return
	}
	ctx, span := h.tracer.Start(r.Context(), "oauth.token")
	defer span.End()

	body, err := ioutil.ReadAtMost(r.Body, maxBodyBytes)
	if errors.Is(err, ioutil.ErrTooLarge) {
		h.writeOAuthError(w, span, oauth.NewError(oauth.ErrInvalidRequest, "request body too large"))
		return
	}
	if err != nil {
		h.writeOAuthError(w, span, oauth.NewError(oauth.ErrServerError, "failed to read token request"))
		return
	}

	req, err := parseTokenRequest(r.Header.Get("Content-Type"), body)
	if err != nil {
		log.LogDebugWithFields("token", "Unparseable token request", map[string]any{
			"content_type": r.Header.Get("Content-Type"),
			"error":        err.Error(),
		})
		h.writeOAuthError(w, span, oauth.NewError(oauth.ErrServerError, "failed to parse token request"))
		return
	}
	span.SetAttributes(
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrGrantType, req.GrantType),
	)

	resp, err := h.exchange.Exchange(ctx, *req)
	if err != nil {
		h.writeOAuthError(w, span, oauth.AsError(err))
		return
	}

	instrumentation.SetOK(span)
	oauth.WriteTokenResponse(w, resp)
}

func (h *AuthHandlers) writeOAuthError(w http.ResponseWriter, span trace.Span, e *oauth.Error) {
	span.SetAttributes(attribute.String(instrumentation.AttrError, string(e.Code)))
	instrumentation.RecordError(span, e)
	oauth.WriteError(w, e)
}

// parseTokenRequest accepts form-encoded and JSON bodies. Anything else is
// tried as form-encoded text.
func parseTokenRequest(contentType string, body []byte) (*oauth.TokenRequest, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}

	switch mediaType {
	case "application/json":
		var req oauth.TokenRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("decoding JSON body: %w", err)
		}
		return &req, nil
	default:
		values, err := url.ParseQuery(strings.TrimSpace(string(body)))
		if err != nil {
			return nil, fmt.Errorf("decoding form body: %w", err)
		}
		return &oauth.TokenRequest{
			GrantType:    values.Get("grant_type"),
			Code:         values.Get("code"),
			RedirectURI:  values.Get("redirect_uri"),
			ClientID:     values.Get("client_id"),
			CodeVerifier: values.Get("code_verifier"),
			ClientSecret: values.Get("client_secret"),
		}, nil
	}
}

func hiddenFields(p oauth.AuthorizeParams) []HiddenField {
	v := p.Values()
	fields := make([]HiddenField, 0, len(v))
	for _, name := range []string{"client_id", "redirect_uri", "response_type", "code_challenge", "code_challenge_method", "scope", "state", "resource"} {
		if val := v.Get(name); val != "" {
			fields = append(fields, HiddenField{Name: name, Value: val})
		}
	}
	return fields
}

func renderErrorPage(w http.ResponseWriter, status int, title string, e *oauth.Error) {
	renderPage(w, status, errorPageTemplate, ErrorPageData{
		Title:       title,
		Code:        string(e.Code),
		Description: e.Description,
	})
}

func renderPage(w http.ResponseWriter, status int, tmpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none'")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, data); err != nil {
		log.LogError("Failed to render %s page: %v", tmpl.Name(), err)
	}
}
