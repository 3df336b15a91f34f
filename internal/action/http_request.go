package action

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mbflow/wfengine/internal/domain"
	"github.com/mbflow/wfengine/internal/template"
)

// HTTPRequestConfig is the "action" payload for uses=http_request.
// Every string field may carry template tokens, resolved against the
// process's env and prior node outputs immediately before the request
// is issued.
type HTTPRequestConfig struct {
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Query     map[string]string `json:"query"`
	Body      json.RawMessage   `json:"body"`
	TimeoutMS uint64            `json:"timeout_ms"`
	Auth      AuthConfig        `json:"auth"`
}

// HTTPRequestAction issues one HTTP call, resolving templates in the
// URL, headers, query parameters, and body, then reports status code,
// headers, and body back as node outputs.
type HTTPRequestAction struct {
	cfg    HTTPRequestConfig
	client *http.Client
}

// NewHTTPRequestAction validates cfg and builds the action instance.
func NewHTTPRequestAction(raw json.RawMessage) (Action, error) {
	var cfg HTTPRequestConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if cfg.URL == "" {
		return nil, domain.NewError(domain.ErrValidation, "http_request action requires a non-empty url", nil)
	}
	return &HTTPRequestAction{cfg: cfg, client: &http.Client{}}, nil
}

func (a *HTTPRequestAction) Kind() domain.ActionKind { return domain.ActionHTTPRequest }

func (a *HTTPRequestAction) Run(ctx RunContext, nid string) Outcome {
	resolvedURL, err := template.ResolveTemplate(ctx, a.cfg.URL)
	if err != nil {
		return Exception(err.Error())
	}

	parsed, err := url.Parse(resolvedURL)
	if err != nil {
		return Exception("invalid url after template resolution: " + err.Error())
	}
	if len(a.cfg.Query) > 0 {
		q := parsed.Query()
		for k, v := range a.cfg.Query {
			resolvedV, err := template.ResolveTemplate(ctx, v)
			if err != nil {
				return Exception(err.Error())
			}
			q.Set(k, resolvedV)
		}
		parsed.RawQuery = q.Encode()
	}

	var bodyReader io.Reader
	if len(a.cfg.Body) > 0 {
		var bodyValue any
		if err := json.Unmarshal(a.cfg.Body, &bodyValue); err != nil {
			return Exception("invalid body in action config: " + err.Error())
		}
		resolved, err := template.ResolveJSON(ctx, bodyValue)
		if err != nil {
			return Exception(err.Error())
		}
		encoded, err := json.Marshal(resolved)
		if err != nil {
			return Exception("failed to re-encode resolved body: " + err.Error())
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(a.cfg.Method, parsed.String(), bodyReader)
	if err != nil {
		return Exception("failed to build request: " + err.Error())
	}
	for k, v := range a.cfg.Headers {
		resolvedV, err := template.ResolveTemplate(ctx, v)
		if err != nil {
			return Exception(err.Error())
		}
		req.Header.Set(k, resolvedV)
	}
	if req.Header.Get("Content-Type") == "" && bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := applyAuth(ctx, req, a.cfg.Auth); err != nil {
		return Exception(err.Error())
	}
	for k, v := range a.cfg.Auth.Header {
		resolvedV, err := template.ResolveTemplate(ctx, v)
		if err != nil {
			return Exception(err.Error())
		}
		req.Header.Set(k, resolvedV)
	}

	client := a.client
	if a.cfg.TimeoutMS > 0 {
		cl := *a.client
		cl.Timeout = time.Duration(a.cfg.TimeoutMS) * time.Millisecond
		client = &cl
	}

	resp, err := client.Do(req)
	if err != nil {
		return Failed("http request failed: " + err.Error())
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return Failed("failed to read response body: " + err.Error())
	}

	headers := make(map[string]any, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	return Succeeded(map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        string(bodyBytes),
	})
}
