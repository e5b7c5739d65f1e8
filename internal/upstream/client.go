// Package upstream implements the upstream client: it issues HTTP
// calls against resolved upstream URLs and normalizes status, headers, and
// JSON/binary response bodies.
//
// net/http is used rather than fasthttp.Client because outbound requests
// need multipart file forwarding, which net/http's mime/multipart package
// handles natively.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/nulpointcorp/gateway-mesh/internal/gwerr"
)

// gatewayPrivateParams are query keys that configure the gateway itself and
// must never be forwarded upstream.
var gatewayPrivateParams = map[string]struct{}{
	"aggregate": {},
	"join":      {},
}

// FilePart is one multipart file attachment from the inbound request.
type FilePart struct {
	FieldName string
	FileName  string
	Content   []byte
	MIMEType  string
}

// Request is one outbound upstream call.
type Request struct {
	Method string
	URL    string

	// Headers are forwarded verbatim except for hop-by-hop exclusions
	// callers should already have stripped before constructing Request.
	Headers map[string]string

	// Query carries the original inbound query parameters, including the
	// gateway-private ones — Do strips them before forwarding.
	Query url.Values

	// JSONBody is the raw inbound JSON body, set only when the inbound
	// Content-Type was application/json.
	JSONBody []byte

	// FormBody carries inbound form fields to be merged with Query and
	// form-encoded (or multipart-encoded, if Files is non-empty) for
	// POST/PUT/PATCH when JSONBody is empty.
	FormBody url.Values

	Files []FilePart
}

// Response is a normalized upstream response.
type Response struct {
	Status  int
	Headers map[string]string

	// JSON holds the decoded body when it parsed as JSON; Raw always holds
	// the original bytes regardless.
	JSON any
	Raw  []byte
}

// IsJSON reports whether the response body decoded as JSON.
func (r *Response) IsJSON() bool { return r.JSON != nil }

// Client issues outbound HTTP calls to upstream services.
type Client struct {
	http *http.Client
}

// New builds a Client over httpClient, or http.DefaultClient if nil.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient}
}

// Do issues req and returns a normalized Response. Transport failures are
// wrapped as *gwerr.GatewayError identifying the origin error; non-2xx
// upstream statuses are returned as a normal Response, never as an error —
// non-2xx statuses are propagated, not raised.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := c.buildHTTPRequest(ctx, req)
	if err != nil {
		return nil, gwerr.New(gwerr.KindUpstreamTransport, "build request for "+req.URL, err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, gwerr.New(gwerr.KindUpstreamTransport, fmt.Sprintf("%T", err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerr.New(gwerr.KindUpstreamTransport, "read response body from "+req.URL, err)
	}

	out := &Response{
		Status:  resp.StatusCode,
		Headers: flattenHeaders(resp.Header),
		Raw:     body,
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err == nil {
		out.JSON = parsed
	}

	return out, nil
}

func (c *Client) buildHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	cleanQuery := cleanGatewayParams(req.Query)

	switch req.Method {
	case http.MethodGet, http.MethodDelete:
		u := req.URL
		if enc := cleanQuery.Encode(); enc != "" {
			u += "?" + enc
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, nil)
		if err != nil {
			return nil, err
		}
		applyHeaders(httpReq, req.Headers)
		return httpReq, nil

	default:
		return c.buildMutatingRequest(ctx, req, cleanQuery)
	}
}

// buildMutatingRequest builds a POST/PUT/PATCH request. If the inbound
// request carried a JSON body, it is forwarded raw. Otherwise the cleaned
// query parameters and form body are merged and either form-encoded or, if
// files are present, multipart-encoded.
func (c *Client) buildMutatingRequest(ctx context.Context, req *Request, cleanQuery url.Values) (*http.Request, error) {
	if len(req.JSONBody) > 0 {
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.JSONBody))
		if err != nil {
			return nil, err
		}
		applyHeaders(httpReq, req.Headers)
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	}

	merged := url.Values{}
	for k, vs := range cleanQuery {
		merged[k] = append(merged[k], vs...)
	}
	for k, vs := range req.FormBody {
		merged[k] = append(merged[k], vs...)
	}

	if len(req.Files) == 0 {
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, strings.NewReader(merged.Encode()))
		if err != nil {
			return nil, err
		}
		applyHeaders(httpReq, req.Headers)
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return httpReq, nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, vs := range merged {
		for _, v := range vs {
			if err := mw.WriteField(k, v); err != nil {
				return nil, fmt.Errorf("upstream: write form field %q: %w", k, err)
			}
		}
	}
	for _, f := range req.Files {
		part, err := mw.CreatePart(filePartHeader(f))
		if err != nil {
			return nil, fmt.Errorf("upstream: create multipart part %q: %w", f.FileName, err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, fmt.Errorf("upstream: write multipart content %q: %w", f.FileName, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("upstream: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, &buf)
	if err != nil {
		return nil, err
	}
	applyHeaders(httpReq, req.Headers)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	return httpReq, nil
}

func filePartHeader(f FilePart) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.FieldName, f.FileName))
	if f.MIMEType != "" {
		h.Set("Content-Type", f.MIMEType)
	}
	return h
}

func cleanGatewayParams(q url.Values) url.Values {
	cleaned := url.Values{}
	for k, vs := range q {
		if _, private := gatewayPrivateParams[k]; private {
			continue
		}
		cleaned[k] = vs
	}
	return cleaned
}

func applyHeaders(r *http.Request, headers map[string]string) {
	for k, v := range headers {
		r.Header.Set(k, v)
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
