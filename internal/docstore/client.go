package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"roomledger.org/internal/codec"
	"roomledger.org/internal/obs"
)

// TokenSource supplies a valid bearer token for every request. The session
// manager is the only production implementation; requests never read token
// storage directly.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is the remote Store implementation speaking HTTPS/JSON.
type Client struct {
	base    string // e.g. https://db.example.com/v1/apps/roomledger/documents
	http    *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRateLimit caps outbound requests with a token bucket.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// NewClient creates a remote document client rooted at base.
func NewClient(base string, tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: 30 * time.Second},
		tokens: tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wire shapes ------------------------------------------------------------

type wireDocument struct {
	Name       string                 `json:"name,omitempty"`
	Fields     map[string]codec.Value `json:"fields,omitempty"`
	CreateTime string                 `json:"createTime,omitempty"`
	UpdateTime string                 `json:"updateTime,omitempty"`
}

func (c *Client) toWireDoc(name string, fields map[string]any) (wireDocument, error) {
	wf, err := codec.EncodeFields(fields)
	if err != nil {
		return wireDocument{}, err
	}
	return wireDocument{Name: name, Fields: wf}, nil
}

func (c *Client) fromWireDoc(w wireDocument) (Document, error) {
	fields, err := codec.DecodeFields(w.Fields)
	if err != nil {
		return Document{}, err
	}
	doc := Document{Name: trimDocPrefix(w.Name), Fields: fields}
	if w.CreateTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, w.CreateTime); err == nil {
			doc.CreateTime = t.UTC()
		}
	}
	if w.UpdateTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, w.UpdateTime); err == nil {
			doc.UpdateTime = t.UTC()
		}
	}
	return doc, nil
}

// trimDocPrefix reduces an absolute resource name to its collection/id form.
func trimDocPrefix(name string) string {
	if i := strings.LastIndex(name, "/documents/"); i >= 0 {
		return name[i+len("/documents/"):]
	}
	return name
}

// Store implementation ---------------------------------------------------

func (c *Client) Get(ctx context.Context, name string) (Document, error) {
	var w wireDocument
	if err := c.do(ctx, "get", http.MethodGet, c.base+"/"+name, nil, &w); err != nil {
		return Document{}, err
	}
	return c.fromWireDoc(w)
}

func (c *Client) Create(ctx context.Context, name string, fields map[string]any) (Document, error) {
	collection, id := splitName(name)
	body, err := c.toWireDoc("", fields)
	if err != nil {
		return Document{}, err
	}
	u := c.base + "/" + collection + "?documentId=" + url.QueryEscape(id)
	var w wireDocument
	if err := c.do(ctx, "create", http.MethodPost, u, body, &w); err != nil {
		return Document{}, err
	}
	return c.fromWireDoc(w)
}

func (c *Client) Update(ctx context.Context, name string, fields map[string]any, mask []string) (Document, error) {
	if len(mask) == 0 {
		return Document{}, ErrMissingMask
	}
	body, err := c.toWireDoc(trimDocPrefix(name), fields)
	if err != nil {
		return Document{}, err
	}
	q := url.Values{}
	for _, p := range mask {
		q.Add("updateMask.fieldPaths", p)
	}
	u := c.base + "/" + name + "?" + q.Encode()
	var w wireDocument
	if err := c.do(ctx, "update", http.MethodPatch, u, body, &w); err != nil {
		return Document{}, err
	}
	return c.fromWireDoc(w)
}

func (c *Client) Delete(ctx context.Context, name string) error {
	return c.do(ctx, "delete", http.MethodDelete, c.base+"/"+name, nil, nil)
}

func (c *Client) RunQuery(ctx context.Context, q Query) ([]Document, error) {
	body, err := c.structuredQuery(q)
	if err != nil {
		return nil, err
	}
	var resp []struct {
		Document *wireDocument `json:"document"`
	}
	if err := c.do(ctx, "runQuery", http.MethodPost, c.base+":runQuery", body, &resp); err != nil {
		return nil, err
	}
	var out []Document
	for _, item := range resp {
		if item.Document == nil {
			continue
		}
		doc, err := c.fromWireDoc(*item.Document)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (c *Client) BatchGet(ctx context.Context, names []string) ([]Document, error) {
	body := map[string]any{"documents": names}
	var resp []struct {
		Found   *wireDocument `json:"found"`
		Missing string        `json:"missing"`
	}
	if err := c.do(ctx, "batchGet", http.MethodPost, c.base+":batchGet", body, &resp); err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(resp))
	for _, item := range resp {
		if item.Found == nil {
			continue // missing documents are simply absent from the result
		}
		doc, err := c.fromWireDoc(*item.Found)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (c *Client) Commit(ctx context.Context, writes []Write) error {
	wire := make([]map[string]any, 0, len(writes))
	for _, w := range writes {
		if err := w.validate(); err != nil {
			return err
		}
		ww, err := c.wireWrite(w)
		if err != nil {
			return err
		}
		wire = append(wire, ww)
	}
	return c.do(ctx, "commit", http.MethodPost, c.base+":commit", map[string]any{"writes": wire}, nil)
}

func (c *Client) wireWrite(w Write) (map[string]any, error) {
	out := map[string]any{}
	switch w.Kind {
	case WriteCreate, WriteUpdate:
		doc, err := c.toWireDoc(w.Name, w.Fields)
		if err != nil {
			return nil, err
		}
		out["update"] = doc
		if w.Kind == WriteUpdate {
			out["updateMask"] = map[string]any{"fieldPaths": w.Mask}
		}
	case WriteDelete:
		out["delete"] = w.Name
	default:
		return nil, fmt.Errorf("%w: unknown write kind %d", ErrUnknown, w.Kind)
	}

	p := w.Precondition
	if p == nil && w.Kind == WriteCreate {
		p = Exists(false)
	}
	if p == nil && w.Kind == WriteUpdate {
		p = Exists(true)
	}
	if p != nil {
		cur := map[string]any{}
		if p.Exists != nil {
			cur["exists"] = *p.Exists
		}
		if p.UpdateTime != nil {
			cur["updateTime"] = p.UpdateTime.UTC().Format(time.RFC3339Nano)
		}
		out["currentDocument"] = cur
	}
	return out, nil
}

func (c *Client) structuredQuery(q Query) (map[string]any, error) {
	sq := map[string]any{
		"from": []map[string]any{{"collectionId": q.Collection}},
	}
	if len(q.Filters) > 0 {
		filters := make([]map[string]any, 0, len(q.Filters))
		for _, f := range q.Filters {
			v, err := codec.Encode(f.Value)
			if err != nil {
				return nil, err
			}
			filters = append(filters, map[string]any{
				"fieldFilter": map[string]any{
					"field": map[string]any{"fieldPath": f.Field},
					"op":    string(f.Op),
					"value": v,
				},
			})
		}
		if len(filters) == 1 {
			sq["where"] = filters[0]
		} else {
			sq["where"] = map[string]any{
				"compositeFilter": map[string]any{"op": "AND", "filters": filters},
			}
		}
	}
	if q.OrderBy != "" {
		dir := "ASCENDING"
		if q.Descending {
			dir = "DESCENDING"
		}
		sq["orderBy"] = []map[string]any{{
			"field":     map[string]any{"fieldPath": q.OrderBy},
			"direction": dir,
		}}
	}
	if q.Limit > 0 {
		sq["limit"] = q.Limit
	}
	return map[string]any{"structuredQuery": sq}, nil
}

// Transport --------------------------------------------------------------

func (c *Client) do(ctx context.Context, op, method, u string, body, out any) error {
	started := time.Now()
	done := obs.DocRequestStarted()
	err := c.doOnce(ctx, method, u, body, out)
	done()
	obs.ObserveDocRequest(op, ErrorCode(err), started)
	if err != nil {
		obs.LogOp(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "docstore request failed",
			"op":    op,
			"code":  ErrorCode(err),
		})
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, method, u string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: marshal request: %v", ErrUnknown, err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknown, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := FromStatusCode(resp.StatusCode); err != nil {
		// Read a little of the body for the log line, then drop it.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: %s %s: %s", err, method, req.URL.Path, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnknown, err)
	}
	return nil
}

func splitName(name string) (collection, id string) {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
