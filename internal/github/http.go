package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.github.com"
	userAgent      = "orgsyncd (https://github.com/orgsyncd/orgsyncd)"
)

// URL is an API endpoint together with the organization whose credential
// authorizes it. With per-org tokens the credential depends on the org,
// so carrying it alongside the URL keeps request construction simple.
type URL struct {
	path string
	org  string
}

// NewURL builds a URL from either an endpoint path or an absolute URL
// (as found in pagination Link headers).
func NewURL(path, org string) URL {
	return URL{path: path, org: org}
}

// OrgsURL builds an endpoint under /orgs/{org}/.
func OrgsURL(org, rest string) URL {
	return NewURL(fmt.Sprintf("orgs/%s/%s", org, rest), org)
}

// ReposURL builds an endpoint under /repos/{org}/{repo}/.
func ReposURL(org, repo, rest string) URL {
	if rest == "" {
		return NewURL(fmt.Sprintf("repos/%s/%s", org, repo), org)
	}
	return NewURL(fmt.Sprintf("repos/%s/%s/%s", org, repo, rest), org)
}

// HTTPClient is the shared transport for the read and write ports. It
// attaches the per-org credential to every request and exposes the two
// pagination shapes of the API: REST "next" links and GraphQL cursors.
type HTTPClient struct {
	client *http.Client
	tokens *Tokens
	base   string
}

// ClientOption customizes an HTTPClient.
type ClientOption func(*HTTPClient)

// WithBaseURL overrides the API base URL, mainly for tests.
func WithBaseURL(base string) ClientOption {
	return func(c *HTTPClient) {
		c.base = strings.TrimSuffix(base, "/")
	}
}

// NewHTTPClient creates the shared API transport.
func NewHTTPClient(tokens *Tokens, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		client: &http.Client{Timeout: 30 * time.Second},
		tokens: tokens,
		base:   defaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UsesPAT reports whether a shared personal access token is in use.
func (c *HTTPClient) UsesPAT() bool {
	return c.tokens.UsesPAT()
}

func (c *HTTPClient) resolve(u URL) string {
	if strings.HasPrefix(u.path, "https://") || strings.HasPrefix(u.path, "http://") {
		return u.path
	}
	return c.base + "/" + u.path
}

func (c *HTTPClient) req(ctx context.Context, method string, u URL, body any) (*http.Request, error) {
	token, err := c.tokens.ForOrg(u.org)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	target := c.resolve(u)
	slog.Debug("github request", "method", method, "url", target)
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "token "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *HTTPClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request to %s: %w", req.URL, err)
	}
	return resp, nil
}

// errorForStatus turns a non-2xx response into an error carrying the
// response body, which is where the API puts its diagnostics.
func errorForStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s %s returned %s: %s", resp.Request.Method, resp.Request.URL, resp.Status, strings.TrimSpace(string(body)))
}

func decodeJSON(resp *http.Response, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response from %s: %w", resp.Request.Method, resp.Request.URL, err)
	}
	return nil
}

// Send issues a mutating request and discards the response body.
func (c *HTTPClient) Send(ctx context.Context, method string, u URL, body any) error {
	req, err := c.req(ctx, method, u, body)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return errorForStatus(resp)
}

// SendDecode issues a mutating request and decodes the JSON response.
func (c *HTTPClient) SendDecode(ctx context.Context, method string, u URL, body, out any) error {
	req, err := c.req(ctx, method, u, body)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := errorForStatus(resp); err != nil {
		return err
	}
	return decodeJSON(resp, out)
}

// SendOption issues a lookup that can legitimately miss: a 404 yields
// (false, nil) rather than an error.
func (c *HTTPClient) SendOption(ctx context.Context, method string, u URL, out any) (bool, error) {
	req, err := c.req(ctx, method, u, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := errorForStatus(resp); err != nil {
		return false, err
	}
	return true, decodeJSON(resp, out)
}

// SendAllowNotFound issues a delete-style request treating 404 as
// success: the desired end state is already reached.
func (c *HTTPClient) SendAllowNotFound(ctx context.Context, method string, u URL) error {
	req, err := c.req(ctx, method, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		slog.Debug("treating 404 as success", "method", method, "url", req.URL.String())
		return nil
	}
	return errorForStatus(resp)
}

// RestPaginated fetches every page of a REST listing, invoking fn once
// per page, following Link rel="next" headers until exhaustion. Callers
// never see partial collections.
func RestPaginated[T any](ctx context.Context, c *HTTPClient, method string, u URL, fn func(T) error) error {
	next := &u
	for next != nil {
		current := *next
		next = nil

		req, err := c.req(ctx, method, current, nil)
		if err != nil {
			return err
		}
		resp, err := c.do(req)
		if err != nil {
			return err
		}
		if err := errorForStatus(resp); err != nil {
			resp.Body.Close()
			return err
		}
		if link := nextLink(resp.Header.Get("Link")); link != "" {
			u := NewURL(link, current.org)
			next = &u
		}
		var page T
		err = decodeJSON(resp, &page)
		resp.Body.Close()
		if err != nil {
			return err
		}
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

// nextLink extracts the rel="next" target from a Link header, if any.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		var target string
		isNext := false
		for _, section := range strings.Split(part, ";") {
			section = strings.TrimSpace(section)
			if strings.HasPrefix(section, "<") && strings.HasSuffix(section, ">") {
				target = strings.Trim(section, "<>")
			}
			if section == `rel="next"` || section == "rel=next" {
				isNext = true
			}
		}
		if isNext {
			return target
		}
	}
	return ""
}

// PageInfo is the GraphQL pagination cursor object.
type PageInfo struct {
	EndCursor   *string `json:"endCursor"`
	HasNextPage bool    `json:"hasNextPage"`
}

// StartPage is the cursor state before the first GraphQL page is fetched.
func StartPage() PageInfo {
	return PageInfo{HasNextPage: true}
}

type graphError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type graphResult struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphError    `json:"errors"`
}

// GraphQL sends a query to the GraphQL endpoint and decodes the data
// object into out. Errors reported inline by the endpoint are surfaced
// as Go errors, with the failing path included when the API provides it.
func (c *HTTPClient) GraphQL(ctx context.Context, org, query string, variables, out any) error {
	request := struct {
		Query     string `json:"query"`
		Variables any    `json:"variables"`
	}{Query: query, Variables: variables}

	req, err := c.req(ctx, http.MethodPost, NewURL("graphql", org), request)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("sending graphql request: %w", err)
	}
	defer resp.Body.Close()
	if err := errorForStatus(resp); err != nil {
		return err
	}

	var result graphResult
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("graphql error: %s", result.Errors[0].Message)
	}
	if result.Data == nil {
		return fmt.Errorf("graphql response missing data")
	}
	if err := json.Unmarshal(result.Data, out); err != nil {
		return fmt.Errorf("decoding graphql data for query %q: %w", strings.Join(strings.Fields(query), " "), err)
	}
	return nil
}
