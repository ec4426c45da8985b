package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/mo"

	"widerow/pkg/compression"
	"widerow/pkg/types"
)

const (
	defaultTimeout  = 3 * time.Second
	contentTypeJSON = "application/json"
)

var ErrUnexpectedStatus = errors.New("unexpected status")

// response mirrors the server's JSON envelope.
type response struct {
	Status  string         `json:"status"`
	Value   []byte         `json:"value"`
	Columns []types.Column `json:"columns"`
	Count   *int           `json:"count"`
	Counter *int64         `json:"counter"`
	Error   string         `json:"error"`
}

// Client is a column family served by a remote node.
type Client struct {
	baseURL string
	client  *http.Client
}

type ClientOption func(*Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// redirects (307 to the raft leader) are followed by default
		client: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) rowURL(row string, rest ...string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString("/api/rows/")
	b.WriteString(url.PathEscape(row))
	for _, p := range rest {
		b.WriteByte('/')
		b.WriteString(p)
	}
	return b.String()
}

// do sends the request and decodes the envelope. found is false when the
// server answers 404 with its JSON envelope.
func (c *Client) do(ctx context.Context, method, u string, body any) (resp response, found bool, err error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return resp, false, fmt.Errorf("marshal %s body: %w", method, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return resp, false, fmt.Errorf("create %s request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	req.Header.Set("Accept-Encoding", compression.AcceptEncoding)

	hr, err := c.client.Do(req)
	if err != nil {
		return resp, false, fmt.Errorf("%s do: %w", method, err)
	}
	defer hr.Body.Close()

	var rb io.ReadCloser
	if method != http.MethodHead {
		if rb, err = compression.NewReader(hr.Header.Get("Content-Encoding"), hr.Body); err != nil {
			return resp, false, fmt.Errorf("%s body: %w", method, err)
		}
		defer rb.Close()
	}

	// only the server's own envelope says a row is absent; a bare 404 means
	// the route or base URL is wrong
	envelope := strings.HasPrefix(hr.Header.Get("Content-Type"), contentTypeJSON)
	switch {
	case method == http.MethodHead:
	case envelope:
		if err := json.NewDecoder(rb).Decode(&resp); err != nil && !errors.Is(err, io.EOF) {
			return resp, false, fmt.Errorf("decode %s body: %w", method, err)
		}
	default:
		msg, _ := io.ReadAll(io.LimitReader(rb, 1024))
		resp.Error = strings.TrimSpace(string(msg))
	}

	switch {
	case hr.StatusCode == http.StatusNotFound && envelope:
		return resp, false, nil
	case hr.StatusCode != http.StatusOK:
		return resp, false, fmt.Errorf("%s %s: %w %d: %s", method, u, ErrUnexpectedStatus, hr.StatusCode, resp.Error)
	}
	return resp, true, nil
}

// FetchPage asks the remote node for one page. A missing row is mo.None.
func (c *Client) FetchPage(ctx context.Context, req types.PageRequest) (mo.Option[types.Page], error) {
	u := c.rowURL(req.Row, "columns") + "?" + EncodePage(req).Encode()
	resp, found, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil || !found {
		return mo.None[types.Page](), err
	}
	if resp.Columns == nil {
		return mo.Some(types.Page{}), nil
	}
	return mo.Some(types.Page(resp.Columns)), nil
}

func (c *Client) GetRow(ctx context.Context, row string, sl types.Slice) (mo.Option[types.Page], error) {
	u := c.rowURL(row)
	if q := EncodeSlice(sl); len(q) > 0 {
		u += "?" + q.Encode()
	}
	resp, found, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil || !found || len(resp.Columns) == 0 {
		return mo.None[types.Page](), err
	}
	return mo.Some(types.Page(resp.Columns)), nil
}

func (c *Client) GetRows(ctx context.Context, rows []string, sl types.Slice) (map[string]types.Page, error) {
	res := make(map[string]types.Page, len(rows))
	for _, row := range rows {
		page, err := c.GetRow(ctx, row, sl)
		if err != nil {
			return nil, err
		}
		if p, ok := page.Get(); ok {
			res[row] = p
		}
	}
	return res, nil
}

func (c *Client) GetColumn(ctx context.Context, row string, column []byte) ([]byte, bool, error) {
	resp, found, err := c.do(ctx, http.MethodGet, c.rowURL(row, "columns", url.PathEscape(string(column))), nil)
	if err != nil || !found {
		return nil, false, err
	}
	if resp.Value == nil {
		resp.Value = []byte{}
	}
	return resp.Value, true, nil
}

func (c *Client) ColumnCount(ctx context.Context, row string, sl types.Slice) (int, error) {
	u := c.rowURL(row, "count")
	if q := EncodeSlice(sl); len(q) > 0 {
		u += "?" + q.Encode()
	}
	resp, found, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil || !found || resp.Count == nil {
		return 0, err
	}
	return *resp.Count, nil
}

func (c *Client) RowExists(ctx context.Context, row string) (bool, error) {
	_, found, err := c.do(ctx, http.MethodHead, c.rowURL(row), nil)
	return found, err
}

func (c *Client) Update(ctx context.Context, row string, columns []types.Column) error {
	_, _, err := c.mutate(ctx, http.MethodPut, c.rowURL(row), map[string]any{"columns": columns})
	return err
}

func (c *Client) DeleteRow(ctx context.Context, row string) error {
	_, _, err := c.mutate(ctx, http.MethodDelete, c.rowURL(row), nil)
	return err
}

func (c *Client) DeleteColumns(ctx context.Context, row string, columns [][]byte) error {
	_, _, err := c.mutate(ctx, http.MethodDelete, c.rowURL(row, "columns"), map[string]any{"names": columns})
	return err
}

func (c *Client) Increment(ctx context.Context, row string, column []byte, delta int64) (int64, error) {
	u := c.rowURL(row, "columns", url.PathEscape(string(column)), "increment") +
		"?" + ParamDelta + "=" + strconv.FormatInt(delta, 10)
	resp, _, err := c.mutate(ctx, http.MethodPost, u, nil)
	if err != nil {
		return 0, err
	}
	if resp.Counter == nil {
		return 0, fmt.Errorf("increment: response without counter")
	}
	return *resp.Counter, nil
}

// mutations have no "absent" outcome, so a 404 is an error too
func (c *Client) mutate(ctx context.Context, method, u string, body any) (response, bool, error) {
	resp, found, err := c.do(ctx, method, u, body)
	if err == nil && !found {
		err = fmt.Errorf("%s %s: %w %d: %s", method, u, ErrUnexpectedStatus, http.StatusNotFound, resp.Error)
	}
	return resp, found, err
}
