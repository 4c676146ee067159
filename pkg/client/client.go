// Package client is a thin HTTP client for the drive API, used by the CLI
// commands.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"odrive/pkg/protocol"
	"odrive/pkg/server"
)

// Client talks to one drive server as one identity.
type Client struct {
	baseURL string
	userDN  string
	http    *http.Client
}

func New(baseURL, userDN string) *Client {
	return &Client{
		baseURL: baseURL,
		userDN:  userDN,
		http:    &http.Client{},
	}
}

func (c *Client) Create(ctx context.Context, req protocol.CreateObjectRequest) (*protocol.ObjectResponse, error) {
	var out protocol.ObjectResponse
	if err := c.do(ctx, http.MethodPost, "/objects", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Get(ctx context.Context, id string) (*protocol.ObjectResponse, error) {
	var out protocol.ObjectResponse
	if err := c.do(ctx, http.MethodGet, "/objects/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) List(ctx context.Context, parentID string, pageNumber, pageSize int) (*protocol.ObjectResultset, error) {
	q := url.Values{}
	if parentID != "" {
		q.Set("parentId", parentID)
	}
	if pageNumber > 0 {
		q.Set("pageNumber", strconv.Itoa(pageNumber))
	}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	path := "/objects"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out protocol.ObjectResultset
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Update(ctx context.Context, id string, req protocol.UpdateObjectRequest) (*protocol.ObjectResponse, error) {
	var out protocol.ObjectResponse
	if err := c.do(ctx, http.MethodPost, "/objects/"+url.PathEscape(id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Trash(ctx context.Context, id, changeToken string) (*protocol.ObjectResponse, error) {
	var out protocol.ObjectResponse
	req := protocol.ChangeTokenRequest{ChangeToken: changeToken}
	if err := c.do(ctx, http.MethodPost, "/objects/"+url.PathEscape(id)+"/trash", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Restore(ctx context.Context, id, changeToken string) (*protocol.ObjectResponse, error) {
	var out protocol.ObjectResponse
	req := protocol.ChangeTokenRequest{ChangeToken: changeToken}
	if err := c.do(ctx, http.MethodPost, "/objects/"+url.PathEscape(id)+"/restore", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Move(ctx context.Context, id, changeToken, newParentID string) (*protocol.ObjectResponse, error) {
	var out protocol.ObjectResponse
	req := protocol.MoveObjectRequest{ChangeToken: changeToken, NewParentID: newParentID}
	if err := c.do(ctx, http.MethodPost, "/objects/"+url.PathEscape(id)+"/move", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Share(ctx context.Context, id string, req protocol.ShareRequest) (*protocol.GrantResponse, error) {
	var out protocol.GrantResponse
	if err := c.do(ctx, http.MethodPost, "/objects/"+url.PathEscape(id)+"/share", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RevokeShare(ctx context.Context, id, grantee string) error {
	path := "/objects/" + url.PathEscape(id) + "/share/" + url.PathEscape(grantee)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) ListTrashed(ctx context.Context) (*protocol.ObjectResultset, error) {
	var out protocol.ObjectResultset
	if err := c.do(ctx, http.MethodGet, "/trashed", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SharedWithMe(ctx context.Context) (*protocol.ObjectResultset, error) {
	var out protocol.ObjectResultset
	if err := c.do(ctx, http.MethodGet, "/shares/to-me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SharedByMe(ctx context.Context) (*protocol.ObjectResultset, error) {
	var out protocol.ObjectResultset
	if err := c.do(ctx, http.MethodGet, "/shares/by-me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set(server.IdentityHeader, c.userDN)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr protocol.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("client: %s (%d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("client: request failed with status %d", resp.StatusCode)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
