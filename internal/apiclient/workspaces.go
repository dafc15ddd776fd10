package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type Workspace struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Revision  string `json:"revision"`
	CreatedAt string `json:"createdAt"`
}

type WorkspaceList struct {
	Workspaces []Workspace `json:"workspaces"`
	NextCursor *string     `json:"nextCursor"`
}

func (c *Client) ListWorkspaces(ctx context.Context, cursor string, limit int) (WorkspaceList, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var out WorkspaceList
	err := c.Do(ctx, "/v1/workspaces", CallOptions{Query: q, Out: &out})
	return out, err
}

func (c *Client) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var out Workspace
	err := c.Do(ctx, "/v1/workspaces/"+url.PathEscape(workspaceID), CallOptions{Out: &out})
	return out, err
}

func (c *Client) CreateWorkspace(ctx context.Context, name string) (Workspace, error) {
	var out Workspace
	err := c.Do(ctx, "/v1/workspaces", CallOptions{
		Method: http.MethodPost,
		Body:   map[string]any{"name": name},
		Out:    &out,
	})
	return out, err
}

func (c *Client) RenameWorkspace(ctx context.Context, workspaceID, name, ifMatch string) (Workspace, error) {
	var out Workspace
	err := c.Do(ctx, "/v1/workspaces/"+url.PathEscape(workspaceID), CallOptions{
		Method:  http.MethodPatch,
		Body:    map[string]any{"name": name},
		IfMatch: ifMatch,
		Out:     &out,
	})
	return out, err
}

func (c *Client) DeleteWorkspace(ctx context.Context, workspaceID, ifMatch string) error {
	return c.Do(ctx, "/v1/workspaces/"+url.PathEscape(workspaceID), CallOptions{
		Method:  http.MethodDelete,
		IfMatch: ifMatch,
	})
}
