package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type Document struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Title       string `json:"title"`
	Revision    string `json:"revision"`
	UpdatedAt   string `json:"updatedAt"`
}

type DocumentList struct {
	Documents  []Document `json:"documents"`
	NextCursor *string    `json:"nextCursor"`
}

func (c *Client) ListDocuments(ctx context.Context, workspaceID, cursor string, limit int) (DocumentList, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var out DocumentList
	err := c.Do(ctx, fmt.Sprintf("/v1/workspaces/%s/documents", url.PathEscape(workspaceID)), CallOptions{Query: q, Out: &out})
	return out, err
}

func (c *Client) CreateDocument(ctx context.Context, workspaceID, title string) (Document, error) {
	var out Document
	err := c.Do(ctx, fmt.Sprintf("/v1/workspaces/%s/documents", url.PathEscape(workspaceID)), CallOptions{
		Method: http.MethodPost,
		Body:   map[string]any{"title": title},
		Out:    &out,
	})
	return out, err
}

func (c *Client) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var out Document
	err := c.Do(ctx, "/v1/documents/"+url.PathEscape(documentID), CallOptions{Out: &out})
	return out, err
}

// UpdateDocumentTitle uses optimistic concurrency: ifMatch must carry the
// revision from a prior read, and the server answers 412 on mismatch.
func (c *Client) UpdateDocumentTitle(ctx context.Context, documentID, title, ifMatch string) (Document, error) {
	var out Document
	err := c.Do(ctx, "/v1/documents/"+url.PathEscape(documentID), CallOptions{
		Method:  http.MethodPatch,
		Body:    map[string]any{"title": title},
		IfMatch: ifMatch,
		Out:     &out,
	})
	return out, err
}

func (c *Client) DeleteDocument(ctx context.Context, documentID, ifMatch string) error {
	return c.Do(ctx, "/v1/documents/"+url.PathEscape(documentID), CallOptions{
		Method:  http.MethodDelete,
		IfMatch: ifMatch,
	})
}

// SessionTicket is the short-lived credential the realtime channel presents
// in its hello frame.
type SessionTicket struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

func (c *Client) IssueSessionTicket(ctx context.Context, documentID string) (SessionTicket, error) {
	var out SessionTicket
	err := c.Do(ctx, fmt.Sprintf("/v1/documents/%s/session", url.PathEscape(documentID)), CallOptions{
		Method: http.MethodPost,
		Out:    &out,
	})
	return out, err
}
