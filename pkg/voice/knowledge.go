package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/hallcall/hallcall-api/pkg/client"
)

// Document is a knowledge base document on the vendor side.
type Document struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UploadDocument uploads a file to the knowledge base.
func (c *Client) UploadDocument(ctx context.Context, name, filename string, content io.Reader) (*Document, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if name != "" {
		if err := w.WriteField("name", name); err != nil {
			return nil, err
		}
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("copy document: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var out Document
	err = c.http.Do(ctx, client.Request{
		Method:      http.MethodPost,
		Path:        "/v1/convai/knowledge-base/file",
		Body:        &buf,
		ContentType: w.FormDataContentType(),
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Name == "" {
		out.Name = filename
	}
	return &out, nil
}

// AddURLDocument asks the vendor to scrape a web page into the knowledge base.
func (c *Client) AddURLDocument(ctx context.Context, name, pageURL string) (*Document, error) {
	var out Document
	err := c.http.Do(ctx, client.Request{
		Method: http.MethodPost,
		Path:   "/v1/convai/knowledge-base/url",
		JSON:   map[string]string{"url": pageURL, "name": name},
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Name == "" {
		out.Name = pageURL
	}
	return &out, nil
}

// DeleteDocument removes a knowledge base document.
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	return c.http.Do(ctx, client.Request{
		Method: http.MethodDelete,
		Path:   "/v1/convai/knowledge-base/" + url.PathEscape(documentID),
		Query:  map[string]string{"force": "true"},
	}, nil)
}
