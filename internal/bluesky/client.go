// Package bluesky is a small PDS client for managing the feed generator
// record.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultPDS = "https://bsky.social"

	generatorCollection = "app.bsky.feed.generator"
)

// APIError is an XRPC error response.
type APIError struct {
	Status  int
	Name    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("xrpc status %d", e.Status)
	}
	return fmt.Sprintf("xrpc %s (status %d): %s", e.Name, e.Status, e.Message)
}

// Client talks to a PDS on behalf of the feed publisher.
type Client struct {
	pds        string
	httpClient *retryablehttp.Client

	// populated after Login
	accessJwt string
	did       syntax.DID
}

// NewClient creates a client for pds, defaulting to https://bsky.social.
func NewClient(pds string) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	hc := retryablehttp.NewClient()
	hc.RetryMax = 2
	hc.RetryWaitMax = 5 * time.Second
	hc.HTTPClient.Timeout = 30 * time.Second
	hc.Logger = nil
	return &Client{pds: pds, httpClient: hc}
}

// Login authenticates with an app password and stores the session token.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var resp createSessionResponse
	if err := c.call(ctx, "com.atproto.server.createSession", "application/json", mustJSON(body), &resp); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	did, err := syntax.ParseDID(resp.DID)
	if err != nil {
		return fmt.Errorf("session did: %w", err)
	}
	c.accessJwt = resp.AccessJwt
	c.did = did
	return nil
}

// DID returns the authenticated account's DID. Only valid after Login.
func (c *Client) DID() string {
	return c.did.String()
}

// FeedURI returns the AT-URI of the generator record with rkey in the
// authenticated account's repo.
func (c *Client) FeedURI(rkey string) string {
	return fmt.Sprintf("at://%s/%s/%s", c.did, generatorCollection, rkey)
}

// BlobRef represents an AT Protocol blob reference for uploaded content.
type BlobRef struct {
	Type string `json:"$type"`
	Ref  struct {
		Link string `json:"$link"`
	} `json:"ref"`
	MimeType string `json:"mimeType"`
	Size     int    `json:"size"`
}

// FeedGeneratorRecord is the record body for app.bsky.feed.generator.
type FeedGeneratorRecord struct {
	DID         string   `json:"did"`
	DisplayName string   `json:"displayName"`
	Description string   `json:"description,omitempty"`
	Avatar      *BlobRef `json:"avatar,omitempty"`
	CreatedAt   string   `json:"createdAt"`
}

// Validate checks the record fields the PDS would otherwise reject.
func (r FeedGeneratorRecord) Validate() error {
	if _, err := syntax.ParseDID(r.DID); err != nil {
		return fmt.Errorf("service did: %w", err)
	}
	if r.DisplayName == "" {
		return fmt.Errorf("display name is required")
	}
	if len([]rune(r.DisplayName)) > 24 {
		return fmt.Errorf("display name is longer than 24 characters")
	}
	if len([]rune(r.Description)) > 300 {
		return fmt.Errorf("description is longer than 300 characters")
	}
	return nil
}

// PublishFeedGenerator creates or replaces the generator record under rkey.
func (c *Client) PublishFeedGenerator(ctx context.Context, rkey string, record FeedGeneratorRecord) error {
	if err := c.checkRecordKey(rkey); err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return err
	}

	body := putRecordRequest{
		Repo:       c.did.String(),
		Collection: generatorCollection,
		RKey:       rkey,
		Record:     record,
	}
	if err := c.call(ctx, "com.atproto.repo.putRecord", "application/json", mustJSON(body), nil); err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// UnpublishFeedGenerator deletes the generator record under rkey.
func (c *Client) UnpublishFeedGenerator(ctx context.Context, rkey string) error {
	if err := c.checkRecordKey(rkey); err != nil {
		return err
	}

	body := deleteRecordRequest{
		Repo:       c.did.String(),
		Collection: generatorCollection,
		RKey:       rkey,
	}
	if err := c.call(ctx, "com.atproto.repo.deleteRecord", "application/json", mustJSON(body), nil); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// UploadBlob uploads raw image bytes and returns a reference to them. The
// PDS drops blobs that no record references within a short window.
func (c *Client) UploadBlob(ctx context.Context, data []byte, mimeType string) (*BlobRef, error) {
	if c.accessJwt == "" {
		return nil, fmt.Errorf("not authenticated: call Login first")
	}

	var resp uploadBlobResponse
	if err := c.call(ctx, "com.atproto.repo.uploadBlob", mimeType, data, &resp); err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}
	return &resp.Blob, nil
}

func (c *Client) checkRecordKey(rkey string) error {
	if c.accessJwt == "" {
		return fmt.Errorf("not authenticated: call Login first")
	}
	if _, err := syntax.ParseRecordKey(rkey); err != nil {
		return fmt.Errorf("record key: %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, contentType string, payload []byte, result any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.pds+"/xrpc/"+method, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{}
		_ = json.Unmarshal(respBody, apiErr)
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal request: %v", err))
	}
	return b
}

type createSessionResponse struct {
	AccessJwt string `json:"accessJwt"`
	DID       string `json:"did"`
	Handle    string `json:"handle"`
}

type putRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
	Record     any    `json:"record"`
}

type deleteRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
}

type uploadBlobResponse struct {
	Blob BlobRef `json:"blob"`
}
