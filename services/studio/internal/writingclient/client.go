package writingclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"writecheck/internal/util"
	"writecheck/pkg/domain"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Auth supplies the bearer token and is told when the server rejects it.
type Auth interface {
	Token() string
	Logout()
}

// Client calls the writings API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       Auth
	detail     singleflight.Group
}

// APIError represents an error response from the writings API.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Is maps status codes onto the domain sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case domain.ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case domain.ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// NewClient constructs a writings API client. A zero timeout means 10s.
func NewClient(baseURL string, auth Auth, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: util.NewClientTransport("writings-api", nil),
		},
		auth: auth,
	}
}

// Page is one page of the writings list.
type Page struct {
	Writings []domain.Writing
	Meta     domain.ListMeta
}

// ListWritings fetches a page. page is 1-based.
func (c *Client) ListWritings(ctx context.Context, page, perPage int) (Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/writings?"+q.Encode(), nil)
	if err != nil {
		return Page{}, err
	}
	var resp listWritingsResponse
	if err := c.do(req, &resp); err != nil {
		return Page{}, fmt.Errorf("list writings: %w", err)
	}
	if resp.Writings == nil {
		resp.Writings = []domain.Writing{}
	}
	return Page{Writings: resp.Writings, Meta: resp.Meta}, nil
}

// GetWriting fetches one writing. Concurrent calls for the same id share a
// single request.
func (c *Client) GetWriting(ctx context.Context, id int64) (domain.Writing, error) {
	v, err, _ := c.detail.Do(strconv.FormatInt(id, 10), func() (any, error) {
		req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/api/v1/writings/%d", id), nil)
		if err != nil {
			return domain.Writing{}, err
		}
		var resp writingResponse
		if err := c.do(req, &resp); err != nil {
			return domain.Writing{}, err
		}
		return resp.Writing, nil
	})
	if err != nil {
		return domain.Writing{}, fmt.Errorf("get writing %d: %w", id, err)
	}
	return v.(domain.Writing), nil
}

// UploadImage posts an image as the multipart field "image".
func (c *Client) UploadImage(ctx context.Context, filename, contentType string, r io.Reader) (domain.Writing, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, quoteEscaper.Replace(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return domain.Writing{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return domain.Writing{}, err
	}
	if err := writer.Close(); err != nil {
		return domain.Writing{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/writings", body)
	if err != nil {
		return domain.Writing{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp writingResponse
	if err := c.do(req, &resp); err != nil {
		return domain.Writing{}, fmt.Errorf("upload %s: %w", filename, err)
	}
	return resp.Writing, nil
}

// DeleteWriting deletes one writing.
func (c *Client) DeleteWriting(ctx context.Context, id int64) error {
	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/writings/%d", id), nil)
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("delete writing %d: %w", id, err)
	}
	return nil
}

// Credits returns the account's credit balance and usage.
func (c *Client) Credits(ctx context.Context) (domain.Credits, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/credits", nil)
	if err != nil {
		return domain.Credits{}, err
	}
	var credits domain.Credits
	if err := c.do(req, &credits); err != nil {
		return domain.Credits{}, fmt.Errorf("credits: %w", err)
	}
	return credits, nil
}

// AuthResult is returned by login and registration.
type AuthResult struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, username, password string) (AuthResult, error) {
	payload := map[string]string{"username": username, "password": password}
	res, err := c.postAuth(ctx, "/api/v1/auth/login", payload)
	if err != nil {
		return AuthResult{}, fmt.Errorf("login: %w", err)
	}
	return res, nil
}

// Register creates an account and returns its token.
func (c *Client) Register(ctx context.Context, username, password string) (AuthResult, error) {
	payload := map[string]string{
		"username":              username,
		"password":              password,
		"password_confirmation": password,
	}
	res, err := c.postAuth(ctx, "/api/v1/auth/register", payload)
	if err != nil {
		return AuthResult{}, fmt.Errorf("register: %w", err)
	}
	return res, nil
}

// UsernameExists reports whether username is already taken.
func (c *Client) UsernameExists(ctx context.Context, username string) (bool, error) {
	q := url.Values{}
	q.Set("username", username)
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/auth/check_username?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}
	var resp struct {
		Exists bool `json:"exists"`
	}
	if err := c.do(req, &resp); err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return resp.Exists, nil
}

func (c *Client) postAuth(ctx context.Context, path string, payload any) (AuthResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return AuthResult{}, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(data))
	if err != nil {
		return AuthResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var res AuthResult
	if err := c.do(req, &res); err != nil {
		return AuthResult{}, err
	}
	if strings.TrimSpace(res.Token) == "" {
		return AuthResult{}, errors.New("response did not include a token")
	}
	return res, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		addAuthHeader(req, c.auth.Token())
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		apiErr := &APIError{Status: resp.StatusCode, Message: msg, Code: strings.TrimSpace(errResp.Code)}
		if resp.StatusCode == http.StatusUnauthorized && c.auth != nil {
			util.LoggerFromContext(req.Context()).Warn("server rejected credentials; signing out", "path", req.URL.Path)
			c.auth.Logout()
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func addAuthHeader(req *http.Request, token string) {
	if strings.TrimSpace(token) == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

type listWritingsResponse struct {
	Writings []domain.Writing `json:"writings"`
	Meta     domain.ListMeta  `json:"meta"`
}

type writingResponse struct {
	Writing domain.Writing `json:"writing"`
}
