package docstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/thinkscotty/newsroom/internal/retry"
)

const defaultGitHubAPI = "https://api.github.com"

// GitHubConfig addresses a repository used as the document host.
type GitHubConfig struct {
	BaseURL      string // defaults to https://api.github.com
	Owner        string
	Repo         string
	Branch       string // empty means the default branch
	Token        string
	Dir          string // optional directory prefix inside the repository
	CommitPrefix string
	Timeout      time.Duration
	Retry        retry.Policy
}

// GitHubStore keeps documents as files in a GitHub repository through the
// contents API. The blob sha is the version token.
type GitHubStore struct {
	cfg    GitHubConfig
	client *http.Client
}

func NewGitHubStore(cfg GitHubConfig) *GitHubStore {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGitHubAPI
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.CommitPrefix == "" {
		cfg.CommitPrefix = "newsroom:"
	}
	return &GitHubStore{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type commitMessageKey struct{}

// WithCommitMessage attaches a commit message to writes made with ctx.
func WithCommitMessage(ctx context.Context, msg string) context.Context {
	return context.WithValue(ctx, commitMessageKey{}, msg)
}

// GitHub API request/response types.
type ghContent struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type ghPutRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

type ghPutResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

func (s *GitHubStore) Read(ctx context.Context, key string) (Document, error) {
	var doc Document
	_, err := retry.DoWhen(ctx, s.cfg.Retry, Retryable, func(ctx context.Context) error {
		var err error
		doc, err = s.read(ctx, key)
		return err
	})
	return doc, err
}

func (s *GitHubStore) read(ctx context.Context, key string) (Document, error) {
	endpoint := s.contentsURL(key)
	if s.cfg.Branch != "" {
		endpoint += "?ref=" + url.QueryEscape(s.cfg.Branch)
	}

	var c ghContent
	if err := s.do(ctx, http.MethodGet, endpoint, nil, &c); err != nil {
		return Document{}, fmt.Errorf("read %s: %w", key, err)
	}

	// Files over 1MB come back without inline content.
	if c.Encoding == "none" || (c.Content == "" && c.SHA != "") {
		blobURL := fmt.Sprintf("%s/repos/%s/%s/git/blobs/%s", s.cfg.BaseURL, s.cfg.Owner, s.cfg.Repo, c.SHA)
		var blob ghContent
		if err := s.do(ctx, http.MethodGet, blobURL, nil, &blob); err != nil {
			return Document{}, fmt.Errorf("read blob %s: %w", key, err)
		}
		c.Content, c.Encoding = blob.Content, blob.Encoding
	}

	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(c.Content, "\n", ""))
	if err != nil {
		return Document{}, fmt.Errorf("decode %s content: %w", key, err)
	}
	return Document{Key: key, Data: data, Version: c.SHA}, nil
}

func (s *GitHubStore) Write(ctx context.Context, key string, data []byte, expectedVersion string) (string, error) {
	var version string
	_, err := retry.DoWhen(ctx, s.cfg.Retry, Retryable, func(ctx context.Context) error {
		var err error
		version, err = s.put(ctx, key, data, expectedVersion)
		return err
	})
	return version, err
}

func (s *GitHubStore) put(ctx context.Context, key string, data []byte, expectedVersion string) (string, error) {
	msg, _ := ctx.Value(commitMessageKey{}).(string)
	if msg == "" {
		msg = "update " + key
	}

	body := ghPutRequest{
		Message: strings.TrimSpace(s.cfg.CommitPrefix + " " + msg),
		Content: base64.StdEncoding.EncodeToString(data),
		SHA:     expectedVersion,
		Branch:  s.cfg.Branch,
	}

	var resp ghPutResponse
	err := s.do(ctx, http.MethodPut, s.contentsURL(key), body, &resp)
	var se *statusError
	if errors.As(err, &se) && (se.code == http.StatusConflict || se.code == http.StatusUnprocessableEntity) {
		return "", &ConflictError{Key: key, Expected: expectedVersion}
	}
	if err != nil {
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	return resp.Content.SHA, nil
}

func (s *GitHubStore) CreateIfMissing(ctx context.Context, key string, initial []byte) (string, error) {
	version, err := s.Write(ctx, key, initial, "")
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, ErrConflict) {
		return "", err
	}
	doc, err := s.Read(ctx, key)
	if err != nil {
		return "", err
	}
	return doc.Version, nil
}

func (s *GitHubStore) contentsURL(key string) string {
	path := strings.Trim(key, "/")
	if s.cfg.Dir != "" {
		path = strings.Trim(s.cfg.Dir, "/") + "/" + path
	}
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", s.cfg.BaseURL, s.cfg.Owner, s.cfg.Repo, path)
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GitHub API returned status %d: %s", e.code, e.body)
}

func (s *GitHubStore) do(ctx context.Context, method, endpoint string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "newsroom-docstore")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrTransientIO, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrTransientIO, err)
	}

	if err := classifyStatus(resp, body); err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

func classifyStatus(resp *http.Response, body []byte) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	snippet := string(body)
	if len(snippet) > 300 {
		snippet = snippet[:300]
	}
	se := &statusError{code: code, body: snippet}

	switch {
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %v", ErrAuthFailure, se)
	case code == http.StatusTooManyRequests, code == http.StatusForbidden:
		if rl := rateLimitFromHeaders(resp.Header); rl != nil {
			slog.Warn("Document store rate limited", "remaining", rl.Remaining, "reset", rl.Reset, "retry_after", rl.Wait)
			return rl
		}
		if code == http.StatusTooManyRequests {
			return &RateLimitError{}
		}
		return fmt.Errorf("%w: %v", ErrAuthFailure, se)
	case code >= 500:
		return fmt.Errorf("%w: %v", ErrTransientIO, se)
	default:
		return se
	}
}

func rateLimitFromHeaders(h http.Header) *RateLimitError {
	var rl RateLimitError
	limited := false

	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			rl.Wait = time.Duration(secs) * time.Second
			limited = true
		}
	}
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rl.Remaining = n
			if n == 0 {
				limited = true
			}
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			rl.Reset = time.Unix(epoch, 0)
		}
	}

	if !limited {
		return nil
	}
	return &rl
}
