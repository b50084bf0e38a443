// Package api is the thin REST client that seeds the store with historical
// conversations and messages before the live event stream takes over.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"chatsync/internal/domain"
)

const maxRetries = 3

// Store is the seeding surface of the conversation store.
type Store interface {
	SetConversations(convs []domain.Conversation)
	SetMessagesForConversation(id string, msgs []domain.Message)
}

// Client fetches history over HTTP, sharing the bearer TokenSource with the
// transport.
type Client struct {
	base   string
	token  domain.TokenSource
	http   *http.Client
	logger *slog.Logger
}

func New(baseURL string, token domain.TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:   baseURL,
		token:  token,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// doWithRetry executes a request with exponential backoff for transient
// failures (network errors, 5xx, 429).
func (c *Client) doWithRetry(ctx context.Context, buildReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * time.Second
			jitter := time.Duration(rand.Int63n(int64(base/2 + 1)))
			backoff := base + jitter
			c.logger.Warn("retrying request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries {
				c.logger.Warn("request failed, will retry", "error", err)
				continue
			}
			return nil, fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body)}
			if attempt < maxRetries {
				c.logger.Warn("server error, will retry", "status", resp.StatusCode)
				continue
			}
			return nil, fmt.Errorf("server error after %d retries: %w", maxRetries, lastErr)
		}

		return resp, nil
	}

	return nil, lastErr
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return nil, err
		}
		if c.token != nil {
			if tok := c.token(); tok != "" {
				req.Header.Set("Authorization", "Bearer "+tok)
			}
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: HTTP %d: %s", path, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Conversations fetches the inbox list.
func (c *Client) Conversations(ctx context.Context) ([]domain.Conversation, error) {
	var out []domain.Conversation
	if err := c.get(ctx, "/api/conversations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages fetches one conversation's history. The conversation ID is
// encoded here, at the URL boundary, and nowhere else.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var out []domain.Message
	path := "/api/conversations/" + domain.EncodeConvID(conversationID) + "/messages"
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Seed loads conversations and their recent history into the store. A
// failed per-conversation fetch is logged and skipped; the live stream will
// fill the gap on the next resync.
func (c *Client) Seed(ctx context.Context, st Store) error {
	convs, err := c.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("fetch conversations: %w", err)
	}
	st.SetConversations(convs)

	for _, conv := range convs {
		msgs, err := c.Messages(ctx, conv.ID)
		if err != nil {
			c.logger.Warn("history fetch failed", "conversation", conv.ID, "error", err)
			continue
		}
		st.SetMessagesForConversation(conv.ID, msgs)
	}
	c.logger.Info("store seeded", "conversations", len(convs))
	return nil
}
