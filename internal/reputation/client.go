package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/config"
)

const dateLayout = "2006-01-02T15:04:05Z"

var ErrNoHistory = errors.New("no message history")

// Stats is the minimal activity summary of an account.
type Stats struct {
	FirstMsgDate  time.Time
	MessagesCount int64
	ChatsCount    int64
}

type statsPayload struct {
	FirstMsgDate  string `json:"first_msg_date"`
	MessagesCount int64  `json:"messages_count"`
	ChatsCount    int64  `json:"chats_count"`
}

type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// leveledLogrus keeps retry chatter out of the error level; every failed
// attempt is reported again by the caller once retries are exhausted.
type leveledLogrus struct {
	entry *log.Entry
}

func (l leveledLogrus) Error(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Warn(msg)
}

func (l leveledLogrus) Warn(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Warn(msg)
}

func (l leveledLogrus) Info(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}

func (l leveledLogrus) Debug(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Trace(msg)
}

func (l leveledLogrus) with(keysAndValues []interface{}) *log.Entry {
	fields := log.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return l.entry.WithFields(fields)
}

func NewClient(cfg config.Reputation) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(leveledLogrus{log.WithField("object", "ReputationHTTP")})

	client := retryClient.StandardClient()
	client.Timeout = cfg.Timeout

	return &Client{
		http:    client,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
	}
}

// StatsMin fetches the activity summary of the account.
func (c *Client) StatsMin(ctx context.Context, accountID int64) (*Stats, error) {
	url := fmt.Sprintf("%s/users/%d/stats_min", c.baseURL, accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request stats: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var payload statsPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	if payload.FirstMsgDate == "" {
		return nil, ErrNoHistory
	}
	first, err := time.Parse(dateLayout, payload.FirstMsgDate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse first message date: %w", err)
	}

	return &Stats{
		FirstMsgDate:  first.UTC(),
		MessagesCount: payload.MessagesCount,
		ChatsCount:    payload.ChatsCount,
	}, nil
}
