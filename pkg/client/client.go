package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrDeliveryFailed = errors.New("delivery failed")
	ErrUnavailable    = errors.New("service unavailable")
)

// StatusError is returned for responses without a dedicated sentinel
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Event is one frame read from a stream
type Event struct {
	Name      string
	Data      string
	KeepAlive bool
}

// Session is what /start returns
type Session struct {
	ID      string `json:"session_id"`
	SSE     string `json:"sse"`
	SendMsg string `json:"send_msg"`
}

// Client talks to a pigeon server using the path identity policy
type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
}

// New creates a client. timeout bounds unary requests; streams are only
// bounded by their context.
func New(baseURL string, timeout time.Duration) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport)
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Transport: transport, Timeout: timeout},
		stream:  &http.Client{Transport: transport},
	}
}

// Start asks the server for a fresh session id
func (c *Client) Start(ctx context.Context) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/start", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}

// Send delivers message from session `from` to session `target`
func (c *Client) Send(ctx context.Context, from, target, message string) error {
	form := url.Values{"target_id": {target}, "message": {message}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/send_msg/"+url.PathEscape(from), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Listen opens the stream of session id and calls fn for every frame until
// ctx is done, the server closes the stream or fn returns an error.
func (c *Client) Listen(ctx context.Context, id string, fn func(Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sse/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}

	err = readEvents(resp.Body, fn)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// readEvents parses a text/event-stream body
func readEvents(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		ev   Event
		data []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) == 0 && ev.Name == "" {
				continue
			}
			ev.Data = strings.Join(data, "\n")
			if ev.Name == "" {
				ev.Name = "message"
			}
			if err := fn(ev); err != nil {
				return err
			}
			ev, data = Event{}, nil
		case strings.HasPrefix(line, ":"):
			if err := fn(Event{KeepAlive: true, Data: strings.TrimSpace(line[1:])}); err != nil {
				return err
			}
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			v := strings.TrimPrefix(line, "data:")
			data = append(data, strings.TrimPrefix(v, " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func checkStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusInternalServerError:
		return ErrDeliveryFailed
	case http.StatusServiceUnavailable:
		return ErrUnavailable
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
}
