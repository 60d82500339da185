// Package transport wraps the EngiFlow chat API with authenticated REST
// calls for rooms and messages. The push channel lives in internal/push.
package transport

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
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/engiflow/engiflow-chat/internal/config"
	"github.com/engiflow/engiflow-chat/internal/domain"
)

// Client is an EngiFlow chat API client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	sf      singleflight.Group
}

// NewClient creates a REST client. The token is attached as a bearer
// credential on every request.
func NewClient(cfg config.APIConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// APIError is a transport or server failure carrying the human-readable
// message extracted from the response body when one was available.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d", e.Status)
}

// IsNotFound reports whether err is a 404 response. Rooms and messages that
// do not exist yet are a normal state, not a failure.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Page is one page of room history. Page 1 holds the most recent messages,
// newest first; the caller reverses it for chronological display.
type Page struct {
	Messages   []domain.Message
	Total      int
	Page       int
	TotalPages int
}

// SearchResult is one page of full-text matches within a room.
type SearchResult struct {
	Messages   []domain.Message
	Total      int
	Page       int
	TotalPages int
}

// Upload is a staged attachment handed to SendMessage.
type Upload struct {
	Filename string
	MimeType string
	Size     int64
	Content  io.Reader
}

// ProgressFunc receives fractional upload progress from 0 to 100.
type ProgressFunc func(percent int)

// ListProjectRooms returns all project rooms visible to the session.
// Concurrent calls collapse into one request.
func (c *Client) ListProjectRooms(ctx context.Context) ([]domain.ProjectRoom, error) {
	v, err, _ := c.sf.Do("project-rooms", func() (interface{}, error) {
		var rooms []domain.ProjectRoom
		if err := c.get(ctx, "/project-rooms", nil, &rooms); err != nil {
			if IsNotFound(err) {
				return []domain.ProjectRoom{}, nil
			}
			return nil, err
		}
		return rooms, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.ProjectRoom), nil
}

// ListChatRooms returns the chat rooms under one project room. A project
// with no chat rooms yet yields an empty list, not an error.
func (c *Client) ListChatRooms(ctx context.Context, projectRoomID string) ([]domain.ChatRoom, error) {
	key := "chat-rooms:" + projectRoomID
	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		var rooms []domain.ChatRoom
		path := "/project-rooms/" + url.PathEscape(projectRoomID) + "/chat-rooms"
		if err := c.get(ctx, path, nil, &rooms); err != nil {
			if IsNotFound(err) {
				return []domain.ChatRoom{}, nil
			}
			return nil, err
		}
		return rooms, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.ChatRoom), nil
}

// FetchMessages returns one page of room history. The endpoint has shipped
// three response shapes over time (paginated envelope, bare array, and a
// {messages: [...]} wrapper); all three are tolerated.
func (c *Client) FetchMessages(ctx context.Context, roomID string, page, limit int) (*Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var raw json.RawMessage
	path := "/messages/room/" + url.PathEscape(roomID)
	if err := c.get(ctx, path, q, &raw); err != nil {
		if IsNotFound(err) {
			return &Page{Page: page, TotalPages: page}, nil
		}
		return nil, err
	}
	return decodePage(raw, page, limit)
}

func decodePage(raw json.RawMessage, page, limit int) (*Page, error) {
	var envelope struct {
		Data []domain.Message `json:"data"`
		Meta struct {
			Total int `json:"total"`
			Page  int `json:"page"`
			Limit int `json:"limit"`
			Pages int `json:"pages"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Data != nil {
		return &Page{
			Messages:   envelope.Data,
			Total:      envelope.Meta.Total,
			Page:       envelope.Meta.Page,
			TotalPages: envelope.Meta.Pages,
		}, nil
	}

	var bare []domain.Message
	if err := json.Unmarshal(raw, &bare); err == nil {
		return &Page{Messages: bare, Total: len(bare), Page: page, TotalPages: page}, nil
	}

	var wrapper struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Messages != nil {
		return &Page{Messages: wrapper.Messages, Total: len(wrapper.Messages), Page: page, TotalPages: page}, nil
	}

	return nil, fmt.Errorf("unrecognised message page shape")
}

// placeholderCaption substitutes for an empty body on attachment-only sends.
const placeholderCaption = "Attachment"

// SendMessage creates a message in a room. With attachments present the
// request is multipart and progress reports fractional upload completion;
// oversized files are rejected before any bytes move.
func (c *Client) SendMessage(ctx context.Context, roomID, content, kind string, attachments []Upload, progress ProgressFunc) (*domain.Message, error) {
	if len(attachments) == 0 {
		if err := domain.ValidateContent(content); err != nil {
			return nil, err
		}
		body := map[string]string{
			"chatRoomId": roomID,
			"content":    content,
			"type":       kind,
		}
		var msg domain.Message
		if err := c.post(ctx, "/messages", body, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	}

	var oversized []string
	for _, a := range attachments {
		if a.Size > domain.MaxAttachmentSize {
			oversized = append(oversized, a.Filename)
		}
	}
	if len(oversized) > 0 {
		return nil, &domain.OversizeError{Filenames: oversized}
	}

	if content == "" {
		content = placeholderCaption
	}

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	_ = w.WriteField("chatRoomId", roomID)
	_ = w.WriteField("content", content)
	_ = w.WriteField("type", kind)
	for _, a := range attachments {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachments"; filename=%q`, a.Filename))
		mimeType := a.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		h.Set("Content-Type", mimeType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(part, a.Content); err != nil {
			return nil, fmt.Errorf("failed to read attachment %s: %w", a.Filename, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var body io.Reader = buf
	if progress != nil {
		body = &progressReader{r: buf, total: int64(buf.Len()), report: progress}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var msg domain.Message
	if err := c.do(req, &msg); err != nil {
		return nil, err
	}
	if progress != nil {
		progress(100)
	}
	return &msg, nil
}

// EditMessage replaces a message's content. Empty or over-length content is
// rejected before the request is issued; the unchanged-content check lives
// with the caller, which knows the current body.
func (c *Client) EditMessage(ctx context.Context, messageID, content string) (*domain.Message, error) {
	if err := domain.ValidateContent(content); err != nil {
		return nil, err
	}
	var msg domain.Message
	path := "/messages/" + url.PathEscape(messageID)
	if err := c.put(ctx, path, map[string]string{"content": content}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage soft-deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/messages/"+url.PathEscape(messageID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// ToggleReaction flips the (caller, emoji) reaction on a message and returns
// the full updated message; callers replace their local copy wholesale.
func (c *Client) ToggleReaction(ctx context.Context, messageID, emoji string) (*domain.Message, error) {
	var msg domain.Message
	path := "/messages/" + url.PathEscape(messageID) + "/reaction"
	if err := c.post(ctx, path, map[string]string{"emoji": emoji}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SearchMessages runs a full-text query within a room. Debouncing is the
// caller's job, never the transport layer's.
func (c *Client) SearchMessages(ctx context.Context, roomID, query string, page, limit int) (*SearchResult, error) {
	q := url.Values{}
	q.Set("roomId", roomID)
	q.Set("query", query)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var raw json.RawMessage
	if err := c.get(ctx, "/messages/search", q, &raw); err != nil {
		if IsNotFound(err) {
			return &SearchResult{Page: page}, nil
		}
		return nil, err
	}
	p, err := decodePage(raw, page, limit)
	if err != nil {
		return nil, err
	}
	return &SearchResult{Messages: p.Messages, Total: p.Total, Page: p.Page, TotalPages: p.TotalPages}, nil
}

// MarkMessageRead records a read marker for one message. Best effort.
func (c *Client) MarkMessageRead(ctx context.Context, messageID string) error {
	return c.put(ctx, "/messages/"+url.PathEscape(messageID)+"/read", nil, nil)
}

// MarkRoomRead marks every message in a room read. Best effort.
func (c *Client) MarkRoomRead(ctx context.Context, roomID string) error {
	return c.put(ctx, "/chat-rooms/"+url.PathEscape(roomID)+"/read", nil, nil)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.send(ctx, http.MethodPost, path, body, out)
}

func (c *Client) put(ctx context.Context, path string, body, out interface{}) error {
	return c.send(ctx, http.MethodPut, path, body, out)
}

func (c *Client) send(ctx context.Context, method, path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}

	// Unwrap {success, data} envelopes transparently.
	var envelope struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Success != nil && envelope.Data != nil {
		data = envelope.Data
	}

	return json.Unmarshal(data, out)
}

func decodeAPIError(status int, body []byte) error {
	apiErr := &APIError{Status: status}

	var envelope struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		} else if envelope.Message != "" {
			apiErr.Message = envelope.Message
		}
	}
	return apiErr
}

// progressReader reports cumulative read percentage as the request body is
// consumed by the HTTP client.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		pct := int(p.read * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct != p.last {
			p.last = pct
			p.report(pct)
		}
	}
	return n, err
}
