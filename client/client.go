// Package client talks to the chat RPC API and keeps a room's live stream
// open across failures.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CUknot/chatroom_backend/models"
)

// Identity is who the client chats as. It is not authenticated.
type Identity struct {
	UserID   uint
	Username string
	Avatar   *string
}

// Room is a public room as listed in the lobby.
type Room struct {
	ID          uint                   `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	OnlineCount int                    `json:"onlineCount"`
	LastMessage *models.MessagePayload `json:"lastMessage"`
}

// Client is the chat API client.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	streamClient *http.Client
}

// New creates a new API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		// Streams stay open indefinitely.
		streamClient: &http.Client{},
	}
}

// JoinRoom registers who in the room. A false result means the room does not exist.
func (c *Client) JoinRoom(ctx context.Context, roomID uint, who Identity) (bool, error) {
	var result struct {
		Success bool `json:"success"`
	}
	body := map[string]any{
		"roomId":   roomID,
		"userId":   who.UserID,
		"username": who.Username,
		"avatar":   who.Avatar,
	}
	if err := c.call(ctx, "/rpc/chat/joinPublicRoom", body, &result); err != nil {
		return false, fmt.Errorf("client.JoinRoom: %w", err)
	}
	return result.Success, nil
}

// LeaveRoom removes the user from the room's presence.
func (c *Client) LeaveRoom(ctx context.Context, roomID, userID uint) error {
	body := map[string]any{"roomId": roomID, "userId": userID}
	if err := c.call(ctx, "/rpc/chat/leavePublicRoom", body, nil); err != nil {
		return fmt.Errorf("client.LeaveRoom: %w", err)
	}
	return nil
}

// History returns the room's messages, oldest first.
func (c *Client) History(ctx context.Context, roomID uint) ([]models.MessagePayload, error) {
	var messages []models.MessagePayload
	if err := c.call(ctx, "/rpc/chat/getChatHistory", map[string]any{"id": roomID}, &messages); err != nil {
		return nil, fmt.Errorf("client.History: %w", err)
	}
	return messages, nil
}

// SendMessage posts a text message to the room.
func (c *Client) SendMessage(ctx context.Context, roomID uint, who Identity, content string) (*models.MessagePayload, error) {
	var sent models.MessagePayload
	body := map[string]any{
		"roomId":   roomID,
		"userId":   who.UserID,
		"username": who.Username,
		"avatar":   who.Avatar,
		"content":  content,
		"type":     models.MessageTypeText,
	}
	if err := c.call(ctx, "/rpc/chat/sendMessage", body, &sent); err != nil {
		return nil, fmt.Errorf("client.SendMessage: %w", err)
	}
	return &sent, nil
}

// PublicRooms lists the lobby.
func (c *Client) PublicRooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := c.call(ctx, "/rpc/chat/getPublicRoom", nil, &rooms); err != nil {
		return nil, fmt.Errorf("client.PublicRooms: %w", err)
	}
	return rooms, nil
}

// Stream opens the room's live message stream. Messages after lastMessageID
// are replayed first; a nil cursor streams live messages only.
func (c *Client) Stream(ctx context.Context, roomID uint, who Identity, lastMessageID *uint) (MessageStream, error) {
	body := map[string]any{
		"roomId":        roomID,
		"userId":        who.UserID,
		"username":      who.Username,
		"avatar":        who.Avatar,
		"lastMessageId": lastMessageID,
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := c.newRequest(ctx, "/rpc/chat/streamMessage", body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("client.Stream: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("client.Stream: do request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close() //nolint:errcheck // best-effort close
		defer cancel()
		return nil, fmt.Errorf("client.Stream: %w", decodeError(resp))
	}

	return &eventStream{body: resp.Body, r: bufio.NewReader(resp.Body), cancel: cancel}, nil
}

func (c *Client) newRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	return req, nil
}

// call invokes a procedure and decodes the data field of its envelope into out.
func (c *Client) call(ctx context.Context, path string, body any, out any) error {
	req, err := c.newRequest(ctx, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out != nil {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

func decodeError(resp *http.Response) error {
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max error body
	if readErr != nil {
		return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
	}
	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
		return &HTTPError{StatusCode: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
}
