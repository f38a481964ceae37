package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"carepath/internal/types"
)

// ChatClientConfig configures ChatClient.
type ChatClientConfig struct {
	BaseURL string
	APIKey  types.SecretString
	Timeout time.Duration
}

// ChatClient provisions care-team rooms on the chat service. The service
// treats the patient ID as an idempotency key, so repeated calls return the
// same room.
type ChatClient struct {
	base    *BaseClient
	baseURL string
	apiKey  types.SecretString
}

// NewChatClient creates a ChatClient with the default retry policy.
func NewChatClient(cfg ChatClientConfig, opts ...BaseClientOption) *ChatClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts = append([]BaseClientOption{WithUpstreamCode(types.ErrCodeUpstreamChatService)}, opts...)
	return &ChatClient{
		base:    NewBaseClient(&http.Client{Timeout: timeout}, "chat", DefaultRetryPolicy(), "CarePath/1.0", opts...),
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

type createRoomRequest struct {
	PatientID string `json:"patient_id"`
	Kind      string `json:"kind"`
}

type createRoomResponse struct {
	RoomID  string `json:"room_id"`
	Created bool   `json:"created"`
}

// GetOrCreateCareTeamRoom implements tasks.RoomProvisioner.
func (c *ChatClient) GetOrCreateCareTeamRoom(ctx context.Context, patientID string) (*types.Room, error) {
	body, err := json.Marshal(createRoomRequest{PatientID: patientID, Kind: "care_team"})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "encode room request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rooms", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "build room request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "care-team-room:"+patientID)
	if key := c.apiKey.Unmask(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, types.NewAppError(types.ErrCodeUpstreamChatService,
			fmt.Sprintf("chat service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}

	var out createRoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamChatService, "decode chat service response", err)
	}
	if out.RoomID == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamChatService, "chat service returned no room id", nil)
	}
	return &types.Room{ID: out.RoomID, PatientID: patientID, Created: out.Created}, nil
}
