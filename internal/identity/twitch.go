package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TwitchProvider resolves a user access token through the Helix users
// endpoint.
type TwitchProvider struct {
	clientID string
	apiURL   string
	hc       *http.Client
}

type twitchUsersResponse struct {
	Data []struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"data"`
}

func NewTwitchProvider(clientID, apiURL string) *TwitchProvider {
	return &TwitchProvider{
		clientID: clientID,
		apiURL:   strings.TrimRight(apiURL, "/"),
		hc:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *TwitchProvider) Name() string { return "twitch" }

func (p *TwitchProvider) Lookup(ctx context.Context, token string) (ProviderIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+"/users", nil)
	if err != nil {
		return ProviderIdentity{}, err
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-Id", p.clientID)

	resp, err := p.hc.Do(req)
	if err != nil {
		return ProviderIdentity{}, err
	}

	//goland:noinspection GoUnhandledErrorResult
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return ProviderIdentity{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body twitchUsersResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return ProviderIdentity{}, fmt.Errorf("decode users: %w", err)
	}

	if len(body.Data) == 0 || body.Data[0].ID == "" {
		return ProviderIdentity{}, errMalformedIdentity
	}

	return ProviderIdentity{
		ProviderID:  body.Data[0].ID,
		DisplayName: body.Data[0].DisplayName,
	}, nil
}
