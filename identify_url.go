package sandwich

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/WelcomerTeam/Sandwich-Gateway/sandwichjson"
)

// IdentifyViaURL is a bare minimum identify provider that uses a URL to identify shards.
// This will send a POST request to the URL with the shard_id, shard_count, token, token_hash and max_concurrency in the body, or in the URL.

// This is done using formatting tags:
// - {shard_id}
// - {shard_count}
// - {token}
// - {token_hash}
// - {max_concurrency}

// This will expect a 200 or 204 response.
// Any other response is retried after the `X-Retry-After-Ms` header or 5000 milliseconds.
type IdentifyViaURL struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

func NewIdentifyViaURL(url string, headers map[string]string) *IdentifyViaURL {
	return &IdentifyViaURL{
		URL:     url,
		Headers: headers,
		Client:  http.DefaultClient,
	}
}

type identifyPayload struct {
	ShardID        int32  `json:"shard_id"`
	ShardCount     int32  `json:"shard_count"`
	MaxConcurrency int32  `json:"max_concurrency"`
	Token          string `json:"token"`
	TokenHash      string `json:"token_hash"`
}

func (i *IdentifyViaURL) Identify(ctx context.Context, shard *Shard) error {
	token := shard.env.configuration.Token

	payload := identifyPayload{
		ShardID:        shard.ShardID,
		ShardCount:     shard.ShardCount(),
		MaxConcurrency: shard.MaxConcurrency(),
		Token:          token,
		TokenHash:      hashToken(token),
	}

	identifyURL := strings.NewReplacer(
		"{shard_id}", strconv.Itoa(int(payload.ShardID)),
		"{shard_count}", strconv.Itoa(int(payload.ShardCount)),
		"{token}", payload.Token,
		"{token_hash}", payload.TokenHash,
		"{max_concurrency}", strconv.Itoa(int(payload.MaxConcurrency)),
	).Replace(i.URL)

	_, err := url.Parse(identifyURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	body, err := sandwichjson.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal identify payload: %w", err)
	}

	for {
		retryAfter, err := i.request(ctx, identifyURL, body)
		if err == nil && retryAfter == 0 {
			return nil
		}

		if err != nil {
			shard.Logger.Warn().Err(err).Msg("Failed to request identify")
		}

		if err := sleep(ctx, shard.env.clock, retryAfter); err != nil {
			return err
		}
	}
}

// request returns zero when the shard may identify.
func (i *IdentifyViaURL) request(ctx context.Context, identifyURL string, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, identifyURL, bytes.NewReader(body))
	if err != nil {
		return StandardIdentifyLimit, fmt.Errorf("failed to create identify request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range i.Headers {
		req.Header.Set(key, value)
	}

	resp, err := i.Client.Do(req)
	if err != nil {
		return StandardIdentifyLimit, fmt.Errorf("failed to do identify request: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		return 0, nil
	}

	retryAfterInt, _ := strconv.Atoi(resp.Header.Get("X-Retry-After-Ms"))
	if retryAfterInt > 0 {
		return time.Duration(retryAfterInt) * time.Millisecond, nil
	}

	return StandardIdentifyLimit, nil
}
