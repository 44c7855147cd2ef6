package sandwich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/WelcomerTeam/RealRock/limiter"
	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
	"github.com/WelcomerTeam/Sandwich-Gateway/sandwichjson"
)

var Version = "2.0.0"

var UserAgent = fmt.Sprintf("Sandwich/%s (https://github.com/WelcomerTeam/Sandwich-Gateway)", Version)

var baseURL = url.URL{
	Scheme: "https",
	Host:   "discord.com",
	Path:   "/api/v10",
}

// GatewayInfoProvider fetches the gateway url, recommended shard count and
// session start limit.
type GatewayInfoProvider interface {
	FetchGatewayInfo(ctx context.Context) (*discord.GatewayBotResponse, error)
}

// RESTGatewayInfoProvider calls GET /gateway/bot. Requests are paced to one
// per second per provider.
type RESTGatewayInfoProvider struct {
	Client  *http.Client
	BaseURL url.URL

	token   string
	limiter *limiter.DurationLimiter
}

func NewRESTGatewayInfoProvider(client *http.Client, token string) *RESTGatewayInfoProvider {
	if client == nil {
		client = http.DefaultClient
	}

	return &RESTGatewayInfoProvider{
		Client:  client,
		BaseURL: baseURL,

		token:   token,
		limiter: limiter.NewDurationLimiter(1, time.Second),
	}
}

func (p *RESTGatewayInfoProvider) FetchGatewayInfo(ctx context.Context) (*discord.GatewayBotResponse, error) {
	p.limiter.Lock()

	endpoint := p.BaseURL
	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/") + "/gateway/bot"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bot "+p.token)
	req.Header.Set("User-Agent", UserAgent)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to do request: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var gatewayBotResponse discord.GatewayBotResponse

	if err := sandwichjson.UnmarshalReader(resp.Body, &gatewayBotResponse); err != nil {
		return nil, fmt.Errorf("failed to decode gateway bot response: %w", err)
	}

	return &gatewayBotResponse, nil
}

// NewProxyClient creates an HTTP client that redirects all requests through a specified host.
// This is useful when using a proxy such as twilight or nirn.
func NewProxyClient(client http.Client, host url.URL) *http.Client {
	if client.Transport == nil {
		client.Transport = http.DefaultTransport
	}

	client.Transport = &proxyTransport{
		host:      host,
		transport: client.Transport,
	}

	return &client
}

type proxyTransport struct {
	host      url.URL
	transport http.RoundTripper
}

func (t *proxyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	proxyReq := req.Clone(req.Context())

	// Keep the original path and query, only the host changes.
	proxyReq.URL.Host = t.host.Host
	proxyReq.URL.Scheme = t.host.Scheme
	proxyReq.Host = t.host.Host

	proxyReq.Header.Set("User-Agent", UserAgent)

	resp, err := t.transport.RoundTrip(proxyReq)
	if err != nil {
		return nil, fmt.Errorf("failed to round trip: %w", err)
	}

	return resp, nil
}
