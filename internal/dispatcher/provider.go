package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/crm-campaigns/internal/config"
	"github.com/jmehdipour/crm-campaigns/internal/model"
)

// Provider is one messaging vendor endpoint guarded by a breaker.
type Provider interface {
	Name() string
	Ready() bool
	Acquire() bool
	Send(ctx context.Context, req model.SendRequest) error
}

// HTTPProvider posts send requests as JSON; any non-2xx answer is a failure.
type HTTPProvider struct {
	name     string
	endpoint string
	client   *http.Client
	br       *MicroBreaker
}

func NewHTTPProvider(name, baseURL, sendPath string, timeoutMs, failThreshold, openForMs int) *HTTPProvider {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	if openForMs <= 0 {
		openForMs = 15000
	}

	return &HTTPProvider{
		name:     name,
		endpoint: strings.TrimRight(baseURL, "/") + sendPath,
		client:   &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:       NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

// ProvidersFromConfig builds the enabled providers in configuration order.
func ProvidersFromConfig(cfgs []config.ProviderConfig) []Provider {
	out := make([]Provider, 0, len(cfgs))
	for _, pc := range cfgs {
		if !pc.Enabled {
			continue
		}
		out = append(out, NewHTTPProvider(pc.Name, pc.BaseURL, pc.SendPath, pc.TimeoutMs, pc.Breaker.FailThreshold, pc.Breaker.OpenForMs))
	}
	return out
}

func (p *HTTPProvider) Name() string  { return p.name }
func (p *HTTPProvider) Ready() bool   { return p.br.Ready() }
func (p *HTTPProvider) Acquire() bool { return p.br.TryAcquire() }

func (p *HTTPProvider) Send(ctx context.Context, req model.SendRequest) error {
	if err := p.post(ctx, req); err != nil {
		p.br.OnFailure()
		return err
	}
	p.br.OnSuccess()
	return nil
}

func (p *HTTPProvider) post(ctx context.Context, body model.SendRequest) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return fmt.Errorf("provider=%s status=%d", p.name, res.StatusCode)
	}
	return nil
}
