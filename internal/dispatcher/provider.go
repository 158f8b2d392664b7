package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/license-manager/internal/config"
	"github.com/jmehdipour/license-manager/internal/model"
)

// Provider receives delivered license keys for an order.
type Provider interface {
	Name() string
	Ready() bool
	Acquire() bool
	Deliver(ctx context.Context, d model.Delivery) error
}

// HTTPProvider posts deliveries as JSON to a webhook or mail relay.
type HTTPProvider struct {
	name   string
	url    string
	client *http.Client
	br     *MicroBreaker
}

func NewHTTPProvider(name, baseURL, path string, timeoutMs, failThreshold, openForMs int) *HTTPProvider {
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
		name:   name,
		url:    strings.TrimRight(baseURL, "/") + path,
		client: &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:     NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

// ProvidersFromConfig builds the enabled providers.
func ProvidersFromConfig(cfgs []config.ProviderConfig) []Provider {
	out := make([]Provider, 0, len(cfgs))
	for _, pc := range cfgs {
		if !pc.Enabled || pc.BaseURL == "" {
			continue
		}
		out = append(out, NewHTTPProvider(pc.Name, pc.BaseURL, pc.Path,
			pc.TimeoutMs, pc.Breaker.FailThreshold, pc.Breaker.OpenForMs))
	}
	return out
}

func (p *HTTPProvider) Name() string  { return p.name }
func (p *HTTPProvider) Ready() bool   { return p.br.Ready() }
func (p *HTTPProvider) Acquire() bool { return p.br.TryAcquire() }

func (p *HTTPProvider) Deliver(ctx context.Context, d model.Delivery) error {
	if err := p.post(ctx, d); err != nil {
		p.br.OnFailure()
		return err
	}
	p.br.OnSuccess()
	return nil
}

func (p *HTTPProvider) post(ctx context.Context, d model.Delivery) error {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(b))
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
		return fmt.Errorf("provider=%s order=%d status=%d", p.name, d.OrderID, res.StatusCode)
	}
	return nil
}
