package seed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/okian/glucoscore/internal/domain/model"
	"github.com/okian/glucoscore/internal/domain/prediction"
)

// Client talks to the service's JSON API.
type Client struct {
	base string
	rest *resty.Client
}

// NewClient creates a client with the given request timeout.
func NewClient(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.SetHeader("Content-Type", "application/json")
	return &Client{base: base, rest: r}
}

// Health checks the metrics endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.rest.R().SetContext(ctx).Get(c.base + "/healthz")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("health check failed with status: %d", resp.StatusCode())
	}
	return nil
}

// Record posts one observation. created reports a new row (201) rather than
// an idempotent replay (200).
func (c *Client) Record(ctx context.Context, o model.Observation, key string) (model.Observation, bool, error) {
	body := map[string]float64{
		model.FieldAvgGlucose: o.AvgGlucose,
		model.FieldGlucoseSD:  o.GlucoseSD,
		model.FieldDifficulty: o.Difficulty,
		model.FieldScore:      o.Score,
	}

	var saved model.Observation
	req := c.rest.R().SetContext(ctx).SetBody(body).SetResult(&saved)
	if key != "" {
		req.SetHeader("Idempotency-Key", key)
	}
	resp, err := req.Post(c.base + "/api/entries")
	if err != nil {
		return model.Observation{}, false, fmt.Errorf("request failed: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusCreated:
		return saved, true, nil
	case http.StatusOK:
		return saved, false, nil
	default:
		return model.Observation{}, false, fmt.Errorf("API error: status %d, body: %s", resp.StatusCode(), resp.String())
	}
}

// Predict asks for a score under the given conditions.
func (c *Client) Predict(ctx context.Context, cond model.Conditions) (prediction.Result, error) {
	var res prediction.Result
	resp, err := c.rest.R().SetContext(ctx).SetBody(cond).SetResult(&res).Post(c.base + "/api/predict")
	if err != nil {
		return prediction.Result{}, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return prediction.Result{}, fmt.Errorf("API error: status %d, body: %s", resp.StatusCode(), resp.String())
	}
	return res, nil
}
