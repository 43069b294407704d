// Package platform talks to the package and account registry that knows
// which handlers, sync adapters and contact schemas are installed.
package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"contact-aggregator/internal/handler"
	"contact-aggregator/internal/schema"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrNotFound is returned for a 404 from the registry.
var ErrNotFound = errors.New("not found")

type candidatesResponse struct {
	Candidates []handler.Candidate `json:"candidates"`
}

type preferredResponse struct {
	Preferred *handler.Preferred `json:"preferred"`
}

type syncAdaptersResponse struct {
	SyncAdapters []schema.SyncAdapter `json:"sync_adapters"`
}

type authenticatorsResponse struct {
	Authenticators []schema.Authenticator `json:"authenticators"`
}

// RegistryClient is the REST client of the registry. It serves as
// handler.Probe, schema.AccountRegistry and schema.SchemaProbe.
type RegistryClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewRegistryClient creates a client for baseURL.
func NewRegistryClient(baseURL string, timeout time.Duration, retryCount int, logger *zap.Logger) *RegistryClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	return &RegistryClient{
		httpClient: client,
		logger:     logger,
	}
}

func intentParams(intent handler.Intent) map[string]string {
	return map[string]string{
		"action":  intent.Action,
		"type":    intent.TypeTag,
		"data_id": strconv.FormatInt(intent.DataID, 10),
	}
}

// QueryCandidates lists the handlers of intent in registry order.
func (c *RegistryClient) QueryCandidates(ctx context.Context, intent handler.Intent) ([]handler.Candidate, error) {
	var response candidatesResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(intentParams(intent)).
		SetResult(&response).
		Get("/handlers/candidates")
	if err := checkResponse(resp, err, "query handler candidates"); err != nil {
		return nil, err
	}

	c.logger.Debug("Queried handler candidates",
		zap.String("type_tag", intent.TypeTag),
		zap.Int("candidates", len(response.Candidates)),
	)
	return response.Candidates, nil
}

// QueryPreferred returns the registry default for intent, or nil when none is set.
func (c *RegistryClient) QueryPreferred(ctx context.Context, intent handler.Intent) (*handler.Preferred, error) {
	var response preferredResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(intentParams(intent)).
		SetResult(&response).
		Get("/handlers/preferred")
	if err := checkResponse(resp, err, "query preferred handler"); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return response.Preferred, nil
}

// SyncAdapterTypes lists every registered sync adapter.
func (c *RegistryClient) SyncAdapterTypes(ctx context.Context) ([]schema.SyncAdapter, error) {
	var response syncAdaptersResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&response).
		Get("/accounts/sync-adapters")
	if err := checkResponse(resp, err, "list sync adapters"); err != nil {
		return nil, err
	}
	return response.SyncAdapters, nil
}

// Authenticators lists every account authenticator.
func (c *RegistryClient) Authenticators(ctx context.Context) ([]schema.Authenticator, error) {
	var response authenticatorsResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&response).
		Get("/accounts/authenticators")
	if err := checkResponse(resp, err, "list authenticators"); err != nil {
		return nil, err
	}
	return response.Authenticators, nil
}

// FindSchemaResource fetches the first metadata document of pkg found under
// names. It returns nil, nil when the package has none.
func (c *RegistryClient) FindSchemaResource(ctx context.Context, pkg string, names []string) (io.ReadCloser, error) {
	for _, name := range names {
		resp, err := c.httpClient.R().
			SetContext(ctx).
			SetHeader("Accept", "application/xml").
			Get("/packages/" + url.PathEscape(pkg) + "/metadata/" + url.PathEscape(name))
		if err := checkResponse(resp, err, "fetch "+name+" of "+pkg); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(resp.Body())), nil
	}
	return nil, nil
}

func checkResponse(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("failed to %s: %w", op, ErrNotFound)
	case resp.IsError():
		return fmt.Errorf("failed to %s: registry returned %d", op, resp.StatusCode())
	}
	return nil
}
