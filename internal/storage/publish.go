package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/privaudit/internal/config"
	"github.com/privaudit/internal/logging"
	"github.com/privaudit/internal/retry"
)

// StorageRefs records where a published report can be fetched
type StorageRefs struct {
	IPFSHash    string `json:"ipfsHash,omitempty"`
	ArweaveTxID string `json:"arweaveTxId,omitempty"`
}

// Empty reports whether nothing was published
func (s StorageRefs) Empty() bool {
	return s.IPFSHash == "" && s.ArweaveTxID == ""
}

type publishStatusError struct {
	target string
	status int
	body   string
}

func (e *publishStatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.target, e.status, e.body)
}

func retryablePublishError(err error) bool {
	var se *publishStatusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	return true
}

// Publisher pushes report documents to IPFS and Arweave gateways
type Publisher struct {
	ipfsGateway    string
	ipfsAPIKey     string
	arweaveGateway string
	httpClient     *http.Client
	retryCfg       *retry.RetryConfig
	timeout        time.Duration
}

// DefaultPublishTimeout bounds Publish when the config leaves it unset
const DefaultPublishTimeout = 20 * time.Second

// NewPublisher creates a publisher for the configured gateways
func NewPublisher(cfg config.PublishConfig) *Publisher {
	retryCfg := retry.DefaultRetryConfig()
	retryCfg.MaxAttempts = 3
	retryCfg.ShouldRetry = retryablePublishError
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &Publisher{
		ipfsGateway:    strings.TrimRight(cfg.IPFSGateway, "/"),
		ipfsAPIKey:     cfg.IPFSAPIKey,
		arweaveGateway: strings.TrimRight(cfg.ArweaveGateway, "/"),
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		retryCfg:       retryCfg,
		timeout:        timeout,
	}
}

// Enabled reports whether at least one gateway is configured
func (p *Publisher) Enabled() bool {
	return p != nil && (p.ipfsGateway != "" || p.arweaveGateway != "")
}

// Publish uploads data to every configured gateway. References from the
// gateways that succeeded are returned even when another one failed.
func (p *Publisher) Publish(ctx context.Context, name string, data []byte) (StorageRefs, error) {
	var refs StorageRefs
	var errs []error
	logger := logging.FromContext(ctx).WithField("document", name)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.ipfsGateway != "" {
		err := retry.Do(ctx, p.retryCfg, func(ctx context.Context, attempt int) error {
			hash, err := p.addToIPFS(ctx, name, data)
			refs.IPFSHash = hash
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("ipfs: %w", err))
		} else {
			logger.WithField("ipfsHash", refs.IPFSHash).Info("Published report to IPFS")
		}
	}

	if p.arweaveGateway != "" {
		err := retry.Do(ctx, p.retryCfg, func(ctx context.Context, attempt int) error {
			id, err := p.postToArweave(ctx, data)
			refs.ArweaveTxID = id
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("arweave: %w", err))
		} else {
			logger.WithField("arweaveTxId", refs.ArweaveTxID).Info("Published report to Arweave")
		}
	}

	return refs, errors.Join(errs...)
}

func (p *Publisher) addToIPFS(ctx context.Context, name string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", retry.Stop(err)
	}
	if _, err := part.Write(data); err != nil {
		return "", retry.Stop(err)
	}
	if err := mw.Close(); err != nil {
		return "", retry.Stop(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.ipfsGateway+"/api/v0/add?pin=true", &body)
	if err != nil {
		return "", retry.Stop(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if p.ipfsAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.ipfsAPIKey)
	}

	var out struct {
		Hash string `json:"Hash"`
	}
	if err := p.do(req, "ipfs", &out); err != nil {
		return "", err
	}
	if out.Hash == "" {
		return "", retry.Stop(fmt.Errorf("ipfs response has no hash"))
	}
	return out.Hash, nil
}

func (p *Publisher) postToArweave(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.arweaveGateway+"/tx", bytes.NewReader(data))
	if err != nil {
		return "", retry.Stop(err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		ID string `json:"id"`
	}
	if err := p.do(req, "arweave", &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", retry.Stop(fmt.Errorf("arweave response has no transaction id"))
	}
	return out.ID, nil
}

func (p *Publisher) do(req *http.Request, target string, out interface{}) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(data)
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return &publishStatusError{target: target, status: resp.StatusCode, body: msg}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return retry.Stop(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
