// Package client speaks the picking action protocol: one endpoint, an
// action-discriminated JSON body. The completion action is the one
// request that must never be lost, so its transport failures convert
// into offline-queue entries instead of errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/binho-transportes/picking/manifest"
	"github.com/binho-transportes/picking/repository"
)

// Protocol actions.
const (
	ActionListCtrcs = "listar_ctrcs"
	ActionFetchCtrc = "buscar_ctrc"
	ActionComplete  = "dar_baixa"
)

// StatusError is an application-level rejection: the endpoint answered
// with a non-2xx status and a body. It is never queued for replay.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("endpoint returned HTTP %d", e.StatusCode)
}

// Summary is one row of the shipment list.
type Summary struct {
	ID        string `json:"ctrc"`
	Attendant string `json:"conferente,omitempty"`
}

// Client calls the remote picking endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	store      *repository.Store
	logger     *zap.Logger
	online     atomic.Bool
}

// New creates a client for the given endpoint URL. The client starts in
// the online state; connectivity changes are reported via SetOnline.
func New(endpoint string, store *repository.Store, logger *zap.Logger) *Client {
	c := &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		store:  store,
		logger: logger,
	}
	c.online.Store(true)
	return c
}

// SetOnline records a connectivity change.
func (c *Client) SetOnline(online bool) {
	c.online.Store(online)
}

// Online reports the last known connectivity state.
func (c *Client) Online() bool {
	return c.online.Load()
}

// call posts {"acao": action, ...params} and returns the response body.
// Transport failures come back as the underlying error; HTTP error
// statuses come back as *StatusError.
func (c *Client) call(ctx context.Context, action string, params map[string]any) ([]byte, error) {
	payload := map[string]any{"acao": action}
	for k, v := range params {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: respBody}
	}
	return respBody, nil
}

// ListCtrcs fetches the available shipment summaries.
func (c *Client) ListCtrcs(ctx context.Context) ([]Summary, error) {
	body, err := c.call(ctx, ActionListCtrcs, nil)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse shipment list: %w", err)
	}

	summaries := make([]Summary, 0, len(rows))
	for _, row := range rows {
		id, _ := row["ctrc"].(string)
		if id == "" {
			id, _ = row["CTRC"].(string)
		}
		if id == "" {
			continue
		}
		attendant, _ := row["conferente"].(string)
		summaries = append(summaries, Summary{ID: id, Attendant: attendant})
	}
	return summaries, nil
}

// FetchCtrc fetches and normalizes one shipment manifest.
func (c *Client) FetchCtrc(ctx context.Context, id string) (*manifest.Manifest, error) {
	body, err := c.call(ctx, ActionFetchCtrc, map[string]any{"ctrc": id})
	if err != nil {
		return nil, err
	}
	return manifest.NormalizeJSON(body)
}

// completionParams builds the dar_baixa body for a manifest.
func completionParams(m *manifest.Manifest) map[string]any {
	items := make([]map[string]any, 0, len(m.Lines))
	for _, l := range m.Lines {
		items = append(items, map[string]any{
			"codigo": l.Code,
			"ean":    l.Barcode,
			"qtd":    l.ScannedQty,
			"status": l.Status,
		})
	}
	return map[string]any{"ctrc": m.ID, "itens": items}
}

// Complete submits the dar_baixa action for a manifest. When offline, or
// when the request fails at the transport level, the action is queued
// for later replay and queued=true is returned with no error. An HTTP
// error response is an application-level rejection and is returned as an
// error without queueing.
func (c *Client) Complete(ctx context.Context, m *manifest.Manifest) (queued bool, err error) {
	params := completionParams(m)

	if !c.Online() {
		return true, c.enqueue(ActionComplete, params)
	}

	_, err = c.call(ctx, ActionComplete, params)
	if err == nil {
		return false, nil
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return false, err
	}

	// Transport-class failure: losing a completion event is unacceptable.
	c.logger.Warn("completion request failed, queueing for replay",
		zap.String("ctrc", m.ID), zap.Error(err))
	return true, c.enqueue(ActionComplete, params)
}

func (c *Client) enqueue(action string, params map[string]any) error {
	return c.store.EnqueueAction(repository.QueueEntry{
		ID:         uuid.NewString(),
		Action:     action,
		Params:     params,
		EnqueuedAt: time.Now(),
	})
}

// Flush replays queued actions in enqueue order, once each. Entries
// whose attempt fails stay queued, in order, for the next flush; only
// the entries that succeeded are removed, so an action enqueued while
// the replay is in flight survives it. A flush while offline is a
// no-op. Returns the number of entries still queued.
func (c *Client) Flush(ctx context.Context) (int, error) {
	queue, err := c.store.Queue()
	if err != nil {
		return 0, err
	}
	if !c.Online() || len(queue) == 0 {
		return len(queue), nil
	}

	c.logger.Info("replaying offline actions", zap.Int("count", len(queue)))

	var succeeded []string
	for _, entry := range queue {
		if _, err := c.call(ctx, entry.Action, entry.Params); err != nil {
			c.logger.Warn("replay attempt failed, keeping entry",
				zap.String("id", entry.ID), zap.Error(err))
			continue
		}
		succeeded = append(succeeded, entry.ID)
	}

	if err := c.store.RemoveActions(succeeded); err != nil {
		return len(queue) - len(succeeded), err
	}
	remaining, err := c.store.Queue()
	if err != nil {
		return 0, err
	}
	return len(remaining), nil
}
