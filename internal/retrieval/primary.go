package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/config"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
)

// Primary queries the external semantic tool index over HTTP. Availability
// is memoized: after a failure the index is considered down until the
// recheck interval passes, so a dead index costs one failed request per
// interval instead of one per call.
type Primary struct {
	url    string
	client *http.Client
	logger *zap.Logger

	recheckInterval time.Duration
	clock           func() time.Time

	mu          sync.Mutex
	available   bool
	lastChecked time.Time

	lookupEnv func(string) (string, bool)
}

// NewPrimary creates the primary strategy. A Primary with an empty URL is
// permanently unavailable.
func NewPrimary(cfg *config.RetrievalConfig, logger *zap.Logger) *Primary {
	return &Primary{
		url:             cfg.PrimaryURL,
		client:          &http.Client{Timeout: cfg.Timeout},
		logger:          logger,
		recheckInterval: cfg.RecheckInterval,
		clock:           time.Now,
		available:       cfg.PrimaryURL != "",
		lookupEnv:       os.LookupEnv,
	}
}

// Available reports whether the index is believed reachable, allowing a
// recheck once the interval has elapsed.
func (p *Primary) Available() bool {
	if p.url == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.available && p.clock().Sub(p.lastChecked) >= p.recheckInterval {
		p.available = true // optimistic recheck on next request
	}
	return p.available
}

func (p *Primary) markFailed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = false
	p.lastChecked = p.clock()
}

func (p *Primary) markHealthy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = true
	p.lastChecked = p.clock()
}

type retrieveRequest struct {
	TaskDescription string `json:"task_description"`
	TopK            int    `json:"top_k"`
	OfficialOnly    bool   `json:"official_only"`
}

type retrieveResponse struct {
	Tools []candidatePayload `json:"tools"`
}

type candidatePayload struct {
	ToolName        string                     `json:"tool_name"`
	Description     string                     `json:"description"`
	SimilarityScore float64                    `json:"similarity_score"`
	BackendName     string                     `json:"backend_name,omitempty"`
	Backend         *contracts.TransportConfig `json:"backend_config,omitempty"`
}

// Retrieve queries the index and filters out candidates whose backends are
// missing required credentials in the gateway environment.
func (p *Primary) Retrieve(ctx context.Context, task string, topK int, officialOnly bool) ([]contracts.RetrievalCandidate, error) {
	if p.url == "" {
		return nil, fmt.Errorf("no primary retrieval endpoint configured")
	}

	body, err := json.Marshal(retrieveRequest{
		TaskDescription: task,
		TopK:            topK,
		OfficialOnly:    officialOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode retrieval request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build retrieval request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.markFailed()
		return nil, fmt.Errorf("retrieval index request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.markFailed()
		return nil, fmt.Errorf("retrieval index returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		p.markFailed()
		return nil, fmt.Errorf("failed to read retrieval response: %w", err)
	}

	var payload retrieveResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		p.markFailed()
		return nil, fmt.Errorf("failed to parse retrieval response: %w", err)
	}

	p.markHealthy()

	candidates := make([]contracts.RetrievalCandidate, 0, len(payload.Tools))
	for _, tool := range payload.Tools {
		if missing := p.missingCredentials(tool.Backend); len(missing) > 0 {
			p.logger.Warn("dropping retrieval candidate with missing credentials",
				zap.String("tool", tool.ToolName),
				zap.Strings("missing_env", missing))
			continue
		}
		candidates = append(candidates, contracts.RetrievalCandidate{
			ToolName:        tool.ToolName,
			Description:     tool.Description,
			SimilarityScore: tool.SimilarityScore,
			BackendName:     tool.BackendName,
			Backend:         tool.Backend,
		})
	}
	return candidates, nil
}

func (p *Primary) missingCredentials(tc *contracts.TransportConfig) []string {
	if tc == nil {
		return nil
	}
	var missing []string
	for _, key := range tc.RequiredEnv {
		if _, ok := p.lookupEnv(key); !ok {
			missing = append(missing, key)
		}
	}
	return missing
}
