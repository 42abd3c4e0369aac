package memory

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// EmbeddingProvider generates vector embeddings from text.
type EmbeddingProvider interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// OpenAIProvider implements EmbeddingProvider against the OpenAI API.
type OpenAIProvider struct {
	apiKey     string
	model      string
	dimension  int
	httpClient *http.Client
}

// NewOpenAIProvider creates a new OpenAI embedding provider.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	dimension := 1536
	if model == "text-embedding-3-large" {
		dimension = 3072
	}

	return &OpenAIProvider{
		apiKey:    apiKey,
		model:     model,
		dimension: dimension,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}

func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	// Model max input safeguard
	if len(text) > 32000 {
		text = text[:32000]
	}

	reqBody := map[string]any{
		"input": text,
		"model": p.model,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		"https://api.openai.com/v1/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding provider unreachable: %v: %w", err, ErrDependency)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding API error (status %d): %s: %w",
			resp.StatusCode, string(body), ErrDependency)
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("embedding API returned no data: %w", ErrDependency)
	}
	return result.Data[0].Embedding, nil
}

// StubProvider produces deterministic hash-seeded unit vectors so search
// behaves predictably in environments without a real provider. Swappable
// with OpenAIProvider without touching the store contract.
type StubProvider struct {
	dimension int
}

// NewStubProvider creates a deterministic embedding provider.
func NewStubProvider(dimension int) *StubProvider {
	if dimension <= 0 {
		dimension = 384
	}
	return &StubProvider{dimension: dimension}
}

func (p *StubProvider) Dimension() int {
	return p.dimension
}

func (p *StubProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dimension)

	// Expand the digest by chained hashing, mapping each 4-byte word
	// into [-1, 1].
	seed := sha512.Sum512([]byte(text))
	block := seed[:]
	var norm float64
	for i := 0; i < p.dimension; i++ {
		off := (i * 4) % (len(block) - 4)
		if i > 0 && off == 0 {
			next := sha512.Sum512(block)
			block = next[:]
		}
		word := binary.LittleEndian.Uint32(block[off : off+4])
		v := float64(word)/float64(math.MaxUint32)*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}

	// Unit-normalize for cosine comparability
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}
