package health

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sashabaranov/go-openai"

	"github.com/tributary-ai/llm-router-waf/internal/config"
)

const probeTimeout = 2 * time.Second

// ProbeProvider performs a single sample health check against an LLM instance's api_base. When
// the host looks like a known vendor endpoint, the corresponding typed SDK is used to build a
// correctly-shaped authenticated request (mirroring each provider's own HealthCheck); otherwise a
// bare HTTP GET is issued.
func ProbeProvider(instance config.LLM) bool {
	host := strings.ToLower(instance.APIBase)

	switch {
	case strings.Contains(host, "anthropic"):
		return probeAnthropic(instance)
	case strings.Contains(host, "openai"):
		return probeOpenAI(instance)
	default:
		return probeGeneric(instance)
	}
}

func probeOpenAI(instance config.LLM) bool {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	clientConfig := openai.DefaultConfig(instance.APIKey)
	clientConfig.BaseURL = instance.APIBase
	client := openai.NewClientWithConfig(clientConfig)

	_, err := client.ListModels(ctx)
	return err == nil
}

func probeAnthropic(instance config.LLM) bool {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	client := anthropic.NewClient(
		option.WithAPIKey(instance.APIKey),
		option.WithBaseURL(instance.APIBase),
	)

	_, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(instance.Model),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("ping"))},
		MaxTokens: 1,
	})
	return err == nil
}

func probeGeneric(instance config.LLM) bool {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, instance.APIBase, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+instance.APIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}
