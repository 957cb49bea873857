package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vipul43/kiwis-outreach/internal/models"
	"github.com/vipul43/kiwis-outreach/internal/service"
)

const (
	OpenRouterAPIURL = "https://openrouter.ai/api/v1/chat/completions"

	maxMessageLength = 600 // connection notes and first DMs must stay short
)

type Client struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
	model      *string // Optional: if nil, uses OpenRouter account default
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey: apiKey,
		apiURL: OpenRouterAPIURL,
		httpClient: &http.Client{
			Timeout: 300 * time.Second, // 5 minutes timeout for LLM calls (free models are slow)
		},
		model: nil, // Use OpenRouter account default
	}
}

// SetModel sets a specific model to use (optional)
func (c *Client) SetModel(model string) {
	c.model = &model
}

// SetAPIURL points the client at a different chat completions endpoint
func (c *Client) SetAPIURL(url string) {
	c.apiURL = url
}

// DraftData is the JSON object the model is asked to return
type DraftData struct {
	NewsSummary string `json:"news_summary"`
	PainPoints  string `json:"pain_points"`
	SourceURL   string `json:"source_url"`
	Message     string `json:"message"`
	StrategyTag string `json:"strategy_tag"`
}

// Draft researches the contact's company and writes an opening message
func (c *Client) Draft(ctx context.Context, req service.DraftRequest) (*service.DraftResult, error) {
	content, rawResponse, err := c.complete(ctx, c.buildPrompt(req))
	if err != nil {
		return nil, err
	}

	// Clean the content (remove markdown code blocks if present)
	cleanedContent := c.cleanJSONResponse(content)

	var draft DraftData
	if err := json.Unmarshal([]byte(cleanedContent), &draft); err != nil {
		return nil, fmt.Errorf("failed to parse draft JSON: %w", err)
	}

	if err := c.validateDraft(&draft); err != nil {
		return nil, err
	}

	return &service.DraftResult{
		NewsSummary: draft.NewsSummary,
		PainPoints:  draft.PainPoints,
		SourceURL:   draft.SourceURL,
		Message:     draft.Message,
		StrategyTag: models.StrategyTag(draft.StrategyTag),
		Raw:         rawResponse,
	}, nil
}

// complete sends a single-turn chat request and returns the reply text
// along with the raw response for audit
func (c *Client) complete(ctx context.Context, prompt string) (string, map[string]interface{}, error) {
	reqBody := map[string]interface{}{
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": prompt,
			},
		},
	}

	// Only include model if explicitly set, otherwise use OpenRouter account default
	if c.model != nil {
		reqBody["model"] = *c.model
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	// Parse OpenRouter response
	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", nil, fmt.Errorf("failed to parse API response: %w", err)
	}

	if len(apiResp.Choices) == 0 {
		return "", nil, fmt.Errorf("no response from LLM")
	}

	var rawResponse map[string]interface{}
	_ = json.Unmarshal(body, &rawResponse)

	return apiResp.Choices[0].Message.Content, rawResponse, nil
}

// cleanJSONResponse removes markdown code blocks and extra whitespace from LLM response
func (c *Client) cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	// Find the first { and last } to extract just the JSON object
	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")

	if startIdx == -1 || endIdx == -1 || startIdx > endIdx {
		// No valid JSON found, return as is and let JSON parser fail with proper error
		return content
	}

	return strings.TrimSpace(content[startIdx : endIdx+1])
}

// validateDraft normalizes the model output and rejects drafts the feed
// cannot show
func (c *Client) validateDraft(draft *DraftData) error {
	draft.Message = strings.TrimSpace(draft.Message)
	draft.StrategyTag = strings.ToUpper(strings.TrimSpace(draft.StrategyTag))
	draft.SourceURL = strings.TrimSpace(draft.SourceURL)

	if draft.Message == "" {
		return fmt.Errorf("draft has no message")
	}
	if len([]rune(draft.Message)) > maxMessageLength {
		return fmt.Errorf("draft message too long (%d chars)", len([]rune(draft.Message)))
	}
	if !models.StrategyTag(draft.StrategyTag).Valid() {
		return fmt.Errorf("unknown strategy tag %q", draft.StrategyTag)
	}
	if draft.SourceURL != "" && !strings.HasPrefix(draft.SourceURL, "http") {
		draft.SourceURL = ""
	}
	return nil
}

// buildPrompt builds the research and drafting prompt for one contact
func (c *Client) buildPrompt(req service.DraftRequest) string {
	tags := make([]string, 0, len(models.StrategyTags))
	for _, tag := range models.StrategyTags {
		tags = append(tags, `"`+string(tag)+`"`)
	}

	return fmt.Sprintf(`You are a research assistant preparing a first LinkedIn message to a professional contact.

Research the contact's company, find one recent and specific piece of news, infer what problems the contact is likely dealing with in their role, then write a short personal opening message.

### OUTPUT FORMAT (STRICT JSON ONLY)
Return JSON with these keys:

{
  "news_summary": "",
  "pain_points": "",
  "source_url": "",
  "message": "",
  "strategy_tag": ""
}

### FIELD DEFINITIONS

news_summary
- One or two sentences on a recent, concrete development at the company (funding, launch, hiring, expansion).
- Empty string if nothing reliable is known.

pain_points
- Likely challenges for someone in this role given the news. One or two sentences.

source_url
- URL of the news source. Empty string if unknown.

message
- The opening message, under %d characters.
- Address the contact by first name. Reference the news or pain point. End with a light question.
- No subject line, no signature, no placeholders.

strategy_tag
- The approach the message takes, one of: %s

### CRITICAL RULES
- Output ONLY the JSON object, no explanations.
- Never invent funding amounts, customers or quotes.
- If no news is found, write a message based on the role and pick "DIRECT_PITCH" or "VALIDATION_ASK".

### Contact:

Name: %s
Role: %s
Company: %s
LinkedIn: %s`, maxMessageLength, strings.Join(tags, ", "), req.FullName, req.Role, req.Company, req.LinkedInURL)
}

var _ service.Drafter = (*Client)(nil)
