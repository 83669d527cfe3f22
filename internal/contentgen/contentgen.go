// Package contentgen drafts drip campaign emails with an OpenAI chat model.
package contentgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/thephotocrm/thephotocrm-sub005/internal/models"
)

// ErrBadResponse is returned when the model output is not a usable email list
var ErrBadResponse = errors.New("unusable model response")

// Config for the generator
type Config struct {
	APIKey      string
	Model       string  // default: gpt-4o-mini
	BaseURL     string  // empty uses the OpenAI API
	Temperature float32 // default: 0.7
	MaxTokens   int     // default: 3000
	Timeout     time.Duration
}

// Request describes the sequence to draft
type Request struct {
	BusinessName     string
	PhotographerName string
	StageName        string // e.g. "inquiry", "booked"
	Tone             string
	EmailCount       int
	CadenceDays      int
	Notes            string
}

// Generator drafts campaign emails
type Generator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	logger      *slog.Logger
}

// New creates a generator
func New(cfg Config, logger *slog.Logger) *Generator {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 3000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Generator{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		logger:      logger.With("component", "contentgen"),
	}
}

type draftEmail struct {
	Subject        string `json:"subject"`
	HTMLBody       string `json:"html_body"`
	TextBody       string `json:"text_body"`
	DaysAfterStart *int   `json:"days_after_start"`
}

type draftResponse struct {
	Emails []draftEmail `json:"emails"`
}

const systemPrompt = `You write email nurture sequences for professional photographers.
Reply with a JSON object {"emails": [...]}. Each email has "subject", "html_body",
"text_body" and "days_after_start" (integer, first email 0, non-decreasing).
Use merge fields such as {{first_name}}, {{photographer_name}}, {{business_name}}
and {{event_date}} instead of invented names. Never include an unsubscribe link.`

// Generate drafts req.EmailCount emails. Every email comes back PENDING
// approval.
func (g *Generator) Generate(ctx context.Context, req Request) ([]models.CampaignEmail, error) {
	if req.EmailCount <= 0 {
		req.EmailCount = 5
	}
	if req.CadenceDays <= 0 {
		req.CadenceDays = 7
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
	})
	if err != nil {
		g.logger.Error("generation failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("openai chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned: %w", ErrBadResponse)
	}

	g.logger.Info("campaign drafted",
		"model", g.model,
		"tokens", resp.Usage.TotalTokens,
		"duration", time.Since(start),
	)

	return parseEmails(resp.Choices[0].Message.Content, req.CadenceDays)
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write %d emails for clients in the %q stage", req.EmailCount, req.StageName)
	if req.BusinessName != "" {
		fmt.Fprintf(&b, " of %s", req.BusinessName)
	}
	if req.PhotographerName != "" {
		fmt.Fprintf(&b, " (photographer: %s)", req.PhotographerName)
	}
	fmt.Fprintf(&b, ". Space them about %d days apart.", req.CadenceDays)
	if req.Tone != "" {
		fmt.Fprintf(&b, " Tone: %s.", req.Tone)
	}
	if req.Notes != "" {
		fmt.Fprintf(&b, "\nNotes from the photographer: %s", req.Notes)
	}
	return b.String()
}

// parseEmails turns the model's JSON into a sequence. Missing offsets fall
// back to the cadence and offsets never go backwards.
func parseEmails(content string, cadenceDays int) ([]models.CampaignEmail, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var draft draftResponse
	if err := json.Unmarshal([]byte(content), &draft); err != nil {
		return nil, fmt.Errorf("decode model output: %v: %w", err, ErrBadResponse)
	}
	if len(draft.Emails) == 0 {
		return nil, fmt.Errorf("no emails in model output: %w", ErrBadResponse)
	}

	emails := make([]models.CampaignEmail, 0, len(draft.Emails))
	prev := 0
	for i, d := range draft.Emails {
		if strings.TrimSpace(d.Subject) == "" || (d.HTMLBody == "" && d.TextBody == "") {
			return nil, fmt.Errorf("email %d is empty: %w", i, ErrBadResponse)
		}
		offset := i * cadenceDays
		if d.DaysAfterStart != nil {
			offset = *d.DaysAfterStart
		}
		if offset < prev {
			offset = prev
		}
		prev = offset

		emails = append(emails, models.CampaignEmail{
			Subject:        strings.TrimSpace(d.Subject),
			HTMLBody:       d.HTMLBody,
			TextBody:       d.TextBody,
			DaysAfterStart: offset,
			ApprovalStatus: models.ApprovalPending,
		})
	}
	return emails, nil
}
