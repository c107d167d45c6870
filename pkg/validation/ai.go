package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/wisbric/avitosentry/pkg/catalog"
)

// geminiBaseURL is Google AI Studio's OpenAI-compatible endpoint.
const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// geminiModel is the fixed model identifier.
const geminiModel = "gemini-2.5-flash"

const systemPrompt = `Ты эксперт по проверке оригинальности товаров на основе объявлений.

ЗАДАЧА:
Проанализируй объявления и определи, какие из них предлагают ОРИГИНАЛЬНЫЕ товары.

КРИТЕРИИ ОТКЛОНЕНИЯ:
1. Скрытые признаки неоригинальности в тексте (завуалированные фразы типа "как оригинал", "качественная копия", "аналог оригинала", "совместимость", "подходит для")
2. Подозрительно низкая цена (дешевле 70% от среднего топ-20%)

ВАЖНО:
- Игнорируй явные стоп-слова (б/у, аналог) - они уже отфильтрованы механической валидацией
- Ищи СКРЫТЫЕ признаки и ценовые аномалии
- Будь строгим но справедливым
- Если нет признаков подделки - включай в passed_ids

ФОРМАТ ОТВЕТА (строго JSON):
{
    "passed_ids": [123, 456],
    "rejected": [
        {"avito_item_id": 789, "reason": "краткая причина отклонения"}
    ]
}`

// AI validates, via Gemini's OpenAI-compatible endpoint, the subset of
// listings that passed mechanical validation.
type AI struct {
	client openai.Client
	apiKey string
}

// NewAI builds an AI validator. If apiKey is empty, Validate returns
// (nil, nil) immediately — the LLM stage is skipped and mechanical
// passers are final.
func NewAI(apiKey string) *AI {
	if apiKey == "" {
		return &AI{}
	}
	return &AI{
		apiKey: apiKey,
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(geminiBaseURL),
		),
	}
}

type aiResponse struct {
	PassedIDs []int64 `json:"passed_ids"`
	Rejected  []struct {
		AvitoItemID int64  `json:"avito_item_id"`
		Reason      string `json:"reason"`
	} `json:"rejected"`
}

// Validate sends listings (already mechanically-passed) to Gemini and
// returns one Outcome per listing. A JSON-decode failure falls back to
// "all passed" with a fallback marker rather than failing the task; a
// request timeout is propagated so the caller can retry the task.
func (a *AI) Validate(ctx context.Context, listings []catalog.Listing, article string) ([]Outcome, error) {
	if len(listings) == 0 {
		return nil, nil
	}
	if a.apiKey == "" {
		return nil, nil
	}

	userPrompt := formatListingsForPrompt(listings, article)

	reqCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	completion, err := a.client.Chat.Completions.New(reqCtx, openai.ChatCompletionNewParams{
		Model: geminiModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
		Temperature: openai.Float(0.3),
	})
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, fmt.Errorf("validation: gemini request timed out: %w", reqCtx.Err())
		}
		return nil, fmt.Errorf("validation: gemini request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("validation: gemini returned no choices")
	}

	var parsed aiResponse
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &parsed); err != nil {
		return fallbackAllPassed(listings), nil
	}

	outcomes := make([]Outcome, 0, len(listings))
	rejected := make(map[int64]string, len(parsed.Rejected))
	for _, r := range parsed.Rejected {
		rejected[r.AvitoItemID] = r.Reason
	}
	for _, id := range parsed.PassedIDs {
		outcomes = append(outcomes, Outcome{
			AvitoItemID: id,
			Passed:      true,
			Details:     map[string]any{"stage": "ai", "decision": "passed"},
		})
	}
	for id, reason := range rejected {
		outcomes = append(outcomes, Outcome{
			AvitoItemID:     id,
			Passed:          false,
			RejectionReason: reason,
			Details:         map[string]any{"stage": "ai", "decision": "rejected", "model_reason": reason},
		})
	}
	return outcomes, nil
}

func fallbackAllPassed(listings []catalog.Listing) []Outcome {
	outcomes := make([]Outcome, 0, len(listings))
	for _, l := range listings {
		outcomes = append(outcomes, Outcome{
			AvitoItemID: l.AvitoItemID,
			Passed:      true,
			Details: map[string]any{
				"stage":    "ai",
				"decision": "passed",
				"fallback": "json_decode_error",
			},
		})
	}
	return outcomes
}

func formatListingsForPrompt(listings []catalog.Listing, article string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Артикул: %s\n\n", article)

	prices := make([]float64, 0, len(listings))
	for _, l := range listings {
		if l.Price > 0 {
			prices = append(prices, l.Price)
		}
	}
	if len(prices) > 0 {
		sorted := append([]float64(nil), prices...)
		sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
		top20Count := len(sorted) / 5
		if top20Count < 1 {
			top20Count = 1
		}
		var sum float64
		for _, p := range sorted[:top20Count] {
			sum += p
		}
		top20Avg := sum / float64(top20Count)
		fmt.Fprintf(&b, "ЦЕНОВОЙ ОРИЕНТИР: топ-20%% среднее = %.2f₽, порог 70%% = %.2f₽\n\n", top20Avg, top20Avg*0.7)
	}

	for _, l := range listings {
		fmt.Fprintf(&b, "ID: %d\n", l.AvitoItemID)
		fmt.Fprintf(&b, "Название: %s\n", l.Title)
		fmt.Fprintf(&b, "Описание: %s\n", l.Description)
		fmt.Fprintf(&b, "Цена: %.0f₽\n\n", l.Price)
	}

	return b.String()
}
