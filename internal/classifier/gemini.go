package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"engagement_backend/platform/config"

	"google.golang.org/genai"
)

const systemPrompt = `You are the qualification assistant for a sales team. Read the lead's latest message
and the conversation context, then answer with JSON only.
- intent: one of qualifying, objection, scheduling, not_interested, human_request, other.
- qualification_updates: facts the lead stated (budget, timeline, location, financing_interest, motivation).
- escalate: true when the lead is frustrated, explicitly asks for a person, or wants to schedule.
- reason: short reason when escalate is true.
- reply_text: the next message to send, at most 300 characters, empty when escalating.
- score_delta: integer between -20 and 20 reflecting how much closer the lead is to buying.`

// GeminiClassifier calls a Gemini model in JSON mode.
type GeminiClassifier struct {
	client *genai.Client
	model  string
}

func NewGeminiClassifier(ctx context.Context, cfg config.ClassifierConfig) (*GeminiClassifier, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GetGeminiAPIKey(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClassifier{client: client, model: cfg.GetGeminiModel()}, nil
}

func (g *GeminiClassifier) Classify(ctx context.Context, req Request) (Decision, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(buildPrompt(req)), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    decisionSchema,
		Temperature:       genai.Ptr[float32](0.2),
	})
	if err != nil {
		return Decision{}, fmt.Errorf("gemini generate: %w", err)
	}
	return parseDecision(resp.Text())
}

var decisionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"intent": {
			Type: genai.TypeString,
			Enum: []string{"qualifying", "objection", "scheduling", "not_interested", "human_request", "other"},
		},
		"qualification_updates": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"field": {Type: genai.TypeString},
					"value": {Type: genai.TypeString},
				},
				Required: []string{"field", "value"},
			},
		},
		"escalate":    {Type: genai.TypeBoolean},
		"reason":      {Type: genai.TypeString},
		"reply_text":  {Type: genai.TypeString},
		"score_delta": {Type: genai.TypeInteger},
	},
	Required: []string{"intent", "escalate", "reply_text"},
}

type modelDecision struct {
	Intent               string `json:"intent"`
	QualificationUpdates []struct {
		Field string `json:"field"`
		Value string `json:"value"`
	} `json:"qualification_updates"`
	Escalate   bool   `json:"escalate"`
	Reason     string `json:"reason"`
	ReplyText  string `json:"reply_text"`
	ScoreDelta int    `json:"score_delta"`
}

func parseDecision(raw string) (Decision, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "```"), "```")

	var md modelDecision
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &md); err != nil {
		return Decision{}, fmt.Errorf("decode model decision: %w", err)
	}

	d := Decision{
		Intent:     ParseIntent(md.Intent),
		Escalate:   md.Escalate,
		Reason:     strings.TrimSpace(md.Reason),
		ReplyText:  strings.TrimSpace(md.ReplyText),
		ScoreDelta: min(max(md.ScoreDelta, -20), 20),
	}
	if d.Intent == IntentHumanRequest {
		d.Escalate = true
	}
	if d.Escalate && d.Reason == "" {
		d.Reason = string(d.Intent)
	}
	if len(md.QualificationUpdates) > 0 {
		d.QualificationUpdates = make(map[string]any, len(md.QualificationUpdates))
		for _, u := range md.QualificationUpdates {
			field := strings.ToLower(strings.TrimSpace(u.Field))
			if field == "" {
				continue
			}
			d.QualificationUpdates[field] = normalizeValue(u.Value)
		}
	}
	return d, nil
}

func normalizeValue(v string) any {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	default:
		return strings.TrimSpace(v)
	}
}

func buildPrompt(req Request) string {
	var b strings.Builder
	conv := req.Conversation
	fmt.Fprintf(&b, "Lead: %s\n", req.Contact.DisplayName())
	fmt.Fprintf(&b, "Current state: %s\nLead score: %d\n", conv.State, conv.LeadScore)

	if len(conv.QualificationData) > 0 {
		fields := make([]string, 0, len(conv.QualificationData))
		for field := range conv.QualificationData {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		b.WriteString("Known qualification data:\n")
		for _, field := range fields {
			fmt.Fprintf(&b, "- %s: %v\n", field, conv.QualificationData[field])
		}
	}

	fmt.Fprintf(&b, "\nLatest message from the lead:\n%s\n", req.InboundText)
	return b.String()
}
