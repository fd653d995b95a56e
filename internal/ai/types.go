// Package ai is the request/response boundary to the analysis and
// response-generation service.
package ai

import "errors"

// Gateway error taxonomy. Backend failures are normalized onto these; the
// upstream detail never reaches callers.
var (
	ErrDecodingFailed  = errors.New("response decoding failed")
	ErrEmptyResponse   = errors.New("empty response")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrTimeout         = errors.New("request timed out")
	ErrUpstream        = errors.New("upstream failure")
)

// AnalyzeRequest asks for enrichment metadata on one message.
type AnalyzeRequest struct {
	Message        string            `json:"message"`
	SenderProfile  map[string]string `json:"senderProfile,omitempty"`
	CreatorContext map[string]string `json:"creatorContext,omitempty"`
}

// ExtractedInfo is the structured extraction attached to an analysis.
type ExtractedInfo struct {
	KeyFacts         []string `json:"keyFacts"`
	RequestedActions []string `json:"requestedActions"`
	MentionedBrands  []string `json:"mentionedBrands"`
}

// Analysis is the analyzeMessage response.
type Analysis struct {
	Category           string        `json:"category"`
	Sentiment          string        `json:"sentiment"`
	Priority           int           `json:"priority"`
	CollaborationScore float64       `json:"collaborationScore"`
	Summary            string        `json:"summary"`
	ExtractedInfo      ExtractedInfo `json:"extractedInfo"`
}

// Turn is one entry of trimmed conversation history.
type Turn struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// CreatorProfile carries the persona/style fields for generation.
type CreatorProfile struct {
	Persona         string   `json:"persona,omitempty"`
	Tone            string   `json:"tone,omitempty"`
	StyleGuidelines string   `json:"styleGuidelines,omitempty"`
	VoiceSamples    []string `json:"voiceSamples,omitempty"`
	Signature       string   `json:"signature,omitempty"`
}

// ResponsePreferences tunes the generated reply.
type ResponsePreferences struct {
	Format string `json:"format,omitempty"`
	Length string `json:"length,omitempty"`
}

// GenerateRequest asks for a suggested reply. History is capped to the last
// 8 turns before the call leaves the process.
type GenerateRequest struct {
	Message             string              `json:"message"`
	ConversationHistory []Turn              `json:"conversationHistory,omitempty"`
	CreatorProfile      CreatorProfile      `json:"creatorProfile"`
	ResponsePreferences ResponsePreferences `json:"responsePreferences"`
}

// Generation is the generateResponse response.
type Generation struct {
	Reply                string   `json:"reply"`
	Tone                 string   `json:"tone"`
	Format               string   `json:"format"`
	Reasoning            string   `json:"reasoning"`
	FollowUpQuestions    []string `json:"followUpQuestions"`
	SuggestedNextActions []string `json:"suggestedNextActions"`
}

// maxHistoryTurns bounds conversation history sent upstream.
const maxHistoryTurns = 8
