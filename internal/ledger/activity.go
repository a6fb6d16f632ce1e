package ledger

// Activities debited by the studio client before calling a provider.
const (
	ActivityVideoGeneration   = "video_generation"
	ActivityAvatarImageUpload = "avatar_image_upload"
	ActivityStreamCreation    = "stream_creation"
	ActivityAgentCreation     = "agent_creation"
)

// DebitTokens is what each billable action costs a guest.
var DebitTokens = map[string]int{
	ActivityVideoGeneration:   800,
	ActivityAvatarImageUpload: 100,
	ActivityStreamCreation:    500,
	ActivityAgentCreation:     1000,
}

// DefaultActivityTokens is the estimate for activities missing from the table.
const DefaultActivityTokens = 100

var estimateTokens = map[string]int{
	"avatar_generation": 500,
	"video_creation":    800,
	"image_upload":      100,
	"video_translation": 600,
	"agent_interaction": 200,
}

// EstimateActivityTokens returns the token estimate for activity.
func EstimateActivityTokens(activity string) int {
	if tokens, ok := estimateTokens[activity]; ok {
		return tokens
	}
	return DefaultActivityTokens
}

// EstimateActivityCost returns the estimated cost of activity in euros.
func EstimateActivityCost(activity string) float64 {
	return float64(EstimateActivityTokens(activity)) / TokensPerEuro
}
