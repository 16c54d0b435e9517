package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"time"

	"coldreach/apperr"
	"coldreach/models"

	"github.com/sashabaranov/go-openai"
	"gorm.io/gorm"
)

// Task tags routed to a model tier
const (
	TaskDeriveICP        = "derive_icp"
	TaskDiscoverProspects = "discover_prospects"
	TaskResearchProspect = "research_prospect"
	TaskDraftEmail       = "draft_email"
	TaskCategorizeReply  = "categorize_reply"
	TaskDraftResponse    = "draft_response"
	TaskFollowUpSteps    = "follow_up_steps"
	TaskWinBack          = "win_back"
)

// qualityTasks are routed to the higher-tier model; everything else is fast/cheap
var qualityTasks = map[string]bool{
	TaskDraftEmail:    true,
	TaskDraftResponse: true,
	TaskWinBack:       true,
	TaskDeriveICP:     true,
}

// Provider is the LLM entry point the pipeline depends on
type Provider interface {
	Call(ctx context.Context, userID uint, taskTag, prompt string) (*Result, error)
	CallJSON(ctx context.Context, userID uint, taskTag, prompt string, out interface{}) (*Result, error)
	CheckBudget(userID uint) (*BudgetStatus, error)
}

// Result is the outcome of one model call
type Result struct {
	Content   string `json:"content"`
	Model     string `json:"model"`
	Cached    bool   `json:"cached"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
	CostCents int    `json:"cost_cents"`
	LatencyMS int    `json:"latency_ms"`
}

// BudgetStatus reports the per-user monthly AI budget
type BudgetStatus struct {
	Allowed        bool `json:"allowed"`
	RemainingCents int  `json:"remaining_cents"`
}

// Config for the LLM client
type Config struct {
	APIKey       string
	FastModel    string        // default: gpt-4o-mini
	QualityModel string        // default: gpt-4o
	Temperature  float32       // default: 0.7
	MaxTokens    int           // default: 2000
	CacheTTL     time.Duration
	CallTimeout  time.Duration
}

// Client wraps the OpenAI API with task routing, a response cache, and
// per-user budget accounting
type Client struct {
	db     *gorm.DB
	api    *openai.Client
	cfg    Config
	logger *log.Logger
}

// NewClient creates a new LLM client
func NewClient(db *gorm.DB, cfg Config, logger *log.Logger) *Client {
	if cfg.FastModel == "" {
		cfg.FastModel = "gpt-4o-mini"
	}
	if cfg.QualityModel == "" {
		cfg.QualityModel = "gpt-4o"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Client{
		db:     db,
		api:    openai.NewClient(cfg.APIKey),
		cfg:    cfg,
		logger: logger,
	}
}

// ModelFor returns the model a task tag routes to
func (c *Client) ModelFor(taskTag string) string {
	if qualityTasks[taskTag] {
		return c.cfg.QualityModel
	}
	return c.cfg.FastModel
}

// CheckBudget sums this month's usage against the user's plan budget
func (c *Client) CheckBudget(userID uint) (*BudgetStatus, error) {
	var user models.User
	if err := c.db.Preload("Plan").First(&user, userID).Error; err != nil {
		return nil, apperr.NotFound("user")
	}

	budgetCents := 100 // free-tier default when no plan row is linked
	if user.Plan != nil {
		budgetCents = user.Plan.AIBudgetCents
	}

	month := time.Now().UTC().Format("2006-01")
	var spent int64
	if err := c.db.Model(&models.LLMUsage{}).
		Where("user_id = ? AND month = ?", userID, month).
		Select("COALESCE(SUM(cost_cents), 0)").
		Scan(&spent).Error; err != nil {
		return nil, err
	}

	remaining := budgetCents - int(spent)
	return &BudgetStatus{Allowed: remaining > 0, RemainingCents: remaining}, nil
}

// Call sends a prompt to the routed model, consulting the response cache first
func (c *Client) Call(ctx context.Context, userID uint, taskTag, prompt string) (*Result, error) {
	return c.callModel(ctx, userID, taskTag, prompt, c.ModelFor(taskTag), false)
}

// CallJSON calls the model in JSON mode and unmarshals the response into out.
// A parse failure on the fast tier escalates once to the quality model.
func (c *Client) CallJSON(ctx context.Context, userID uint, taskTag, prompt string, out interface{}) (*Result, error) {
	model := c.ModelFor(taskTag)
	res, err := c.callModel(ctx, userID, taskTag, prompt, model, true)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(res.Content), out); err != nil {
		if model != c.cfg.QualityModel {
			c.logger.Printf("LLM JSON parse failed on %s for task %s, escalating: %v", model, taskTag, err)
			res, err2 := c.callModel(ctx, userID, taskTag, prompt, c.cfg.QualityModel, true)
			if err2 != nil {
				return nil, err2
			}
			if err3 := json.Unmarshal([]byte(res.Content), out); err3 != nil {
				return nil, apperr.ProviderFailure("model returned invalid JSON after escalation", true, err3)
			}
			return res, nil
		}
		return nil, apperr.ProviderFailure("model returned invalid JSON", true, err)
	}
	return res, nil
}

func (c *Client) callModel(ctx context.Context, userID uint, taskTag, prompt, model string, jsonMode bool) (*Result, error) {
	budget, err := c.CheckBudget(userID)
	if err != nil {
		return nil, err
	}
	if !budget.Allowed {
		return nil, apperr.QuotaExceeded("monthly AI budget exhausted")
	}

	hash := inputHash(taskTag, model, prompt)

	// Cache hit path
	var cached models.LLMResponseCache
	err = c.db.Where("input_hash = ? AND expires_at > ?", hash, time.Now()).First(&cached).Error
	if err == nil {
		c.db.Model(&cached).Update("hit_count", gorm.Expr("hit_count + ?", 1))
		c.recordUsage(userID, taskTag, cached.ModelName, 0, 0, 0, 0, true)
		return &Result{Content: cached.Content, Model: cached.ModelName, Cached: true}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(callCtx, req)
	latency := time.Since(start)

	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, apperr.Timeout("LLM call exceeded deadline", err)
		}
		return nil, apperr.ProviderFailure("LLM call failed", true, err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperr.ProviderFailure("LLM returned no choices", true, nil)
	}

	content := resp.Choices[0].Message.Content
	cost := estimateCostCents(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	c.recordUsage(userID, taskTag, model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, cost, int(latency.Milliseconds()), false)

	entry := models.LLMResponseCache{
		TaskTag:   taskTag,
		InputHash: hash,
		Content:   content,
		ModelName: model,
		ExpiresAt: time.Now().Add(c.cfg.CacheTTL),
	}
	if err := c.db.Create(&entry).Error; err != nil {
		// Cache write failure is not a call failure
		c.logger.Printf("failed to cache LLM response for task %s: %v", taskTag, err)
	}

	return &Result{
		Content:   content,
		Model:     model,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
		CostCents: cost,
		LatencyMS: int(latency.Milliseconds()),
	}, nil
}

func (c *Client) recordUsage(userID uint, taskTag, model string, in, out, cost, latencyMS int, cached bool) {
	usage := models.LLMUsage{
		UserID:    userID,
		TaskTag:   taskTag,
		ModelName: model,
		Cached:    cached,
		TokensIn:  in,
		TokensOut: out,
		CostCents: cost,
		LatencyMS: latencyMS,
		Month:     time.Now().UTC().Format("2006-01"),
	}
	if err := c.db.Create(&usage).Error; err != nil {
		c.logger.Printf("failed to record LLM usage for user %d: %v", userID, err)
	}
}

// CleanupCache removes expired cache rows; run daily
func (c *Client) CleanupCache(ctx context.Context) (int64, error) {
	res := c.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&models.LLMResponseCache{})
	return res.RowsAffected, res.Error
}

func inputHash(taskTag, model, prompt string) string {
	sum := sha256.Sum256([]byte(taskTag + "\x00" + model + "\x00" + prompt))
	return hex.EncodeToString(sum[:])
}

// Rough per-1K-token pricing in hundredths of a cent
var modelPricing = map[string]struct{ in, out int }{
	"gpt-4o":      {250, 1000},
	"gpt-4o-mini": {15, 60},
}

func estimateCostCents(model string, tokensIn, tokensOut int) int {
	p, ok := modelPricing[model]
	if !ok {
		p = modelPricing["gpt-4o"]
	}
	hundredths := (tokensIn*p.in + tokensOut*p.out) / 1000
	cents := hundredths / 100
	if cents == 0 && tokensIn+tokensOut > 0 {
		cents = 1 // never bill a nonzero call at zero
	}
	return cents
}
