package service

import (
	"context"
	"encoding/json"
	"fmt"
	"oral_practice_backend/internal/config"
	"oral_practice_backend/pkg/monitoring"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// ParseError 供应商返回的文本无法解析为预期JSON
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse provider response: %v (raw: %.200s)", e.Err, e.Raw)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseProviderJSON 解析大模型回复中的JSON对象。即使要求了JSON格式，
// 部分模型仍会在对象前后附带说明文字，先整体解析、失败后提取首个
// 完整的大括号对象再解析。解析失败统一返回 *ParseError。
func ParseProviderJSON(raw string, out interface{}) error {
	trimmed := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}

	start := strings.Index(trimmed, "{")
	if start < 0 {
		return &ParseError{Raw: raw, Err: fmt.Errorf("no JSON object in reply")}
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(trimmed); i++ {
		ch := trimmed[i]
		if inString {
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				if err := json.Unmarshal([]byte(trimmed[start:i+1]), out); err != nil {
					return &ParseError{Raw: raw, Err: err}
				}
				return nil
			}
		}
	}
	return &ParseError{Raw: raw, Err: fmt.Errorf("unbalanced JSON object in reply")}
}

const chatRetries = 2

// AIService 评分大模型客户端（OpenAI兼容接口）。对供应商限速，
// 瞬时失败在适配器层重试固定次数。
type AIService struct {
	api     *openai.Client
	model   string
	limiter *rate.Limiter
	timeout time.Duration
}

func NewAIService(cfg config.AIConfig, timeout time.Duration) (*AIService, error) {
	// 凭证缺失在构造时报错，而不是每次调用时晦涩地失败
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ai: api_key is not configured")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ai: model is not configured")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	rpm := cfg.MaxRPM
	if rpm <= 0 {
		rpm = 60
	}

	return &AIService{
		api:     openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		timeout: timeout,
	}, nil
}

// CompleteJSON 发起一次对话补全并把回复解析进 out。
// 要求模型以JSON对象作答（response_format），解析仍经过
// ParseProviderJSON 兜底。
func (s *AIService) CompleteJSON(ctx context.Context, system, user string, out interface{}) error {
	var lastErr error
	for i := 0; i <= chatRetries; i++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		start := time.Now()
		resp, err := s.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model: s.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Temperature: 0.2,
		})
		monitoring.ObserveProviderCall("chat", start)
		cancel()

		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("ai: provider returned no choices")
			continue
		}

		if err := ParseProviderJSON(resp.Choices[0].Message.Content, out); err != nil {
			// 解析失败可能是模型偶发输出问题，同样计入重试
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
