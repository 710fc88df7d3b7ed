package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// CleaningRule 清洗规则
type CleaningRule interface {
	Apply(text string) string
	Name() string
}

// CleaningStats 清洗统计
type CleaningStats struct {
	Processed int64 `json:"processed"`
	CacheHits int64 `json:"cache_hits"`
	// Emptied 清洗后为空的消息数
	Emptied     int64            `json:"emptied"`
	RuleChanges map[string]int64 `json:"rule_changes"`
}

// TextCleaner 消息文本清洗器。非并发安全
type TextCleaner struct {
	rules []CleaningRule
	cache *lru.Cache[string, string]
	stats CleaningStats
}

// NewTextCleaner 创建清洗器，按固定顺序加载默认规则
func NewTextCleaner(maxLength, cacheSize int) (*TextCleaner, error) {
	cleaner := &TextCleaner{
		stats: CleaningStats{RuleChanges: make(map[string]int64)},
	}
	if cacheSize > 0 {
		cache, err := lru.New[string, string](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create clean cache: %w", err)
		}
		cleaner.cache = cache
	}

	cleaner.AddRule(NewUnicodeNormalizeRule())
	cleaner.AddRule(NewURLRule())
	cleaner.AddRule(NewMentionRule())
	cleaner.AddRule(NewLowercaseRule())
	cleaner.AddRule(NewPunctuationRule())
	cleaner.AddRule(NewWhitespaceRule())
	if maxLength > 0 {
		cleaner.AddRule(NewTruncateRule(maxLength))
	}
	return cleaner, nil
}

// AddRule 添加清洗规则
func (c *TextCleaner) AddRule(rule CleaningRule) {
	c.rules = append(c.rules, rule)
}

// Clean 清洗单条文本；相同原文命中缓存
func (c *TextCleaner) Clean(text string) string {
	c.stats.Processed++
	if c.cache != nil {
		if cleaned, ok := c.cache.Get(text); ok {
			c.stats.CacheHits++
			if cleaned == "" {
				c.stats.Emptied++
			}
			return cleaned
		}
	}

	cleaned := text
	for _, rule := range c.rules {
		next := rule.Apply(cleaned)
		if next != cleaned {
			c.stats.RuleChanges[rule.Name()]++
		}
		cleaned = next
	}
	if cleaned == "" {
		c.stats.Emptied++
	}
	if c.cache != nil {
		c.cache.Add(text, cleaned)
	}
	return cleaned
}

// Stats 获取统计信息
func (c *TextCleaner) Stats() CleaningStats {
	stats := c.stats
	stats.RuleChanges = make(map[string]int64, len(c.stats.RuleChanges))
	for k, v := range c.stats.RuleChanges {
		stats.RuleChanges[k] = v
	}
	return stats
}

// ============ 清洗规则实现 ============

// UnicodeNormalizeRule NFKC 规范化（全角字符、兼容字符）
type UnicodeNormalizeRule struct{}

func NewUnicodeNormalizeRule() *UnicodeNormalizeRule { return &UnicodeNormalizeRule{} }

func (r *UnicodeNormalizeRule) Name() string { return "unicode_normalize" }

func (r *UnicodeNormalizeRule) Apply(text string) string {
	return norm.NFKC.String(text)
}

// URLRule 去除链接
type URLRule struct {
	pattern *regexp.Regexp
}

func NewURLRule() *URLRule {
	return &URLRule{pattern: regexp.MustCompile(`(?i)(?:https?://|www\.)\S+`)}
}

func (r *URLRule) Name() string { return "strip_urls" }

func (r *URLRule) Apply(text string) string {
	return r.pattern.ReplaceAllString(text, " ")
}

// MentionRule 去除 @用户
type MentionRule struct {
	pattern *regexp.Regexp
}

func NewMentionRule() *MentionRule {
	return &MentionRule{pattern: regexp.MustCompile(`@\w+`)}
}

func (r *MentionRule) Name() string { return "strip_mentions" }

func (r *MentionRule) Apply(text string) string {
	return r.pattern.ReplaceAllString(text, " ")
}

// LowercaseRule 转小写
type LowercaseRule struct {
	caser cases.Caser
}

func NewLowercaseRule() *LowercaseRule {
	return &LowercaseRule{caser: cases.Lower(language.Und)}
}

func (r *LowercaseRule) Name() string { return "lowercase" }

func (r *LowercaseRule) Apply(text string) string {
	return r.caser.String(text)
}

// PunctuationRule 标点和符号替换为空格，#tag 保留为 tag
type PunctuationRule struct{}

func NewPunctuationRule() *PunctuationRule { return &PunctuationRule{} }

func (r *PunctuationRule) Name() string { return "strip_punctuation" }

func (r *PunctuationRule) Apply(text string) string {
	return strings.Map(func(c rune) rune {
		if unicode.IsLetter(c) || unicode.IsDigit(c) || unicode.IsSpace(c) {
			return c
		}
		if c == '\'' || c == '’' {
			return -1
		}
		return ' '
	}, text)
}

// WhitespaceRule 合并空白
type WhitespaceRule struct{}

func NewWhitespaceRule() *WhitespaceRule { return &WhitespaceRule{} }

func (r *WhitespaceRule) Name() string { return "collapse_whitespace" }

func (r *WhitespaceRule) Apply(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// TruncateRule 按字符数截断
type TruncateRule struct {
	MaxLength int
}

func NewTruncateRule(maxLength int) *TruncateRule {
	return &TruncateRule{MaxLength: maxLength}
}

func (r *TruncateRule) Name() string { return "truncate" }

func (r *TruncateRule) Apply(text string) string {
	if r.MaxLength <= 0 {
		return text
	}
	count := 0
	for i := range text {
		if count == r.MaxLength {
			return strings.TrimSpace(text[:i])
		}
		count++
	}
	return text
}
