package prompt

import (
	"fmt"
	"sort"
	"strings"

	"coverletter-agent/internal/types"
)

// 模板占位符
const (
	PlaceholderVacancy         = "{vacancy}"
	PlaceholderResume          = "{resume}"
	PlaceholderEmployerSection = "{employer_section}"
	PlaceholderUserRules       = "{user_rules}"
	PlaceholderResponse        = "{response}"
	PlaceholderUserComments    = "{user_comments}"
)

// DefaultGenerationTemplate 首次生成求职信的提示词
const DefaultGenerationTemplate = `You are my assistant for writing cover letters.
Write a cover letter for this vacancy:
{vacancy}

Take the following information into account.

My resume:
{resume}
{employer_section}
My rules for writing the cover letter:
{user_rules}`

// DefaultRevisionTemplate 根据用户意见修改已有回复的提示词
const DefaultRevisionTemplate = `You are my assistant for writing cover letters.
Revise this cover letter:
{response}

My comments on what to change:
{user_comments}

While revising, keep the letter consistent with the following context and correct it rather than writing a new one from scratch.

The vacancy:
{vacancy}

My resume:
{resume}
{employer_section}
My rules for writing the cover letter:
{user_rules}`

// MotivationInstruction 生成提示词固定以此结尾
const MotivationInstruction = "Finally, you must end the letter with a paragraph about my motivation to work for this employer, " +
	"based on the vacancy text and the employer description (if there is one)."

const (
	noRulesText  = "No additional rules."
	monthLayout  = "2006-01"
	presentLabel = "present"
)

// Renderer 将生成上下文插入静态模板。纯函数，无I/O，可并发使用。
type Renderer struct {
	generationTemplate string
	revisionTemplate   string
}

// Option 渲染器配置选项
type Option func(*Renderer)

// WithGenerationTemplate 替换生成模板，空字符串保持默认
func WithGenerationTemplate(tpl string) Option {
	return func(r *Renderer) {
		if strings.TrimSpace(tpl) != "" {
			r.generationTemplate = tpl
		}
	}
}

// WithRevisionTemplate 替换修改模板，空字符串保持默认
func WithRevisionTemplate(tpl string) Option {
	return func(r *Renderer) {
		if strings.TrimSpace(tpl) != "" {
			r.revisionTemplate = tpl
		}
	}
}

// NewRenderer 创建渲染器
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{
		generationTemplate: DefaultGenerationTemplate,
		revisionTemplate:   DefaultRevisionTemplate,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultRenderer = NewRenderer()

// RenderGeneration 使用默认模板渲染生成提示词
func RenderGeneration(ctx types.GenerationContext) string {
	return defaultRenderer.RenderGeneration(ctx)
}

// RenderRevision 使用默认模板渲染修改提示词
func RenderRevision(ctx types.GenerationContext, priorResponse, userComments string) string {
	return defaultRenderer.RenderRevision(ctx, priorResponse, userComments)
}

// RenderGeneration 渲染生成提示词。
// 雇主为空时整段省略；结尾总是追加动机段落的要求。
func (r *Renderer) RenderGeneration(ctx types.GenerationContext) string {
	out := contextReplacer(ctx, "", "").Replace(r.generationTemplate)
	return strings.TrimRight(out, "\n ") + "\n\n" + MotivationInstruction
}

// RenderRevision 渲染修改提示词，先给出上一版回复和用户意见，再给出同样的上下文
func (r *Renderer) RenderRevision(ctx types.GenerationContext, priorResponse, userComments string) string {
	out := contextReplacer(ctx, priorResponse, userComments).Replace(r.revisionTemplate)
	return strings.TrimRight(out, "\n ")
}

func contextReplacer(ctx types.GenerationContext, response, comments string) *strings.Replacer {
	return strings.NewReplacer(
		PlaceholderVacancy, formatVacancy(ctx.Vacancy),
		PlaceholderResume, formatResume(ctx.Resume),
		PlaceholderEmployerSection, formatEmployerSection(ctx.Employer),
		PlaceholderUserRules, formatRules(ctx.Rules),
		PlaceholderResponse, strings.TrimSpace(response),
		PlaceholderUserComments, strings.TrimSpace(comments),
	)
}

func formatVacancy(v types.Vacancy) string {
	var b strings.Builder
	writeField(&b, "Title", v.Title)
	writeField(&b, "URL", v.URL)
	writeField(&b, "Required experience", v.Experience)
	if len(v.KeySkills) > 0 {
		writeField(&b, "Key skills", strings.Join(v.KeySkills, ", "))
	}
	writeField(&b, "Description", v.Description)
	return strings.TrimRight(b.String(), "\n")
}

func formatResume(r types.Resume) string {
	var b strings.Builder
	name := strings.TrimSpace(r.FirstName + " " + r.LastName)
	writeField(&b, "Name", name)
	writeField(&b, "Desired position", r.Title)
	if len(r.Skills) > 0 {
		writeField(&b, "Skills", strings.Join(r.Skills, ", "))
	}
	if len(r.WorkHistory) > 0 {
		b.WriteString("Work experience:\n")
		for _, exp := range r.WorkHistory {
			end := presentLabel
			if exp.End != nil {
				end = exp.End.Format(monthLayout)
			}
			start := ""
			if !exp.Start.IsZero() {
				start = exp.Start.Format(monthLayout)
			}
			fmt.Fprintf(&b, "- %s at %s (%s to %s)", exp.Position, exp.Company, start, end)
			if d := strings.TrimSpace(exp.Description); d != "" {
				b.WriteString(": ")
				b.WriteString(d)
			}
			b.WriteString("\n")
		}
	}
	writeField(&b, "Email", r.ContactEmail)
	writeField(&b, "Phone", r.ContactPhone)
	return strings.TrimRight(b.String(), "\n")
}

// formatEmployerSection 无雇主时返回空串，不留任何占位文本
func formatEmployerSection(e *types.Employer) string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nAbout the employer:\n")
	writeField(&b, "Name", e.Name)
	writeField(&b, "Description", e.Description)
	return b.String()
}

// formatRules 按键排序，保证相同输入得到相同输出
func formatRules(rules map[string]string) string {
	if len(rules) == 0 {
		return noRulesText
	}
	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %s", k, rules[k]))
	}
	return strings.Join(lines, "\n")
}

// writeField 空白值跳过，其余原样写入
func writeField(b *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\n")
}
