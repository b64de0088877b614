package types

import "time"

// Vacancy 岗位信息，由职位平台客户端提供
type Vacancy struct {
	ID          string   `json:"id" yaml:"id"`
	URL         string   `json:"url" yaml:"url"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	KeySkills   []string `json:"key_skills,omitempty" yaml:"key_skills"`
	Experience  string   `json:"experience,omitempty" yaml:"experience"` // 经验要求，例如 "1-3 years"
}

// WorkExperience 单条工作经历
type WorkExperience struct {
	Company     string     `json:"company" yaml:"company"`
	Position    string     `json:"position" yaml:"position"`
	Start       time.Time  `json:"start" yaml:"start"`
	End         *time.Time `json:"end,omitempty" yaml:"end"` // nil 表示至今
	Description string     `json:"description" yaml:"description"`
}

// Resume 候选人简历
type Resume struct {
	ID           string           `json:"id" yaml:"id"`
	Title        string           `json:"title,omitempty" yaml:"title"`
	FirstName    string           `json:"first_name,omitempty" yaml:"first_name"`
	LastName     string           `json:"last_name,omitempty" yaml:"last_name"`
	Skills       []string         `json:"skills,omitempty" yaml:"skills"`
	WorkHistory  []WorkExperience `json:"work_history,omitempty" yaml:"work_history"`
	ContactPhone string           `json:"contact_phone,omitempty" yaml:"contact_phone"`
	ContactEmail string           `json:"contact_email,omitempty" yaml:"contact_email"`
}

// Employer 雇主信息，可选
type Employer struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// GenerationContext 一次生成所需的完整输入。
// 由调用方构造并持有，工作流引擎只读取不修改。
type GenerationContext struct {
	Vacancy  Vacancy           `json:"vacancy" yaml:"vacancy"`
	Resume   Resume            `json:"resume" yaml:"resume"`
	Employer *Employer         `json:"employer,omitempty" yaml:"employer"`
	Rules    map[string]string `json:"rules,omitempty" yaml:"rules"` // 用户的写作规则，例如 max_len -> 800
}

// Clone 返回深拷贝，避免引擎保存的状态与调用方共享可变字段
func (c *GenerationContext) Clone() *GenerationContext {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Vacancy.KeySkills = append([]string(nil), c.Vacancy.KeySkills...)
	cp.Resume.Skills = append([]string(nil), c.Resume.Skills...)
	if c.Resume.WorkHistory != nil {
		cp.Resume.WorkHistory = make([]WorkExperience, len(c.Resume.WorkHistory))
		for i, exp := range c.Resume.WorkHistory {
			if exp.End != nil {
				end := *exp.End
				exp.End = &end
			}
			cp.Resume.WorkHistory[i] = exp
		}
	}
	if c.Employer != nil {
		emp := *c.Employer
		cp.Employer = &emp
	}
	if c.Rules != nil {
		cp.Rules = make(map[string]string, len(c.Rules))
		for k, v := range c.Rules {
			cp.Rules[k] = v
		}
	}
	return &cp
}

// WorkItemState 每个用户会话持久化的工作流状态。
// LastResponse 非空当且仅当该用户至少完成过一次成功的生成或修改。
type WorkItemState struct {
	UserID           string             `json:"user_id"`
	Context          *GenerationContext `json:"context,omitempty"`
	LastResponse     string             `json:"last_response,omitempty"`
	LastUserComments string             `json:"last_user_comments,omitempty"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// HasResponse 是否已有可供修改的回复
func (s WorkItemState) HasResponse() bool {
	return s.LastResponse != ""
}

// GenerationResult 一次生成或修改的输出，不由引擎持久化
type GenerationResult struct {
	ID          string    `json:"id"`
	VacancyRef  string    `json:"vacancy_ref"`
	ResumeRef   string    `json:"resume_ref"`
	VacancyURL  string    `json:"vacancy_url,omitempty"`
	MessageText string    `json:"message_text"`
	Quality     *bool     `json:"quality,omitempty"` // 预留给下游质量评分
	GeneratedAt time.Time `json:"generated_at"`
}
