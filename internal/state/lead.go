package state

import (
	"bytes"
	"encoding/json"
	"strings"
)

// TargetLeadCount 是一次运行开始时创建的线索数量。
const TargetLeadCount = 5

// Lead 是一条在运行过程中逐步补全的潜在客户记录。空字符串表示未填写。
type Lead struct {
	FullName      string `json:"full_name"`
	Designation   string `json:"designation"`
	EmployeeCount string `json:"employee_count"`
	Email         string `json:"email"`
	LinkedInURL   string `json:"linkedin_url"`
	MobileNumber  string `json:"mobile_number"`

	CompanyName    string `json:"company_name"`
	CompanyWebsite string `json:"company_website"`

	CompanyDetails string `json:"company_details"`
	CompanyType    string `json:"company_type"`

	EmailSubject string `json:"personalized_email_subject"`
	EmailBody    string `json:"personalized_email_body"`

	WebsiteInaccessible bool `json:"website_inaccessible"`
	SecurityError       bool `json:"security_error"`
}

// NewLeadList 创建 n 条空记录。
func NewLeadList(n int) []Lead {
	if n < 0 {
		n = 0
	}
	return make([]Lead, n)
}

// Enriched 表示调研节点已经写入公司摘要。
func (l Lead) Enriched() bool {
	return strings.TrimSpace(l.CompanyDetails) != ""
}

// Reachable 表示调研阶段没有标记网站不可访问或安全拦截。
func (l Lead) Reachable() bool {
	return !l.WebsiteInaccessible && !l.SecurityError
}

// EligibleForOutreach 判断是否应为该记录撰写外联邮件。
func (l Lead) EligibleForOutreach() bool {
	return l.Enriched() && l.Reachable()
}

// HasIdentity 判断线索来源节点负责的身份字段是否已全部填写。
func (l Lead) HasIdentity() bool {
	for _, v := range []string{l.FullName, l.Designation, l.Email, l.CompanyName, l.CompanyWebsite} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// leadAliases 把模型常见的键名归一到字段。键先转小写，空格与连字符替换为下划线。
var leadAliases = map[string]func(*Lead) *string{
	"full_name":                  func(l *Lead) *string { return &l.FullName },
	"name":                       func(l *Lead) *string { return &l.FullName },
	"designation":                func(l *Lead) *string { return &l.Designation },
	"title":                      func(l *Lead) *string { return &l.Designation },
	"job_title":                  func(l *Lead) *string { return &l.Designation },
	"employee_count":             func(l *Lead) *string { return &l.EmployeeCount },
	"employees":                  func(l *Lead) *string { return &l.EmployeeCount },
	"email":                      func(l *Lead) *string { return &l.Email },
	"linkedin_url":               func(l *Lead) *string { return &l.LinkedInURL },
	"linkedin_link":              func(l *Lead) *string { return &l.LinkedInURL },
	"linkedin":                   func(l *Lead) *string { return &l.LinkedInURL },
	"mobile_number":              func(l *Lead) *string { return &l.MobileNumber },
	"mobile":                     func(l *Lead) *string { return &l.MobileNumber },
	"phone":                      func(l *Lead) *string { return &l.MobileNumber },
	"company_name":               func(l *Lead) *string { return &l.CompanyName },
	"company":                    func(l *Lead) *string { return &l.CompanyName },
	"company_website":            func(l *Lead) *string { return &l.CompanyWebsite },
	"company_website_link":       func(l *Lead) *string { return &l.CompanyWebsite },
	"website":                    func(l *Lead) *string { return &l.CompanyWebsite },
	"company_details":            func(l *Lead) *string { return &l.CompanyDetails },
	"company_type":               func(l *Lead) *string { return &l.CompanyType },
	"personalized_email_subject": func(l *Lead) *string { return &l.EmailSubject },
	"email_subject":              func(l *Lead) *string { return &l.EmailSubject },
	"personalized_email_body":    func(l *Lead) *string { return &l.EmailBody },
	"email_body":                 func(l *Lead) *string { return &l.EmailBody },
}

var canonicalLeadKeys = map[string]bool{
	"full_name": true, "designation": true, "employee_count": true, "email": true,
	"linkedin_url": true, "mobile_number": true, "company_name": true, "company_website": true,
	"company_details": true, "company_type": true,
	"personalized_email_subject": true, "personalized_email_body": true,
}

var leadFlags = map[string]func(*Lead) *bool{
	"website_inaccessible": func(l *Lead) *bool { return &l.WebsiteInaccessible },
	"security_error":       func(l *Lead) *bool { return &l.SecurityError },
}

// UnmarshalJSON 宽松地解析模型输出：识别别名键，把非字符串标量转成文本。
func (l *Lead) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Lead
	for key, value := range raw {
		norm := normalizeKey(key)
		if field, ok := leadFlags[norm]; ok {
			*field(&out) = coerceBool(value)
			continue
		}
		if field, ok := leadAliases[norm]; ok {
			text := coerceText(value)
			if text == "" {
				continue
			}
			// 规范键总是生效，别名只填补空字段。
			if target := field(&out); canonicalLeadKeys[norm] || *target == "" {
				*target = text
			}
		}
	}
	*l = out
	return nil
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(key)
}

func coerceText(value json.RawMessage) string {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err == nil {
		return compact.String()
	}
	return string(trimmed)
}

func coerceBool(value json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(value, &b); err == nil {
		return b
	}
	switch strings.ToLower(strings.TrimSpace(coerceText(value))) {
	case "true", "yes", "1":
		return true
	}
	return false
}
