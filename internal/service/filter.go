package service

import (
	"regexp"
	"sort"
	"strings"
)

// TextFilter 大小写不敏感地把违禁词替换为掩码
type TextFilter struct {
	re   *regexp.Regexp
	mask string
}

func NewTextFilter(terms []string, mask string) *TextFilter {
	var quoted []string
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			quoted = append(quoted, regexp.QuoteMeta(t))
		}
	}
	f := &TextFilter{mask: mask}
	if len(quoted) == 0 {
		return f
	}
	// 长词优先匹配，"cursed" 不会只替换掉 "curse"
	sort.Slice(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
	f.re = regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)
	return f
}

func (f *TextFilter) Apply(s string) string {
	if f.re == nil {
		return s
	}
	return f.re.ReplaceAllLiteralString(s, f.mask)
}

func (f *TextFilter) Contains(s string) bool {
	return f.re != nil && f.re.MatchString(s)
}
