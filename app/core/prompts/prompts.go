package prompts

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Library holds named prompt templates. Templates use {slot}
// placeholders that Render substitutes verbatim; unknown placeholders
// are left untouched.
type Library struct {
	mu        sync.RWMutex
	templates map[string]string
}

// Load builds the library from the embedded defaults, then overrides
// individual templates from the JSON document at path when it exists.
func Load(path string) (*Library, error) {
	templates := make(map[string]string, len(defaults))
	for name, tpl := range defaults {
		templates[name] = tpl
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Library{templates: templates}, nil
		}
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	var overrides map[string]string
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	for name, tpl := range overrides {
		if strings.TrimSpace(tpl) != "" {
			templates[name] = tpl
		}
	}
	return &Library{templates: templates}, nil
}

func (l *Library) Render(name string, slots map[string]string) (string, error) {
	l.mu.RLock()
	tpl, ok := l.templates[name]
	l.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown prompt template: %s", name)
	}
	if len(slots) == 0 {
		return tpl, nil
	}
	pairs := make([]string, 0, len(slots)*2)
	for key, value := range slots {
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(tpl), nil
}

func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.templates))
	for name := range l.templates {
		names = append(names, name)
	}
	return names
}

var defaults = map[string]string{
	"meeting_summary": `다음은 익명화된 회의록입니다. 발언자는 {Speaker A} 형태의 가명으로 표기되어 있으며, 출력에서도 가명을 그대로 유지해야 합니다.

회의록:
{transcript}

위 회의를 요약해 아래 스키마의 JSON만 출력하세요.
{"title": "회의 제목", "date": "YYYY-MM-DD", "summary": "전체 요약", "agenda": [{"topic": "주제", "content": "논의 내용"}], "decisions": ["결정 사항"]}`,

	"extract_tasks": `다음은 익명화된 회의록과 현재 프로젝트 상태입니다. 발언자 가명({Speaker A} 형태)은 출력에서도 그대로 유지하세요.

프로젝트 구조:
{projects}

진행 중인 할일:
{active_tasks}

서버 역할:
{roles}

멤버:
{members}

회의록:
{transcript}

회의에서 도출된 새 할일과 기존 할일의 상태 변경을 아래 스키마의 JSON만으로 출력하세요.
{"new_tasks": [{"content": "할일 내용", "project": "프로젝트명", "is_new_project": false, "suggested_parent": "", "assignee_hint": ""}], "updates": [{"task_id": 0, "status": "TODO|IN_PROGRESS|DONE", "reason": "근거"}]}
존재하지 않는 프로젝트를 제안할 때는 is_new_project를 true로, 적절한 상위 프로젝트가 있으면 suggested_parent에 적으세요.`,

	"assistant_analysis": `당신은 프로젝트 관리 비서입니다. 사용자의 요청을 분석해 수행할 행동을 결정하세요.

진행 중인 할일:
{active_tasks}

프로젝트 목록:
{projects}

참고 기록:
{memories}

최근 대화:
{history}

사용자 요청:
{request}

아래 중 하나의 action을 골라 JSON만 출력하세요.
none | create_project | set_parent | add_task | complete_task | assign_task | status | start_meeting | stop_meeting | add_repo | remove_repo | ask_user
{"action": "...", "comment": "사용자에게 보여줄 말", "question": "ask_user일 때 질문", "name": "", "parent": "", "project": "", "content": "", "task_id": 0, "assignee": "", "repo": ""}
단순한 대화에는 action을 none으로 하고 comment에 답하세요. 정보가 부족하면 ask_user를 사용하세요.`,

	"gatekeeper": `다음 메시지에 프로젝트 관리 비서가 응답할 가치가 있는지 판단하세요. 인사, 농담, 프로젝트 관련 대화는 YES, 무의미한 문자열이나 스팸은 NO입니다. YES 또는 NO만 출력하세요.

메시지:
{message}`,

	"code_review": `다음 변경 사항을 리뷰하고 아래 스키마의 JSON만 출력하세요.

제목: {title}

변경 내용:
{diff}

{"summary": "요약", "issues": [{"type": "bug|style|perf", "severity": "low|medium|high", "file": "경로", "description": "설명"}], "suggestions": ["개선 제안"], "score": 0}`,
}
