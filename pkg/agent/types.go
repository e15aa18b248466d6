package agent

import "encoding/json"

// Message sender types as reported by the agent.
const (
	SenderTypeFriend = "friend"
	SenderTypeSelf   = "self"
	SenderTypeSystem = "system"
	SenderTypeTime   = "time"
)

// AgentMessage is one raw message as returned by the agent API.
type AgentMessage struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	MType        string `json:"mtype"`
	Sender       string `json:"sender"`
	SenderRemark string `json:"sender_remark"`
	Content      string `json:"content"`
	FilePath     string `json:"file_path"`
	TimestampMS  int64  `json:"timestamp_ms"`
}

// FromFriend reports whether the message came from a chat peer rather than
// ourselves or the client UI.
func (m *AgentMessage) FromFriend() bool {
	return m.Type == SenderTypeFriend
}

// ListenOptions selects which attachment types the agent saves locally when
// harvesting a chat.
type ListenOptions struct {
	SavePic   bool `json:"savepic"`
	SaveFile  bool `json:"savefile"`
	SaveVoice bool `json:"savevoice"`
}

// HealthInfo is the agent's health report.
type HealthInfo struct {
	Status          string `json:"status"`
	WeChatConnected bool   `json:"wechat_connected"`
	UptimeS         int64  `json:"uptime_s"`
}

// ChatInfo describes one chat window.
type ChatInfo struct {
	Name        string `json:"name"`
	ChatType    string `json:"chat_type"`
	MemberCount int    `json:"member_count"`
}

// envelope is the agent API response wrapper. Code 0 is success; 1xxx auth
// failures, 2xxx not-initialized, 3xxx operation failures.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}
