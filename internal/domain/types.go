package domain

import "time"

// Gender 取值："M"、"F" 或 "random"
// "random" 表示每次生成回复时随机解析为 M 或 F
const (
	GenderMale   = "M"
	GenderFemale = "F"
	GenderRandom = "random"
)

// BotAccount 一个机器人在某平台上的账号身份
// (Name, Platform) 唯一
type BotAccount struct {
	ID        int64
	Name      string
	Platform  string
	Username  string
	Password  string
	SignupURL string
	StreamKey string // 完整推流地址（rtmp 模板 + key）
	Persona   string
	Gender    string
	CreatedAt time.Time
}

// InteractionLog 一次完整交互周期的记录（追加写）
type InteractionLog struct {
	BotName   string
	Gender    string
	Platform  string
	Input     string
	Response  string
	CreatedAt time.Time
}

// DirectorCommand 导演指令（追加写审计日志）
// Applied 预留给将来的一次性消费语义，当前始终为 false：
// 管线每个周期都重新读取"最近一条"指令
type DirectorCommand struct {
	ID        int64
	Command   string
	Applied   bool
	CreatedAt time.Time
}

// BotStatus 机器人运行状态快照
type BotStatus struct {
	Name     string `json:"name"`
	Platform string `json:"platform"`
	Persona  string `json:"persona"`
	Gender   string `json:"gender"`
	Running  bool   `json:"running"`
}
