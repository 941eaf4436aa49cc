package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-resty/resty/v2"
)

var (
	// 样式定义
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")) // 绿色

	stoppedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

type botStatus struct {
	Name     string `json:"name"`
	Platform string `json:"platform"`
	Persona  string `json:"persona"`
	Gender   string `json:"gender"`
	Running  bool   `json:"running"`
}

type directorCommand struct {
	ID        int64     `json:"ID"`
	Command   string    `json:"Command"`
	CreatedAt time.Time `json:"CreatedAt"`
}

// model 是应用程序的状态
type model struct {
	client *resty.Client

	bots     []botStatus
	commands []directorCommand

	// 导演指令输入
	inputting bool
	input     string
	notice    string

	connected bool
	err       error
}

// tickMsg 定时器消息
type tickMsg time.Time

// statusMsg 状态刷新结果
type statusMsg struct {
	bots     []botStatus
	commands []directorCommand
	err      error
}

// notifySentMsg 导演指令发送结果
type notifySentMsg struct{ err error }

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchStatusCmd(client *resty.Client) tea.Cmd {
	return func() tea.Msg {
		var status struct {
			Bots []botStatus `json:"bots"`
		}
		resp, err := client.R().Get("/api/status")
		if err != nil {
			return statusMsg{err: err}
		}
		if err := json.Unmarshal(resp.Body(), &status); err != nil {
			return statusMsg{err: err}
		}

		var history struct {
			Commands []directorCommand `json:"commands"`
		}
		if resp, err := client.R().Get("/api/director"); err == nil {
			_ = json.Unmarshal(resp.Body(), &history)
		}

		return statusMsg{bots: status.Bots, commands: history.Commands}
	}
}

func sendNotifyCmd(client *resty.Client, message string) tea.Cmd {
	return func() tea.Msg {
		_, err := client.R().
			SetHeader("Content-Type", "application/json").
			SetBody(map[string]string{"message": message}).
			Post("/api/director")
		return notifySentMsg{err: err}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), fetchStatusCmd(m.client))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.inputting {
			switch msg.String() {
			case "enter":
				text := strings.TrimSpace(m.input)
				m.inputting = false
				m.input = ""
				if text != "" {
					return m, sendNotifyCmd(m.client, text)
				}
				return m, nil
			case "esc":
				m.inputting = false
				m.input = ""
				return m, nil
			case "backspace":
				if len(m.input) > 0 {
					m.input = m.input[:len(m.input)-1]
				}
				return m, nil
			default:
				switch msg.Type {
				case tea.KeyRunes:
					m.input += string(msg.Runes)
				case tea.KeySpace:
					m.input += " "
				}
				return m, nil
			}
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "n":
			m.inputting = true
			m.input = ""
			m.notice = ""
			return m, nil
		case "r":
			return m, fetchStatusCmd(m.client)
		}

	case tickMsg:
		return m, tea.Batch(tickCmd(), fetchStatusCmd(m.client))

	case statusMsg:
		if msg.err != nil {
			m.connected = false
			m.err = msg.err
			return m, nil
		}
		m.connected = true
		m.err = nil
		m.bots = msg.bots
		m.commands = msg.commands
		return m, nil

	case notifySentMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("发送失败: %v", msg.err)
		} else {
			m.notice = "导演指令已发送"
		}
		return m, fetchStatusCmd(m.client)
	}

	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("直播机群监控") + "\n\n")

	if !m.connected {
		b.WriteString(stoppedStyle.Render("✗ 无法连接控制面"))
		if m.err != nil {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  (%v)", m.err)))
		}
		b.WriteString("\n\n" + dimStyle.Render("q 退出  r 重试") + "\n")
		return b.String()
	}

	var rows []string
	rows = append(rows, titleStyle.Render(fmt.Sprintf("%-10s %-10s %-24s %-8s %s", "BOT", "平台", "人设", "性别", "状态")))
	for _, bot := range m.bots {
		state := stoppedStyle.Render("● 离线")
		if bot.Running {
			state = runningStyle.Render("● 在线")
		}
		rows = append(rows, fmt.Sprintf("%-10s %-10s %-24s %-8s %s",
			bot.Name, bot.Platform, bot.Persona, bot.Gender, state))
	}
	b.WriteString(borderStyle.Render(strings.Join(rows, "\n")) + "\n\n")

	if len(m.commands) > 0 {
		var cmds []string
		cmds = append(cmds, titleStyle.Render("最近导演指令"))
		for _, c := range m.commands {
			cmds = append(cmds, fmt.Sprintf("%s  %s",
				dimStyle.Render(c.CreatedAt.Local().Format("15:04:05")), c.Command))
		}
		b.WriteString(borderStyle.Render(strings.Join(cmds, "\n")) + "\n\n")
	}

	if m.inputting {
		b.WriteString(titleStyle.Render("导演指令> ") + m.input + "▌\n")
		b.WriteString(dimStyle.Render("enter 发送  esc 取消") + "\n")
	} else {
		if m.notice != "" {
			b.WriteString(m.notice + "\n")
		}
		b.WriteString(dimStyle.Render("n 发指令  r 刷新  q 退出") + "\n")
	}

	return b.String()
}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8787", "控制面地址")
	flag.Parse()

	client := resty.New().
		SetBaseURL(strings.TrimRight(*addr, "/")).
		SetTimeout(5 * time.Second)

	p := tea.NewProgram(model{client: client})
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI 运行失败: %v\n", err)
		os.Exit(1)
	}
}
