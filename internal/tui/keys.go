package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit     key.Binding
	Submit   key.Binding
	NextView key.Binding
	Save     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Bottom   key.Binding
	Clear    key.Binding
	Help     key.Binding
}

var keys = keyMap{
	Quit:     key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	Submit:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send / run command")),
	NextView: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next view")),
	Save:     key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "save file")),
	PageUp:   key.NewBinding(key.WithKeys("pgup", "ctrl+u"), key.WithHelp("pgup", "scroll up")),
	PageDown: key.NewBinding(key.WithKeys("pgdown", "ctrl+d"), key.WithHelp("pgdn", "scroll down")),
	Bottom:   key.NewBinding(key.WithKeys("end", "ctrl+g"), key.WithHelp("end", "follow")),
	Clear:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "clear input")),
	Help:     key.NewBinding(key.WithKeys("f1"), key.WithHelp("f1", "help")),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.NextView, k.Save, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Submit, k.Clear, k.NextView, k.Save},
		{k.PageUp, k.PageDown, k.Bottom, k.Help, k.Quit},
	}
}

// commandHelp 输入框支持的命令, 显示在完整帮助下方。
const commandHelp = "/open <name>  /open! <name>  /close  /view preview|layouts|code [slide]  " +
	"/select [slug] <n>  /layout <name>  /file <path>  /save  /discard"
