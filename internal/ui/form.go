package ui

import (
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	msgMissingCredentials = "Email and password are required"
	msgMissingUsername    = "Username is required"
)

const (
	fieldUsername = iota
	fieldEmail
	fieldPassword
)

// loginForm is the login/signup form. Username is only shown in signup mode.
type loginForm struct {
	signup bool
	inputs []textinput.Model
	focus  int
}

func newLoginForm() loginForm {
	inputs := make([]textinput.Model, 3)
	for i := range inputs {
		in := textinput.New()
		in.CharLimit = 128
		in.Width = 32
		switch i {
		case fieldUsername:
			in.Prompt = "Username: "
			in.Placeholder = "farmer"
		case fieldEmail:
			in.Prompt = "Email:    "
			in.Placeholder = "you@example.com"
		case fieldPassword:
			in.Prompt = "Password: "
			in.EchoMode = textinput.EchoPassword
			in.EchoCharacter = '•'
		}
		inputs[i] = in
	}

	f := loginForm{inputs: inputs}
	f.focusField(fieldEmail)
	return f
}

func (f *loginForm) fields() []int {
	if f.signup {
		return []int{fieldUsername, fieldEmail, fieldPassword}
	}
	return []int{fieldEmail, fieldPassword}
}

func (f *loginForm) focusField(field int) tea.Cmd {
	f.focus = field
	for i := range f.inputs {
		f.inputs[i].Blur()
	}
	return f.inputs[field].Focus()
}

// move shifts focus among the visible fields, wrapping around.
func (f *loginForm) move(delta int) tea.Cmd {
	fields := f.fields()
	i := max(slices.Index(fields, f.focus), 0)
	n := len(fields)
	return f.focusField(fields[((i+delta)%n+n)%n])
}

func (f *loginForm) toggleMode() tea.Cmd {
	f.signup = !f.signup
	f.inputs[fieldPassword].Reset()
	if f.signup {
		return f.focusField(fieldUsername)
	}
	return f.focusField(fieldEmail)
}

// update forwards msg to the focused input.
func (f *loginForm) update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return cmd
}

func (f *loginForm) values() (username, email, password string) {
	return strings.TrimSpace(f.inputs[fieldUsername].Value()),
		strings.TrimSpace(f.inputs[fieldEmail].Value()),
		f.inputs[fieldPassword].Value()
}

// problem returns the message for a form that cannot be submitted, or "" when it can.
func (f *loginForm) problem() string {
	username, email, password := f.values()
	if email == "" || password == "" {
		return msgMissingCredentials
	}
	if f.signup && username == "" {
		return msgMissingUsername
	}
	return ""
}

// afterSignup switches to login mode keeping the email, so the new account can sign in straight away.
func (f *loginForm) afterSignup() tea.Cmd {
	f.signup = false
	f.inputs[fieldUsername].Reset()
	f.inputs[fieldPassword].Reset()
	return f.focusField(fieldPassword)
}

// clearPassword drops the password, keeping the rest of the form.
func (f *loginForm) clearPassword() {
	f.inputs[fieldPassword].Reset()
}

func (f *loginForm) view() string {
	title := "Login"
	if f.signup {
		title = "Create an account"
	}

	var b strings.Builder
	b.WriteString(styles.title.Render(title))
	b.WriteString("\n")
	for _, field := range f.fields() {
		b.WriteString(f.inputs[field].View())
		b.WriteString("\n")
	}
	return b.String()
}
