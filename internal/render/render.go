// Package render writes the run header and the model response to the terminal.
// The response goes to Out; everything else goes to Err.
package render

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"
	"golang.org/x/time/rate"
)

// Options configures a Renderer.
type Options struct {
	Out io.Writer
	Err io.Writer
	// OutTTY enables word wrapping of buffered responses.
	OutTTY bool
	// TypewriterCPS paces response output in characters per second. Zero disables pacing.
	TypewriterCPS int
	WrapWidth     int
}

type styles struct {
	label   lipgloss.Style
	value   lipgloss.Style
	number  lipgloss.Style
	dim     lipgloss.Style
	warn    lipgloss.Style
	err     lipgloss.Style
	session lipgloss.Style
	banner  lipgloss.Style
	cell    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		label:   r.NewStyle().Foreground(lipgloss.Color("33")).Bold(true),
		value:   r.NewStyle().Foreground(lipgloss.Color("178")),
		number:  r.NewStyle().Foreground(lipgloss.Color("86")).Bold(true),
		dim:     r.NewStyle().Foreground(lipgloss.Color("240")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("214")),
		err:     r.NewStyle().Foreground(lipgloss.Color("196")),
		session: r.NewStyle().Foreground(lipgloss.Color("82")).Bold(true),
		banner:  r.NewStyle().Foreground(lipgloss.Color("205")),
		cell:    r.NewStyle().PaddingRight(2),
	}
}

// Renderer implements the response sink of a run.
type Renderer struct {
	ctx     context.Context
	out     io.Writer
	errOut  io.Writer
	styles  styles
	limiter *rate.Limiter
	wrap    int

	mu          sync.Mutex
	incremental bool
	wrote       bool
	lastNewline bool
}

// New returns a Renderer. ctx bounds typewriter pacing.
func New(ctx context.Context, opts Options) *Renderer {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Err == nil {
		opts.Err = io.Discard
	}

	r := &Renderer{
		ctx:    ctx,
		out:    opts.Out,
		errOut: opts.Err,
		styles: newStyles(lipgloss.NewRenderer(opts.Err)),
	}
	if opts.TypewriterCPS > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.TypewriterCPS), 1)
	}
	if opts.OutTTY && opts.WrapWidth > 0 {
		r.wrap = opts.WrapWidth
	}
	return r
}

// SetIncremental tells the renderer that chunks arrive piecewise. Wrapping
// only applies to whole responses.
func (r *Renderer) SetIncremental(incremental bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incremental = incremental
}

// WriteChunk writes response text to Out.
func (r *Renderer) WriteChunk(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if text == "" {
		return nil
	}
	if !r.incremental && r.wrap > 0 {
		text = ansi.Wordwrap(strings.TrimLeft(text, "\n"), r.wrap, "")
	}
	if err := r.write(text); err != nil {
		return err
	}
	r.wrote = true
	r.lastNewline = strings.HasSuffix(text, "\n")
	return nil
}

func (r *Renderer) write(text string) error {
	if r.limiter == nil {
		_, err := io.WriteString(r.out, text)
		return err
	}
	var buf [utf8.UTFMax]byte
	for _, c := range text {
		if err := r.limiter.Wait(r.ctx); err != nil {
			return err
		}
		n := utf8.EncodeRune(buf[:], c)
		if _, err := r.out.Write(buf[:n]); err != nil {
			return err
		}
	}
	return nil
}

// Finish terminates the response with a newline if it lacks one.
func (r *Renderer) Finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.wrote || r.lastNewline {
		return nil
	}
	r.lastNewline = true
	_, err := io.WriteString(r.out, "\n")
	return err
}

// Header describes a run before dispatch.
type Header struct {
	Task         string
	Config       string
	Image        string
	Session      string
	History      int
	ContextChars int
	ContextBytes int
	Truncated    bool
}

// Header prints the run summary to Err.
func (r *Renderer) Header(h Header) {
	s := r.styles
	var b strings.Builder

	b.WriteString("\n" + s.dim.Render("Running agent...") + "\n\n")
	fmt.Fprintf(&b, "%s %s\n", s.label.Render("Task:"), s.value.Render(h.Task))
	fmt.Fprintf(&b, "%s %s\n", s.label.Render("Config:"), s.value.Render(h.Config))

	if h.Image != "" {
		fmt.Fprintf(&b, "%s %s\n", s.label.Render("Image:"), s.value.Render(h.Image))
	} else {
		fmt.Fprintf(&b, "%s None\n", s.label.Render("Image:"))
	}

	switch {
	case h.Session == "":
		fmt.Fprintf(&b, "%s None\n", s.label.Render("Session:"))
	case h.History == 0:
		fmt.Fprintf(&b, "%s %s (new)\n", s.label.Render("Session:"), s.session.Render(h.Session))
	default:
		fmt.Fprintf(&b, "%s %s (%s prior exchanges)\n",
			s.label.Render("Session:"), s.session.Render(h.Session), s.number.Render(fmt.Sprint(h.History)))
	}

	switch {
	case h.ContextBytes == 0:
		fmt.Fprintf(&b, "%s None\n", s.label.Render("Context:"))
	case h.Truncated:
		fmt.Fprintf(&b, "%s %s chars %s\n", s.label.Render("Context:"),
			s.number.Render(fmt.Sprint(h.ContextChars)),
			s.warn.Render(fmt.Sprintf("(truncated to %d bytes)", h.ContextBytes)))
	default:
		fmt.Fprintf(&b, "%s %s chars\n", s.label.Render("Context:"), s.number.Render(fmt.Sprint(h.ContextChars)))
	}
	b.WriteString("\n")

	io.WriteString(r.errOut, b.String())
}

// Warn prints a warning line to Err.
func (r *Renderer) Warn(msg string) {
	fmt.Fprintln(r.errOut, r.styles.warn.Render("Warning: "+msg))
}

// Error prints an error line to Err.
func (r *Renderer) Error(err error) {
	fmt.Fprintln(r.errOut, r.styles.err.Render("Error: "+err.Error()))
}

// ToolCall prints a dim note about a tool the model used to Err.
func (r *Renderer) ToolCall(name string, args map[string]any, ok bool) {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	line := "tool: " + name
	for _, k := range keys {
		line += fmt.Sprintf(" %s=%v", k, args[k])
	}
	if !ok {
		line += " (failed)"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.errOut, r.styles.dim.Render(line))
}

// Plain prints an unstyled line to Err.
func (r *Renderer) Plain(format string, args ...any) {
	fmt.Fprintf(r.errOut, format+"\n", args...)
}

// Table prints rows under headers to w as aligned columns without borders.
func (r *Renderer) Table(w io.Writer, headers []string, rows [][]string) {
	s := r.styles
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(false).
		BorderColumn(false).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.label.PaddingRight(2)
			}
			return s.cell
		})
	fmt.Fprintln(w, t.Render())
}

const bannerArt = `
                                     ██
    ████▄    ▀▀█▄ ▄████ ▄█▀█▄ ████▄ ▀██▀▀
    ██ ▀▀   ▄█▀██ ██ ██ ██▄█▀ ██ ██  ██
    ██      ▀█▄██ ▀████ ▀█▄▄▄ ██ ██  ██
                     ██
                   ▀▀▀
`

// Banner prints the logo and inventory counts to w.
func (r *Renderer) Banner(w io.Writer, configs, sessions int) {
	s := r.styles
	fmt.Fprintln(w, s.banner.Render(bannerArt))
	fmt.Fprintf(w, " Total Configs: %s\n\n", s.number.Render(fmt.Sprint(configs)))
	fmt.Fprintf(w, " Total Sessions: %s\n\n", s.number.Render(fmt.Sprint(sessions)))
	fmt.Fprintf(w, " %s\n", s.dim.Render("Run 'ragent run --help' to get started."))
}
