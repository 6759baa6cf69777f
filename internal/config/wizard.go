package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/harun/ragent/pkg/backend"
)

// Wizard asks for a new backend descriptor on the terminal.
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a new configuration wizard
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (backend.Descriptor, error) {
	fmt.Fprintln(w.out, "=== New backend config ===")
	fmt.Fprintln(w.out)

	validator := NewValidator()
	var desc backend.Descriptor

	fmt.Fprintln(w.out, "Kinds: openai, anthropic, gemini, compat, lmstudio, ollama, openrouter")
	for {
		kind, err := w.ask("Kind", "lmstudio")
		if err != nil {
			return desc, err
		}
		norm := backend.Descriptor{Kind: kind}.Normalize()
		switch norm.Kind {
		case backend.KindOpenAI, backend.KindAnthropic, backend.KindGemini, backend.KindCompat:
			desc.Kind = kind
			desc.Endpoint = norm.Endpoint
		default:
			fmt.Fprintf(w.out, "Error: unknown kind %q\n", kind)
			continue
		}
		break
	}

	for {
		model, err := w.ask("Model", "")
		if err != nil {
			return desc, err
		}
		if model == "" {
			fmt.Fprintln(w.out, "Error: model is required")
			continue
		}
		desc.Model = model
		break
	}

	name, err := w.ask("Name", SanitizeName(desc.Kind+"_"+desc.Model))
	if err != nil {
		return desc, err
	}
	desc.Name = name

	endpoint, err := w.ask("Endpoint", desc.Endpoint)
	if err != nil {
		return desc, err
	}
	desc.Endpoint = endpoint

	norm := desc.Normalize()
	if norm.Hosted() {
		envName, err := w.ask("API key environment variable", defaultKeyEnv(desc))
		if err != nil {
			return desc, err
		}
		desc.APIKeyEnv = envName
	}

	image, err := w.ask("Accepts images? (y/n)", "n")
	if err != nil {
		return desc, err
	}
	desc.SupportsImage = strings.EqualFold(image, "y")

	stream, err := w.ask("Stream responses? (y/n)", "y")
	if err != nil {
		return desc, err
	}
	desc.Stream = strings.EqualFold(stream, "y")

	for _, err := range validator.ValidateDescriptor(desc) {
		fmt.Fprintf(w.out, "Warning: %v\n", err)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return desc, nil
}

func defaultKeyEnv(desc backend.Descriptor) string {
	raw := strings.ToLower(desc.Kind)
	if names, ok := providerKeyEnv[raw]; ok {
		return names[0]
	}
	if names, ok := providerKeyEnv[desc.Normalize().Kind]; ok {
		return names[0]
	}
	return ""
}

func (w *Wizard) ask(prompt, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}
	line, err := w.readLine()
	if err != nil {
		return "", err
	}
	if line == "" {
		return def, nil
	}
	return line, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
